package endpoint

import (
	"sync"

	"github.com/looplab/fsm"
)

// Liveness states and events, grounded on the teacher's shard FSM
// (server/coordinator/procedure/shard/fsm.go): named string states and
// events driving a looplab/fsm.FSM rather than a hand-rolled switch.
const (
	StateAlive             = "ALIVE"
	StateDead              = "DEAD"
	StatePermanentlyFailed = "PERMANENTLY_FAILED"

	EventPingOK          = "PingOK"
	EventPingFailed      = "PingFailed"
	EventPermanentFail   = "PermanentFail"
	EventProcessRestart  = "ProcessRestart"
)

// liveness wraps a looplab/fsm.FSM with a mutex, since fsm.FSM is not
// itself safe for concurrent use across the ping goroutine and readers
// calling Alive()/isPermanentlyFailed() from request-serving goroutines.
type liveness struct {
	mu sync.Mutex
	f  *fsm.FSM
}

func newLiveness() *liveness {
	f := fsm.NewFSM(
		StateAlive,
		fsm.Events{
			{Name: EventPingOK, Src: []string{StateAlive, StateDead}, Dst: StateAlive},
			{Name: EventPingFailed, Src: []string{StateAlive}, Dst: StateDead},
			{Name: EventPermanentFail, Src: []string{StateAlive, StateDead}, Dst: StatePermanentlyFailed},
			// A backend process-id change (spec.md §4.1: "flagged in
			// monitoring until a process-id change clears it") resets a
			// permanently-failed endpoint back to plain dead, letting the
			// normal ping loop re-establish liveness.
			{Name: EventProcessRestart, Src: []string{StatePermanentlyFailed}, Dst: StateDead},
		},
		fsm.Callbacks{},
	)
	return &liveness{f: f}
}

func (l *liveness) markAlive() {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.f.Event(EventPingOK)
}

func (l *liveness) markDead() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f.Current() == StateAlive {
		_ = l.f.Event(EventPingFailed)
	}
}

func (l *liveness) markPermanentlyFailed() {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.f.Event(EventPermanentFail)
}

func (l *liveness) resetOnProcessRestart() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f.Current() == StatePermanentlyFailed {
		_ = l.f.Event(EventProcessRestart)
	}
}

func (l *liveness) isAlive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Current() == StateAlive
}

func (l *liveness) isPermanentlyFailed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Current() == StatePermanentlyFailed
}

func (l *liveness) current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Current()
}
