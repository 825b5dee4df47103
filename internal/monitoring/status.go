// Package monitoring implements spec.md §6's health-status vocabulary: a
// three-level severity (OK/WARNING/CRITICAL) that a shard's own liveness
// check and the cache's config-age check both contribute to, merged into
// the single verdict the /monitor HTTP endpoint reports.
package monitoring

// Level is the severity of a Status, ordered so the worse of two levels is
// always the greater value.
type Level int

const (
	OK Level = iota
	Warning
	Critical
)

func (l Level) String() string {
	switch l {
	case Warning:
		return "WARNING"
	case Critical:
		return "CRITICAL"
	default:
		return "OK"
	}
}

// Status is an accumulated verdict: the worst level seen so far, plus every
// diagnostic message that contributed to it.
type Status struct {
	level    Level
	messages []string
}

func OKStatus() Status { return Status{} }

func WarningStatus(msg string) Status { return Status{level: Warning, messages: []string{msg}} }

func CriticalStatus(msg string) Status { return Status{level: Critical, messages: []string{msg}} }

func (s Status) Level() Level { return s.level }

func (s Status) Messages() []string { return s.messages }

// Merge folds other into s, keeping the worse level and concatenating
// messages in the order merged.
func (s Status) Merge(other Status) Status {
	level := s.level
	if other.level > level {
		level = other.level
	}
	return Status{level: level, messages: append(append([]string{}, s.messages...), other.messages...)}
}
