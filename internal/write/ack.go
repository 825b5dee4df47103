package write

import (
	"fmt"
	"sync"

	"github.com/shardroute/dbproxy/internal/doc"
)

// ackCache implements spec.md §4.6's acknowledgement cache: the first
// Acknowledge call for a given write concern performs the remote fetch;
// later calls with an equivalent concern return the cached document
// instead of issuing a second getLastError round trip. "w" absent is
// treated as w:1; a concern that specifies wtimeout is never cached, since
// a repeated wait could legitimately time out differently.
type ackCache struct {
	mu     sync.Mutex
	key    string
	cached doc.Doc
	has    bool
}

func writeConcernKey(wc doc.Doc) (string, bool) {
	if _, hasTimeout := wc.Get("wtimeout"); hasTimeout {
		return "", false
	}
	w, ok := wc.Get("w")
	if !ok {
		w = int64(1)
	}
	j, _ := wc.Get("j")
	fsync, _ := wc.Get("fsync")
	return fmt.Sprintf("w=%v,j=%v,fsync=%v", w, j, fsync), true
}

func (c *ackCache) getOrCompute(wc doc.Doc, compute func() (doc.Doc, error)) (doc.Doc, error) {
	key, cacheable := writeConcernKey(wc)
	if cacheable {
		c.mu.Lock()
		if c.has && c.key == key {
			v := c.cached
			c.mu.Unlock()
			return v, nil
		}
		c.mu.Unlock()
	}

	v, err := compute()
	if err != nil {
		return doc.Doc{}, err
	}
	if cacheable {
		c.mu.Lock()
		c.key, c.cached, c.has = key, v, true
		c.mu.Unlock()
	}
	return v, nil
}

// mergeAcks implements spec.md §4.6's default acknowledgement merge: ok is
// 1 unless any child reported a non-null err, in which case it is 0 and
// the first err/code encountered wins; n is summed; updatedExisting and
// wtimeout are true if any child set them; upserted is the first child
// that set it; waited and wtime take the maximum across children.
func mergeAcks(acks []doc.Doc) doc.Doc {
	if len(acks) == 0 {
		return doc.Doc{}
	}
	if len(acks) == 1 {
		return acks[0]
	}

	var (
		n                       int64
		hasErr                  bool
		firstErr, firstErrCode  doc.Value
		updatedExisting         bool
		upserted                doc.Value
		hasUpserted             bool
		wtimeout                bool
		waited, wtime           int64
	)

	for _, a := range acks {
		if v, ok := a.Get("n"); ok {
			if nn, ok2 := v.(int64); ok2 {
				n += nn
			}
		}
		if v, ok := a.Get("err"); ok && v != nil && !hasErr {
			hasErr = true
			firstErr = v
			if c, ok2 := a.Get("code"); ok2 {
				firstErrCode = c
			}
		}
		if v, ok := a.Get("updatedExisting"); ok {
			if b, ok2 := v.(bool); ok2 && b {
				updatedExisting = true
			}
		}
		if !hasUpserted {
			if v, ok := a.Get("upserted"); ok {
				upserted, hasUpserted = v, true
			}
		}
		if v, ok := a.Get("wtimeout"); ok {
			if b, ok2 := v.(bool); ok2 && b {
				wtimeout = true
			}
		}
		if v, ok := a.Get("waited"); ok {
			if x, ok2 := v.(int64); ok2 && x > waited {
				waited = x
			}
		}
		if v, ok := a.Get("wtime"); ok {
			if x, ok2 := v.(int64); ok2 && x > wtime {
				wtime = x
			}
		}
	}

	fields := []doc.Field{doc.F("n", n)}
	if hasErr {
		fields = append([]doc.Field{doc.F("ok", int64(0))}, fields...)
		fields = append(fields, doc.F("err", firstErr))
		if firstErrCode != nil {
			fields = append(fields, doc.F("code", firstErrCode))
		}
	} else {
		fields = append([]doc.Field{doc.F("ok", int64(1))}, fields...)
		fields = append(fields, doc.F("err", nil))
	}
	if updatedExisting {
		fields = append(fields, doc.F("updatedExisting", true))
	}
	if hasUpserted {
		fields = append(fields, doc.F("upserted", upserted))
	}
	if wtimeout {
		fields = append(fields, doc.F("wtimeout", true))
	}
	if waited != 0 {
		fields = append(fields, doc.F("waited", waited))
	}
	if wtime != 0 {
		fields = append(fields, doc.F("wtime", wtime))
	}
	return doc.New(fields...)
}
