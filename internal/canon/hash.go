// Package canon implements the canonical type-tagged byte encoding used by
// the router's hashed-sharding-key digest (spec §4.4 step 3), grounded on
// the teacher's murmur3-based member hasher
// (server/coordinator/node_picker.go).
package canon

import (
	"encoding/binary"
	"math"

	"github.com/spaolacci/murmur3"

	"github.com/shardroute/dbproxy/internal/doc"
)

// Type tags fix the byte prefix used before a value's canonical payload, so
// that values of different dynamic types never collide in the digest input.
const (
	tagNull   byte = 0x0a
	tagNumber byte = 0x01 // integers and floats collapse onto a single path
	tagString byte = 0x02
	tagBinary byte = 0x05
	tagBool   byte = 0x08
	tagDoc    byte = 0x03
	tagArray  byte = 0x04
)

// HashKey computes the canonical hashed-routing digest for a single
// sharding-key value: a type tag followed by the canonical bytes of the
// value, hashed with murmur3 (matching the teacher's use of murmur3 for
// stable partition assignment). NaN hashes as 0; out-of-range doubles
// saturate to the nearest representable int64 boundary before hashing, per
// spec §4.4.
func HashKey(v doc.Value) int64 {
	buf := appendCanonical(nil, v)
	sum := murmur3.Sum64(buf)
	return int64(sum)
}

func appendCanonical(buf []byte, v doc.Value) []byte {
	switch val := v.(type) {
	case nil:
		return append(buf, tagNull)
	case bool:
		b := byte(0)
		if val {
			b = 1
		}
		return append(buf, tagBool, b)
	case int64:
		buf = append(buf, tagNumber)
		return appendInt64(buf, val)
	case float64:
		buf = append(buf, tagNumber)
		return appendInt64(buf, floatToCanonicalInt(val))
	case string:
		buf = append(buf, tagString)
		return append(buf, []byte(val)...)
	case []byte:
		buf = append(buf, tagBinary)
		return append(buf, val...)
	case doc.Doc:
		buf = append(buf, tagDoc)
		for _, f := range val.Fields() {
			buf = append(buf, []byte(f.Name)...)
			buf = appendCanonical(buf, f.Value)
		}
		return buf
	case doc.Array:
		buf = append(buf, tagArray)
		for _, e := range val {
			buf = appendCanonical(buf, e)
		}
		return buf
	default:
		return buf
	}
}

func appendInt64(buf []byte, n int64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(n))
	return append(buf, tmp[:]...)
}

// floatToCanonicalInt collapses a float64 onto the same 64-bit path as
// integers use: NaN hashes as 0, and magnitudes beyond int64's range
// saturate to the nearest boundary rather than overflowing.
func floatToCanonicalInt(f float64) int64 {
	if math.IsNaN(f) {
		return 0
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	if f <= math.MinInt64 {
		return math.MinInt64
	}
	return int64(f)
}
