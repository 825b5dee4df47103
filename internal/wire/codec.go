package wire

import (
	"encoding/binary"

	"github.com/shardroute/dbproxy/internal/doc"
)

// Value type tags for the on-wire Doc encoding. Distinct from
// internal/canon's hashing tags: this tag set must support exact,
// unambiguous decoding, not just collision-avoidance for a digest.
const (
	vtNull   byte = 0
	vtBool   byte = 1
	vtInt64  byte = 2
	vtFloat  byte = 3
	vtString byte = 4
	vtBinary byte = 5
	vtDoc    byte = 6
	vtArray  byte = 7
)

// EncodeDoc appends d's wire encoding to buf: a field count, then for each
// field a length-prefixed name, a type tag, and the tagged payload.
func EncodeDoc(buf []byte, d doc.Doc) []byte {
	fields := d.Fields()
	buf = appendUint32(buf, uint32(len(fields)))
	for _, f := range fields {
		buf = appendCString(buf, f.Name)
		buf = EncodeValue(buf, f.Value)
	}
	return buf
}

// EncodeValue appends a type tag and the value's payload to buf.
func EncodeValue(buf []byte, v doc.Value) []byte {
	switch val := v.(type) {
	case nil:
		return append(buf, vtNull)
	case bool:
		b := byte(0)
		if val {
			b = 1
		}
		return append(buf, vtBool, b)
	case int64:
		buf = append(buf, vtInt64)
		return appendUint64(buf, uint64(val))
	case int:
		buf = append(buf, vtInt64)
		return appendUint64(buf, uint64(int64(val)))
	case float64:
		buf = append(buf, vtFloat)
		return appendUint64(buf, floatBits(val))
	case string:
		buf = append(buf, vtString)
		return appendCString(buf, val)
	case []byte:
		buf = append(buf, vtBinary)
		buf = appendUint32(buf, uint32(len(val)))
		return append(buf, val...)
	case doc.Doc:
		buf = append(buf, vtDoc)
		return EncodeDoc(buf, val)
	case doc.Array:
		buf = append(buf, vtArray)
		buf = appendUint32(buf, uint32(len(val)))
		for _, e := range val {
			buf = EncodeValue(buf, e)
		}
		return buf
	default:
		return append(buf, vtNull)
	}
}

// DecodeDoc reads a Doc written by EncodeDoc from the front of buf,
// returning the remaining bytes.
func DecodeDoc(buf []byte) (doc.Doc, []byte, error) {
	n, buf, err := readUint32(buf)
	if err != nil {
		return doc.Doc{}, nil, err
	}
	fields := make([]doc.Field, 0, n)
	for i := uint32(0); i < n; i++ {
		name, rest, err := readCString(buf)
		if err != nil {
			return doc.Doc{}, nil, err
		}
		val, rest2, err := DecodeValue(rest)
		if err != nil {
			return doc.Doc{}, nil, err
		}
		fields = append(fields, doc.F(name, val))
		buf = rest2
	}
	return doc.New(fields...), buf, nil
}

// DecodeValue reads one tagged value from the front of buf.
func DecodeValue(buf []byte) (doc.Value, []byte, error) {
	if len(buf) < 1 {
		return nil, nil, ErrTruncated
	}
	tag, buf := buf[0], buf[1:]
	switch tag {
	case vtNull:
		return nil, buf, nil
	case vtBool:
		if len(buf) < 1 {
			return nil, nil, ErrTruncated
		}
		return buf[0] != 0, buf[1:], nil
	case vtInt64:
		n, rest, err := readUint64(buf)
		if err != nil {
			return nil, nil, err
		}
		return int64(n), rest, nil
	case vtFloat:
		n, rest, err := readUint64(buf)
		if err != nil {
			return nil, nil, err
		}
		return bitsToFloat(n), rest, nil
	case vtString:
		s, rest, err := readCString(buf)
		if err != nil {
			return nil, nil, err
		}
		return s, rest, nil
	case vtBinary:
		ln, rest, err := readUint32(buf)
		if err != nil {
			return nil, nil, err
		}
		if uint32(len(rest)) < ln {
			return nil, nil, ErrTruncated
		}
		out := make([]byte, ln)
		copy(out, rest[:ln])
		return out, rest[ln:], nil
	case vtDoc:
		return DecodeDoc(buf)
	case vtArray:
		ln, rest, err := readUint32(buf)
		if err != nil {
			return nil, nil, err
		}
		arr := make(doc.Array, 0, ln)
		for i := uint32(0); i < ln; i++ {
			v, next, err := DecodeValue(rest)
			if err != nil {
				return nil, nil, err
			}
			arr = append(arr, v)
			rest = next
		}
		return arr, rest, nil
	default:
		return nil, nil, ErrUnknownOpCode.WithCausef("unrecognised value tag:%d", tag)
	}
}

func appendUint32(buf []byte, n uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], n)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, n uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], n)
	return append(buf, tmp[:]...)
}

func appendCString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, []byte(s)...)
}

func readUint32(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, ErrTruncated
	}
	return binary.LittleEndian.Uint32(buf[:4]), buf[4:], nil
}

func readUint64(buf []byte) (uint64, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, ErrTruncated
	}
	return binary.LittleEndian.Uint64(buf[:8]), buf[8:], nil
}

func readCString(buf []byte) (string, []byte, error) {
	ln, rest, err := readUint32(buf)
	if err != nil {
		return "", nil, err
	}
	if uint32(len(rest)) < ln {
		return "", nil, ErrTruncated
	}
	return string(rest[:ln]), rest[ln:], nil
}
