package valuetag

import (
	"bytes"
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/pkg/errors"

	"datom.lol/ids"
)

// Spec is the serializer of one tag.
type Spec struct {
	Name string
	// Size is the fixed encoded width, -1 if variable.
	Size    int
	Encode  func(v any) ([]byte, error)
	Decode  func(b []byte) (any, error)
	Compare func(a, b []byte) int
}

// Specs is the serializer table, indexed by tag.
var Specs [count]Spec

func init() {
	Specs = [count]Spec{
		Null: {Name: "null", Size: 0, Encode: encodeNull, Decode: decodeNull,
			Compare: func(a, b []byte) int { return 0 }},
		UInt8:           unsignedSpec("u8", 1),
		UInt16:          unsignedSpec("u16", 2),
		UInt32:          unsignedSpec("u32", 4),
		UInt64:          unsignedSpec("u64", 8),
		Int16:           signedSpec("i16", 2),
		Int32:           signedSpec("i32", 4),
		Int64:           signedSpec("i64", 8),
		Float32:         float32Spec(),
		Float64:         float64Spec(),
		Ascii:           stringSpec("ascii", validAscii, compareBytes),
		Utf8:            stringSpec("utf8", utf8.Valid, compareBytes),
		Utf8Insensitive: stringSpec("utf8-ci", utf8.Valid, CompareInsensitive),
		Blob:            blobSpec("blob"),
		HashedBlob:      blobSpec("hashed-blob"),
		Reference: {Name: "ref", Size: 8, Encode: encodeReference, Decode: decodeReference,
			Compare: compareReference},
	}
	for t := Tuple2; t <= Tuple8; t++ {
		Specs[t] = tupleSpec(t)
	}
}

var compareBytes = bytes.Compare

func mismatch(tag string, v any) error {
	return errors.Wrapf(ErrTypeMismatch, "cannot encode %T as %s", v, tag)
}

func encodeNull(v any) (b []byte, err error) {
	switch v.(type) {
	case nil, struct{}:
		return []byte{}, nil
	}
	return nil, mismatch("null", v)
}

func decodeNull(b []byte) (v any, err error) { return nil, nil }

// integer reduces any Go integer (or integral float) to sign and magnitude.
func integer(v any) (neg bool, mag uint64, ok bool) {
	ok = true
	switch n := v.(type) {
	case int:
		neg, mag = n < 0, abs(int64(n))
	case int8:
		neg, mag = n < 0, abs(int64(n))
	case int16:
		neg, mag = n < 0, abs(int64(n))
	case int32:
		neg, mag = n < 0, abs(int64(n))
	case int64:
		neg, mag = n < 0, abs(n)
	case uint:
		mag = uint64(n)
	case uint8:
		mag = uint64(n)
	case uint16:
		mag = uint64(n)
	case uint32:
		mag = uint64(n)
	case uint64:
		mag = n
	case ids.EntityId:
		mag = uint64(n)
	case float32:
		return integer(float64(n))
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) ||
			n >= 1<<64 || n <= -(1<<63)-1 {
			return false, 0, false
		}
		if n < 0 {
			return true, uint64(-n), true
		}
		return false, uint64(n), true
	default:
		ok = false
	}
	return
}

func abs(n int64) uint64 {
	if n < 0 {
		return uint64(-(n + 1)) + 1
	}
	return uint64(n)
}

func putUint(b []byte, v uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(b, uint16(v))
	case 4:
		binary.BigEndian.PutUint32(b, uint32(v))
	case 8:
		binary.BigEndian.PutUint64(b, v)
	}
}

func getUint(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.BigEndian.Uint16(b))
	case 4:
		return uint64(binary.BigEndian.Uint32(b))
	case 8:
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func unsignedSpec(name string, size int) Spec {
	max := uint64(math.MaxUint64) >> (64 - 8*size)
	return Spec{
		Name: name,
		Size: size,
		Encode: func(v any) (b []byte, err error) {
			neg, mag, ok := integer(v)
			if !ok || (neg && mag != 0) || mag > max {
				return nil, mismatch(name, v)
			}
			b = make([]byte, size)
			putUint(b, mag)
			return
		},
		Decode: func(b []byte) (v any, err error) {
			u := getUint(b)
			switch size {
			case 1:
				return uint8(u), nil
			case 2:
				return uint16(u), nil
			case 4:
				return uint32(u), nil
			}
			return u, nil
		},
		Compare: compareBytes,
	}
}

func signedSpec(name string, size int) Spec {
	bits := uint(8 * size)
	sign := uint64(1) << (bits - 1)
	mask := uint64(math.MaxUint64) >> (64 - bits)
	return Spec{
		Name: name,
		Size: size,
		Encode: func(v any) (b []byte, err error) {
			neg, mag, ok := integer(v)
			if !ok || (neg && mag > sign) || (!neg && mag > sign-1) {
				return nil, mismatch(name, v)
			}
			var raw uint64
			if neg {
				raw = (^mag + 1) & mask
			} else {
				raw = mag
			}
			b = make([]byte, size)
			putUint(b, raw^sign)
			return
		},
		Decode: func(b []byte) (v any, err error) {
			raw := getUint(b) ^ sign
			switch size {
			case 2:
				return int16(uint16(raw)), nil
			case 4:
				return int32(uint32(raw)), nil
			}
			return int64(raw), nil
		},
		Compare: compareBytes,
	}
}

func toFloat(v any) (f float64, ok bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	neg, mag, isInt := integer(v)
	if !isInt {
		return
	}
	f = float64(mag)
	if neg {
		f = -f
	}
	return f, true
}

func float32Spec() Spec {
	return Spec{
		Name: "f32",
		Size: 4,
		Encode: func(v any) (b []byte, err error) {
			f, ok := toFloat(v)
			if !ok || (!math.IsInf(f, 0) && math.Abs(f) > math.MaxFloat32) {
				return nil, mismatch("f32", v)
			}
			bits := math.Float32bits(float32(f))
			if bits&(1<<31) != 0 {
				bits = ^bits
			} else {
				bits |= 1 << 31
			}
			b = make([]byte, 4)
			binary.BigEndian.PutUint32(b, bits)
			return
		},
		Decode: func(b []byte) (v any, err error) {
			bits := binary.BigEndian.Uint32(b)
			if bits&(1<<31) != 0 {
				bits &^= 1 << 31
			} else {
				bits = ^bits
			}
			return math.Float32frombits(bits), nil
		},
		Compare: compareBytes,
	}
}

func float64Spec() Spec {
	return Spec{
		Name: "f64",
		Size: 8,
		Encode: func(v any) (b []byte, err error) {
			f, ok := toFloat(v)
			if !ok {
				return nil, mismatch("f64", v)
			}
			bits := math.Float64bits(f)
			if bits&(1<<63) != 0 {
				bits = ^bits
			} else {
				bits |= 1 << 63
			}
			b = make([]byte, 8)
			binary.BigEndian.PutUint64(b, bits)
			return
		},
		Decode: func(b []byte) (v any, err error) {
			bits := binary.BigEndian.Uint64(b)
			if bits&(1<<63) != 0 {
				bits &^= 1 << 63
			} else {
				bits = ^bits
			}
			return math.Float64frombits(bits), nil
		},
		Compare: compareBytes,
	}
}

func validAscii(b []byte) bool {
	for _, c := range b {
		if c >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func stringSpec(name string, valid func([]byte) bool, cmp func(a, b []byte) int) Spec {
	return Spec{
		Name: name,
		Size: -1,
		Encode: func(v any) (b []byte, err error) {
			switch s := v.(type) {
			case string:
				b = []byte(s)
			case []byte:
				b = append([]byte{}, s...)
			default:
				return nil, mismatch(name, v)
			}
			if !valid(b) {
				return nil, errors.Wrapf(ErrTypeMismatch, "invalid %s text", name)
			}
			return
		},
		Decode: func(b []byte) (v any, err error) {
			if !valid(b) {
				return nil, errors.Wrapf(ErrTypeMismatch, "invalid %s text", name)
			}
			return string(b), nil
		},
		Compare: cmp,
	}
}

func blobSpec(name string) Spec {
	return Spec{
		Name: name,
		Size: -1,
		Encode: func(v any) (b []byte, err error) {
			switch s := v.(type) {
			case []byte:
				return append([]byte{}, s...), nil
			case string:
				return []byte(s), nil
			}
			return nil, mismatch(name, v)
		},
		Decode: func(b []byte) (v any, err error) {
			return append([]byte{}, b...), nil
		},
		Compare: compareBytes,
	}
}

func encodeReference(v any) (b []byte, err error) {
	var u uint64
	switch e := v.(type) {
	case ids.EntityId:
		u = uint64(e)
	case uint64:
		u = e
	default:
		return nil, mismatch("ref", v)
	}
	b = make([]byte, 8)
	binary.BigEndian.PutUint64(b, u)
	return
}

func decodeReference(b []byte) (v any, err error) {
	return ids.EntityId(binary.BigEndian.Uint64(b)), nil
}

// compareReference is the raw integer fast path used by VAET scans.
func compareReference(a, b []byte) int {
	if len(a) != 8 || len(b) != 8 {
		return compareBytes(a, b)
	}
	x, y := binary.BigEndian.Uint64(a), binary.BigEndian.Uint64(b)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}
