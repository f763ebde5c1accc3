// Package varint is a variable integer encoding that works in reverse compared
// to the stdlib binary Uvarint: the terminal byte of an encoding is the one
// with the 8th bit set. It is a base 128 encoding used for the headers of
// serialized nodes and manifests.
package varint

import (
	"io"

	"github.com/pkg/errors"

	"datom.lol/chk"
)

// ErrTruncated is returned when a buffer ends inside an encoding.
var ErrTruncated = errors.New("truncated varint")

// maxLen is the longest encoding of a uint64.
const maxLen = 10

// Encode writes v to w.
func Encode(w io.Writer, v uint64) (err error) {
	var b [maxLen]byte
	_, err = w.Write(Append(b[:0], v))
	return
}

// Append appends the encoding of v to dst.
func Append(dst []byte, v uint64) []byte {
	for {
		x := byte(v) & 127
		v >>= 7
		if v == 0 {
			return append(dst, x|128)
		}
		dst = append(dst, x)
	}
}

// Decode reads one value from r.
func Decode(r io.Reader) (v uint64, err error) {
	x := []byte{0}
	for i := uint64(0); i < maxLen; i++ {
		if _, err = io.ReadFull(r, x); chk.E(err) {
			return
		}
		v += uint64(x[0]&127) << (i * 7)
		if x[0] >= 128 {
			return
		}
	}
	err = errors.Wrap(ErrTruncated, "encoding too long")
	return
}

// Read decodes one value from the front of b and returns the rest.
func Read(b []byte) (v uint64, rest []byte, err error) {
	for i := 0; i < len(b) && i < maxLen; i++ {
		v += uint64(b[i]&127) << (uint(i) * 7)
		if b[i] >= 128 {
			return v, b[i+1:], nil
		}
	}
	err = ErrTruncated
	return
}

// Len is the size of the encoding of v.
func Len(v uint64) (n int) {
	for n = 1; v >= 128; n++ {
		v >>= 7
	}
	return
}
