// Package hex encodes blob values and digests for display, using the SIMD
// encoder of xhex for the append forms.
package hex

import (
	"encoding/hex"

	"github.com/templexxx/xhex"

	"datom.lol/chk"
)

type B = []byte

var Enc = hex.EncodeToString
var Dec = hex.DecodeString

// EncAppend appends the hex form of src to dst.
func EncAppend(dst, src B) (b B) {
	l := len(dst)
	dst = append(dst, make(B, len(src)*2)...)
	xhex.Encode(dst[l:], src)
	return dst
}

// DecAppend appends the bytes encoded in src to dst.
func DecAppend(dst, src B) (b B, err error) {
	l := len(dst)
	b = append(dst, make(B, len(src)/2)...)
	if err = xhex.Decode(b[l:], src); chk.E(err) {
		return
	}
	return
}

// Short is the hex form of the first n bytes of src, for digests in log
// lines.
func Short(src B, n int) string {
	if len(src) > n {
		src = src[:n]
	}
	return string(EncAppend(nil, src))
}
