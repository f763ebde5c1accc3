package valuetag

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// CompareInsensitive orders two UTF-8 strings ignoring case. Runs of ASCII are
// compared byte by byte with an inline lower-casing; at the first non-ASCII
// byte of either side the remaining tails are case folded and compared.
func CompareInsensitive(a, b []byte) int {
	i := 0
	for ; i < len(a) && i < len(b); i++ {
		ca, cb := a[i], b[i]
		if ca >= utf8.RuneSelf || cb >= utf8.RuneSelf {
			return compareFolded(a[i:], b[i:])
		}
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// compareFolded is the slow path. A cases.Caser carries state, so each call
// gets its own.
func compareFolded(a, b []byte) int {
	fold := cases.Fold()
	fa := fold.Bytes(a)
	fold.Reset()
	fb := fold.Bytes(b)
	return bytes.Compare(fa, fb)
}
