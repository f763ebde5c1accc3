package valuetag

import (
	"github.com/pkg/errors"

	"datom.lol/ids"
)

// IsNumeric is true for the integer and float tags.
func (t T) IsNumeric() bool { return t >= UInt8 && t <= Float64 }

// IsText is true for the string tags.
func (t T) IsText() bool { return t == Ascii || t == Utf8 || t == Utf8Insensitive }

// IsBlob is true for the two blob tags.
func (t T) IsBlob() bool { return t == Blob || t == HashedBlob }

// Convertible reports whether values of tag from can in principle be
// re-encoded as tag to. Individual values may still fail, e.g. an out of
// range integer or non-ASCII text converted to Ascii.
func Convertible(from, to T) bool {
	switch {
	case from == to:
		return true
	case from.IsNumeric() && to.IsNumeric():
		return true
	case (from.IsText() || from.IsBlob()) && (to.IsText() || to.IsBlob()):
		return true
	case from == Reference && to == UInt64, from == UInt64 && to == Reference:
		return true
	}
	return false
}

// Convert re-encodes an encoded value of tag from as tag to.
func Convert(from, to T, b []byte) (out []byte, err error) {
	if from == to {
		return b, nil
	}
	if !Convertible(from, to) {
		err = errors.Wrapf(ErrTypeMismatch, "%s values cannot become %s", from, to)
		return
	}
	var v any
	if v, err = Decode(from, b); err != nil {
		return
	}
	switch {
	case from == Reference:
		v = uint64(v.(ids.EntityId))
	case to == Reference:
		v = ids.EntityId(v.(uint64))
	}
	if out, err = Encode(to, v); err != nil {
		err = errors.Wrapf(err, "converting %s to %s", from, to)
	}
	return
}
