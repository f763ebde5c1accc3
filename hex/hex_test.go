package hex

import (
	"bytes"
	"encoding/hex"
	"testing"

	"lukechampine.com/frand"
)

func TestEncDecAppend(t *testing.T) {
	for range 1000 {
		src := frand.Bytes(frand.Intn(100))
		prefix := frand.Bytes(frand.Intn(8))
		enc := EncAppend(bytes.Clone(prefix), src)
		if !bytes.Equal(enc[:len(prefix)], prefix) {
			t.Fatalf("prefix clobbered")
		}
		if string(enc[len(prefix):]) != hex.EncodeToString(src) {
			t.Fatalf("got %s want %s", enc[len(prefix):], hex.EncodeToString(src))
		}
		dec, err := DecAppend(bytes.Clone(prefix), enc[len(prefix):])
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(dec[len(prefix):], src) {
			t.Fatalf("got %x want %x", dec[len(prefix):], src)
		}
	}
	if s := Short([]byte{1, 2, 3, 4}, 2); s != "0102" {
		t.Fatalf("got %s", s)
	}
}
