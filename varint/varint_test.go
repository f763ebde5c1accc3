package varint

import (
	"bytes"
	"math"
	"testing"

	"lukechampine.com/frand"

	"datom.lol/chk"
)

func TestEncode_Decode(t *testing.T) {
	var v uint64
	for range 100000 {
		v = frand.Uint64n(math.MaxUint64)
		buf1 := new(bytes.Buffer)
		if err := Encode(buf1, v); chk.E(err) {
			t.Fatal(err)
		}
		if buf1.Len() != Len(v) {
			t.Fatalf("length of %d: wrote %d, Len says %d", v, buf1.Len(), Len(v))
		}
		buf2 := bytes.NewBuffer(buf1.Bytes())
		u, err := Decode(buf2)
		if chk.E(err) {
			t.Fatal(err)
		}
		if u != v {
			t.Fatalf("expected %d got %d", v, u)
		}
	}
}

func TestAppend_Read(t *testing.T) {
	var b []byte
	vals := make([]uint64, 1000)
	for i := range vals {
		vals[i] = frand.Uint64n(1 << uint(frand.Intn(63)+1))
		b = Append(b, vals[i])
	}
	for i := range vals {
		var v uint64
		var err error
		if v, b, err = Read(b); err != nil {
			t.Fatal(err)
		}
		if v != vals[i] {
			t.Fatalf("value %d: expected %d got %d", i, vals[i], v)
		}
	}
	if len(b) != 0 {
		t.Fatal("trailing bytes")
	}
	if _, _, err := Read([]byte{1, 2}); err == nil {
		t.Fatal("expected truncation error")
	}
}
