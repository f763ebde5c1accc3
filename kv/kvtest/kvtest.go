// Package kvtest is a conformance suite every kv backend runs in its tests.
package kvtest

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"lukechampine.com/frand"

	"datom.lol/attr"
	"datom.lol/context"
	"datom.lol/datom"
	"datom.lol/ids"
	"datom.lol/index"
	"datom.lol/kv"
	"datom.lol/valuetag"
)

// Opener builds a fresh backend over cols.
type Opener func(t *testing.T, cols []kv.Column) kv.I

// Columns is the column set the suite runs against.
func Columns() []kv.Column { return index.Columns(attr.Bootstrap()) }

// Key builds a datom key for entity e with an Int64 value.
func Key(e, tx uint64, v int64) []byte {
	b, _ := valuetag.Encode(valuetag.Int64, v)
	d, _ := datom.New(ids.Make(ids.Entity, e), attr.FirstUser, valuetag.Int64, b, ids.TxFromCounter(tx))
	return d.Key()
}

// RandomKeys returns n keys sorted and deduplicated under cmp.
func RandomKeys(n int, cmp func(a, b []byte) int) (keys [][]byte) {
	for range n {
		keys = append(keys, Key(frand.Uint64n(10000), frand.Uint64n(20)+1, int64(frand.Uint64n(100))))
	}
	slices.SortFunc(keys, cmp)
	return slices.CompactFunc(keys, func(a, b []byte) bool { return cmp(a, b) == 0 })
}

// Run runs the suite.
func Run(t *testing.T, open Opener) {
	t.Run("Order", func(t *testing.T) { testOrder(t, open) })
	t.Run("Seek", func(t *testing.T) { testSeek(t, open) })
	t.Run("Isolation", func(t *testing.T) { testIsolation(t, open) })
	t.Run("Atomic", func(t *testing.T) { testAtomic(t, open) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, open) })
}

var col = byte(index.EAVTCurrent)

func cmpOf(cols []kv.Column, id byte) func(a, b []byte) int {
	for _, c := range cols {
		if c.ID == id {
			return c.Comparator
		}
	}
	panic("no such column")
}

func write(t *testing.T, b kv.I, keys [][]byte, del bool) {
	var batch kv.Batch
	for _, k := range keys {
		if del {
			batch.Delete(col, k)
		} else {
			batch.Put(col, k, nil)
		}
	}
	if err := b.Write(context.Bg(), &batch); err != nil {
		t.Fatal(err)
	}
}

func scan(t *testing.T, v kv.View, reverse bool) (keys [][]byte) {
	it, err := v.Iterator(col)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	if reverse {
		for it.Last(); it.Valid(); it.Prev() {
			keys = append(keys, bytes.Clone(it.Key()))
		}
		slices.Reverse(keys)
	} else {
		for it.First(); it.Valid(); it.Next() {
			keys = append(keys, bytes.Clone(it.Key()))
		}
	}
	if it.Err() != nil {
		t.Fatal(it.Err())
	}
	return
}

func same(t *testing.T, what string, got, want [][]byte) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: %d keys, want %d", what, len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Fatalf("%s: key %d differs", what, i)
		}
	}
}

func testOrder(t *testing.T, open Opener) {
	cols := Columns()
	b := open(t, cols)
	defer b.Close()
	keys := RandomKeys(3000, cmpOf(cols, col))
	shuffled := slices.Clone(keys)
	frand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	// several batches so that writes land on top of earlier ones
	for i := 0; i < len(shuffled); i += 700 {
		write(t, b, shuffled[i:min(i+700, len(shuffled))], false)
	}
	v, err := b.View()
	if err != nil {
		t.Fatal(err)
	}
	defer v.Release()
	same(t, "forward", scan(t, v, false), keys)
	same(t, "reverse", scan(t, v, true), keys)
	for range 100 {
		k := keys[frand.Intn(len(keys))]
		got, _, err := v.Get(col, k)
		if err != nil || !bytes.Equal(got, k) {
			t.Fatalf("get: %v", err)
		}
	}
	if _, _, err = v.Get(col, Key(99999, 1, 1)); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("get of a missing key: %v", err)
	}
	removed := keys[:len(keys)/3]
	write(t, b, removed, true)
	v2, err := b.View()
	if err != nil {
		t.Fatal(err)
	}
	defer v2.Release()
	same(t, "after delete", scan(t, v2, false), keys[len(removed):])
}

func testSeek(t *testing.T, open Opener) {
	cols := Columns()
	b := open(t, cols)
	defer b.Close()
	cmp := cmpOf(cols, col)
	var keys [][]byte
	for e := range uint64(500) {
		keys = append(keys, Key(e*2+1, 1, 0))
	}
	write(t, b, keys, false)
	v, err := b.View()
	if err != nil {
		t.Fatal(err)
	}
	defer v.Release()
	it, err := v.Iterator(col)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	if it.Valid() {
		t.Fatal("a fresh iterator is not positioned")
	}
	for range 200 {
		e := frand.Uint64n(1000)
		probe := Key(e, 1, 0)
		it.Seek(probe)
		want := e | 1
		if want >= 1000 {
			if it.Valid() {
				t.Fatalf("seek past the end to %d is valid", e)
			}
		} else if !it.Valid() || uint64(datom.EntityOf(it.Key()).Counter()) != want {
			t.Fatalf("seek %d", e)
		}
		it.SeekForPrev(probe)
		if e == 0 {
			if it.Valid() {
				t.Fatal("seek for prev before the start is valid")
			}
			continue
		}
		want = e
		if e%2 == 0 {
			want = e - 1
		}
		if !it.Valid() || cmp(it.Key(), Key(want, 1, 0)) != 0 {
			t.Fatalf("seek for prev %d", e)
		}
	}
	it.Last()
	it.Next()
	if it.Valid() || it.Err() != nil {
		t.Fatal("stepping off the end is an invalid position, not an error")
	}
}

func testIsolation(t *testing.T, open Opener) {
	cols := Columns()
	b := open(t, cols)
	defer b.Close()
	first := RandomKeys(200, cmpOf(cols, col))
	write(t, b, first, false)
	v, err := b.View()
	if err != nil {
		t.Fatal(err)
	}
	defer v.Release()
	write(t, b, [][]byte{Key(20000, 1, 1)}, false)
	write(t, b, first[:100], true)
	same(t, "old view", scan(t, v, false), first)
	v2, err := b.View()
	if err != nil {
		t.Fatal(err)
	}
	defer v2.Release()
	if n := len(scan(t, v2, false)); n != len(first)-100+1 {
		t.Fatalf("new view holds %d keys", n)
	}
}

func testAtomic(t *testing.T, open Opener) {
	cols := Columns()
	b := open(t, cols)
	defer b.Close()
	var batch kv.Batch
	batch.Put(col, Key(1, 1, 1), nil)
	batch.Put(200, []byte("nowhere"), nil)
	if err := b.Write(context.Bg(), &batch); !errors.Is(err, kv.ErrBackendFailure) {
		t.Fatalf("write to an unknown column: %v", err)
	}
	v, err := b.View()
	if err != nil {
		t.Fatal(err)
	}
	defer v.Release()
	if n := len(scan(t, v, false)); n != 0 {
		t.Fatalf("failed batch left %d keys behind", n)
	}
	// blobs are plain byte ordered key value pairs
	batch = kv.Batch{}
	batch.Put(byte(index.Blobs), []byte("digest"), []byte("blob"))
	if err = b.Write(context.Bg(), &batch); err != nil {
		t.Fatal(err)
	}
	v2, err := b.View()
	if err != nil {
		t.Fatal(err)
	}
	defer v2.Release()
	if _, val, err := v2.Get(byte(index.Blobs), []byte("digest")); err != nil || string(val) != "blob" {
		t.Fatalf("blob read back as %q, %v", val, err)
	}
}

func testClosed(t *testing.T, open Opener) {
	b := open(t, Columns())
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := b.View(); !errors.Is(err, kv.ErrClosed) {
		t.Fatalf("view after close: %v", err)
	}
	if err := b.Write(context.Bg(), &kv.Batch{}); !errors.Is(err, kv.ErrClosed) {
		t.Fatalf("write after close: %v", err)
	}
}
