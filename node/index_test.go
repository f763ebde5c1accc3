package node

import (
	"bytes"
	"errors"
	"slices"
	"sync"
	"testing"

	"lukechampine.com/frand"
	"pgregory.net/rapid"

	"datom.lol/compare"
	"datom.lol/datom"
	"datom.lol/ids"
	"datom.lol/valuetag"
)

type memStore struct {
	sync.Mutex
	next  uint64
	nodes map[uint64][]byte
	loads int
}

func newMemStore() *memStore { return &memStore{nodes: make(map[uint64][]byte)} }

func (m *memStore) Write(kind Kind, b []byte) (id uint64, err error) {
	m.Lock()
	defer m.Unlock()
	m.next++
	m.nodes[m.next] = append([]byte{}, b...)
	return m.next, nil
}

func (m *memStore) Load(id uint64) (b []byte, err error) {
	m.Lock()
	defer m.Unlock()
	m.loads++
	return m.nodes[id], nil
}

func key(e, tx uint64, v int64) []byte {
	b, _ := valuetag.Encode(valuetag.Int64, v)
	d, _ := datom.New(ids.Make(ids.Entity, e), 3, valuetag.Int64, b, ids.TxFromCounter(tx))
	return d.Key()
}

func randomKeys(n int) [][]byte {
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = key(frand.Uint64n(100000), frand.Uint64n(50)+1, int64(frand.Uint64n(1000)))
	}
	return keys
}

// fataler is what testing.T and rapid.T have in common here.
type fataler interface {
	Fatal(args ...any)
	Fatalf(format string, args ...any)
}

func testTree(loader Loader) *Tree {
	return &Tree{Cmp: compare.ForOrder(compare.EAVT), Target: 16, Fanout: 4, Loader: loader}
}

func collect(t fataler, x *Index) (keys [][]byte) {
	c := x.Cursor()
	for c.First(); c.Valid(); c.Next() {
		keys = append(keys, append([]byte{}, c.Key()...))
	}
	if c.Err() != nil {
		t.Fatal(c.Err())
	}
	return
}

// checkDeep verifies that every index node's length is the exact sum of its
// children's.
func checkDeep(t fataler, x *Index) {
	sum := 0
	for _, c := range x.children {
		n, err := resolve(c.n)
		if err != nil {
			t.Fatal(err)
		}
		if n.Len() != c.count {
			t.Fatalf("child records %d datoms, holds %d", c.count, n.Len())
		}
		if sub, ok := n.(*Index); ok {
			checkDeep(t, sub)
		}
		sum += c.count
	}
	if sum != x.DeepLen() {
		t.Fatalf("deep length %d, children sum to %d", x.DeepLen(), sum)
	}
}

func TestIngestAssociativity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tree := testTree(newMemStore())
		x := tree.Empty()
		var all [][]byte
		batches := rapid.IntRange(1, 6).Draw(t, "batches")
		for range batches {
			n := rapid.IntRange(0, 200).Draw(t, "n")
			keys := make([][]byte, n)
			for i := range keys {
				// unique entity per key so that no key replaces another
				keys[i] = key(uint64(len(all)+i), 1, int64(i))
			}
			before := x.DeepLen()
			var err error
			if x, err = x.Ingest(FromKeys(keys), nil); err != nil {
				t.Fatal(err)
			}
			if x.DeepLen() != before+n {
				t.Fatalf("deep length %d after adding %d to %d", x.DeepLen(), n, before)
			}
			checkDeep(t, x)
			all = append(all, keys...)
		}
		slices.SortFunc(all, tree.Cmp)
		got := collect(t, x)
		if len(got) != len(all) {
			t.Fatalf("cursor saw %d of %d keys", len(got), len(all))
		}
		for i := range all {
			if !bytes.Equal(got[i], all[i]) {
				t.Fatalf("key %d out of place", i)
			}
		}
	})
}

func TestIngestRemove(t *testing.T) {
	tree := testTree(newMemStore())
	x := tree.Empty()
	keys := randomKeys(2000)
	x, err := x.Ingest(FromKeys(keys), nil)
	if err != nil {
		t.Fatal(err)
	}
	want := dedupe(slices.Clone(keys), tree.Cmp)
	if x.DeepLen() != len(want) {
		t.Fatalf("%d datoms, want %d", x.DeepLen(), len(want))
	}
	if x.Children() > tree.Fanout {
		t.Fatalf("root with %d children", x.Children())
	}
	old := x
	removes := want[:len(want)/2]
	if x, err = x.Ingest(nil, FromKeys(removes)); err != nil {
		t.Fatal(err)
	}
	checkDeep(t, x)
	if x.DeepLen() != len(want)-len(removes) {
		t.Fatalf("%d datoms after removal, want %d", x.DeepLen(), len(want)-len(removes))
	}
	if old.DeepLen() != len(want) || len(collect(t, old)) != len(want) {
		t.Fatal("ingest modified the old tree")
	}
	got := collect(t, x)
	for i, k := range got {
		if !bytes.Equal(k, want[len(removes)+i]) {
			t.Fatalf("key %d wrong after removal", i)
		}
	}
	// removing absent keys changes nothing
	if x, err = x.Ingest(nil, FromKeys(removes)); err != nil || x.DeepLen() != len(got) {
		t.Fatalf("absent removal: %d, %v", x.DeepLen(), err)
	}
}

// checkLeaves verifies that leaves stay within Target/2 and 2*Target, except a
// leaf with no sibling to merge into.
func checkLeaves(t fataler, tree *Tree, x *Index) {
	for _, c := range x.children {
		n, err := resolve(c.n)
		if err != nil {
			t.Fatal(err)
		}
		if sub, ok := n.(*Index); ok {
			checkLeaves(t, tree, sub)
			continue
		}
		if c.count > 2*tree.Target {
			t.Fatalf("leaf of %d datoms", c.count)
		}
		if c.count < tree.Target/2 && len(x.children) > 1 {
			t.Fatalf("leaf of %d datoms beside %d siblings", c.count, len(x.children)-1)
		}
	}
}

func TestIngestMergesSmallLeaves(t *testing.T) {
	for _, flush := range []bool{false, true} {
		store := newMemStore()
		tree := testTree(store)
		want := dedupe(randomKeys(2000), tree.Cmp)
		x, err := tree.Empty().Ingest(FromKeys(want), nil)
		if err != nil {
			t.Fatal(err)
		}
		for len(want) > 0 {
			if flush {
				if x, err = x.Flush(store); err != nil {
					t.Fatal(err)
				}
			}
			// thin out every leaf a little each round
			var removes, keep [][]byte
			for _, k := range want {
				if frand.Intn(5) == 0 || len(want) < 40 {
					removes = append(removes, k)
				} else {
					keep = append(keep, k)
				}
			}
			if x, err = x.Ingest(nil, FromKeys(removes)); err != nil {
				t.Fatal(err)
			}
			want = keep
			checkDeep(t, x)
			checkLeaves(t, tree, x)
			got := collect(t, x)
			if len(got) != len(want) {
				t.Fatalf("%d datoms, want %d", len(got), len(want))
			}
			for i := range want {
				if !bytes.Equal(got[i], want[i]) {
					t.Fatalf("key %d out of place", i)
				}
			}
		}
		if x.DeepLen() != 0 {
			t.Fatalf("%d datoms left", x.DeepLen())
		}
	}
}

func TestFindAndSeek(t *testing.T) {
	tree := testTree(newMemStore())
	keys := dedupe(randomKeys(1500), tree.Cmp)
	x, err := tree.Empty().Ingest(FromKeys(keys), nil)
	if err != nil {
		t.Fatal(err)
	}
	for i, k := range keys {
		pos, err := x.Find(k)
		if err != nil || pos != i {
			t.Fatalf("find key %d: %d %v", i, pos, err)
		}
		got, err := x.Key(nil, i)
		if err != nil || !bytes.Equal(got, k) {
			t.Fatalf("key at %d: %v", i, err)
		}
	}
	c := x.Cursor()
	c.Seek(key(200000, 1, 0))
	if c.Valid() {
		t.Fatal("seek past the end must be invalid")
	}
	c.SeekForPrev(key(0, 0, -1))
	if c.Valid() {
		t.Fatal("seek before the start must be invalid")
	}
	if c.Err() != nil {
		t.Fatal("running off the ends is not an error")
	}
	c.SeekForPrev(keys[10])
	if !c.Valid() || !bytes.Equal(c.Key(), keys[10]) {
		t.Fatal("seek for prev on an existing key lands on it")
	}
	c.Last()
	for i := len(keys) - 1; i >= 0; i-- {
		if !c.Valid() || !bytes.Equal(c.Key(), keys[i]) {
			t.Fatalf("reverse walk at %d", i)
		}
		c.Prev()
	}
}

func TestFlushAndResolve(t *testing.T) {
	store := newMemStore()
	tree := testTree(store)
	keys := dedupe(randomKeys(3000), tree.Cmp)
	x, err := tree.Empty().Ingest(FromKeys(keys), nil)
	if err != nil {
		t.Fatal(err)
	}
	f, err := x.Flush(store)
	if err != nil {
		t.Fatal(err)
	}
	if !f.Flushed() || f.DeepLen() != x.DeepLen() {
		t.Fatal("flush must keep the content and leave only references")
	}
	manifest, err := f.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	// reopen from the manifest alone, nothing cached
	reopened, err := tree.UnmarshalIndex(manifest)
	if err != nil {
		t.Fatal(err)
	}
	checkDeep(t, reopened)
	got := collect(t, reopened)
	if len(got) != len(keys) {
		t.Fatalf("reopened tree holds %d of %d", len(got), len(keys))
	}
	for i := range keys {
		if !bytes.Equal(got[i], keys[i]) {
			t.Fatalf("key %d differs after reload", i)
		}
	}
	var refs int
	if err = reopened.References(func(id uint64, kind Kind) { refs++ }); err != nil {
		t.Fatal(err)
	}
	if refs != len(store.nodes) {
		t.Fatalf("%d references, %d stored nodes", refs, len(store.nodes))
	}
	// ingest on top of references only rewrites the touched leaves
	more := [][]byte{key(500000, 9, 1)}
	y, err := reopened.Ingest(FromKeys(more), nil)
	if err != nil || y.DeepLen() != len(keys)+1 {
		t.Fatalf("ingest over references: %v", err)
	}
	y2, err := y.Flush(store)
	if err != nil {
		t.Fatal(err)
	}
	written := len(store.nodes) - refs
	if written < 1 || written > 8 {
		t.Fatalf("flush after a single add wrote %d nodes", written)
	}
	checkDeep(t, y2)
}

func TestStaleReference(t *testing.T) {
	store := newMemStore()
	tree := testTree(store)
	x, _ := tree.Empty().Ingest(FromKeys(randomKeys(100)), nil)
	f, err := x.Flush(store)
	if err != nil {
		t.Fatal(err)
	}
	for id := range store.nodes {
		delete(store.nodes, id)
	}
	if _, err = f.Key(nil, 0); !errors.Is(err, ErrStaleReference) {
		t.Fatalf("expected stale reference, got %v", err)
	}
	c := f.Cursor()
	c.First()
	if c.Key() != nil || c.Valid() || !errors.Is(c.Err(), ErrStaleReference) {
		t.Fatal("cursor must surface the stale reference")
	}
}

func TestCache(t *testing.T) {
	store := newMemStore()
	cache, err := NewLRU(64)
	if err != nil {
		t.Fatal(err)
	}
	tree := testTree(store)
	tree.Cache = cache
	keys := dedupe(randomKeys(500), tree.Cmp)
	x, _ := tree.Empty().Ingest(FromKeys(keys), nil)
	f, err := x.Flush(store)
	if err != nil {
		t.Fatal(err)
	}
	collect(t, f)
	if store.loads != 0 {
		t.Fatalf("flushed nodes are cached, %d loads", store.loads)
	}
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range keys {
				if k, err := f.Key(nil, i); err != nil || !bytes.Equal(k, keys[i]) {
					t.Errorf("concurrent read of %d: %v", i, err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
