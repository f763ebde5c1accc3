package nodekv

import (
	"bytes"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"lukechampine.com/frand"

	"datom.lol/context"
	"datom.lol/index"
	"datom.lol/kv"
	"datom.lol/kv/kvtest"
)

func testOptions(dir string) Options {
	o := DefaultOptions(dir)
	o.InMemory = dir == ""
	o.NodeSize = 32
	o.Fanout = 4
	o.FlushThreshold = 500
	o.NodeCache = 64
	o.BlockCache = 0
	o.LogLevel = 0
	return o
}

func open(t *testing.T, dir string) *T { return openWith(t, testOptions(dir)) }

func openWith(t *testing.T, o Options) *T {
	b, err := Open(o, kvtest.Columns())
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestConformance(t *testing.T) {
	kvtest.Run(t, func(t *testing.T, cols []kv.Column) kv.I {
		b, err := Open(testOptions(""), cols)
		if err != nil {
			t.Fatal(err)
		}
		return b
	})
}

var col = byte(index.EAVTCurrent)

func put(t *testing.T, b *T, keys [][]byte) {
	var batch kv.Batch
	for _, k := range keys {
		batch.Put(col, k, nil)
	}
	if err := b.Write(context.Bg(), &batch); err != nil {
		t.Fatal(err)
	}
}

func contents(t *testing.T, b *T) (keys [][]byte) {
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
	for it.First(); it.Valid(); it.Next() {
		keys = append(keys, bytes.Clone(it.Key()))
	}
	if it.Err() != nil {
		t.Fatal(it.Err())
	}
	return
}

func check(t *testing.T, got, want [][]byte) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%d keys, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Fatalf("key %d differs", i)
		}
	}
}

// crash closes badger without the flush Close does.
func crash(t *testing.T, b *T) {
	b.closed.Store(true)
	if err := b.seq.Release(); err != nil {
		t.Fatal(err)
	}
	if err := b.db.Close(); err != nil {
		t.Fatal(err)
	}
}

func countNodes(t *testing.T, b *T) (n int) {
	if err := b.db.View(func(txn *badger.Txn) error {
		prefix := Node.Key()
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	return
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	b := open(t, dir)
	cmp := b.trees[col].Cmp
	keys := kvtest.RandomKeys(3000, cmp)
	for i := 0; i < len(keys); i += 250 {
		put(t, b, keys[i:min(i+250, len(keys))])
	}
	if b.unflushed >= b.opts.FlushThreshold {
		t.Fatalf("%d datoms left unflushed", b.unflushed)
	}
	check(t, contents(t, b), keys)
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	b = open(t, dir)
	defer b.Close()
	if b.unflushed != 0 {
		t.Fatalf("close left %d datoms to replay", b.unflushed)
	}
	if b.current.Load().roots[col].DeepLen() != len(keys) {
		t.Fatal("manifest counts disagree with what was written")
	}
	loads := b.Loads()
	check(t, contents(t, b), keys)
	if b.Loads() <= loads {
		t.Fatal("open resolved the leaves")
	}
}

func TestReplay(t *testing.T) {
	o := testOptions(t.TempDir())
	o.FlushThreshold = 10000
	b := openWith(t, o)
	cmp := b.trees[col].Cmp
	keys := kvtest.RandomKeys(1200, cmp)
	// the first part is flushed, the rest only recorded
	put(t, b, keys[:600])
	if err := b.FlushAndCompact(context.Bg()); err != nil {
		t.Fatal(err)
	}
	put(t, b, keys[600:900])
	var batch kv.Batch
	for _, k := range keys[:100] {
		batch.Delete(col, k)
	}
	for _, k := range keys[900:] {
		batch.Put(col, k, nil)
	}
	if err := b.Write(context.Bg(), &batch); err != nil {
		t.Fatal(err)
	}
	if b.unflushed == 0 {
		t.Fatal("expected pending datoms before the crash")
	}
	crash(t, b)
	b = openWith(t, o)
	defer b.Close()
	if b.unflushed == 0 {
		t.Fatal("nothing replayed")
	}
	check(t, contents(t, b), keys[100:])
	if err := b.FlushAndCompact(context.Bg()); err != nil {
		t.Fatal(err)
	}
	check(t, contents(t, b), keys[100:])
}

func TestObsoleteNodes(t *testing.T) {
	b := open(t, "")
	defer b.Close()
	cmp := b.trees[col].Cmp
	keys := kvtest.RandomKeys(2000, cmp)
	put(t, b, keys)
	if err := b.FlushAndCompact(context.Bg()); err != nil {
		t.Fatal(err)
	}
	before := countNodes(t, b)
	old, err := b.View()
	if err != nil {
		t.Fatal(err)
	}
	// rewrite a spread of leaves and flush them while old is alive
	var batch kv.Batch
	for range 50 {
		batch.Delete(col, keys[frand.Intn(len(keys))])
	}
	if err = b.Write(context.Bg(), &batch); err != nil {
		t.Fatal(err)
	}
	if err = b.FlushAndCompact(context.Bg()); err != nil {
		t.Fatal(err)
	}
	if len(b.garbage) == 0 {
		t.Fatal("rewritten leaves must be scheduled for deletion")
	}
	it, err := old.Iterator(col)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for it.First(); it.Valid(); it.Next() {
		n++
	}
	if it.Err() != nil || n != len(keys) {
		t.Fatalf("old view read %d keys, %v", n, it.Err())
	}
	it.Close()
	old.Release()
	if err = b.FlushAndCompact(context.Bg()); err != nil {
		t.Fatal(err)
	}
	if len(b.garbage) != 0 {
		t.Fatal("garbage kept after the last view of its epoch was released")
	}
	if after := countNodes(t, b); after != len(b.reachable[col])+otherNodes(b) {
		t.Fatalf("%d nodes stored, %d reachable (%d before)", after, len(b.reachable[col]), before)
	}
}

func otherNodes(b *T) (n int) {
	for c, r := range b.reachable {
		if byte(c) != col {
			n += len(r)
		}
	}
	return
}

func TestCompression(t *testing.T) {
	for _, compress := range []bool{false, true} {
		o := testOptions("")
		o.Compress = compress
		b, err := Open(o, kvtest.Columns())
		if err != nil {
			t.Fatal(err)
		}
		keys := kvtest.RandomKeys(800, b.trees[col].Cmp)
		put(t, b, keys)
		if err = b.FlushAndCompact(context.Bg()); err != nil {
			t.Fatal(err)
		}
		b.cache.Purge()
		check(t, contents(t, b), keys)
		if err = b.Close(); err != nil {
			t.Fatal(err)
		}
	}
}
