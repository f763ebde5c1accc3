package store_test

import (
	"bytes"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"

	"datom.lol/attr"
	"datom.lol/context"
	"datom.lol/datom"
	"datom.lol/db"
	"datom.lol/ids"
	"datom.lol/index"
	"datom.lol/kv/memkv"
	"datom.lol/kv/nodekv"
	"datom.lol/store"
	"datom.lol/valuetag"
)

var schema = []attr.Definition{
	{Symbol: "person/name", Tag: valuetag.Utf8, Cardinality: attr.One},
	{Symbol: "person/email", Tag: valuetag.Utf8Insensitive, Cardinality: attr.One,
		Unique: true},
	{Symbol: "person/tag", Tag: valuetag.Ascii, Cardinality: attr.Many, Indexed: true},
	{Symbol: "person/friend", Tag: valuetag.Reference, Cardinality: attr.Many},
	{Symbol: "person/age", Tag: valuetag.Int64, Cardinality: attr.One},
	{Symbol: "person/photo", Tag: valuetag.Blob, Cardinality: attr.One},
	{Symbol: "tx/source", Tag: valuetag.Ascii, Cardinality: attr.One},
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// clock ticks one second per reading.
func clock() func() time.Time {
	var n atomic.Int64
	return func() time.Time { return epoch.Add(time.Duration(n.Add(1)) * time.Second) }
}

func open(t *testing.T) (s *store.T) {
	s, err := store.New(context.Bg(), memkv.New(store.Columns()),
		store.Options{Clock: clock()})
	require.NoError(t, err)
	res, err := s.Migrate(context.Bg(), schema)
	require.NoError(t, err)
	res.Release()
	t.Cleanup(func() { _ = s.Close() })
	return
}

func commit(t *testing.T, tx *store.Tx) (res *store.Result) {
	res, err := tx.Commit(context.Bg())
	require.NoError(t, err)
	t.Cleanup(res.Release)
	return
}

func snapshot(t *testing.T, s *store.T) (snap *db.T) {
	snap, err := s.Snapshot()
	require.NoError(t, err)
	t.Cleanup(snap.Release)
	return
}

func get(t *testing.T, snap *db.T, e ids.EntityId, symbol string) any {
	v, found, err := snap.Get(e, symbol)
	require.NoError(t, err)
	if !found {
		return nil
	}
	return v
}

func TestTransact(t *testing.T) {
	s := open(t)
	tx := s.Begin()
	alice, bob := tx.TempId(), tx.TempId()
	tx.Add(alice, "person/name", "Alice").
		Add(alice, "person/email", "Alice@example.com").
		Add(alice, "person/tag", "admin").
		Add(alice, "person/tag", "ops").
		Add(alice, "person/friend", bob).
		Add(bob, "person/name", "Bob")
	res := commit(t, tx)
	a, b := res.Remaps.Resolve(alice), res.Remaps.Resolve(bob)
	require.Equal(t, ids.Entity, a.Partition())
	require.Equal(t, ids.Entity, b.Partition())
	require.NotEqual(t, a, b)
	require.Equal(t, res.Tx, res.Snapshot.Basis())

	snap := snapshot(t, s)
	require.Equal(t, "Alice", get(t, snap, a, "person/name"))
	require.Equal(t, "Bob", get(t, snap, b, "person/name"))
	tags, err := snap.GetAll(a, "person/tag")
	require.NoError(t, err)
	require.Equal(t, []any{"admin", "ops"}, tags)
	require.Equal(t, b, get(t, snap, a, "person/friend"))

	e, found, err := snap.Lookup("person/email", "ALICE@EXAMPLE.COM")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, a, e)

	refs, err := snap.Collect(db.ReferenceSlice(b))
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, a, refs[0].E)
}

func TestTxMetadata(t *testing.T) {
	s := open(t)
	tx := s.Begin()
	e := tx.TempId()
	tx.Add(e, "person/name", "Carol").Add(ids.TxTemp, "tx/source", "import")
	res := commit(t, tx)
	require.Equal(t, res.Tx.Entity(), res.Remaps[ids.TxTemp])
	snap := snapshot(t, s)
	require.Equal(t, "import", get(t, snap, res.Tx.Entity(), "tx/source"))
	ts := get(t, snap, res.Tx.Entity(), "tx/timestamp")
	require.IsType(t, int64(0), ts)
	require.Greater(t, ts.(int64), epoch.UnixMilli())

	// every transaction is stamped, the timestamps are indexed
	ds, err := snap.Collect(db.AttributeSlice(attr.TxTimestamp))
	require.NoError(t, err)
	require.Len(t, ds, 3)
}

func TestReservedAttributes(t *testing.T) {
	s := open(t)
	for _, a := range []ids.AttributeId{attr.UniqueId, attr.TxTimestamp, attr.TxExcisedDatoms} {
		d, _ := datom.New(ids.Make(ids.Temp, 1), a, valuetag.Ascii, []byte("x"), 0)
		_, err := s.Transact(context.Bg(), []*datom.T{d}, nil)
		require.ErrorIs(t, err, attr.ErrSchemaConflict)
	}
}

func TestUpsert(t *testing.T) {
	s := open(t)
	tx := s.Begin()
	e := tx.TempId()
	tx.Add(e, "person/email", "dave@example.com").Add(e, "person/name", "Dave")
	first := commit(t, tx)
	dave := first.Remaps.Resolve(e)

	tx = s.Begin()
	e = tx.TempId()
	tx.Add(e, "person/email", "DAVE@example.com").Add(e, "person/name", "David")
	res := commit(t, tx)
	require.Equal(t, dave, res.Remaps.Resolve(e))
	snap := snapshot(t, s)
	require.Equal(t, "David", get(t, snap, dave, "person/name"))
	// the fact did not change, only its spelling would have
	require.Equal(t, "dave@example.com", get(t, snap, dave, "person/email"))
}

func TestUniqueViolation(t *testing.T) {
	s := open(t)
	tx := s.Begin()
	a, b := tx.TempId(), tx.TempId()
	tx.Add(a, "person/email", "a@example.com").Add(b, "person/email", "b@example.com")
	res := commit(t, tx)
	before := s.Commits()

	_, err := s.Begin().
		Add(res.Remaps.Resolve(b), "person/email", "A@example.com").
		Commit(context.Bg())
	require.ErrorIs(t, err, store.ErrUniqueViolation)
	require.Equal(t, before, s.Commits())
	snap := snapshot(t, s)
	require.Equal(t, res.Tx, snap.Basis())

	// two new entities claiming one value in the same transaction
	tx = s.Begin()
	tx.Add(tx.TempId(), "person/email", "c@example.com").
		Add(ids.Make(ids.Entity, 1000), "person/email", "C@example.com")
	_, err = tx.Commit(context.Bg())
	require.ErrorIs(t, err, store.ErrUniqueViolation)
}

func TestSnapshotIsolation(t *testing.T) {
	s := open(t)
	tx := s.Begin()
	e := tx.TempId()
	tx.Add(e, "person/name", "v1")
	res := commit(t, tx)
	p := res.Remaps.Resolve(e)
	old := snapshot(t, s)
	for i := 2; i <= 5; i++ {
		commit(t, s.Begin().Add(p, "person/name", fmt.Sprintf("v%d", i)))
	}
	require.Equal(t, "v1", get(t, old, p, "person/name"))
	require.Equal(t, "v5", get(t, snapshot(t, s), p, "person/name"))
}

func TestAsOf(t *testing.T) {
	s := open(t)
	tx := s.Begin()
	e := tx.TempId()
	tx.Add(e, "person/name", "v1").Add(e, "person/tag", "a")
	r1 := commit(t, tx)
	p := r1.Remaps.Resolve(e)
	r2 := commit(t, s.Begin().Add(p, "person/name", "v2").Add(p, "person/tag", "b"))
	commit(t, s.Begin().Retract(p, "person/name", "v2").Retract(p, "person/tag", "a"))

	snap := snapshot(t, s)
	for _, c := range []struct {
		tx   ids.TxId
		name any
		tags []any
	}{
		{r1.Tx, "v1", []any{"a"}},
		{r2.Tx, "v2", []any{"a", "b"}},
		{snap.Basis(), nil, []any{"b"}},
	} {
		h, err := snap.AsOf(c.tx)
		require.NoError(t, err)
		require.Equal(t, c.name, get(t, h, p, "person/name"), "as of %s", c.tx)
		tags, err := h.GetAll(p, "person/tag")
		require.NoError(t, err)
		require.Equal(t, c.tags, tags, "as of %s", c.tx)
		h.Release()
	}
}

// keys collects the keys of a whole index.
func keys(t *testing.T, snap *db.T, i index.Id) map[string]bool {
	ds, err := snap.Collect(db.All(i))
	require.NoError(t, err)
	m := make(map[string]bool, len(ds))
	for _, d := range ds {
		m[string(d.Key())] = true
	}
	return m
}

// agree checks that every index holds exactly the datoms it should.
func agree(t *testing.T, snap *db.T) {
	reg := snap.Registry()
	eavt := keys(t, snap, index.EAVTCurrent)
	hist := keys(t, snap, index.EAVTHistory)
	want := map[index.Id]map[string]bool{}
	for _, i := range index.Datoms() {
		if i != index.EAVTCurrent && i != index.EAVTHistory {
			want[i] = map[string]bool{}
		}
	}
	for k := range eavt {
		d, err := datom.Decode([]byte(k))
		require.NoError(t, err)
		def, err := reg.Definition(d.A)
		require.NoError(t, err)
		for _, i := range index.CurrentIndexes() {
			if i != index.EAVTCurrent && index.Includes(i, def, d) {
				want[i][k] = true
			}
		}
	}
	for k := range hist {
		d, err := datom.Decode([]byte(k))
		require.NoError(t, err)
		def, err := reg.Definition(d.A)
		require.NoError(t, err)
		for _, i := range index.HistoryIndexes() {
			if i != index.EAVTHistory && index.Includes(i, def, d) {
				want[i][k] = true
			}
		}
		if !def.NoHistory {
			want[index.TxLog][k] = true
		}
	}
	for i, w := range want {
		got := keys(t, snap, i)
		if i == index.TxLog {
			// the log also holds datoms kept out of history
			for k := range got {
				d, err := datom.Decode([]byte(k))
				require.NoError(t, err)
				if def, _ := reg.Definition(d.A); def.NoHistory {
					delete(got, k)
				}
			}
		}
		require.Equal(t, len(w), len(got), "%s", i)
		for k := range w {
			require.True(t, got[k], "%s lacks a datom", i)
		}
	}
	// current is what the history says as of now
	h, err := snap.AsOf(snap.Basis())
	require.NoError(t, err)
	defer h.Release()
	require.Equal(t, eavt, keys(t, h, index.EAVTCurrent))
}

func TestIndexAgreement(t *testing.T) {
	s := open(t)
	var people []ids.EntityId
	for round := range 30 {
		tx := s.Begin()
		var fresh []ids.EntityId
		for range 1 + frand.Intn(4) {
			e := tx.TempId()
			fresh = append(fresh, e)
			tx.Add(e, "person/name", fmt.Sprintf("n%d", frand.Intn(50)))
		}
		for range frand.Intn(8) {
			if len(people) == 0 {
				break
			}
			p := people[frand.Intn(len(people))]
			switch frand.Intn(6) {
			case 0:
				tx.Add(p, "person/name", fmt.Sprintf("n%d", frand.Intn(50)))
			case 1:
				tx.Add(p, "person/tag", fmt.Sprintf("t%d", frand.Intn(5)))
			case 2:
				tx.Retract(p, "person/tag", fmt.Sprintf("t%d", frand.Intn(5)))
			case 3:
				tx.Add(p, "person/friend", people[frand.Intn(len(people))])
			case 4:
				tx.Add(p, "person/age", frand.Intn(100))
			case 5:
				tx.Add(p, "person/email", fmt.Sprintf("p%d-%d@example.com", round,
					frand.Intn(1000)))
			}
		}
		res, err := tx.Commit(context.Bg())
		if errors.Is(err, store.ErrUniqueViolation) {
			continue
		}
		require.NoError(t, err)
		for _, e := range fresh {
			people = append(people, res.Remaps.Resolve(e))
		}
		res.Release()
	}
	agree(t, snapshot(t, s))
}

func TestMigrate(t *testing.T) {
	s := open(t)
	tx := s.Begin()
	a, b := tx.TempId(), tx.TempId()
	tx.Add(a, "person/name", "Ann").Add(a, "person/age", 41).
		Add(b, "person/name", "Ben").Add(b, "person/age", 7)
	res := commit(t, tx)
	ann := res.Remaps.Resolve(a)
	commit(t, s.Begin().Add(ann, "person/age", 42))

	defs := append([]attr.Definition{}, schema...)
	defs[0].Indexed = true
	defs[4].Tag = valuetag.Int16
	defs = append(defs, attr.Definition{Symbol: "person/nick", Tag: valuetag.Ascii,
		Cardinality: attr.One})
	m, err := s.Migrate(context.Bg(), defs)
	require.NoError(t, err)
	defer m.Release()

	snap := snapshot(t, s)
	e, found, err := snap.Lookup("person/name", "Ann")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ann, e)
	require.Equal(t, int16(42), get(t, snap, ann, "person/age"))
	h, err := snap.AsOf(res.Tx)
	require.NoError(t, err)
	require.Equal(t, int16(41), get(t, h, ann, "person/age"))
	h.Release()
	def, err := snap.Registry().BySymbol("person/nick")
	require.NoError(t, err)
	require.GreaterOrEqual(t, def.Id, attr.FirstUser)
	agree(t, snap)

	// the same declaration again is a no-op
	again, err := s.Migrate(context.Bg(), defs)
	require.NoError(t, err)
	defer again.Release()
	require.Equal(t, m.Tx, again.Tx)
	require.Empty(t, again.Datoms)
}

func TestMigrateConflicts(t *testing.T) {
	s := open(t)
	tx := s.Begin()
	a, b := tx.TempId(), tx.TempId()
	tx.Add(a, "person/tag", "x").Add(a, "person/tag", "y").
		Add(a, "person/name", "Zoë").Add(b, "person/name", "Zoë")
	commit(t, tx)
	commits := s.Commits()
	reg := s.Registry()

	for name, change := range map[string]func(d []attr.Definition){
		"several values":   func(d []attr.Definition) { d[2].Cardinality = attr.One },
		"duplicate values": func(d []attr.Definition) { d[0].Unique = true },
		"unconvertible":    func(d []attr.Definition) { d[0].Tag = valuetag.Ascii },
		"incompatible":     func(d []attr.Definition) { d[3].Tag = valuetag.Utf8 },
	} {
		defs := append([]attr.Definition{}, schema...)
		change(defs)
		_, err := s.Migrate(context.Bg(), defs)
		require.ErrorIs(t, err, attr.ErrSchemaConflict, name)
	}
	require.Equal(t, commits, s.Commits())
	require.Same(t, reg, s.Registry())
}

func TestMigrateCaseFoldHistory(t *testing.T) {
	insensitive := append([]attr.Definition{}, schema...)
	insensitive[2].Tag = valuetag.Utf8Insensitive

	// two spellings asserted together, one retracted later: folded into one
	// fact the retraction would hide the spelling that is still current
	s := open(t)
	tx := s.Begin()
	a := tx.TempId()
	tx.Add(a, "person/tag", "X").Add(a, "person/tag", "x")
	e := commit(t, tx).Remaps.Resolve(a)
	commit(t, s.Begin().Retract(e, "person/tag", "X"))
	commits := s.Commits()
	_, err := s.Migrate(context.Bg(), insensitive)
	require.ErrorIs(t, err, attr.ErrSchemaConflict)
	require.Equal(t, commits, s.Commits())

	// a spelling replaced in a later transaction folds cleanly
	s = open(t)
	tx = s.Begin()
	a = tx.TempId()
	tx.Add(a, "person/tag", "Y")
	first := commit(t, tx)
	e = first.Remaps.Resolve(a)
	commit(t, s.Begin().Retract(e, "person/tag", "Y"))
	commit(t, s.Begin().Add(e, "person/tag", "y"))
	m, err := s.Migrate(context.Bg(), insensitive)
	require.NoError(t, err)
	defer m.Release()
	snap := snapshot(t, s)
	tags, err := snap.GetAll(e, "person/tag")
	require.NoError(t, err)
	require.Equal(t, []any{"y"}, tags)
	latest, err := snap.AsOf(snap.Basis())
	require.NoError(t, err)
	defer latest.Release()
	tags, err = latest.GetAll(e, "person/tag")
	require.NoError(t, err)
	require.Equal(t, []any{"y"}, tags)
	then, err := snap.AsOf(first.Tx)
	require.NoError(t, err)
	defer then.Release()
	require.Equal(t, "Y", get(t, then, e, "person/tag"))
	agree(t, snap)
}

func TestExcise(t *testing.T) {
	s := open(t)
	tx := s.Begin()
	a, b := tx.TempId(), tx.TempId()
	tx.Add(a, "person/name", "Eve").Add(a, "person/tag", "spy").
		Add(b, "person/name", "Frank").Add(b, "person/friend", a)
	res := commit(t, tx)
	eve, frank := res.Remaps.Resolve(a), res.Remaps.Resolve(b)
	commit(t, s.Begin().Add(eve, "person/name", "Eva"))

	x, err := s.Excise(context.Bg(), []ids.EntityId{eve})
	require.NoError(t, err)
	defer x.Release()
	snap := snapshot(t, s)
	for _, sl := range []db.Slice{db.EntitySlice(eve), db.EntitySlice(eve).History()} {
		ds, err := snap.Collect(sl)
		require.NoError(t, err)
		require.Empty(t, ds)
	}
	log, err := snap.Collect(db.All(index.TxLog))
	require.NoError(t, err)
	for _, d := range log {
		require.NotEqual(t, eve, d.E)
	}
	// Eve, her tag, Eva and the retraction of Eve
	require.Equal(t, uint64(4), get(t, snap, x.Tx.Entity(), "tx/excisedDatoms"))
	require.Equal(t, eve, get(t, snap, x.Tx.Entity(), "tx/excisedEntity"))
	require.Equal(t, "Frank", get(t, snap, frank, "person/name"))
	agree(t, snap)

	_, err = s.Excise(context.Bg(), []ids.EntityId{attr.UniqueId.Entity()})
	require.Error(t, err)
}

func TestScanUpdate(t *testing.T) {
	s := open(t)
	tx := s.Begin()
	e := tx.TempId()
	tx.Add(e, "person/name", "grace").Add(e, "person/tag", "keep")
	res := commit(t, tx)
	p := res.Remaps.Resolve(e)
	commit(t, s.Begin().Add(p, "person/name", "hopper"))

	name, err := s.Registry().Id("person/name")
	require.NoError(t, err)
	up, err := s.ScanUpdate(context.Bg(), func(d *datom.T) (*datom.T, []byte, error) {
		if d.A != name {
			return nil, nil, nil
		}
		v := []byte(strings.ToUpper(string(d.V)))
		nd, _ := datom.New(d.E, d.A, d.Tag, v, d.Tx)
		nd.Retract = d.Retract
		return nd, nil, nil
	})
	require.NoError(t, err)
	defer up.Release()

	snap := snapshot(t, s)
	require.Equal(t, "HOPPER", get(t, snap, p, "person/name"))
	h, err := snap.AsOf(res.Tx)
	require.NoError(t, err)
	require.Equal(t, "GRACE", get(t, h, p, "person/name"))
	h.Release()
	agree(t, snap)

	_, err = s.ScanUpdate(context.Bg(), func(d *datom.T) (*datom.T, []byte, error) {
		if d.A != name {
			return nil, nil, nil
		}
		return d.WithTx(d.Tx.Next()), nil, nil
	})
	require.Error(t, err)
}

func TestOversized(t *testing.T) {
	s := open(t)
	photo := frand.Bytes(datom.MaxInline + 100)
	tx := s.Begin()
	e := tx.TempId()
	tx.Add(e, "person/photo", photo)
	res := commit(t, tx)
	snap := snapshot(t, s)
	got := get(t, snap, res.Remaps.Resolve(e), "person/photo")
	require.True(t, bytes.Equal(photo, got.([]byte)))
}

func TestSubscribe(t *testing.T) {
	s := open(t)
	ch, cancel := s.Subscribe(1)
	var last ids.TxId
	for i := range 3 {
		tx := s.Begin()
		tx.Add(tx.TempId(), "person/name", fmt.Sprintf("s%d", i))
		last = commit(t, tx).Tx
	}
	snap := <-ch
	require.Equal(t, last, snap.Basis())
	snap.Release()
	select {
	case snap = <-ch:
		t.Fatalf("unexpected snapshot at %s", snap.Basis())
	default:
	}
	cancel()
	_, ok := <-ch
	require.False(t, ok)
}

func TestContext(t *testing.T) {
	s := open(t)
	c, cancel := context.Cancel(context.Bg())
	cancel()
	tx := s.Begin()
	tx.Add(tx.TempId(), "person/name", "nobody")
	_, err := tx.Commit(c)
	require.ErrorIs(t, err, context.Canceled)
}

func TestClose(t *testing.T) {
	s, err := store.New(context.Bg(), memkv.New(store.Columns()), store.Options{})
	require.NoError(t, err)
	ch, _ := s.Subscribe(0)
	require.NoError(t, s.Close())
	_, ok := <-ch
	require.False(t, ok)
	_, err = s.Snapshot()
	require.ErrorIs(t, err, store.ErrClosed)
	_, err = s.Migrate(context.Bg(), schema)
	require.ErrorIs(t, err, store.ErrClosed)
	require.ErrorIs(t, s.Close(), store.ErrClosed)
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	o := nodekv.DefaultOptions(dir)
	o.FlushThreshold = 16
	reopen := func() *store.T {
		b, err := nodekv.Open(o, store.Columns())
		require.NoError(t, err)
		s, err := store.New(context.Bg(), b, store.Options{})
		require.NoError(t, err)
		return s
	}
	s := reopen()
	res, err := s.Migrate(context.Bg(), schema)
	require.NoError(t, err)
	res.Release()
	var people []ids.EntityId
	for i := range 20 {
		tx := s.Begin()
		e := tx.TempId()
		tx.Add(e, "person/name", fmt.Sprintf("r%d", i))
		res, err = tx.Commit(context.Bg())
		require.NoError(t, err)
		people = append(people, res.Remaps.Resolve(e))
		res.Release()
	}
	last := people[len(people)-1]
	x, err := s.Excise(context.Bg(), []ids.EntityId{last})
	require.NoError(t, err)
	basis := x.Tx
	x.Release()
	require.NoError(t, s.Close())

	s = reopen()
	defer s.Close()
	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.Equal(t, basis, snap.Basis())
	require.Equal(t, "r3", get(t, snap, people[3], "person/name"))
	_, err = snap.Registry().BySymbol("person/email")
	require.NoError(t, err)
	agree(t, snap)
	snap.Release()

	tx := s.Begin()
	e := tx.TempId()
	tx.Add(e, "person/name", "after")
	res, err = tx.Commit(context.Bg())
	require.NoError(t, err)
	defer res.Release()
	require.Equal(t, basis.Next(), res.Tx)
	// the excised id is not handed out again
	require.Greater(t, res.Remaps.Resolve(e), last)
}
