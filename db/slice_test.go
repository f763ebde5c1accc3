package db

import (
	"bytes"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"

	"datom.lol/attr"
	"datom.lol/compare"
	"datom.lol/datom"
	"datom.lol/ids"
	"datom.lol/index"
	"datom.lol/valuetag"
)

func TestReverseAsOfBoundedByFact(t *testing.T) {
	h := newHarness(t)
	e := entity(1)
	p := h.commit(h.add(e, "person/photo", []byte{1, 2}), h.add(e, "person/flag", nil))
	h.commit(h.add(e, "person/photo", []byte{3}))
	s, err := h.s.AsOf(p.Tx)
	require.NoError(t, err)
	defer s.Release()
	// the exclusive end of the photo slice is the flag fact itself
	sl := EntityAttributeSlice(e, attr.FirstUser+4)
	fwd := h.scan(s, sl)
	require.Len(t, fwd, 1)
	rev := h.scan(s, sl.Reversed())
	require.Len(t, rev, 1)
	require.Equal(t, []byte{1, 2}, rev[0].V)
	require.Equal(t, p.Tx, rev[0].Tx)
}

func TestAsOfSeekLaterTx(t *testing.T) {
	h := newHarness(t)
	e := entity(2)
	p := h.commit(h.add(e, "person/tag", "a"), h.add(e, "person/tag", "b"))
	h.commit(h.add(e, "person/tag", "c"))
	s, err := h.s.AsOf(h.s.Basis())
	require.NoError(t, err)
	defer s.Release()
	// a seek key at a later tx than the stored datom of "a" sorts after it
	key := h.add(e, "person/tag", "a").WithTx(p.Tx.Next()).Key()
	it, err := s.Datoms(EntityAttributeSlice(e, attr.FirstUser+2))
	require.NoError(t, err)
	defer it.Close()
	it.Seek(key)
	var got []string
	for it.Next() {
		require.GreaterOrEqual(t, it.cmp(it.Datom().Key(), key), 0)
		got = append(got, string(it.Datom().V))
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"b", "c"}, got)

	rit, err := s.Datoms(EntityAttributeSlice(e, attr.FirstUser+2).Reversed())
	require.NoError(t, err)
	defer rit.Close()
	rit.Seek(h.add(e, "person/tag", "b").WithTx(p.Tx - 1).Key())
	got = got[:0]
	for rit.Next() {
		got = append(got, string(rit.Datom().V))
	}
	require.NoError(t, rit.Err())
	require.Equal(t, []string{"a"}, got)
}

// sliceHarness fills a store with random facts over a few entities and every
// kind of attribute, retractions included.
func sliceHarness(t *testing.T) (h *harness, txs []ids.TxId) {
	h = newHarness(t)
	for range 12 {
		var ds []*datom.T
		for range 8 {
			e := entity(frand.Uint64n(6) + 1)
			switch frand.Intn(7) {
			case 0:
				ds = append(ds, h.add(e, "person/name", fmt.Sprintf("n%d", frand.Intn(5))))
			case 1:
				ds = append(ds, h.add(e, "person/tag", string(rune('a'+frand.Intn(4)))))
			case 2:
				ds = append(ds, h.retract(e, "person/tag", string(rune('a'+frand.Intn(4)))))
			case 3:
				ds = append(ds, h.add(e, "person/friend", entity(frand.Uint64n(6)+1)))
			case 4:
				ds = append(ds, h.add(e, "person/photo", frand.Bytes(1+frand.Intn(3))))
			case 5:
				ds = append(ds, h.add(e, "person/flag", nil))
			default:
				ds = append(ds, h.retract(e, "person/flag", nil))
			}
		}
		txs = append(txs, h.commit(ds...).Tx)
	}
	return
}

func slicesOf(txs []ids.TxId) (out map[string]Slice) {
	out = make(map[string]Slice)
	for _, i := range index.Datoms() {
		out["all "+i.String()] = All(i)
	}
	a, _ := valuetag.Encode(valuetag.Ascii, "a")
	out["tag a"] = AttributeValueSlice(attr.FirstUser+2, valuetag.Ascii, a)
	out["refs 3"] = ReferenceSlice(entity(3))
	out["entities"] = PartitionSlice(ids.Entity)
	out["tx"] = TxSlice(txs[4])
	out["tx range"] = TxRange(txs[2], txs[7])
	for n := uint64(1); n <= 6; n++ {
		e := entity(n)
		out[fmt.Sprintf("entity %d", n)] = EntitySlice(e)
		out[fmt.Sprintf("entity %d history", n)] = EntitySlice(e).History()
		for a := attr.FirstUser; a <= attr.FirstUser+5; a++ {
			out[fmt.Sprintf("entity %d attr %d", n, a)] = EntityAttributeSlice(e, a)
		}
	}
	for a := attr.FirstUser; a <= attr.FirstUser+5; a++ {
		out[fmt.Sprintf("attr %d", a)] = AttributeSlice(a)
		out[fmt.Sprintf("attr %d history", a)] = AttributeSlice(a).History()
	}
	return
}

func keysOf(ds []*datom.T) (keys [][]byte) {
	for _, d := range ds {
		keys = append(keys, d.Key())
	}
	return
}

// within filters a whole index down to what a slice and a seek key select.
func within(all [][]byte, sl Slice, cmp compare.Fn, seek []byte) (keys [][]byte) {
	for _, k := range all {
		if sl.From != nil && cmp(k, sl.From) < 0 || sl.To != nil && cmp(k, sl.To) >= 0 {
			continue
		}
		if seek != nil && (!sl.Reverse && cmp(k, seek) < 0 || sl.Reverse && cmp(k, seek) > 0) {
			continue
		}
		keys = append(keys, k)
	}
	if sl.Reverse {
		slices.Reverse(keys)
	}
	return
}

func TestSlicesAgainstFullScan(t *testing.T) {
	h, txs := sliceHarness(t)
	asOf, err := h.s.AsOf(txs[6])
	require.NoError(t, err)
	defer asOf.Release()
	var overlay []*datom.T
	for n := uint64(1); n <= 6; n++ {
		overlay = append(overlay, h.add(entity(n), "person/tag", "b"),
			h.retract(entity(n), "person/tag", "a"), h.add(entity(n), "person/flag", nil))
	}
	asIf, err := h.s.AsIf(overlay, h.blobs)
	require.NoError(t, err)
	defer asIf.Release()
	snaps := map[string]*T{"current": h.s, "as of": asOf, "as if": asIf}
	for sname, s := range snaps {
		for name, sl := range slicesOf(txs) {
			all := keysOf(h.scan(s, All(sl.Index)))
			cmp := compare.WithResolver(sl.Index.Order(), s.Registry())
			for _, sl := range []Slice{sl, sl.Reversed()} {
				label := fmt.Sprintf("%s %s reverse=%v", sname, name, sl.Reverse)
				want := within(all, sl, cmp, nil)
				require.Equal(t, want, keysOf(h.scan(s, sl)), label)
				if len(want) == 0 {
					continue
				}
				// seek to a stored key or next to it, at a moved tx
				d, err := datom.Decode(bytes.Clone(want[frand.Intn(len(want))]))
				require.NoError(t, err)
				k := *d
				switch frand.Intn(3) {
				case 1:
					k.Tx = k.Tx.Next()
				case 2:
					k.Tx = ids.TxFromCounter(k.Tx.Counter() - 1)
				}
				seek := k.Key()
				it, err := s.Datoms(sl)
				require.NoError(t, err)
				it.Seek(seek)
				var got [][]byte
				for it.Next() {
					got = append(got, it.Datom().Key())
				}
				require.NoError(t, it.Err())
				it.Close()
				require.Equal(t, within(all, sl, cmp, seek), got, label+" seek")
			}
		}
	}
}
