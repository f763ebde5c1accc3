package node

import (
	"slices"
	"sort"

	"github.com/pkg/errors"

	"datom.lol/varint"
)

const indexVersion = 1

type child struct {
	n     Node
	count int
	last  []byte
}

// Index is an immutable node composing children under one sort order. The
// children may be data nodes, references or other indexes; together they hold
// the keys in order, and the last key of each child is smaller than every key
// of the next.
type Index struct {
	tree     *Tree
	children []child
	ends     []int // ends[j] is the datom count of children 0..j
}

func (t *Tree) newIndex(kids []child) *Index {
	x := &Index{tree: t, children: kids, ends: make([]int, len(kids))}
	total := 0
	for j, c := range kids {
		total += c.count
		x.ends[j] = total
	}
	return x
}

// Len is the number of datoms under the node, the same as DeepLen.
func (x *Index) Len() int   { return x.DeepLen() }
func (x *Index) Kind() Kind { return IndexKind }

// DeepLen is the number of datoms under the node: always the sum of the
// lengths of its children.
func (x *Index) DeepLen() int {
	if len(x.ends) == 0 {
		return 0
	}
	return x.ends[len(x.ends)-1]
}

// Children is the number of direct children.
func (x *Index) Children() int { return len(x.children) }

// Tree returns the context the index was built with.
func (x *Index) Tree() *Tree { return x.tree }

// LastKey is the largest key under the node.
func (x *Index) LastKey() []byte {
	if len(x.children) == 0 {
		return nil
	}
	return x.children[len(x.children)-1].last
}

func (x *Index) start(j int) int {
	if j == 0 {
		return 0
	}
	return x.ends[j-1]
}

// resolve loads a reference child; other nodes are returned as they are.
func resolve(n Node) (Node, error) {
	if r, ok := n.(*Reference); ok {
		return r.Resolve()
	}
	return n, nil
}

// route returns the first child whose last key is >= key.
func (x *Index) route(key []byte) int {
	return sort.Search(len(x.children), func(j int) bool {
		return x.tree.Cmp(x.children[j].last, key) >= 0
	})
}

// Find returns the position of the first key >= target, DeepLen if there is
// none.
func (x *Index) Find(target []byte) (pos int, err error) {
	j := x.route(target)
	if j == len(x.children) {
		return x.DeepLen(), nil
	}
	var n Node
	if n, err = resolve(x.children[j].n); err != nil {
		return
	}
	switch v := n.(type) {
	case Data:
		pos = v.Find(target, x.tree.Cmp)
	case *Index:
		if pos, err = v.Find(target); err != nil {
			return
		}
	}
	return x.start(j) + pos, nil
}

// Leaf returns the data node holding position pos and the position of its
// first key.
func (x *Index) Leaf(pos int) (d Data, start int, err error) {
	if pos < 0 || pos >= x.DeepLen() {
		err = errors.Errorf("position %d out of range %d", pos, x.DeepLen())
		return
	}
	j := sort.SearchInts(x.ends, pos+1)
	var n Node
	if n, err = resolve(x.children[j].n); err != nil {
		return
	}
	switch v := n.(type) {
	case Data:
		return v, x.start(j), nil
	case *Index:
		if d, start, err = v.Leaf(pos - x.start(j)); err != nil {
			return
		}
		return d, start + x.start(j), nil
	}
	err = errors.Wrapf(ErrCorruptNode, "child of kind %s", n.Kind())
	return
}

// Key appends the key at pos to dst.
func (x *Index) Key(dst []byte, pos int) (k []byte, err error) {
	var d Data
	var start int
	if d, start, err = x.Leaf(pos); err != nil {
		return
	}
	return d.Key(dst, pos-start), nil
}

// Ingest returns a new index holding the keys of x without removes and with
// adds. An added key equal to a stored one replaces it; a key both removed
// and added ends up present. x is not modified.
func (x *Index) Ingest(adds, removes *Appendable) (n *Index, err error) {
	var a, r [][]byte
	if adds != nil {
		a = dedupe(adds.Keys(), x.tree.Cmp)
	}
	if removes != nil {
		r = dedupe(removes.Keys(), x.tree.Cmp)
	}
	if len(a) == 0 && len(r) == 0 {
		return x, nil
	}
	var kids []child
	if kids, err = x.ingest(a, r); err != nil {
		return
	}
	for len(kids) > max(x.tree.Fanout, 2) {
		kids = x.tree.group(kids)
	}
	if len(kids) == 1 {
		if sub, ok := kids[0].n.(*Index); ok {
			return sub, nil
		}
	}
	n = x.tree.newIndex(kids)
	return
}

// dedupe sorts keys and keeps the last of every run of equal keys.
func dedupe(keys [][]byte, cmp func(a, b []byte) int) [][]byte {
	slices.SortStableFunc(keys, cmp)
	out := keys[:0]
	for i, k := range keys {
		if i+1 < len(keys) && cmp(k, keys[i+1]) == 0 {
			continue
		}
		out = append(out, k)
	}
	return out
}

// group wraps kids into index nodes of at most Fanout children when there
// are too many of them for one node.
func (t *Tree) group(kids []child) []child {
	fanout := max(t.Fanout, 2)
	if len(kids) <= fanout {
		return kids
	}
	k := (len(kids) + fanout - 1) / fanout
	out := make([]child, 0, k)
	for g := range k {
		from, to := g*len(kids)/k, (g+1)*len(kids)/k
		sub := t.newIndex(slices.Clone(kids[from:to]))
		out = append(out, child{n: sub, count: sub.DeepLen(), last: sub.LastKey()})
	}
	return out
}

// ingest returns the children replacing those of x.
func (x *Index) ingest(adds, removes [][]byte) (kids []child, err error) {
	if len(x.children) == 0 {
		return x.tree.leaves(FromKeys(adds)), nil
	}
	cmp := x.tree.Cmp
	var ai, ri int
	for j, c := range x.children {
		last := j == len(x.children)-1
		aj, rj := ai, ri
		for aj < len(adds) && (last || cmp(adds[aj], c.last) <= 0) {
			aj++
		}
		for rj < len(removes) && cmp(removes[rj], c.last) <= 0 {
			rj++
		}
		if aj == ai && rj == ri {
			kids = append(kids, c)
			continue
		}
		var n Node
		if n, err = resolve(c.n); err != nil {
			return
		}
		switch v := n.(type) {
		case Data:
			merged := x.tree.merge(v, adds[ai:aj], removes[ri:rj])
			kids = append(kids, x.tree.leaves(merged)...)
		case *Index:
			var sub []child
			if sub, err = v.ingest(adds[ai:aj], removes[ri:rj]); err != nil {
				return
			}
			if len(sub) == 0 {
				break
			}
			if len(sub) <= max(x.tree.Fanout, 2) {
				si := x.tree.newIndex(sub)
				kids = append(kids, child{n: si, count: si.DeepLen(), last: si.LastKey()})
			} else {
				kids = append(kids, x.tree.group(sub)...)
			}
		default:
			err = errors.Wrapf(ErrCorruptNode, "child of kind %s", n.Kind())
			return
		}
		ai, ri = aj, rj
	}
	return x.tree.coalesce(kids)
}

// coalesce merges a leaf that fell below half the target into a neighbouring
// leaf. Only leaves rewritten by this ingest are looked at, so a stored leaf
// is loaded only to take in a shrunken neighbour.
func (t *Tree) coalesce(kids []child) (out []child, err error) {
	low := t.Target / 2
	if low < 1 || len(kids) < 2 {
		return kids, nil
	}
	out = make([]child, 0, len(kids))
	for j := 0; j < len(kids); j++ {
		c := kids[j]
		_, stored := c.n.(*Reference)
		if stored || c.count >= low || c.n.Kind() != LeafKind {
			out = append(out, c)
			continue
		}
		var joined []child
		switch {
		case len(out) > 0 && out[len(out)-1].n.Kind() == LeafKind:
			prev := out[len(out)-1]
			out = out[:len(out)-1]
			if joined, err = t.join(prev, c); err != nil {
				return
			}
		case j+1 < len(kids) && kids[j+1].n.Kind() == LeafKind:
			if joined, err = t.join(c, kids[j+1]); err != nil {
				return
			}
			j++
		default:
			joined = []child{c}
		}
		out = append(out, joined...)
	}
	return
}

// join concatenates two adjacent leaves and splits the result back towards
// the target.
func (t *Tree) join(a, b child) (kids []child, err error) {
	m := NewAppendable(a.count + b.count)
	var k []byte
	for _, c := range []child{a, b} {
		var n Node
		if n, err = resolve(c.n); err != nil {
			return
		}
		d, ok := n.(Data)
		if !ok {
			return nil, errors.Wrapf(ErrCorruptNode, "leaf of kind %s", n.Kind())
		}
		for i := range d.Len() {
			k = d.Key(k[:0], i)
			m.AddKey(k)
		}
	}
	return t.leaves(m), nil
}

// leaves splits a merged data node into leaf children.
func (t *Tree) leaves(a *Appendable) (kids []child) {
	if a.Len() == 0 {
		return
	}
	for _, p := range a.Split(t.Target) {
		kids = append(kids, child{n: p, count: p.Len(), last: lastKey(p)})
	}
	return
}

// merge applies sorted removes then sorted adds to a data node.
func (t *Tree) merge(d Data, adds, removes [][]byte) (out *Appendable) {
	cmp := t.Cmp
	n := d.Len()
	out = NewAppendable(n + len(adds))
	var k []byte
	i, a, r := 0, 0, 0
	for i < n || a < len(adds) {
		if i < n {
			k = d.Key(k[:0], i)
		}
		if a < len(adds) && (i >= n || cmp(adds[a], k) <= 0) {
			if i < n && cmp(adds[a], k) == 0 {
				i++
			}
			out.AddKey(adds[a])
			a++
			continue
		}
		for r < len(removes) && cmp(removes[r], k) < 0 {
			r++
		}
		if r < len(removes) && cmp(removes[r], k) == 0 {
			r++
			i++
			continue
		}
		out.AddKey(k)
		i++
	}
	return
}

// Flush writes every child that is not yet stored and returns an index whose
// children are all references. The written nodes go into the tree's cache,
// so the first read after a flush does not load them back.
func (x *Index) Flush(w Writer) (n *Index, err error) {
	kids := make([]child, len(x.children))
	for j, c := range x.children {
		var b []byte
		var kind Kind
		var resolved Node
		switch v := c.n.(type) {
		case *Reference:
			kids[j] = c
			continue
		case *Index:
			var f *Index
			if f, err = v.Flush(w); err != nil {
				return
			}
			if b, err = f.MarshalBinary(); err != nil {
				return
			}
			kind, resolved = IndexKind, f
		case *Appendable:
			p := v.Pack()
			if b, err = p.MarshalBinary(); err != nil {
				return
			}
			kind, resolved = LeafKind, p
		case *Packed:
			if b, err = v.MarshalBinary(); err != nil {
				return
			}
			kind, resolved = LeafKind, v
		}
		var id uint64
		if id, err = w.Write(kind, b); err != nil {
			return
		}
		if x.tree.Cache != nil {
			x.tree.Cache.Add(id, resolved)
		}
		kids[j] = child{n: x.tree.NewReference(id, kind, c.count, c.last), count: c.count,
			last: c.last}
	}
	return x.tree.newIndex(kids), nil
}

// Flushed is true when every child is a reference.
func (x *Index) Flushed() bool {
	for _, c := range x.children {
		if _, ok := c.n.(*Reference); !ok {
			return false
		}
	}
	return true
}

// References calls fn with the id of every stored node under x, loading
// stored index nodes to walk them.
func (x *Index) References(fn func(id uint64, kind Kind)) (err error) {
	for _, c := range x.children {
		var n Node = c.n
		if r, ok := c.n.(*Reference); ok {
			fn(r.id, r.kind)
			if r.kind == LeafKind {
				continue
			}
			if n, err = r.Resolve(); err != nil {
				return
			}
		}
		if sub, ok := n.(*Index); ok {
			if err = sub.References(fn); err != nil {
				return
			}
		}
	}
	return
}

// MarshalBinary serializes a flushed index as a manifest of references.
func (x *Index) MarshalBinary() (b []byte, err error) {
	b = append(b, byte(IndexKind), indexVersion)
	b = varint.Append(b, uint64(len(x.children)))
	for _, c := range x.children {
		r, ok := c.n.(*Reference)
		if !ok {
			err = errors.New("index has unflushed children")
			return
		}
		b = append(b, byte(r.kind))
		b = varint.Append(b, r.id)
		b = varint.Append(b, uint64(r.count))
		b = varint.Append(b, uint64(len(r.last)))
		b = append(b, r.last...)
	}
	return
}

// UnmarshalIndex decodes a manifest into an index of references.
func (t *Tree) UnmarshalIndex(b []byte) (x *Index, err error) {
	if len(b) < 2 || Kind(b[0]) != IndexKind || b[1] != indexVersion {
		err = errors.Wrap(ErrCorruptNode, "not an index manifest")
		return
	}
	b = b[2:]
	var n uint64
	if n, b, err = varint.Read(b); err != nil {
		return nil, errors.Wrap(ErrCorruptNode, err.Error())
	}
	kids := make([]child, 0, n)
	for range n {
		if len(b) < 1 {
			return nil, errors.Wrap(ErrCorruptNode, "truncated manifest")
		}
		kind := Kind(b[0])
		if kind != LeafKind && kind != IndexKind {
			return nil, errors.Wrapf(ErrCorruptNode, "reference of kind %d", b[0])
		}
		var id, count, l uint64
		if id, b, err = varint.Read(b[1:]); err == nil {
			if count, b, err = varint.Read(b); err == nil {
				l, b, err = varint.Read(b)
			}
		}
		if err != nil || uint64(len(b)) < l {
			return nil, errors.Wrap(ErrCorruptNode, "truncated manifest entry")
		}
		last := append([]byte{}, b[:l]...)
		b = b[l:]
		kids = append(kids, child{n: t.NewReference(id, kind, int(count), last),
			count: int(count), last: last})
	}
	return t.newIndex(kids), nil
}
