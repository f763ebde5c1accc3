package node

import (
	"github.com/pkg/errors"
)

// Reference stands in for a node stored by id. It knows enough to route
// searches past it (count and last key) without loading it.
type Reference struct {
	tree  *Tree
	id    uint64
	kind  Kind
	count int
	last  []byte
}

// NewReference builds a reference to a stored node.
func (t *Tree) NewReference(id uint64, kind Kind, count int, last []byte) *Reference {
	return &Reference{tree: t, id: id, kind: kind, count: count, last: last}
}

func (r *Reference) Len() int   { return r.count }
func (r *Reference) Kind() Kind { return r.kind }

// Id is the store key of the referenced node.
func (r *Reference) Id() uint64 { return r.id }

// LastKey is the largest key under the node.
func (r *Reference) LastKey() []byte { return r.last }

// Resolve returns the referenced node, loading it through the tree's Loader
// on a cache miss. Concurrent misses may load the same node twice; both
// results are identical.
func (r *Reference) Resolve() (n Node, err error) {
	if r.tree.Cache != nil {
		var ok bool
		if n, ok = r.tree.Cache.Get(r.id); ok {
			return
		}
	}
	var b []byte
	if b, err = r.tree.Loader.Load(r.id); err != nil {
		return
	}
	if b == nil {
		err = errors.Wrapf(ErrStaleReference, "%s node %d", r.kind, r.id)
		return
	}
	switch r.kind {
	case LeafKind:
		n, err = UnmarshalPacked(b)
	case IndexKind:
		n, err = r.tree.UnmarshalIndex(b)
	default:
		err = errors.Wrapf(ErrCorruptNode, "reference of %s", r.kind)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "node %d", r.id)
	}
	if n.Len() != r.count {
		err = errors.Wrapf(ErrCorruptNode, "node %d holds %d datoms, reference says %d",
			r.id, n.Len(), r.count)
		return nil, err
	}
	if r.tree.Cache != nil {
		r.tree.Cache.Add(r.id, n)
	}
	return
}
