// Package node holds the in-memory shapes of an index: Appendable and Packed
// data nodes, Reference nodes standing in for data not yet loaded, and Index
// nodes composing them under one sort order.
//
// Nodes reachable from an Index are never modified. Ingest and Flush build new
// Index values that share every untouched child with the old one, so a reader
// holding an old root keeps a consistent tree for as long as it likes.
package node

import (
	"fmt"

	"github.com/pkg/errors"

	"datom.lol/compare"
)

// ErrStaleReference is returned when a Reference no longer resolves. It means
// the backing store lost data and is not retried.
var ErrStaleReference = errors.New("stale node reference")

// ErrCorruptNode is returned when a serialized node fails to decode.
var ErrCorruptNode = errors.New("corrupt node")

// Kind tells leaf and index nodes apart in references and serialized form.
type Kind byte

const (
	LeafKind  Kind = 'P'
	IndexKind Kind = 'I'
)

func (k Kind) String() string {
	switch k {
	case LeafKind:
		return "leaf"
	case IndexKind:
		return "index"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// Node is one of *Appendable, *Packed, *Reference or *Index.
type Node interface {
	// Len is the number of datoms under the node.
	Len() int
	Kind() Kind
}

// Data is the read contract shared by Appendable and Packed.
type Data interface {
	Node
	// Key appends key i to dst.
	Key(dst []byte, i int) []byte
	// Find returns the first position whose key is >= target under fn, or
	// Len if there is none.
	Find(target []byte, fn compare.Fn) int
}

// Loader fetches serialized nodes. A missing node is reported as a nil slice
// with a nil error.
type Loader interface {
	Load(id uint64) (b []byte, err error)
}

// Writer stores serialized nodes and hands out their ids.
type Writer interface {
	Write(kind Kind, b []byte) (id uint64, err error)
}

// Cache keeps resolved nodes by id. It must tolerate concurrent use.
type Cache interface {
	Get(id uint64) (n Node, ok bool)
	Add(id uint64, n Node)
	Remove(id uint64)
}

// Tree is the context shared by every node of one index tree.
type Tree struct {
	// Cmp orders the keys of the tree.
	Cmp compare.Fn
	// Target is the datom count a leaf is split towards; leaves stay within
	// Target/2 and 2*Target after an ingest.
	Target int
	// Fanout is the maximum number of children of an index node.
	Fanout int
	Loader Loader
	Cache  Cache
}

// Empty returns an index without children.
func (t *Tree) Empty() *Index { return &Index{tree: t} }

// find is the lower bound of target in any data node.
func find(d Data, target []byte, fn compare.Fn) int {
	var buf []byte
	lo, hi := 0, d.Len()
	for lo < hi {
		m := int(uint(lo+hi) >> 1)
		buf = d.Key(buf[:0], m)
		if fn(buf, target) < 0 {
			lo = m + 1
		} else {
			hi = m
		}
	}
	return lo
}
