// Package kv is the ordered key-value backend seam. The datom store only ever
// talks to an I; memkv and nodekv are the two implementations.
//
// A backend holds a fixed set of columns, each ordered by its own comparator.
// Writes arrive as batches that are applied atomically across all columns,
// reads go through views that never observe a later write.
package kv

import (
	"io"

	"github.com/pkg/errors"

	"datom.lol/compare"
)

var (
	// ErrBackendFailure wraps every error that comes out of the storage engine.
	ErrBackendFailure = errors.New("backend failure")
	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = errors.New("key not found")
	// ErrClosed is returned by a backend after Close.
	ErrClosed = errors.New("backend closed")
)

// Column is one ordered keyspace.
type Column struct {
	ID         byte
	Name       st
	Comparator compare.Fn
	// Datoms marks columns whose keys are datom keys with empty values.
	Datoms bo
}

// Op is one write in a batch. A nil Value on a put stores an empty value.
type Op struct {
	Col    byte
	Key    by
	Value  by
	Delete bo
}

// Batch is an ordered list of writes applied as one unit.
type Batch struct {
	Ops []Op
}

// Put appends a put. The batch takes ownership of key and value.
func (b *Batch) Put(col byte, key, value by) {
	b.Ops = append(b.Ops, Op{Col: col, Key: key, Value: value})
}

// Delete appends a delete.
func (b *Batch) Delete(col byte, key by) {
	b.Ops = append(b.Ops, Op{Col: col, Key: key, Delete: true})
}

// Len is the number of operations.
func (b *Batch) Len() no { return len(b.Ops) }

// Append adds every operation of o.
func (b *Batch) Append(o *Batch) { b.Ops = append(b.Ops, o.Ops...) }

// I is an ordered key-value backend.
type I interface {
	Writer
	Viewer
	Compactor
	// Closer must be called after the last view has been released.
	io.Closer
}

type Writer interface {
	// Write applies a batch atomically. On error nothing of the batch is
	// visible to any view.
	Write(c cx, b *Batch) (err er)
}

type Viewer interface {
	// View returns a consistent read view of every column as of the last
	// completed Write.
	View() (v View, err er)
}

type Compactor interface {
	// FlushAndCompact persists buffered state and reclaims space.
	FlushAndCompact(c cx) (err er)
}

// View is an immutable read view. Release must be called once it is no
// longer used.
type View interface {
	// Get returns the value stored under a key equal to key under the
	// column's comparator, with the stored key.
	Get(col byte, key by) (k, v by, err er)
	// Iterator opens an iterator over one column. It starts out invalid
	// until positioned.
	Iterator(col byte) (it Iterator, err er)
	Release()
}

// Iterator walks one column of a view in comparator order. Moving past either
// end leaves it invalid; that is not an error.
type Iterator interface {
	// Seek positions at the first key >= key.
	Seek(key by)
	// SeekForPrev positions at the last key <= key.
	SeekForPrev(key by)
	First()
	Last()
	Next()
	Prev()
	Valid() bo
	// Key and Value are valid until the iterator moves.
	Key() by
	Value() by
	Err() er
	Close()
}
