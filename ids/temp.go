package ids

import (
	"sync/atomic"
)

// TxTemp is the temp id that always remaps to the entity of the transaction
// it is used in.
var TxTemp = Make(Temp, 0)

// TempIds hands out temp ids for a single in-flight transaction.
type TempIds struct {
	next atomic.Uint64
}

// Next returns a fresh temp id. The first id is Make(Temp, 1), Make(Temp, 0)
// is reserved for TxTemp.
func (t *TempIds) Next() EntityId { return Make(Temp, t.next.Add(1)) }

// Remaps maps temp ids to the permanent ids assigned at commit.
type Remaps map[EntityId]EntityId

// Resolve returns the permanent id of e, or e itself if it is not a temp id
// or has not been remapped.
func (r Remaps) Resolve(e EntityId) EntityId {
	if !e.IsTemp() {
		return e
	}
	if p, ok := r[e]; ok {
		return p
	}
	return e
}

// Allocator assigns permanent ids inside a partition. It is only used by the
// single writer, so it is not synchronised.
type Allocator struct {
	last map[Partition]uint64
}

// NewAllocator creates an allocator that continues after the given maxima.
func NewAllocator(max map[Partition]uint64) (a *Allocator) {
	a = &Allocator{last: make(map[Partition]uint64)}
	for p, v := range max {
		a.last[p] = v
	}
	return
}

// Next allocates the next id in p.
func (a *Allocator) Next(p Partition) EntityId {
	a.last[p]++
	return Make(p, a.last[p])
}

// Observe raises the high water mark of the partition of e if needed.
func (a *Allocator) Observe(e EntityId) {
	if e.IsTemp() {
		return
	}
	if c := e.Counter(); c > a.last[e.Partition()] {
		a.last[e.Partition()] = c
	}
}

// Last returns the highest allocated counter of a partition.
func (a *Allocator) Last(p Partition) uint64 { return a.last[p] }

// Clone copies the allocator so a failed commit can discard its allocations.
func (a *Allocator) Clone() (c *Allocator) { return NewAllocator(a.last) }
