package node

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU is a size bound Cache.
type LRU struct {
	c *lru.Cache[uint64, Node]
}

// NewLRU returns a cache holding at most size nodes.
func NewLRU(size int) (l *LRU, err error) {
	var c *lru.Cache[uint64, Node]
	if c, err = lru.New[uint64, Node](max(size, 1)); chk.E(err) {
		return
	}
	return &LRU{c: c}, nil
}

func (l *LRU) Get(id uint64) (n Node, ok bool) { return l.c.Get(id) }
func (l *LRU) Add(id uint64, n Node)            { l.c.Add(id, n) }
func (l *LRU) Remove(id uint64)                 { l.c.Remove(id) }

// Purge drops every cached node.
func (l *LRU) Purge() { l.c.Purge() }

// Len is the number of cached nodes.
func (l *LRU) Len() int { return l.c.Len() }
