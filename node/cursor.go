package node

// Cursor walks the keys of an Index in order. A cursor that moved off either
// end is invalid, which is not an error; Err reports load failures only.
type Cursor struct {
	x     *Index
	pos   int
	leaf  Data
	start int
	buf   []byte
	err   error
}

// Cursor returns an unpositioned cursor over x.
func (x *Index) Cursor() *Cursor { return &Cursor{x: x, pos: -1} }

func (c *Cursor) Valid() bool { return c.err == nil && c.pos >= 0 && c.pos < c.x.DeepLen() }

func (c *Cursor) Err() error { return c.err }

// Pos is the position of the cursor in the index.
func (c *Cursor) Pos() int { return c.pos }

// Seek moves to the first key >= key.
func (c *Cursor) Seek(key []byte) {
	c.pos, c.err = c.x.Find(key)
}

// SeekForPrev moves to the last key <= key.
func (c *Cursor) SeekForPrev(key []byte) {
	if c.pos, c.err = c.x.Find(key); c.err != nil {
		return
	}
	if c.Valid() && c.x.tree.Cmp(c.Key(), key) == 0 {
		return
	}
	c.pos--
}

func (c *Cursor) First() { c.pos = 0 }
func (c *Cursor) Last()  { c.pos = c.x.DeepLen() - 1 }
func (c *Cursor) Next()  { c.pos++ }
func (c *Cursor) Prev()  { c.pos-- }

// Key returns the current key. It is valid until the cursor moves.
func (c *Cursor) Key() []byte {
	if !c.Valid() {
		return nil
	}
	if c.leaf == nil || c.pos < c.start || c.pos >= c.start+c.leaf.Len() {
		if c.leaf, c.start, c.err = c.x.Leaf(c.pos); c.err != nil {
			c.leaf = nil
			return nil
		}
	}
	c.buf = c.leaf.Key(c.buf[:0], c.pos-c.start)
	return c.buf
}
