package memkv

// iterator walks one tree. Every step is a fresh descent from the root, which
// keeps the iterator valid no matter what happens to later clones.
type iterator struct {
	t     *tree
	cmp   func(a, b []byte) int
	cur   item
	valid bo
}

func (i *iterator) set(it item, ok bo) { i.cur, i.valid = it, ok }

func (i *iterator) Seek(key by) {
	var found bo
	i.t.AscendGreaterOrEqual(item{key: key}, func(it item) bool {
		i.cur, found = it, true
		return false
	})
	i.valid = found
}

func (i *iterator) SeekForPrev(key by) {
	var found bo
	i.t.DescendLessOrEqual(item{key: key}, func(it item) bool {
		i.cur, found = it, true
		return false
	})
	i.valid = found
}

func (i *iterator) First() { i.set(i.t.Min()) }
func (i *iterator) Last()  { i.set(i.t.Max()) }

func (i *iterator) Next() {
	if !i.valid {
		return
	}
	var found bo
	from := i.cur
	i.t.AscendGreaterOrEqual(from, func(it item) bool {
		if i.cmp(it.key, from.key) == 0 {
			return true
		}
		i.cur, found = it, true
		return false
	})
	i.valid = found
}

func (i *iterator) Prev() {
	if !i.valid {
		return
	}
	var found bo
	from := i.cur
	i.t.DescendLessOrEqual(from, func(it item) bool {
		if i.cmp(it.key, from.key) == 0 {
			return true
		}
		i.cur, found = it, true
		return false
	})
	i.valid = found
}

func (i *iterator) Valid() bo { return i.valid }

func (i *iterator) Key() by {
	if !i.valid {
		return nil
	}
	return i.cur.key
}

func (i *iterator) Value() by {
	if !i.valid {
		return nil
	}
	return i.cur.value
}

func (i *iterator) Err() er { return nil }
func (i *iterator) Close()  { i.valid = false }
