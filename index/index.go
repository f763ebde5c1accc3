// Package index names the live indexes of a store and decides which of them a
// datom is projected into.
//
// Every datom lands in the TxLog and in EAVT/AEVT. AVET holds only indexed or
// unique attributes and VAET only reference values. Current indexes keep the
// latest assertion per fact; History indexes keep every assertion and
// retraction, except for attributes flagged NoHistory.
package index

import (
	"bytes"
	"fmt"

	"github.com/pkg/errors"

	"datom.lol/attr"
	"datom.lol/compare"
	"datom.lol/datom"
	"datom.lol/kv"
	"datom.lol/valuetag"
)

// Id identifies an index. It doubles as the backend column id.
type Id byte

const (
	TxLog Id = iota
	EAVTCurrent
	EAVTHistory
	AEVTCurrent
	AEVTHistory
	AVETCurrent
	AVETHistory
	VAETCurrent
	VAETHistory
	// Blobs holds out-of-line values keyed by digest. It is not a datom
	// index.
	Blobs

	count
)

var names = [count]string{
	"txlog",
	"eavt", "eavt-history",
	"aevt", "aevt-history",
	"avet", "avet-history",
	"vaet", "vaet-history",
	"blobs",
}

func (i Id) String() string {
	if i >= count {
		return fmt.Sprintf("index(%d)", byte(i))
	}
	return names[i]
}

// Parse returns the index with the given name.
func Parse(name string) (i Id, err error) {
	for n, s := range names {
		if s == name {
			return Id(n), nil
		}
	}
	err = errors.Errorf("unknown index %q", name)
	return
}

// Valid is true for defined indexes.
func (i Id) Valid() bool { return i < count }

// IsDatoms is true for indexes of datom keys.
func (i Id) IsDatoms() bool { return i < Blobs }

// IsHistory is true for the history variants and the tx log.
func (i Id) IsHistory() bool { return i == TxLog || (i.IsDatoms() && i%2 == 0) }

// IsCurrent is true for the current variants.
func (i Id) IsCurrent() bool { return i.IsDatoms() && i != TxLog && i%2 == 1 }

// History returns the history variant of a current index.
func (i Id) History() Id {
	if i.IsCurrent() {
		return i + 1
	}
	return i
}

// Current returns the current variant of a history index. The tx log has
// none and is returned unchanged.
func (i Id) Current() Id {
	if i.IsHistory() && i != TxLog {
		return i - 1
	}
	return i
}

// Order is the sort order of a datom index.
func (i Id) Order() compare.Order {
	switch i {
	case EAVTCurrent, EAVTHistory:
		return compare.EAVT
	case AEVTCurrent, AEVTHistory:
		return compare.AEVT
	case AVETCurrent, AVETHistory:
		return compare.AVET
	case VAETCurrent, VAETHistory:
		return compare.VAET
	}
	return compare.TxLog
}

// Datoms lists every datom index.
func Datoms() []Id {
	return []Id{TxLog, EAVTCurrent, EAVTHistory, AEVTCurrent, AEVTHistory,
		AVETCurrent, AVETHistory, VAETCurrent, VAETHistory}
}

// CurrentIndexes lists the current variants.
func CurrentIndexes() []Id { return []Id{EAVTCurrent, AEVTCurrent, AVETCurrent, VAETCurrent} }

// HistoryIndexes lists the history variants, without the tx log.
func HistoryIndexes() []Id { return []Id{EAVTHistory, AEVTHistory, AVETHistory, VAETHistory} }

// Includes decides whether a datom of an attribute defined by def belongs
// in index i.
func Includes(i Id, def *attr.Definition, d *datom.T) bool {
	if !i.IsDatoms() {
		return false
	}
	if i == TxLog {
		return true
	}
	if i.IsHistory() && def.NoHistory {
		return false
	}
	switch i.Current() {
	case AVETCurrent:
		return def.InAVET()
	case VAETCurrent:
		return d.Tag == valuetag.Reference
	}
	return true
}

// Columns returns the backend column set. Datom columns are ordered with the
// registry aware comparator of r.
func Columns(r compare.Resolver) (cols []kv.Column) {
	for _, i := range Datoms() {
		cols = append(cols, kv.Column{
			ID:         byte(i),
			Name:       i.String(),
			Comparator: compare.WithResolver(i.Order(), r),
			Datoms:     true,
		})
	}
	cols = append(cols, kv.Column{ID: byte(Blobs), Name: Blobs.String(),
		Comparator: bytes.Compare})
	return
}
