// Package attr is the schema authority: attribute definitions, the built-in
// schema attributes and the registry that maps symbols to attribute ids.
//
// Definitions are stored as ordinary datoms on entities of the attribute
// partition, so the registry can be rebuilt from any copy of the data.
package attr

import (
	"fmt"

	"github.com/pkg/errors"

	"datom.lol/ids"
	"datom.lol/valuetag"
)

var (
	// ErrUnknownAttribute is returned when a symbol or id is not registered.
	ErrUnknownAttribute = errors.New("unknown attribute")
	// ErrSchemaConflict is returned when a schema change cannot be applied
	// without destroying or contradicting stored data.
	ErrSchemaConflict = errors.New("schema conflict")
)

// Cardinality is the number of values an entity may hold for an attribute.
type Cardinality byte

const (
	One Cardinality = iota + 1
	Many
)

func (c Cardinality) String() string {
	switch c {
	case One:
		return "one"
	case Many:
		return "many"
	}
	return fmt.Sprintf("cardinality(%d)", byte(c))
}

// Definition describes one attribute.
type Definition struct {
	Symbol      string
	Id          ids.AttributeId
	Tag         valuetag.T
	Cardinality Cardinality
	Indexed     bool
	Unique      bool
	Optional    bool
	NoHistory   bool
}

// Entity is the attribute entity carrying the definition datoms.
func (d *Definition) Entity() ids.EntityId { return d.Id.Entity() }

// InAVET is true when the attribute has entries in the AVET indexes.
func (d *Definition) InAVET() bool { return d.Indexed || d.Unique }

// IsReference is true for entity valued attributes.
func (d *Definition) IsReference() bool { return d.Tag == valuetag.Reference }

// Validate checks a definition for internal consistency.
func (d *Definition) Validate() (err error) {
	switch {
	case d.Symbol == "":
		err = errors.Wrap(ErrSchemaConflict, "attribute without a symbol")
	case d.Id > ids.MaxAttribute:
		err = errors.Wrapf(ErrSchemaConflict, "%s: id %d out of range", d.Symbol, d.Id)
	case !d.Tag.Valid():
		err = errors.Wrapf(ErrSchemaConflict, "%s: %s", d.Symbol, d.Tag)
	case d.Cardinality != One && d.Cardinality != Many:
		err = errors.Wrapf(ErrSchemaConflict, "%s: %s", d.Symbol, d.Cardinality)
	case d.Unique && d.Cardinality == Many:
		err = errors.Wrapf(ErrSchemaConflict, "%s: unique attributes are cardinality one",
			d.Symbol)
	}
	return
}

func (d *Definition) String() string {
	return fmt.Sprintf("%s#%d(%s %s indexed=%v unique=%v optional=%v nohistory=%v)",
		d.Symbol, d.Id, d.Tag, d.Cardinality, d.Indexed, d.Unique, d.Optional, d.NoHistory)
}

// sameShape compares everything but the id.
func (d *Definition) sameShape(o *Definition) bool {
	return d.Symbol == o.Symbol && d.Tag == o.Tag && d.Cardinality == o.Cardinality &&
		d.Indexed == o.Indexed && d.Unique == o.Unique && d.Optional == o.Optional &&
		d.NoHistory == o.NoHistory
}
