package attr

import (
	"github.com/pkg/errors"

	"datom.lol/datom"
	"datom.lol/ids"
	"datom.lol/valuetag"
)

func flag(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}

// Datoms returns the schema datoms describing d, asserted in transaction tx
// on the attribute's entity.
func (d *Definition) Datoms(tx ids.TxId) (out []*datom.T) {
	e := d.Entity()
	add := func(a ids.AttributeId, tag valuetag.T, v []byte) {
		dt, _ := datom.New(e, a, tag, v, tx)
		out = append(out, dt)
	}
	add(UniqueId, valuetag.Ascii, []byte(d.Symbol))
	add(ValueType, valuetag.Ascii, []byte(d.Tag.Name()))
	add(CardinalityId, valuetag.UInt8, []byte{byte(d.Cardinality)})
	add(IndexedId, valuetag.UInt8, flag(d.Indexed))
	add(UniqueFlag, valuetag.UInt8, flag(d.Unique))
	add(OptionalId, valuetag.UInt8, flag(d.Optional))
	add(NoHistoryId, valuetag.UInt8, flag(d.NoHistory))
	return
}

// FromDatoms folds schema datoms back into definitions. Datoms must be
// current assertions; anything outside the attribute partition or not a
// schema attribute is ignored.
func FromDatoms(datoms []*datom.T) (defs []Definition, err error) {
	byId := make(map[ids.AttributeId]*Definition)
	var order []ids.AttributeId
	for _, d := range datoms {
		if d.Retract || !IsSchema(d.A) {
			continue
		}
		id, ok := ids.AttributeOf(d.E)
		if !ok {
			continue
		}
		def, seen := byId[id]
		if !seen {
			def = &Definition{Id: id}
			byId[id] = def
			order = append(order, id)
		}
		v := d.V
		switch d.A {
		case UniqueId:
			def.Symbol = string(v)
		case ValueType:
			if def.Tag, err = valuetag.Parse(string(v)); err != nil {
				err = errors.Wrapf(ErrSchemaConflict, "attribute %d: %v", id, err)
				return
			}
		case CardinalityId, IndexedId, UniqueFlag, OptionalId, NoHistoryId:
			if len(v) != 1 {
				err = errors.Wrapf(datom.ErrCorruptKey, "attribute %d: flag of %d bytes",
					id, len(v))
				return
			}
			switch d.A {
			case CardinalityId:
				def.Cardinality = Cardinality(v[0])
			case IndexedId:
				def.Indexed = v[0] != 0
			case UniqueFlag:
				def.Unique = v[0] != 0
			case OptionalId:
				def.Optional = v[0] != 0
			case NoHistoryId:
				def.NoHistory = v[0] != 0
			}
		}
	}
	for _, id := range order {
		d := byId[id]
		if err = d.Validate(); err != nil {
			return nil, err
		}
		defs = append(defs, *d)
	}
	return
}
