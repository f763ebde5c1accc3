package attr

import (
	"datom.lol/ids"
	"datom.lol/valuetag"
)

// Reserved attribute ids of the schema that describes schema, and of the
// transaction metadata the store writes by itself.
const (
	UniqueId ids.AttributeId = iota + 1
	ValueType
	CardinalityId
	IndexedId
	UniqueFlag
	OptionalId
	NoHistoryId
	TxTimestamp
	TxExcisedDatoms
	TxExcisedEntity

	// FirstUser is the lowest id handed to a declared attribute.
	FirstUser ids.AttributeId = 32
)

// Builtins returns the bootstrap schema. It is enough to read the definition
// datoms of every other attribute.
func Builtins() []Definition {
	return []Definition{
		{Symbol: "db/uniqueId", Id: UniqueId, Tag: valuetag.Ascii, Cardinality: One,
			Indexed: true, Unique: true},
		{Symbol: "db/valueType", Id: ValueType, Tag: valuetag.Ascii, Cardinality: One},
		{Symbol: "db/cardinality", Id: CardinalityId, Tag: valuetag.UInt8, Cardinality: One},
		{Symbol: "db/indexed", Id: IndexedId, Tag: valuetag.UInt8, Cardinality: One},
		{Symbol: "db/unique", Id: UniqueFlag, Tag: valuetag.UInt8, Cardinality: One},
		{Symbol: "db/optional", Id: OptionalId, Tag: valuetag.UInt8, Cardinality: One},
		{Symbol: "db/noHistory", Id: NoHistoryId, Tag: valuetag.UInt8, Cardinality: One},
		{Symbol: "tx/timestamp", Id: TxTimestamp, Tag: valuetag.Int64, Cardinality: One,
			Indexed: true},
		{Symbol: "tx/excisedDatoms", Id: TxExcisedDatoms, Tag: valuetag.UInt64,
			Cardinality: One},
		{Symbol: "tx/excisedEntity", Id: TxExcisedEntity, Tag: valuetag.Reference,
			Cardinality: Many},
	}
}

// IsBuiltin is true for the reserved ids.
func IsBuiltin(a ids.AttributeId) bool { return a >= UniqueId && a < FirstUser }

// IsSchema is true for the attributes that make up a definition.
func IsSchema(a ids.AttributeId) bool { return a >= UniqueId && a <= NoHistoryId }
