package attr_test

import (
	"errors"
	"testing"

	"datom.lol/attr"
	"datom.lol/ids"
	"datom.lol/valuetag"
)

func TestBootstrap(t *testing.T) {
	r := attr.Bootstrap()
	if r.Len() != len(attr.Builtins()) {
		t.Fatalf("bootstrap holds %d attributes", r.Len())
	}
	want := map[string]ids.AttributeId{
		"db/uniqueId":      attr.UniqueId,
		"db/valueType":     attr.ValueType,
		"db/cardinality":   attr.CardinalityId,
		"db/indexed":       attr.IndexedId,
		"db/unique":        attr.UniqueFlag,
		"db/optional":      attr.OptionalId,
		"db/noHistory":     attr.NoHistoryId,
		"tx/timestamp":     attr.TxTimestamp,
		"tx/excisedDatoms": attr.TxExcisedDatoms,
		"tx/excisedEntity": attr.TxExcisedEntity,
	}
	for sym, id := range want {
		got, err := r.Id(sym)
		if err != nil || got != id {
			t.Fatalf("%s: got %d, %v", sym, got, err)
		}
	}
	if _, err := r.Id("person/name"); !errors.Is(err, attr.ErrUnknownAttribute) {
		t.Fatalf("expected unknown attribute, got %v", err)
	}
	if _, err := r.Definition(999); !errors.Is(err, attr.ErrUnknownAttribute) {
		t.Fatalf("expected unknown attribute, got %v", err)
	}
	if !r.IsUnique(attr.UniqueId) || !r.IsIndexed(attr.UniqueId) || !r.IsReference(attr.TxExcisedEntity) {
		t.Fatal("built-in flags")
	}
}

func TestSchemaAsData(t *testing.T) {
	defs := []attr.Definition{
		{Symbol: "person/name", Id: 40, Tag: valuetag.Utf8Insensitive, Cardinality: attr.One,
			Indexed: true},
		{Symbol: "person/friend", Id: 41, Tag: valuetag.Reference, Cardinality: attr.Many,
			Optional: true, NoHistory: true},
	}
	all := append(attr.Builtins(), defs...)
	for _, d := range all {
		rt, err := attr.FromDatoms(d.Datoms(ids.MinTx))
		if err != nil {
			t.Fatal(err)
		}
		if len(rt) != 1 || rt[0] != d {
			t.Fatalf("round trip of %s gave %v", d.Symbol, rt)
		}
	}
}

func TestWith(t *testing.T) {
	r := attr.Bootstrap()
	n, err := r.With(attr.Definition{Symbol: "x/y", Id: 50, Tag: valuetag.Int64,
		Cardinality: attr.One})
	if err != nil {
		t.Fatal(err)
	}
	if r.Has(50) || !n.Has(50) || n.Max() != 50 {
		t.Fatal("With must not touch the receiver")
	}
	if _, err = n.With(attr.Definition{Symbol: "x/y", Id: 51, Tag: valuetag.Int64,
		Cardinality: attr.One}); !errors.Is(err, attr.ErrSchemaConflict) {
		t.Fatal("a symbol cannot move to another id")
	}
	if _, err = n.With(attr.Definition{Symbol: "x/z", Id: 52, Tag: valuetag.Int64,
		Cardinality: attr.Many, Unique: true}); !errors.Is(err, attr.ErrSchemaConflict) {
		t.Fatal("unique attributes are cardinality one")
	}
	if err = n.Check(50, valuetag.Utf8); !errors.Is(err, valuetag.ErrTypeMismatch) {
		t.Fatal("tag check")
	}
}

func TestPlanMigration(t *testing.T) {
	r := attr.Bootstrap()
	declared := []attr.Definition{
		{Symbol: "a/one", Tag: valuetag.Int32, Cardinality: attr.One},
		{Symbol: "a/two", Tag: valuetag.Utf8, Cardinality: attr.Many},
	}
	p, err := attr.PlanMigration(r, declared)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Added) != 2 || p.Added[0].Id != attr.FirstUser || p.Added[1].Id != attr.FirstUser+1 {
		t.Fatalf("ids allocated: %v", p.Added)
	}
	if r, err = r.With(p.Definitions()...); err != nil {
		t.Fatal(err)
	}
	if p, err = attr.PlanMigration(r, declared); err != nil || !p.Empty() {
		t.Fatalf("second plan must be empty: %v %v", p, err)
	}
	declared[0].Tag, declared[0].Indexed = valuetag.Int64, true
	if p, err = attr.PlanMigration(r, declared); err != nil {
		t.Fatal(err)
	}
	if len(p.Changed) != 1 || !p.Changed[0].TagChanged() || !p.Changed[0].IndexChanged() {
		t.Fatalf("change: %+v", p.Changed)
	}
	declared[0].Tag = valuetag.Reference
	if _, err = attr.PlanMigration(r, declared); !errors.Is(err, attr.ErrSchemaConflict) {
		t.Fatal("int32 cannot become a reference")
	}
	if _, err = attr.PlanMigration(r, []attr.Definition{{Symbol: "db/unique",
		Tag: valuetag.Int64, Cardinality: attr.One}}); !errors.Is(err, attr.ErrSchemaConflict) {
		t.Fatal("built-ins are fixed")
	}
}
