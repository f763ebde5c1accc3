package attr

import (
	"github.com/pkg/errors"

	"datom.lol/ids"
	"datom.lol/valuetag"
)

// Change is an existing attribute whose definition differs from the declared
// one.
type Change struct {
	Old, New Definition
}

// IndexChanged is true when the attribute enters or leaves the AVET indexes.
func (c Change) IndexChanged() bool { return c.Old.InAVET() != c.New.InAVET() }

// TagChanged is true when stored values must be re-encoded.
func (c Change) TagChanged() bool { return c.Old.Tag != c.New.Tag }

// BecameUnique is true when uniqueness must be checked against stored data.
func (c Change) BecameUnique() bool { return c.New.Unique && !c.Old.Unique }

// BecameOne is true when cardinality many is narrowed to one.
func (c Change) BecameOne() bool { return c.Old.Cardinality == Many && c.New.Cardinality == One }

// Plan is the set of schema writes a migration needs.
type Plan struct {
	Added   []Definition
	Changed []Change
}

// Empty is true when the declared schema is already in place.
func (p *Plan) Empty() bool { return len(p.Added) == 0 && len(p.Changed) == 0 }

// Definitions lists the definitions to be written, added first.
func (p *Plan) Definitions() (defs []Definition) {
	defs = append(defs, p.Added...)
	for _, c := range p.Changed {
		defs = append(defs, c.New)
	}
	return
}

// PlanMigration compares declared definitions against r. Definitions are
// matched by symbol. A declared id of zero means any free id; new attributes
// get ids above everything registered. Only checks that need no data are made
// here: the tag change must be convertible and built-ins cannot be redefined.
func PlanMigration(r *Registry, declared []Definition) (p *Plan, err error) {
	p = &Plan{}
	next := max(r.Max()+1, FirstUser)
	seen := make(map[string]bool, len(declared))
	taken := make(map[ids.AttributeId]string)
	for _, d := range declared {
		if seen[d.Symbol] {
			err = errors.Wrapf(ErrSchemaConflict, "%s declared twice", d.Symbol)
			return
		}
		seen[d.Symbol] = true
		old, bErr := r.BySymbol(d.Symbol)
		if bErr != nil {
			if d.Id == 0 {
				for r.Has(next) || taken[next] != "" {
					next++
				}
				d.Id = next
			} else if r.Has(d.Id) || taken[d.Id] != "" {
				err = errors.Wrapf(ErrSchemaConflict, "%s: id %d is taken", d.Symbol, d.Id)
				return
			}
			if d.Id > ids.MaxAttribute {
				err = errors.Wrapf(ErrSchemaConflict, "%s: attribute ids exhausted", d.Symbol)
				return
			}
			if err = d.Validate(); err != nil {
				return
			}
			taken[d.Id] = d.Symbol
			p.Added = append(p.Added, d)
			continue
		}
		if d.Id != 0 && d.Id != old.Id {
			err = errors.Wrapf(ErrSchemaConflict, "%s is attribute %d, declared as %d",
				d.Symbol, old.Id, d.Id)
			return
		}
		d.Id = old.Id
		if old.sameShape(&d) {
			continue
		}
		if IsBuiltin(d.Id) {
			err = errors.Wrapf(ErrSchemaConflict, "%s is built in", d.Symbol)
			return
		}
		if err = d.Validate(); err != nil {
			return
		}
		if d.Tag != old.Tag && !valuetag.Convertible(old.Tag, d.Tag) {
			err = errors.Wrapf(ErrSchemaConflict, "%s: %s values cannot become %s",
				d.Symbol, old.Tag, d.Tag)
			return
		}
		p.Changed = append(p.Changed, Change{Old: *old, New: d})
	}
	return
}
