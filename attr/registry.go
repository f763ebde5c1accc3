package attr

import (
	"slices"

	"github.com/pkg/errors"

	"datom.lol/ids"
	"datom.lol/valuetag"
)

// Registry maps symbols and ids to definitions. A Registry is never modified
// after it is built; With returns a new one, so snapshots can share it
// without locking.
type Registry struct {
	byId     map[ids.AttributeId]*Definition
	bySymbol map[string]*Definition
	max      ids.AttributeId
}

// Bootstrap returns the registry holding only the built-in attributes.
func Bootstrap() (r *Registry) {
	var err error
	if r, err = (&Registry{}).With(Builtins()...); err != nil {
		panic(err)
	}
	return
}

// With returns a registry with defs added or replaced. Definitions are matched
// by id; a symbol may only move with its id.
func (r *Registry) With(defs ...Definition) (n *Registry, err error) {
	n = &Registry{
		byId:     make(map[ids.AttributeId]*Definition, len(r.byId)+len(defs)),
		bySymbol: make(map[string]*Definition, len(r.byId)+len(defs)),
		max:      r.max,
	}
	for id, d := range r.byId {
		n.byId[id] = d
		n.bySymbol[d.Symbol] = d
	}
	for i := range defs {
		d := defs[i]
		if err = d.Validate(); err != nil {
			return nil, err
		}
		if d.Id == 0 {
			return nil, errors.Wrapf(ErrSchemaConflict, "%s has no id", d.Symbol)
		}
		if o, ok := n.bySymbol[d.Symbol]; ok && o.Id != d.Id {
			return nil, errors.Wrapf(ErrSchemaConflict, "%s is already attribute %d",
				d.Symbol, o.Id)
		}
		if o, ok := n.byId[d.Id]; ok && o.Symbol != d.Symbol {
			delete(n.bySymbol, o.Symbol)
		}
		n.byId[d.Id] = &d
		n.bySymbol[d.Symbol] = &d
		n.max = max(n.max, d.Id)
	}
	return
}

// Len is the number of registered attributes.
func (r *Registry) Len() int { return len(r.byId) }

// Max is the largest registered id.
func (r *Registry) Max() ids.AttributeId { return r.max }

// Id returns the id of a symbol.
func (r *Registry) Id(symbol string) (id ids.AttributeId, err error) {
	d, ok := r.bySymbol[symbol]
	if !ok {
		err = errors.Wrapf(ErrUnknownAttribute, "%q", symbol)
		return
	}
	return d.Id, nil
}

// BySymbol returns the definition of a symbol.
func (r *Registry) BySymbol(symbol string) (d *Definition, err error) {
	var ok bool
	if d, ok = r.bySymbol[symbol]; !ok {
		err = errors.Wrapf(ErrUnknownAttribute, "%q", symbol)
	}
	return
}

// Definition returns the definition of an id.
func (r *Registry) Definition(id ids.AttributeId) (d *Definition, err error) {
	var ok bool
	if d, ok = r.byId[id]; !ok {
		err = errors.Wrapf(ErrUnknownAttribute, "id %d", id)
	}
	return
}

// Has reports whether id is registered.
func (r *Registry) Has(id ids.AttributeId) bool {
	_, ok := r.byId[id]
	return ok
}

// IsIndexed is true when the attribute has AVET entries.
func (r *Registry) IsIndexed(id ids.AttributeId) bool {
	d, ok := r.byId[id]
	return ok && d.InAVET()
}

// IsUnique is true for unique attributes.
func (r *Registry) IsUnique(id ids.AttributeId) bool {
	d, ok := r.byId[id]
	return ok && d.Unique
}

// IsReference is true for entity valued attributes.
func (r *Registry) IsReference(id ids.AttributeId) bool {
	d, ok := r.byId[id]
	return ok && d.IsReference()
}

// ValueTag returns the value tag of an attribute.
func (r *Registry) ValueTag(id ids.AttributeId) (t valuetag.T, err error) {
	var d *Definition
	if d, err = r.Definition(id); err != nil {
		return
	}
	return d.Tag, nil
}

// All returns the definitions ordered by id.
func (r *Registry) All() (defs []Definition) {
	defs = make([]Definition, 0, len(r.byId))
	for _, d := range r.byId {
		defs = append(defs, *d)
	}
	slices.SortFunc(defs, func(a, b Definition) int { return int(a.Id) - int(b.Id) })
	return
}

// ValueComparer is the registry side of compare.WithResolver, the entry point
// for value comparison that dispatches through the schema. Case-insensitive
// text gets the folding comparison, which is also what its tag dispatches
// to, so a comparator built with or without a registry orders keys alike.
// Everything else returns nil and falls back to the tag. The choice depends
// on the key alone, so a stored key never changes position when the schema
// does. An attribute specific serializer with its own order plugs in here
// and must stay consistent with the tag order of other attributes, since
// VAET compares values before attributes.
func (r *Registry) ValueComparer(a ids.AttributeId, tag valuetag.T) func(a, b []byte) int {
	if tag == valuetag.Utf8Insensitive {
		return valuetag.CompareInsensitive
	}
	return nil
}

// Encode serializes a value for an attribute, checking it against the
// attribute's tag.
func (r *Registry) Encode(id ids.AttributeId, v any) (tag valuetag.T, b []byte, err error) {
	if tag, err = r.ValueTag(id); err != nil {
		return
	}
	if b, err = valuetag.Encode(tag, v); err != nil {
		err = errors.Wrapf(err, "attribute %s", r.byId[id].Symbol)
	}
	return
}

// Check verifies that a tag agrees with the attribute's definition.
func (r *Registry) Check(id ids.AttributeId, tag valuetag.T) (err error) {
	var want valuetag.T
	if want, err = r.ValueTag(id); err != nil {
		return
	}
	if want != tag {
		err = errors.Wrapf(valuetag.ErrTypeMismatch, "%s holds %s, got %s",
			r.byId[id].Symbol, want, tag)
	}
	return
}
