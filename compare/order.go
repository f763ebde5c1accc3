package compare

import (
	"fmt"

	"github.com/pkg/errors"
)

// Order names a sort order.
type Order byte

const (
	EAVT Order = iota
	AEVT
	AVET
	VAET
	TxLog

	orders
)

var orderNames = [orders]string{"eavt", "aevt", "avet", "vaet", "txlog"}

func (o Order) String() string {
	if o >= orders {
		return fmt.Sprintf("order(%d)", byte(o))
	}
	return orderNames[o]
}

// ParseOrder returns the order with the given name.
func ParseOrder(name string) (o Order, err error) {
	for i, n := range orderNames {
		if n == name {
			return Order(i), nil
		}
	}
	err = errors.Errorf("unknown sort order %q", name)
	return
}

// Orders lists every sort order.
func Orders() []Order { return []Order{EAVT, AEVT, AVET, VAET, TxLog} }

// elements lays out the element priority of each order, with v standing for
// the value element so that it can be swapped for a registry aware one.
func (o Order) elements(v Fn) []Fn {
	switch o {
	case EAVT:
		return []Fn{Entity, Attribute, v, Tx, Assert}
	case AEVT:
		return []Fn{Attribute, Entity, v, Tx, Assert}
	case AVET:
		return []Fn{Attribute, v, Entity, Tx, Assert}
	case VAET:
		return []Fn{v, Attribute, Entity, Tx, Assert}
	case TxLog:
		return []Fn{Tx, Entity, Attribute, v, Assert}
	}
	panic(fmt.Sprintf("no elements for %s", o))
}

var byOrder [orders]Fn

func init() {
	for _, o := range Orders() {
		byOrder[o] = Compose(o.elements(Value)...)
	}
}

// ForOrder returns the tag dispatched comparator of an order.
func ForOrder(o Order) Fn { return byOrder[o] }

// WithResolver returns the comparator of an order that consults r for
// attribute specific value comparison.
func WithResolver(o Order, r Resolver) Fn {
	if r == nil {
		return ForOrder(o)
	}
	return Compose(o.elements(ValueWith(r))...)
}
