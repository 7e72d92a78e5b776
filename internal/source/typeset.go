package source

import (
	"strings"

	"github.com/soda-auto/soda-sim-sub008/internal/slot"
)

// TypeSet is a set of slot types.
type TypeSet uint8

// AllTypes contains every slot type.
var AllTypes = NewTypeSet(slot.AllTypes...)

// NewTypeSet builds a set from types. Invalid types are ignored.
func NewTypeSet(types ...slot.Type) TypeSet {
	var s TypeSet
	for _, t := range types {
		if t.Valid() {
			s |= 1 << t
		}
	}
	return s
}

// ParseTypeSet builds a set from type names. An empty list yields AllTypes.
func ParseTypeSet(names []string) (TypeSet, error) {
	if len(names) == 0 {
		return AllTypes, nil
	}
	var types []slot.Type
	for _, n := range names {
		t, err := slot.ParseType(n)
		if err != nil {
			return 0, err
		}
		types = append(types, t)
	}
	return NewTypeSet(types...), nil
}

// Has reports whether t is in the set.
func (s TypeSet) Has(t slot.Type) bool {
	return t.Valid() && s&(1<<t) != 0
}

// Types lists the members in wire-code order.
func (s TypeSet) Types() []slot.Type {
	var out []slot.Type
	for _, t := range slot.AllTypes {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

func (s TypeSet) String() string {
	names := make([]string, 0, len(slot.AllTypes))
	for _, t := range s.Types() {
		names = append(names, t.String())
	}
	return strings.Join(names, ",")
}
