package main

// TypeSet je množina typů zpráv, které se mají ukládat do DB.
type TypeSet map[string]struct{}

// NewTypeSet vytvoří množinu ze seznamu z konfigurace.
func NewTypeSet(types []string) TypeSet {
	set := make(TypeSet, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

// Contains rozlišuje velikost písmen ("msg" != "MSG").
func (s TypeSet) Contains(t string) bool {
	_, ok := s[t]
	return ok
}

// ShouldStore rozhoduje, zda záznam patří do úložiště.
func ShouldStore(rec Record, storable TypeSet) bool {
	return storable.Contains(rec.Type())
}
