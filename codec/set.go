package codec

// Set is the Go-native analogue of a JS Set: an unordered collection of
// values, encoded by the codec as KindSet (a bare key list, no values)
// to mirror spec.md's permitted-value-set entry for Set. Go's lack of
// comparable `any` at the type-system level means membership here is
// tracked with a slice rather than a native map; callers that need
// map-backed uniqueness on a known comparable type should use a plain
// Go map instead (the codec encodes map[K]struct{} as KindSet too).
type Set struct {
	items []any
}

// NewSet returns a Set seeded with items.
func NewSet(items ...any) *Set {
	s := &Set{}
	for _, it := range items {
		s.Add(it)
	}
	return s
}

// Add inserts v into the set if not already present.
func (s *Set) Add(v any) {
	if s.Has(v) {
		return
	}
	s.items = append(s.items, v)
}

// Has reports whether v is present (by == comparison).
func (s *Set) Has(v any) bool {
	for _, it := range s.items {
		if it == v {
			return true
		}
	}
	return false
}

// Len returns the number of elements.
func (s *Set) Len() int { return len(s.items) }

// Values returns the set's elements in insertion order.
func (s *Set) Values() []any {
	out := make([]any, len(s.items))
	copy(out, s.items)
	return out
}
