package utils

import "encoding/json"

// ----------------------------------------------------------------------------
// Ordered Map

// Go's built-in map has randomized iteration order, which makes output non-reproducible
// whenever a map is walked to emit code (class fields, subroutines, declared variables).
// 'OrderedMap' pairs a map (for O(1) lookup) with a slice (for insertion-order iteration)
// so that the same input always produces byte-identical output.
type OrderedMap[K comparable, V any] struct {
	index   map[K]int
	entries []MapEntry[K, V]
}

// A single key/value pair as stored inside an 'OrderedMap', also used to seed one from
// an already-ordered slice (see 'NewOrderedMapFromList').
type MapEntry[K comparable, V any] struct {
	Key   K
	Value V
}

// Builds an 'OrderedMap' from a slice of entries, preserving the slice's order.
func NewOrderedMapFromList[K comparable, V any](entries []MapEntry[K, V]) OrderedMap[K, V] {
	om := OrderedMap[K, V]{index: map[K]int{}}
	for _, entry := range entries {
		om.Set(entry.Key, entry.Value)
	}
	return om
}

// Associates 'value' with 'key'. Re-setting an existing key updates the value in place
// without changing its position in the iteration order.
func (om *OrderedMap[K, V]) Set(key K, value V) {
	if om.index == nil {
		om.index = map[K]int{}
	}

	if pos, found := om.index[key]; found {
		om.entries[pos].Value = value
		return
	}

	om.index[key] = len(om.entries)
	om.entries = append(om.entries, MapEntry[K, V]{Key: key, Value: value})
}

// Returns the value associated to 'key' plus whether it was found at all.
func (om *OrderedMap[K, V]) Get(key K) (V, bool) {
	if pos, found := om.index[key]; found {
		return om.entries[pos].Value, true
	}
	var zero V
	return zero, false
}

// Returns the number of key/value pairs currently stored.
func (om *OrderedMap[K, V]) Size() int { return len(om.entries) }

// Returns the stored values in insertion order.
func (om *OrderedMap[K, V]) Entries() []V {
	values := make([]V, len(om.entries))
	for i, entry := range om.entries {
		values[i] = entry.Value
	}
	return values
}

// Returns the stored keys in insertion order.
func (om *OrderedMap[K, V]) Keys() []K {
	keys := make([]K, len(om.entries))
	for i, entry := range om.entries {
		keys[i] = entry.Key
	}
	return keys
}

// MarshalJSON renders the map as a plain JSON object, used to embed the stdlib ABI.
func (om OrderedMap[K, V]) MarshalJSON() ([]byte, error) {
	raw := map[K]V{}
	for _, entry := range om.entries {
		raw[entry.Key] = entry.Value
	}
	return json.Marshal(raw)
}

// UnmarshalJSON loads a plain JSON object, sorting keys is not needed here since the
// embedded stdlib ABI doesn't depend on declaration order (it's looked up by name).
func (om *OrderedMap[K, V]) UnmarshalJSON(data []byte) error {
	raw := map[K]V{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*om = OrderedMap[K, V]{index: map[K]int{}}
	for key, value := range raw {
		om.Set(key, value)
	}
	return nil
}
