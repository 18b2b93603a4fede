// Package snapshot defines the structured point-in-time representation of a
// monitored record and the field-level diff computed between two of them.
//
// Values are JSON-like: scalars, nested maps, and arrays. Equality is
// value-based through RFC 8785 canonical JSON, so nested maps compare
// order-independently while arrays remain opaque, order-sensitive values.
package snapshot

import (
	"bytes"
	"encoding/json"
	"reflect"

	"github.com/gowebpki/jcs"
)

// Snapshot is a structured point-in-time representation of one record's field
// values, keyed by top-level field name.
type Snapshot map[string]any

// Clone returns a deep copy of the snapshot via a JSON round trip. Snapshots
// hold JSON-like values, so the round trip is lossless for supported types.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		// Non-JSON values should never reach a snapshot; degrade to a
		// shallow copy rather than panic.
		out := make(Snapshot, len(s))
		for k, v := range s {
			out[k] = v
		}
		return out
	}
	var out Snapshot
	if err := json.Unmarshal(raw, &out); err != nil {
		out = make(Snapshot, len(s))
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}

// Equal reports deep, value-based equality with another snapshot.
func (s Snapshot) Equal(other Snapshot) bool {
	return valuesEqual(map[string]any(s), map[string]any(other))
}

// canonical serializes a value to RFC 8785 canonical JSON. The second return
// is false when the value cannot be represented as JSON.
func canonical(v any) ([]byte, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	c, err := jcs.Transform(raw)
	if err != nil {
		return nil, false
	}
	return c, true
}

// valuesEqual compares two field values. Two values that serialize to the
// same canonical JSON are equal; there is no type coercion, so a numeric 5
// and a string "5" differ.
func valuesEqual(a, b any) bool {
	ca, okA := canonical(a)
	cb, okB := canonical(b)
	if okA && okB {
		return bytes.Equal(ca, cb)
	}
	return reflect.DeepEqual(a, b)
}
