package snapshot

import "encoding/json"

// FieldChange holds the before/after pair for one top-level field. An absent
// side marks a field that was added or removed rather than changed.
type FieldChange struct {
	Old       any
	New       any
	OldAbsent bool
	NewAbsent bool
}

// FieldDiff maps field names to their change. It is owned exclusively by the
// audit record embedding it and is never mutated after construction.
type FieldDiff map[string]FieldChange

// Diff computes the field-level delta between two snapshots. For every field
// present in new but absent or differing in old it emits {old, new}; for every
// field present in old but absent in new it emits {old, absent}. Equal
// snapshots yield an empty diff, which callers treat as "no-op: do not persist
// an audit record".
func Diff(old, updated Snapshot) FieldDiff {
	diff := FieldDiff{}
	for field, newVal := range updated {
		oldVal, present := old[field]
		if !present {
			diff[field] = FieldChange{New: newVal, OldAbsent: true}
			continue
		}
		if !valuesEqual(oldVal, newVal) {
			diff[field] = FieldChange{Old: oldVal, New: newVal}
		}
	}
	for field, oldVal := range old {
		if _, present := updated[field]; !present {
			diff[field] = FieldChange{Old: oldVal, NewAbsent: true}
		}
	}
	return diff
}

// Empty reports whether the diff describes no change.
func (d FieldDiff) Empty() bool { return len(d) == 0 }

// Apply replays the diff's "new" side onto base, reconstructing the updated
// snapshot the diff was computed against. base is not mutated.
func (d FieldDiff) Apply(base Snapshot) Snapshot {
	out := base.Clone()
	if out == nil {
		out = Snapshot{}
	}
	for field, change := range d {
		if change.NewAbsent {
			delete(out, field)
			continue
		}
		out[field] = change.New
	}
	return out
}

// fieldChangeJSON is the persisted wire form: an absent side is encoded by
// omitting its key entirely, which keeps "changed to null" distinguishable
// from "removed".
type fieldChangeJSON map[string]json.RawMessage

// MarshalJSON encodes the change as {"old": ..., "new": ...} with absent
// sides omitted.
func (c FieldChange) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 2)
	if !c.OldAbsent {
		out["old"] = c.Old
	}
	if !c.NewAbsent {
		out["new"] = c.New
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the persisted form back into a FieldChange.
func (c *FieldChange) UnmarshalJSON(data []byte) error {
	var raw fieldChangeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	oldRaw, hasOld := raw["old"]
	newRaw, hasNew := raw["new"]
	c.OldAbsent = !hasOld
	c.NewAbsent = !hasNew
	if hasOld {
		if err := json.Unmarshal(oldRaw, &c.Old); err != nil {
			return err
		}
	}
	if hasNew {
		if err := json.Unmarshal(newRaw, &c.New); err != nil {
			return err
		}
	}
	return nil
}
