// Package compliance implements on-demand subject-data operations and the
// anonymization primitive shared with retention sweeps.
package compliance

import (
	"strings"

	"chronicle/pkg/snapshot"
)

// Sentinel replaces identifying values during anonymization. A fixed marker
// rather than deletion keeps document shape stable, so counts, joins and
// diffs over anonymized records keep working.
const Sentinel = "[REDACTED]"

// Anonymize returns a copy of doc with each named field overwritten by the
// sentinel, and reports whether anything actually changed. Field names may
// use dotted paths ("contact.email") to reach into nested objects. Absent
// fields are skipped rather than created, which makes anonymization
// idempotent: a second pass changes nothing.
func Anonymize(doc snapshot.Snapshot, fields []string) (snapshot.Snapshot, bool) {
	out := doc.Clone()
	changed := false
	for _, field := range fields {
		if redactPath(map[string]any(out), strings.Split(field, ".")) {
			changed = true
		}
	}
	return out, changed
}

func redactPath(node map[string]any, path []string) bool {
	key := path[0]
	current, ok := node[key]
	if !ok {
		return false
	}
	if len(path) == 1 {
		if current == Sentinel {
			return false
		}
		node[key] = Sentinel
		return true
	}
	child, ok := current.(map[string]any)
	if !ok {
		return false
	}
	return redactPath(child, path[1:])
}
