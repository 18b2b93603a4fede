package snapshot

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property 1: diffing a snapshot against itself is always empty.
// Property 2: applying Diff(old, new) to old reconstructs new exactly.
// Property 3: a diff mentions only fields present in old or new.

// genSnapshot produces JSON-shaped snapshots mixing strings, numbers, nulls
// and one level of nested object.
func genSnapshot() gopter.Gen {
	return gen.MapOf(gen.Identifier(), gen.AlphaString()).Map(func(m map[string]string) Snapshot {
		out := Snapshot{}
		i := 0
		for k, v := range m {
			switch i % 4 {
			case 0:
				out[k] = v
			case 1:
				out[k] = float64(len(v))
			case 2:
				out[k] = nil
			default:
				out[k] = map[string]any{"value": v}
			}
			i++
		}
		return out
	})
}

func TestDiffProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("self-diff is empty", prop.ForAll(
		func(s Snapshot) bool {
			return Diff(s, s.Clone()).Empty()
		},
		genSnapshot(),
	))

	properties.Property("apply reconstructs the updated snapshot", prop.ForAll(
		func(old, updated Snapshot) bool {
			diff := Diff(old, updated)
			return updated.Equal(diff.Apply(old))
		},
		genSnapshot(),
		genSnapshot(),
	))

	properties.Property("diff keys come from the inputs", prop.ForAll(
		func(old, updated Snapshot) bool {
			for field := range Diff(old, updated) {
				_, inOld := old[field]
				_, inNew := updated[field]
				if !inOld && !inNew {
					return false
				}
			}
			return true
		},
		genSnapshot(),
		genSnapshot(),
	))

	properties.TestingRun(t)
}
