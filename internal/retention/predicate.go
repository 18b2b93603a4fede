package retention

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"chronicle/pkg/snapshot"
)

// Predicate is a compiled eligibility rule evaluated against one record
// snapshot. Expressing eligibility as data evaluated in-process, rather than
// as generated query text, removes injection-class bugs by construction.
type Predicate struct {
	program cel.Program
}

// celEnv is built once; policies share the single declared variable.
func celEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// CompilePredicate compiles a CEL source expression. Empty source yields a
// nil predicate meaning "age cutoff only". The expression must evaluate to a
// boolean.
func CompilePredicate(src string) (*Predicate, error) {
	if src == "" {
		return nil, nil
	}
	env, err := celEnv()
	if err != nil {
		return nil, fmt.Errorf("create predicate environment: %w", err)
	}
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile predicate: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("predicate must evaluate to a boolean, got %s", ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("plan predicate: %w", err)
	}
	return &Predicate{program: program}, nil
}

// Eval applies the predicate to one record snapshot.
func (p *Predicate) Eval(doc snapshot.Snapshot) (bool, error) {
	if p == nil {
		return true, nil
	}
	out, _, err := p.program.Eval(map[string]any{
		"record": map[string]any(doc),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate predicate: %w", err)
	}
	eligible, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("predicate returned %T, want bool", out.Value())
	}
	return eligible, nil
}
