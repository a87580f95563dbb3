package expressions

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
)

var ErrEmptyProgram = errors.New("expressions: no expression given")

// Program compiles either a single expression or a list of clauses joined
// with && (allOf) or || (anyOf) into an executable program. Exactly one of the
// three inputs should be set.
func Program(env *cel.Env, expression string, allOf, anyOf []string) (cel.Program, error) {
	var (
		ast *cel.Ast
		err error
	)

	switch {
	case expression != "":
		var iss *cel.Issues
		ast, iss = env.Compile(expression)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("%w: %q gave: %w", ErrCantCompile, expression, iss.Err())
		}
	case len(allOf) != 0:
		ast, err = Join(env, JoinAnd, allOf...)
	case len(anyOf) != 0:
		ast, err = Join(env, JoinOr, anyOf...)
	default:
		return nil, ErrEmptyProgram
	}

	if err != nil {
		return nil, err
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: expression must evaluate to a bool, got %s", ErrCantCompile, ast.OutputType())
	}

	program, err := Compile(env, ast)
	if err != nil {
		return nil, fmt.Errorf("can't compile CEL program: %w", err)
	}

	return program, nil
}
