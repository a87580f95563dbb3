package expressions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// JoinOperator combines the clauses of a tolerance rule.
type JoinOperator string

const (
	JoinAnd JoinOperator = "&&"
	JoinOr  JoinOperator = "||"
)

func (jo JoinOperator) Valid() error {
	switch jo {
	case JoinAnd, JoinOr:
		return nil
	default:
		return ErrWrongJoinOperator
	}
}

var (
	ErrWrongJoinOperator = errors.New("expressions: invalid join operator")
	ErrNoExpressions     = errors.New("expressions: cannot join zero expressions")
	ErrCantCompile       = errors.New("expressions: can't compile one expression")
)

// Join checks every clause on its own, so a rule author sees each broken
// clause, then compiles them as one parenthesised expression:
//
//	( pointerType == "touch" ) && ( devicePixelRatio >= 2.0 )
func Join(env *cel.Env, operator JoinOperator, clauses ...string) (*cel.Ast, error) {
	if err := operator.Valid(); err != nil {
		return nil, fmt.Errorf("%w: wanted && or ||, got: %q", err, operator)
	}

	if len(clauses) == 0 {
		return nil, ErrNoExpressions
	}

	var (
		parts = make([]string, 0, len(clauses))
		errs  []error
		last  *cel.Ast
	)

	for _, clause := range clauses {
		ast, iss := env.Compile(clause)
		if iss != nil && iss.Err() != nil {
			errs = append(errs, fmt.Errorf("%w: %q gave: %w", ErrCantCompile, clause, iss.Err()))
			continue
		}
		last = ast
		parts = append(parts, "( "+clause+" )")
	}

	if len(errs) != 0 {
		return nil, fmt.Errorf("errors while joining clauses: %w", errors.Join(errs...))
	}

	if len(clauses) == 1 {
		return last, nil
	}

	ast, iss := env.Compile(strings.Join(parts, " "+string(operator)+" "))
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrCantCompile, iss.Err())
	}

	return ast, nil
}
