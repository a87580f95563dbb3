package expressions

import (
	"errors"
	"testing"

	"github.com/google/cel-go/cel"
)

func TestJoin(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatal(err)
	}

	for _, tt := range []struct {
		name      string
		clauses   []string
		op        JoinOperator
		err       error
		resultStr string
	}{
		{
			name:    "no-clauses",
			clauses: []string{},
			op:      JoinAnd,
			err:     ErrNoExpressions,
		},
		{
			name:      "one-clause-identity",
			clauses:   []string{`pointerType == "touch"`},
			op:        JoinAnd,
			err:       nil,
			resultStr: `pointerType == "touch"`,
		},
		{
			name: "multi-clause-and",
			clauses: []string{
				`pointerType == "touch"`,
				`osFamily == "ios"`,
			},
			op:        JoinAnd,
			err:       nil,
			resultStr: `pointerType == "touch" && osFamily == "ios"`,
		},
		{
			name: "multi-clause-or",
			clauses: []string{
				`pointerType == "touch"`,
				`osFamily == "ios"`,
			},
			op:        JoinOr,
			err:       nil,
			resultStr: `pointerType == "touch" || osFamily == "ios"`,
		},
		{
			name: "bad-operator",
			clauses: []string{
				`pointerType == "touch"`,
			},
			op:  JoinOperator("^^"),
			err: ErrWrongJoinOperator,
		},
		{
			name: "unknown-variable",
			clauses: []string{
				`cookies.size() > 0`,
			},
			op:  JoinAnd,
			err: ErrCantCompile,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Join(env, tt.op, tt.clauses...)
			if !errors.Is(err, tt.err) {
				t.Errorf("wanted error %v but got: %v", tt.err, err)
			}

			if tt.err != nil {
				return
			}

			program, err := cel.AstToString(result)
			if err != nil {
				t.Fatalf("can't decompile program: %v", err)
			}

			if tt.resultStr != program {
				t.Logf("wanted: %s", tt.resultStr)
				t.Logf("got: %s", program)
				t.Error("program did not compile as expected")
			}
		})
	}
}
