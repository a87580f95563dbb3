package config

import (
	"errors"
	"testing"
)

func TestToleranceRuleValid(t *testing.T) {
	for _, tt := range []struct {
		name  string
		input ToleranceRule
		err   error
	}{
		{
			name:  "default hidpi",
			input: DefaultToleranceRules[0],
		},
		{
			name: "no name",
			input: ToleranceRule{
				Expression: &ExpressionOrList{Expression: "true"},
				Scale:      1.1,
			},
			err: ErrToleranceRuleMustHaveName,
		},
		{
			name: "no expression",
			input: ToleranceRule{
				Name:  "no-expression",
				Scale: 1.1,
			},
			err: ErrToleranceRuleMustHaveExpression,
		},
		{
			name: "empty expression",
			input: ToleranceRule{
				Name:       "empty",
				Expression: &ExpressionOrList{},
				Scale:      1.1,
			},
			err: ErrExpressionEmpty,
		},
		{
			name: "scale below one",
			input: ToleranceRule{
				Name:       "shrink",
				Expression: &ExpressionOrList{Expression: "true"},
				Scale:      0.9,
			},
			err: ErrToleranceRuleScaleOutOfRange,
		},
		{
			name: "scale above two",
			input: ToleranceRule{
				Name:       "huge",
				Expression: &ExpressionOrList{Expression: "true"},
				Scale:      2.5,
			},
			err: ErrToleranceRuleScaleOutOfRange,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.input.Valid(); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}
