package config

import (
	"errors"
	"fmt"
)

var (
	ErrToleranceRuleMustHaveName       = errors.New("config.ToleranceRule: must set name")
	ErrToleranceRuleMustHaveExpression = errors.New("config.ToleranceRule: must set expression")
	ErrToleranceRuleScaleOutOfRange    = errors.New("config.ToleranceRule: scale must be between 1 and 2")

	// DefaultToleranceRules widen the corridor slightly on high density
	// displays, where pointer events arrive in finer increments.
	DefaultToleranceRules = []ToleranceRule{
		{
			Name: "hidpi",
			Expression: &ExpressionOrList{
				Expression: "devicePixelRatio >= 2.0",
			},
			Scale: 1.1,
		},
	}
)

// ToleranceRule multiplies a challenge's tolerance by Scale when Expression
// matches the client that submitted the trajectory.
type ToleranceRule struct {
	Name       string            `json:"name" yaml:"name"`
	Expression *ExpressionOrList `json:"expression" yaml:"expression"`
	Scale      float64           `json:"scale" yaml:"scale"`
}

func (tr ToleranceRule) Valid() error {
	var errs []error

	if len(tr.Name) == 0 {
		errs = append(errs, ErrToleranceRuleMustHaveName)
	}

	if tr.Expression == nil {
		errs = append(errs, ErrToleranceRuleMustHaveExpression)
	}

	if tr.Expression != nil {
		if err := tr.Expression.Valid(); err != nil {
			errs = append(errs, err)
		}
	}

	if tr.Scale < 1 || tr.Scale > 2 {
		errs = append(errs, fmt.Errorf("%w, got %v", ErrToleranceRuleScaleOutOfRange, tr.Scale))
	}

	if len(errs) != 0 {
		return fmt.Errorf("config: tolerance rule %q is not valid:\n%w", tr.Name, errors.Join(errs...))
	}

	return nil
}
