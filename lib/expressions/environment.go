// Package expressions holds the CEL environment used by tolerance rules.
package expressions

import (
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
)

// NewEnvironment creates a new CEL environment, this is the set of
// variables and functions that are passed into the CEL scope so that
// invalid tolerance rules fail loudly and early at config load instead of
// blowing up while scoring an attempt.
func NewEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(
			ext.StringsLocale("en_US"),
			ext.StringsValidateFormatCalls(true),
		),

		// default all timestamps to UTC
		cel.DefaultUTCTimeZone(true),

		// Variables exposed to CEL programs:
		cel.Variable("pointerType", cel.StringType),
		cel.Variable("osFamily", cel.StringType),
		cel.Variable("browserFamily", cel.StringType),
		cel.Variable("devicePixelRatio", cel.DoubleType),
		cel.Variable("userAgent", cel.StringType),
	)
}

// Compile takes CEL environment and syntax tree then emits an optimized
// Program for execution.
func Compile(env *cel.Env, ast *cel.Ast) (cel.Program, error) {
	return env.Program(
		ast,
		cel.EvalOptions(
			cel.OptOptimize,
		),
	)
}
