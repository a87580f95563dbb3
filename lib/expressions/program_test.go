package expressions

import (
	"errors"
	"testing"

	"github.com/google/cel-go/common/types"
)

func TestProgram(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatal(err)
	}

	vars := map[string]any{
		"pointerType":      "touch",
		"osFamily":         "android",
		"browserFamily":    "chrome",
		"devicePixelRatio": 2.625,
		"userAgent":        "Mozilla/5.0 (Linux; Android 14)",
	}

	for _, tt := range []struct {
		name       string
		expression string
		all, any   []string
		want       bool
		err        error
	}{
		{
			name:       "single expression",
			expression: "devicePixelRatio >= 2.0",
			want:       true,
		},
		{
			name: "all",
			all:  []string{`pointerType == "touch"`, `osFamily == "ios"`},
			want: false,
		},
		{
			name: "any",
			any:  []string{`pointerType == "mouse"`, `browserFamily == "chrome"`},
			want: true,
		},
		{
			name:       "string functions",
			expression: `userAgent.contains("Android")`,
			want:       true,
		},
		{
			name: "nothing",
			err:  ErrEmptyProgram,
		},
		{
			name:       "not a bool",
			expression: "devicePixelRatio * 2.0",
			err:        ErrCantCompile,
		},
		{
			name:       "syntax error",
			expression: "devicePixelRatio >=",
			err:        ErrCantCompile,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			prg, err := Program(env, tt.expression, tt.all, tt.any)
			if !errors.Is(err, tt.err) {
				t.Fatalf("wanted error %v, got: %v", tt.err, err)
			}

			if tt.err != nil {
				return
			}

			result, _, err := prg.Eval(vars)
			if err != nil {
				t.Fatal(err)
			}

			if got, ok := result.(types.Bool); !ok || bool(got) != tt.want {
				t.Errorf("wanted %v, got: %v", tt.want, result)
			}
		})
	}
}
