// Package tolerance decides how wide the corridor around a line is for a
// given client.
package tolerance

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/TecharoHQ/linecaptcha"
	"github.com/TecharoHQ/linecaptcha/lib/config"
	"github.com/TecharoHQ/linecaptcha/lib/expressions"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// Radii is the corridor half-width for each pointer profile.
type Radii struct {
	Mouse float64 `json:"mouse"`
	Touch float64 `json:"touch"`
}

// For returns the radius used to score the given pointer type.
func (r Radii) For(pt linecaptcha.PointerType) float64 {
	if pt.Profile() == linecaptcha.PointerMouse {
		return r.Mouse
	}

	return r.Touch
}

// Widest returns the larger of the two radii.
func (r Radii) Widest() float64 {
	return math.Max(r.Mouse, r.Touch)
}

// Jittered picks per-challenge radii: each profile's base tolerance moved
// by a uniform amount in [-jitter, +jitter], rounded to a tenth of a pixel.
// A nil rng uses the global source.
func Jittered(p config.Pointers, rng *rand.Rand) Radii {
	float := rand.Float64
	if rng != nil {
		float = rng.Float64
	}

	jitter := func(pp config.PointerProfile) float64 {
		v := pp.Tolerance + (float()*2-1)*pp.Jitter
		return math.Round(v*10) / 10
	}

	return Radii{
		Mouse: jitter(p.Mouse),
		Touch: jitter(p.Touch),
	}
}

// Client describes the device that submitted a trajectory. It is exposed
// to tolerance rule expressions.
type Client struct {
	PointerType      linecaptcha.PointerType
	OSFamily         string
	BrowserFamily    string
	DevicePixelRatio float64
	UserAgent        string
}

func (c *Client) Parent() cel.Activation { return nil }

func (c *Client) ResolveName(name string) (any, bool) {
	switch name {
	case "pointerType":
		return string(c.PointerType), true
	case "osFamily":
		return c.OSFamily, true
	case "browserFamily":
		return c.BrowserFamily, true
	case "devicePixelRatio":
		return c.DevicePixelRatio, true
	case "userAgent":
		return c.UserAgent, true
	default:
		return nil, false
	}
}

type rule struct {
	name    string
	scale   float64
	program cel.Program
}

// Rules is a compiled list of tolerance rules.
type Rules struct {
	rules []rule
}

// Compile builds every rule up front so that a broken expression is caught
// when the config is loaded.
func Compile(cfg []config.ToleranceRule) (*Rules, error) {
	env, err := expressions.NewEnvironment()
	if err != nil {
		return nil, err
	}

	result := &Rules{}

	for _, tr := range cfg {
		if err := tr.Valid(); err != nil {
			return nil, err
		}

		program, err := expressions.Program(env, tr.Expression.Expression, tr.Expression.All, tr.Expression.Any)
		if err != nil {
			return nil, fmt.Errorf("tolerance rule %q: %w", tr.Name, err)
		}

		result.rules = append(result.rules, rule{
			name:    tr.Name,
			scale:   tr.Scale,
			program: program,
		})
	}

	return result, nil
}

// Scale returns the product of the scales of every rule that matches c
// along with the names of the matching rules. Rules that fail to evaluate
// are logged and skipped.
func (r *Rules) Scale(ctx context.Context, c *Client) (float64, []string) {
	scale := 1.0
	var matched []string

	if r == nil {
		return scale, matched
	}

	for _, rl := range r.rules {
		result, _, err := rl.program.ContextEval(ctx, c)
		if err != nil {
			slog.Debug("tolerance rule failed to evaluate", "rule", rl.name, "err", err)
			continue
		}

		if val, ok := result.(types.Bool); ok && bool(val) {
			scale *= rl.scale
			matched = append(matched, rl.name)
		}
	}

	return scale, matched
}

// Apply returns the radius the client's trajectory is judged with.
func (r *Rules) Apply(ctx context.Context, radii Radii, c *Client) float64 {
	scale, _ := r.Scale(ctx, c)
	return radii.For(c.PointerType) * scale
}
