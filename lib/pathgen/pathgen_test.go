package pathgen

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"

	"github.com/TecharoHQ/linecaptcha/lib/config"
	"github.com/TecharoHQ/linecaptcha/lib/geometry"
)

const epsilon = 1e-6

func defaultGenerator(t *testing.T) (*Generator, Options) {
	t.Helper()

	opts := OptionsFromConfig(config.Default())
	g, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}

	return g, opts
}

func TestGenerateProperties(t *testing.T) {
	g, opts := defaultGenerator(t)
	inner := opts.Canvas.Inset(opts.Margin)
	maxTurn := opts.MaxTurnDegrees * math.Pi / 180

	for i := range 500 {
		seed := fmt.Sprintf("seed-%d", i)
		t.Run(seed, func(t *testing.T) {
			p, err := g.Generate(seed)
			if err != nil {
				t.Fatal(err)
			}

			if p.Length < opts.MinLength-epsilon || p.Length > opts.MaxLength+epsilon {
				t.Errorf("length %v outside [%v, %v]", p.Length, opts.MinLength, opts.MaxLength)
			}

			if got := p.Polyline.Length(); math.Abs(got-p.Length) > epsilon {
				t.Errorf("dense length %v differs from control length %v", got, p.Length)
			}

			if b := p.Bends(); b < 1 || b > opts.MaxBends {
				t.Errorf("bend count %d outside [1, %d]", b, opts.MaxBends)
			}

			if !inner.Contains(p.Start) || !inner.Contains(p.End) {
				t.Errorf("start %v or end %v outside %v", p.Start, p.End, inner)
			}

			for j, pt := range p.Polyline {
				if !inner.Contains(pt) {
					t.Fatalf("vertex %d %v is closer than %v to the canvas edge", j, pt, opts.Margin)
				}
			}

			bends := 0
			for j := 2; j < len(p.Polyline); j++ {
				turn := geometry.TurnAngle(p.Polyline[j-2], p.Polyline[j-1], p.Polyline[j])
				if turn > maxTurn+epsilon {
					t.Fatalf("turn of %v degrees at vertex %d", turn*180/math.Pi, j-1)
				}
				if turn > epsilon {
					bends++
				}
			}

			if bends > opts.MaxBends {
				t.Errorf("dense polyline turns %d times, wanted at most %d", bends, opts.MaxBends)
			}

			for j := 1; j < len(p.Polyline); j++ {
				if d := p.Polyline[j-1].Distance(p.Polyline[j]); d > opts.Spacing+epsilon {
					t.Fatalf("vertex spacing %v at %d exceeds %v", d, j, opts.Spacing)
				}
			}
		})
	}
}

func TestGenerateIsReproducible(t *testing.T) {
	g, _ := defaultGenerator(t)

	a, err := g.Generate("5f2b8c9d0e1a3b4c")
	if err != nil {
		t.Fatal(err)
	}

	b, err := g.Generate("5f2b8c9d0e1a3b4c")
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(a, b) {
		t.Error("the same seed produced different paths")
	}

	c, err := g.Generate("0000000000000000")
	if err != nil {
		t.Fatal(err)
	}

	if reflect.DeepEqual(a.Polyline, c.Polyline) {
		t.Error("different seeds produced the same path")
	}
}

func TestGenerateCanvasTooSmall(t *testing.T) {
	opts := OptionsFromConfig(config.Default())
	opts.Canvas = geometry.Bounds{Max: geometry.Point{X: 120, Y: 120}}

	g, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := g.Generate("seed"); !errors.Is(err, ErrCanvasTooSmall) {
		t.Errorf("wanted ErrCanvasTooSmall, got: %v", err)
	}
}

func TestOptionsValid(t *testing.T) {
	for _, tt := range []struct {
		name   string
		mutate func(o *Options)
		err    error
	}{
		{
			name:   "defaults",
			mutate: func(*Options) {},
		},
		{
			name:   "no bends",
			mutate: func(o *Options) { o.MaxBends = 0 },
			err:    ErrBadOptions,
		},
		{
			name:   "too many bends for the minimum segment share",
			mutate: func(o *Options) { o.MaxBends = 5 },
			err:    ErrBadOptions,
		},
		{
			name:   "zero spacing",
			mutate: func(o *Options) { o.Spacing = 0 },
			err:    ErrBadOptions,
		},
		{
			name:   "reflex turn",
			mutate: func(o *Options) { o.MaxTurnDegrees = 120 },
			err:    ErrBadOptions,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			opts := OptionsFromConfig(config.Default())
			tt.mutate(&opts)

			if _, err := New(opts); !errors.Is(err, tt.err) {
				t.Errorf("wanted %v, got: %v", tt.err, err)
			}
		})
	}
}

func TestNewSeed(t *testing.T) {
	a, err := NewSeed()
	if err != nil {
		t.Fatal(err)
	}

	b, err := NewSeed()
	if err != nil {
		t.Fatal(err)
	}

	if len(a) != 16 || a == b {
		t.Errorf("bad seeds: %q, %q", a, b)
	}
}
