// Package pathgen synthesizes the bounded-curvature lines that solvers are
// asked to trace.
package pathgen

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	mrand "math/rand/v2"

	"github.com/TecharoHQ/linecaptcha/lib/config"
	"github.com/TecharoHQ/linecaptcha/lib/geometry"
	"github.com/cespare/xxhash/v2"
)

// maxAttempts bounds how many random layouts are tried before giving up.
const maxAttempts = 64

// minSegmentShare is the smallest fraction of the total length any straight
// run between bends may take.
const minSegmentShare = 0.2

var (
	ErrCanvasTooSmall = errors.New("pathgen: path does not fit inside the canvas")
	ErrBadOptions     = errors.New("pathgen: options are invalid")
)

// Options controls the shape of generated paths.
type Options struct {
	Canvas         geometry.Bounds
	MinLength      float64
	MaxLength      float64
	MaxBends       int
	MinTurnDegrees float64
	MaxTurnDegrees float64
	Spacing        float64
	// Margin keeps every vertex at least this far from the canvas edge.
	Margin float64
}

// OptionsFromConfig derives generator options from the shared thresholds.
func OptionsFromConfig(c *config.Config) Options {
	return Options{
		Canvas: geometry.Bounds{
			Max: geometry.Point{X: c.Canvas.Width, Y: c.Canvas.Height},
		},
		MinLength:      c.Path.MinLength,
		MaxLength:      c.Path.MaxLength,
		MaxBends:       c.Path.MaxBends,
		MinTurnDegrees: c.Path.MinTurnDegrees,
		MaxTurnDegrees: c.Path.MaxTurnDegrees,
		Spacing:        c.Path.Spacing,
		Margin:         c.EdgeMargin(),
	}
}

func (o Options) Valid() error {
	var errs []error

	if o.Canvas.Width() <= 0 || o.Canvas.Height() <= 0 {
		errs = append(errs, fmt.Errorf("canvas is %vx%v", o.Canvas.Width(), o.Canvas.Height()))
	}

	if o.MinLength <= 0 || o.MinLength > o.MaxLength {
		errs = append(errs, fmt.Errorf("length range [%v, %v] is empty", o.MinLength, o.MaxLength))
	}

	if o.MaxBends < 1 || float64(o.MaxBends+1)*minSegmentShare > 1 {
		errs = append(errs, fmt.Errorf("maxBends is %d", o.MaxBends))
	}

	if o.MinTurnDegrees < 0 || o.MinTurnDegrees > o.MaxTurnDegrees || o.MaxTurnDegrees >= 90 {
		errs = append(errs, fmt.Errorf("turn range [%v, %v] is invalid", o.MinTurnDegrees, o.MaxTurnDegrees))
	}

	if o.Spacing <= 0 {
		errs = append(errs, fmt.Errorf("spacing is %v", o.Spacing))
	}

	if o.Margin < 0 {
		errs = append(errs, fmt.Errorf("margin is %v", o.Margin))
	}

	if len(errs) != 0 {
		return fmt.Errorf("%w: %w", ErrBadOptions, errors.Join(errs...))
	}

	return nil
}

// Path is one generated line.
type Path struct {
	Seed string `json:"seed"`
	// Controls are the corners of the line: start, each bend, end.
	Controls geometry.Polyline `json:"controls"`
	// Polyline is Controls densified to the configured spacing.
	Polyline geometry.Polyline `json:"polyline"`
	Start    geometry.Point    `json:"start"`
	End      geometry.Point    `json:"end"`
	Length   float64           `json:"length"`
}

// Bends is the number of corners between the start and the end.
func (p *Path) Bends() int {
	return max(0, len(p.Controls)-2)
}

type Generator struct {
	opts Options
}

func New(opts Options) (*Generator, error) {
	if err := opts.Valid(); err != nil {
		return nil, err
	}

	return &Generator{opts: opts}, nil
}

// NewSeed returns a fresh random path identifier.
func NewSeed() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("pathgen: can't read random seed: %w", err)
	}

	return hex.EncodeToString(buf[:]), nil
}

func rngFor(seed string) *mrand.Rand {
	return mrand.New(mrand.NewPCG(xxhash.Sum64String(seed), xxhash.Sum64String("pathgen:"+seed)))
}

// Generate builds the path identified by seed. The same seed and options
// always produce the same path.
func (g *Generator) Generate(seed string) (*Path, error) {
	rng := rngFor(seed)
	avail := g.opts.Canvas.Inset(g.opts.Margin)

	if avail.Width() < 0 || avail.Height() < 0 {
		return nil, fmt.Errorf("%w: margin %v leaves no room", ErrCanvasTooSmall, g.opts.Margin)
	}

	for range maxAttempts {
		controls := g.layout(rng)
		bounds := controls.Bounds()

		if bounds.Width() > avail.Width() || bounds.Height() > avail.Height() {
			continue
		}

		offset := geometry.Point{
			X: avail.Min.X - bounds.Min.X + rng.Float64()*(avail.Width()-bounds.Width()),
			Y: avail.Min.Y - bounds.Min.Y + rng.Float64()*(avail.Height()-bounds.Height()),
		}
		controls = controls.Translate(offset)

		dense := controls.Densify(g.opts.Spacing)

		return &Path{
			Seed:     seed,
			Controls: controls,
			Polyline: dense,
			Start:    dense[0],
			End:      dense[len(dense)-1],
			Length:   controls.Length(),
		}, nil
	}

	return nil, fmt.Errorf("%w: no layout found after %d attempts", ErrCanvasTooSmall, maxAttempts)
}

// layout draws an untranslated control polyline starting at the origin.
func (g *Generator) layout(rng *mrand.Rand) geometry.Polyline {
	bends := 1 + rng.IntN(g.opts.MaxBends)
	total := g.opts.MinLength + rng.Float64()*(g.opts.MaxLength-g.opts.MinLength)
	segments := segmentLengths(rng, total, bends+1)

	minTurn := g.opts.MinTurnDegrees * math.Pi / 180
	maxTurn := g.opts.MaxTurnDegrees * math.Pi / 180
	heading := rng.Float64() * 2 * math.Pi

	result := make(geometry.Polyline, 0, len(segments)+1)
	cur := geometry.Point{}
	result = append(result, cur)

	for i, length := range segments {
		cur = cur.Add(geometry.Point{X: math.Cos(heading), Y: math.Sin(heading)}.Scale(length))
		result = append(result, cur)

		if i == len(segments)-1 {
			break
		}

		turn := minTurn + rng.Float64()*(maxTurn-minTurn)
		if rng.IntN(2) == 0 {
			turn = -turn
		}
		heading += turn
	}

	return result
}

// segmentLengths splits total into n runs, each at least minSegmentShare of
// the total, that sum to total.
func segmentLengths(rng *mrand.Rand, total float64, n int) []float64 {
	floor := total * minSegmentShare
	spare := total - floor*float64(n)

	weights := make([]float64, n)
	var sum float64
	for i := range weights {
		weights[i] = 0.1 + rng.Float64()
		sum += weights[i]
	}

	result := make([]float64, n)
	for i, w := range weights {
		result[i] = floor + spare*w/sum
	}

	return result
}
