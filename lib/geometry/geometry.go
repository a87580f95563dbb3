// Package geometry holds the planar primitives shared by path generation,
// progressive reveal and trajectory scoring.
package geometry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var ErrBadPoint = errors.New("geometry: a point must be an array of two finite numbers")

// Point is a position on the canvas in CSS pixels. It is encoded as a
// two-element JSON array.
type Point struct {
	X, Y float64
}

func (p Point) Add(q Point) Point        { return Point{p.X + q.X, p.Y + q.Y} }
func (p Point) Sub(q Point) Point        { return Point{p.X - q.X, p.Y - q.Y} }
func (p Point) Scale(f float64) Point    { return Point{p.X * f, p.Y * f} }
func (p Point) Dot(q Point) float64      { return p.X*q.X + p.Y*q.Y }
func (p Point) Norm() float64            { return math.Hypot(p.X, p.Y) }
func (p Point) Distance(q Point) float64 { return math.Hypot(p.X-q.X, p.Y-q.Y) }

// Lerp returns the point a fraction t of the way from p to q.
func (p Point) Lerp(q Point, t float64) Point {
	return Point{p.X + (q.X-p.X)*t, p.Y + (q.Y-p.Y)*t}
}

// Round returns p with both coordinates rounded to the given number of
// decimal places.
func (p Point) Round(places int) Point {
	f := math.Pow(10, float64(places))
	return Point{math.Round(p.X*f) / f, math.Round(p.Y*f) / f}
}

func (p Point) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var xy []float64
	if err := json.Unmarshal(data, &xy); err != nil {
		return fmt.Errorf("%w: %w", ErrBadPoint, err)
	}

	if len(xy) != 2 {
		return fmt.Errorf("%w: got %d elements", ErrBadPoint, len(xy))
	}

	p.X, p.Y = xy[0], xy[1]
	return nil
}

// PointSegmentDistance returns the distance from p to the closest point of
// the segment a-b. A zero-length segment degrades to a point distance.
func PointSegmentDistance(p, a, b Point) float64 {
	ab := b.Sub(a)
	lenSq := ab.Dot(ab)
	if lenSq == 0 {
		return p.Distance(a)
	}

	t := p.Sub(a).Dot(ab) / lenSq
	t = math.Max(0, math.Min(1, t))

	return p.Distance(a.Add(ab.Scale(t)))
}

// Heading returns the direction of travel from a to b in radians.
func Heading(a, b Point) float64 {
	return math.Atan2(b.Y-a.Y, b.X-a.X)
}

// TurnAngle returns the absolute change of direction, in radians, at b when
// travelling a -> b -> c. Collinear points turn by zero.
func TurnAngle(a, b, c Point) float64 {
	d := Heading(b, c) - Heading(a, b)
	for d > math.Pi {
		d -= 2 * math.Pi
	}
	for d < -math.Pi {
		d += 2 * math.Pi
	}

	return math.Abs(d)
}

// Bounds is an axis-aligned rectangle.
type Bounds struct {
	Min, Max Point
}

func (b Bounds) Width() float64  { return b.Max.X - b.Min.X }
func (b Bounds) Height() float64 { return b.Max.Y - b.Min.Y }

// Contains reports whether p lies inside b, edges included.
func (b Bounds) Contains(p Point) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y
}

// Inset shrinks b by margin on every side.
func (b Bounds) Inset(margin float64) Bounds {
	return Bounds{
		Min: Point{b.Min.X + margin, b.Min.Y + margin},
		Max: Point{b.Max.X - margin, b.Max.Y - margin},
	}
}
