// Package verify scores a submitted pointer trajectory against the line a
// challenge asked the solver to trace.
package verify

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/TecharoHQ/linecaptcha/lib/geometry"
)

// Reason names the outcome of a verification. Exactly one reason is
// reported per attempt.
type Reason string

const (
	ReasonSuccess             Reason = "success"
	ReasonInsufficientSamples Reason = "insufficient_samples"
	ReasonNonMonotonicTime    Reason = "non_monotonic_time"
	ReasonTooFast             Reason = "too_fast"
	ReasonTimeout             Reason = "timeout"
	ReasonJumpDetected        Reason = "jump_detected"
	ReasonLowCoverage         Reason = "low_coverage"
)

// Reasons lists every reason in check order, success last.
var Reasons = []Reason{
	ReasonInsufficientSamples,
	ReasonNonMonotonicTime,
	ReasonTooFast,
	ReasonTimeout,
	ReasonJumpDetected,
	ReasonLowCoverage,
	ReasonSuccess,
}

var ErrBadSample = errors.New("verify: a sample needs numeric x, y and t")

// Sample is one pointer position. T is milliseconds since the first sample
// of the attempt.
type Sample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T float64 `json:"t"`
}

// UnmarshalJSON refuses samples with a missing or null coordinate, which
// would otherwise be scored as zero.
func (s *Sample) UnmarshalJSON(data []byte) error {
	var raw struct {
		X, Y, T *float64
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %w", ErrBadSample, err)
	}

	if raw.X == nil || raw.Y == nil || raw.T == nil {
		return fmt.Errorf("%w: got %s", ErrBadSample, data)
	}

	s.X, s.Y, s.T = *raw.X, *raw.Y, *raw.T
	return nil
}

func (s Sample) Point() geometry.Point {
	return geometry.Point{X: s.X, Y: s.Y}
}

// Thresholds are the limits a trajectory is judged against.
type Thresholds struct {
	MinSamples       int
	TooFast          time.Duration
	RequiredCoverage float64
	// MaxSpeed is in pixels per second.
	MaxSpeed float64
	// MaxAcceleration is in pixels per second squared.
	MaxAcceleration float64
	// DeviationMargin is how far past the tolerance a single sample may
	// stray before the attempt is treated as a jump.
	DeviationMargin float64
	PauseGap        time.Duration
	// MotionWindow is the shortest span speed and acceleration are
	// measured over. Consecutive steps are merged until they cover it.
	MotionWindow time.Duration
}

// Input is everything a verification depends on.
type Input struct {
	Polyline   geometry.Polyline
	Tolerance  float64
	ExpiresAt  time.Time
	Now        time.Time
	Trajectory []Sample
}

type Deviation struct {
	Mean float64 `json:"mean"`
	Max  float64 `json:"max"`
}

type Metrics struct {
	CoverageRatio     float64   `json:"coverageRatio"`
	MeanSpeedPxPerSec float64   `json:"meanSpeedPxPerSec"`
	MaxSpeedPxPerSec  float64   `json:"maxSpeedPxPerSec"`
	Deviation         Deviation `json:"deviationStatsPx"`
	DurationMs        float64   `json:"durationMs"`
	SpeedCV           float64   `json:"speedCv"`
	MaxAccelPxPerSec2 float64   `json:"maxAccelPxPerSec2"`
	PauseCount        int       `json:"pauseCount"`
	PauseDurationsMs  []float64 `json:"pauseDurationsMs"`
}

type Result struct {
	Passed  bool    `json:"passed"`
	Reason  Reason  `json:"reason"`
	Metrics Metrics `json:"metrics"`
}

type Verifier struct {
	thresholds Thresholds
}

func New(t Thresholds) *Verifier {
	return &Verifier{thresholds: t}
}

func (v *Verifier) Thresholds() Thresholds {
	return v.thresholds
}

// Verify runs the checks in order and reports the first one that fails.
// Metrics are filled in whatever the outcome.
func (v *Verifier) Verify(in Input) Result {
	m := v.measure(in)
	reason := v.reason(in, m)

	return Result{
		Passed:  reason == ReasonSuccess,
		Reason:  reason,
		Metrics: m,
	}
}

func (v *Verifier) reason(in Input, m Metrics) Reason {
	t := v.thresholds
	traj := in.Trajectory

	if len(traj) < t.MinSamples || len(traj) == 0 {
		return ReasonInsufficientSamples
	}

	for i := 1; i < len(traj); i++ {
		// written negated so NaN timestamps fail too
		if !(traj[i].T > traj[i-1].T) {
			return ReasonNonMonotonicTime
		}
	}

	if m.DurationMs < float64(t.TooFast.Milliseconds()) {
		return ReasonTooFast
	}

	if in.Now.After(in.ExpiresAt) {
		return ReasonTimeout
	}

	if m.MaxSpeedPxPerSec > t.MaxSpeed ||
		m.MaxAccelPxPerSec2 > t.MaxAcceleration ||
		m.Deviation.Max > in.Tolerance+t.DeviationMargin {
		return ReasonJumpDetected
	}

	if m.CoverageRatio < t.RequiredCoverage {
		return ReasonLowCoverage
	}

	return ReasonSuccess
}

// minStepMs keeps speeds finite when two samples share a timestamp.
const minStepMs = 1.0

// span is a run of consecutive steps measured as one.
type span struct {
	start, end float64
	dist       float64
}

func (w span) speed() float64 {
	return w.dist / (math.Max(w.end-w.start, minStepMs) / 1000)
}

func (w span) mid() float64 {
	return (w.start + w.end) / 2
}

// windows merges the steps of traj into spans of at least windowMs. A short
// run left at the end joins the span before it.
func windows(traj []Sample, windowMs float64) []span {
	var (
		result  []span
		cur     = span{start: traj[0].T}
		pending bool
	)

	for i := 1; i < len(traj); i++ {
		cur.dist += traj[i-1].Point().Distance(traj[i].Point())
		cur.end = traj[i].T
		pending = true

		if cur.end-cur.start < windowMs {
			continue
		}

		result = append(result, cur)
		cur = span{start: cur.end}
		pending = false
	}

	if pending {
		if n := len(result); n > 0 {
			result[n-1].end = cur.end
			result[n-1].dist += cur.dist
		} else {
			result = append(result, cur)
		}
	}

	return result
}

func (v *Verifier) measure(in Input) Metrics {
	traj := in.Trajectory
	m := Metrics{
		PauseDurationsMs: []float64{},
	}

	if len(traj) == 0 {
		return m
	}

	m.DurationMs = traj[len(traj)-1].T - traj[0].T
	m.Deviation = deviation(in.Polyline, traj)
	m.CoverageRatio = Coverage(in.Polyline, traj, in.Tolerance)

	pauseGap := float64(v.thresholds.PauseGap.Milliseconds())

	var totalDist float64
	for i := 1; i < len(traj); i++ {
		totalDist += traj[i-1].Point().Distance(traj[i].Point())

		if dt := traj[i].T - traj[i-1].T; pauseGap > 0 && dt >= pauseGap {
			m.PauseCount++
			m.PauseDurationsMs = append(m.PauseDurationsMs, dt)
		}
	}

	if m.DurationMs > 0 {
		m.MeanSpeedPxPerSec = totalDist / (m.DurationMs / 1000)
	}

	if len(traj) < 2 {
		return m
	}

	spans := windows(traj, float64(v.thresholds.MotionWindow.Microseconds())/1000)
	speeds := make([]float64, len(spans))

	for i, w := range spans {
		speeds[i] = w.speed()
		m.MaxSpeedPxPerSec = math.Max(m.MaxSpeedPxPerSec, speeds[i])

		if i == 0 {
			continue
		}

		dt := math.Max(w.mid()-spans[i-1].mid(), minStepMs)
		accel := math.Abs(speeds[i]-speeds[i-1]) / (dt / 1000)
		m.MaxAccelPxPerSec2 = math.Max(m.MaxAccelPxPerSec2, accel)
	}

	m.SpeedCV = coefficientOfVariation(speeds)

	return m
}

func deviation(pl geometry.Polyline, traj []Sample) Deviation {
	if len(pl) == 0 || len(traj) == 0 {
		return Deviation{}
	}

	var d Deviation
	for _, s := range traj {
		dist := pl.Distance(s.Point())
		d.Mean += dist
		d.Max = math.Max(d.Max, dist)
	}
	d.Mean /= float64(len(traj))

	return d
}

func coefficientOfVariation(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}

	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	if mean == 0 {
		return 0
	}

	var variance float64
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs))

	return math.Sqrt(variance) / mean
}

// Coverage returns the share of the polyline's arc length traced by the
// trajectory. Each sample is projected forward of the previous accepted
// projection; a sample counts only if it lies within tolerance of that
// vertex. Every vertex contiguous with the projection and within tolerance
// of the sample is marked, and a segment is covered when both of its ends
// are marked.
func Coverage(pl geometry.Polyline, traj []Sample, tolerance float64) float64 {
	if len(pl) < 2 {
		return 0
	}

	total := pl.Length()
	if total == 0 {
		return 0
	}

	marked := make([]bool, len(pl))
	hint := 0

	for _, s := range traj {
		p := s.Point()
		idx, dist := geometry.NearestForward(pl, p, hint)
		if !(dist <= tolerance) {
			continue
		}
		hint = idx

		for i := idx; i >= 0 && p.Distance(pl[i]) <= tolerance; i-- {
			marked[i] = true
		}
		for i := idx + 1; i < len(pl) && p.Distance(pl[i]) <= tolerance; i++ {
			marked[i] = true
		}
	}

	var covered float64
	for i := 1; i < len(pl); i++ {
		if marked[i-1] && marked[i] {
			covered += pl[i-1].Distance(pl[i])
		}
	}

	return covered / total
}
