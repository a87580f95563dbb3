package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/TecharoHQ/linecaptcha"
	"github.com/TecharoHQ/linecaptcha/lib/geometry"
	"github.com/TecharoHQ/linecaptcha/lib/verify"
)

var ErrUnknownScenario = errors.New("tracesim: unknown scenario")

// outcomeRejected is tallied when the API refuses to score an attempt.
const outcomeRejected = "rejected"

// teleportPx is how far the teleport scenario throws one sample off the path.
const teleportPx = 120

// maxPeeks bounds a single attempt when the server stops revealing the path.
const maxPeeks = 2000

var scenarios = []string{"human", "replay", "teleport", "fast", "partial"}

// params shapes how a simulated solver moves.
type params struct {
	PointerType linecaptcha.PointerType
	StepPx      float64
	StepMs      float64
	// StepMsJitter is the fractional spread applied to each step's timing.
	StepMsJitter float64
	JitterPx     float64
	AdvancePx    float64
	// Coverage is the share of the path traced before stopping.
	Coverage     float64
	PeekInterval time.Duration
}

func defaultParams() params {
	return params{
		PointerType:  linecaptcha.PointerMouse,
		StepPx:       2.5,
		StepMs:       16,
		StepMsJitter: 0.2,
		JitterPx:     0.8,
		AdvancePx:    40,
		Coverage:     1,
	}
}

// forScenario adjusts p to make the scripted client misbehave the way the
// scenario names.
func (p params) forScenario(name string) (params, error) {
	switch name {
	case "human", "replay", "teleport":
	case "fast":
		p.StepPx *= 3.2
	case "partial":
		p.Coverage = 0.5
		p.StepPx /= 2
	default:
		return p, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
	}
	return p, nil
}

// walker moves a simulated pointer along revealed path windows and records
// the samples a browser would have captured.
type walker struct {
	p   params
	rng *rand.Rand

	pos        geometry.Point
	t          float64
	travelled  float64
	trajectory []verify.Sample
}

func newWalker(p params, rng *rand.Rand, start geometry.Point) *walker {
	w := &walker{p: p, rng: rng, pos: start}
	w.trajectory = []verify.Sample{{X: start.X, Y: start.Y, T: 0}}
	return w
}

// forward drops the part of a revealed window that lies behind the cursor.
func forward(ahead []geometry.Point, cursor geometry.Point) []geometry.Point {
	if len(ahead) == 0 {
		return nil
	}

	best, bestDist := 0, math.Inf(1)
	for i, pt := range ahead {
		if d := pt.Distance(cursor); d < bestDist {
			best, bestDist = i, d
		}
	}

	return ahead[best+1:]
}

// walk advances along route by at most budget pixels, emitting one sample
// per step.
func (w *walker) walk(route []geometry.Point, budget float64) {
	for budget > 0 && len(route) > 0 {
		step := math.Min(w.p.StepPx, budget)
		remaining := step

		for remaining > 0 && len(route) > 0 {
			d := w.pos.Distance(route[0])
			if d <= remaining {
				w.pos = route[0]
				route = route[1:]
				remaining -= d
				continue
			}
			w.pos = w.pos.Lerp(route[0], remaining/d)
			remaining = 0
		}

		moved := step - remaining
		if moved <= 0 {
			return
		}
		budget -= moved
		w.travelled += moved

		w.t += w.p.StepMs * (1 + w.p.StepMsJitter*(2*w.rng.Float64()-1))
		w.trajectory = append(w.trajectory, verify.Sample{
			X: w.pos.X + w.p.JitterPx*(2*w.rng.Float64()-1),
			Y: w.pos.Y + w.p.JitterPx*(2*w.rng.Float64()-1),
			T: math.Round(w.t*100) / 100,
		})
	}
}

// teleport throws the middle sample sideways off the traced path.
func teleport(traj []verify.Sample) {
	if len(traj) < 3 {
		return
	}

	mid := len(traj) / 2
	dir := traj[mid+1].Point().Sub(traj[mid-1].Point())
	n := dir.Norm()
	if n == 0 {
		traj[mid].Y += teleportPx
		return
	}

	traj[mid].X += -dir.Y / n * teleportPx
	traj[mid].Y += dir.X / n * teleportPx
}

// attempt runs one scripted solve of a fresh challenge and reports what the
// server made of it.
type attempt struct {
	c       *client
	p       params
	rng     *rand.Rand
	session string
}

func (a *attempt) trace(ctx context.Context, chall *challengeResponse) ([]verify.Sample, error) {
	w := newWalker(a.p, a.rng, chall.StartPoint)
	target := math.Inf(1)

	for range maxPeeks {
		res, err := a.c.peek(ctx, chall, w.pos)
		if err != nil {
			return nil, err
		}

		if math.IsInf(target, 1) && a.p.Coverage < 1 {
			target = res.DistanceToEnd * a.p.Coverage
		}

		route := forward(res.Ahead, w.pos)
		if res.Finish != nil && (len(route) == 0 || route[len(route)-1] != *res.Finish) {
			route = append(route, *res.Finish)
		}
		if len(route) == 0 {
			break
		}

		w.walk(route, math.Min(a.p.AdvancePx, target-w.travelled))

		if res.Finish != nil && w.pos.Distance(*res.Finish) <= a.p.StepPx {
			break
		}
		if w.travelled >= target {
			break
		}

		if a.p.PeekInterval > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.p.PeekInterval):
			}
		}
	}

	return w.trajectory, nil
}

// run plays the named scenario and returns the outcome to tally: a verify
// reason, or outcomeRejected when the server refused the attempt.
func (a *attempt) run(ctx context.Context, scenario string) (string, error) {
	chall, err := a.c.newChallenge(ctx)
	if err != nil {
		return "", err
	}

	traj, err := a.trace(ctx, chall)
	if err != nil {
		return outcome(nil, err)
	}

	if scenario == "teleport" {
		teleport(traj)
	}

	req := verifyRequest{
		ChallengeID:      chall.ChallengeID,
		Nonce:            chall.Nonce,
		Token:            chall.Token,
		SessionID:        a.session,
		PointerType:      a.p.PointerType,
		OSFamily:         "tracesim",
		BrowserFamily:    "tracesim",
		DevicePixelRatio: 1,
		Trajectory:       traj,
	}

	res, err := a.c.verify(ctx, req)
	if scenario != "replay" || err != nil {
		return outcome(res, err)
	}

	return outcome(a.c.verify(ctx, req))
}

func outcome(res *verifyResponse, err error) (string, error) {
	var apiErr *apiError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden:
		return outcomeRejected, nil
	case err != nil:
		return "", err
	}
	return string(res.Reason), nil
}
