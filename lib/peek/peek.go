// Package peek reveals the path a little at a time as the solver traces it.
package peek

import (
	"context"
	"math"

	"github.com/TecharoHQ/linecaptcha/lib/challenge"
	"github.com/TecharoHQ/linecaptcha/lib/config"
	"github.com/TecharoHQ/linecaptcha/lib/geometry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// wirePlaces is how many decimal places coordinates keep on the wire.
const wirePlaces = 2

var progressAdvances = promauto.NewCounter(prometheus.CounterOpts{
	Name: "linecaptcha_peek_progress_advances",
	Help: "The number of peeks that moved a challenge's progress forward",
})

// Result is what a client learns from one peek.
type Result struct {
	Ahead         []geometry.Point `json:"ahead"`
	DistanceToEnd float64          `json:"distanceToEnd"`
	Finish        *geometry.Point  `json:"finish"`
}

type Service struct {
	store  *challenge.Store
	reveal config.Reveal
}

func New(store *challenge.Store, reveal config.Reveal) *Service {
	return &Service{store: store, reveal: reveal}
}

// Peek authenticates the challenge, moves its progress forward when cursor
// sits on the revealed part of the path, and returns the next window of the
// path. Failures to authenticate are challenge.ErrRejected.
func (s *Service) Peek(ctx context.Context, id, nonce, token string, cursor geometry.Point) (*Result, error) {
	chall, err := s.store.Authenticate(ctx, id, nonce, token, challenge.UsePeek)
	if err != nil {
		return nil, err
	}

	cums := chall.Points.Cumulative()

	// Only vertices the client has already been shown can move progress.
	to := geometry.IndexAtArc(cums, cums[chall.Progress]+s.reveal.Lookahead)
	idx, dist := geometry.NearestInRange(chall.Points, cursor, chall.Progress, to)

	if idx > chall.Progress && dist <= chall.Tolerance.Widest() {
		chall, err = s.store.AdvanceProgress(ctx, id, idx)
		if err != nil {
			return nil, err
		}
		progressAdvances.Inc()
	}

	return window(chall.Points, cums, chall.Progress, s.reveal), nil
}

func window(pl geometry.Polyline, cums []float64, progress int, reveal config.Reveal) *Result {
	end := geometry.IndexAtArc(cums, cums[progress]+reveal.Lookahead)

	ahead := make([]geometry.Point, 0, end-progress+1)
	for _, p := range pl[progress : end+1] {
		ahead = append(ahead, p.Round(wirePlaces))
	}

	remaining := math.Max(0, cums[len(cums)-1]-cums[progress])

	result := &Result{
		Ahead:         ahead,
		DistanceToEnd: round(remaining),
	}

	if remaining <= reveal.FinishReveal {
		finish := pl[len(pl)-1].Round(wirePlaces)
		result.Finish = &finish
	}

	return result
}

func round(f float64) float64 {
	scale := math.Pow(10, wirePlaces)
	return math.Round(f*scale) / scale
}
