package challenge

import (
	"errors"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TimeTaken = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "linecaptcha_time_taken",
		Help:    "The time taken for a solver to trace the line (milliseconds)",
		Buckets: prometheus.ExponentialBucketsRange(100, math.Pow(2, 16), 16),
	}, []string{"reason"})

	challengesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linecaptcha_challenges_issued_total",
		Help: "The total number of challenges issued",
	})

	challengesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linecaptcha_challenges_rejected_total",
		Help: "The total number of peek and verify calls rejected, by private cause",
	}, []string{"verb", "cause"})
)

func rejectionCause(err error) string {
	for _, cause := range []struct {
		err  error
		name string
	}{
		{ErrUnknownChallenge, "unknown"},
		{ErrBadToken, "bad_token"},
		{ErrTokenMismatch, "mismatch"},
		{ErrExpired, "expired"},
		{ErrConsumed, "consumed"},
	} {
		if errors.Is(err, cause.err) {
			return cause.name
		}
	}

	return "other"
}
