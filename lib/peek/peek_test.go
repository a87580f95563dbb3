package peek_test

import (
	"errors"
	"testing"
	"time"

	"github.com/TecharoHQ/linecaptcha/lib/challenge"
	"github.com/TecharoHQ/linecaptcha/lib/challenge/challengetest"
	"github.com/TecharoHQ/linecaptcha/lib/config"
	"github.com/TecharoHQ/linecaptcha/lib/geometry"
	"github.com/TecharoHQ/linecaptcha/lib/peek"
	"github.com/TecharoHQ/linecaptcha/lib/tolerance"
)

var reveal = config.Reveal{Lookahead: 62, FinishReveal: 40}

type fixture struct {
	clock *challengetest.FakeClock
	store *challenge.Store
	svc   *peek.Service
	iss   *challenge.Issued
}

func setup(t *testing.T) *fixture {
	t.Helper()

	clock := challengetest.NewClock()
	store := challengetest.NewStore(t, clock)

	iss, err := store.Issue(t.Context(), challengetest.Path(), tolerance.Radii{Mouse: 20, Touch: 30})
	if err != nil {
		t.Fatal(err)
	}

	return &fixture{
		clock: clock,
		store: store,
		svc:   peek.New(store, reveal),
		iss:   iss,
	}
}

func (f *fixture) peek(t *testing.T, cursor geometry.Point) (*peek.Result, error) {
	t.Helper()
	c := f.iss.Challenge
	return f.svc.Peek(t.Context(), c.ID, c.Nonce, f.iss.Token, cursor)
}

// The test path runs from (100, 200) to (300, 200) with a vertex every 4px.
func TestPeek(t *testing.T) {
	for _, tt := range []struct {
		name         string
		cursors      []geometry.Point
		wantProgress int
		wantFirst    geometry.Point
		wantLen      int
		wantDistance float64
		wantFinish   bool
	}{
		{
			name:         "at the start",
			cursors:      []geometry.Point{{X: 100, Y: 200}},
			wantFirst:    geometry.Point{X: 100, Y: 200},
			wantLen:      16,
			wantDistance: 200,
		},
		{
			name:         "inside the corridor",
			cursors:      []geometry.Point{{X: 129, Y: 205}},
			wantProgress: 7,
			wantFirst:    geometry.Point{X: 128, Y: 200},
			wantLen:      16,
			wantDistance: 172,
		},
		{
			name:         "outside the corridor",
			cursors:      []geometry.Point{{X: 130, Y: 260}},
			wantFirst:    geometry.Point{X: 100, Y: 200},
			wantLen:      16,
			wantDistance: 200,
		},
		{
			name:         "beyond the revealed region",
			cursors:      []geometry.Point{{X: 290, Y: 200}},
			wantFirst:    geometry.Point{X: 100, Y: 200},
			wantLen:      16,
			wantDistance: 200,
		},
		{
			name:         "moving backwards",
			cursors:      []geometry.Point{{X: 129, Y: 200}, {X: 100, Y: 200}},
			wantProgress: 7,
			wantFirst:    geometry.Point{X: 128, Y: 200},
			wantLen:      16,
			wantDistance: 172,
		},
		{
			name: "close to the finish",
			cursors: []geometry.Point{
				{X: 140, Y: 200}, {X: 180, Y: 200}, {X: 220, Y: 200}, {X: 264, Y: 200},
			},
			wantProgress: 41,
			wantFirst:    geometry.Point{X: 264, Y: 200},
			wantLen:      10,
			wantDistance: 36,
			wantFinish:   true,
		},
		{
			name: "at the finish",
			cursors: []geometry.Point{
				{X: 140, Y: 200}, {X: 180, Y: 200}, {X: 220, Y: 200}, {X: 260, Y: 200}, {X: 300, Y: 200},
			},
			wantProgress: 50,
			wantFirst:    geometry.Point{X: 300, Y: 200},
			wantLen:      1,
			wantDistance: 0,
			wantFinish:   true,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)

			var (
				res *peek.Result
				err error
			)
			for _, cursor := range tt.cursors {
				res, err = f.peek(t, cursor)
				if err != nil {
					t.Fatal(err)
				}
			}

			if len(res.Ahead) != tt.wantLen {
				t.Errorf("wanted %d points ahead, got: %d", tt.wantLen, len(res.Ahead))
			}

			if res.Ahead[0] != tt.wantFirst {
				t.Errorf("wanted window to start at %v, got: %v", tt.wantFirst, res.Ahead[0])
			}

			if res.DistanceToEnd != tt.wantDistance {
				t.Errorf("wanted distance to end %v, got: %v", tt.wantDistance, res.DistanceToEnd)
			}

			if (res.Finish != nil) != tt.wantFinish {
				t.Errorf("wanted finish revealed: %v, got: %v", tt.wantFinish, res.Finish)
			}

			if res.Finish != nil && *res.Finish != (geometry.Point{X: 300, Y: 200}) {
				t.Errorf("finish is not the end of the path: %v", *res.Finish)
			}

			c := f.iss.Challenge
			got, err := f.store.Authenticate(t.Context(), c.ID, c.Nonce, f.iss.Token, challenge.UsePeek)
			if err != nil {
				t.Fatal(err)
			}

			if got.Progress != tt.wantProgress {
				t.Errorf("wanted stored progress %d, got: %d", tt.wantProgress, got.Progress)
			}
		})
	}
}

func TestPeekRejections(t *testing.T) {
	t.Run("expired", func(t *testing.T) {
		f := setup(t)
		f.clock.Advance(12*time.Second + time.Millisecond)

		if _, err := f.peek(t, geometry.Point{X: 100, Y: 200}); !errors.Is(err, challenge.ErrRejected) {
			t.Errorf("wanted expired peek to be rejected, got: %v", err)
		}
	})

	t.Run("consumed", func(t *testing.T) {
		f := setup(t)

		if _, err := f.store.Consume(t.Context(), f.iss.Challenge.ID, "success"); err != nil {
			t.Fatal(err)
		}

		if _, err := f.peek(t, geometry.Point{X: 100, Y: 200}); !errors.Is(err, challenge.ErrRejected) {
			t.Errorf("wanted consumed peek to be rejected, got: %v", err)
		}
	})

	t.Run("wrong nonce", func(t *testing.T) {
		f := setup(t)
		c := f.iss.Challenge

		_, err := f.svc.Peek(t.Context(), c.ID, "00000000000000000000000000000000", f.iss.Token, geometry.Point{X: 100, Y: 200})
		if !errors.Is(err, challenge.ErrRejected) {
			t.Errorf("wanted mismatched nonce to be rejected, got: %v", err)
		}
	})
}
