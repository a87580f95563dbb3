// Command tracesim drives a running linecaptcha server with scripted solvers
// and prints how the server scored them.
package main

import (
	"cmp"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/TecharoHQ/linecaptcha"
	"github.com/TecharoHQ/linecaptcha/internal"
	"github.com/facebookgo/flagenv"
	_ "github.com/joho/godotenv/autoload"
	"golang.org/x/sync/errgroup"
)

var (
	baseURL      = flag.String("base-url", "http://localhost:8923", "URL of the linecaptcha server, including any base prefix")
	attempts     = flag.Int("attempts", 10, "number of attempts to run")
	concurrency  = flag.Int("concurrency", 4, "number of attempts in flight at once")
	scenario     = flag.String("scenario", "human", "scripted solver to run: "+strings.Join(scenarios, ", "))
	pointerType  = flag.String("pointer-type", "mouse", "pointer type to declare: mouse, touch, pen")
	stepPx       = flag.Float64("step-px", 2.5, "distance moved per sample in pixels")
	stepMs       = flag.Float64("step-ms", 16, "time per sample in milliseconds")
	stepMsJitter = flag.Float64("step-ms-jitter", 0.2, "fractional jitter applied to sample timing")
	jitterPx     = flag.Float64("jitter-px", 0.8, "uniform positional jitter per sample in pixels")
	advancePx    = flag.Float64("advance-px", 40, "maximum distance travelled between peeks in pixels")
	peekInterval = flag.Duration("peek-interval", 50*time.Millisecond, "minimum delay between peeks")
	seed         = flag.Uint64("seed", 0, "random seed, 0 picks one")
	timeout      = flag.Duration("timeout", 10*time.Second, "HTTP client timeout")
	slogLevel    = flag.String("slog-level", "INFO", "logging level (see https://pkg.go.dev/log/slog#hdr-Levels)")
	versionFlag  = flag.Bool("version", false, "print tracesim version")
)

// tally counts outcomes across concurrent attempts.
type tally struct {
	mu     sync.Mutex
	counts map[string]int
	errors int
}

func (t *tally) add(outcome string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts == nil {
		t.counts = map[string]int{}
	}
	t.counts[outcome]++
}

func (t *tally) fail() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors++
}

func (t *tally) print(w io.Writer, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	type row struct {
		outcome string
		count   int
	}

	rows := make([]row, 0, len(t.counts))
	for k, v := range t.counts {
		rows = append(rows, row{k, v})
	}
	slices.SortFunc(rows, func(a, b row) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.outcome, b.outcome)
	})

	passed := t.counts["success"]
	fmt.Fprintf(w, "attempts=%d passed=%d pass_rate=%.1f%% errors=%d\n", total, passed, float64(passed)/float64(max(1, total))*100, t.errors)
	fmt.Fprintln(w, "outcomes:")
	for _, r := range rows {
		fmt.Fprintf(w, "  %s: %d\n", r.outcome, r.count)
	}
}

// runAll plays n attempts of the scenario, at most limit at a time. An
// attempt that errors is logged and counted; it does not stop the others.
func runAll(ctx context.Context, c *client, p params, name string, n, limit int, rngSeed uint64) (*tally, error) {
	p, err := p.forScenario(name)
	if err != nil {
		return nil, err
	}

	var t tally
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, limit))

	for i := range n {
		g.Go(func() error {
			a := &attempt{
				c:       c,
				p:       p,
				rng:     rand.New(rand.NewPCG(rngSeed, uint64(i))),
				session: fmt.Sprintf("tracesim-%d-%d", rngSeed, i),
			}

			got, err := a.run(ctx, name)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Error("attempt failed", "attempt", i, "scenario", name, "err", err)
				t.fail()
				return nil
			}

			slog.Debug("attempt finished", "attempt", i, "scenario", name, "outcome", got)
			t.add(got)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return &t, err
	}

	return &t, nil
}

func main() {
	flagenv.Parse()
	flag.Parse()

	if *versionFlag {
		fmt.Println("tracesim", linecaptcha.Version)
		return
	}

	internal.InitSlog(*slogLevel)

	pt := linecaptcha.PointerType(*pointerType)
	if !pt.Valid() {
		log.Fatalf("unknown pointer type %q", *pointerType)
	}

	p := defaultParams()
	p.PointerType = pt
	p.StepPx = *stepPx
	p.StepMs = *stepMs
	p.StepMsJitter = *stepMsJitter
	p.JitterPx = *jitterPx
	p.AdvancePx = *advancePx
	p.PeekInterval = *peekInterval

	if p.StepPx <= 0 || p.StepMs <= 0 || p.AdvancePx <= 0 {
		log.Fatal("step and advance sizes must be positive")
	}

	s := *seed
	if s == 0 {
		s = rand.Uint64()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newClient(&http.Client{Timeout: *timeout}, *baseURL)

	slog.Info("starting", "base_url", *baseURL, "scenario", *scenario, "attempts", *attempts, "seed", s)

	t, err := runAll(ctx, c, p, *scenario, *attempts, *concurrency, s)
	if t != nil {
		t.print(os.Stdout, *attempts)
	}
	if err != nil {
		log.Fatal(err)
	}
}
