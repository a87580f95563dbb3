package lib

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/TecharoHQ/linecaptcha"
	"github.com/TecharoHQ/linecaptcha/data"
	"github.com/TecharoHQ/linecaptcha/decaymap"
	"github.com/TecharoHQ/linecaptcha/lib/audit"
	"github.com/TecharoHQ/linecaptcha/lib/challenge"
	"github.com/TecharoHQ/linecaptcha/lib/config"
	"github.com/TecharoHQ/linecaptcha/lib/pathgen"
	"github.com/TecharoHQ/linecaptcha/lib/peek"
	"github.com/TecharoHQ/linecaptcha/lib/store"
	"github.com/TecharoHQ/linecaptcha/lib/tolerance"
	"github.com/TecharoHQ/linecaptcha/lib/verify"
)

var ErrNoConfig = errors.New("lib: no config given")

type Options struct {
	Config *config.Config

	// Store overrides the backend named in Config.Store.
	Store store.Interface
	// Audit overrides the sinks named in Config.Audit.
	Audit audit.Sink
	// Clock defaults to the wall clock.
	Clock challenge.Clock

	ED25519PrivateKey ed25519.PrivateKey
	HS512Secret       []byte
	BasePrefix        string
}

// LoadConfigOrDefault loads the thresholds file at fname, or the built-in
// defaults when fname is empty.
func LoadConfigOrDefault(fname string) (*config.Config, error) {
	cfg, err := config.LoadFile(fname)
	if err != nil {
		if fname == "" {
			fname = "(data)/" + data.ConfigFilename
		}
		return nil, fmt.Errorf("can't load config %s: %w", fname, err)
	}

	return cfg, nil
}

// BuildStore constructs the configured challenge store backend.
func BuildStore(ctx context.Context, cfg config.Store) (store.Interface, error) {
	fac, ok := store.Get(cfg.Backend)
	if !ok {
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownStoreBackend, cfg.Backend)
	}

	s, err := fac.Build(ctx, cfg.Parameters)
	if err != nil {
		return nil, fmt.Errorf("can't build %s store: %w", cfg.Backend, err)
	}

	return s, nil
}

// BuildAudit constructs every configured audit sink.
func BuildAudit(ctx context.Context, sinks []config.AuditSink) (audit.Multi, error) {
	var result audit.Multi

	for _, as := range sinks {
		fac, ok := audit.Get(as.Backend)
		if !ok {
			result.Close()
			return nil, fmt.Errorf("%w: %q", config.ErrUnknownAuditBackend, as.Backend)
		}

		sink, err := fac.Build(ctx, as.Parameters)
		if err != nil {
			result.Close()
			return nil, fmt.Errorf("can't build %s audit sink: %w", as.Backend, err)
		}

		result = append(result, sink)
	}

	return result, nil
}

func thresholds(v config.Verification) verify.Thresholds {
	return verify.Thresholds{
		MinSamples:       v.MinSamples,
		TooFast:          v.TooFast.Duration,
		RequiredCoverage: v.RequiredCoverage,
		MaxSpeed:         v.MaxSpeed,
		MaxAcceleration:  v.MaxAcceleration,
		DeviationMargin:  v.DeviationMargin,
		PauseGap:         v.PauseGap.Duration,
		MotionWindow:     v.MotionWindow.Duration,
	}
}

func New(ctx context.Context, opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, ErrNoConfig
	}

	if err := cfg.Valid(); err != nil {
		return nil, err
	}

	if opts.ED25519PrivateKey == nil && opts.HS512Secret == nil {
		slog.Debug("opts.PrivateKey not set, generating a new one")
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("lib: can't generate private key: %v", err)
		}
		opts.ED25519PrivateKey = priv
	}

	signer, err := challenge.NewSigner(opts.ED25519PrivateKey, opts.HS512Secret)
	if err != nil {
		return nil, fmt.Errorf("lib: %w", err)
	}

	rules, err := tolerance.Compile(cfg.ToleranceRules)
	if err != nil {
		return nil, fmt.Errorf("lib: can't compile tolerance rules: %w", err)
	}

	gen, err := pathgen.New(pathgen.OptionsFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("lib: %w", err)
	}

	backend := opts.Store
	if backend == nil {
		backend, err = BuildStore(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("lib: %w", err)
		}
	}

	sink := opts.Audit
	if sink == nil {
		sink, err = BuildAudit(ctx, cfg.Audit)
		if err != nil {
			return nil, fmt.Errorf("lib: %w", err)
		}
	}

	linecaptcha.BasePrefix = opts.BasePrefix

	challenges := challenge.NewStore(challenge.StoreOptions{
		Backend:     backend,
		Signer:      signer,
		Clock:       opts.Clock,
		TTL:         cfg.Challenge.TTL.Duration,
		VerifyGrace: cfg.Challenge.VerifyGrace.Duration,
		Retention:   cfg.Challenge.Retention.Duration,
	})

	result := &Server{
		cfg:        cfg,
		opts:       opts,
		challenges: challenges,
		peeks:      peek.New(challenges, cfg.Reveal),
		verifier:   verify.New(thresholds(cfg.Verification)),
		generator:  gen,
		rules:      rules,
		audit:      sink,
		failures:   decaymap.New[string, int](),
		auditWG:    &sync.WaitGroup{},
	}

	mux := http.NewServeMux()

	// Helper to add global prefix
	registerWithPrefix := func(pattern string, handler http.Handler, method string) {
		if method != "" {
			method = method + " " // methods must end with a space to register with them
		}

		// Ensure there's no double slash when concatenating BasePrefix and pattern
		basePrefix := strings.TrimSuffix(linecaptcha.BasePrefix, "/")
		prefix := method + basePrefix

		// If pattern doesn't start with a slash, add one
		if !strings.HasPrefix(pattern, "/") {
			pattern = "/" + pattern
		}

		mux.Handle(prefix+pattern, handler)
	}

	registerWithPrefix(linecaptcha.APIPrefix+"new", http.HandlerFunc(result.NewChallenge), "POST")
	registerWithPrefix(linecaptcha.APIPrefix+"peek", http.HandlerFunc(result.Peek), "POST")
	registerWithPrefix(linecaptcha.APIPrefix+"verify", http.HandlerFunc(result.Verify), "POST")
	registerWithPrefix("/healthz", http.HandlerFunc(result.Healthz), "GET")

	result.mux = mux

	return result, nil
}
