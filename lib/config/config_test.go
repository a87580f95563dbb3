package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefaultValid(t *testing.T) {
	if err := Default().Valid(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDefaultMatchesBuiltin(t *testing.T) {
	got, err := LoadDefault()
	if err != nil {
		t.Fatal(err)
	}

	if want := Default(); !reflect.DeepEqual(got, want) {
		t.Logf("want: %#v", want)
		t.Logf("got:  %#v", got)
		t.Error("embedded config drifted from the built-in defaults")
	}
}

func TestGoodConfigs(t *testing.T) {
	finfos, err := os.ReadDir("testdata/good")
	if err != nil {
		t.Fatal(err)
	}

	for _, st := range finfos {
		t.Run(st.Name(), func(t *testing.T) {
			if _, err := LoadFile(filepath.Join("testdata", "good", st.Name())); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestBadConfigs(t *testing.T) {
	finfos, err := os.ReadDir("testdata/bad")
	if err != nil {
		t.Fatal(err)
	}

	for _, st := range finfos {
		t.Run(st.Name(), func(t *testing.T) {
			if _, err := LoadFile(filepath.Join("testdata", "bad", st.Name())); err == nil {
				t.Fatal("config validated but should not have")
			} else {
				t.Log(err)
			}
		})
	}
}

func TestLoadOverridesOnlyNamedValues(t *testing.T) {
	c, err := LoadFile(filepath.Join("testdata", "good", "partial.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	if c.Challenge.TTL.Duration != 15*time.Second {
		t.Errorf("wanted ttl 15s, got: %s", c.Challenge.TTL)
	}

	if c.Verification.RequiredCoverage != 0.8 {
		t.Errorf("wanted requiredCoverage 0.8, got: %v", c.Verification.RequiredCoverage)
	}

	if c.Verification.MinSamples != 20 {
		t.Errorf("wanted default minSamples to survive, got: %d", c.Verification.MinSamples)
	}

	if len(c.ToleranceRules) != 1 || c.ToleranceRules[0].Name != "hidpi" {
		t.Errorf("wanted default tolerance rules to survive, got: %#v", c.ToleranceRules)
	}
}

func TestLoadEmptyListReplacesDefaults(t *testing.T) {
	c, err := LoadFile(filepath.Join("testdata", "good", "no-rules.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	if len(c.ToleranceRules) != 0 {
		t.Errorf("wanted no tolerance rules, got: %#v", c.ToleranceRules)
	}

	if len(c.Audit) != 2 {
		t.Errorf("wanted two audit sinks, got: %d", len(c.Audit))
	}
}

func TestConfigValid(t *testing.T) {
	for _, tt := range []struct {
		name   string
		mutate func(c *Config)
		err    error
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:   "zero canvas",
			mutate: func(c *Config) { c.Canvas.Width = 0 },
			err:    ErrCanvasSize,
		},
		{
			name:   "inverted length range",
			mutate: func(c *Config) { c.Path.MinLength, c.Path.MaxLength = 300, 200 },
			err:    ErrPathLength,
		},
		{
			name:   "too many bends",
			mutate: func(c *Config) { c.Path.MaxBends = 3 },
			err:    ErrPathMaxBends,
		},
		{
			name:   "no bends",
			mutate: func(c *Config) { c.Path.MaxBends = 0 },
			err:    ErrPathMaxBends,
		},
		{
			name:   "right angle turn",
			mutate: func(c *Config) { c.Path.MaxTurnDegrees = 90 },
			err:    ErrPathTurnAngle,
		},
		{
			name:   "inverted turn range",
			mutate: func(c *Config) { c.Path.MinTurnDegrees = 40 },
			err:    ErrPathTurnAngle,
		},
		{
			name:   "coarse spacing",
			mutate: func(c *Config) { c.Path.Spacing = 20 },
			err:    ErrPathSpacing,
		},
		{
			name:   "path can't fit",
			mutate: func(c *Config) { c.Canvas.Width, c.Canvas.Height = 100, 100 },
			err:    ErrPathTooLong,
		},
		{
			name:   "ttl too short",
			mutate: func(c *Config) { c.Challenge.TTL.Duration = 5 * time.Second },
			err:    ErrChallengeTTL,
		},
		{
			name:   "ttl too long",
			mutate: func(c *Config) { c.Challenge.TTL.Duration = 16 * time.Second },
			err:    ErrChallengeTTL,
		},
		{
			name:   "negative grace",
			mutate: func(c *Config) { c.Challenge.VerifyGrace.Duration = -time.Second },
			err:    ErrChallengeNegative,
		},
		{
			name:   "zero target completion",
			mutate: func(c *Config) { c.Challenge.TargetCompletion.Duration = 0 },
			err:    ErrChallengeTarget,
		},
		{
			name:   "negative trail",
			mutate: func(c *Config) { c.Trail.Fadeout.Duration = -time.Millisecond },
			err:    ErrTrailNegative,
		},
		{
			name:   "zero tolerance",
			mutate: func(c *Config) { c.Pointers.Mouse.Tolerance = 0 },
			err:    ErrPointerTolerance,
		},
		{
			name:   "jitter as wide as tolerance",
			mutate: func(c *Config) { c.Pointers.Touch.Jitter = 30 },
			err:    ErrPointerJitter,
		},
		{
			name:   "zero line thickness",
			mutate: func(c *Config) { c.Pointers.Touch.LineThickness = 0 },
			err:    ErrPointerLineThickness,
		},
		{
			name:   "coverage too low",
			mutate: func(c *Config) { c.Verification.RequiredCoverage = 0.5 },
			err:    ErrRequiredCoverage,
		},
		{
			name:   "coverage too high",
			mutate: func(c *Config) { c.Verification.RequiredCoverage = 0.9 },
			err:    ErrRequiredCoverage,
		},
		{
			name:   "zero too fast",
			mutate: func(c *Config) { c.Verification.TooFast.Duration = 0 },
			err:    ErrTooFast,
		},
		{
			name:   "one sample",
			mutate: func(c *Config) { c.Verification.MinSamples = 1 },
			err:    ErrMinSamples,
		},
		{
			name:   "zero max speed",
			mutate: func(c *Config) { c.Verification.MaxSpeed = 0 },
			err:    ErrMaxSpeed,
		},
		{
			name:   "zero max acceleration",
			mutate: func(c *Config) { c.Verification.MaxAcceleration = 0 },
			err:    ErrMaxAcceleration,
		},
		{
			name:   "negative deviation margin",
			mutate: func(c *Config) { c.Verification.DeviationMargin = -1 },
			err:    ErrDeviationMargin,
		},
		{
			name:   "zero pause gap",
			mutate: func(c *Config) { c.Verification.PauseGap.Duration = 0 },
			err:    ErrPauseGap,
		},
		{
			name:   "motion window too wide",
			mutate: func(c *Config) { c.Verification.MotionWindow.Duration = time.Second },
			err:    ErrMotionWindow,
		},
		{
			name:   "zero lookahead",
			mutate: func(c *Config) { c.Reveal.Lookahead = 0 },
			err:    ErrRevealLookahead,
		},
		{
			name:   "negative finish reveal",
			mutate: func(c *Config) { c.Reveal.FinishReveal = -1 },
			err:    ErrRevealFinish,
		},
		{
			name:   "negative fallback",
			mutate: func(c *Config) { c.Fallback.AfterFailures = -1 },
			err:    ErrFallbackNegative,
		},
		{
			name: "tolerance rule scale",
			mutate: func(c *Config) {
				c.ToleranceRules = append(c.ToleranceRules, ToleranceRule{
					Name:       "shrink",
					Expression: &ExpressionOrList{Expression: "true"},
					Scale:      0.5,
				})
			},
			err: ErrToleranceRuleScaleOutOfRange,
		},
		{
			name:   "no audit sinks",
			mutate: func(c *Config) { c.Audit = nil },
			err:    ErrNoAuditSinks,
		},
		{
			name:   "unknown audit sink",
			mutate: func(c *Config) { c.Audit = []AuditSink{{Backend: "carrier pigeon"}} },
			err:    ErrUnknownAuditBackend,
		},
		{
			name:   "unknown store",
			mutate: func(c *Config) { c.Store = Store{Backend: "taco salad"} },
			err:    ErrUnknownStoreBackend,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)

			if err := c.Valid(); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}

func TestEdgeMargin(t *testing.T) {
	c := Default()

	// (30 + 3) * 1.1
	if got := c.EdgeMargin(); got < 36.29 || got > 36.31 {
		t.Errorf("wanted edge margin 36.3, got: %v", got)
	}

	c.ToleranceRules = nil
	if got := c.EdgeMargin(); got != 33 {
		t.Errorf("wanted edge margin 33 without rules, got: %v", got)
	}
}

func TestDurationUnmarshal(t *testing.T) {
	c, err := Load(strings.NewReader("trail:\n  visible: 1.5s\n"), "inline")
	if err != nil {
		t.Fatal(err)
	}

	if c.Trail.Visible.Duration != 1500*time.Millisecond {
		t.Errorf("wanted 1.5s, got: %s", c.Trail.Visible)
	}

	if _, err := Load(strings.NewReader("trail:\n  visible: soon\n"), "inline"); !errors.Is(err, ErrCantParseConfigDocument) {
		t.Errorf("wanted parse error, got: %v", err)
	}
}
