// Package config loads and validates the thresholds that drive path
// generation, reveal and verification.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/TecharoHQ/linecaptcha"
	"github.com/TecharoHQ/linecaptcha/data"
	"k8s.io/apimachinery/pkg/util/yaml"
)

var (
	ErrCanvasSize              = errors.New("config.Canvas: width and height must be positive")
	ErrPathLength              = errors.New("config.Path: length range must satisfy 0 < minLength <= maxLength")
	ErrPathMaxBends            = errors.New("config.Path: maxBends must be 1 or 2")
	ErrPathTurnAngle           = errors.New("config.Path: turn angles must satisfy 0 <= minTurnDegrees <= maxTurnDegrees < 90")
	ErrPathSpacing             = errors.New("config.Path: spacing must be between 1 and 10 pixels")
	ErrPathTooLong             = errors.New("config.Path: maxLength can't fit inside the canvas once edge margins are applied")
	ErrChallengeTTL            = errors.New("config.Challenge: ttl must be between 10s and 15s")
	ErrChallengeNegative       = errors.New("config.Challenge: verifyGrace and retention can't be negative")
	ErrChallengeTarget         = errors.New("config.Challenge: targetCompletion must be positive")
	ErrTrailNegative           = errors.New("config.Trail: visible and fadeout can't be negative")
	ErrPointerTolerance        = errors.New("config.PointerProfile: tolerance must be positive")
	ErrPointerJitter           = errors.New("config.PointerProfile: jitter must satisfy 0 <= jitter < tolerance")
	ErrPointerLineThickness    = errors.New("config.PointerProfile: lineThickness must be positive")
	ErrRequiredCoverage        = errors.New("config.Verification: requiredCoverage must be between 0.70 and 0.80")
	ErrTooFast                 = errors.New("config.Verification: tooFast must be positive")
	ErrMinSamples              = errors.New("config.Verification: minSamples must be at least 2")
	ErrMaxSpeed                = errors.New("config.Verification: maxSpeed must be positive")
	ErrMaxAcceleration         = errors.New("config.Verification: maxAcceleration must be positive")
	ErrDeviationMargin         = errors.New("config.Verification: deviationMargin can't be negative")
	ErrPauseGap                = errors.New("config.Verification: pauseGap must be positive")
	ErrMotionWindow            = errors.New("config.Verification: motionWindow must be between 0 and 100ms")
	ErrRevealLookahead         = errors.New("config.Reveal: lookahead must be positive")
	ErrRevealFinish            = errors.New("config.Reveal: finishReveal can't be negative")
	ErrFallbackNegative        = errors.New("config.Fallback: afterFailures and window can't be negative")
	ErrNoAuditSinks            = errors.New("config: at least one audit sink must be defined")
	ErrCantReadDefaultConfig   = errors.New("config: can't read embedded default config")
	ErrCantParseConfigDocument = errors.New("config: can't parse config YAML")
)

type Canvas struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (c Canvas) Valid() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w, got %vx%v", ErrCanvasSize, c.Width, c.Height)
	}

	return nil
}

type Path struct {
	MinLength      float64 `json:"minLength"`
	MaxLength      float64 `json:"maxLength"`
	MaxBends       int     `json:"maxBends"`
	MinTurnDegrees float64 `json:"minTurnDegrees"`
	MaxTurnDegrees float64 `json:"maxTurnDegrees"`
	Spacing        float64 `json:"spacing"`
}

func (p Path) Valid() error {
	var errs []error

	if p.MinLength <= 0 || p.MinLength > p.MaxLength {
		errs = append(errs, ErrPathLength)
	}

	if p.MaxBends < 1 || p.MaxBends > 2 {
		errs = append(errs, ErrPathMaxBends)
	}

	if p.MinTurnDegrees < 0 || p.MinTurnDegrees > p.MaxTurnDegrees || p.MaxTurnDegrees >= 90 {
		errs = append(errs, ErrPathTurnAngle)
	}

	if p.Spacing < 1 || p.Spacing > 10 {
		errs = append(errs, ErrPathSpacing)
	}

	return errors.Join(errs...)
}

type Challenge struct {
	TTL              Duration `json:"ttl"`
	VerifyGrace      Duration `json:"verifyGrace"`
	Retention        Duration `json:"retention"`
	TargetCompletion Duration `json:"targetCompletion"`
}

func (c Challenge) Valid() error {
	var errs []error

	if c.TTL.Duration < 10*time.Second || c.TTL.Duration > 15*time.Second {
		errs = append(errs, fmt.Errorf("%w, got %s", ErrChallengeTTL, c.TTL))
	}

	if c.VerifyGrace.Duration < 0 || c.Retention.Duration < 0 {
		errs = append(errs, ErrChallengeNegative)
	}

	if c.TargetCompletion.Duration <= 0 {
		errs = append(errs, ErrChallengeTarget)
	}

	return errors.Join(errs...)
}

// StoreExpiry is how long a challenge entry lives in the backing store.
func (c Challenge) StoreExpiry() time.Duration {
	return c.TTL.Duration + c.VerifyGrace.Duration + c.Retention.Duration
}

type Trail struct {
	Visible Duration `json:"visible"`
	Fadeout Duration `json:"fadeout"`
}

func (t Trail) Valid() error {
	if t.Visible.Duration < 0 || t.Fadeout.Duration < 0 {
		return ErrTrailNegative
	}

	return nil
}

// PointerProfile holds the corridor settings for one class of pointer.
type PointerProfile struct {
	Tolerance     float64 `json:"tolerance"`
	Jitter        float64 `json:"jitter"`
	LineThickness float64 `json:"lineThickness"`
}

func (pp PointerProfile) Valid() error {
	var errs []error

	if pp.Tolerance <= 0 {
		errs = append(errs, ErrPointerTolerance)
	}

	if pp.Jitter < 0 || pp.Jitter >= pp.Tolerance {
		errs = append(errs, ErrPointerJitter)
	}

	if pp.LineThickness <= 0 {
		errs = append(errs, ErrPointerLineThickness)
	}

	return errors.Join(errs...)
}

type Pointers struct {
	Mouse PointerProfile `json:"mouse"`
	Touch PointerProfile `json:"touch"`
}

func (p Pointers) Valid() error {
	var errs []error

	if err := p.Mouse.Valid(); err != nil {
		errs = append(errs, fmt.Errorf("mouse: %w", err))
	}

	if err := p.Touch.Valid(); err != nil {
		errs = append(errs, fmt.Errorf("touch: %w", err))
	}

	return errors.Join(errs...)
}

// Profile returns the settings used to score the given pointer type.
func (p Pointers) Profile(pt linecaptcha.PointerType) PointerProfile {
	if pt.Profile() == linecaptcha.PointerMouse {
		return p.Mouse
	}

	return p.Touch
}

type Verification struct {
	RequiredCoverage float64  `json:"requiredCoverage"`
	TooFast          Duration `json:"tooFast"`
	MinSamples       int      `json:"minSamples"`
	MaxSpeed         float64  `json:"maxSpeed"`
	MaxAcceleration  float64  `json:"maxAcceleration"`
	DeviationMargin  float64  `json:"deviationMargin"`
	PauseGap         Duration `json:"pauseGap"`
	MotionWindow     Duration `json:"motionWindow"`
}

func (v Verification) Valid() error {
	var errs []error

	if v.RequiredCoverage < 0.70 || v.RequiredCoverage > 0.80 {
		errs = append(errs, fmt.Errorf("%w, got %v", ErrRequiredCoverage, v.RequiredCoverage))
	}

	if v.TooFast.Duration <= 0 {
		errs = append(errs, ErrTooFast)
	}

	if v.MinSamples < 2 {
		errs = append(errs, ErrMinSamples)
	}

	if v.MaxSpeed <= 0 {
		errs = append(errs, ErrMaxSpeed)
	}

	if v.MaxAcceleration <= 0 {
		errs = append(errs, ErrMaxAcceleration)
	}

	if v.DeviationMargin < 0 {
		errs = append(errs, ErrDeviationMargin)
	}

	if v.PauseGap.Duration <= 0 {
		errs = append(errs, ErrPauseGap)
	}

	if v.MotionWindow.Duration < 0 || v.MotionWindow.Duration > 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("%w, got %s", ErrMotionWindow, v.MotionWindow.Duration))
	}

	return errors.Join(errs...)
}

type Reveal struct {
	Lookahead    float64 `json:"lookahead"`
	FinishReveal float64 `json:"finishReveal"`
}

func (r Reveal) Valid() error {
	var errs []error

	if r.Lookahead <= 0 {
		errs = append(errs, ErrRevealLookahead)
	}

	if r.FinishReveal < 0 {
		errs = append(errs, ErrRevealFinish)
	}

	return errors.Join(errs...)
}

type Fallback struct {
	AfterFailures int      `json:"afterFailures"`
	Window        Duration `json:"window"`
}

func (f Fallback) Valid() error {
	if f.AfterFailures < 0 || f.Window.Duration < 0 {
		return ErrFallbackNegative
	}

	return nil
}

// Enabled reports whether failure tracking is switched on.
func (f Fallback) Enabled() bool {
	return f.AfterFailures > 0 && f.Window.Duration > 0
}

// Config is the full set of thresholds. A single Config is shared by every
// component so that generation, reveal and verification agree.
type Config struct {
	Canvas         Canvas          `json:"canvas"`
	Path           Path            `json:"path"`
	Challenge      Challenge       `json:"challenge"`
	Trail          Trail           `json:"trail"`
	Pointers       Pointers        `json:"pointers"`
	Verification   Verification    `json:"verification"`
	Reveal         Reveal          `json:"reveal"`
	Fallback       Fallback        `json:"fallback"`
	ToleranceRules []ToleranceRule `json:"toleranceRules"`
	Store          Store           `json:"store"`
	Audit          []AuditSink     `json:"audit"`
}

// Default returns the built-in thresholds.
func Default() *Config {
	rules := make([]ToleranceRule, len(DefaultToleranceRules))
	copy(rules, DefaultToleranceRules)

	return &Config{
		Canvas: Canvas{
			Width:  linecaptcha.DefaultCanvasSize,
			Height: linecaptcha.DefaultCanvasSize,
		},
		Path: Path{
			MinLength:      200,
			MaxLength:      300,
			MaxBends:       2,
			MinTurnDegrees: 10,
			MaxTurnDegrees: 35,
			Spacing:        4,
		},
		Challenge: Challenge{
			TTL:              Duration{linecaptcha.DefaultTTL},
			VerifyGrace:      Duration{30 * time.Second},
			Retention:        Duration{5 * time.Minute},
			TargetCompletion: Duration{3 * time.Second},
		},
		Trail: Trail{
			Visible: Duration{400 * time.Millisecond},
			Fadeout: Duration{600 * time.Millisecond},
		},
		Pointers: Pointers{
			Mouse: PointerProfile{Tolerance: 20, Jitter: 2, LineThickness: 3},
			Touch: PointerProfile{Tolerance: 30, Jitter: 3, LineThickness: 6},
		},
		Verification: Verification{
			RequiredCoverage: 0.75,
			TooFast:          Duration{time.Second},
			MinSamples:       20,
			MaxSpeed:         8000,
			MaxAcceleration:  250000,
			DeviationMargin:  40,
			PauseGap:         Duration{150 * time.Millisecond},
			MotionWindow:     Duration{16 * time.Millisecond},
		},
		Reveal: Reveal{
			Lookahead:    60,
			FinishReveal: 40,
		},
		Fallback: Fallback{
			AfterFailures: 3,
			Window:        Duration{10 * time.Minute},
		},
		ToleranceRules: rules,
		Store: Store{
			Backend: "memory",
		},
		Audit: []AuditSink{
			{Backend: "log"},
		},
	}
}

// EdgeMargin is the widest corridor half-width any client can be granted.
// Paths are kept at least this far from the canvas edge.
func (c Config) EdgeMargin() float64 {
	widest := math.Max(
		c.Pointers.Mouse.Tolerance+c.Pointers.Mouse.Jitter,
		c.Pointers.Touch.Tolerance+c.Pointers.Touch.Jitter,
	)

	for _, rule := range c.ToleranceRules {
		widest *= rule.Scale
	}

	return widest
}

func (c Config) Valid() error {
	var errs []error

	for _, v := range []interface{ Valid() error }{
		c.Canvas,
		c.Path,
		c.Challenge,
		c.Trail,
		c.Pointers,
		c.Verification,
		c.Reveal,
		c.Fallback,
	} {
		if err := v.Valid(); err != nil {
			errs = append(errs, err)
		}
	}

	for i, tr := range c.ToleranceRules {
		if err := tr.Valid(); err != nil {
			errs = append(errs, fmt.Errorf("tolerance rule %d: %w", i, err))
		}
	}

	if err := c.Store.Valid(); err != nil {
		errs = append(errs, err)
	}

	if len(c.Audit) == 0 {
		errs = append(errs, ErrNoAuditSinks)
	}

	for i, a := range c.Audit {
		if err := a.Valid(); err != nil {
			errs = append(errs, fmt.Errorf("audit sink %d: %w", i, err))
		}
	}

	// A path that can't fit inside the inset canvas would make every
	// generation attempt fail at runtime.
	if c.Canvas.Valid() == nil && c.Path.Valid() == nil {
		margin := c.EdgeMargin()
		inner := math.Min(c.Canvas.Width, c.Canvas.Height) - 2*margin
		if inner <= 0 || c.Path.MinLength > inner*math.Sqrt2 {
			errs = append(errs, fmt.Errorf("%w: margin %.1f, canvas %vx%v", ErrPathTooLong, margin, c.Canvas.Width, c.Canvas.Height))
		}
	}

	if len(errs) != 0 {
		return fmt.Errorf("config is not valid:\n%w", errors.Join(errs...))
	}

	return nil
}

// Load reads a YAML document on top of the built-in defaults, so a file
// only needs to name the values it changes.
func Load(fin io.Reader, fname string) (*Config, error) {
	c := Default()
	defaults := *c

	// Lists replace the defaults wholesale instead of merging into them.
	c.ToleranceRules = nil
	c.Audit = nil

	if err := yaml.NewYAMLToJSONDecoder(fin).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w %s: %w", ErrCantParseConfigDocument, fname, err)
	}

	if c.ToleranceRules == nil {
		c.ToleranceRules = defaults.ToleranceRules
	}

	if c.Audit == nil {
		c.Audit = defaults.Audit
	}

	if err := c.Valid(); err != nil {
		return nil, fmt.Errorf("errors validating config %s: %w", fname, err)
	}

	return c, nil
}

// LoadDefault loads the configuration embedded in the binary.
func LoadDefault() (*Config, error) {
	buf, err := data.Config.ReadFile(data.ConfigFilename)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCantReadDefaultConfig, err)
	}

	return Load(bytes.NewReader(buf), "(data)/"+data.ConfigFilename)
}

// LoadFile loads the configuration at fname, or the embedded default when
// fname is empty.
func LoadFile(fname string) (*Config, error) {
	if fname == "" {
		return LoadDefault()
	}

	fin, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("can't open config %s: %w", fname, err)
	}
	defer fin.Close()

	return Load(fin, fname)
}
