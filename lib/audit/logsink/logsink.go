// Package logsink writes attempt records to the process log.
package logsink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/TecharoHQ/linecaptcha/lib/audit"
)

func init() {
	audit.Register("log", Factory{})
}

type Config struct {
	// Level is the slog level records are written at. Defaults to info.
	Level string `json:"level,omitempty"`

	// Trajectory includes the raw samples in each record.
	Trajectory bool `json:"trajectory,omitempty"`
}

func (c Config) level() (slog.Level, error) {
	var lvl slog.Level
	if c.Level == "" {
		return slog.LevelInfo, nil
	}

	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("%w: level %q: %w", audit.ErrBadConfig, c.Level, err)
	}

	return lvl, nil
}

type Factory struct{}

func parse(data json.RawMessage) (Config, error) {
	var cfg Config
	if len(data) == 0 {
		return cfg, nil
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %w", audit.ErrBadConfig, err)
	}

	return cfg, nil
}

func (Factory) Valid(data json.RawMessage) error {
	cfg, err := parse(data)
	if err != nil {
		return err
	}

	_, err = cfg.level()
	return err
}

func (Factory) Build(_ context.Context, data json.RawMessage) (audit.Sink, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}

	lvl, err := cfg.level()
	if err != nil {
		return nil, err
	}

	return New(slog.Default(), lvl, cfg.Trajectory), nil
}

// New writes records to lg at lvl.
func New(lg *slog.Logger, lvl slog.Level, trajectory bool) audit.Sink {
	return &sink{lg: lg, lvl: lvl, trajectory: trajectory}
}

type sink struct {
	lg         *slog.Logger
	lvl        slog.Level
	trajectory bool
}

func (s *sink) Log(ctx context.Context, r *audit.Record) error {
	attrs := []any{
		"attempt_id", r.AttemptID,
		"challenge_id", r.ChallengeID,
		"session_id", r.SessionID,
		"outcome", r.Outcome,
		"passed", r.Passed,
		slog.Group("client",
			"pointer_type", r.PointerType,
			"os_family", r.OSFamily,
			"browser_family", r.BrowserFamily,
			"device_pixel_ratio", r.DevicePixelRatio,
		),
		slog.Group("path",
			"seed", r.PathSeed,
			"length", r.PathLength,
			"tolerance", r.Tolerance,
			"base_tolerance", r.BaseTolerance,
			"tolerance_rules", r.ToleranceRules,
			"ttl_ms", r.TTLMs,
		),
		slog.Group("timing",
			"issued_at", r.IssuedAt,
			"expires_at", r.ExpiresAt,
			"verified_at", r.VerifiedAt,
			"started_at_ms", r.StartedAtMs,
			"ended_at_ms", r.EndedAtMs,
		),
		"metrics", r.Metrics,
		"samples", len(r.Trajectory),
	}

	if s.trajectory {
		attrs = append(attrs, "trajectory", r.Trajectory)
	}

	s.lg.Log(ctx, s.lvl, "verification attempt", attrs...)
	return nil
}
