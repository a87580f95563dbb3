package lib

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/TecharoHQ/linecaptcha"
	"github.com/TecharoHQ/linecaptcha/decaymap"
	"github.com/TecharoHQ/linecaptcha/internal"
	"github.com/TecharoHQ/linecaptcha/lib/audit"
	"github.com/TecharoHQ/linecaptcha/lib/challenge"
	"github.com/TecharoHQ/linecaptcha/lib/config"
	"github.com/TecharoHQ/linecaptcha/lib/geometry"
	"github.com/TecharoHQ/linecaptcha/lib/localization"
	"github.com/TecharoHQ/linecaptcha/lib/pathgen"
	"github.com/TecharoHQ/linecaptcha/lib/peek"
	"github.com/TecharoHQ/linecaptcha/lib/tolerance"
	"github.com/TecharoHQ/linecaptcha/lib/verify"
)

const (
	// auditTimeout bounds how long a single attempt record may take to
	// write once the response has been sent.
	auditTimeout = 5 * time.Second

	maxFieldLength = 256
	maxTokenLength = 4096
)

var (
	verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linecaptcha_verifications_total",
		Help: "The total number of scored verification attempts, by reason",
	}, []string{"reason", "pointer_type"})

	fallbackRecommendations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linecaptcha_fallback_recommended_total",
		Help: "The number of verify responses that recommended the fallback check",
	})

	auditFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linecaptcha_audit_failures_total",
		Help: "The number of attempt records that could not be written",
	})
)

type Server struct {
	mux        *http.ServeMux
	cfg        *config.Config
	opts       Options
	challenges *challenge.Store
	peeks      *peek.Service
	verifier   *verify.Verifier
	generator  *pathgen.Generator
	rules      *tolerance.Rules
	audit      audit.Sink

	failures     *decaymap.Impl[string, int]
	failuresLock sync.Mutex

	auditWG *sync.WaitGroup
}

type pointerHint struct {
	Mouse float64 `json:"mouse"`
	Touch float64 `json:"touch"`
}

type trailHint struct {
	VisibleMs int64 `json:"visibleMs"`
	FadeoutMs int64 `json:"fadeoutMs"`
}

type canvasHint struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type newChallengeResponse struct {
	ChallengeID        string          `json:"challengeId"`
	Nonce              string          `json:"nonce"`
	Token              string          `json:"token"`
	StartPoint         geometry.Point  `json:"startPoint"`
	ExpiresAt          float64         `json:"expiresAt"`
	TTLMs              int64           `json:"ttlMs"`
	TargetCompletionMs int64           `json:"targetCompletionMs"`
	Tolerance          tolerance.Radii `json:"tolerance"`
	LineThickness      pointerHint     `json:"lineThickness"`
	Trail              trailHint       `json:"trail"`
	Canvas             canvasHint      `json:"canvas"`
}

// credentials are the three fields that identify and authenticate a
// challenge on every call after it is issued.
type credentials struct {
	ChallengeID string `json:"challengeId"`
	Nonce       string `json:"nonce"`
	Token       string `json:"token"`
}

func (c credentials) Valid() error {
	switch {
	case c.ChallengeID == "":
		return missing("challengeId")
	case c.Nonce == "":
		return missing("nonce")
	case c.Token == "":
		return missing("token")
	case len(c.ChallengeID) > maxFieldLength:
		return invalid("challengeId")
	case len(c.Nonce) > maxFieldLength:
		return invalid("nonce")
	case len(c.Token) > maxTokenLength:
		return invalid("token")
	}

	return nil
}

type peekRequest struct {
	credentials
	Cursor *geometry.Point `json:"cursor"`
}

func (p peekRequest) Valid() error {
	if err := p.credentials.Valid(); err != nil {
		return err
	}

	if p.Cursor == nil {
		return missing("cursor")
	}

	return nil
}

type verifyRequest struct {
	credentials
	SessionID        string                  `json:"sessionId"`
	PointerType      linecaptcha.PointerType `json:"pointerType"`
	OSFamily         string                  `json:"osFamily"`
	BrowserFamily    string                  `json:"browserFamily"`
	DevicePixelRatio float64                 `json:"devicePixelRatio"`
	Trajectory       []verify.Sample         `json:"trajectory"`
}

func (v verifyRequest) Valid() error {
	if err := v.credentials.Valid(); err != nil {
		return err
	}

	switch {
	case v.PointerType == "":
		return missing("pointerType")
	case !v.PointerType.Valid():
		return invalid("pointerType")
	case v.Trajectory == nil:
		return missing("trajectory")
	case v.DevicePixelRatio < 0:
		return invalid("devicePixelRatio")
	case len(v.SessionID) > maxFieldLength:
		return invalid("sessionId")
	case len(v.OSFamily) > maxFieldLength:
		return invalid("osFamily")
	case len(v.BrowserFamily) > maxFieldLength:
		return invalid("browserFamily")
	}

	return nil
}

type verifyResponse struct {
	Passed                  bool             `json:"passed"`
	Reason                  verify.Reason    `json:"reason"`
	Message                 string           `json:"message"`
	CoverageRatio           float64          `json:"coverageRatio"`
	MeanSpeedPxPerSec       float64          `json:"meanSpeedPxPerSec"`
	MaxSpeedPxPerSec        float64          `json:"maxSpeedPxPerSec"`
	Deviation               verify.Deviation `json:"deviationStatsPx"`
	DurationMs              float64          `json:"durationMs"`
	NewChallengeRecommended bool             `json:"newChallengeRecommended"`
	FallbackRecommended     bool             `json:"fallbackRecommended"`
}

func round(f float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(f*scale) / scale
}

func (s *Server) NewChallenge(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	// The request body carries nothing; only its size is enforced.
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	seed, err := pathgen.NewSeed()
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	path, err := s.generator.Generate(seed)
	if err != nil {
		s.respondWithError(w, r, fmt.Errorf("can't generate path %s: %w", seed, err))
		return
	}

	iss, err := s.challenges.Issue(r.Context(), path, tolerance.Jittered(s.cfg.Pointers, nil))
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	chall := iss.Challenge
	lg.Debug("issued challenge", "challenge_id", chall.ID, "seed", chall.Seed, "length", chall.Length, "bends", path.Bends())

	w.Header().Set("Cache-Control", "no-store")
	s.respondJSON(w, r, http.StatusOK, newChallengeResponse{
		ChallengeID:        chall.ID,
		Nonce:              chall.Nonce,
		Token:              iss.Token,
		StartPoint:         chall.Start().Round(2),
		ExpiresAt:          float64(chall.ExpiresAt.UnixMilli()) / 1000,
		TTLMs:              chall.TTL().Milliseconds(),
		TargetCompletionMs: s.cfg.Challenge.TargetCompletion.Milliseconds(),
		Tolerance:          chall.Tolerance,
		LineThickness: pointerHint{
			Mouse: s.cfg.Pointers.Mouse.LineThickness,
			Touch: s.cfg.Pointers.Touch.LineThickness,
		},
		Trail: trailHint{
			VisibleMs: s.cfg.Trail.Visible.Milliseconds(),
			FadeoutMs: s.cfg.Trail.Fadeout.Milliseconds(),
		},
		Canvas: canvasHint{
			Width:  s.cfg.Canvas.Width,
			Height: s.cfg.Canvas.Height,
		},
	})
}

func (s *Server) Peek(w http.ResponseWriter, r *http.Request) {
	var req peekRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}

	if err := req.Valid(); err != nil {
		s.respondWithError(w, r, err)
		return
	}

	result, err := s.peeks.Peek(r.Context(), req.ChallengeID, req.Nonce, req.Token, *req.Cursor)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	s.respondJSON(w, r, http.StatusOK, result)
}

func (s *Server) Verify(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	var req verifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}

	if err := req.Valid(); err != nil {
		s.respondWithError(w, r, err)
		return
	}

	chall, err := s.challenges.Authenticate(r.Context(), req.ChallengeID, req.Nonce, req.Token, challenge.UseVerify)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}

	client := &tolerance.Client{
		PointerType:      req.PointerType,
		OSFamily:         req.OSFamily,
		BrowserFamily:    req.BrowserFamily,
		DevicePixelRatio: req.DevicePixelRatio,
		UserAgent:        r.UserAgent(),
	}
	scale, matched := s.rules.Scale(r.Context(), client)
	base := chall.Tolerance.For(req.PointerType)

	now := s.challenges.Clock().Now()
	result := s.verifier.Verify(verify.Input{
		Polyline:   chall.Points,
		Tolerance:  base * scale,
		ExpiresAt:  chall.ExpiresAt,
		Now:        now,
		Trajectory: req.Trajectory,
	})

	// Only the caller that consumes the challenge gets to report a score.
	if _, err := s.challenges.Consume(r.Context(), chall.ID, string(result.Reason)); err != nil {
		s.respondWithError(w, r, err)
		return
	}

	verifications.WithLabelValues(string(result.Reason), string(req.PointerType.Profile())).Inc()
	challenge.TimeTaken.WithLabelValues(string(result.Reason)).Observe(result.Metrics.DurationMs)

	fallback := s.recordOutcome(req.SessionID, result.Passed)
	if fallback {
		fallbackRecommendations.Inc()
	}

	lg.Debug("verified attempt",
		"challenge_id", chall.ID,
		"reason", result.Reason,
		"coverage", result.Metrics.CoverageRatio,
		"tolerance", base*scale,
		"tolerance_rules", matched,
	)

	localizer := localization.GetLocalizer(r)
	s.respondJSON(w, r, http.StatusOK, verifyResponse{
		Passed:            result.Passed,
		Reason:            result.Reason,
		Message:           localizer.T(string(result.Reason)),
		CoverageRatio:     round(result.Metrics.CoverageRatio, 4),
		MeanSpeedPxPerSec: round(result.Metrics.MeanSpeedPxPerSec, 2),
		MaxSpeedPxPerSec:  round(result.Metrics.MaxSpeedPxPerSec, 2),
		Deviation: verify.Deviation{
			Mean: round(result.Metrics.Deviation.Mean, 2),
			Max:  round(result.Metrics.Deviation.Max, 2),
		},
		DurationMs:              result.Metrics.DurationMs,
		NewChallengeRecommended: !result.Passed,
		FallbackRecommended:     fallback,
	})

	rec := &audit.Record{
		ChallengeID:      chall.ID,
		SessionID:        req.SessionID,
		PointerType:      string(req.PointerType),
		OSFamily:         req.OSFamily,
		BrowserFamily:    req.BrowserFamily,
		DevicePixelRatio: req.DevicePixelRatio,
		PathSeed:         chall.Seed,
		PathLength:       chall.Length,
		Tolerance:        base * scale,
		BaseTolerance:    base,
		ToleranceRules:   matched,
		TTLMs:            chall.TTL().Milliseconds(),
		IssuedAt:         chall.IssuedAt,
		ExpiresAt:        chall.ExpiresAt,
		VerifiedAt:       now,
		Outcome:          result.Reason,
		Passed:           result.Passed,
		Metrics:          result.Metrics,
		Trajectory:       req.Trajectory,
	}

	if n := len(req.Trajectory); n != 0 {
		rec.StartedAtMs = req.Trajectory[0].T
		rec.EndedAtMs = req.Trajectory[n-1].T
	}

	s.logAttempt(r.Context(), rec)
}

func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// recordOutcome tracks failures per session and reports whether the
// session should be offered the fallback check.
func (s *Server) recordOutcome(session string, passed bool) bool {
	fb := s.cfg.Fallback
	if session == "" || !fb.Enabled() {
		return false
	}

	s.failuresLock.Lock()
	defer s.failuresLock.Unlock()

	if passed {
		s.failures.Delete(session)
		return false
	}

	n, _ := s.failures.Get(session)
	n++
	s.failures.Set(session, n, fb.Window.Duration)

	return n >= fb.AfterFailures
}

// logAttempt hands rec to the audit sinks without holding up the response.
func (s *Server) logAttempt(ctx context.Context, rec *audit.Record) {
	id, err := uuid.NewV7()
	if err != nil {
		slog.Error("can't generate attempt id", "err", err)
		return
	}
	rec.AttemptID = id.String()

	s.auditWG.Add(1)
	go func() {
		defer s.auditWG.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
		defer cancel()

		if err := s.audit.Log(ctx, rec); err != nil {
			auditFailures.Inc()
			slog.Error("can't record attempt", "attempt_id", rec.AttemptID, "challenge_id", rec.ChallengeID, "err", err)
		}
	}()
}

func (s *Server) CleanupDecayMap() {
	s.failures.Cleanup()
}

// Close waits for pending attempt records to be written and releases the
// audit sinks.
func (s *Server) Close() error {
	s.auditWG.Wait()

	if c, ok := s.audit.(audit.Closer); ok {
		return c.Close()
	}

	return nil
}
