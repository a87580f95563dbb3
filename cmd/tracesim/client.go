package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/TecharoHQ/linecaptcha"
	"github.com/TecharoHQ/linecaptcha/lib/geometry"
	"github.com/TecharoHQ/linecaptcha/lib/verify"
)

// apiError is a non-200 answer from the challenge API.
type apiError struct {
	Status int
	Code   string `json:"error"`
	Field  string `json:"field"`
}

func (e *apiError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("api: %d %s (%s)", e.Status, e.Code, e.Field)
	}
	return fmt.Sprintf("api: %d %s", e.Status, e.Code)
}

type challengeResponse struct {
	ChallengeID string         `json:"challengeId"`
	Nonce       string         `json:"nonce"`
	Token       string         `json:"token"`
	StartPoint  geometry.Point `json:"startPoint"`
	TTLMs       int64          `json:"ttlMs"`
}

type peekResponse struct {
	Ahead         []geometry.Point `json:"ahead"`
	DistanceToEnd float64          `json:"distanceToEnd"`
	Finish        *geometry.Point  `json:"finish"`
}

type verifyRequest struct {
	ChallengeID      string                  `json:"challengeId"`
	Nonce            string                  `json:"nonce"`
	Token            string                  `json:"token"`
	SessionID        string                  `json:"sessionId"`
	PointerType      linecaptcha.PointerType `json:"pointerType"`
	OSFamily         string                  `json:"osFamily"`
	BrowserFamily    string                  `json:"browserFamily"`
	DevicePixelRatio float64                 `json:"devicePixelRatio"`
	Trajectory       []verify.Sample         `json:"trajectory"`
}

type verifyResponse struct {
	Passed              bool          `json:"passed"`
	Reason              verify.Reason `json:"reason"`
	CoverageRatio       float64       `json:"coverageRatio"`
	DurationMs          float64       `json:"durationMs"`
	FallbackRecommended bool          `json:"fallbackRecommended"`
}

type client struct {
	hc   *http.Client
	base string
}

func newClient(hc *http.Client, base string) *client {
	return &client{
		hc:   hc,
		base: strings.TrimSuffix(base, "/") + linecaptcha.APIPrefix,
	}
}

func (c *client) post(ctx context.Context, route string, in, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(in); err != nil {
		return fmt.Errorf("can't encode %s request: %w", route, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+route, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("can't POST %s: %w", route, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &apiError{Status: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("can't decode %s response: %w", route, err)
	}

	return nil
}

func (c *client) newChallenge(ctx context.Context) (*challengeResponse, error) {
	var out challengeResponse
	if err := c.post(ctx, "new", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) peek(ctx context.Context, chall *challengeResponse, cursor geometry.Point) (*peekResponse, error) {
	req := struct {
		ChallengeID string         `json:"challengeId"`
		Nonce       string         `json:"nonce"`
		Token       string         `json:"token"`
		Cursor      geometry.Point `json:"cursor"`
	}{chall.ChallengeID, chall.Nonce, chall.Token, cursor}

	var out peekResponse
	if err := c.post(ctx, "peek", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) verify(ctx context.Context, req verifyRequest) (*verifyResponse, error) {
	var out verifyResponse
	if err := c.post(ctx, "verify", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
