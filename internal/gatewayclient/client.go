// Package gatewayclient calls the encounter gateway with signed requests.
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/questforge/encounterd/internal/apperror"
	"github.com/questforge/encounterd/internal/hmacauth"
	"github.com/questforge/encounterd/internal/logging"
	"github.com/questforge/encounterd/pkg/types"
)

// DefaultTimeout bounds one gateway call. Provider retries run inside it.
const DefaultTimeout = 90 * time.Second

// maxResponseBytes caps decoded response bodies.
const maxResponseBytes = 4 << 20

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a client for the gateway at baseURL.
func New(baseURL, secret string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("gatewayclient: base URL is required")
	}
	if secret == "" {
		return nil, hmacauth.ErrEmptySecret
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GenerateEncounter requests a new encounter.
func (c *Client) GenerateEncounter(ctx context.Context, req *types.EncounterRequest) (*types.EncounterSpec, error) {
	var enc types.EncounterSpec
	if err := c.post(ctx, "/gen/encounter", req, &enc); err != nil {
		return nil, err
	}
	return &enc, nil
}

// GenerateReward requests rewards for a finished encounter.
func (c *Client) GenerateReward(ctx context.Context, req *types.RewardRequest) ([]types.Reward, error) {
	var resp types.RewardResponse
	if err := c.post(ctx, "/gen/reward", req, &resp); err != nil {
		return nil, err
	}
	return resp.Rewards, nil
}

// Estimate returns the projected cost of an encounter request.
func (c *Client) Estimate(ctx context.Context, req *types.EncounterRequest) (*types.CostEstimate, error) {
	var est types.CostEstimate
	if err := c.post(ctx, "/gen/estimate", req, &est); err != nil {
		return nil, err
	}
	return &est, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("gatewayclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gatewayclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	if err := hmacauth.SignRequest(req, body, c.secret); err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperror.Upstream(err, "gateway unreachable")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return apperror.Upstream(err, "read gateway response")
	}

	logging.Debug().
		Str("path", path).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("gateway call")

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperror.Upstream(err, "decode gateway response")
	}
	return nil
}

// decodeError turns a gateway error envelope back into an apperror.
func decodeError(resp *http.Response, data []byte) error {
	var env types.ErrorResponse
	if err := json.Unmarshal(data, &env); err != nil || env.Error.Code == "" {
		return apperror.Upstream(nil, "gateway returned status %d", resp.StatusCode)
	}

	kind := apperror.KindFromCode(env.Error.Code)
	e := &apperror.Error{
		Kind:    kind,
		Message: env.Error.Message,
		Details: env.Error.Details,
	}
	// A signature rejection is our misconfiguration, not the caller's.
	if kind == apperror.KindAuth {
		e.Kind = apperror.KindInternal
		e.Message = "gateway rejected request signature: " + env.Error.Message
	}
	if kind == apperror.KindUnavailable || kind == apperror.KindRateLimited {
		e.RetryAfter = retryAfter(resp, env.Error.Details)
	}
	return e
}

func retryAfter(resp *http.Response, details map[string]any) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if secs, ok := details["retryAfterSeconds"].(float64); ok && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}
