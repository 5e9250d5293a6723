package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/questforge/encounterd/internal/apperror"
	"github.com/questforge/encounterd/internal/breaker"
	"github.com/questforge/encounterd/internal/logging"
	"github.com/questforge/encounterd/internal/metrics"
	"github.com/questforge/encounterd/internal/retry"
	"github.com/questforge/encounterd/internal/validation"
	"github.com/questforge/encounterd/pkg/types"
)

// Provider generates encounter content from one upstream vendor.
type Provider interface {
	// ID returns the provider identifier.
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// Model returns the upstream model id.
	Model() string

	// GenerateEncounter produces a validated encounter.
	GenerateEncounter(ctx context.Context, req *types.EncounterRequest) (*types.EncounterSpec, error)

	// GenerateReward produces validated rewards for a finished encounter.
	GenerateReward(ctx context.Context, req *types.RewardRequest) ([]types.Reward, error)

	// EstimateCost estimates the USD cost of generating an encounter for req.
	EstimateCost(req *types.EncounterRequest) types.CostEstimate

	// HealthCheck calls the upstream and reports availability.
	HealthCheck(ctx context.Context) types.HealthStatus

	// Breaker returns the provider's circuit breaker.
	Breaker() *breaker.Breaker
}

// DefaultCallTimeout bounds one upstream attempt.
const DefaultCallTimeout = 15 * time.Second

// ClientConfig holds the vendor-independent settings of a Client.
type ClientConfig struct {
	ID          string
	Name        string
	Model       string
	Temperature float64
	MaxTokens   int
	// Pricing in USD per 1M tokens.
	InputPrice  float64
	OutputPrice float64
	CallTimeout time.Duration
	Breaker     breaker.Config
	Retry       retry.Options
	// BreakerOptions are appended after the client's own logging and metrics hooks.
	BreakerOptions []breaker.Option
}

// Client implements Provider over an eino chat model.
type Client struct {
	cfg     ClientConfig
	model   model.BaseChatModel
	breaker *breaker.Breaker
	log     zerolog.Logger
}

// NewClient wraps chatModel with a breaker and retry policy.
func NewClient(chatModel model.BaseChatModel, cfg ClientConfig) *Client {
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		def := retry.DefaultOptions(cfg.ID)
		cfg.Retry.MaxAttempts = def.MaxAttempts
		if cfg.Retry.Delays == nil {
			cfg.Retry.Delays = def.Delays
		}
	}

	c := &Client{
		cfg:   cfg,
		model: chatModel,
		log:   logging.Component("provider").With().Str("provider", cfg.ID).Logger(),
	}

	opts := []breaker.Option{
		breaker.WithStateChange(c.onStateChange),
		breaker.WithFailurePredicate(countsAsFailure),
	}
	c.breaker = breaker.New(cfg.ID, cfg.Breaker, append(opts, cfg.BreakerOptions...)...)
	metrics.BreakerState.WithLabelValues(cfg.ID).Set(float64(breaker.StateClosed))
	return c
}

// ID returns the provider identifier.
func (c *Client) ID() string { return c.cfg.ID }

// Name returns the human-readable provider name.
func (c *Client) Name() string { return c.cfg.Name }

// Model returns the upstream model id.
func (c *Client) Model() string { return c.cfg.Model }

// Breaker returns the provider's circuit breaker.
func (c *Client) Breaker() *breaker.Breaker { return c.breaker }

// GenerateEncounter builds the prompt, calls the model and validates the result.
func (c *Client) GenerateEncounter(ctx context.Context, req *types.EncounterRequest) (*types.EncounterSpec, error) {
	if req == nil {
		req = &types.EncounterRequest{}
	}
	msgs := []*schema.Message{
		schema.SystemMessage(encounterSystemPrompt),
		schema.UserMessage(buildEncounterPrompt(req)),
	}

	return call(ctx, c, "encounter", func(ctx context.Context) (*types.EncounterSpec, error) {
		text, err := c.complete(ctx, msgs, c.cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		spec, err := parseEncounter(c.cfg.ID, text, req)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		res := validation.ValidateEncounterSpec(spec)
		if !res.Valid {
			return nil, retry.Permanent(&GenerationError{Provider: c.cfg.ID, Fields: res.Errors})
		}
		return res.Data, nil
	})
}

// GenerateReward asks the model for rewards and validates them.
func (c *Client) GenerateReward(ctx context.Context, req *types.RewardRequest) ([]types.Reward, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(rewardSystemPrompt),
		schema.UserMessage(buildRewardPrompt(req)),
	}

	return call(ctx, c, "reward", func(ctx context.Context) ([]types.Reward, error) {
		text, err := c.complete(ctx, msgs, min(c.cfg.MaxTokens, 1024))
		if err != nil {
			return nil, err
		}
		rewards, err := parseRewards(c.cfg.ID, text)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		if errs := validation.ValidateRewards(rewards); len(errs) > 0 {
			return nil, retry.Permanent(&GenerationError{Provider: c.cfg.ID, Fields: errs})
		}
		return rewards, nil
	})
}

// EstimateCost counts roughly four characters per input token and assumes the full output budget.
func (c *Client) EstimateCost(req *types.EncounterRequest) types.CostEstimate {
	if req == nil {
		req = &types.EncounterRequest{}
	}
	in := (len(encounterSystemPrompt) + len(buildEncounterPrompt(req))) / 4
	out := c.cfg.MaxTokens
	return types.CostEstimate{
		Provider:     c.cfg.ID,
		Model:        c.cfg.Model,
		InputTokens:  in,
		OutputTokens: out,
		USD:          float64(in)*c.cfg.InputPrice/1e6 + float64(out)*c.cfg.OutputPrice/1e6,
	}
}

// HealthCheck sends a minimal prompt straight to the upstream, without retries.
// It reads the breaker but never feeds it: only generation calls count.
// A circuit that is not closed is reported without contacting the upstream.
func (c *Client) HealthCheck(ctx context.Context) types.HealthStatus {
	snap := c.breaker.Snapshot()
	status := types.HealthStatus{Provider: c.cfg.ID, Breaker: BreakerStatus(snap)}

	if snap.State != breaker.StateClosed {
		retryIn := time.Until(snap.ResumeAt)
		status.Error = fmt.Sprintf("circuit %s, retry in %ds", snap.State, retrySeconds(retryIn))
		metrics.UpstreamRequestsTotal.WithLabelValues(c.cfg.ID, "health", "rejected").Inc()
		return status
	}

	start := time.Now()
	_, err := c.complete(ctx, []*schema.Message{schema.UserMessage("Reply with the single word OK.")}, 8)
	status.LatencyMs = time.Since(start).Milliseconds()

	if err != nil {
		status.Error = err.Error()
		metrics.UpstreamRequestsTotal.WithLabelValues(c.cfg.ID, "health", outcomeLabel(err)).Inc()
		return status
	}
	status.Available = true
	metrics.UpstreamRequestsTotal.WithLabelValues(c.cfg.ID, "health", "success").Inc()
	return status
}

// call runs op through the breaker, with retries inside it, and classifies the final error.
func call[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	start := time.Now()

	opts := c.cfg.Retry
	opts.Name = c.cfg.ID + "." + op
	onRetry := opts.OnRetry
	opts.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.UpstreamRetriesTotal.WithLabelValues(c.cfg.ID, op).Inc()
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}

	res, err := breaker.Execute(ctx, c.breaker, func(ctx context.Context) (T, error) {
		return retry.Do(ctx, fn, opts)
	})
	metrics.UpstreamDuration.WithLabelValues(c.cfg.ID, op).Observe(time.Since(start).Seconds())
	metrics.UpstreamRequestsTotal.WithLabelValues(c.cfg.ID, op, outcomeLabel(err)).Inc()

	if err == nil {
		return res, nil
	}
	return zero, c.classify(ctx, op, err)
}

func (c *Client) classify(ctx context.Context, op string, err error) error {
	var open *breaker.OpenError
	switch {
	case errors.As(err, &open):
		c.log.Warn().Str("op", op).Dur("retry_in", open.RetryIn).Msg("circuit open, failing fast")
		return apperror.Unavailable(open.RetryIn, "provider %s unavailable, retry in %ds", c.cfg.ID, retrySeconds(open.RetryIn)).
			WithDetails(map[string]any{"provider": c.cfg.ID, "retryAfterSeconds": retrySeconds(open.RetryIn)})
	case ctx.Err() != nil:
		c.log.Debug().Str("op", op).Err(err).Msg("request cancelled")
		return ctx.Err()
	}

	c.log.Error().Str("op", op).Err(err).Msg("upstream generation failed")
	var ae *apperror.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperror.Upstream(err, "provider %s failed", c.cfg.ID).WithDetails(map[string]any{"provider": c.cfg.ID})
}

// complete runs one model call bounded by the call timeout.
func (c *Client) complete(ctx context.Context, msgs []*schema.Message, maxTokens int) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	resp, err := c.model.Generate(callCtx, msgs,
		model.WithTemperature(float32(c.cfg.Temperature)),
		model.WithMaxTokens(maxTokens),
	)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			// Parent still alive: this attempt timed out and may be retried.
			return "", fmt.Errorf("%s: upstream call timed out after %s", c.cfg.ID, c.cfg.CallTimeout)
		}
		return "", fmt.Errorf("%s: generate: %w", c.cfg.ID, err)
	}
	if resp == nil || resp.Content == "" {
		return "", fmt.Errorf("%s: empty response", c.cfg.ID)
	}
	return resp.Content, nil
}

func (c *Client) onStateChange(name string, from, to breaker.State) {
	ev := c.log.Info()
	if to == breaker.StateOpen {
		ev = c.log.Warn()
	}
	ev.Str("from", from.String()).Str("to", to.String()).Msg("circuit state changed")
	metrics.BreakerState.WithLabelValues(name).Set(float64(to))
	metrics.BreakerTransitionsTotal.WithLabelValues(name, from.String(), to.String()).Inc()
}

// countsAsFailure excludes caller mistakes from the breaker count.
func countsAsFailure(err error) bool {
	switch apperror.KindOf(err) {
	case apperror.KindValidation, apperror.KindAuth, apperror.KindNotFound, apperror.KindConflict:
		return false
	}
	return true
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, breaker.ErrOpen):
		return "rejected"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}

func retrySeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// BreakerStatus converts a breaker snapshot to its wire form.
func BreakerStatus(s breaker.Snapshot) *types.BreakerStatus {
	st := &types.BreakerStatus{State: s.State.String(), Failures: s.Failures}
	if !s.LastFailure.IsZero() {
		ms := s.LastFailure.UnixMilli()
		st.LastFailure = &ms
	}
	if s.State != breaker.StateClosed && !s.ResumeAt.IsZero() {
		ms := s.ResumeAt.UnixMilli()
		st.ResumeAt = &ms
	}
	return st
}
