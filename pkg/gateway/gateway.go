// Package gateway issues generation requests against a remote provider,
// failing over across model candidates and credential slots whenever the
// provider reports capacity exhaustion. Only capacity errors trigger
// fallback; anything else is fatal for the turn.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agilbank/concierge/internal/observability"
	"github.com/agilbank/concierge/internal/tracing"
	"github.com/agilbank/concierge/pkg/pool"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrExhausted signals that every model/credential pair reported capacity
// exhaustion. Use errors.Is against it; the concrete *ExhaustedError carries
// the exhausted pairs for diagnostics.
var ErrExhausted = errors.New("gateway: all model/credential pairs exhausted")

// ExhaustedError is returned when the whole pool is spent.
type ExhaustedError struct {
	Pairs []pool.Pair
}

func (e *ExhaustedError) Error() string {
	names := make([]string, len(e.Pairs))
	for i, p := range e.Pairs {
		names[i] = fmt.Sprintf("%s/slot%d", p.Model, p.Slot)
	}
	return fmt.Sprintf("gateway: all model/credential pairs exhausted: %s", strings.Join(names, ", "))
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// Config holds gateway construction parameters.
type Config struct {
	Pool        *pool.Pool
	Provider    Provider
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	Logger      zerolog.Logger
}

// Gateway invokes the provider with pool-driven failover.
type Gateway struct {
	pool        *pool.Pool
	provider    Provider
	timeout     time.Duration
	temperature float64
	maxTokens   int
	logger      zerolog.Logger
}

// New creates a gateway. The pool is shared, injected state; the gateway
// never constructs its own.
func New(cfg Config) (*Gateway, error) {
	observability.EnsureRegistered()

	if cfg.Pool == nil {
		return nil, fmt.Errorf("gateway: pool is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("gateway: provider is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Gateway{
		pool:        cfg.Pool,
		provider:    cfg.Provider,
		timeout:     cfg.Timeout,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      cfg.Logger,
	}, nil
}

// Invoke calls the provider, advancing the pool past any pair that reports
// capacity exhaustion. Quota errors retry immediately with no backoff;
// exhaustion is treated as permanent for the rest of the process. Any other
// provider error propagates without retry.
func (g *Gateway) Invoke(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "concierge.gateway", "gateway.invoke")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, g.logger)

	if req.Temperature == 0 {
		req.Temperature = g.temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = g.maxTokens
	}

	// Hard upper bound: one network attempt per model/credential pair.
	budget := g.pool.Size()

	for attempt := 0; attempt < budget; attempt++ {
		// Re-derive under the pool lock every attempt; another conversation
		// may have marked our previous pair exhausted meanwhile.
		cand, err := g.pool.Current()
		if err != nil {
			if errors.Is(err, pool.ErrExhausted) {
				observability.RecordPoolExhausted()
				span.SetStatus(codes.Error, "pool exhausted")
				return nil, &ExhaustedError{Pairs: g.pool.Exhausted()}
			}
			return nil, err
		}

		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		resp, err := g.provider.Generate(callCtx, cand.Model, cand.Key, req)
		cancel()
		latency := time.Since(start)

		if err == nil {
			observability.RecordGatewayAttempt(cand.Model, cand.Slot, latency, "success")
			logger.Debug().
				Str("model", cand.Model).
				Int("slot", cand.Slot).
				Dur("latency", latency).
				Msg("Provider call succeeded")
			resp.Model = cand.Model
			span.SetAttributes(attribute.String("model", cand.Model), attribute.Int("attempts", attempt+1))
			return resp, nil
		}

		if IsQuotaError(err) {
			observability.RecordGatewayAttempt(cand.Model, cand.Slot, latency, "exhausted")
			g.pool.MarkExhausted(cand.Model, cand.Slot)
			observability.SetExhaustedPairs(g.pool.ExhaustedCount())
			logger.Warn().
				Str("model", cand.Model).
				Int("slot", cand.Slot).
				Err(err).
				Msg("Capacity exhausted, advancing pool")
			continue
		}

		observability.RecordGatewayAttempt(cand.Model, cand.Slot, latency, "fatal")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Str("model", cand.Model).
			Int("slot", cand.Slot).
			Err(err).
			Msg("Provider call failed")
		return nil, fmt.Errorf("gateway: %s call with model %s failed: %w", g.provider.Name(), cand.Model, err)
	}

	observability.RecordPoolExhausted()
	span.SetStatus(codes.Error, "pool exhausted")
	return nil, &ExhaustedError{Pairs: g.pool.Exhausted()}
}

// IsQuotaError reports whether a provider error indicates capacity or quota
// exhaustion for the current model/credential pair.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "resource_exhausted", "quota", "rate limit", "rate_limit"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
