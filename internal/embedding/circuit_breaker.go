package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the breaker has tripped and is rejecting
// calls to prevent cascading failures against a degraded embedding backend.
var ErrCircuitOpen = errors.New("embedding: circuit breaker is open")

// BreakerConfig configures the circuit breaker wrapping an Embedder.
type BreakerConfig struct {
	MaxFailures          uint32
	Timeout              time.Duration
	HalfOpenMaxSuccesses uint32
}

// DefaultBreakerConfig matches the sensitivity used elsewhere in the engine
// for external-call protection: trip after 3 consecutive failures, stay open
// 30s, require 2 consecutive successes in half-open to close.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 3, Timeout: 30 * time.Second, HalfOpenMaxSuccesses: 2}
}

// BreakerEmbedder wraps an Embedder with a gobreaker circuit breaker so a
// failing backend degrades to fast ErrCircuitOpen rejections instead of
// stacking up slow timeouts.
type BreakerEmbedder struct {
	next    Embedder
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerEmbedder(next Embedder, cfg BreakerConfig) *BreakerEmbedder {
	settings := gobreaker.Settings{
		Name:        "embedding",
		MaxRequests: cfg.HalfOpenMaxSuccesses,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	}
	return &BreakerEmbedder{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerEmbedder) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.next.Embed(ctx, text, model)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return result.([]float32), nil
}

func (b *BreakerEmbedder) Dimension(model string) int { return b.next.Dimension(model) }

// State reports the breaker's current state: "closed", "open", "half-open".
func (b *BreakerEmbedder) State() string {
	switch b.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
