package embedding

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedEmbedder wraps an Embedder with a token-bucket limiter,
// backstopping the remote embedding backend against burst overload (a
// migration GRADUAL batch, or a flurry of store_memory calls, issuing far
// more requests per second than the backend is provisioned for).
type RateLimitedEmbedder struct {
	next    Embedder
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder bounds next to ratePerSecond requests per second
// with the given burst allowance.
func NewRateLimitedEmbedder(next Embedder, ratePerSecond float64, burst int) *RateLimitedEmbedder {
	return &RateLimitedEmbedder{next: next, limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

func (r *RateLimitedEmbedder) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding: rate limit wait: %w", err)
	}
	return r.next.Embed(ctx, text, model)
}

func (r *RateLimitedEmbedder) Dimension(model string) int { return r.next.Dimension(model) }
