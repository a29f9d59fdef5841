package resilience

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/knoguchi/supportrag/internal/llm"
)

// RateLimitedLLM blocks each Generate call until the token bucket allows it.
type RateLimitedLLM struct {
	next    llm.LLM
	limiter *rate.Limiter
}

// NewRateLimitedLLM wraps next with a limiter of perSecond calls and the
// given burst. A non-positive perSecond disables limiting and returns next.
func NewRateLimitedLLM(next llm.LLM, perSecond float64, burst int) llm.LLM {
	if perSecond <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedLLM{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Generate waits for a token, then calls the wrapped client.
func (r *RateLimitedLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for model rate limit: %w", err)
	}
	return r.next.Generate(ctx, prompt, opts)
}

var _ llm.LLM = (*RateLimitedLLM)(nil)
