package websearch

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

type throttledSearcher struct {
	inner   Searcher
	limiter *rate.Limiter
}

// NewThrottled shares one token bucket across every caller of inner.
// A non-positive rate disables throttling.
func NewThrottled(inner Searcher, perSecond float64, burst int) Searcher {
	if inner == nil || perSecond <= 0 {
		return inner
	}
	if burst < 1 {
		burst = 1
	}
	return &throttledSearcher{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (s *throttledSearcher) Attempt(ctx context.Context, query string) (Result, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("wait for search slot: %w", err)
	}
	return s.inner.Attempt(ctx, query)
}
