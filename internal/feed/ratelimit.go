package feed

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedFeed wraps a Feed with a token-bucket limiter so a burst of
// per-symbol lookups from the worker pool cannot exceed the upstream
// provider's request ceiling.
type RateLimitedFeed struct {
	inner   Feed
	limiter *rate.Limiter
}

func NewRateLimitedFeed(inner Feed, perSec float64, burst int) *RateLimitedFeed {
	return &RateLimitedFeed{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
	}
}

func (r *RateLimitedFeed) Quote(ctx context.Context, symbol string) (Quote, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Quote{}, err
	}
	return r.inner.Quote(ctx, symbol)
}

func (r *RateLimitedFeed) PutChain(ctx context.Context, symbol string) ([]OptionQuote, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.PutChain(ctx, symbol)
}

func (r *RateLimitedFeed) VolMetrics(ctx context.Context, symbol string) (VolMetrics, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return VolMetrics{}, err
	}
	return r.inner.VolMetrics(ctx, symbol)
}

func (r *RateLimitedFeed) Positions(ctx context.Context) ([]RawPosition, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Positions(ctx)
}

func (r *RateLimitedFeed) Account(ctx context.Context) (AccountSummary, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return AccountSummary{}, err
	}
	return r.inner.Account(ctx)
}

func (r *RateLimitedFeed) Market(ctx context.Context) (MarketContext, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return MarketContext{}, err
	}
	return r.inner.Market(ctx)
}
