// Package geocode resolves property postcodes to coordinates through the
// external lookup service, with caching and bounded parallelism.
package geocode

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/subletwatch/subletwatch/internal/model"
	"github.com/subletwatch/subletwatch/internal/resilience"
	"github.com/subletwatch/subletwatch/pkg/postcodes"
)

// CachedResult is a stored lookup, including negative results so repeated
// jobs don't re-query dead postcodes.
type CachedResult struct {
	Latitude  float64
	Longitude float64
	Matched   bool
}

// Cache stores geocode lookups across jobs. Implementations must tolerate
// concurrent access.
type Cache interface {
	GetGeocode(ctx context.Context, postcode string) (*CachedResult, error)
	SetGeocode(ctx context.Context, postcode string, result CachedResult) error
}

// Resolver attaches coordinates to properties. Lookup failures are
// non-fatal: the property passes through uncoordinated and the strategy
// generator falls back to text search.
type Resolver struct {
	client      postcodes.Client
	cache       Cache
	concurrency int
	retry       resilience.RetryConfig
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithCache enables lookup caching.
func WithCache(c Cache) Option {
	return func(r *Resolver) {
		r.cache = c
	}
}

// WithConcurrency bounds parallel lookups in ResolveAll.
func WithConcurrency(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithRetry overrides the lookup retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(r *Resolver) {
		r.retry = cfg
	}
}

// NewResolver creates a Resolver around the lookup client.
func NewResolver(client postcodes.Client, opts ...Option) *Resolver {
	r := &Resolver{
		client:      client,
		concurrency: 10,
		retry:       resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the property with coordinates attached when the lookup
// succeeds, unchanged otherwise.
func (r *Resolver) Resolve(ctx context.Context, prop model.Property) model.Property {
	if prop.HasCoordinates() {
		return prop
	}

	if r.cache != nil {
		if cached, err := r.cache.GetGeocode(ctx, prop.Postcode); err == nil && cached != nil {
			if cached.Matched {
				prop.Latitude = &cached.Latitude
				prop.Longitude = &cached.Longitude
			}
			return prop
		}
	}

	retryCfg := r.retry
	retryCfg.ShouldRetry = shouldRetryLookup
	retryCfg.OnRetry = resilience.RetryLogger("postcodes", "lookup")

	res, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*postcodes.Result, error) {
		return r.client.Lookup(ctx, prop.Postcode)
	})
	if err != nil {
		if !eris.Is(err, postcodes.ErrNotFound) {
			zap.L().Warn("geocode: lookup failed",
				zap.String("postcode", prop.Postcode),
				zap.Error(err),
			)
		}
		if r.cache != nil && eris.Is(err, postcodes.ErrNotFound) {
			_ = r.cache.SetGeocode(ctx, prop.Postcode, CachedResult{Matched: false})
		}
		return prop
	}

	prop.Latitude = &res.Latitude
	prop.Longitude = &res.Longitude

	if r.cache != nil {
		_ = r.cache.SetGeocode(ctx, prop.Postcode, CachedResult{
			Latitude:  res.Latitude,
			Longitude: res.Longitude,
			Matched:   true,
		})
	}
	return prop
}

// ResolveAll geocodes properties in parallel, preserving one output per
// input in input order.
func (r *Resolver) ResolveAll(ctx context.Context, props []model.Property) []model.Property {
	if len(props) == 0 {
		return nil
	}

	out := make([]model.Property, len(props))

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.concurrency)
	for i, p := range props {
		eg.Go(func() error {
			out[i] = r.Resolve(gCtx, p)
			return nil
		})
	}
	_ = eg.Wait()

	return out
}

// shouldRetryLookup never retries definitive misses.
func shouldRetryLookup(err error) bool {
	if eris.Is(err, postcodes.ErrNotFound) {
		return false
	}
	var apiErr *postcodes.APIError
	if errors.As(err, &apiErr) {
		return resilience.IsTransientHTTPStatus(apiErr.StatusCode)
	}
	return resilience.IsTransient(err)
}
