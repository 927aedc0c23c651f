package scrape

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/subletwatch/subletwatch/internal/cost"
	"github.com/subletwatch/subletwatch/internal/detect"
	"github.com/subletwatch/subletwatch/internal/model"
	"github.com/subletwatch/subletwatch/internal/resilience"
	"github.com/subletwatch/subletwatch/internal/strategy"
	"github.com/subletwatch/subletwatch/pkg/scrapingbee"
)

// PairResult is the trial history for one property-platform pair.
type PairResult struct {
	Property model.Property
	Platform model.Platform
	Attempts []model.ScrapeAttempt
	// Winner is the verdict-bearing attempt the pair resolves to, nil when
	// every attempt failed outright.
	Winner *model.ScrapeAttempt
}

// CostUnits sums the billed units across all attempts.
func (r PairResult) CostUnits() int {
	total := 0
	for _, a := range r.Attempts {
		total += a.CostUnits
	}
	return total
}

// ExecutorConfig tunes the strategy executor.
type ExecutorConfig struct {
	// InterStrategyDelay is the pause between sequential strategies for the
	// same property, keeping coordinate search and fallback from looking
	// like a burst to anti-bot defenses. Default: 2s.
	InterStrategyDelay time.Duration

	// RequestsPerSecond paces proxy calls across all concurrent pairs.
	// Zero disables pacing.
	RequestsPerSecond float64

	// CountryCode routes proxy exits; listings pages geo-gate results.
	CountryCode string

	Retry resilience.RetryConfig
}

// DefaultExecutorConfig returns the production pacing settings.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		InterStrategyDelay: 2 * time.Second,
		RequestsPerSecond:  2,
		CountryCode:        "gb",
		Retry:              resilience.DefaultRetryConfig(),
	}
}

// Executor runs search strategies through the rendering proxy, one fetch per
// strategy, and applies the detector's short-circuit across the ordinal
// sequence.
type Executor struct {
	client   scrapingbee.Client
	detector *detect.Detector
	profiles map[model.Platform]Profile
	breaker  *resilience.CircuitBreaker
	limiter  *rate.Limiter
	calc     *cost.Calculator
	cfg      ExecutorConfig
}

// NewExecutor creates an Executor. A nil calc disables spend accounting.
func NewExecutor(client scrapingbee.Client, detector *detect.Detector, profiles map[model.Platform]Profile, calc *cost.Calculator, cfg ExecutorConfig) *Executor {
	if cfg.InterStrategyDelay < 0 {
		cfg.InterStrategyDelay = 0
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	breakerCfg.ShouldTrip = shouldRetryFetch
	return &Executor{
		client:   client,
		detector: detector,
		profiles: profiles,
		breaker:  resilience.NewCircuitBreaker(breakerCfg),
		limiter:  limiter,
		calc:     calc,
		cfg:      cfg,
	}
}

// RunPair executes the ordered strategies for one property on one platform.
// Strategy failures never propagate; they become failed attempts in the
// history. The first attempt whose verdict finds the postcode wins and later
// strategies are skipped.
func (e *Executor) RunPair(ctx context.Context, prop model.Property, platform model.Platform) PairResult {
	result := PairResult{Property: prop, Platform: platform}
	strategies := strategy.Generate(prop, platform)

	log := zap.L().With(
		zap.String("postcode", prop.Postcode),
		zap.String("platform", string(platform)),
	)

	for i, strat := range strategies {
		if i > 0 && e.cfg.InterStrategyDelay > 0 {
			if err := sleepCtx(ctx, e.cfg.InterStrategyDelay); err != nil {
				break
			}
		}

		attempt := e.execute(ctx, prop.Postcode, strat)
		result.Attempts = append(result.Attempts, attempt)

		if attempt.Success && attempt.Verdict != nil && attempt.Verdict.Found {
			log.Debug("scrape: match found, skipping remaining strategies",
				zap.String("kind", string(strat.Kind)),
				zap.String("method", string(attempt.Verdict.Method)),
				zap.Float64("confidence", attempt.Verdict.Confidence),
			)
			break
		}
	}

	result.Winner = detect.PickWinner(result.Attempts)
	return result
}

// execute performs one fetch and always returns an attempt record, failed or
// not.
func (e *Executor) execute(ctx context.Context, postcode string, strat model.SearchStrategy) model.ScrapeAttempt {
	attempt := model.ScrapeAttempt{Strategy: strat}
	profile := e.profiles[strat.Platform]

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			attempt.Error = err.Error()
			return attempt
		}
	}

	req := scrapingbee.FetchRequest{
		URL:         strat.RequestURL,
		RenderJS:    true,
		WaitMS:      profile.WaitMS,
		ProxyTier:   profile.ProxyTier,
		CountryCode: e.cfg.CountryCode,
	}
	if profile.SessionIsolation {
		req.SessionID = 1 + rand.IntN(10_000_000)
	}

	retryCfg := e.cfg.Retry
	retryCfg.ShouldRetry = shouldRetryFetch
	retryCfg.OnRetry = resilience.RetryLogger("scrapingbee", string(strat.Platform))

	start := time.Now()
	var resp *scrapingbee.FetchResponse
	err := e.breaker.Execute(ctx, func(ctx context.Context) error {
		var fetchErr error
		resp, fetchErr = resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*scrapingbee.FetchResponse, error) {
			return e.client.Fetch(ctx, req)
		})
		return fetchErr
	})
	attempt.LatencyMS = time.Since(start).Milliseconds()

	if err != nil {
		attempt.Error = err.Error()
		// Rejected calls never reached the proxy and bill nothing.
		if !errorsIsCircuitOpen(err) {
			attempt.CostUnits = profile.CostUnits
		}
		e.recordCost(attempt.CostUnits)
		zap.L().Warn("scrape: fetch failed",
			zap.String("postcode", postcode),
			zap.String("platform", string(strat.Platform)),
			zap.String("kind", string(strat.Kind)),
			zap.Error(err),
		)
		return attempt
	}

	attempt.Success = true
	attempt.HTMLSize = len(resp.Body)
	attempt.CostUnits = profile.CostUnits
	if resp.CostUnits > 0 {
		attempt.CostUnits = resp.CostUnits
	}
	e.recordCost(attempt.CostUnits)

	verdict := e.detector.Inspect(resp.Body, postcode, strat.Platform)
	attempt.Verdict = &verdict
	return attempt
}

func (e *Executor) recordCost(units int) {
	if e.calc != nil && units > 0 {
		e.calc.Record(units)
	}
}

// shouldRetryFetch treats proxy 5xx/429 responses and network-level faults
// as transient.
func shouldRetryFetch(err error) bool {
	var apiErr *scrapingbee.APIError
	if errors.As(err, &apiErr) {
		return resilience.IsTransientHTTPStatus(apiErr.StatusCode)
	}
	return resilience.IsTransient(err)
}

func errorsIsCircuitOpen(err error) bool {
	return errors.Is(err, resilience.ErrCircuitOpen)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
