package scrape

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subletwatch/subletwatch/internal/cost"
	"github.com/subletwatch/subletwatch/internal/detect"
	"github.com/subletwatch/subletwatch/internal/model"
	"github.com/subletwatch/subletwatch/pkg/scrapingbee"
)

// fakeProxy scripts per-URL responses for the executor.
type fakeProxy struct {
	responses map[string]*scrapingbee.FetchResponse
	errs      map[string]error
	calls     []scrapingbee.FetchRequest
}

func (f *fakeProxy) Fetch(ctx context.Context, req scrapingbee.FetchRequest) (*scrapingbee.FetchResponse, error) {
	f.calls = append(f.calls, req)
	if err, ok := f.errs[req.URL]; ok {
		return nil, err
	}
	if resp, ok := f.responses[req.URL]; ok {
		return resp, nil
	}
	return &scrapingbee.FetchResponse{Body: "<html>no results</html>", StatusCode: 200}, nil
}

func testExecutor(proxy scrapingbee.Client, calc *cost.Calculator) *Executor {
	cfg := ExecutorConfig{InterStrategyDelay: 0, CountryCode: "gb"}
	cfg.Retry.MaxAttempts = 1
	return NewExecutor(proxy, detect.New(0), DefaultProfiles(), calc, cfg)
}

func geocodedProperty() model.Property {
	lat, lng := 55.874, -4.317
	return model.Property{
		Postcode:  "G11 5AW",
		Address:   "23 Banavie Road, G11 5AW",
		Latitude:  &lat,
		Longitude: &lng,
	}
}

func TestRunPairShortCircuitsOnCoordinateMatch(t *testing.T) {
	t.Parallel()

	prop := geocodedProperty()
	proxy := &fakeProxy{responses: map[string]*scrapingbee.FetchResponse{}}

	// Every URL returns a matching body, so only the ordinal-0 strategy
	// should ever be fetched.
	e := testExecutor(proxy, nil)
	coordURL := firstStrategyURL(t, prop, model.PlatformAirbnb)
	proxy.responses[coordURL] = &scrapingbee.FetchResponse{Body: "listing at G11 5AW", StatusCode: 200, CostUnits: 25}

	result := e.RunPair(context.Background(), prop, model.PlatformAirbnb)

	require.Len(t, result.Attempts, 1)
	require.NotNil(t, result.Winner)
	assert.True(t, result.Winner.Verdict.Found)
	assert.Equal(t, model.MethodExact, result.Winner.Verdict.Method)
	assert.Len(t, proxy.calls, 1)
}

func TestRunPairFallsBackToAddressStrategy(t *testing.T) {
	t.Parallel()

	prop := geocodedProperty()
	proxy := &fakeProxy{
		errs: map[string]error{
			firstStrategyURL(t, prop, model.PlatformSpareRoom): eris.New("render timed out"),
		},
	}
	e := testExecutor(proxy, nil)

	result := e.RunPair(context.Background(), prop, model.PlatformSpareRoom)

	require.Len(t, result.Attempts, 2)
	assert.False(t, result.Attempts[0].Success)
	assert.Contains(t, result.Attempts[0].Error, "render timed out")
	assert.True(t, result.Attempts[1].Success)
	require.NotNil(t, result.Winner)
	assert.False(t, result.Winner.Verdict.Found)
}

func TestRunPairAllAttemptsFail(t *testing.T) {
	t.Parallel()

	prop := model.Property{Postcode: "G11 5AW"}
	proxy := &fakeProxy{errs: map[string]error{}}
	e := testExecutor(proxy, nil)

	// Uncoordinated property has a single fallback strategy; fail it.
	for _, s := range allStrategyURLs(prop, model.PlatformGumtree) {
		proxy.errs[s] = eris.New("502 bad gateway")
	}

	result := e.RunPair(context.Background(), prop, model.PlatformGumtree)

	require.Len(t, result.Attempts, 1)
	assert.Nil(t, result.Winner)
	assert.False(t, result.Attempts[0].Success)
}

func TestExecuteRecordsCostAndLatency(t *testing.T) {
	t.Parallel()

	prop := model.Property{Postcode: "G11 5AW"}
	proxy := &fakeProxy{}
	calc := cost.NewCalculator(cost.DefaultRates())
	e := testExecutor(proxy, calc)

	result := e.RunPair(context.Background(), prop, model.PlatformSpareRoom)

	require.Len(t, result.Attempts, 1)
	a := result.Attempts[0]
	assert.True(t, a.Success)
	assert.Equal(t, 10, a.CostUnits) // spareroom profile rate, no Spb-Cost header
	assert.Positive(t, a.HTMLSize)
	assert.Equal(t, 10, calc.Spent())
	assert.Equal(t, 10, result.CostUnits())
}

func TestExecuteFailedFetchStillBillsProfileCost(t *testing.T) {
	t.Parallel()

	prop := model.Property{Postcode: "G11 5AW"}
	proxy := &fakeProxy{errs: map[string]error{}}
	for _, u := range allStrategyURLs(prop, model.PlatformAirbnb) {
		proxy.errs[u] = &scrapingbee.APIError{StatusCode: 400, Body: "bad params"}
	}
	calc := cost.NewCalculator(cost.DefaultRates())
	e := testExecutor(proxy, calc)

	result := e.RunPair(context.Background(), prop, model.PlatformAirbnb)

	require.Len(t, result.Attempts, 1)
	assert.False(t, result.Attempts[0].Success)
	assert.Equal(t, 25, result.Attempts[0].CostUnits)
	assert.Equal(t, 25, calc.Spent())
}

func TestExecuteSessionIsolationOnlyForAirbnb(t *testing.T) {
	t.Parallel()

	prop := model.Property{Postcode: "G11 5AW"}
	proxy := &fakeProxy{}
	e := testExecutor(proxy, nil)

	e.RunPair(context.Background(), prop, model.PlatformAirbnb)
	require.NotEmpty(t, proxy.calls)
	assert.NotZero(t, proxy.calls[0].SessionID)
	assert.Equal(t, scrapingbee.TierStealth, proxy.calls[0].ProxyTier)
	assert.Equal(t, 4000, proxy.calls[0].WaitMS)

	proxy.calls = nil
	e.RunPair(context.Background(), prop, model.PlatformSpareRoom)
	require.NotEmpty(t, proxy.calls)
	assert.Zero(t, proxy.calls[0].SessionID)
	assert.Equal(t, scrapingbee.TierPremium, proxy.calls[0].ProxyTier)
	assert.Equal(t, 3500, proxy.calls[0].WaitMS)
}

// helpers

func firstStrategyURL(t *testing.T, p model.Property, platform model.Platform) string {
	t.Helper()
	urls := allStrategyURLs(p, platform)
	require.NotEmpty(t, urls)
	return urls[0]
}

func allStrategyURLs(p model.Property, platform model.Platform) []string {
	var urls []string
	for _, s := range strategiesFor(p, platform) {
		urls = append(urls, s.RequestURL)
	}
	return urls
}
