// Package scrapingbee is a client for the ScrapingBee rendering proxy API.
package scrapingbee

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Default base URL for the ScrapingBee v1 API.
const defaultBaseURL = "https://app.scrapingbee.com/api/v1"

// ProxyTier selects the proxy pool a fetch is routed through.
type ProxyTier string

const (
	TierStandard ProxyTier = "standard"
	TierPremium  ProxyTier = "premium"
	TierStealth  ProxyTier = "stealth"
)

// FetchRequest describes one rendered-page fetch through the proxy.
type FetchRequest struct {
	URL         string
	RenderJS    bool
	WaitMS      int
	ProxyTier   ProxyTier
	CountryCode string
	// SessionID pins the fetch to an isolated proxy session. Zero means no
	// session pinning.
	SessionID int
}

// FetchResponse is the rendered page plus billing metadata.
type FetchResponse struct {
	Body        string
	StatusCode  int
	CostUnits   int
	ResolvedURL string
}

// APIError is returned when the proxy responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scrapingbee: HTTP %d: %s", e.StatusCode, e.Body)
}

// Client defines the rendering proxy operations.
type Client interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new ScrapingBee client. The HTTP timeout leaves room
// for the render wait plus stealth-pool queueing.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 90 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch executes one rendered fetch. Non-2xx proxy responses return an
// *APIError carrying the body so callers can record the failure text.
func (c *httpClient) Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error) {
	if req.URL == "" {
		return nil, eris.New("scrapingbee: empty target url")
	}

	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("url", req.URL)
	q.Set("render_js", strconv.FormatBool(req.RenderJS))
	if req.WaitMS > 0 {
		q.Set("wait", strconv.Itoa(req.WaitMS))
	}
	switch req.ProxyTier {
	case TierPremium:
		q.Set("premium_proxy", "true")
	case TierStealth:
		q.Set("stealth_proxy", "true")
	}
	if req.CountryCode != "" {
		q.Set("country_code", req.CountryCode)
	}
	if req.SessionID != 0 {
		q.Set("session_id", strconv.Itoa(req.SessionID))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "scrapingbee: create request")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "scrapingbee: execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "scrapingbee: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	out := &FetchResponse{
		Body:        string(data),
		StatusCode:  resp.StatusCode,
		ResolvedURL: resp.Header.Get("Spb-Resolved-Url"),
	}
	if cost := resp.Header.Get("Spb-Cost"); cost != "" {
		if n, convErr := strconv.Atoi(cost); convErr == nil {
			out.CostUnits = n
		}
	}
	return out, nil
}
