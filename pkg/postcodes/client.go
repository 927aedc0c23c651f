// Package postcodes is a client for the postcodes.io UK postcode lookup API.
package postcodes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Default base URL for the postcodes.io API.
const defaultBaseURL = "https://api.postcodes.io"

// Result is a resolved postcode coordinate pair.
type Result struct {
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	CanonicalPostcode string  `json:"postcode"`
}

// Client defines the postcode lookup operations.
type Client interface {
	Lookup(ctx context.Context, postcode string) (*Result, error)
}

// ErrNotFound is returned when the service has no record for a postcode.
var ErrNotFound = eris.New("postcodes: postcode not found")

// APIError is returned for unexpected non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("postcodes: HTTP %d: %s", e.StatusCode, e.Body)
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
	baseURL string
	http    *http.Client
}

// NewClient creates a new postcodes.io client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type lookupResponse struct {
	Status int `json:"status"`
	Result struct {
		Postcode  string   `json:"postcode"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	} `json:"result"`
}

// Lookup resolves a postcode to coordinates. The key is normalized by
// stripping spaces before the request. Unknown postcodes return ErrNotFound.
func (c *httpClient) Lookup(ctx context.Context, postcode string) (*Result, error) {
	key := strings.ReplaceAll(strings.TrimSpace(postcode), " ", "")
	if key == "" {
		return nil, eris.New("postcodes: empty postcode")
	}

	reqURL := c.baseURL + "/postcodes/" + url.PathEscape(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "postcodes: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "postcodes: execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "postcodes: read response body")
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var lr lookupResponse
	if err := json.Unmarshal(data, &lr); err != nil {
		return nil, eris.Wrap(err, "postcodes: decode response")
	}
	if lr.Result.Latitude == nil || lr.Result.Longitude == nil {
		return nil, ErrNotFound
	}

	return &Result{
		Latitude:          *lr.Result.Latitude,
		Longitude:         *lr.Result.Longitude,
		CanonicalPostcode: lr.Result.Postcode,
	}, nil
}
