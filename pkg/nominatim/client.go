// Package nominatim reverse-geocodes coordinates with the OpenStreetMap
// Nominatim service.
package nominatim

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/skiatlas/internal/model"
)

const (
	// DefaultBaseURL is the public Nominatim endpoint.
	DefaultBaseURL = "https://nominatim.openstreetmap.org"

	// DefaultUserAgent identifies the client as Nominatim's usage policy requires.
	DefaultUserAgent = "SkiResortMapper/1.0"
)

// Reverser converts a coordinate to an address.
type Reverser interface {
	Reverse(ctx context.Context, lat, lon float64) (*Address, error)
}

// Address holds the administrative fields of a reverse-geocode result.
type Address struct {
	Country  string `json:"country,omitempty"`
	State    string `json:"state,omitempty"`
	Province string `json:"province,omitempty"`
	County   string `json:"county,omitempty"`
	Region   string `json:"region,omitempty"`
}

// Subdivision returns the first-level subdivision name in priority order
// state, province, county, region.
func (a *Address) Subdivision() string {
	if a == nil {
		return ""
	}
	for _, v := range []string{a.State, a.Province, a.County, a.Region} {
		if v != "" {
			return v
		}
	}
	return ""
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the service endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithRateLimit sets the requests-per-second limit. Nominatim allows one.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// Client is a rate-limited Nominatim reverse geocoder.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type reverseResponse struct {
	Address     Address `json:"address"`
	DisplayName string  `json:"display_name"`
	Error       string  `json:"error"`
}

// NewClient creates a Client limited to one request per second.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(1, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reverse looks up the address at (lat, lon). A coordinate Nominatim cannot
// place returns an empty Address, not an error.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (*Address, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "nominatim: rate limit")
	}

	params := url.Values{
		"lat":    {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":    {strconv.FormatFloat(lon, 'f', -1, 64)},
		"format": {"json"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reverse?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "nominatim: build request")
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(model.NewUpstreamError("nominatim", 0, err), "nominatim: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrap(
			model.NewUpstreamError("nominatim", resp.StatusCode, eris.New(resp.Status)),
			"nominatim: reverse",
		)
	}

	var out reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, eris.Wrap(model.NewUpstreamError("nominatim", resp.StatusCode, err), "nominatim: decode response")
	}
	if out.Error != "" {
		zap.L().Debug("nominatim: no result",
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
			zap.String("reason", out.Error),
		)
		return &Address{}, nil
	}

	return &out.Address, nil
}
