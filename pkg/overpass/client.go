// Package overpass queries the OpenStreetMap Overpass API for map elements.
package overpass

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/skiatlas/internal/model"
)

// DefaultBaseURL is the public Overpass interpreter endpoint.
const DefaultBaseURL = "https://overpass-api.de/api/interpreter"

// timeoutGrace is added to a query's declared timeout for the HTTP round trip.
const timeoutGrace = 15 * time.Second

// Client runs Overpass queries.
type Client interface {
	Query(ctx context.Context, q Query) ([]model.RawElement, error)
}

// Option configures the client.
type Option func(*client)

// WithBaseURL overrides the interpreter endpoint.
func WithBaseURL(u string) Option {
	return func(c *client) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second limit shared by all queries.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *client) {
		c.userAgent = ua
	}
}

type client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type response struct {
	Elements []model.RawElement `json:"elements"`
	Remark   string             `json:"remark,omitempty"`
}

// NewClient creates an Overpass Client.
func NewClient(opts ...Option) Client {
	c := &client{
		baseURL:    DefaultBaseURL,
		userAgent:  "SkiResortMapper/1.0",
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(1, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query executes q and returns the decoded elements. Transport failures and
// non-200 responses are returned as *model.UpstreamError.
func (c *client) Query(ctx context.Context, q Query) ([]model.RawElement, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "overpass: rate limit")
	}

	if q.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.Timeout+timeoutGrace)
		defer cancel()
	}

	reqURL := c.baseURL + "?" + url.Values{"data": {q.Text}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "overpass: build request")
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(model.NewUpstreamError("overpass", 0, err), "overpass: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, eris.Wrap(
			model.NewUpstreamError("overpass", resp.StatusCode, eris.New(string(snippet))),
			"overpass: query",
		)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, eris.Wrap(model.NewUpstreamError("overpass", resp.StatusCode, err), "overpass: decode response")
	}

	if out.Remark != "" {
		zap.L().Warn("overpass: server remark", zap.String("remark", out.Remark))
	}
	zap.L().Debug("overpass: query complete",
		zap.Int("elements", len(out.Elements)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out.Elements, nil
}
