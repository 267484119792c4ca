package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"globe-tiles/internal/ratelimit"
	"golang.org/x/sync/semaphore"
)

const (
	ErrTypeTransport = "fetch_transport"
	ErrTypeStatus    = "fetch_status"
	ErrTypeNoContent = "fetch_no_content"
	ErrTypeLimited   = "fetch_rate_limited"
	ErrTypeTooLarge  = "fetch_too_large"

	// DefaultUserAgent is sent with every tile request.
	DefaultUserAgent = "globe-tiles/1.0"
)

// Response is the outcome of a successful fetch.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Fetcher retrieves remote resources.
type Fetcher interface {
	// Fetch downloads url. A response other than 200 OK is an error.
	Fetch(ctx context.Context, url string) (*Response, error)

	// IsFull reports whether new fetches should not be submitted now.
	IsFull() bool
}

// Config configures an HTTPFetcher.
type Config struct {
	Transport     http.RoundTripper
	Timeout       time.Duration
	MaxConcurrent int
	MaxBodyBytes  int64
	UserAgent     string
	RateLimit     *ratelimit.Handler
}

// HTTPFetcher fetches resources over HTTP with bounded concurrency and per
// host rate limit admission.
type HTTPFetcher struct {
	httpClient    *http.Client
	userAgent     string
	maxBodyBytes  int64
	sem           *semaphore.Weighted
	maxConcurrent int64
	inFlight      atomic.Int64
	limits        *ratelimit.Handler
}

// NewHTTPFetcher creates a fetcher. A nil transport uses one that respects
// the system proxy settings.
func NewHTTPFetcher(c Config) *HTTPFetcher {
	if c.Transport == nil {
		c.Transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 16,
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 32 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.RateLimit == nil {
		c.RateLimit = ratelimit.NewHandler(nil)
	}

	return &HTTPFetcher{
		httpClient: &http.Client{
			Timeout:   c.Timeout,
			Transport: c.Transport,
		},
		userAgent:     c.UserAgent,
		maxBodyBytes:  c.MaxBodyBytes,
		sem:           semaphore.NewWeighted(int64(c.MaxConcurrent)),
		maxConcurrent: int64(c.MaxConcurrent),
		limits:        c.RateLimit,
	}
}

// IsFull reports whether every fetch slot is taken or a host is backing
// off after a rate limit response.
func (f *HTTPFetcher) IsFull() bool {
	return f.inFlight.Load() >= f.maxConcurrent || f.limits.AnyRateLimited()
}

// RateLimit returns the admission handler of the fetcher.
func (f *HTTPFetcher) RateLimit() *ratelimit.Handler {
	return f.limits
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.New("invalid fetch url").
			WithType(ErrTypeTransport).
			WithTag("url", rawURL).
			Wrap(err)
	}
	host := u.Host

	start := time.Now()
	res, err := f.fetch(ctx, host, rawURL)
	instrumentFetch(host, start, err)
	return res, err
}

func (f *HTTPFetcher) fetch(ctx context.Context, host, rawURL string) (*Response, error) {
	if f.limits.IsRateLimited(host) {
		return nil, errors.New("host is rate limited").
			WithType(ErrTypeLimited).
			WithTag("host", host)
	}

	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.New("waiting for a fetch slot failed").
			WithType(ErrTypeTransport).
			Wrap(err)
	}
	f.inFlight.Add(1)
	defer func() {
		f.inFlight.Add(-1)
		f.sem.Release(1)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.New("creating request failed").
			WithType(ErrTypeTransport).
			WithTag("url", rawURL).
			Wrap(err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, errors.New("request failed").
			WithType(ErrTypeTransport).
			WithTag("url", rawURL).
			Wrap(err)
	}
	defer resp.Body.Close()

	if f.limits.CheckResponse(host, resp.StatusCode) {
		return nil, errors.New("rate limited").
			WithType(ErrTypeLimited).
			WithTag("url", rawURL).
			WithTag("status", resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, errors.New("no content").
			WithType(ErrTypeNoContent).
			WithTag("url", rawURL)
	default:
		return nil, errors.Newf("unexpected status %d", resp.StatusCode).
			WithType(ErrTypeStatus).
			WithTag("url", rawURL).
			WithTag("status", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, errors.New("reading response failed").
			WithType(ErrTypeTransport).
			WithTag("url", rawURL).
			Wrap(err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, errors.New("response too large").
			WithType(ErrTypeTooLarge).
			WithTag("url", rawURL).
			WithTag("max_bytes", f.maxBodyBytes)
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
