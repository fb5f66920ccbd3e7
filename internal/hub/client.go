// Package hub implements a fault-tolerant client for a set of upstream
// Farcaster hubs: failover across endpoints, rate-limit awareness, and
// pagination helpers over the hub's HTTP JSON API.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RequestTransform mutates an outgoing request before it is sent — used to
// attach per-hub authentication headers.
type RequestTransform func(*http.Request)

// Endpoint is one upstream hub in the ordered fallback list.
type Endpoint struct {
	URL       string
	Transform RequestTransform
}

// Client fetches from an ordered list of hub endpoints with failover,
// rate-limit awareness, and a 30s per-request timeout.
type Client struct {
	endpoints []Endpoint
	http      *http.Client

	// currentHub is the index of the hub a fresh request attempt should try
	// first. Reset to 0 on any successful request and at the start of each
	// backoff attempt.
	currentHub uint32

	// rateLimitUntil holds, per endpoint, the unix-nano instant before which
	// requests to that endpoint should not be sent.
	rateLimitUntil []int64

	// limiter enforces the minimum 1s inter-request spacing for this client
	// instance, shared across all endpoints since the client itself is
	// effectively single-threaded to respect that spacing.
	limiter *rate.Limiter

	mu     sync.Mutex // serializes request dispatch so spacing/index stay consistent
	config Config
}

// Config controls retry/timeout knobs; zero values take spec defaults.
type Config struct {
	RequestTimeout   time.Duration // default 30s
	MinSpacing       time.Duration // default 1s
	MaxRetries       int           // default 3 (attempts, not per-hub tries)
	DefaultRateLimit time.Duration // default 60s, used when 429 carries no Retry-After
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MinSpacing <= 0 {
		c.MinSpacing = time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.DefaultRateLimit <= 0 {
		c.DefaultRateLimit = 60 * time.Second
	}
	return c
}

// NewClient builds a Client over the given ordered endpoints. At least one
// endpoint is required.
func NewClient(endpoints []Endpoint, cfg Config) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("hub: at least one endpoint is required")
	}
	cfg = cfg.withDefaults()
	return &Client{
		endpoints:      endpoints,
		http:           &http.Client{Timeout: cfg.RequestTimeout},
		rateLimitUntil: make([]int64, len(endpoints)),
		limiter:        rate.NewLimiter(rate.Every(cfg.MinSpacing), 1),
		config:         cfg,
	}, nil
}

// HubError is the failure surface callers see. Only AllHubsFailed (after
// retry exhaustion) is fatal to the caller; the others are informational
// classifications of what happened along the way.
type HubErrorKind string

const (
	HubErrAllHubsFailed HubErrorKind = "all_hubs_failed"
	HubErrTimeout       HubErrorKind = "timeout"
	HubErrDecode        HubErrorKind = "decode"
	HubErrRateLimited   HubErrorKind = "rate_limited"
)

type HubError struct {
	Kind HubErrorKind
	Err  error
}

func (e *HubError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hub: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("hub: %s", e.Kind)
}
func (e *HubError) Unwrap() error { return e.Err }

// do runs the failover/retry/rate-limit algorithm (spec.md §4.1) for a single
// logical request, decoding the JSON body of the first successful response
// into out.
func (c *Client) do(ctx context.Context, path string, query url.Values, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	backoff := time.Second
	maxAttempts := c.config.MaxRetries // resetting hub index at the start of each attempt

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		atomic.StoreUint32(&c.currentHub, 0)

		for tried := 0; tried < len(c.endpoints); tried++ {
			idx := int(atomic.LoadUint32(&c.currentHub))
			ep := c.endpoints[idx]

			if wait := c.rateLimitWait(idx); wait > 0 {
				if err := sleepCtx(ctx, wait); err != nil {
					return err
				}
			}
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}

			resp, err := c.doOne(ctx, ep, path, query)
			if err != nil {
				lastErr = err
				atomic.StoreUint32(&c.currentHub, uint32((idx+1)%len(c.endpoints)))
				continue
			}

			if resp.StatusCode == http.StatusTooManyRequests {
				c.applyRateLimit(idx, resp.Header)
				resp.Body.Close()
				lastErr = &HubError{Kind: HubErrRateLimited, Err: fmt.Errorf("%s: 429", ep.URL)}
				atomic.StoreUint32(&c.currentHub, uint32((idx+1)%len(c.endpoints)))
				continue
			}

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				body, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				lastErr = fmt.Errorf("%s: status %d: %s", ep.URL, resp.StatusCode, string(body))
				atomic.StoreUint32(&c.currentHub, uint32((idx+1)%len(c.endpoints)))
				continue
			}

			c.applyRateLimitHeaders(idx, resp.Header)

			defer resp.Body.Close()
			if out != nil {
				if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
					return &HubError{Kind: HubErrDecode, Err: err}
				}
			}
			// Success resets the index for the NEXT independent request.
			atomic.StoreUint32(&c.currentHub, 0)
			return nil
		}

		// All hubs exhausted this attempt.
		if attempt == maxAttempts-1 {
			break
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}

	return &HubError{Kind: HubErrAllHubsFailed, Err: lastErr}
}

func (c *Client) doOne(ctx context.Context, ep Endpoint, path string, query url.Values) (*http.Response, error) {
	u := ep.URL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if ep.Transform != nil {
		ep.Transform(req)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &HubError{Kind: HubErrTimeout, Err: err}
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) rateLimitWait(idx int) time.Duration {
	until := atomic.LoadInt64(&c.rateLimitUntil[idx])
	if until == 0 {
		return 0
	}
	d := time.Until(time.Unix(0, until))
	if d <= 0 {
		return 0
	}
	return d
}

func (c *Client) applyRateLimit(idx int, h http.Header) {
	d := c.config.DefaultRateLimit
	if ra := h.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			d = time.Duration(secs) * time.Second
		}
	}
	atomic.StoreInt64(&c.rateLimitUntil[idx], time.Now().Add(d).UnixNano())
}

func (c *Client) applyRateLimitHeaders(idx int, h http.Header) {
	remaining := h.Get("x-ratelimit-remaining")
	reset := h.Get("x-ratelimit-reset")
	if remaining == "0" && reset != "" {
		if resetUnix, err := strconv.ParseInt(reset, 10, 64); err == nil {
			until := time.Unix(resetUnix, 0)
			if until.After(time.Now()) {
				atomic.StoreInt64(&c.rateLimitUntil[idx], until.UnixNano())
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
