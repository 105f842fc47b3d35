package requester

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ecommind/engine/internal/adapter"
	"github.com/ecommind/engine/internal/domain"
	"github.com/ecommind/engine/internal/logger"
	"github.com/ecommind/engine/internal/ratelimit"
	"github.com/ecommind/engine/internal/retry"
)

// TokenSource supplies access tokens for authenticated vendor calls.
// AccessToken refreshes proactively when the stored token is near expiry;
// ForceRefresh rotates the token after the vendor rejected it with a 401.
//
//go:generate mockgen -source=executor.go -destination=../../mocks/token_source.go -package=mocks -mock_names=TokenSource=MockTokenSource
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
}

// Request is one fully-built vendor HTTP request
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// BuildFunc constructs the request for the current access token. It is
// invoked once per attempt so Shopee-style timestamp/HMAC signing stays
// fresh across retries. The token is empty for unauthenticated calls.
type BuildFunc func(token string) (*Request, error)

// ErrorParser extracts a human-readable message from a vendor error body
type ErrorParser func(status int, body []byte) string

// Executor is the single request path shared by all vendor adapters.
// Per call it: acquires a rate-limit token, attaches a (proactively
// refreshed) access token, and applies the uniform retry policy: 429 waits
// on the vendor retry hint and 401 forces exactly one token refresh, while
// transient failures back off exponentially up to the policy ceiling.
type Executor struct {
	vendor     domain.Vendor
	httpClient adapter.HTTPClient
	limiter    *ratelimit.Limiter
	policy     retry.Policy
	clock      adapter.Clock
	tokens     TokenSource
	parseError ErrorParser
}

// New creates an executor for one vendor. tokens may be nil for adapters
// that embed credentials in the request itself (OAuth exchanges).
func New(vendor domain.Vendor, httpClient adapter.HTTPClient, limiter *ratelimit.Limiter, policy retry.Policy, clock adapter.Clock, tokens TokenSource, parseError ErrorParser) *Executor {
	if parseError == nil {
		parseError = func(_ int, body []byte) string { return string(body) }
	}
	return &Executor{
		vendor:     vendor,
		httpClient: httpClient,
		limiter:    limiter,
		policy:     policy,
		clock:      clock,
		tokens:     tokens,
		parseError: parseError,
	}
}

// Do executes the request under the shared retry policy and returns the
// response body of the first 2xx response
func (e *Executor) Do(ctx context.Context, build BuildFunc) ([]byte, error) {
	var (
		respBody  []byte
		refreshed bool
		token     string
	)

	if e.tokens != nil {
		var err error
		token, err = e.tokens.AccessToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain access token: %w", err)
		}
	}

	op := func() error {
		if err := e.limiter.Wait(ctx, string(e.vendor)); err != nil {
			return retry.Permanent(err)
		}

		req, err := build(token)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to build request: %w", err))
		}

		var bodyReader *bytes.Reader
		if req.Body != nil {
			bodyReader = bytes.NewReader(req.Body)
		} else {
			bodyReader = bytes.NewReader(nil)
		}

		resp, err := e.httpClient.Do(ctx, req.Method, req.URL, req.Headers, bodyReader)
		if err != nil {
			// Network errors and timeouts are transient
			return fmt.Errorf("request to %s failed: %w", e.vendor, err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			respBody = resp.Body
			return nil

		case resp.StatusCode == http.StatusTooManyRequests:
			hint := retryAfterHint(resp.Header)
			logger.Warn("vendor rate limited, waiting before retry",
				zap.String("vendor", string(e.vendor)),
				zap.Duration("retry_after", hint))
			if hint > 0 {
				select {
				case <-ctx.Done():
					return retry.Permanent(ctx.Err())
				case <-e.clock.After(hint):
				}
			}
			return &domain.VendorError{
				Vendor:     e.vendor,
				StatusCode: resp.StatusCode,
				Message:    e.parseError(resp.StatusCode, resp.Body),
				RetryAfter: hint,
			}

		case resp.StatusCode == http.StatusUnauthorized:
			verr := &domain.VendorError{
				Vendor:     e.vendor,
				StatusCode: resp.StatusCode,
				Message:    e.parseError(resp.StatusCode, resp.Body),
			}
			if e.tokens == nil || refreshed {
				// Second 401 after a fresh token means the credential is dead
				return retry.Permanent(verr)
			}
			refreshed = true
			token, err = e.tokens.ForceRefresh(ctx)
			if err != nil {
				return retry.Permanent(fmt.Errorf("failed to refresh token after 401: %w", err))
			}
			return verr

		case resp.StatusCode >= 500:
			// Server-side failures are transient under the policy
			return &domain.VendorError{
				Vendor:     e.vendor,
				StatusCode: resp.StatusCode,
				Message:    e.parseError(resp.StatusCode, resp.Body),
			}

		default:
			// Remaining 4xx are caller errors; retrying cannot help
			return retry.Permanent(&domain.VendorError{
				Vendor:     e.vendor,
				StatusCode: resp.StatusCode,
				Message:    e.parseError(resp.StatusCode, resp.Body),
			})
		}
	}

	if err := e.policy.Do(ctx, op); err != nil {
		return nil, err
	}
	return respBody, nil
}

// retryAfterHint parses the Retry-After header as delay seconds or HTTP date
func retryAfterHint(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
