package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// TokenPrefixes lists the accepted bearer-token prefixes for the hosted
// service (§6 "Authentication"). A token missing one of these prefixes fails
// fast before any network call is attempted.
var TokenPrefixes = []string{"secret_", "svcacct_"}

// ValidateToken checks the bearer token's shape. It never makes a network
// call — auth failures surface as pre-dispatch fatal errors (§7).
func ValidateToken(token string) error {
	for _, prefix := range TokenPrefixes {
		if strings.HasPrefix(token, prefix) {
			return nil
		}
	}
	return fmt.Errorf("token does not look like a hosted-service integration token (expected one of: %s)",
		strings.Join(TokenPrefixes, ", "))
}

// AllowedHost is the hosted service's API domain. ValidateDatabaseURL rejects
// any other host or non-HTTP(S) scheme (§6 "Target URL").
const AllowedHost = "api.tabsync.example.com"

// ValidateDatabaseURL checks that rawURL is an http(s) URL on the hosted
// service's domain, and extracts the database identifier from its path.
// A URL that resolves to a single page (no database segment) is rejected —
// the tool only targets database views, never individual pages.
func ValidateDatabaseURL(rawURL string) (databaseID string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid target URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("target URL must use http or https, got %q", u.Scheme)
	}
	if u.Host != AllowedHost {
		return "", fmt.Errorf("target URL must be on %s, got %q", AllowedHost, u.Host)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 2 || segments[0] != "databases" || segments[1] == "" {
		return "", fmt.Errorf("target URL must resolve to a database view, e.g. /databases/<id>")
	}
	return segments[1], nil
}

// RetryConfig controls the rate-limit/backoff retry policy of §4.7/§7.
type RetryConfig struct {
	MaxRetries     int           // default 5
	MaxBackoff     time.Duration // default 60s
	WritesPerSecond float64      // default 3, token-bucket cap on writes
}

// DefaultRetryConfig matches the defaults documented in spec.md §4.7.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 5, MaxBackoff: 60 * time.Second, WritesPerSecond: 3}
}

// HTTPClient implements Client against the hosted service's REST API. The
// write calls (create/update/archive, file-upload slot and finalize) pass
// through a shared token-bucket limiter and an exponential-backoff retry
// loop; the byte PUT to a signed upload URL is a single direct request. This
// satisfies the
// "rate-limit-aware retries" requirement of §2 component E and the backoff
// testable property of §8.1.
type HTTPClient struct {
	baseURL    string
	token      string
	databaseID string
	http       *http.Client
	limiter    *rate.Limiter
	retry      RetryConfig
}

// NewHTTPClient builds a Client for the given database, validating the
// token and URL first (§6, §7 "fail fast").
func NewHTTPClient(rawURL, token string, retry RetryConfig) (*HTTPClient, error) {
	if err := ValidateToken(token); err != nil {
		return nil, err
	}
	databaseID, err := ValidateDatabaseURL(rawURL)
	if err != nil {
		return nil, err
	}

	u, _ := url.Parse(rawURL)
	baseURL := fmt.Sprintf("%s://%s", u.Scheme, u.Host)

	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		databaseID: databaseID,
		http:       &http.Client{Timeout: RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(retry.WritesPerSecond), 1),
		retry:      retry,
	}, nil
}

// rateLimitedError is returned by do() when the server reports 429 with an
// advertised Retry-After, so the backoff loop can honour it exactly instead
// of guessing.
type rateLimitedError struct {
	retryAfter time.Duration
}

func (e *rateLimitedError) Error() string { return "rate limited" }

// retryAfterBackOff wraps a backoff.BackOff so a caller that already slept
// for a server-advised Retry-After can skip the wrapped policy's own
// interval on the next call, avoiding a double wait on the same retry.
type retryAfterBackOff struct {
	backoff.BackOff
	skipNext bool
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	if b.skipNext {
		b.skipNext = false
		return 0
	}
	return b.BackOff.NextBackOff()
}

// transientError marks 5xx/timeout responses as retryable without counting
// as a fatal error.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// do issues an HTTP request with the shared rate limiter and an
// exponential-backoff retry loop bounded by retry.MaxRetries /
// retry.MaxBackoff (§4.7, §8.1 property 6).
func (c *HTTPClient) do(ctx context.Context, method, path string, body any, write bool) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	var resp *http.Response
	attempt := 0

	op := func() error {
		attempt++
		if write {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")

		r, err := c.http.Do(req)
		if err != nil {
			return &transientError{err}
		}

		switch {
		case r.StatusCode == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(r.Header.Get("Retry-After"))
			r.Body.Close()
			return &rateLimitedError{retryAfter: retryAfter}
		case r.StatusCode >= 500:
			r.Body.Close()
			return &transientError{fmt.Errorf("server error %d", r.StatusCode)}
		case r.StatusCode == http.StatusUnauthorized || r.StatusCode == http.StatusForbidden:
			r.Body.Close()
			return backoff.Permanent(fmt.Errorf("permission denied (%d)", r.StatusCode))
		case r.StatusCode >= 400:
			b, _ := io.ReadAll(r.Body)
			r.Body.Close()
			return backoff.Permanent(fmt.Errorf("request failed (%d): %s", r.StatusCode, string(b)))
		}

		resp = r
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // bounded by MaxRetries, not elapsed wall-clock
	policy.MaxInterval = c.retry.MaxBackoff
	rateAware := &retryAfterBackOff{BackOff: policy}
	bounded := backoff.WithMaxRetries(rateAware, uint64(c.retry.MaxRetries))

	// When the server advertises a Retry-After, honour it exactly instead of
	// the exponential policy's own guess, per §4.7 ("sleeps for the
	// server-advised interval (or exponential backoff)"). Once we've done
	// that wait ourselves, tell rateAware to skip its own interval so the
	// retry isn't delayed twice for the same 429.
	wrapped := func() error {
		err := op()
		rl, ok := err.(*rateLimitedError)
		if !ok || rl.retryAfter <= 0 {
			return err
		}
		select {
		case <-time.After(rl.retryAfter):
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		}
		rateAware.skipNext = true
		return err
	}

	err := backoff.Retry(wrapped, bounded)
	if err != nil {
		return nil, fmt.Errorf("after %d attempts: %w", attempt, err)
	}
	return resp, nil
}

func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func decodeJSON[T any](r *http.Response) (T, error) {
	var out T
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
