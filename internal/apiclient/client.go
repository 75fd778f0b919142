package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hoops-edge/cbbd-lakehouse/internal/adapter"
	"github.com/hoops-edge/cbbd-lakehouse/internal/config"
	"github.com/hoops-edge/cbbd-lakehouse/internal/domain"
	"github.com/hoops-edge/cbbd-lakehouse/internal/logger"
)

// Client defines the interface for fetching one endpoint call from the
// upstream stats API
type Client interface {
	// Get performs a single logical fetch for the given endpoint and
	// resolved parameters, retrying transient failures. The returned value
	// is the decoded JSON body (array or object).
	Get(ctx context.Context, spec domain.EndpointSpec, params domain.Params) (any, error)
}

// StatusError is returned when the API answers with a non-2xx status
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Reason returns the dead-letter reason token for this status
func (e *StatusError) Reason() string {
	return fmt.Sprintf("status:%d", e.Code)
}

// retryableStatus reports whether a status code is worth retrying
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// HTTPClient implements Client with a process-wide token bucket, a bounded
// in-flight request cap and exponential-backoff retries
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	inflight   *semaphore.Weighted
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	clock      adapter.Clock
}

// New creates a new HTTP API client. The token bucket is sized so that
// burst equals the steady-state rate; the semaphore caps concurrent
// requests independently of pacing.
func New(cfg config.APIConfig, clock adapter.Clock) *HTTPClient {
	burst := int(cfg.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		inflight:   semaphore.NewWeighted(cfg.MaxConcurrency),
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.RetryBaseDelay,
		maxDelay:   cfg.RetryMaxDelay,
		clock:      clock,
	}
}

// Get implements Client
func (c *HTTPClient) Get(ctx context.Context, spec domain.EndpointSpec, params domain.Params) (any, error) {
	path, query := spec.ResolvePath(params)

	var result any
	var serverDelay time.Duration

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.baseDelay
	exp.MaxInterval = c.maxDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&serverDirectedBackOff{next: exp, hint: &serverDelay}, uint64(c.maxRetries)),
		ctx,
	)

	attempt := 0
	operation := func() error {
		attempt++
		res, err := c.doOnce(ctx, path, query, &serverDelay)
		if err != nil {
			return err
		}
		result = res
		return nil
	}

	notify := func(err error, delay time.Duration) {
		logger.WarnCtx(ctx, "retrying request",
			zap.String("endpoint", spec.Name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", spec.Name, err)
	}
	return result, nil
}

// doOnce performs exactly one HTTP round trip. Pacing happens before the
// in-flight slot is taken so a limiter sleep never occupies a slot.
func (c *HTTPClient) doOnce(ctx context.Context, path string, query domain.Params, serverDelay *time.Duration) (any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, backoff.Permanent(err)
	}
	if err := c.inflight.Acquire(ctx, 1); err != nil {
		return nil, backoff.Permanent(err)
	}
	defer c.inflight.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	q := url.Values{}
	for k, v := range query {
		q.Set(k, fmt.Sprint(v))
	}
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network-level failures (timeouts, resets) are transient
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{Code: resp.StatusCode, Body: string(body)}
		if !retryableStatus(resp.StatusCode) {
			return nil, backoff.Permanent(statusErr)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			*serverDelay = parseRetryAfter(resp.Header.Get("Retry-After"), c.clock)
		}
		return nil, statusErr
	}

	var decoded any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	return decoded, nil
}

// parseRetryAfter interprets a Retry-After header as either delay seconds or
// an HTTP date; zero means no usable hint
func parseRetryAfter(header string, clock adapter.Clock) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := clock.Parse(http.TimeFormat, header); err == nil {
		if d := at.Sub(clock.Now()); d > 0 {
			return d
		}
	}
	return 0
}

// serverDirectedBackOff stretches the computed delay to at least the
// server's Retry-After hint, consuming the hint once
type serverDirectedBackOff struct {
	next backoff.BackOff
	hint *time.Duration
}

func (b *serverDirectedBackOff) NextBackOff() time.Duration {
	d := b.next.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	if h := *b.hint; h > 0 {
		*b.hint = 0
		if h > d {
			d = h
		}
	}
	return d
}

func (b *serverDirectedBackOff) Reset() {
	b.next.Reset()
}
