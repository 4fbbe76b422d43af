package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/lox/croprisk/internal/httputil"
	"github.com/lox/croprisk/internal/metrics"
	"github.com/lox/croprisk/internal/store"
)

var (
	// ErrMissingCredential is returned without retrying when no API key is configured.
	ErrMissingCredential = errors.New("upstream API key not configured")

	// ErrUpstreamUnavailable wraps the last error once retries are exhausted.
	ErrUpstreamUnavailable = errors.New("upstream observation API unavailable")
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// RetryPolicy bounds how hard a client leans on its upstream.
type RetryPolicy struct {
	MinInterval time.Duration // minimum gap between consecutive requests
	MaxAttempts int
	BaseDelay   time.Duration // first backoff delay, doubled per attempt
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MinInterval: 900 * time.Millisecond,
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx)
}

func (p RetryPolicy) limiter() *rate.Limiter {
	if p.MinInterval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(p.MinInterval), 1)
}

// FetchAuditor records upstream calls. *store.Store satisfies it.
type FetchAuditor interface {
	StartFetchRun(ctx context.Context, provider, entityID string, start, end time.Time) (*store.FetchRun, error)
	CompleteFetchRun(ctx context.Context, run *store.FetchRun) error
}

type Option func(*fetcher)

func WithHTTPClient(c *http.Client) Option {
	return func(f *fetcher) { f.client = c }
}

func WithAuditor(a FetchAuditor) Option {
	return func(f *fetcher) { f.audit = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(f *fetcher) { f.logger = l }
}

// fetcher is the rate-limited, retrying GET shared by the upstream clients.
type fetcher struct {
	provider string
	client   *http.Client
	limiter  *rate.Limiter
	policy   RetryPolicy
	audit    FetchAuditor
	logger   *slog.Logger
}

func newFetcher(provider string, policy RetryPolicy, opts []Option) *fetcher {
	f := &fetcher{
		provider: provider,
		client:   httputil.NewClient(),
		limiter:  policy.limiter(),
		policy:   policy,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("component", "ingest", "provider", provider)
	return f
}

type callResult struct {
	status   int
	attempts int
}

func (f *fetcher) get(ctx context.Context, url string, header http.Header) ([]byte, callResult, error) {
	var (
		body []byte
		res  callResult
	)

	operation := func() error {
		res.attempts++
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		started := time.Now()
		resp, err := f.client.Do(req)
		metrics.UpstreamLatency.WithLabelValues(f.provider).Observe(time.Since(started).Seconds())
		if err != nil {
			metrics.UpstreamCallsTotal.WithLabelValues(f.provider, "error").Inc()
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			f.logger.Debug("upstream request failed", "attempt", res.attempts, "error", err)
			return fmt.Errorf("request: %w", err)
		}
		defer resp.Body.Close()

		res.status = resp.StatusCode
		metrics.UpstreamCallsTotal.WithLabelValues(f.provider, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			f.logger.Debug("upstream returned non-2xx status", "attempt", res.attempts, "status", resp.StatusCode)
			return &StatusError{Code: resp.StatusCode, Body: string(b)}
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	}

	if err := backoff.Retry(operation, f.policy.backOff(ctx)); err != nil {
		if ctx.Err() != nil {
			return nil, res, ctx.Err()
		}
		return nil, res, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	return body, res, nil
}

func (f *fetcher) begin(ctx context.Context, entityID string, start, end time.Time) *store.FetchRun {
	if f.audit == nil {
		return nil
	}
	run, err := f.audit.StartFetchRun(ctx, f.provider, entityID, start, end)
	if err != nil {
		f.logger.Warn("start fetch run", "error", err)
		return nil
	}
	return run
}

func (f *fetcher) finish(ctx context.Context, run *store.FetchRun, res callResult, records int, err error) {
	if run == nil {
		return
	}
	if res.status != 0 {
		run.HTTPStatus = sql.NullInt64{Int64: int64(res.status), Valid: true}
	}
	run.Attempts = sql.NullInt64{Int64: int64(res.attempts), Valid: true}
	if err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	} else {
		run.Success = true
		run.Records = sql.NullInt64{Int64: int64(records), Valid: true}
	}
	// Audit rows are written even when the caller has gone away.
	if err := f.audit.CompleteFetchRun(context.WithoutCancel(ctx), run); err != nil {
		f.logger.Warn("complete fetch run", "error", err)
	}
}
