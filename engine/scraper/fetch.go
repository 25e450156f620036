// Package scraper retrieves posting pages over HTTP with a bounded retry
// policy and renders them as plain text for extraction.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/fn"
)

const maxBodyBytes = 8 << 20

// Page is the usable content of one fetched URL.
type Page struct {
	URL        string
	StatusCode int
	Text       string
}

// Empty reports whether the page carries no usable text.
func (p Page) Empty() bool { return len(p.Text) == 0 }

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Options configures a Fetcher.
type Options struct {
	UserAgent     string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	Retry         fn.RetryPolicy
}

// DefaultOptions paces requests at one per second with the default retry
// budget.
var DefaultOptions = Options{
	UserAgent:     "Mozilla/5.0 (compatible; carifit-crawler/1.0)",
	Timeout:       30 * time.Second,
	RatePerSecond: 1,
	Burst:         2,
	Retry:         fn.DefaultRetry,
}

// Fetcher downloads pages. It is safe for concurrent use; all callers share
// one rate limiter so concurrent categories do not multiply the request rate.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	opts    Options
	log     *zap.Logger
}

// NewFetcher creates a Fetcher. Zero option fields take DefaultOptions values.
func NewFetcher(opts Options, log *zap.Logger) *Fetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultOptions.UserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions.Timeout
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = DefaultOptions.RatePerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultOptions.Burst
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		opts:    opts,
		log:     log,
	}
}

// Fetch retrieves rawURL and returns its text. Transient failures (network
// errors, 429, 5xx) are retried per the retry policy; other statuses fail
// at once. Every failure is returned as a *domain.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	attempts := 0
	r := fn.Retry(ctx, f.opts.Retry, func(ctx context.Context, attempt int) fn.Result[Page] {
		attempts = attempt
		page, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			return fn.Ok(page)
		}
		if ctx.Err() != nil {
			return fn.Err[Page](fn.Permanent(ctx.Err()))
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return fn.Err[Page](fn.Permanent(err))
		}
		if attempt < f.opts.Retry.Attempts() {
			f.log.Info("fetch failed, retrying",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return fn.Err[Page](err)
	})

	page, err := r.Unwrap()
	if err != nil {
		return Page{}, &domain.FetchError{URL: rawURL, Attempts: attempts, Err: err}
	}
	return page, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (Page, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return Page{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, fn.Permanent(err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "id,en;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return Page{}, &StatusError{Code: resp.StatusCode}
	}

	base, _ := url.Parse(rawURL)
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL
	}
	text, err := HTMLToText(io.LimitReader(resp.Body, maxBodyBytes), base)
	if err != nil {
		return Page{}, fmt.Errorf("read body: %w", err)
	}
	return Page{URL: rawURL, StatusCode: resp.StatusCode, Text: text}, nil
}
