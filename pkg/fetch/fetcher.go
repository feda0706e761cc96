package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/text-scraper/pkg/utils"
)

const defaultMaxBodyBytes = 10 * 1024 * 1024

// RetryObserver is notified before every retry sleep
type RetryObserver interface {
	ObserveRetry(url string, attempt int, delay time.Duration, err error)
}

// Fetcher retrieves pages over HTTP and parses them into goquery documents,
// retrying transient failures with a BackoffPolicy
type Fetcher struct {
	client       *http.Client
	maxRetries   int
	backoff      BackoffPolicy
	sleeper      Sleeper
	limiter      *HostLimiter // Optional per-host politeness
	retryObs     RetryObserver
	userAgent    string
	maxBodyBytes int64
	statusRetry  bool // Retry 5xx and 429 responses instead of parsing them
	log          *logrus.Entry
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithBackoff replaces the default backoff policy.
func WithBackoff(p BackoffPolicy) Option {
	return func(f *Fetcher) { f.backoff = p }
}

// WithSleeper replaces the real-time sleeper, e.g. with a recording fake in tests.
func WithSleeper(s Sleeper) Option {
	return func(f *Fetcher) {
		if s != nil {
			f.sleeper = s
		}
	}
}

// WithHostLimiter makes every attempt wait for its host's politeness token.
func WithHostLimiter(l *HostLimiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithRetryObserver registers a callback for retries.
func WithRetryObserver(o RetryObserver) Option {
	return func(f *Fetcher) { f.retryObs = o }
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithStatusRetry makes 5xx and 429 responses transient failures.
// By default every response the server sends is parsed, whatever its status.
func WithStatusRetry(enabled bool) Option {
	return func(f *Fetcher) { f.statusRetry = enabled }
}

// WithMaxBodyBytes bounds how much of a response body is read.
func WithMaxBodyBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBodyBytes = n
		}
	}
}

// NewFetcher creates a Fetcher that makes at most maxRetries+1 attempts per URL
func NewFetcher(client *http.Client, maxRetries int, log *logrus.Entry, opts ...Option) *Fetcher {
	if maxRetries < 0 {
		maxRetries = 0
	}
	f := &Fetcher{
		client:       client,
		maxRetries:   maxRetries,
		backoff:      DefaultBackoffPolicy(),
		sleeper:      TimerSleeper{},
		maxBodyBytes: defaultMaxBodyBytes,
		log:          log,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves rawURL and parses the body as HTML.
//
// Transport errors and body read errors are transient and retried.
// Non-2xx responses are parsed like successes and logged, unless WithStatusRetry
// makes 5xx and 429 transient.
// After the retry budget is spent the error wraps utils.ErrPermanentFetch and the last attempt's error.
// Context cancellation is returned as-is and never retried.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*goquery.Document, error) {
	reqLog := f.log.WithField("url", rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err == nil && ((req.URL.Scheme != "http" && req.URL.Scheme != "https") || req.URL.Host == "") {
		err = fmt.Errorf("unsupported URL '%s'", rawURL)
	}
	if err != nil {
		reqLog.Warnf("Cannot build request: %v", err)
		return nil, fmt.Errorf("%w: %w: %v", utils.ErrPermanentFetch, utils.ErrRequestCreation, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			delay := f.backoff.Delay(attempt - 1)
			reqLog.WithFields(logrus.Fields{
				"attempt":     attempt,
				"max_retries": f.maxRetries,
				"delay":       delay,
				"error":       lastErr,
			}).Warn("Retrying request...")
			if f.retryObs != nil {
				f.retryObs.ObserveRetry(rawURL, attempt, delay, lastErr)
			}
			if err := f.sleeper.Sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("fetch '%s' cancelled during retry backoff: %w", rawURL, err)
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch '%s' cancelled before attempt %d: %w", rawURL, attempt, err)
		}

		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, req.URL.Host); err != nil {
				return nil, fmt.Errorf("fetch '%s' cancelled waiting for host slot: %w", rawURL, err)
			}
		}

		doc, retryable, err := f.attempt(req, reqLog.WithField("attempt", attempt))
		if err == nil {
			return doc, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fetch '%s' cancelled during request: %w", rawURL, ctxErr)
		}
		if !retryable {
			return nil, fmt.Errorf("%w: %w", utils.ErrPermanentFetch, err)
		}
		lastErr = err
	}

	reqLog.WithField("category", utils.CategorizeError(lastErr)).
		Errorf("All %d fetch attempts failed. Last error: %v", f.maxRetries+1, lastErr)
	return nil, fmt.Errorf("%w: %d attempts: %w", utils.ErrPermanentFetch, f.maxRetries+1, lastErr)
}

// attempt performs a single request. retryable reports whether a failure may succeed on retry.
func (f *Fetcher) attempt(req *http.Request, attemptLog *logrus.Entry) (doc *goquery.Document, retryable bool, err error) {
	resp, err := f.client.Do(req)
	if err != nil {
		attemptLog.Warnf("Network error: %v", err)
		return nil, true, fmt.Errorf("%w: %w", utils.ErrTransientFetch, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	statusCode := resp.StatusCode
	resLog := attemptLog.WithFields(logrus.Fields{"status_code": statusCode, "status": resp.Status})

	switch {
	case f.statusRetry && statusCode >= 500:
		resLog.Warn("Server error")
		return nil, true, fmt.Errorf("%w: status %d: %w", utils.ErrTransientFetch, statusCode, utils.ErrServerHTTPError)
	case f.statusRetry && statusCode == http.StatusTooManyRequests:
		resLog.Warn("Received 429 Too Many Requests")
		return nil, true, fmt.Errorf("%w: status %d: %w", utils.ErrTransientFetch, statusCode, utils.ErrClientHTTPError)
	case statusCode < 200 || statusCode >= 300:
		resLog.Warn("Non-2xx status, parsing body anyway")
	default:
		resLog.Debug("Successfully fetched")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		resLog.Warnf("Body read failed: %v", err)
		return nil, true, fmt.Errorf("%w: %w: %v", utils.ErrTransientFetch, utils.ErrResponseBodyRead, err)
	}

	doc, err = goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("%w: HTML: %v", utils.ErrParsing, err)
	}
	return doc, false, nil
}
