// Package fetch implements the rate-limited, retrying HTTP fetcher.
//
// A fetch is a single GET executed through a colly collector over a pooled
// transport. Transient failures (timeouts, connection resets, 429, 5xx) are
// retried with status-dependent backoff; everything else fails permanently.
package fetch

import (
	"context"
	"crypto/rand"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/ourcityhealth/citypulse/internal/metrics"
)

// Default tuning; all overridable via Config.
const (
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 3
	defaultBase       = 500 * time.Millisecond
	defaultCap        = 8 * time.Second
	defaultJitterMax  = 500 * time.Millisecond
)

// Config controls fetcher behavior.
type Config struct {
	UserAgent      string
	Referer        string
	Timeout        time.Duration
	MaxRetries     int           // total attempts per URL
	BackoffBase    time.Duration // linear base for transport errors, doubling base for 429
	BackoffCap     time.Duration // ceiling for 429 exponential backoff
	JitterMax      time.Duration // uniform random jitter added after a 429
	PerDomainRPS   float64
	PerDomainBurst int
}

// Fetcher issues polite GET requests with bounded retries.
type Fetcher struct {
	cfg     Config
	base    *colly.Collector
	limiter *domainLimiter
	logger  *zap.Logger

	// test seams
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// New builds a Fetcher. The underlying collector is cloned per attempt so
// concurrent fetches never share callback state.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaultCap
	}
	if cfg.JitterMax <= 0 {
		cfg.JitterMax = defaultJitterMax
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:     cfg,
		base:    c,
		limiter: newDomainLimiter(cfg.PerDomainRPS, cfg.PerDomainBurst),
		logger:  logger,
		sleep:   sleepCtx,
		jitter:  randomJitter,
	}
}

// Fetch downloads url, retrying transient failures up to the configured
// attempt budget. On success the raw body is returned; otherwise a typed
// *Error describes the terminal failure.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var last attemptResult
	for attempt := 0; attempt < f.cfg.MaxRetries; attempt++ {
		if err := f.limiter.wait(ctx, url); err != nil {
			return nil, &Error{Kind: KindTransient, URL: url, Err: err}
		}

		last = f.attempt(ctx, url)
		metrics.ObserveFetch(url, last.status)

		switch {
		case last.status == http.StatusOK && last.err == nil:
			return last.body, nil
		case last.status == http.StatusTooManyRequests:
			// retryable, exponential backoff below
		case last.status >= 500 && last.status < 600:
			// retryable, short fixed backoff below
		case last.status == 0:
			// transport-level failure or timeout, retryable
		default:
			return nil, &Error{Kind: KindPermanent, URL: url, Status: last.status, Err: last.err}
		}

		if ctx.Err() != nil {
			return nil, &Error{Kind: KindTransient, URL: url, Err: ctx.Err()}
		}
		if attempt < f.cfg.MaxRetries-1 {
			metrics.ObserveRetry(url)
			d := f.backoff(last.status, attempt)
			f.logger.Debug("fetch retry",
				zap.String("url", url),
				zap.Int("status", last.status),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", d),
			)
			if err := f.sleep(ctx, d); err != nil {
				return nil, &Error{Kind: KindTransient, URL: url, Err: err}
			}
		}
	}
	return nil, &Error{Kind: KindExhausted, URL: url, Status: last.status, Err: last.err}
}

type attemptResult struct {
	status int
	body   []byte
	err    error
}

func (f *Fetcher) attempt(ctx context.Context, url string) attemptResult {
	var res attemptResult

	c := f.base.Clone()
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	c.SetRequestTimeout(f.cfg.Timeout)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Connection", "keep-alive")
		r.Headers.Set("Accept-Encoding", "gzip, deflate, br")
		if f.cfg.Referer != "" {
			r.Headers.Set("Referer", f.cfg.Referer)
		}
	})
	c.OnResponse(func(r *colly.Response) {
		res.status = r.StatusCode
		res.body = append([]byte(nil), r.Body...)
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			res.status = r.StatusCode
			res.body = append([]byte(nil), r.Body...)
		}
		res.err = err
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(url)
	}()

	select {
	case <-ctx.Done():
		res.err = ctx.Err()
		return res
	case err := <-done:
		if err != nil && res.err == nil {
			res.err = err
		}
		return res
	}
}

// backoff returns the delay before the next attempt, given the status of the
// failed attempt (0-based). Delays for a run of 429s are non-decreasing up to
// BackoffCap.
func (f *Fetcher) backoff(status, attempt int) time.Duration {
	switch {
	case status == http.StatusTooManyRequests:
		d := f.cfg.BackoffBase << attempt
		if d > f.cfg.BackoffCap {
			d = f.cfg.BackoffCap
		}
		return d + f.jitter(f.cfg.JitterMax)
	case status >= 500:
		return 400*time.Millisecond + time.Duration(attempt)*200*time.Millisecond
	default:
		return f.cfg.BackoffBase * time.Duration(attempt+1)
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return max / 2
	}
	return time.Duration(n.Int64())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
