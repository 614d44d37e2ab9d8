package pipeline

import (
	"context"
	"time"
)

// Fetcher downloads a URL and returns the raw body. Implementations apply
// rate limiting and bounded retries; a returned error is terminal for that
// URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Extractor converts raw markup into a title, body text, and publish time.
// Title and body may be empty when the markup holds no usable content; that
// is a skip, not an error. publishedAt is nil when no date could be found.
type Extractor interface {
	Extract(html []byte) (title, body string, publishedAt *time.Time)
}

// VisitedStore is the durable append-only record of processed URLs plus the
// cumulative cross-run counters. Implementations must be safe for concurrent
// use and must degrade rather than fail: Has reports false and Put is a no-op
// when the backing store is unavailable.
type VisitedStore interface {
	// Has reports whether url has been processed in this or any earlier run.
	Has(ctx context.Context, url string) bool
	// Put records url as processed and, when the URL is new, bumps the
	// cumulative distinct counter for kind. Idempotent; duplicate inserts
	// are not errors.
	Put(ctx context.Context, url string, kind Kind)
	// AddComments bumps the monotonic cumulative comment counter.
	AddComments(ctx context.Context, n int)
	// Cumulative returns the cross-run totals.
	Cumulative(ctx context.Context) CumulativeCounters
}

// Analyst is the language-model boundary. Implementations must return a
// neutral default instead of an error when the upstream service is
// unreachable or responds with malformed JSON; the pipeline never aborts on
// analyst failure.
type Analyst interface {
	TopTopics(ctx context.Context, keywords []string, sampleTitles []string) []Topic
	ScoreCity(ctx context.Context, city string, snippets []string) CityScore
}
