package scan

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ourcityhealth/citypulse/internal/metrics"
	"github.com/ourcityhealth/citypulse/internal/pipeline"
)

// collectNews runs the cross-site pool: each site gets one slot, and inside a
// site a bounded worker pool fetches and extracts articles. All outcomes fan
// into the events channel.
func (s *Scanner) collectNews(ctx context.Context, events chan<- event) {
	if len(s.cfg.Scan.Sites) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Scan.SiteWorkers)
	for i, site := range s.cfg.Scan.Sites {
		if i > 0 {
			s.batchDelay(gctx)
		}
		g.Go(func() error {
			s.scanSite(gctx, site, events)
			return nil
		})
	}
	// workers never return errors; the group exists for its limit and
	// context plumbing
	_ = g.Wait()
}

func (s *Scanner) scanSite(ctx context.Context, site string, events chan<- event) {
	target := s.cfg.Scan.ArticlesPerSite
	urls := s.discoverer.ArticleURLs(ctx, site, target)
	s.logger.Info("site discovered",
		zap.String("site", site),
		zap.Int("candidates", len(urls)),
	)

	// discovery hands back up to twice the target; stop dispatching once
	// enough articles actually extracted. May overshoot by the workers
	// already in flight.
	var collected atomic.Int64
	sem := make(chan struct{}, s.cfg.Scan.FetchWorkers)
	var wg sync.WaitGroup
	for _, u := range urls {
		if ctx.Err() != nil {
			break
		}
		if s.store.Has(ctx, u) {
			events <- event{skipped: true}
			continue
		}

		sem <- struct{}{}
		if collected.Load() >= int64(target) {
			<-sem
			break
		}
		wg.Add(1)
		go func(articleURL string) {
			defer wg.Done()
			defer func() { <-sem }()
			if s.fetchArticle(ctx, articleURL, events) {
				collected.Add(1)
			}
		}(u)
	}
	wg.Wait()
}

// fetchArticle reports whether the URL produced a usable article, so the
// caller can count successes against the per-site target.
func (s *Scanner) fetchArticle(ctx context.Context, articleURL string, events chan<- event) bool {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	body, err := s.fetcher.Fetch(ctx, articleURL)
	if err != nil {
		s.logger.Debug("article fetch failed", zap.String("url", articleURL), zap.Error(err))
		events <- event{failure: true}
		return false
	}

	title, text, published := s.extractor.Extract(body)
	if title == "" && text == "" {
		events <- event{empty: true}
		return false
	}

	// marked visited only after a complete successful extraction, so an
	// aborted run retries the URL next time
	s.store.Put(ctx, articleURL, pipeline.KindArticle)

	item := pipeline.Item{
		Kind:        pipeline.KindArticle,
		SourceLabel: hostLabel(articleURL),
		URL:         articleURL,
		Title:       title,
		Body:        text,
		PublishedAt: published,
	}
	item.Cities = s.tagger.Tag(ctx, &item)
	events <- event{item: &item}
	return true
}

func hostLabel(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		return strings.ToLower(u.Hostname())
	}
	return rawURL
}
