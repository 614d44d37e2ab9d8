// Package scan orchestrates one full acquisition-and-analysis run: discover
// and fetch news per site, pull discussion posts and comments per city, tag,
// score, select a balanced per-city sample, and hand it to the analyst.
package scan

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ourcityhealth/citypulse/internal/clock"
	"github.com/ourcityhealth/citypulse/internal/config"
	"github.com/ourcityhealth/citypulse/internal/discover"
	"github.com/ourcityhealth/citypulse/internal/geo"
	"github.com/ourcityhealth/citypulse/internal/metrics"
	"github.com/ourcityhealth/citypulse/internal/pipeline"
	"github.com/ourcityhealth/citypulse/internal/reddit"
	"github.com/ourcityhealth/citypulse/internal/report"
	"github.com/ourcityhealth/citypulse/internal/scoring"
	"github.com/ourcityhealth/citypulse/internal/tagger"
)

// Scanner wires the pipeline stages together for a run.
type Scanner struct {
	cfg        *config.Config
	fetcher    pipeline.Fetcher
	discoverer *discover.Discoverer
	extractor  pipeline.Extractor
	reddit     *reddit.Client
	tagger     *tagger.Tagger
	scorer     *scoring.Scorer
	store      pipeline.VisitedStore
	analyst    pipeline.Analyst
	geo        *geo.Client
	clock      clock.Clock
	logger     *zap.Logger

	// sleep is the inter-batch politeness delay, injectable for tests
	sleep func(ctx context.Context, d time.Duration)
}

// Deps carries the collaborators a Scanner needs.
type Deps struct {
	Fetcher    pipeline.Fetcher
	Discoverer *discover.Discoverer
	Extractor  pipeline.Extractor
	Reddit     *reddit.Client
	Tagger     *tagger.Tagger
	Scorer     *scoring.Scorer
	Store      pipeline.VisitedStore
	Analyst    pipeline.Analyst
	// Geo is optional; without it no boundary file is produced.
	Geo    *geo.Client
	Clock  clock.Clock
	Logger *zap.Logger
}

func New(cfg *config.Config, d Deps) *Scanner {
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Scanner{
		cfg:        cfg,
		fetcher:    d.Fetcher,
		discoverer: d.Discoverer,
		extractor:  d.Extractor,
		reddit:     d.Reddit,
		tagger:     d.Tagger,
		scorer:     d.Scorer,
		store:      d.Store,
		analyst:    d.Analyst,
		geo:        d.Geo,
		clock:      d.Clock,
		logger:     d.Logger,
		sleep:      sleepCtx,
	}
}

// event is one worker outcome, merged by the single aggregator so workers
// never share mutable collections.
type event struct {
	item    *pipeline.Item
	failure bool
	skipped bool
	empty   bool
}

// runState is the aggregated result of the collection phase. Only the
// aggregator goroutine writes it.
type runState struct {
	items    []pipeline.Item
	counters pipeline.Counters
}

// Run executes one complete scan and returns the rendered report. Collection
// failures degrade to counters; only context cancellation aborts the run.
func (s *Scanner) Run(ctx context.Context) (*report.Report, error) {
	metrics.Init()
	start := s.clock.Now()
	s.logger.Info("scan starting",
		zap.Int("sites", len(s.cfg.Scan.Sites)),
		zap.Int("cities", len(s.cfg.Cities)),
	)

	state := &runState{}
	events := make(chan event, 256)

	var agg sync.WaitGroup
	agg.Add(1)
	go func() {
		defer agg.Done()
		for ev := range events {
			s.merge(state, ev)
		}
	}()

	s.collectNews(ctx, events)
	s.collectDiscussions(ctx, events)
	close(events)
	agg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.logger.Info("collection finished",
		zap.Int("items", len(state.items)),
		zap.Int("articles", state.counters.Articles),
		zap.Int("posts", state.counters.DiscussionPosts),
		zap.Int("comments", state.counters.Comments),
		zap.Duration("elapsed", s.clock.Now().Sub(start)),
	)

	rep := s.analyze(ctx, state)
	if s.geo != nil && ctx.Err() == nil {
		fc := s.geo.Boundaries(ctx, s.cfg.Cities)
		rep.Boundaries = &fc
		s.logger.Info("city boundaries resolved", zap.Int("features", len(fc.Features)))
	}
	return rep, ctx.Err()
}

func (s *Scanner) merge(state *runState, ev event) {
	switch {
	case ev.failure:
		state.counters.FetchFailures++
	case ev.skipped:
		state.counters.SkippedVisited++
	case ev.empty:
		state.counters.EmptyExtractions++
	case ev.item != nil:
		state.items = append(state.items, *ev.item)
		metrics.ObserveItem(string(ev.item.Kind))
		switch ev.item.Kind {
		case pipeline.KindArticle:
			state.counters.Articles++
		case pipeline.KindDiscussionPost:
			state.counters.DiscussionPosts++
		case pipeline.KindDiscussionComment:
			state.counters.Comments++
		}
	}
}

// batchDelay sleeps the configured inter-batch delay plus up to 50% jitter.
// Politeness only, not correctness.
func (s *Scanner) batchDelay(ctx context.Context) {
	base := s.cfg.Scan.InterBatchDelay
	if base <= 0 {
		return
	}
	d := base
	if n, err := rand.Int(rand.Reader, big.NewInt(int64(base/2)+1)); err == nil {
		d += time.Duration(n.Int64())
	}
	s.sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
