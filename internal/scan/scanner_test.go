package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ourcityhealth/citypulse/internal/clock"
	"github.com/ourcityhealth/citypulse/internal/config"
	"github.com/ourcityhealth/citypulse/internal/discover"
	"github.com/ourcityhealth/citypulse/internal/extract"
	"github.com/ourcityhealth/citypulse/internal/geo"
	"github.com/ourcityhealth/citypulse/internal/pipeline"
	"github.com/ourcityhealth/citypulse/internal/reddit"
	"github.com/ourcityhealth/citypulse/internal/scoring"
	"github.com/ourcityhealth/citypulse/internal/store/memory"
	"github.com/ourcityhealth/citypulse/internal/tagger"
)

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls map[string]int
}

func newFakeFetcher(pages map[string]string) *fakeFetcher {
	return &fakeFetcher{pages: pages, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	body, ok := f.pages[url]
	if !ok {
		return nil, errors.New("unreachable")
	}
	return []byte(body), nil
}

type fakeAnalyst struct {
	mu           sync.Mutex
	scoredCities []string
	snippets     map[string][]string
}

func (a *fakeAnalyst) TopTopics(_ context.Context, _, _ []string) []pipeline.Topic {
	return []pipeline.Topic{{Name: "Housing pressure"}}
}

func (a *fakeAnalyst) ScoreCity(_ context.Context, city string, snippets []string) pipeline.CityScore {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.snippets == nil {
		a.snippets = make(map[string][]string)
	}
	a.scoredCities = append(a.scoredCities, city)
	a.snippets[city] = snippets
	return pipeline.CityScore{
		OverallHealth:  70,
		CategoryScores: map[string]pipeline.DimensionScore{"housing": {Score: 60, Rationale: "rents"}},
	}
}

const articleHTML = `<html><head>
<meta property="og:title" content="Springfield council debates housing budget">
<meta property="article:published_time" content="2026-08-20T09:00:00Z">
</head><body><article>
<p>The Springfield city council debated the housing budget for three hours.</p>
<p>Rent and eviction figures dominated public comment at the meeting.</p>
</article></body></html>`

func testPages() map[string]string {
	return map[string]string{
		"https://gazette.test/rss": `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Gazette</title>
<item><link>https://gazette.test/news/housing-budget</link></item>
<item><link>https://gazette.test/news/empty-page</link></item>
</channel></rss>`,
		"https://gazette.test/news/housing-budget": articleHTML,
		"https://gazette.test/news/empty-page":     `<html><body></body></html>`,

		"https://api.reddit.com/r/springfield/.json?limit=50&raw_json=1": `{"kind":"Listing","data":{"children":[
			{"kind":"t3","data":{"title":"Potholes on Elm are out of control","permalink":"/r/springfield/comments/0/x/","created_utc":1755600000}}
		],"after":""}}`,
		"https://www.reddit.com/r/springfield/comments/0/x.json?raw_json=1": `[
			{"kind":"Listing","data":{"children":[]}},
			{"kind":"Listing","data":{"children":[
				{"kind":"t1","data":{"body":"hit one yesterday, blew a tire"}},
				{"kind":"t1","data":{"body":"council said repaving starts in fall"}}
			]}}
		]`,
	}
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.OutputDir = "out"
	cfg.Fetch.MaxRetries = 1
	cfg.Fetch.Timeout = time.Second
	cfg.Scan.Sites = []string{"https://gazette.test"}
	cfg.Scan.ArticlesPerSite = 10
	cfg.Scan.SiteWorkers = 2
	cfg.Scan.FetchWorkers = 2
	cfg.Scan.CommentWorkers = 2
	cfg.Scan.RedditPostsPerCity = 5
	cfg.Scan.CommentsPerPost = 10
	cfg.Scan.DocsPerCity = 10
	cfg.Scan.InterBatchDelay = 0
	cfg.Cities = []pipeline.City{{
		ID:        "springfield-il",
		Name:      "Springfield",
		Synonyms:  []string{"springfield"},
		Subreddit: "springfield",
	}}
	return cfg
}

func newTestScanner(cfg *config.Config, fetcher *fakeFetcher, store pipeline.VisitedStore, a *fakeAnalyst) *Scanner {
	fixed := clock.Fixed{T: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	return New(cfg, Deps{
		Fetcher:    fetcher,
		Discoverer: discover.New(fetcher, nil),
		Extractor:  extract.New(),
		Reddit:     reddit.New(fetcher, nil),
		Tagger:     tagger.New(cfg.Cities, nil, nil),
		Scorer:     scoring.NewScorer(fixed),
		Store:      store,
		Analyst:    a,
		Clock:      fixed,
	})
}

func TestRunCollectsTagsSelectsAndScores(t *testing.T) {
	cfg := testConfig()
	fetcher := newFakeFetcher(testPages())
	analyst := &fakeAnalyst{}
	s := newTestScanner(cfg, fetcher, memory.New(), analyst)

	rep, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, rep.RunCounters.Articles)
	require.Equal(t, 1, rep.RunCounters.DiscussionPosts)
	require.Equal(t, 2, rep.RunCounters.Comments)
	require.Equal(t, 1, rep.RunCounters.EmptyExtractions)
	require.Zero(t, rep.RunCounters.SkippedVisited)

	require.Equal(t, []string{"Springfield"}, analyst.scoredCities)
	require.Len(t, analyst.snippets["Springfield"], 4, "article, post, and both comments selected")

	require.Len(t, rep.Cities, 1)
	city := rep.Cities[0]
	require.Equal(t, 70, city.HealthScore)
	require.Contains(t, city.Articles, "https://gazette.test/news/housing-budget")
	require.Contains(t, city.RedditPosts, "https://www.reddit.com/r/springfield/comments/0/x/")
	require.Len(t, city.Citations, 2, "comments cite their parent post, not a third URL")

	require.Equal(t, []pipeline.Topic{{Name: "Housing pressure"}}, rep.Topics)
	require.EqualValues(t, 1, rep.Cumulative.ArticlesDistinct)
	require.EqualValues(t, 1, rep.Cumulative.PostsDistinct)
	require.EqualValues(t, 2, rep.Cumulative.CommentsTotal)
}

func TestRunSkipsVisitedOnSecondPass(t *testing.T) {
	cfg := testConfig()
	store := memory.New()
	analyst := &fakeAnalyst{}

	s := newTestScanner(cfg, newFakeFetcher(testPages()), store, analyst)
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	fetcher := newFakeFetcher(testPages())
	s = newTestScanner(cfg, fetcher, store, analyst)
	rep, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Zero(t, rep.RunCounters.Articles)
	require.Zero(t, rep.RunCounters.DiscussionPosts)
	require.Equal(t, 2, rep.RunCounters.SkippedVisited, "article and post both gated")
	require.Zero(t, fetcher.calls["https://gazette.test/news/housing-budget"], "visited URL never refetched")

	require.EqualValues(t, 1, rep.Cumulative.ArticlesDistinct, "distinct counters stay monotonic, not double counted")
}

func TestRunStopsAtPerSiteArticleTarget(t *testing.T) {
	cfg := testConfig()
	cfg.Scan.ArticlesPerSite = 1
	cfg.Scan.FetchWorkers = 1
	pages := testPages()
	pages["https://gazette.test/rss"] = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Gazette</title>
<item><link>https://gazette.test/news/housing-budget</link></item>
<item><link>https://gazette.test/news/second-story</link></item>
</channel></rss>`
	pages["https://gazette.test/news/second-story"] = articleHTML
	fetcher := newFakeFetcher(pages)
	s := newTestScanner(cfg, fetcher, memory.New(), &fakeAnalyst{})

	rep, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.RunCounters.Articles)
	require.Zero(t, fetcher.calls["https://gazette.test/news/second-story"],
		"surplus candidates left unfetched once the target is met")
}

func TestRunFetchFailuresDegradeToCounters(t *testing.T) {
	cfg := testConfig()
	pages := testPages()
	delete(pages, "https://gazette.test/news/housing-budget")
	analyst := &fakeAnalyst{}
	s := newTestScanner(cfg, newFakeFetcher(pages), memory.New(), analyst)

	rep, err := s.Run(context.Background())
	require.NoError(t, err, "a failed article never aborts the run")
	require.Equal(t, 1, rep.RunCounters.FetchFailures)
	require.Equal(t, 1, rep.RunCounters.DiscussionPosts, "sibling sources still collected")
}

func TestRunAttachesCityBoundaries(t *testing.T) {
	cfg := testConfig()
	pages := testPages()
	pages["https://nominatim.openstreetmap.org/search?format=json&polygon_geojson=1&q=Springfield"] =
		`[{"display_name":"Springfield, Illinois","geojson":{"type":"Polygon","coordinates":[]}}]`
	fetcher := newFakeFetcher(pages)
	s := newTestScanner(cfg, fetcher, memory.New(), &fakeAnalyst{})
	s.geo = geo.New(fetcher, nil)

	rep, err := s.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rep.Boundaries)
	require.Len(t, rep.Boundaries.Features, 1)
	require.Equal(t, "Springfield", rep.Boundaries.Features[0].Properties["name"])
}

func TestRunHonorsCancellation(t *testing.T) {
	cfg := testConfig()
	s := newTestScanner(cfg, newFakeFetcher(testPages()), memory.New(), &fakeAnalyst{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
