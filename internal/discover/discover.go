// Package discover finds candidate article URLs for a news site.
//
// Discovery probes three tiers in order: RSS/Atom feeds at well-known paths,
// then the sitemap, then anchor heuristics on the homepage. Every tier
// contributes to one deduped candidate list; a site with no usable tier
// yields an empty slice, never an error.
package discover

import (
	"bytes"
	"context"
	"encoding/xml"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/ourcityhealth/citypulse/internal/pipeline"
)

// Well-known feed locations probed in order.
var feedPaths = []string{"/rss", "/feed", "/rss.xml", "/feeds/all.rss", "/feeds/rss.xml"}

// Sitemap entries are kept only when the location looks editorial.
var sitemapSections = []string{"/news/", "/article", "/stories", "/world/", "/business/"}

// Path segments that mark a link as navigation or chrome rather than an
// article.
var deniedSegments = map[string]struct{}{
	"login": {}, "signin": {}, "signup": {}, "subscribe": {}, "subscription": {},
	"account": {}, "video": {}, "videos": {}, "podcast": {}, "podcasts": {},
	"sports": {}, "tag": {}, "tags": {}, "topic": {}, "author": {},
	"newsletter": {}, "about": {}, "contact": {}, "privacy": {}, "terms": {},
	"advertise": {},
}

// Discoverer resolves a site's base URL into candidate article URLs.
type Discoverer struct {
	fetcher pipeline.Fetcher
	parser  *gofeed.Parser
	logger  *zap.Logger
}

func New(fetcher pipeline.Fetcher, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		fetcher: fetcher,
		parser:  gofeed.NewParser(),
		logger:  logger,
	}
}

// ArticleURLs returns candidate article URLs for baseURL, deduped and in
// discovery order. All three tiers contribute, up to twice the per-site
// target so that downstream fetch failures and visited skips still leave
// enough candidates to fill the quota.
func (d *Discoverer) ArticleURLs(ctx context.Context, baseURL string, limit int) []string {
	if limit <= 0 {
		return nil
	}
	baseURL = strings.TrimRight(baseURL, "/")

	acc := newCandidateSet(limit * 2)
	d.fromFeeds(ctx, baseURL, acc)
	if !acc.full() {
		d.fromSitemap(ctx, baseURL, acc)
	}
	if !acc.full() {
		d.fromHomepage(ctx, baseURL, acc)
	}
	d.logger.Debug("discovery finished",
		zap.String("site", baseURL),
		zap.Int("candidates", len(acc.urls)),
	)
	return acc.urls
}

// candidateSet accumulates URLs across tiers, deduping by exact string while
// preserving first-seen order.
type candidateSet struct {
	budget int
	seen   map[string]struct{}
	urls   []string
}

func newCandidateSet(budget int) *candidateSet {
	return &candidateSet{budget: budget, seen: make(map[string]struct{}, budget)}
}

func (c *candidateSet) add(u string) {
	if c.full() {
		return
	}
	if _, ok := c.seen[u]; ok {
		return
	}
	c.seen[u] = struct{}{}
	c.urls = append(c.urls, u)
}

func (c *candidateSet) full() bool {
	return len(c.urls) >= c.budget
}

func (d *Discoverer) fromFeeds(ctx context.Context, baseURL string, acc *candidateSet) {
	for _, p := range feedPaths {
		if acc.full() {
			return
		}
		body, err := d.fetcher.Fetch(ctx, baseURL+p)
		if err != nil {
			continue
		}
		feed, err := d.parser.ParseString(string(body))
		if err != nil || feed == nil {
			continue
		}
		for _, item := range feed.Items {
			link := strings.TrimSpace(item.Link)
			if link == "" {
				continue
			}
			acc.add(link)
		}
	}
}

type sitemapURLSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

func (d *Discoverer) fromSitemap(ctx context.Context, baseURL string, acc *candidateSet) {
	body, err := d.fetcher.Fetch(ctx, baseURL+"/sitemap.xml")
	if err != nil {
		return
	}
	var set sitemapURLSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return
	}
	for _, u := range set.URLs {
		loc := strings.TrimSpace(u.Loc)
		if loc == "" || !editorialLocation(loc) {
			continue
		}
		acc.add(loc)
		if acc.full() {
			return
		}
	}
}

func editorialLocation(loc string) bool {
	lower := strings.ToLower(loc)
	for _, section := range sitemapSections {
		if strings.Contains(lower, section) {
			return true
		}
	}
	return false
}

func (d *Discoverer) fromHomepage(ctx context.Context, baseURL string, acc *candidateSet) {
	body, err := d.fetcher.Fetch(ctx, baseURL)
	if err != nil {
		return
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return
	}

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		u, err := base.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		if u.Hostname() != base.Hostname() {
			return true
		}
		if !articlePath(u.Path) {
			return true
		}
		u.Fragment = ""
		acc.add(u.String())
		return !acc.full()
	})
}

// articlePath reports whether a URL path looks like an article permalink:
// at least two segments, no navigation segments, and a slug-like tail.
func articlePath(path string) bool {
	var segments []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	if len(segments) < 2 {
		return false
	}
	for _, seg := range segments {
		if _, denied := deniedSegments[strings.ToLower(seg)]; denied {
			return false
		}
	}
	return slugLike(segments[len(segments)-1])
}

func slugLike(segment string) bool {
	if strings.Contains(segment, "-") {
		return true
	}
	letters := 0
	for _, r := range segment {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters >= 4
}
