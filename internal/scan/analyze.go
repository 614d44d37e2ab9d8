package scan

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ourcityhealth/citypulse/internal/metrics"
	"github.com/ourcityhealth/citypulse/internal/pipeline"
	"github.com/ourcityhealth/citypulse/internal/report"
	"github.com/ourcityhealth/citypulse/internal/scoring"
)

const (
	maxSampleTitles  = 40
	snippetBodyRunes = 500
)

// analyze turns the collected pool into the final report: global topics, then
// a balanced per-city selection scored by the analyst.
func (s *Scanner) analyze(ctx context.Context, state *runState) *report.Report {
	rep := report.New(s.clock.Now())
	rep.RunCounters = state.counters
	rep.Topics = s.analyst.TopTopics(ctx, keywordLines(state.items), sampleTitles(state.items))

	for _, city := range s.cfg.Cities {
		pool := cityPool(state.items, city.ID)
		candidates := make([]scoring.Candidate, 0, len(pool))
		for _, item := range pool {
			candidates = append(candidates, scoring.NewCandidate(s.scorer, item))
		}
		selected := scoring.SelectBalanced(candidates, s.cfg.Scan.DocsPerCity)
		metrics.ObserveSelected(city.ID, len(selected))
		s.logger.Info("city sample selected",
			zap.String("city", city.ID),
			zap.Int("pool", len(pool)),
			zap.Int("selected", len(selected)),
		)

		cr := report.CityReport{
			City:        city.Name,
			Citations:   []string{},
			Articles:    []string{},
			RedditPosts: []string{},
		}
		snippets := make([]string, 0, len(selected))
		seenCitation := make(map[string]struct{})
		for _, c := range selected {
			snippets = append(snippets, snippet(c.Item))
			if _, dup := seenCitation[c.Item.URL]; dup {
				continue
			}
			seenCitation[c.Item.URL] = struct{}{}
			cr.Citations = append(cr.Citations, c.Item.URL)
			switch c.Item.Kind {
			case pipeline.KindArticle:
				cr.Articles = append(cr.Articles, c.Item.URL)
			case pipeline.KindDiscussionPost:
				cr.RedditPosts = append(cr.RedditPosts, c.Item.URL)
			}
		}

		score := s.analyst.ScoreCity(ctx, city.Name, snippets)
		cr.HealthScore = score.OverallHealth
		cr.Dimensions = score.CategoryScores
		cr.TopIssues = score.TopIssues
		rep.Cities = append(rep.Cities, cr)
	}

	rep.Cumulative = s.store.Cumulative(ctx)
	return rep
}

func cityPool(items []pipeline.Item, cityID string) []pipeline.Item {
	var pool []pipeline.Item
	for _, item := range items {
		for _, id := range item.Cities {
			if id == cityID {
				pool = append(pool, item)
				break
			}
		}
	}
	return pool
}

// keywordLines renders taxonomy term frequencies as "term :: count" lines,
// most frequent first, ties alphabetical.
func keywordLines(items []pipeline.Item) []string {
	texts := make([]string, 0, len(items))
	for _, item := range items {
		texts = append(texts, item.Title+" "+item.Body)
	}
	counts := scoring.CountTaxonomyTerms(texts)

	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})

	lines := make([]string, 0, len(terms))
	for _, term := range terms {
		lines = append(lines, fmt.Sprintf("%s :: %d", term, counts[term]))
	}
	return lines
}

func sampleTitles(items []pipeline.Item) []string {
	var titles []string
	seen := make(map[string]struct{})
	for _, item := range items {
		if item.Kind == pipeline.KindDiscussionComment || item.Title == "" {
			continue
		}
		if _, dup := seen[item.Title]; dup {
			continue
		}
		seen[item.Title] = struct{}{}
		titles = append(titles, item.Title)
		if len(titles) >= maxSampleTitles {
			break
		}
	}
	return titles
}

// snippet is the analyst-facing rendition of one item: kind, title, and a
// bounded body prefix.
func snippet(item pipeline.Item) string {
	body := item.Body
	if runes := []rune(body); len(runes) > snippetBodyRunes {
		body = string(runes[:snippetBodyRunes])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", item.Kind, item.Title)
	if body != "" && body != item.Title {
		b.WriteString("\n")
		b.WriteString(body)
	}
	return b.String()
}
