// Package scoring computes relevance scores for items and selects a bounded,
// diverse subset per city.
//
// The score is a deliberately simple weighted heuristic, fully deterministic
// for identical inputs. No learned model anywhere.
package scoring

import (
	"net/url"
	"strings"

	"github.com/ourcityhealth/citypulse/internal/clock"
	"github.com/ourcityhealth/citypulse/internal/pipeline"
)

// Score weights. They sum to 1.0.
const (
	weightReputation = 0.30
	weightTopical    = 0.45
	weightLength     = 0.15
	weightRecency    = 0.10
)

// Reputation defaults by kind for hosts absent from the curated table.
const (
	defaultArticleReputation = 0.60
	defaultPostReputation    = 0.58
	defaultCommentReputation = 0.52
)

// Topical relevance saturates at this many keyword hits.
const topicalSaturationHits = 8

// Length score saturates at this many body words.
const lengthSaturationWords = 600

// Baseline reputation for well-known hosts, keyed by normalized domain.
var domainReputation = map[string]float64{
	"nytimes.com": 0.95, "bbc.com": 0.95, "bbc.co.uk": 0.95, "reuters.com": 0.95,
	"apnews.com": 0.92, "theguardian.com": 0.90, "wsj.com": 0.92, "washingtonpost.com": 0.92,
	"aljazeera.com": 0.88, "bloomberg.com": 0.92, "ft.com": 0.92, "economist.com": 0.92,
	"scmp.com": 0.88, "abc.net.au": 0.86, "straitstimes.com": 0.86, "cna.asia": 0.85,
	"cnn.com": 0.88, "latimes.com": 0.87, "smh.com.au": 0.86, "lemonde.fr": 0.90,
}

// Keyword taxonomy per civic dimension, matched as lowercase substrings.
var dimensionTerms = map[string][]string{
	"affordability":  {"affordable", "cost of living", "rent", "rents", "price", "prices", "inflation", "wage", "income", "poverty"},
	"services":       {"public service", "hospital", "clinic", "school", "sanitation", "utilities", "welfare", "childcare"},
	"safety":         {"crime", "violent", "police", "homicide", "shooting", "assault", "theft", "robbery", "burglary", "safety"},
	"opportunity":    {"job", "jobs", "employment", "unemployment", "startup", "entrepreneur", "mobility", "wages", "career", "hiring"},
	"culture":        {"culture", "arts", "museum", "festival", "music", "theater", "sport", "diversity", "community"},
	"environment":    {"air quality", "pollution", "emissions", "carbon", "sustainability", "climate", "flood", "heat", "waste", "recycle"},
	"transportation": {"transport", "subway", "metro", "bus", "train", "rail", "traffic", "congestion", "road", "bike", "parking", "airport"},
	"governance":     {"governance", "mayor", "council", "policy", "corruption", "transparency", "budget", "tax", "regulation", "zoning"},
	"housing":        {"housing", "home", "apartment", "mortgage", "eviction", "homeless", "shelter", "tenant", "landlord", "affordable housing"},
	"economy":        {"economy", "gdp", "investment", "industry", "business", "tourism", "trade", "market", "growth"},
	"education":      {"education", "school", "university", "college", "teacher", "student", "curriculum", "literacy", "enrollment", "graduation"},
	"health":         {"health", "healthcare", "hospital", "clinic", "disease", "vaccination", "mental health", "public health", "mortality"},
}

// Canonical dimension order, used for prompts and neutral defaults.
var dimensionOrder = []string{
	"affordability", "services", "safety", "opportunity", "culture", "environment",
	"transportation", "governance", "housing", "economy", "education", "health",
}

// Dimensions returns the civic dimension names in canonical order.
func Dimensions() []string {
	out := make([]string, len(dimensionOrder))
	copy(out, dimensionOrder)
	return out
}

// CountTaxonomyTerms counts, per keyword term, how many of the given texts
// mention it. Feeds the global topic-extraction prompt.
func CountTaxonomyTerms(texts []string) map[string]int {
	counts := make(map[string]int)
	for _, text := range texts {
		blob := strings.ToLower(text)
		for _, terms := range dimensionTerms {
			for _, term := range terms {
				if strings.Contains(blob, term) {
					counts[term]++
				}
			}
		}
	}
	return counts
}

// Scorer computes item scores. The clock makes recency testable.
type Scorer struct {
	clock clock.Clock
}

func NewScorer(c clock.Clock) *Scorer {
	if c == nil {
		c = clock.System{}
	}
	return &Scorer{clock: c}
}

// Score returns the item's relevance score in [0,1].
func (s *Scorer) Score(item *pipeline.Item) float64 {
	return weightReputation*reputation(item) +
		weightTopical*topicalRelevance(item.Title, item.Body) +
		weightLength*lengthScore(item.Body) +
		weightRecency*s.recencyScore(item)
}

func reputation(item *pipeline.Item) float64 {
	switch item.Kind {
	case pipeline.KindArticle:
		if rep, ok := domainReputation[NormalizeDomain(item.URL)]; ok {
			return rep
		}
		return defaultArticleReputation
	case pipeline.KindDiscussionPost:
		return defaultPostReputation
	default:
		return defaultCommentReputation
	}
}

func topicalRelevance(title, body string) float64 {
	blob := strings.ToLower(title + " " + body)
	hits := 0
	for _, terms := range dimensionTerms {
		for _, term := range terms {
			if strings.Contains(blob, term) {
				hits++
			}
		}
	}
	score := float64(hits) / topicalSaturationHits
	if score > 1 {
		score = 1
	}
	return score
}

func lengthScore(body string) float64 {
	score := float64(len(strings.Fields(body))) / lengthSaturationWords
	if score > 1 {
		score = 1
	}
	return score
}

// recencyScore is a step function of elapsed days. Unknown publish dates land
// on the midpoint, never penalized to zero nor assumed fresh.
func (s *Scorer) recencyScore(item *pipeline.Item) float64 {
	if item.PublishedAt == nil {
		return 0.5
	}
	days := int(s.clock.Now().Sub(*item.PublishedAt).Hours() / 24)
	if days < 0 {
		days = 0
	}
	switch {
	case days <= 14:
		return 1.0
	case days <= 30:
		return 0.9
	case days <= 90:
		return 0.7
	case days <= 180:
		return 0.55
	case days <= 365:
		return 0.45
	default:
		return 0.35
	}
}

// NormalizeDomain strips the scheme and a leading www from an item URL,
// returning the lowercase registrable-ish host used for reputation lookup and
// per-domain capping.
func NormalizeDomain(rawURL string) string {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	host = strings.ToLower(host)
	return strings.TrimPrefix(host, "www.")
}

// DomainKey is the selection-capping key: the normalized host for articles,
// the discussion community label otherwise.
func DomainKey(item *pipeline.Item) string {
	if item.Kind == pipeline.KindArticle {
		return NormalizeDomain(item.URL)
	}
	if item.SourceLabel != "" {
		return item.SourceLabel
	}
	return string(item.Kind)
}

// TitleKey is the near-duplicate key: lowercase title, hyphens folded to
// spaces, first 12 words.
func TitleKey(title string) string {
	t := strings.ToLower(strings.ReplaceAll(title, "-", " "))
	fields := strings.Fields(t)
	if len(fields) > 12 {
		fields = fields[:12]
	}
	return strings.Join(fields, " ")
}
