// Package pipeline defines the core content model shared across subsystems.
package pipeline

import "time"

// Kind classifies the provenance of an Item. The three kinds are mutually
// exclusive.
type Kind string

// Item provenance values.
const (
	KindArticle           Kind = "article"
	KindDiscussionPost    Kind = "discussion_post"
	KindDiscussionComment Kind = "discussion_comment"
)

// Item is the unit of content flowing through the pipeline: one news article,
// one discussion post, or one comment on a post.
//
// URL is the identity key for dedup of articles within and across runs.
// Comments carry their parent post's URL for citation and are distinguished
// by Body instead. PublishedAt is nil when no publication date could be
// extracted; scoring treats that as neutral recency, never as "now".
type Item struct {
	Kind        Kind
	SourceLabel string
	URL         string
	Title       string
	Body        string
	PublishedAt *time.Time

	// Cities holds the tracked-entity identifiers this item is believed to
	// concern. Empty until the tagger runs; written exactly once.
	Cities []string
}

// City is one tracked entity that content is tagged against.
type City struct {
	// ID is the stable identifier used in tags, selection, and reports.
	ID string `json:"id" mapstructure:"id"`
	// Name is the display name, e.g. "Springfield, IL".
	Name string `json:"name" mapstructure:"name"`
	// Synonyms are phrases whose presence in text implies the city.
	Synonyms []string `json:"synonyms" mapstructure:"synonyms"`
	// AffiliatedHosts are domains owned by or dedicated to the city; content
	// from these hosts is tagged unconditionally.
	AffiliatedHosts []string `json:"affiliated_hosts" mapstructure:"affiliated_hosts"`
	// Subreddit is the city's discussion community, without the r/ prefix.
	Subreddit string `json:"subreddit" mapstructure:"subreddit"`
}

// Counters aggregates per-run success/failure stats reported in the final
// summary.
type Counters struct {
	Articles         int `json:"articles"`
	DiscussionPosts  int `json:"discussion_posts"`
	Comments         int `json:"comments"`
	FetchFailures    int `json:"fetch_failures"`
	SkippedVisited   int `json:"skipped_visited"`
	EmptyExtractions int `json:"empty_extractions"`
}

// CumulativeCounters are the monotonic cross-run totals kept by the visited
// store.
type CumulativeCounters struct {
	ArticlesDistinct int64 `json:"articles_distinct"`
	PostsDistinct    int64 `json:"posts_distinct"`
	CommentsTotal    int64 `json:"comments_total"`
}

// Topic is one high-level issue derived by the analyst from the global corpus.
type Topic struct {
	Name                  string   `json:"name"`
	Description           string   `json:"description"`
	Signals               []string `json:"signals"`
	RepresentativePhrases []string `json:"representative_phrases"`
}

// DimensionScore is the analyst's assessment of one civic dimension.
type DimensionScore struct {
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
}

// Issue names one concrete problem surfaced for a city.
type Issue struct {
	Name         string `json:"name"`
	WhyItMatters string `json:"why_it_matters"`
}

// CityScore is the analyst's structured assessment of one city.
type CityScore struct {
	OverallHealth  int                       `json:"overall_health"`
	CategoryScores map[string]DimensionScore `json:"category_scores"`
	TopIssues      []Issue                   `json:"top_issues"`
}
