// Package report renders run output: a machine-readable full_results.json and
// a human-readable analysis.txt, both written atomically into the output
// directory.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ourcityhealth/citypulse/internal/geo"
	"github.com/ourcityhealth/citypulse/internal/pipeline"
)

const (
	resultsFile    = "full_results.json"
	analysisFile   = "analysis.txt"
	boundariesFile = "city_boundaries.geojson"
)

// CityReport is one city's assessment plus the citations behind it.
type CityReport struct {
	City        string                             `json:"city"`
	HealthScore int                                `json:"health_score"`
	Dimensions  map[string]pipeline.DimensionScore `json:"dimensions"`
	TopIssues   []pipeline.Issue                   `json:"top_issues"`
	Citations   []string                           `json:"citations"`
	Articles    []string                           `json:"articles"`
	RedditPosts []string                           `json:"reddit_posts"`
}

// Report is the full output of one scan run.
type Report struct {
	RunID       string                      `json:"run_id"`
	GeneratedAt time.Time                   `json:"generated_at"`
	Topics      []pipeline.Topic            `json:"topics"`
	Cities      []CityReport                `json:"cities"`
	RunCounters pipeline.Counters           `json:"run_counters"`
	Cumulative  pipeline.CumulativeCounters `json:"cumulative"`

	// Boundaries, when resolved, lands in its own GeoJSON file rather than
	// inside full_results.json.
	Boundaries *geo.FeatureCollection `json:"-"`
}

// New stamps a fresh report with a run ID and generation time.
func New(now time.Time) *Report {
	return &Report{
		RunID:       uuid.NewString(),
		GeneratedAt: now.UTC(),
	}
}

// Write renders both output files into dir, creating it if needed.
func (r *Report) Write(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := r.writeJSON(filepath.Join(dir, resultsFile)); err != nil {
		return err
	}
	if err := r.writeAnalysis(filepath.Join(dir, analysisFile)); err != nil {
		return err
	}
	if r.Boundaries != nil {
		return r.writeBoundaries(filepath.Join(dir, boundariesFile))
	}
	return nil
}

func (r *Report) writeBoundaries(path string) error {
	data, err := json.Marshal(r.Boundaries)
	if err != nil {
		return fmt.Errorf("marshal boundaries: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func (r *Report) writeJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func (r *Report) writeAnalysis(path string) error {
	var b strings.Builder

	fmt.Fprintf(&b, "City Pulse Analysis\nrun %s, generated %s\n\n", r.RunID, r.GeneratedAt.Format(time.RFC3339))

	b.WriteString("== City Rankings ==\n")
	ranked := make([]CityReport, len(r.Cities))
	copy(ranked, r.Cities)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].HealthScore > ranked[j].HealthScore
	})
	for i, c := range ranked {
		fmt.Fprintf(&b, "%2d. %-30s %d/100\n", i+1, c.City, c.HealthScore)
		for _, issue := range c.TopIssues {
			fmt.Fprintf(&b, "      - %s: %s\n", issue.Name, issue.WhyItMatters)
		}
	}

	if len(r.Topics) > 0 {
		b.WriteString("\n== Top Topics ==\n")
		for i, t := range r.Topics {
			fmt.Fprintf(&b, "%2d. %s", i+1, t.Name)
			if t.Description != "" {
				fmt.Fprintf(&b, " -- %s", t.Description)
			}
			b.WriteString("\n")
			if len(t.Signals) > 0 {
				fmt.Fprintf(&b, "      signals: %s\n", strings.Join(t.Signals, ", "))
			}
		}
	}

	b.WriteString("\n== Basic Stats ==\n")
	fmt.Fprintf(&b, "News articles:      %d\n", r.RunCounters.Articles)
	fmt.Fprintf(&b, "Discussion posts:   %d\n", r.RunCounters.DiscussionPosts)
	fmt.Fprintf(&b, "Comments:           %d\n", r.RunCounters.Comments)
	fmt.Fprintf(&b, "Fetch failures:     %d\n", r.RunCounters.FetchFailures)
	fmt.Fprintf(&b, "Skipped (visited):  %d\n", r.RunCounters.SkippedVisited)
	fmt.Fprintf(&b, "Empty extractions:  %d\n", r.RunCounters.EmptyExtractions)
	fmt.Fprintf(&b, "All-time distinct articles: %d\n", r.Cumulative.ArticlesDistinct)
	fmt.Fprintf(&b, "All-time distinct posts:    %d\n", r.Cumulative.PostsDistinct)
	fmt.Fprintf(&b, "All-time comments:          %d\n", r.Cumulative.CommentsTotal)

	return writeAtomic(path, []byte(b.String()))
}

// writeAtomic writes via a temp file and rename so a crashed run never leaves
// a truncated report behind.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
