package analyst

import (
	"context"

	"github.com/ourcityhealth/citypulse/internal/pipeline"
	"github.com/ourcityhealth/citypulse/internal/scoring"
)

// NeutralCityScore is the documented fallback when the model is unavailable
// or answers with malformed JSON: 50/100 overall, 50/100 with an
// "insufficient data" rationale per dimension, no issues. A flat neutral
// score can mask real variance, but inventing a smarter fallback would hide
// that the model never ran.
func NeutralCityScore() pipeline.CityScore {
	categories := make(map[string]pipeline.DimensionScore)
	for _, dim := range scoring.Dimensions() {
		categories[dim] = pipeline.DimensionScore{Score: 50, Rationale: "insufficient data"}
	}
	return pipeline.CityScore{
		OverallHealth:  50,
		CategoryScores: categories,
		TopIssues:      []pipeline.Issue{},
	}
}

// Disabled is the pipeline.Analyst used when no API key is configured.
type Disabled struct{}

func (Disabled) TopTopics(context.Context, []string, []string) []pipeline.Topic {
	return nil
}

func (Disabled) ScoreCity(_ context.Context, _ string, _ []string) pipeline.CityScore {
	return NeutralCityScore()
}
