package analyst

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ourcityhealth/citypulse/internal/scoring"
)

func fakeClient(raw string, err error) (*Client, *string) {
	var gotPrompt string
	c := &Client{logger: zap.NewNop()}
	c.generate = func(_ context.Context, prompt string) (string, error) {
		gotPrompt = prompt
		return raw, err
	}
	return c, &gotPrompt
}

func TestTopTopicsParsesStrictJSON(t *testing.T) {
	c, prompt := fakeClient(`{"topics":[
		{"name":"Housing pressure","description":"Rents are rising.","signals":["housing","affordability"],"representative_phrases":["rent hike"]}
	]}`, nil)

	topics := c.TopTopics(context.Background(), []string{"rent hike"}, []string{"Rents up again"})
	require.Len(t, topics, 1)
	require.Equal(t, "Housing pressure", topics[0].Name)
	require.Equal(t, []string{"housing", "affordability"}, topics[0].Signals)
	require.Contains(t, *prompt, "rent hike")
	require.Contains(t, *prompt, "Rents up again")
}

func TestTopTopicsFailureYieldsNil(t *testing.T) {
	c, _ := fakeClient("", errors.New("deadline exceeded"))
	require.Nil(t, c.TopTopics(context.Background(), nil, nil))

	c, _ = fakeClient("not json at all", nil)
	require.Nil(t, c.TopTopics(context.Background(), nil, nil))
}

func TestScoreCityParsesResponse(t *testing.T) {
	c, prompt := fakeClient(`{
		"overall_health": 72,
		"category_scores": {"housing": {"score": 55, "rationale": "rents outpace wages"}},
		"top_issues": [{"name": "Transit cuts", "why_it_matters": "service frequency dropped"}]
	}`, nil)

	score := c.ScoreCity(context.Background(), "Springfield", []string{"snippet one"})
	require.Equal(t, 72, score.OverallHealth)
	require.Equal(t, 55, score.CategoryScores["housing"].Score)
	require.Len(t, score.TopIssues, 1)
	require.Contains(t, *prompt, "Springfield")
}

func TestScoreCityStripsCodeFences(t *testing.T) {
	c, _ := fakeClient("```json\n{\"overall_health\": 60, \"category_scores\": {\"safety\": {\"score\": 60, \"rationale\": \"x\"}}}\n```", nil)
	score := c.ScoreCity(context.Background(), "Springfield", nil)
	require.Equal(t, 60, score.OverallHealth)
}

func TestScoreCityFallsBackToNeutral(t *testing.T) {
	for _, c := range []*Client{
		func() *Client { c, _ := fakeClient("", errors.New("unreachable")); return c }(),
		func() *Client { c, _ := fakeClient("{malformed", nil); return c }(),
		func() *Client { c, _ := fakeClient(`{"overall_health": 80}`, nil); return c }(),
	} {
		score := c.ScoreCity(context.Background(), "Springfield", nil)
		require.Equal(t, 50, score.OverallHealth)
		require.Len(t, score.CategoryScores, len(scoring.Dimensions()))
		for _, dim := range scoring.Dimensions() {
			require.Equal(t, 50, score.CategoryScores[dim].Score)
			require.Equal(t, "insufficient data", score.CategoryScores[dim].Rationale)
		}
		require.Empty(t, score.TopIssues)
	}
}

func TestLocations(t *testing.T) {
	c, _ := fakeClient(`{"locations": ["Springfield", "Shelbyville"]}`, nil)
	locs, err := c.Locations(context.Background(), "Between Springfield and Shelbyville...")
	require.NoError(t, err)
	require.Equal(t, []string{"Springfield", "Shelbyville"}, locs)

	c, _ = fakeClient("garbage", nil)
	_, err = c.Locations(context.Background(), "text")
	require.Error(t, err)
}

func TestDisabledAnalyst(t *testing.T) {
	var d Disabled
	require.Nil(t, d.TopTopics(context.Background(), nil, nil))
	require.Equal(t, NeutralCityScore(), d.ScoreCity(context.Background(), "Springfield", nil))
}
