// Package analyst is the language-model boundary. It asks Gemini for global
// topic extraction and per-city civic-health scoring under a strict JSON
// schema, and substitutes documented neutral defaults on any failure so the
// pipeline never aborts on the model.
package analyst

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ourcityhealth/citypulse/internal/pipeline"
	"github.com/ourcityhealth/citypulse/internal/scoring"
)

const (
	defaultModel = "gemini-1.5-flash"

	// prompt size controls
	maxSnippetsPerCall = 50
	maxSampleTitles    = 40
	maxKeywordPhrases  = 1000
)

// Client implements pipeline.Analyst and tagger.Recognizer over Gemini.
type Client struct {
	client *genai.Client
	logger *zap.Logger

	// generate is the transport seam; tests replace it
	generate func(ctx context.Context, prompt string) (string, error)
}

func New(ctx context.Context, apiKey, modelName string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if modelName == "" {
		modelName = defaultModel
	}
	gc, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := gc.GenerativeModel(modelName)
	model.SetTemperature(0.2)
	model.ResponseMIMEType = "application/json"

	c := &Client{client: gc, logger: logger}
	c.generate = func(ctx context.Context, prompt string) (string, error) {
		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return "", fmt.Errorf("generate content: %w", err)
		}
		if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
			return "", fmt.Errorf("empty model response")
		}
		return fmt.Sprintf("%v", resp.Candidates[0].Content.Parts[0]), nil
	}
	return c, nil
}

func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// TopTopics derives the most prevalent civic topics across the whole corpus.
// Any failure yields nil; topics are advisory, never load-bearing.
func (c *Client) TopTopics(ctx context.Context, keywords, sampleTitles []string) []pipeline.Topic {
	if len(keywords) > maxKeywordPhrases {
		keywords = keywords[:maxKeywordPhrases]
	}
	if len(sampleTitles) > maxSampleTitles {
		sampleTitles = sampleTitles[:maxSampleTitles]
	}

	var b strings.Builder
	b.WriteString("You are analyzing a corpus of news and social posts about cities. ")
	b.WriteString("Given keyword phrases and a sample of titles, derive the 20 most prevalent topics ")
	b.WriteString("(high-level issues) suitable for a civic dashboard.\n\n")
	b.WriteString("Return strict JSON with key 'topics': an array of 20 items, each with:\n")
	b.WriteString("  - name (short, human-readable)\n")
	b.WriteString("  - description (1-2 sentences)\n")
	b.WriteString("  - signals (array subset of: " + strings.Join(scoring.Dimensions(), ", ") + ")\n")
	b.WriteString("  - representative_phrases (3-6 items from the phrases list)\n\n")
	b.WriteString("Keyword phrases:\n")
	for _, k := range keywords {
		b.WriteString("- " + k + "\n")
	}
	b.WriteString("\nSample titles:\n")
	for _, t := range sampleTitles {
		b.WriteString("- " + t + "\n")
	}

	raw, err := c.generate(ctx, b.String())
	if err != nil {
		c.logger.Warn("topic extraction failed", zap.Error(err))
		return nil
	}
	var parsed struct {
		Topics []pipeline.Topic `json:"topics"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		c.logger.Warn("topic response unparseable", zap.Error(err))
		return nil
	}
	return parsed.Topics
}

// ScoreCity assesses one city from its selected snippets. On any failure it
// returns the neutral score, never an error.
func (c *Client) ScoreCity(ctx context.Context, city string, snippets []string) pipeline.CityScore {
	if len(snippets) > maxSnippetsPerCall {
		snippets = snippets[:maxSnippetsPerCall]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are scoring civic health for the city: %s.\n", city)
	b.WriteString("Given the following short snippets from recent news and social discussions, ")
	b.WriteString("produce a structured assessment.\n\n")
	b.WriteString("Return strict JSON with:\n")
	b.WriteString("  - overall_health (integer 0-100)\n")
	b.WriteString("  - category_scores: object with keys " + strings.Join(scoring.Dimensions(), ", "))
	b.WriteString("; each value an object { score: integer 0-100, rationale: concise, specific rationale }\n")
	b.WriteString("  - top_issues: array of 10 items { name: string, why_it_matters: string }\n")
	b.WriteString("Higher score means a better civic health signal net of sentiment. ")
	b.WriteString("Favor specificity: name policies, programs, metrics when evident.\n\n")
	b.WriteString("Snippets:\n" + strings.Join(snippets, "\n\n"))

	raw, err := c.generate(ctx, b.String())
	if err != nil {
		c.logger.Warn("city scoring failed", zap.String("city", city), zap.Error(err))
		return NeutralCityScore()
	}
	var score pipeline.CityScore
	if err := json.Unmarshal([]byte(stripFences(raw)), &score); err != nil {
		c.logger.Warn("city score unparseable", zap.String("city", city), zap.Error(err))
		return NeutralCityScore()
	}
	if len(score.CategoryScores) == 0 {
		c.logger.Warn("city score missing categories", zap.String("city", city))
		return NeutralCityScore()
	}
	return score
}

// Locations extracts place names from text, for the tagger's NER pass.
func (c *Client) Locations(ctx context.Context, text string) ([]string, error) {
	prompt := "List the geographic locations (cities, regions) mentioned in the text below. " +
		"Return strict JSON: {\"locations\": [\"...\"]}. Text:\n" + text

	raw, err := c.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Locations []string `json:"locations"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("decode locations: %w", err)
	}
	return parsed.Locations, nil
}

// stripFences drops a markdown code fence the model sometimes wraps JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
