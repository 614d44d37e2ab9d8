// Package extract pulls a title and readable body text out of article markup.
package extract

import (
	"bytes"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Containers likely to hold the article body, probed in order.
var bodySelectors = []string{
	"article",
	"main",
	"[role=main]",
	"[itemprop=articleBody]",
}

const (
	minParagraphWords = 3
	maxBodyRunes      = 8000
)

// Extractor implements pipeline.Extractor over goquery.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

// Extract returns the page title, joined paragraph text, and publish time.
// Title and body may be empty; pages with no usable content are skipped
// upstream, not failed. The publish time is nil when no date metadata parses.
func (e *Extractor) Extract(html []byte) (string, string, *time.Time) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", "", nil
	}
	return title(doc), body(doc), publishedAt(doc)
}

// Metadata slots that may carry the publish date, probed in order.
var dateSelectors = []struct{ selector, attr string }{
	{`meta[property="article:published_time"]`, "content"},
	{`meta[name="date"]`, "content"},
	{`meta[itemprop="datePublished"]`, "content"},
	{"time[datetime]", "datetime"},
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func publishedAt(doc *goquery.Document) *time.Time {
	for _, slot := range dateSelectors {
		raw, ok := doc.Find(slot.selector).First().Attr(slot.attr)
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				t = t.UTC()
				return &t
			}
		}
	}
	return nil
}

func title(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if t := clean(og); t != "" {
			return t
		}
	}
	if t := clean(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return clean(doc.Find("h1").First().Text())
}

func body(doc *goquery.Document) string {
	for _, sel := range bodySelectors {
		if text := paragraphs(doc.Find(sel)); text != "" {
			return text
		}
	}
	// no recognizable container, take every paragraph on the page
	return paragraphs(doc.Selection)
}

func paragraphs(root *goquery.Selection) string {
	var parts []string
	total := 0
	root.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := clean(s.Text())
		if len(strings.Fields(text)) < minParagraphWords {
			return true
		}
		parts = append(parts, text)
		total += len([]rune(text))
		return total < maxBodyRunes
	})
	joined := strings.Join(parts, "\n\n")
	if runes := []rune(joined); len(runes) > maxBodyRunes {
		joined = string(runes[:maxBodyRunes])
	}
	return joined
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
