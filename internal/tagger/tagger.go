// Package tagger assigns tracked cities to pipeline items.
package tagger

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/ourcityhealth/citypulse/internal/pipeline"
)

// nerPrefixWords bounds the text handed to the recognizer, for cost control.
const nerPrefixWords = 200

// Recognizer extracts geographic entity names from free text. Implementations
// talk to an external NLP service; errors disable the pass for that item
// rather than failing it.
type Recognizer interface {
	Locations(ctx context.Context, text string) ([]string, error)
}

// Tagger maps items to city identifiers via synonym lookup, named-entity
// recognition, and host affiliation.
type Tagger struct {
	cities     []pipeline.City
	recognizer Recognizer // nil disables the NER pass
	logger     *zap.Logger

	// synonym phrase (lowercase) -> city index, covers names and synonyms
	synonyms map[string]int
}

func New(cities []pipeline.City, recognizer Recognizer, logger *zap.Logger) *Tagger {
	if logger == nil {
		logger = zap.NewNop()
	}
	syn := make(map[string]int)
	for i, c := range cities {
		if c.Name != "" {
			syn[strings.ToLower(c.Name)] = i
		}
		for _, s := range c.Synonyms {
			if s = strings.TrimSpace(s); s != "" {
				syn[strings.ToLower(s)] = i
			}
		}
	}
	return &Tagger{
		cities:     cities,
		recognizer: recognizer,
		logger:     logger,
		synonyms:   syn,
	}
}

// Tag returns the city IDs item concerns, in configured city order.
//
// Articles run all three passes: synonym substring match over title and body,
// named-entity recognition over a truncated prefix, and the affiliated-host
// check. Discussion posts and comments inherit the city of the community they
// were fetched from and only add the host check.
func (t *Tagger) Tag(ctx context.Context, item *pipeline.Item) []string {
	matched := make(map[int]struct{})

	if item.Kind == pipeline.KindArticle {
		t.matchSynonyms(item, matched)
		t.matchRecognized(ctx, item, matched)
	} else {
		for _, id := range item.Cities {
			if i, ok := t.indexByID(id); ok {
				matched[i] = struct{}{}
			}
		}
	}
	t.matchHost(item, matched)

	var ids []string
	for i, c := range t.cities {
		if _, ok := matched[i]; ok {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func (t *Tagger) indexByID(id string) (int, bool) {
	for i, c := range t.cities {
		if c.ID == id {
			return i, true
		}
	}
	return 0, false
}

func (t *Tagger) matchSynonyms(item *pipeline.Item, matched map[int]struct{}) {
	text := strings.ToLower(item.Title + " " + item.Body)
	for phrase, i := range t.synonyms {
		if strings.Contains(text, phrase) {
			matched[i] = struct{}{}
		}
	}
}

func (t *Tagger) matchRecognized(ctx context.Context, item *pipeline.Item, matched map[int]struct{}) {
	if t.recognizer == nil {
		return
	}
	prefix := wordPrefix(item.Title+" "+item.Body, nerPrefixWords)
	if prefix == "" {
		return
	}
	locations, err := t.recognizer.Locations(ctx, prefix)
	if err != nil {
		t.logger.Debug("recognizer pass skipped", zap.String("url", item.URL), zap.Error(err))
		return
	}
	for _, loc := range locations {
		key := strings.ToLower(strings.TrimSpace(loc))
		if key == "" {
			continue
		}
		if i, ok := t.synonyms[key]; ok {
			matched[i] = struct{}{}
			continue
		}
		// recognizer output often carries state suffixes the synonym table
		// lacks, so fall back to a name prefix match
		for i, c := range t.cities {
			if strings.EqualFold(c.Name, loc) || strings.HasPrefix(key, strings.ToLower(c.Name)+",") {
				matched[i] = struct{}{}
			}
		}
	}
}

func (t *Tagger) matchHost(item *pipeline.Item, matched map[int]struct{}) {
	u, err := url.Parse(item.URL)
	if err != nil || u.Hostname() == "" {
		return
	}
	host := strings.ToLower(u.Hostname())
	for i, c := range t.cities {
		for _, affiliated := range c.AffiliatedHosts {
			affiliated = strings.ToLower(strings.TrimSpace(affiliated))
			if affiliated == "" {
				continue
			}
			if host == affiliated || strings.HasSuffix(host, "."+affiliated) {
				matched[i] = struct{}{}
			}
		}
	}
}

func wordPrefix(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}
