package extract

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExtractPrefersOpenGraphTitle(t *testing.T) {
	html := `<html><head>
<meta property="og:title" content="Council Passes Budget">
<title>Gazette | Council Passes Budget</title>
</head><body><h1>Something else</h1>
<article><p>The city council passed the annual budget on Tuesday.</p></article>
</body></html>`

	title, body, _ := New().Extract([]byte(html))
	require.Equal(t, "Council Passes Budget", title)
	require.Contains(t, body, "annual budget")
}

func TestExtractFallsBackToTitleTagThenH1(t *testing.T) {
	title, _, _ := New().Extract([]byte(`<html><head><title>  Plain   Title </title></head><body></body></html>`))
	require.Equal(t, "Plain Title", title)

	title, _, _ = New().Extract([]byte(`<html><body><h1>Heading Title</h1></body></html>`))
	require.Equal(t, "Heading Title", title)
}

func TestExtractBodyUsesArticleContainer(t *testing.T) {
	html := `<html><body>
<nav><p>Home News Sports Weather Contact</p></nav>
<article>
<p>First paragraph of the story with details.</p>
<p>ok</p>
<p>Second paragraph continues the report.</p>
</article>
<footer><p>Copyright twenty twenty six gazette</p></footer>
</body></html>`

	_, body, _ := New().Extract([]byte(html))
	require.Contains(t, body, "First paragraph")
	require.Contains(t, body, "Second paragraph")
	require.NotContains(t, body, "Copyright")
	require.NotContains(t, body, "Home News", "navigation outside the container is ignored")
}

func TestExtractBodyFallsBackToAllParagraphs(t *testing.T) {
	html := `<html><body>
<div><p>Loose paragraph one with some words.</p></div>
<div><p>Loose paragraph two with more words.</p></div>
</body></html>`

	_, body, _ := New().Extract([]byte(html))
	require.Contains(t, body, "paragraph one")
	require.Contains(t, body, "paragraph two")
}

func TestExtractBodyIsCapped(t *testing.T) {
	var b strings.Builder
	b.WriteString("<html><body><article>")
	for i := 0; i < 500; i++ {
		b.WriteString("<p>A reasonably long sentence about municipal infrastructure and services.</p>")
	}
	b.WriteString("</article></body></html>")

	_, body, _ := New().Extract([]byte(b.String()))
	require.LessOrEqual(t, len([]rune(body)), maxBodyRunes)
	require.NotEmpty(t, body)
}

func TestExtractPublishedTime(t *testing.T) {
	html := `<html><head>
<meta property="article:published_time" content="2026-08-20T09:30:00-05:00">
</head><body><article><p>Dated story with enough words.</p></article></body></html>`

	_, _, published := New().Extract([]byte(html))
	require.NotNil(t, published)
	require.Equal(t, time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC), *published)

	_, _, published = New().Extract([]byte(`<html><body><time datetime="2026-08-19">Aug 19</time></body></html>`))
	require.NotNil(t, published)
	require.Equal(t, time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC), *published)

	_, _, published = New().Extract([]byte(`<html><body><p>No date anywhere here.</p></body></html>`))
	require.Nil(t, published)
}

func TestExtractEmptyMarkup(t *testing.T) {
	title, body, published := New().Extract(nil)
	require.Empty(t, title)
	require.Empty(t, body)
	require.Nil(t, published)
}
