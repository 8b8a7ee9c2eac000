package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextOverlap(t *testing.T) {
	text := strings.Repeat("a", 250)
	chunks := splitText(text, 100, 20)

	// Step is size-overlap = 80: [0,100), [80,180), [160,250).
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 100)
	assert.Len(t, chunks[1], 100)
	// Final chunk covers the tail and stops at the end of the text.
	assert.Len(t, chunks[2], 250-2*80)
}

func TestSplitTextShortInput(t *testing.T) {
	chunks := splitText("short", 100, 20)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short", chunks[0])
}

func TestSplitTextEmpty(t *testing.T) {
	assert.Nil(t, splitText("", 100, 20))
}

func TestSplitTextInvalidOverlapFallsBack(t *testing.T) {
	text := strings.Repeat("b", 150)
	chunks := splitText(text, 50, 50)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.Len(t, c, 50)
	}
}

func TestExtractTextFromArticlePage(t *testing.T) {
	html := `<html><head><title>t</title><style>.x{}</style></head>
	<body>
	  <nav>site menu</nav>
	  <article><h1>Election Results</h1>
	  <p>The incumbent conceded late on Tuesday after a long count.</p>
	  <p>Turnout reached a record high across the country.</p></article>
	  <script>tracker()</script>
	</body></html>`

	text, err := extractText([]byte(html), "https://example.com/news/1")
	require.NoError(t, err)
	assert.Contains(t, text, "The incumbent conceded late on Tuesday")
	assert.NotContains(t, text, "tracker()")
}

func TestExtractTextBareFragment(t *testing.T) {
	html := `<div>just a fragment of text</div>`

	text, err := extractText([]byte(html), "https://example.com/x")
	require.NoError(t, err)
	assert.Contains(t, text, "just a fragment of text")
}

func TestExtractTextRejectsEmptyPage(t *testing.T) {
	_, err := extractText([]byte(`<html><body><script>x()</script></body></html>`), "https://example.com/x")
	assert.Error(t, err)
}
