package pipeline

import (
	"bytes"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

var whitespaceRE = regexp.MustCompile(`[ \t]+`)

// extractText pulls the readable article body out of raw HTML. Readability
// handles well-formed article pages; anything it cannot parse goes through a
// plain tag-stripping pass instead.
func extractText(rawHTML []byte, pageURL string) (string, error) {
	parsedURL, _ := url.Parse(pageURL)

	article, err := readability.FromReader(bytes.NewReader(rawHTML), parsedURL)
	if err == nil {
		if text := normalizeText(article.TextContent); text != "" {
			return text, nil
		}
	}

	return stripTags(rawHTML)
}

// stripTags is the fallback extraction: drop non-content elements and take
// the body text.
func stripTags(rawHTML []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(rawHTML))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, nav, header, footer, aside").Remove()

	text := normalizeText(doc.Find("body").Text())
	if text == "" {
		return "", errors.New("no readable text in page")
	}
	return text, nil
}

func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(whitespaceRE.ReplaceAllString(line, " "))
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
