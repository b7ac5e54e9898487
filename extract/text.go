package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// wordsPerMinute is the reading speed used for read-time estimates.
const wordsPerMinute = 200

// ReadTimeMinutes estimates reading time as ceil(words/200).
// An empty (or whitespace-only) body yields 0.
func ReadTimeMinutes(body string) int {
	words := len(strings.Fields(body))
	if words == 0 {
		return 0
	}
	return (words + wordsPerMinute - 1) / wordsPerMinute
}

// visibleText extracts the visible text from an HTML fragment by parsing it
// with goquery. Returns trimmed plain text; on parse failure the input is
// returned as-is.
func visibleText(rawHTML string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return rawHTML
	}
	doc.Find("script, style, noscript").Remove()
	return strings.TrimSpace(doc.Text())
}
