package process

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractText joins the text of every paragraph element with a single space
// and collapses the result with CollapseWhitespace.
// A document without paragraphs yields the empty string.
func ExtractText(doc *goquery.Document) string {
	if doc == nil {
		return ""
	}
	var paragraphs []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		paragraphs = append(paragraphs, s.Text())
	})
	return CollapseWhitespace(strings.Join(paragraphs, " "))
}

// CollapseWhitespace replaces every run of whitespace with one space and trims both ends.
// CollapseWhitespace(CollapseWhitespace(s)) == CollapseWhitespace(s).
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Extract runs both extractions over one document.
func Extract(doc *goquery.Document, base string) (text string, links []string) {
	return ExtractText(doc), ExtractLinks(doc, base)
}
