package process

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/Sriram-PR/text-scraper/pkg/parse"
)

// ExtractLinks returns the href of every anchor element in document order, resolved against base.
// Anchors without an href attribute are skipped. Duplicates are kept; deduplication is the frontier's job.
func ExtractLinks(doc *goquery.Document, base string) []string {
	if doc == nil {
		return nil
	}
	var links []string
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists {
			return
		}
		links = append(links, parse.ResolveURL(base, href))
	})
	return links
}
