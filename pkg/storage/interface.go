package storage

import (
	"context"

	"github.com/Sriram-PR/text-scraper/pkg/models"
)

// Sink persists the text of crawled pages for one site.
// Store is called concurrently by crawl workers and must not lose or overwrite pages.
type Sink interface {
	// Store writes page.Text and returns where it was written (a path or a key)
	Store(ctx context.Context, page models.ExtractedPage) (location string, err error)

	// Close flushes any buffered output and releases resources
	Close() error
}
