package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/text-scraper/pkg/crawler"
	"github.com/Sriram-PR/text-scraper/pkg/models"
	"github.com/Sriram-PR/text-scraper/pkg/utils"
)

// TestRecorderCountsCrawlEvents ensures observer callbacks move the right collectors.
func TestRecorderCountsCrawlEvents(t *testing.T) {
	t.Parallel()

	r, err := NewRecorder()
	require.NoError(t, err)

	r.LevelStarted("docs", 1, 3)
	r.PageStored("docs", "https://example.com/a", "/tmp/a.txt", 1)
	r.PageStored("docs", "https://example.com/b", "/tmp/b.txt", 1)
	r.LinksDiscovered("docs", "https://example.com/a", 5, 2)
	r.FetchFailed("docs", "https://example.com/c", 1, fmt.Errorf("%w: 6 attempts: %w", utils.ErrPermanentFetch, utils.ErrServerHTTPError))
	r.StoreFailed("docs", "https://example.com/b", 1, fmt.Errorf("%w: disk full", utils.ErrFilesystem))
	r.LevelFinished("docs", crawler.LevelStats{Level: 1, Duration: 2 * time.Second})
	r.CrawlFinished(models.CrawlReport{SiteID: "docs", Unvisited: 7})

	require.Equal(t, 1.0, testutil.ToFloat64(r.levels.WithLabelValues("docs")))
	require.Equal(t, 3.0, testutil.ToFloat64(r.activeURLs.WithLabelValues("docs")))
	require.Equal(t, 2.0, testutil.ToFloat64(r.pagesStored.WithLabelValues("docs")))
	require.Equal(t, 5.0, testutil.ToFloat64(r.linksFound.WithLabelValues("docs")))
	require.Equal(t, 2.0, testutil.ToFloat64(r.linksQueued.WithLabelValues("docs")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.fetchFailures.WithLabelValues("docs", "RetryFailed_HTTPServer")))
	require.Equal(t, 1, testutil.CollectAndCount(r.storeFailures, "text_scraper_store_failures_total"))
	require.Equal(t, 1, testutil.CollectAndCount(r.levelDuration, "text_scraper_level_duration_seconds"))
	require.Equal(t, 1.0, testutil.ToFloat64(r.crawlsFinished.WithLabelValues("docs")))
	require.Equal(t, 7.0, testutil.ToFloat64(r.unvisitedAtStop.WithLabelValues("docs")))
}

func TestRecorderRetryObserverIsPerSite(t *testing.T) {
	t.Parallel()

	r, err := NewRecorder()
	require.NoError(t, err)

	docs := r.RetryObserver("docs")
	blog := r.RetryObserver("blog")
	transient := fmt.Errorf("%w: %w", utils.ErrTransientFetch, errors.New("connection reset"))

	docs.ObserveRetry("https://example.com/a", 1, 11*time.Second, transient)
	docs.ObserveRetry("https://example.com/a", 2, 20*time.Second, transient)
	blog.ObserveRetry("https://blog.example.com/", 1, 11*time.Second, transient)

	require.Equal(t, 2, testutil.CollectAndCount(r.retries, "text_scraper_fetch_retries_total"))
	require.Equal(t, 2, testutil.CollectAndCount(r.retryDelay, "text_scraper_retry_delay_seconds"))
}

func TestRecorderHandlerServesMetrics(t *testing.T) {
	t.Parallel()

	r, err := NewRecorder()
	require.NoError(t, err)
	r.PageStored("docs", "https://example.com/a", "/tmp/a.txt", 1)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `text_scraper_pages_stored_total{site="docs"} 1`)
	require.Contains(t, string(body), "go_goroutines")
}

func TestRecorderImplementsObserver(t *testing.T) {
	t.Parallel()

	r, err := NewRecorder()
	require.NoError(t, err)
	var obs crawler.Observer = crawler.MultiObserver{crawler.NopObserver{}, r}
	obs.PageStored("docs", "u", "loc", 1)
	require.Equal(t, 1.0, testutil.ToFloat64(r.pagesStored.WithLabelValues("docs")))
}
