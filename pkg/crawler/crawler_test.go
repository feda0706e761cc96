package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/text-scraper/pkg/fetch"
	"github.com/Sriram-PR/text-scraper/pkg/models"
	"github.com/Sriram-PR/text-scraper/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// fakeFetcher serves HTML from a map; unknown URLs fail permanently
type fakeFetcher struct {
	pages map[string]string

	mu       sync.Mutex
	calls    []string
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	body, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("%w: no such page %s", utils.ErrPermanentFetch, url)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(body))
}

// recordingSink keeps every stored page in memory
type recordingSink struct {
	mu      sync.Mutex
	pages   []models.ExtractedPage
	failFor map[string]bool
	onStore func(page models.ExtractedPage)
}

func (s *recordingSink) Store(_ context.Context, page models.ExtractedPage) (string, error) {
	if s.onStore != nil {
		s.onStore(page)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[page.URL] {
		return "", fmt.Errorf("%w: disk full", utils.ErrFilesystem)
	}
	s.pages = append(s.pages, page)
	return fmt.Sprintf("mem://%d", len(s.pages)), nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) urls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, p := range s.pages {
		out = append(out, p.URL)
	}
	sort.Strings(out)
	return out
}

// recordingObserver counts events by name
type recordingObserver struct {
	mu     sync.Mutex
	events map[string]int
	levels []LevelStats
}

func (o *recordingObserver) inc(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.events == nil {
		o.events = make(map[string]int)
	}
	o.events[name]++
}

func (o *recordingObserver) LevelStarted(string, int, int) { o.inc("level_started") }
func (o *recordingObserver) PageStored(string, string, string, int) { o.inc("page_stored") }
func (o *recordingObserver) FetchFailed(string, string, int, error) { o.inc("fetch_failed") }
func (o *recordingObserver) StoreFailed(string, string, int, error) { o.inc("store_failed") }
func (o *recordingObserver) LinksDiscovered(string, string, int, int) { o.inc("links_discovered") }
func (o *recordingObserver) CrawlFinished(models.CrawlReport) { o.inc("crawl_finished") }
func (o *recordingObserver) LevelFinished(_ string, s LevelStats) {
	o.inc("level_finished")
	o.mu.Lock()
	o.levels = append(o.levels, s)
	o.mu.Unlock()
}

const (
	urlA = "https://example.com/a"
	urlB = "https://example.com/b"
	urlC = "https://example.com/c"
	urlD = "https://example.com/d"
)

// abcdPages is the A -> {B, C}, B -> {A, D} site
func abcdPages() map[string]string {
	return map[string]string{
		urlA: `<html><body><p>Page A</p><a href="/b">b</a><a href="/c">c</a></body></html>`,
		urlB: `<html><body><p>Page B</p><a href="/a">a</a><a href="/d">d</a></body></html>`,
		urlC: `<html><body><p>Page   C</p></body></html>`,
		urlD: `<html><body><p>Page D</p></body></html>`,
	}
}

func testJob(depth int) models.CrawlJob {
	return models.CrawlJob{
		SiteID:       "example",
		RunID:        "run-1",
		StartURL:     urlA,
		ScopePattern: "example.com",
		Scope:        regexp.MustCompile("example.com"),
		Depth:        depth,
		NumWorkers:   2,
	}
}

func newTestCrawler(t *testing.T, job models.CrawlJob, f PageFetcher, sink *recordingSink, opts *CrawlerOptions) *Crawler {
	t.Helper()
	if opts == nil {
		opts = &CrawlerOptions{}
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	c, err := NewCrawler(job, f, sink, testLogger(), opts)
	require.NoError(t, err)
	return c
}

func TestNewCrawler_Validation(t *testing.T) {
	job := testJob(1)
	job.StartURL = ""
	_, err := NewCrawler(job, &fakeFetcher{}, &recordingSink{}, testLogger(), nil)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)

	_, err = NewCrawler(testJob(1), nil, &recordingSink{}, testLogger(), nil)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
}

func TestRun_EndToEndScenario(t *testing.T) {
	fetcher := &fakeFetcher{pages: abcdPages()}
	sink := &recordingSink{}
	obs := &recordingObserver{}
	c := newTestCrawler(t, testJob(2), fetcher, sink, &CrawlerOptions{Observer: obs})

	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{urlA, urlB, urlC}, c.Frontier().Checked())
	assert.Equal(t, []string{urlD}, c.Frontier().Queued())
	assert.Empty(t, c.Frontier().Active())
	assert.Equal(t, []string{urlA, urlB, urlC}, sink.urls())

	assert.Equal(t, 2, report.Levels)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 3, report.PagesStored)
	assert.Equal(t, 0, report.PermanentFailures)
	assert.Equal(t, 3, report.Discovered, "B, C at level 1 and D at level 2")
	assert.Equal(t, 1, report.Unvisited)
	assert.Equal(t, "example", report.SiteID)
	assert.Equal(t, "run-1", report.RunID)

	require.Len(t, obs.levels, 2)
	assert.Equal(t, 1, obs.levels[0].Active)
	assert.Equal(t, 2, obs.levels[0].Discovered)
	assert.Equal(t, 2, obs.levels[1].Active)
	assert.Equal(t, 1, obs.levels[1].Discovered)
	assert.Equal(t, 3, obs.events["page_stored"])
	assert.Equal(t, 1, obs.events["crawl_finished"])

	for _, p := range sink.pages {
		if p.URL == urlC {
			assert.Equal(t, "Page C", p.Text)
			assert.Equal(t, 2, p.Level)
		}
	}
}

func TestRun_DepthBoundWhenFrontierExhausted(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{urlA: `<p>only page</p>`}}
	sink := &recordingSink{}
	c := newTestCrawler(t, testJob(4), fetcher, sink, nil)

	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, report.Levels)
	assert.Equal(t, 4, c.Frontier().Levels())
	assert.Equal(t, []string{urlA}, c.Frontier().Checked())
	assert.Len(t, fetcher.calls, 1)
}

func TestRun_DepthZero(t *testing.T) {
	fetcher := &fakeFetcher{pages: abcdPages()}
	c := newTestCrawler(t, testJob(0), fetcher, &recordingSink{}, nil)

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Levels)
	assert.Equal(t, 1, report.Unvisited, "seed stays queued")
	assert.Empty(t, fetcher.calls)
}

func TestRun_ScopeRejectsOutOfScopeLinks(t *testing.T) {
	pages := map[string]string{
		urlA: `<p>A</p><a href="https://other.org/x">x</a><a href="/b">b</a>`,
		urlB: `<p>B</p>`,
	}
	job := testJob(3)
	job.Scope = regexp.MustCompile(`example\.com/b`)
	c := newTestCrawler(t, job, &fakeFetcher{pages: pages}, &recordingSink{}, nil)

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{urlA, urlB}, c.Frontier().Checked(), "seed bypasses scope")
	assert.Equal(t, 1, report.Discovered)
}

func TestRun_FetchFailureIsolation(t *testing.T) {
	var hits sync.Map
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<p>A</p><a href="/b">b</a><a href="/c">c</a>`)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		n, _ := hits.LoadOrStore("b", new(atomic.Int32))
		n.(*atomic.Int32).Add(1)
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<p>C</p>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	f := fetch.NewFetcher(client, 2, testLogger(), fetch.WithSleeper(noSleep{}))
	job := testJob(2)
	job.StartURL = srv.URL + "/a"
	job.Scope = regexp.MustCompile(regexp.QuoteMeta(srv.URL))
	sink := &recordingSink{}
	obs := &recordingObserver{}
	c := newTestCrawler(t, job, f, sink, &CrawlerOptions{Observer: obs})

	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.PermanentFailures)
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 2, report.PagesStored)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 1, obs.events["fetch_failed"])
	n, _ := hits.Load("b")
	assert.Equal(t, int32(3), n.(*atomic.Int32).Load(), "one attempt plus two retries")
}

type noSleep struct{}

func (noSleep) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestRun_StoreFailureDoesNotAbort(t *testing.T) {
	sink := &recordingSink{failFor: map[string]bool{urlB: true}}
	obs := &recordingObserver{}
	c := newTestCrawler(t, testJob(2), &fakeFetcher{pages: abcdPages()}, sink, &CrawlerOptions{Observer: obs})

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 2, report.PagesStored)
	assert.Equal(t, 1, report.StoreFailures)
	assert.Equal(t, []string{urlD}, c.Frontier().Queued(), "links of B are still recorded")
	assert.Equal(t, 1, obs.events["store_failed"])
}

func TestRun_CancelledBetweenLevels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &recordingSink{onStore: func(p models.ExtractedPage) {
		if p.URL == urlA {
			cancel()
		}
	}}
	c := newTestCrawler(t, testJob(3), &fakeFetcher{pages: abcdPages()}, sink, nil)

	report, err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, report.Levels)
	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, 2, report.Unvisited)
	assert.Equal(t, []string{urlA}, c.Frontier().Checked())
}

func TestRun_CancelledMidLevelSkipsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &recordingSink{onStore: func(p models.ExtractedPage) {
		if p.URL == urlB {
			cancel()
		}
	}}
	job := testJob(2)
	job.NumWorkers = 1
	fetcher := &fakeFetcher{pages: abcdPages()}
	c := newTestCrawler(t, job, fetcher, sink, nil)

	report, err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, report.Levels)
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.PermanentFailures)
	assert.NotContains(t, fetcher.calls, urlC)
}

func TestRun_SharedSemaphoreCapsConcurrency(t *testing.T) {
	pages := map[string]string{urlA: `<p>A</p>`}
	var links strings.Builder
	for i := 0; i < 8; i++ {
		u := fmt.Sprintf("https://example.com/p%d", i)
		fmt.Fprintf(&links, `<a href="%s">x</a>`, u)
		pages[u] = `<p>leaf</p>`
	}
	pages[urlA] = `<p>A</p>` + links.String()

	job := testJob(2)
	job.NumWorkers = 4
	fetcher := &fakeFetcher{pages: pages, delay: 5 * time.Millisecond}
	c := newTestCrawler(t, job, fetcher, &recordingSink{}, &CrawlerOptions{SharedSemaphore: semaphore.NewWeighted(1)})

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, report.Fetched)
	assert.Equal(t, int32(1), fetcher.maxSeen.Load())
}

func TestRun_SemaphoreTimeoutCountsAsFailure(t *testing.T) {
	sem := semaphore.NewWeighted(1)
	require.True(t, sem.TryAcquire(1))
	defer sem.Release(1)

	obs := &recordingObserver{}
	c := newTestCrawler(t, testJob(1), &fakeFetcher{pages: abcdPages()}, &recordingSink{}, &CrawlerOptions{
		SharedSemaphore:  sem,
		SemaphoreTimeout: 10 * time.Millisecond,
		Observer:         obs,
	})

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.PermanentFailures)
	assert.Equal(t, 0, report.Fetched)
	assert.Equal(t, 1, obs.events["fetch_failed"])
}

// panickingFetcher panics for the URLs in panicFor and serves the rest from pages
type panickingFetcher struct {
	fakeFetcher
	panicFor map[string]bool
}

func (f *panickingFetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	if f.panicFor[url] {
		panic("fetcher exploded on " + url)
	}
	return f.fakeFetcher.Fetch(ctx, url)
}

func TestRun_PanickingFetchReleasesSharedSlot(t *testing.T) {
	sem := semaphore.NewWeighted(1)
	obs := &recordingObserver{}
	fetcher := &panickingFetcher{fakeFetcher: fakeFetcher{pages: abcdPages()}, panicFor: map[string]bool{urlA: true}}
	c := newTestCrawler(t, testJob(1), fetcher, &recordingSink{}, &CrawlerOptions{
		SharedSemaphore:  sem,
		SemaphoreTimeout: 50 * time.Millisecond,
		Observer:         obs,
	})

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.PermanentFailures)
	assert.Equal(t, 0, report.Fetched)
	assert.Equal(t, 1, obs.events["fetch_failed"])
	require.True(t, sem.TryAcquire(1), "the shared slot must be free after a panicking fetch")
	sem.Release(1)
}

func TestRun_PanicInOneWorkerDoesNotStopTheLevel(t *testing.T) {
	sem := semaphore.NewWeighted(1)
	job := testJob(2)
	job.NumWorkers = 2
	fetcher := &panickingFetcher{fakeFetcher: fakeFetcher{pages: abcdPages()}, panicFor: map[string]bool{urlB: true}}
	sink := &recordingSink{}
	c := newTestCrawler(t, job, fetcher, sink, &CrawlerOptions{
		SharedSemaphore:  sem,
		SemaphoreTimeout: time.Second,
	})

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.PermanentFailures)
	assert.Equal(t, 2, report.Fetched, "A and C are fetched despite B panicking")
	assert.Equal(t, []string{urlA, urlC}, sink.urls())
	assert.Empty(t, c.Frontier().Queued(), "B's links were never recorded")
}

func TestMultiObserver_FansOut(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	m := MultiObserver{a, b}
	m.LevelStarted("s", 1, 1)
	m.FetchFailed("s", "u", 1, errors.New("x"))
	m.CrawlFinished(models.CrawlReport{})

	for _, o := range []*recordingObserver{a, b} {
		assert.Equal(t, 1, o.events["level_started"])
		assert.Equal(t, 1, o.events["fetch_failed"])
		assert.Equal(t, 1, o.events["crawl_finished"])
	}
}
