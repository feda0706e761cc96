package crawler

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/text-scraper/pkg/models"
	"github.com/Sriram-PR/text-scraper/pkg/utils"
)

// LevelStats summarizes the processing of one level's active set
type LevelStats struct {
	Level         int
	Active        int
	Fetched       int
	Stored        int
	FetchFailures int
	StoreFailures int
	Discovered    int // URLs newly queued for the next level
	Skipped       int
	Duration      time.Duration
}

// Observer receives crawl events. Implementations must be safe for concurrent use,
// since page-level events are emitted from worker goroutines.
type Observer interface {
	LevelStarted(site string, level, active int)
	PageStored(site, url, location string, level int)
	LinksDiscovered(site, url string, found, queued int)
	FetchFailed(site, url string, level int, err error)
	StoreFailed(site, url string, level int, err error)
	LevelFinished(site string, stats LevelStats)
	CrawlFinished(report models.CrawlReport)
}

// NopObserver ignores every event
type NopObserver struct{}

func (NopObserver) LevelStarted(string, int, int) {}
func (NopObserver) PageStored(string, string, string, int) {}
func (NopObserver) LinksDiscovered(string, string, int, int) {}
func (NopObserver) FetchFailed(string, string, int, error) {}
func (NopObserver) StoreFailed(string, string, int, error) {}
func (NopObserver) LevelFinished(string, LevelStats) {}
func (NopObserver) CrawlFinished(models.CrawlReport) {}

// MultiObserver forwards every event to each of its observers in order
type MultiObserver []Observer

func (m MultiObserver) LevelStarted(site string, level, active int) {
	for _, o := range m {
		o.LevelStarted(site, level, active)
	}
}

func (m MultiObserver) PageStored(site, url, location string, level int) {
	for _, o := range m {
		o.PageStored(site, url, location, level)
	}
}

func (m MultiObserver) LinksDiscovered(site, url string, found, queued int) {
	for _, o := range m {
		o.LinksDiscovered(site, url, found, queued)
	}
}

func (m MultiObserver) FetchFailed(site, url string, level int, err error) {
	for _, o := range m {
		o.FetchFailed(site, url, level, err)
	}
}

func (m MultiObserver) StoreFailed(site, url string, level int, err error) {
	for _, o := range m {
		o.StoreFailed(site, url, level, err)
	}
}

func (m MultiObserver) LevelFinished(site string, stats LevelStats) {
	for _, o := range m {
		o.LevelFinished(site, stats)
	}
}

func (m MultiObserver) CrawlFinished(report models.CrawlReport) {
	for _, o := range m {
		o.CrawlFinished(report)
	}
}

// LogObserver writes crawl events as structured logrus lines
type LogObserver struct {
	log *logrus.Entry
}

// NewLogObserver creates a LogObserver writing through log
func NewLogObserver(log *logrus.Entry) *LogObserver {
	return &LogObserver{log: log}
}

func (o *LogObserver) LevelStarted(site string, level, active int) {
	o.log.WithFields(logrus.Fields{"site_key": site, "level": level, "active": active}).
		Infof("Level %d started with %d URL(s)", level, active)
}

func (o *LogObserver) PageStored(site, url, location string, level int) {
	o.log.WithFields(logrus.Fields{"site_key": site, "url": url, "level": level, "saved_path": location}).
		Debug("Page stored")
}

func (o *LogObserver) LinksDiscovered(site, url string, found, queued int) {
	o.log.WithFields(logrus.Fields{"site_key": site, "url": url, "links_found": found, "links_queued": queued}).
		Debug("Links recorded")
}

func (o *LogObserver) FetchFailed(site, url string, level int, err error) {
	o.log.WithFields(logrus.Fields{
		"site_key": site,
		"url":      url,
		"level":    level,
		"category": utils.CategorizeError(err),
	}).Warnf("Fetch failed: %v", err)
}

func (o *LogObserver) StoreFailed(site, url string, level int, err error) {
	o.log.WithFields(logrus.Fields{
		"site_key": site,
		"url":      url,
		"level":    level,
		"category": utils.CategorizeError(err),
	}).Errorf("Failed to store page text: %v", err)
}

func (o *LogObserver) LevelFinished(site string, s LevelStats) {
	o.log.WithFields(logrus.Fields{
		"site_key":       site,
		"level":          s.Level,
		"fetched":        s.Fetched,
		"stored":         s.Stored,
		"fetch_failures": s.FetchFailures,
		"store_failures": s.StoreFailures,
		"discovered":     s.Discovered,
		"skipped":        s.Skipped,
		"duration":       s.Duration.String(),
	}).Infof("Level %d finished", s.Level)
}

func (o *LogObserver) CrawlFinished(r models.CrawlReport) {
	summaryLog := o.log.WithFields(logrus.Fields{"site_key": r.SiteID, "run_id": r.RunID})
	summaryLog.Info("========================================================================")
	summaryLog.Info("CRAWL FINISHED")
	summaryLog.Infof("Duration:         %v", r.Duration)
	summaryLog.Infof("Levels:           %d", r.Levels)
	summaryLog.Infof("Final Stats: Checked: %d, Fetched: %d, Stored: %d, Failed: %d, Store Failures: %d",
		r.Checked, r.Fetched, r.PagesStored, r.PermanentFailures, r.StoreFailures)
	summaryLog.Infof("Frontier: Discovered: %d, Unvisited: %d, Skipped: %d", r.Discovered, r.Unvisited, r.Skipped)
	summaryLog.Info("========================================================================")
}
