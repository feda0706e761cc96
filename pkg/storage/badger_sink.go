package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/text-scraper/pkg/log"
	"github.com/Sriram-PR/text-scraper/pkg/models"
	"github.com/Sriram-PR/text-scraper/pkg/utils"
)

const (
	pageKeyPrefix = "page:"    // Prefix for stored page keys in DB
	pagesDBDir    = "pages_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerSinkOptions configures a BadgerSink
type BadgerSinkOptions struct {
	StateDir   string
	Job        models.CrawlJob
	GCInterval time.Duration    // Value log GC period; <= 0 uses 10 minutes
	Now        func() time.Time // Clock for StoredAt; nil uses time.Now
}

// BadgerSink stores pages as JSON PageRecords in a per-site BadgerDB.
// Keys are page:<run id>:<sequence>, so records from earlier runs are kept and never overwritten.
type BadgerSink struct {
	db       *badger.DB
	dbPath   string
	job      models.CrawlJob
	now      func() time.Time
	seq      atomic.Int64
	keyCount atomic.Int64
	log      *logrus.Entry

	gcCancel  context.CancelFunc
	gcDone    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewBadgerSink opens (or creates) the site's page database and starts its GC goroutine.
func NewBadgerSink(opts BadgerSinkOptions, logger *logrus.Entry) (*BadgerSink, error) {
	if opts.StateDir == "" {
		return nil, fmt.Errorf("%w: state directory is required for the badger sink", utils.ErrConfigValidation)
	}
	dbPath := filepath.Join(opts.StateDir, utils.SanitizeFilename(opts.Job.SiteID)+"_"+pagesDBDir)
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrConfigValidation, dbPath, err)
	}

	sinkLog := logger.WithField("sink", "badger")
	sinkLog.Infof("Opening page database at: %s", dbPath)

	badgerLogger := log.NewBadgerLogrusAdapter(sinkLog.WithField("component", "badgerdb"))
	dbOpts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &BadgerSink{
		db:     db,
		dbPath: dbPath,
		job:    opts.Job,
		now:    now,
		log:    sinkLog,
		gcDone: make(chan struct{}),
	}

	count, err := s.countKeys()
	if err != nil {
		sinkLog.Warnf("Failed to count existing page records: %v", err)
	} else {
		s.keyCount.Store(int64(count))
		if count > 0 {
			sinkLog.Infof("Page database already holds %d records from earlier runs", count)
		}
	}

	gcCtx, cancel := context.WithCancel(context.Background())
	s.gcCancel = cancel
	go func() {
		defer close(s.gcDone)
		s.runGC(gcCtx, opts.GCInterval)
	}()

	return s, nil
}

// countKeys performs a one-time scan of page keys (used only during initialization).
func (s *BadgerSink) countKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(pageKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
func (s *BadgerSink) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := 0; i < maxConflictRetries; i++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

func (s *BadgerSink) pageKey(seq int64) string {
	return fmt.Sprintf("%s%s:%09d", pageKeyPrefix, s.job.RunID, seq)
}

// Store writes page as a new record and returns its key.
func (s *BadgerSink) Store(ctx context.Context, page models.ExtractedPage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.db == nil || s.db.IsClosed() {
		return "", fmt.Errorf("%w: page database is closed", utils.ErrDatabase)
	}

	record := models.PageRecord{
		SiteID:      page.SiteID,
		RunID:       s.job.RunID,
		URL:         page.URL,
		Text:        page.Text,
		ContentHash: utils.CalculateStringSHA256(page.Text),
		Level:       page.Level,
		StoredAt:    s.now().UTC(),
	}
	value, err := json.Marshal(&record)
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal page record for '%s': %w", utils.ErrParsing, page.URL, err)
	}

	key := s.pageKey(s.seq.Add(1))
	err = s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get([]byte(key))
		if errGet == nil {
			return fmt.Errorf("key '%s' already exists", key)
		}
		if !errors.Is(errGet, badger.ErrKeyNotFound) {
			return errGet
		}
		return txn.SetEntry(badger.NewEntry([]byte(key), value))
	})
	if err != nil {
		s.log.WithField("key", key).Errorf("DB Update error in Store: %v", err)
		return "", fmt.Errorf("%w: storing page '%s': %w", utils.ErrDatabase, page.URL, err)
	}
	s.keyCount.Add(1)
	return key, nil
}

// Count returns the number of page records in the database, across all runs.
func (s *BadgerSink) Count() int {
	return int(s.keyCount.Load())
}

// Records returns every record stored under runID in key order.
// An empty runID returns the records of all runs.
func (s *BadgerSink) Records(ctx context.Context, runID string) ([]models.PageRecord, error) {
	prefix := []byte(pageKeyPrefix)
	if runID != "" {
		prefix = []byte(pageKeyPrefix + runID + ":")
	}

	var records []models.PageRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var rec models.PageRecord
				if errJson := json.Unmarshal(val, &rec); errJson != nil {
					return fmt.Errorf("%w: record '%s': %w", utils.ErrParsing, string(item.Key()), errJson)
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return records, err
		}
		return records, fmt.Errorf("%w: reading page records: %w", utils.ErrDatabase, err)
	}
	return records, nil
}

// runGC runs BadgerDB's value log garbage collection periodically until ctx is done
func (s *BadgerSink) runGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db.IsClosed() {
				return
			}
			var err error
			for {
				err = s.db.RunValueLogGC(0.5)
				if err != nil {
					break
				}
			}
			if errors.Is(err, badger.ErrNoRewrite) {
				s.log.Debug("BadgerDB GC finished (no rewrite needed).")
			} else {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close stops GC and closes the database. It is safe to call more than once.
func (s *BadgerSink) Close() error {
	s.closeOnce.Do(func() {
		s.gcCancel()
		<-s.gcDone
		if s.db.IsClosed() {
			return
		}
		s.log.Info("Closing page database...")
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing page database: %v", err)
			s.closeErr = fmt.Errorf("%w: close: %w", utils.ErrDatabase, err)
			return
		}
		s.log.Infof("Page database closed (%d records).", s.keyCount.Load())
	})
	return s.closeErr
}
