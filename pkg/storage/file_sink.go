package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/text-scraper/pkg/models"
	"github.com/Sriram-PR/text-scraper/pkg/utils"
)

const digestPrefixLen = 12

// FileSinkOptions configures a FileSink
type FileSinkOptions struct {
	BaseDir          string
	Job              models.CrawlJob
	MappingFilename  string           // TSV url -> file mapping; empty disables it
	MetadataFilename string           // YAML crawl metadata written on Close; empty disables it
	Now              func() time.Time // Clock for file names; nil uses time.Now
}

// FileSink writes each page's text to its own file under <BaseDir>/<site>/.
// File names combine a UTC timestamp, the site, a content digest and a per-sink sequence number,
// so two pages never share a file even when their text is identical.
type FileSink struct {
	siteDir  string
	siteName string
	job      models.CrawlJob
	now      func() time.Time
	seq      atomic.Int64
	log      *logrus.Entry

	mappingFile     *os.File
	mappingFileMu   sync.Mutex
	mappingFilePath string

	metadataPath   string
	pages          []models.PageMetadata
	pagesMu        sync.Mutex
	crawlStartTime time.Time
	closeOnce      sync.Once
	closeErr       error
}

// NewFileSink creates the site directory and checks that it is writable.
// Failures are configuration errors, reported before any page is fetched.
func NewFileSink(opts FileSinkOptions, log *logrus.Entry) (*FileSink, error) {
	if strings.TrimSpace(opts.BaseDir) == "" {
		return nil, fmt.Errorf("%w: output base directory is required", utils.ErrConfigValidation)
	}
	siteName := utils.SanitizeFilename(opts.Job.SiteID)
	siteDir := filepath.Join(opts.BaseDir, siteName)

	if err := ensureWritableDir(siteDir); err != nil {
		return nil, fmt.Errorf("%w: output directory '%s': %w", utils.ErrConfigValidation, siteDir, err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &FileSink{
		siteDir:        siteDir,
		siteName:       siteName,
		job:            opts.Job,
		now:            now,
		log:            log.WithField("sink", "files"),
		crawlStartTime: now(),
	}

	if opts.MappingFilename != "" {
		s.mappingFilePath = filepath.Join(siteDir, opts.MappingFilename)
		f, err := os.OpenFile(s.mappingFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot create mapping file '%s': %w", utils.ErrConfigValidation, s.mappingFilePath, err)
		}
		s.mappingFile = f
		s.log.Infof("URL-to-file mapping enabled: %s", s.mappingFilePath)
	}
	if opts.MetadataFilename != "" {
		s.metadataPath = filepath.Join(siteDir, opts.MetadataFilename)
	}

	s.log.Infof("Writing page text to %s", siteDir)
	return s, nil
}

// ensureWritableDir creates dir if needed and checks it by writing a temporary file.
func ensureWritableDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
			return fmt.Errorf("%w: create: %w", utils.ErrFilesystem, mkErr)
		}
	case err != nil:
		return fmt.Errorf("%w: stat: %w", utils.ErrFilesystem, err)
	case !info.IsDir():
		return fmt.Errorf("%w: path exists and is not a directory", utils.ErrFilesystem)
	}

	tmp, err := os.CreateTemp(dir, ".writable_test_*")
	if err != nil {
		return fmt.Errorf("%w: not writable: %w", utils.ErrFilesystem, err)
	}
	name := tmp.Name()
	tmp.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("%w: cleanup of writability check file: %w", utils.ErrFilesystem, err)
	}
	return nil
}

// Dir returns the directory pages are written to.
func (s *FileSink) Dir() string {
	return s.siteDir
}

// Store writes page.Text to a new file and returns its path.
func (s *FileSink) Store(ctx context.Context, page models.ExtractedPage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	digest := utils.ShortDigest(page.Text, digestPrefixLen)
	seq := s.seq.Add(1)
	filename := fmt.Sprintf("%s_%s_%s_%06d.txt",
		s.now().UTC().Format("20060102T150405Z"), s.siteName, digest, seq)
	path := filepath.Join(s.siteDir, filename)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("%w: create '%s': %w", utils.ErrFilesystem, path, err)
	}
	if _, err := f.WriteString(page.Text); err != nil {
		f.Close()
		return "", fmt.Errorf("%w: write '%s': %w", utils.ErrFilesystem, path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: close '%s': %w", utils.ErrFilesystem, path, err)
	}

	s.writeToMappingFile(page.URL, path)
	if s.metadataPath != "" {
		s.pagesMu.Lock()
		s.pages = append(s.pages, models.PageMetadata{
			URL:           page.URL,
			LocalFilePath: filename,
			Level:         page.Level,
			ProcessedAt:   s.now(),
			ContentHash:   utils.CalculateStringSHA256(page.Text),
			TextLength:    len(page.Text),
		})
		s.pagesMu.Unlock()
	}
	return path, nil
}

// writeToMappingFile appends a url<TAB>path line when the mapping file is enabled.
func (s *FileSink) writeToMappingFile(pageURL, path string) {
	s.mappingFileMu.Lock()
	defer s.mappingFileMu.Unlock()

	if s.mappingFile == nil {
		return
	}
	if _, err := fmt.Fprintf(s.mappingFile, "%s\t%s\n", pageURL, path); err != nil {
		s.log.WithFields(logrus.Fields{
			"tsv_mapping_file": s.mappingFilePath,
			"url":              pageURL,
		}).Errorf("Failed to write to TSV mapping file: %v", err)
	}
}

// Close closes the mapping file and writes the metadata file. It is safe to call more than once.
func (s *FileSink) Close() error {
	s.closeOnce.Do(func() {
		s.closeMappingFile()
		s.closeErr = s.writeMetadataYAML()
	})
	return s.closeErr
}

func (s *FileSink) closeMappingFile() {
	s.mappingFileMu.Lock()
	defer s.mappingFileMu.Unlock()

	if s.mappingFile == nil {
		return
	}
	if err := s.mappingFile.Sync(); err != nil {
		s.log.Errorf("Error syncing TSV mapping file '%s': %v", s.mappingFilePath, err)
	}
	if err := s.mappingFile.Close(); err != nil {
		s.log.Errorf("Error closing TSV mapping file '%s': %v", s.mappingFilePath, err)
	}
	s.mappingFile = nil
}

func (s *FileSink) writeMetadataYAML() error {
	if s.metadataPath == "" {
		return nil
	}

	s.pagesMu.Lock()
	pages := make([]models.PageMetadata, len(s.pages))
	copy(pages, s.pages)
	s.pagesMu.Unlock()

	metadata := models.CrawlMetadata{
		SiteKey:         s.job.SiteID,
		RunID:           s.job.RunID,
		StartURL:        s.job.StartURL,
		ScopePattern:    s.job.ScopePattern,
		Depth:           s.job.Depth,
		CrawlStartTime:  s.crawlStartTime,
		CrawlEndTime:    s.now(),
		TotalPagesSaved: len(pages),
		Pages:           pages,
	}

	yamlData, err := yaml.Marshal(&metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal crawl metadata to YAML for site '%s': %w", s.job.SiteID, err)
	}
	if err := os.WriteFile(s.metadataPath, yamlData, 0644); err != nil {
		return fmt.Errorf("%w: write metadata '%s': %w", utils.ErrFilesystem, s.metadataPath, err)
	}
	s.log.Infof("Wrote crawl metadata (%d pages) to %s", metadata.TotalPagesSaved, s.metadataPath)
	return nil
}
