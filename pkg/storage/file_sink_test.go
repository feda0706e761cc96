package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/text-scraper/pkg/config"
	"github.com/Sriram-PR/text-scraper/pkg/models"
	"github.com/Sriram-PR/text-scraper/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testJob() models.CrawlJob {
	return models.CrawlJob{
		SiteID:       "docs",
		RunID:        "run-1",
		StartURL:     "https://example.com/docs/",
		ScopePattern: "example.com/docs",
		Depth:        2,
	}
}

func fixedClock() func() time.Time {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestNewFileSink_CreatesSiteDir(t *testing.T) {
	base := t.TempDir()
	sink, err := NewFileSink(FileSinkOptions{BaseDir: base, Job: testJob()}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	assert.Equal(t, filepath.Join(base, "docs"), sink.Dir())
	info, err := os.Stat(sink.Dir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	entries, err := os.ReadDir(sink.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "writability check file should be removed")
}

func TestNewFileSink_Errors(t *testing.T) {
	t.Run("empty base dir", func(t *testing.T) {
		_, err := NewFileSink(FileSinkOptions{Job: testJob()}, testLogger())
		require.Error(t, err)
		assert.ErrorIs(t, err, utils.ErrConfigValidation)
	})

	t.Run("site path is a file", func(t *testing.T) {
		base := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(base, "docs"), []byte("x"), 0644))

		_, err := NewFileSink(FileSinkOptions{BaseDir: base, Job: testJob()}, testLogger())
		require.Error(t, err)
		assert.ErrorIs(t, err, utils.ErrConfigValidation)
		assert.ErrorIs(t, err, utils.ErrFilesystem)
	})
}

func TestFileSink_Store(t *testing.T) {
	sink, err := NewFileSink(FileSinkOptions{BaseDir: t.TempDir(), Job: testJob(), Now: fixedClock()}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	page := models.ExtractedPage{SiteID: "docs", URL: "https://example.com/docs/a", Text: "hello world", Level: 1}
	path, err := sink.Store(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, sink.Dir(), filepath.Dir(path))
	name := filepath.Base(path)
	assert.True(t, strings.HasPrefix(name, "20240301T120000Z_docs_"), name)
	assert.Contains(t, name, utils.ShortDigest("hello world", digestPrefixLen))
	assert.True(t, strings.HasSuffix(name, "_000001.txt"), name)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestFileSink_IdenticalTextNeverCollides(t *testing.T) {
	sink, err := NewFileSink(FileSinkOptions{BaseDir: t.TempDir(), Job: testJob(), Now: fixedClock()}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	const n = 50
	paths := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := sink.Store(context.Background(), models.ExtractedPage{
				URL:  fmt.Sprintf("https://example.com/docs/%d", i),
				Text: "same text",
			})
			assert.NoError(t, err)
			paths[i] = p
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, p := range paths {
		assert.False(t, seen[p], "duplicate path %s", p)
		seen[p] = true
	}
	entries, err := os.ReadDir(sink.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, n)
}

func TestFileSink_EmptyTextStillStored(t *testing.T) {
	sink, err := NewFileSink(FileSinkOptions{BaseDir: t.TempDir(), Job: testJob()}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	path, err := sink.Store(context.Background(), models.ExtractedPage{URL: "https://example.com/docs/empty"})
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}

func TestFileSink_StoreCancelled(t *testing.T) {
	sink, err := NewFileSink(FileSinkOptions{BaseDir: t.TempDir(), Job: testJob()}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sink.Store(ctx, models.ExtractedPage{URL: "https://example.com/docs/a", Text: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileSink_MappingAndMetadata(t *testing.T) {
	sink, err := NewFileSink(FileSinkOptions{
		BaseDir:          t.TempDir(),
		Job:              testJob(),
		MappingFilename:  "map.tsv",
		MetadataFilename: "metadata.yaml",
		Now:              fixedClock(),
	}, testLogger())
	require.NoError(t, err)

	pathA, err := sink.Store(context.Background(), models.ExtractedPage{URL: "https://example.com/docs/a", Text: "alpha", Level: 1})
	require.NoError(t, err)
	pathB, err := sink.Store(context.Background(), models.ExtractedPage{URL: "https://example.com/docs/b", Text: "beta", Level: 2})
	require.NoError(t, err)

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close(), "second Close should be a no-op")

	mapping, err := os.ReadFile(filepath.Join(sink.Dir(), "map.tsv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(mapping)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "https://example.com/docs/a\t"+pathA, lines[0])
	assert.Equal(t, "https://example.com/docs/b\t"+pathB, lines[1])

	raw, err := os.ReadFile(filepath.Join(sink.Dir(), "metadata.yaml"))
	require.NoError(t, err)
	var meta models.CrawlMetadata
	require.NoError(t, yaml.Unmarshal(raw, &meta))
	assert.Equal(t, "docs", meta.SiteKey)
	assert.Equal(t, "run-1", meta.RunID)
	assert.Equal(t, 2, meta.Depth)
	assert.Equal(t, 2, meta.TotalPagesSaved)
	require.Len(t, meta.Pages, 2)
	assert.Equal(t, filepath.Base(pathA), meta.Pages[0].LocalFilePath)
	assert.Equal(t, utils.CalculateStringSHA256("alpha"), meta.Pages[0].ContentHash)
	assert.Equal(t, 4, meta.Pages[1].TextLength)
	assert.Equal(t, 2, meta.Pages[1].Level)
}

func TestOpen_SelectsSink(t *testing.T) {
	t.Run("files", func(t *testing.T) {
		appCfg := config.AppConfig{Sink: config.SinkFiles, OutputBaseDir: t.TempDir(), EnableOutputMapping: true}
		sink, err := Open(appCfg, config.SiteConfig{}, testJob(), testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { sink.Close() })

		fs, ok := sink.(*FileSink)
		require.True(t, ok)
		assert.NotNil(t, fs.mappingFile)
		assert.Empty(t, fs.metadataPath)
	})

	t.Run("badger", func(t *testing.T) {
		appCfg := config.AppConfig{Sink: config.SinkBadger, StateDir: t.TempDir()}
		sink, err := Open(appCfg, config.SiteConfig{}, testJob(), testLogger())
		require.NoError(t, err)
		t.Cleanup(func() { sink.Close() })

		_, ok := sink.(*BadgerSink)
		assert.True(t, ok)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Open(config.AppConfig{Sink: "s3"}, config.SiteConfig{}, testJob(), testLogger())
		assert.ErrorIs(t, err, utils.ErrConfigValidation)
	})
}
