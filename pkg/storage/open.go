package storage

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/text-scraper/pkg/config"
	"github.com/Sriram-PR/text-scraper/pkg/models"
	"github.com/Sriram-PR/text-scraper/pkg/utils"
)

// Open creates the sink selected by appCfg.Sink for one site's job.
// appCfg is expected to have been validated.
func Open(appCfg config.AppConfig, siteCfg config.SiteConfig, job models.CrawlJob, log *logrus.Entry) (Sink, error) {
	switch appCfg.Sink {
	case config.SinkFiles, "":
		opts := FileSinkOptions{
			BaseDir: appCfg.OutputBaseDir,
			Job:     job,
		}
		if config.GetEffectiveEnableOutputMapping(siteCfg, appCfg) {
			opts.MappingFilename = config.GetEffectiveOutputMappingFilename(siteCfg, appCfg)
		}
		if config.GetEffectiveEnableMetadataYAML(siteCfg, appCfg) {
			opts.MetadataFilename = config.GetEffectiveMetadataYAMLFilename(siteCfg, appCfg)
		}
		return NewFileSink(opts, log)
	case config.SinkBadger:
		return NewBadgerSink(BadgerSinkOptions{StateDir: appCfg.StateDir, Job: job}, log)
	default:
		return nil, fmt.Errorf("%w: unknown sink '%s'", utils.ErrConfigValidation, appCfg.Sink)
	}
}
