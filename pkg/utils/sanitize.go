package utils

import (
	"regexp"
	"strings"
)

var (
	unsafePathChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`) // Separators and characters invalid on Windows/Unix
	underscoreRuns  = regexp.MustCompile(`_+`)
)

// maxComponentLength keeps site directories and page names well under filesystem limits
const maxComponentLength = 100

// SanitizeFilename turns a site ID into a safe path component.
// Both sinks use it: FileSink for the per-site output directory and page file names,
// BadgerSink for the per-site database directory under state_dir.
// A site ID can never escape its parent directory, and an ID that sanitizes
// to nothing becomes "untitled".
func SanitizeFilename(siteID string) string {
	name := unsafePathChars.ReplaceAllString(siteID, "_")
	name = underscoreRuns.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_ .")

	if len(name) > maxComponentLength {
		name = strings.Trim(name[:maxComponentLength], "_ .")
	}
	if name == "" {
		return "untitled"
	}
	return name
}
