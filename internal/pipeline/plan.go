package pipeline

import (
	"path/filepath"

	"tubegrab/internal/downloader"
	"tubegrab/internal/util/media"
)

// PlanDestination returns the file a selection is written to: the sanitized
// title with the extension the selection's branch implies, inside dir.
func PlanDestination(dir, title string, sel downloader.Selection) string {
	return filepath.Join(dir, media.OutputFilename(title, sel.Extension()))
}

// needsPostProcessing reports whether a finished transfer goes through the
// normalizer before the job completes.
func needsPostProcessing(audioOnly, normalize bool, post PostProcessor, path string) bool {
	return audioOnly && normalize && post != nil && media.NeedsNormalization(path)
}
