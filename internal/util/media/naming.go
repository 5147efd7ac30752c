package media

import (
	"path/filepath"
	"strings"

	"tubegrab/internal/util"
)

// Output extensions chosen by the stream selector.
const (
	ExtDeviceAudio   = ".m4a"
	ExtFallbackAudio = ".mp3"
	ExtVideo         = ".mp4"
)

// OutputFilename builds the sanitized file name for a title and extension.
func OutputFilename(title, ext string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "untitled"
	}
	return util.SanitizeFilename(title + ext)
}

// NeedsNormalization reports whether a downloaded file is audio that the
// post-processor rewrites for device playback.
func NeedsNormalization(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtDeviceAudio, ExtFallbackAudio:
		return true
	}
	return false
}
