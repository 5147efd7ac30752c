package encoder

import (
	"errors"
	"fmt"
	"os"

	"github.com/dhowden/tag"
)

var errOutputMissing = errors.New("output file missing")

// Probe reports the container format and file type of a media file by
// sniffing its header.
func Probe(path string) (tag.Format, tag.FileType, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()
	return tag.Identify(f)
}

// verifyContainer checks that ffmpeg left an MP4-family file at path.
func verifyContainer(path string) error {
	format, _, err := Probe(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return errOutputMissing
	case err != nil:
		return fmt.Errorf("unreadable output: %w", err)
	case format != tag.MP4:
		return fmt.Errorf("unexpected output container %q", format)
	}
	return nil
}
