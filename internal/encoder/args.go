package encoder

import "strconv"

// Fixed normalization parameters. The output plays on iOS devices and
// most car and portable players.
const (
	AudioCodec       = "aac"
	AudioBitrateKbps = 128
	SampleRateHz     = 44100
	ResampleFilter   = "aresample=async=1"
	OutputMuxer      = "ipod" // MP4/M4A container with the M4A brand
)

// BuildNormalizeArgs constructs ffmpeg arguments that re-encode inputPath to
// AAC in an M4A container at outputPath.
func BuildNormalizeArgs(inputPath, outputPath string, includeProgress bool) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-c:a", AudioCodec,
		"-b:a", strconv.Itoa(AudioBitrateKbps) + "k",
		"-ar", strconv.Itoa(SampleRateHz),
		"-af", ResampleFilter,
		"-movflags", "+faststart",
		"-f", OutputMuxer,
	}

	if includeProgress {
		args = append(args, "-progress", "pipe:1", "-nostats")
	}

	args = append(args, outputPath)
	return args
}
