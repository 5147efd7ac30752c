package downloader

import (
	"tubegrab/internal/model"
	"tubegrab/internal/util/media"
)

// DevicePreferredContainer is the audio container with the widest playback
// support on phones and car stereos (M4A).
const DevicePreferredContainer = model.ContainerMP4

// Branch records which part of the selection policy produced a choice.
type Branch int

const (
	BranchDeviceAudio   Branch = iota // audio in the device-preferred container
	BranchFallbackAudio               // best audio in any other container
	BranchMuxed                       // audio+video in one stream
	BranchVideoOnly                   // video without audio
)

func (b Branch) String() string {
	switch b {
	case BranchDeviceAudio:
		return "device-audio"
	case BranchFallbackAudio:
		return "fallback-audio"
	case BranchMuxed:
		return "muxed"
	case BranchVideoOnly:
		return "video-only"
	default:
		return "unknown"
	}
}

// Selection is the variant chosen for a job.
type Selection struct {
	Variant model.StreamVariant
	Branch  Branch
}

// Extension returns the output file extension for the selection branch.
func (s Selection) Extension() string {
	switch s.Branch {
	case BranchDeviceAudio:
		return media.ExtDeviceAudio
	case BranchFallbackAudio:
		return media.ExtFallbackAudio
	default:
		return media.ExtVideo
	}
}

// Select picks one variant according to the request policy.
//
// Audio: the highest-bitrate audio-only variant in the device-preferred
// container, else the highest-bitrate audio-only variant of any container.
// Video: the highest-bitrate muxed variant, else the highest-bitrate
// video-only variant. Ties go to the variant listed first by the provider.
func Select(variants []model.StreamVariant, audioOnly bool) (Selection, error) {
	if audioOnly {
		audio := filterKind(variants, model.KindAudio)
		if len(audio) == 0 {
			return Selection{}, model.ErrNoCompatibleStream
		}
		var preferred []model.StreamVariant
		for _, v := range audio {
			if v.Container == DevicePreferredContainer {
				preferred = append(preferred, v)
			}
		}
		if len(preferred) > 0 {
			return Selection{Variant: highestBitrate(preferred), Branch: BranchDeviceAudio}, nil
		}
		return Selection{Variant: highestBitrate(audio), Branch: BranchFallbackAudio}, nil
	}

	if muxed := filterKind(variants, model.KindMuxed); len(muxed) > 0 {
		return Selection{Variant: highestBitrate(muxed), Branch: BranchMuxed}, nil
	}
	if video := filterKind(variants, model.KindVideo); len(video) > 0 {
		return Selection{Variant: highestBitrate(video), Branch: BranchVideoOnly}, nil
	}
	return Selection{}, model.ErrNoCompatibleStream
}

func filterKind(variants []model.StreamVariant, kind model.VariantKind) []model.StreamVariant {
	var out []model.StreamVariant
	for _, v := range variants {
		if v.Kind == kind {
			out = append(out, v)
		}
	}
	return out
}

// highestBitrate expects a non-empty slice.
func highestBitrate(vs []model.StreamVariant) model.StreamVariant {
	best := vs[0]
	for _, v := range vs[1:] {
		if v.Bitrate > best.Bitrate {
			best = v
		}
	}
	return best
}
