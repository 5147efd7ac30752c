package downloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubegrab/internal/model"
)

func variant(kind model.VariantKind, c model.Container, bitrate int, label string) model.StreamVariant {
	return model.StreamVariant{Kind: kind, Container: c, Bitrate: bitrate, Label: label}
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name       string
		variants   []model.StreamVariant
		audioOnly  bool
		wantLabel  string
		wantBranch Branch
		wantExt    string
	}{
		{
			name: "audio prefers device container over higher bitrate",
			variants: []model.StreamVariant{
				variant(model.KindAudio, model.ContainerMP4, 128_000, "m4a-128"),
				variant(model.KindAudio, model.ContainerWebM, 160_000, "webm-160"),
			},
			audioOnly:  true,
			wantLabel:  "m4a-128",
			wantBranch: BranchDeviceAudio,
			wantExt:    ".m4a",
		},
		{
			name: "audio highest bitrate among device container",
			variants: []model.StreamVariant{
				variant(model.KindAudio, model.ContainerMP4, 48_000, "m4a-48"),
				variant(model.KindAudio, model.ContainerMP4, 128_000, "m4a-128"),
				variant(model.KindMuxed, model.ContainerMP4, 900_000, "muxed"),
			},
			audioOnly:  true,
			wantLabel:  "m4a-128",
			wantBranch: BranchDeviceAudio,
			wantExt:    ".m4a",
		},
		{
			name: "audio falls back to any container",
			variants: []model.StreamVariant{
				variant(model.KindAudio, model.ContainerWebM, 70_000, "opus-70"),
				variant(model.KindAudio, model.ContainerWebM, 160_000, "opus-160"),
				variant(model.KindVideo, model.ContainerMP4, 2_000_000, "video"),
			},
			audioOnly:  true,
			wantLabel:  "opus-160",
			wantBranch: BranchFallbackAudio,
			wantExt:    ".mp3",
		},
		{
			name: "audio ties go to provider order",
			variants: []model.StreamVariant{
				variant(model.KindAudio, model.ContainerMP4, 128_000, "first"),
				variant(model.KindAudio, model.ContainerMP4, 128_000, "second"),
			},
			audioOnly:  true,
			wantLabel:  "first",
			wantBranch: BranchDeviceAudio,
			wantExt:    ".m4a",
		},
		{
			name: "video prefers muxed over higher bitrate video-only",
			variants: []model.StreamVariant{
				variant(model.KindVideo, model.ContainerMP4, 5_000_000, "1080p"),
				variant(model.KindMuxed, model.ContainerMP4, 500_000, "360p"),
				variant(model.KindMuxed, model.ContainerMP4, 1_200_000, "720p"),
			},
			wantLabel:  "720p",
			wantBranch: BranchMuxed,
			wantExt:    ".mp4",
		},
		{
			name: "video falls back to highest video-only",
			variants: []model.StreamVariant{
				variant(model.KindAudio, model.ContainerMP4, 128_000, "audio"),
				variant(model.KindVideo, model.ContainerWebM, 3_000_000, "1080p-webm"),
				variant(model.KindVideo, model.ContainerMP4, 5_000_000, "1080p-mp4"),
			},
			wantLabel:  "1080p-mp4",
			wantBranch: BranchVideoOnly,
			wantExt:    ".mp4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := Select(tt.variants, tt.audioOnly)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLabel, sel.Variant.Label)
			assert.Equal(t, tt.wantBranch, sel.Branch)
			assert.Equal(t, tt.wantExt, sel.Extension())
		})
	}
}

func TestSelectNoCompatibleStream(t *testing.T) {
	tests := []struct {
		name      string
		variants  []model.StreamVariant
		audioOnly bool
	}{
		{name: "empty audio", audioOnly: true},
		{name: "empty video"},
		{
			name:      "audio mode with only video",
			variants:  []model.StreamVariant{variant(model.KindMuxed, model.ContainerMP4, 1, "m")},
			audioOnly: true,
		},
		{
			name:     "video mode with only audio",
			variants: []model.StreamVariant{variant(model.KindAudio, model.ContainerMP4, 1, "a")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Select(tt.variants, tt.audioOnly)
			assert.ErrorIs(t, err, model.ErrNoCompatibleStream)
		})
	}
}

// Generated lists: whatever the mix, the policy invariants hold.
func TestSelectInvariants(t *testing.T) {
	kinds := []model.VariantKind{model.KindAudio, model.KindVideo, model.KindMuxed}
	containers := []model.Container{model.ContainerMP4, model.ContainerWebM, model.Container3GPP}

	for seed := 0; seed < 200; seed++ {
		var vs []model.StreamVariant
		n := seed%7 + 1
		for i := 0; i < n; i++ {
			x := seed*31 + i*17
			vs = append(vs, variant(kinds[x%3], containers[(x/3)%3], (x%11)*10_000, ""))
		}

		var hasMuxed, hasVideo, hasPreferred bool
		for _, v := range vs {
			hasMuxed = hasMuxed || v.Kind == model.KindMuxed
			hasVideo = hasVideo || v.Kind == model.KindVideo
			hasPreferred = hasPreferred || (v.Kind == model.KindAudio && v.Container == DevicePreferredContainer)
		}

		if sel, err := Select(vs, false); err == nil {
			if hasMuxed {
				assert.Equal(t, model.KindMuxed, sel.Variant.Kind, "seed %d", seed)
			} else {
				assert.Equal(t, model.KindVideo, sel.Variant.Kind, "seed %d", seed)
				for _, v := range vs {
					if v.Kind == model.KindVideo {
						assert.GreaterOrEqual(t, sel.Variant.Bitrate, v.Bitrate, "seed %d", seed)
					}
				}
			}
		} else {
			assert.False(t, hasMuxed || hasVideo, "seed %d", seed)
		}

		if sel, err := Select(vs, true); err == nil && hasPreferred {
			assert.Equal(t, DevicePreferredContainer, sel.Variant.Container, "seed %d", seed)
			for _, v := range vs {
				if v.Kind == model.KindAudio && v.Container == DevicePreferredContainer {
					assert.GreaterOrEqual(t, sel.Variant.Bitrate, v.Bitrate, "seed %d", seed)
				}
			}
		}
	}
}
