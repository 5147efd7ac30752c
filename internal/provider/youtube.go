package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kkdai/youtube/v2"

	"tubegrab/internal/model"
	"tubegrab/internal/util"
)

const (
	defaultCacheTTL  = 5 * time.Minute
	maxCachedVideos  = 64
	defaultHTTPLimit = 30 * time.Second
)

// YouTubeOptions configures the YouTube provider.
type YouTubeOptions struct {
	HTTPClient     *http.Client  // metadata requests; nil = client with RequestTimeout
	StreamClient   *http.Client  // stream bodies; nil = no overall timeout, only connect and header limits
	RequestTimeout time.Duration // metadata request limit and stream header limit; 0 = 30s
	CacheTTL       time.Duration // how long a fetched video (and its stream URLs) is reused
	Logger         *slog.Logger
}

// YouTube implements Provider on top of github.com/kkdai/youtube/v2.
// A job fetches metadata and variants back to back; the short-lived cache
// lets both share one player request.
type YouTube struct {
	client  *youtube.Client
	streams *youtube.Client
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]cachedVideo
}

type cachedVideo struct {
	video     *youtube.Video
	fetchedAt time.Time
}

// NewYouTube returns a YouTube provider.
func NewYouTube(opts YouTubeOptions) *YouTube {
	limit := opts.RequestTimeout
	if limit <= 0 {
		limit = defaultHTTPLimit
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: limit}
	}
	sc := opts.StreamClient
	if sc == nil {
		sc = newStreamClient(limit)
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &YouTube{
		client:  &youtube.Client{HTTPClient: hc},
		streams: &youtube.Client{HTTPClient: sc},
		ttl:     ttl,
		logger:  logger,
		cache:   make(map[string]cachedVideo),
	}
}

// newStreamClient returns a client for stream bodies: only the wait for
// response headers is limited, reading the body is bounded by the job context.
func newStreamClient(limit time.Duration) *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = limit
	return &http.Client{Transport: t}
}

// FetchMetadata implements Provider.
func (y *YouTube) FetchMetadata(ctx context.Context, resourceID string) (model.ResourceMetadata, error) {
	v, err := y.video(ctx, resourceID)
	if err != nil {
		return model.ResourceMetadata{}, err
	}
	return metadataFromVideo(v), nil
}

// FetchVariants implements Provider.
func (y *YouTube) FetchVariants(ctx context.Context, resourceID string) ([]model.StreamVariant, error) {
	v, err := y.video(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	variants := variantsFromFormats(v.Formats, func(f youtube.Format) model.StreamHandle {
		return &formatHandle{client: y.streams, video: v, format: f}
	})
	y.logger.Debug("variants", "id", v.ID, "formats", len(v.Formats), "usable", len(variants))
	return variants, nil
}

func (y *YouTube) video(ctx context.Context, resourceID string) (*youtube.Video, error) {
	id, err := util.ParseResourceID(resourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrNotFound, err)
	}

	y.mu.Lock()
	if c, ok := y.cache[id]; ok && time.Since(c.fetchedAt) < y.ttl {
		y.mu.Unlock()
		return c.video, nil
	}
	y.mu.Unlock()

	v, err := y.client.GetVideoContext(ctx, id)
	if err != nil {
		return nil, mapError(id, err)
	}

	y.mu.Lock()
	if len(y.cache) >= maxCachedVideos {
		for k, c := range y.cache {
			if time.Since(c.fetchedAt) >= y.ttl {
				delete(y.cache, k)
			}
		}
		if len(y.cache) >= maxCachedVideos {
			clear(y.cache)
		}
	}
	y.cache[id] = cachedVideo{video: v, fetchedAt: time.Now()}
	y.mu.Unlock()
	return v, nil
}

// mapError sorts library errors into the engine's taxonomy.
func mapError(id string, err error) error {
	var statusErr *youtube.ErrPlayabiltyStatus
	var httpErr youtube.ErrUnexpectedStatusCode
	switch {
	case errors.Is(err, youtube.ErrVideoPrivate),
		errors.Is(err, youtube.ErrLoginRequired),
		errors.Is(err, youtube.ErrNotPlayableInEmbed),
		errors.Is(err, youtube.ErrInvalidCharactersInVideoID),
		errors.Is(err, youtube.ErrVideoIDMinLength),
		errors.As(err, &statusErr):
		return fmt.Errorf("%w: %s: %w", model.ErrNotFound, id, err)
	case errors.As(err, &httpErr) && int(httpErr) == http.StatusNotFound:
		return fmt.Errorf("%w: %s: %w", model.ErrNotFound, id, err)
	default:
		return fmt.Errorf("%w: %s: %w", model.ErrProvider, id, err)
	}
}

func metadataFromVideo(v *youtube.Video) model.ResourceMetadata {
	meta := model.ResourceMetadata{
		ID:       v.ID,
		Title:    strings.TrimSpace(v.Title),
		Author:   v.Author,
		Duration: v.Duration,
	}
	var best uint
	for _, th := range v.Thumbnails {
		if area := th.Width * th.Height; meta.ThumbnailURL == "" || area > best {
			best = area
			meta.ThumbnailURL = th.URL
		}
	}
	return meta
}

func variantsFromFormats(formats youtube.FormatList, handle func(youtube.Format) model.StreamHandle) []model.StreamVariant {
	out := make([]model.StreamVariant, 0, len(formats))
	for _, f := range formats {
		kind, ok := formatKind(f)
		if !ok {
			continue
		}
		br := f.Bitrate
		if br <= 0 {
			br = f.AverageBitrate
		}
		out = append(out, model.StreamVariant{
			Kind:      kind,
			Container: formatContainer(f.MimeType),
			Bitrate:   br,
			Size:      f.ContentLength,
			Label:     formatLabel(f),
			Handle:    handle(f),
		})
	}
	return out
}

func formatKind(f youtube.Format) (model.VariantKind, bool) {
	mt := strings.ToLower(f.MimeType)
	hasVideo := f.Width > 0 || f.Height > 0 || strings.HasPrefix(mt, "video/")
	hasAudio := f.AudioChannels > 0 || strings.HasPrefix(mt, "audio/")
	switch {
	case hasVideo && hasAudio:
		return model.KindMuxed, true
	case hasVideo:
		return model.KindVideo, true
	case hasAudio:
		return model.KindAudio, true
	default:
		return "", false
	}
}

func formatContainer(mimeType string) model.Container {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return model.ContainerUnknown
	}
	_, sub, _ := strings.Cut(mt, "/")
	switch sub {
	case "mp4":
		return model.ContainerMP4
	case "webm":
		return model.ContainerWebM
	case "3gpp":
		return model.Container3GPP
	default:
		return model.ContainerUnknown
	}
}

func formatLabel(f youtube.Format) string {
	quality := f.QualityLabel
	if quality == "" {
		quality = strings.TrimPrefix(strings.ToLower(f.AudioQuality), "audio_quality_")
	}
	if quality == "" {
		return fmt.Sprintf("itag %d", f.ItagNo)
	}
	return fmt.Sprintf("itag %d %s", f.ItagNo, quality)
}

// formatHandle opens one format of a fetched video.
type formatHandle struct {
	client *youtube.Client
	video  *youtube.Video
	format youtube.Format
}

func (h *formatHandle) Open(ctx context.Context) (io.ReadCloser, int64, error) {
	return h.client.GetStreamContext(ctx, h.video, &h.format)
}
