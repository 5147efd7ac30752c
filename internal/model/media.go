package model

import (
	"context"
	"io"
	"time"
)

// ResourceMetadata describes a remote media item. Immutable once fetched.
type ResourceMetadata struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Author       string        `json:"author"`
	Duration     time.Duration `json:"duration"`
	ThumbnailURL string        `json:"thumbnailUrl,omitempty"`
}

// VariantKind tells which media a stream variant carries.
type VariantKind string

const (
	KindAudio VariantKind = "audio" // audio only
	KindVideo VariantKind = "video" // video only
	KindMuxed VariantKind = "muxed" // audio and video in one stream
)

// Container is the container format of a stream variant.
type Container string

const (
	ContainerMP4     Container = "mp4"
	ContainerWebM    Container = "webm"
	Container3GPP    Container = "3gpp"
	ContainerUnknown Container = "unknown"
)

// StreamHandle opens the byte stream behind a variant. The returned size is
// the total length in bytes, or <= 0 when unknown.
type StreamHandle interface {
	Open(ctx context.Context) (io.ReadCloser, int64, error)
}

// StreamVariant is one encoded offering of a resource.
type StreamVariant struct {
	Kind      VariantKind `json:"kind"`
	Container Container   `json:"container"`
	Bitrate   int         `json:"bitrate"` // bits per second
	Size      int64       `json:"size,omitempty"`
	Label     string      `json:"label,omitempty"`

	Handle StreamHandle `json:"-"`
}
