// Package provider fetches resource metadata and stream variants from a
// media platform.
package provider

import (
	"context"

	"tubegrab/internal/model"
)

// Provider is the metadata and stream source consumed by the engine.
//
// FetchMetadata fails with an error matching model.ErrNotFound when the
// resource does not exist or is not accessible, and model.ErrProvider for
// anything else. FetchVariants fails with model.ErrProvider.
type Provider interface {
	FetchMetadata(ctx context.Context, resourceID string) (model.ResourceMetadata, error)
	FetchVariants(ctx context.Context, resourceID string) ([]model.StreamVariant, error)
}
