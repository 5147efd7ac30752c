// Package providertest offers an in-memory provider.Provider and stream
// handles for tests.
package providertest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"tubegrab/internal/model"
)

// Resource is what the fake returns for one id.
type Resource struct {
	Meta        model.ResourceMetadata
	Variants    []model.StreamVariant
	MetaErr     error
	VariantsErr error
}

// Fake is an in-memory provider. Unknown ids fail with model.ErrNotFound.
type Fake struct {
	mu        sync.Mutex
	resources map[string]Resource
	calls     map[string]int
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{resources: make(map[string]Resource), calls: make(map[string]int)}
}

// Add registers r under id.
func (f *Fake) Add(id string, r Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Meta.ID == "" {
		r.Meta.ID = id
	}
	f.resources[id] = r
}

// Calls returns how many fetches were made for id.
func (f *Fake) Calls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *Fake) lookup(id string) (Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	r, ok := f.resources[id]
	if !ok {
		return Resource{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return r, nil
}

func (f *Fake) FetchMetadata(ctx context.Context, id string) (model.ResourceMetadata, error) {
	if err := ctx.Err(); err != nil {
		return model.ResourceMetadata{}, err
	}
	r, err := f.lookup(id)
	if err != nil {
		return model.ResourceMetadata{}, err
	}
	if r.MetaErr != nil {
		return model.ResourceMetadata{}, r.MetaErr
	}
	return r.Meta, nil
}

func (f *Fake) FetchVariants(ctx context.Context, id string) ([]model.StreamVariant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	if r.VariantsErr != nil {
		return nil, r.VariantsErr
	}
	return append([]model.StreamVariant(nil), r.Variants...), nil
}

// Bytes is a handle serving fixed data with a known size.
type Bytes []byte

func (b Bytes) Open(context.Context) (io.ReadCloser, int64, error) {
	return io.NopCloser(bytes.NewReader(b)), int64(len(b)), nil
}

// Gate is a handle that serves the first half of Data, signals Started and
// then waits for Release (or the context) before serving the rest.
type Gate struct {
	Data    []byte
	Started chan struct{}
	Release chan struct{}

	startOnce   sync.Once
	releaseOnce sync.Once
}

// NewGate returns a Gate over data.
func NewGate(data []byte) *Gate {
	return &Gate{Data: data, Started: make(chan struct{}), Release: make(chan struct{})}
}

// Open implements model.StreamHandle.
func (g *Gate) Open(ctx context.Context) (io.ReadCloser, int64, error) {
	half := len(g.Data) / 2
	return &gateReader{ctx: ctx, g: g, first: g.Data[:half], rest: g.Data[half:]}, int64(len(g.Data)), nil
}

// Unblock releases every reader waiting on the gate. Safe to call twice.
func (g *Gate) Unblock() {
	g.releaseOnce.Do(func() { close(g.Release) })
}

type gateReader struct {
	ctx    context.Context
	g      *Gate
	first  []byte
	rest   []byte
	waited bool
}

func (r *gateReader) Read(p []byte) (int, error) {
	if len(r.first) > 0 {
		n := copy(p, r.first)
		r.first = r.first[n:]
		return n, nil
	}
	if !r.waited {
		r.g.startOnce.Do(func() { close(r.g.Started) })
		select {
		case <-r.g.Release:
			r.waited = true
		case <-r.ctx.Done():
			return 0, r.ctx.Err()
		}
	}
	if len(r.rest) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.rest)
	r.rest = r.rest[n:]
	return n, nil
}

func (r *gateReader) Close() error { return nil }

// Failing is a handle whose stream breaks after Data with Err.
type Failing struct {
	Data []byte
	Size int64
	Err  error
}

func (f Failing) Open(context.Context) (io.ReadCloser, int64, error) {
	return io.NopCloser(io.MultiReader(bytes.NewReader(f.Data), errReader{f.Err})), f.Size, nil
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }
