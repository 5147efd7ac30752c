package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"tubegrab/internal/model"
	"tubegrab/internal/util"
)

// DefaultProgressInterval is the minimum gap between intermediate progress
// reports.
const DefaultProgressInterval = 100 * time.Millisecond

// Transferer streams a variant to a file.
type Transferer interface {
	Transfer(ctx context.Context, v model.StreamVariant, dest string, onProgress func(float64)) (string, error)
}

// Options configures an Executor.
type Options struct {
	// ProgressInterval throttles intermediate reports; 0 reports every write.
	ProgressInterval time.Duration
	Logger           *slog.Logger
}

// Executor is the default Transferer. It makes a single attempt per call.
type Executor struct {
	interval time.Duration
	logger   *slog.Logger
}

// NewExecutor returns an Executor with the given options.
func NewExecutor(opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{interval: opts.ProgressInterval, logger: logger}
}

// Transfer writes the variant's bytes to dest and returns dest.
//
// onProgress receives non-decreasing fractions below 1 while data arrives and
// exactly 1 after the file is fully written. When ctx is cancelled the
// partial file is removed and the error matches model.ErrCancelled. Any other
// failure also removes the partial file and returns a *model.TransferError.
func (e *Executor) Transfer(ctx context.Context, v model.StreamVariant, dest string, onProgress func(float64)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", cancelled(ctx)
	}
	if v.Handle == nil {
		return "", &model.TransferError{Path: dest, Err: errors.New("variant has no stream handle")}
	}
	if err := util.EnsureDir(filepath.Dir(dest)); err != nil {
		return "", &model.TransferError{Path: dest, Err: err}
	}

	rc, size, err := v.Handle.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", cancelled(ctx)
		}
		return "", &model.TransferError{Path: dest, Err: fmt.Errorf("open stream: %w", err)}
	}
	defer rc.Close()
	if size <= 0 {
		size = v.Size
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", &model.TransferError{Path: dest, Err: err}
	}

	every := rate.Inf
	if e.interval > 0 {
		every = rate.Every(e.interval)
	}
	pw := newProgressWriter(size, every, onProgress)

	start := time.Now()
	n, copyErr := copyWithContext(ctx, io.MultiWriter(f, pw), rc)
	if closeErr := f.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr == nil && size > 0 && n != size {
		copyErr = fmt.Errorf("short stream: got %d of %d bytes", n, size)
	}
	if copyErr != nil || ctx.Err() != nil {
		if rmErr := util.RemoveIfExists(dest); rmErr != nil {
			e.logger.Warn("remove partial download", "path", dest, "err", rmErr)
		}
		if ctx.Err() != nil {
			return "", cancelled(ctx)
		}
		return "", &model.TransferError{Path: dest, Err: copyErr}
	}

	pw.finish()
	e.logger.Debug("transfer complete", "path", dest, "bytes", n, "elapsed", time.Since(start).Round(time.Millisecond))
	return dest, nil
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", model.ErrCancelled, context.Cause(ctx))
}

// copyWithContext copies until EOF, checking ctx between chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
