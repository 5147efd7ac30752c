// Package server exposes the download engine over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tubegrab/internal/model"
	"tubegrab/internal/progress"
)

// Engine is the part of the coordinator the API serves.
type Engine interface {
	PreviewResource(ctx context.Context, resourceID string) (model.ResourceMetadata, error)
	PreviewVariants(ctx context.Context, resourceID string) ([]model.StreamVariant, error)
	SubmitDownload(ctx context.Context, req model.DownloadRequest) (model.Job, error)
	Job(jobID string) (model.Job, error)
	Jobs() []model.Job
	Cancel(jobID string) error
	Dismiss(jobID string) error
	Observe(jobID string) (*progress.Subscription, error)
	ObserveAll() *progress.Subscription
}

// Options configures the router.
type Options struct {
	// DownloadRoot confines request destination directories.
	DownloadRoot string
	// Origins allowed by CORS and the WebSocket upgrader; empty allows all.
	Origins []string
	Logger  *slog.Logger
}

// NewRouter returns the API routes backed by e.
func NewRouter(e Engine, opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &handler{
		engine:   e,
		root:     opts.DownloadRoot,
		logger:   opts.Logger,
		upgrader: newUpgrader(opts.Origins),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(opts.Origins))
	r.Use(requestLogger(opts.Logger))

	r.GET("/health", h.health)

	api := r.Group("/api")
	{
		api.GET("/resources/:id", h.getResource)
		api.GET("/events", h.streamAll)

		downloads := api.Group("/downloads")
		{
			downloads.POST("", h.submit)
			downloads.GET("", h.listJobs)
			downloads.GET("/:id", h.getJob)
			downloads.POST("/:id/cancel", h.cancel)
			downloads.DELETE("/:id", h.dismiss)
			downloads.GET("/:id/events", h.streamJob)
		}
	}
	return r
}

// Serve runs handler on addr until ctx ends, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
