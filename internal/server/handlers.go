package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tubegrab/internal/model"
	"tubegrab/internal/progress"
	"tubegrab/internal/util"
)

type handler struct {
	engine   Engine
	root     string
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// jobView is the wire form of a job: the snapshot plus its error text.
type jobView struct {
	model.Job
	Error string `json:"error,omitempty"`
}

func viewOf(j model.Job) jobView {
	return jobView{Job: j, Error: j.ErrorMessage()}
}

type eventView struct {
	Kind progress.EventKind `json:"kind"`
	Job  jobView            `json:"job"`
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "tubegrab",
		"timestamp": time.Now().Unix(),
	})
}

func (h *handler) getResource(c *gin.Context) {
	id, err := util.ParseResourceID(c.Param("id"))
	if err != nil {
		writeError(c, fmt.Errorf("%w: %w", model.ErrNotFound, err))
		return
	}
	meta, err := h.engine.PreviewResource(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	variants, err := h.engine.PreviewVariants(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"resource": meta,
		"variants": variants,
	})
}

func (h *handler) submit(c *gin.Context) {
	var req model.DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %w", model.ErrInvalidRequest, err))
		return
	}
	if req.ResourceID != "" {
		id, err := util.ParseResourceID(req.ResourceID)
		if err != nil {
			writeError(c, fmt.Errorf("%w: %w", model.ErrInvalidRequest, err))
			return
		}
		req.ResourceID = id
	}
	dir, err := h.destination(req.DestinationDir)
	if err != nil {
		writeError(c, err)
		return
	}
	req.DestinationDir = dir

	job, err := h.engine.SubmitDownload(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job": viewOf(job)})
}

// destination resolves a requested directory inside the download root.
func (h *handler) destination(dir string) (string, error) {
	if dir == "" {
		return h.root, nil
	}
	if h.root == "" {
		return "", fmt.Errorf("%w: destinationDir is not accepted by this server", model.ErrInvalidRequest)
	}
	if filepath.IsAbs(dir) {
		rel, err := filepath.Rel(h.root, dir)
		if err != nil {
			return "", fmt.Errorf("%w: %w", model.ErrInvalidRequest, err)
		}
		dir = rel
	}
	dir = filepath.Clean(dir)
	if dir == ".." || strings.HasPrefix(dir, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: destinationDir must be inside %s", model.ErrInvalidRequest, h.root)
	}
	return filepath.Join(h.root, dir), nil
}

func (h *handler) listJobs(c *gin.Context) {
	jobs := h.engine.Jobs()
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, viewOf(j))
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":  views,
		"total": len(views),
	})
}

func (h *handler) getJob(c *gin.Context) {
	job, err := h.engine.Job(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": viewOf(job)})
}

func (h *handler) cancel(c *gin.Context) {
	id := c.Param("id")
	if err := h.engine.Cancel(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "cancel requested", "id": id})
}

func (h *handler) dismiss(c *gin.Context) {
	if err := h.engine.Dismiss(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) streamJob(c *gin.Context) {
	sub, err := h.engine.Observe(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	h.stream(c, sub)
}

func (h *handler) streamAll(c *gin.Context) {
	h.stream(c, h.engine.ObserveAll())
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrJobNotFound), errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrNotCancellable), errors.Is(err, model.ErrNotDismissable):
		return http.StatusConflict
	case errors.Is(err, model.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
