// Package pipeline runs download jobs: admission against a concurrency
// limit, select → transfer → normalize per job, and state tracking.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"tubegrab/internal/downloader"
	"tubegrab/internal/model"
	"tubegrab/internal/progress"
	"tubegrab/internal/provider"
)

const (
	DefaultMaxActive   = 5
	DefaultGracePeriod = 3 * time.Second
)

// ErrClosed is returned by SubmitDownload after Close.
var ErrClosed = errors.New("pipeline: coordinator closed")

// PostProcessor rewrites a downloaded audio file in place.
type PostProcessor interface {
	Normalize(ctx context.Context, path string) (string, error)
}

// Coordinator owns every job and is the only writer of job state.
type Coordinator struct {
	provider  provider.Provider
	transfer  downloader.Transferer
	post      PostProcessor
	logger    *slog.Logger
	validate  *validator.Validate
	maxActive int
	root      string
	grace     time.Duration
	normalize bool

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	broker *progress.Broker

	mu     sync.Mutex
	jobs   map[string]*entry
	order  []string
	closed bool
}

type entry struct {
	job       model.Job
	cancel    context.CancelFunc
	cancelled bool
	timer     *time.Timer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxActive sets how many jobs may be active at once.
func WithMaxActive(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxActive = n
		}
	}
}

// WithDownloadRoot sets the directory used when a request names none.
func WithDownloadRoot(dir string) Option {
	return func(c *Coordinator) {
		c.root = dir
	}
}

// WithGracePeriod sets how long completed jobs stay visible.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Coordinator) {
		if d >= 0 {
			c.grace = d
		}
	}
}

// WithNormalizeAudio toggles post-processing of audio downloads.
func WithNormalizeAudio(on bool) Option {
	return func(c *Coordinator) {
		c.normalize = on
	}
}

// WithTransferer replaces the default transfer executor.
func WithTransferer(t downloader.Transferer) Option {
	return func(c *Coordinator) {
		c.transfer = t
	}
}

// WithPostProcessor sets the audio normalizer. Without one, audio files are
// kept as downloaded.
func WithPostProcessor(p PostProcessor) Option {
	return func(c *Coordinator) {
		c.post = p
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns a Coordinator fetching from p.
func New(p provider.Provider, opts ...Option) *Coordinator {
	c := &Coordinator{
		provider:  p,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		validate:  validator.New(),
		maxActive: DefaultMaxActive,
		grace:     DefaultGracePeriod,
		normalize: true,
		broker:    progress.NewBroker(),
		jobs:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transfer == nil {
		c.transfer = downloader.NewExecutor(downloader.Options{
			ProgressInterval: downloader.DefaultProgressInterval,
			Logger:           c.logger,
		})
	}
	c.ctx, c.stop = context.WithCancel(context.Background())
	return c
}

// MaxActive returns the concurrency limit.
func (c *Coordinator) MaxActive() int { return c.maxActive }

// PreviewResource fetches metadata without creating a job.
func (c *Coordinator) PreviewResource(ctx context.Context, resourceID string) (model.ResourceMetadata, error) {
	return c.provider.FetchMetadata(ctx, resourceID)
}

// PreviewVariants lists the variants a job for resourceID would choose from.
func (c *Coordinator) PreviewVariants(ctx context.Context, resourceID string) ([]model.StreamVariant, error) {
	return c.provider.FetchVariants(ctx, resourceID)
}

// SubmitDownload admits req as a new job, or fails with model.ErrQueueFull
// when every slot is taken. The job is Downloading when this returns.
func (c *Coordinator) SubmitDownload(ctx context.Context, req model.DownloadRequest) (model.Job, error) {
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	if err := c.validate.StructCtx(ctx, req); err != nil {
		return model.Job{}, fmt.Errorf("%w: %w", model.ErrInvalidRequest, err)
	}
	dir := req.DestinationDir
	if dir == "" {
		dir = c.root
	}
	if dir == "" {
		return model.Job{}, fmt.Errorf("%w: no destination directory", model.ErrInvalidRequest)
	}
	dir = filepath.Clean(dir)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return model.Job{}, ErrClosed
	}
	if n := c.activeLocked(); n >= c.maxActive {
		c.logger.Debug("admission rejected", "resource", req.ResourceID, "active", n, "limit", c.maxActive)
		return model.Job{}, model.ErrQueueFull
	}

	now := time.Now()
	jobCtx, cancel := context.WithCancel(c.ctx)
	e := &entry{
		job: model.Job{
			ID:             uuid.NewString(),
			ResourceID:     req.ResourceID,
			DestinationDir: dir,
			AudioOnly:      req.AudioOnly,
			State:          model.StatePending,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		cancel: cancel,
	}
	c.jobs[e.job.ID] = e
	c.order = append(c.order, e.job.ID)
	c.broker.Publish(progress.Update(e.job))
	c.setStateLocked(e, model.StateDownloading, nil)
	c.logger.Info("job admitted", "job", e.job.ID, "resource", e.job.ResourceID, "audio_only", e.job.AudioOnly)

	c.wg.Add(1)
	go c.run(jobCtx, e.job)
	return e.job, nil
}

// Cancel stops a Pending or Downloading job. The job ends Cancelled and its
// destination file is removed. Other states fail with model.ErrNotCancellable.
func (c *Coordinator) Cancel(jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.jobs[jobID]
	if !ok {
		return model.ErrJobNotFound
	}
	if e.cancelled {
		return nil
	}
	if !e.job.State.Cancellable() {
		return fmt.Errorf("%w (%s)", model.ErrNotCancellable, e.job.State)
	}
	e.cancelled = true
	e.cancel()
	c.logger.Info("job cancel requested", "job", jobID)
	return nil
}

// Dismiss removes a terminal job from the queue.
func (c *Coordinator) Dismiss(jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.jobs[jobID]
	if !ok {
		return model.ErrJobNotFound
	}
	if !e.job.State.IsTerminal() {
		return model.ErrNotDismissable
	}
	c.removeLocked(e)
	return nil
}

// Observe streams snapshots of one job: the current one first, then every
// change, closing after the terminal snapshot.
func (c *Coordinator) Observe(jobID string) (*progress.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.jobs[jobID]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	return c.broker.Subscribe(jobID, progress.Update(e.job)), nil
}

// ObserveAll streams events for every job, starting with the current queue,
// until the subscription is closed.
func (c *Coordinator) ObserveAll() *progress.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	initial := make([]progress.Event, 0, len(c.order))
	for _, id := range c.order {
		initial = append(initial, progress.Update(c.jobs[id].job))
	}
	return c.broker.SubscribeAll(initial)
}

// Wait blocks until the job reaches a terminal state and returns its final
// snapshot.
func (c *Coordinator) Wait(ctx context.Context, jobID string) (model.Job, error) {
	sub, err := c.Observe(jobID)
	if err != nil {
		return model.Job{}, err
	}
	return waitOn(ctx, sub)
}

// waitOn drains a per-job subscription and returns the last snapshot.
func waitOn(ctx context.Context, sub *progress.Subscription) (model.Job, error) {
	defer sub.Close()
	var last model.Job
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				if !last.State.IsTerminal() {
					return last, ErrClosed
				}
				return last, nil
			}
			last = ev.Job
		case <-ctx.Done():
			return last, ctx.Err()
		}
	}
}

// Job returns a snapshot of one job.
func (c *Coordinator) Job(jobID string) (model.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.jobs[jobID]
	if !ok {
		return model.Job{}, model.ErrJobNotFound
	}
	return e.job, nil
}

// Jobs returns snapshots of the visible queue in submission order.
func (c *Coordinator) Jobs() []model.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Job, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.jobs[id].job)
	}
	return out
}

// Close cancels running jobs, waits for them and ends all subscriptions.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.stop()
	c.wg.Wait()

	c.mu.Lock()
	for _, e := range c.jobs {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	c.mu.Unlock()
	c.broker.Close()
}

func (c *Coordinator) activeLocked() int {
	n := 0
	for _, e := range c.jobs {
		if e.job.State.IsActive() {
			n++
		}
	}
	return n
}

func (c *Coordinator) setStateLocked(e *entry, s model.JobState, err error) {
	e.job.State = s
	e.job.Err = err
	e.job.UpdatedAt = time.Now()
	c.broker.Publish(progress.Update(e.job))
}

func (c *Coordinator) removeLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(c.jobs, e.job.ID)
	for i, id := range c.order {
		if id == e.job.ID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.broker.Publish(progress.Removed(e.job))
}
