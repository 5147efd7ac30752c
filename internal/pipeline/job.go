package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tubegrab/internal/downloader"
	"tubegrab/internal/model"
	"tubegrab/internal/progress"
	"tubegrab/internal/util"
)

// run drives one job from Downloading to a terminal state.
func (c *Coordinator) run(ctx context.Context, job model.Job) {
	defer c.wg.Done()
	start := time.Now()
	path, err := c.execute(ctx, job)
	if err != nil && ctx.Err() != nil && !errors.Is(err, model.ErrCancelled) && !errors.Is(err, model.ErrTranscodeFailed) {
		err = fmt.Errorf("%w: %w", model.ErrCancelled, context.Cause(ctx))
	}
	c.finish(job.ID, path, err, time.Since(start))
}

func (c *Coordinator) execute(ctx context.Context, job model.Job) (string, error) {
	meta, err := c.provider.FetchMetadata(ctx, job.ResourceID)
	if err != nil {
		return "", err
	}
	c.update(job.ID, func(j *model.Job) { j.Title = meta.Title })

	variants, err := c.provider.FetchVariants(ctx, job.ResourceID)
	if err != nil {
		return "", err
	}
	sel, err := downloader.Select(variants, job.AudioOnly)
	if err != nil {
		return "", fmt.Errorf("%s: %w", job.ResourceID, err)
	}
	dest := PlanDestination(job.DestinationDir, meta.Title, sel)
	c.update(job.ID, func(j *model.Job) { j.DestinationPath = dest })
	c.logger.Debug("variant selected", "job", job.ID, "branch", sel.Branch, "variant", sel.Variant.Label, "dest", dest)

	path, err := c.transfer.Transfer(ctx, sel.Variant, dest, func(p float64) {
		c.setProgress(job.ID, p)
	})
	if err != nil {
		return "", err
	}

	post, err := c.handoff(job, path)
	if err != nil || !post {
		return path, err
	}
	// Detached from the job context: once the source is moved aside the
	// run must finish or fail on its own.
	return c.post.Normalize(c.ctx, path)
}

// handoff leaves Downloading. A cancel that raced the end of the transfer
// wins and the finished file is removed; otherwise the job moves to
// PostProcessing when the file needs it.
func (c *Coordinator) handoff(job model.Job, path string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.jobs[job.ID]
	if !ok {
		return false, model.ErrJobNotFound
	}
	if e.cancelled {
		if err := util.RemoveIfExists(path); err != nil {
			c.logger.Warn("remove cancelled download", "job", job.ID, "path", path, "err", err)
		}
		return false, fmt.Errorf("%w: after transfer", model.ErrCancelled)
	}
	if !needsPostProcessing(job.AudioOnly, c.normalize, c.post, path) {
		return false, nil
	}
	c.setStateLocked(e, model.StatePostProcessing, nil)
	c.logger.Info("job post-processing", "job", job.ID, "path", path)
	return true, nil
}

func (c *Coordinator) finish(jobID, path string, err error, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.jobs[jobID]
	if !ok {
		return
	}
	e.cancel()

	if err == nil && e.cancelled && e.job.State == model.StateDownloading {
		if rmErr := util.RemoveIfExists(path); rmErr != nil {
			c.logger.Warn("remove cancelled download", "job", jobID, "path", path, "err", rmErr)
		}
		err = fmt.Errorf("%w: after transfer", model.ErrCancelled)
	}

	switch {
	case err == nil:
		e.job.DestinationPath = path
		c.setStateLocked(e, model.StateCompleted, nil)
		c.logger.Info("job completed", "job", jobID, "path", path, "elapsed", elapsed.Round(time.Millisecond))
		if !c.closed {
			e.timer = time.AfterFunc(c.grace, func() { c.expire(jobID) })
		}
	case errors.Is(err, model.ErrCancelled):
		c.setStateLocked(e, model.StateCancelled, err)
		c.logger.Info("job cancelled", "job", jobID)
	default:
		c.setStateLocked(e, model.StateFailed, err)
		c.logger.Warn("job failed", "job", jobID, "err", err)
	}
}

// expire drops a completed job once its grace period is over.
func (c *Coordinator) expire(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.jobs[jobID]
	if !ok || e.job.State != model.StateCompleted {
		return
	}
	e.timer = nil
	c.removeLocked(e)
	c.logger.Debug("job expired", "job", jobID)
}

func (c *Coordinator) update(jobID string, fn func(*model.Job)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.jobs[jobID]
	if !ok || !e.job.State.IsActive() {
		return
	}
	fn(&e.job)
	e.job.UpdatedAt = time.Now()
	c.broker.Publish(progress.Update(e.job))
}

// setProgress records transfer progress. Only Downloading jobs move, and
// never backwards.
func (c *Coordinator) setProgress(jobID string, p float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.jobs[jobID]
	if !ok || e.job.State != model.StateDownloading || p <= e.job.Progress {
		return
	}
	e.job.Progress = min(p, 1)
	e.job.UpdatedAt = time.Now()
	c.broker.Publish(progress.Update(e.job))
}
