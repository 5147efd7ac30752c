package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"tubegrab/internal/model"
	"tubegrab/internal/progress"
)

// BatchResult is the outcome of one batch request. Job is the final
// snapshot; it is zero when the request was never admitted, in which case
// Err says why.
type BatchResult struct {
	Request model.DownloadRequest
	Job     model.Job
	Err     error
}

// Failed reports whether the request did not end Completed.
func (r BatchResult) Failed() bool {
	return r.Err != nil || r.Job.State != model.StateCompleted
}

// Cause returns the admission error or the job's failure.
func (r BatchResult) Cause() error {
	if r.Err != nil {
		return r.Err
	}
	return r.Job.Err
}

// RunBatch submits reqs keeping at most slots of them in flight, so the
// coordinator never rejects one for capacity. The next request goes in
// when a running one finishes. onAdmit, if set, sees every admitted job.
// When ctx ends, queued requests are skipped and running jobs cancelled.
// Results come back in request order.
func (c *Coordinator) RunBatch(ctx context.Context, reqs []model.DownloadRequest, slots int, onAdmit func(i int, job model.Job)) []BatchResult {
	if slots <= 0 || slots > c.maxActive {
		slots = c.maxActive
	}
	results := make([]BatchResult, len(reqs))
	sem := semaphore.NewWeighted(int64(slots))
	var wg sync.WaitGroup

	for i, req := range reqs {
		results[i].Request = req
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i].Err = model.ErrCancelled
			continue
		}
		job, err := c.SubmitDownload(ctx, req)
		if err != nil {
			sem.Release(1)
			results[i].Err = err
			continue
		}
		// Subscribe before anything else so a short grace period cannot
		// remove the job before its result is read.
		sub, err := c.Observe(job.ID)
		if err != nil {
			sem.Release(1)
			results[i].Job, results[i].Err = job, err
			continue
		}
		if onAdmit != nil {
			onAdmit(i, job)
		}
		wg.Add(1)
		go func(i int, sub *progress.Subscription, id string) {
			defer wg.Done()
			defer sem.Release(1)
			results[i].Job = c.await(ctx, sub, id)
		}(i, sub, job.ID)
	}
	wg.Wait()
	return results
}

// await waits for a terminal snapshot, cancelling the job if ctx ends first.
func (c *Coordinator) await(ctx context.Context, sub *progress.Subscription, jobID string) model.Job {
	job, err := waitOn(ctx, sub)
	if err == nil {
		return job
	}
	if ctx.Err() != nil {
		if cerr := c.Cancel(jobID); cerr != nil {
			c.logger.Debug("cancel on shutdown", "job", jobID, "err", cerr)
		}
		if job, err = c.Wait(context.Background(), jobID); err == nil {
			return job
		}
	}
	if snap, serr := c.Job(jobID); serr == nil {
		return snap
	}
	return job
}
