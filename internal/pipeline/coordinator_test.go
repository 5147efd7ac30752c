package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubegrab/internal/downloader"
	"tubegrab/internal/encoder"
	"tubegrab/internal/model"
	"tubegrab/internal/progress"
	"tubegrab/internal/provider/providertest"
	"tubegrab/internal/util"
)

var m4aHeader = []byte("\x00\x00\x00\x1cftypM4A \x00\x00\x02\x00isomM4A mp42\x00\x00\x00\x08free")

const waitTimeout = 5 * time.Second

func audio(c model.Container, kbps int, h model.StreamHandle, size int) model.StreamVariant {
	return model.StreamVariant{Kind: model.KindAudio, Container: c, Bitrate: kbps * 1000, Size: int64(size), Handle: h, Label: "audio"}
}

func muxed(kbps int, h model.StreamHandle, size int) model.StreamVariant {
	return model.StreamVariant{Kind: model.KindMuxed, Container: model.ContainerMP4, Bitrate: kbps * 1000, Size: int64(size), Handle: h, Label: "muxed"}
}

// addVideo registers a resource whose only stream is a muxed variant served
// by h.
func addVideo(fake *providertest.Fake, id string, h model.StreamHandle, size int) {
	fake.Add(id, providertest.Resource{
		Meta:     model.ResourceMetadata{Title: "Video " + id},
		Variants: []model.StreamVariant{muxed(500, h, size)},
	})
}

func newTestCoordinator(t *testing.T, fake *providertest.Fake, opts ...Option) (*Coordinator, string) {
	t.Helper()
	dir := t.TempDir()
	base := []Option{
		WithDownloadRoot(dir),
		WithGracePeriod(time.Hour),
		WithTransferer(downloader.NewExecutor(downloader.Options{})),
	}
	c := New(fake, append(base, opts...)...)
	t.Cleanup(c.Close)
	return c, dir
}

func waitJob(t *testing.T, c *Coordinator, id string) model.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	job, err := c.Wait(ctx, id)
	require.NoError(t, err)
	return job
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitTimeout):
		t.Fatal("timed out")
	}
}

// blockingPost is a PostProcessor that waits for release before succeeding
// or failing with err.
type blockingPost struct {
	started chan struct{}
	release chan struct{}
	err     error
	calls   atomic.Int32
}

func newBlockingPost() *blockingPost {
	return &blockingPost{started: make(chan struct{}), release: make(chan struct{})}
}

func (p *blockingPost) Normalize(ctx context.Context, path string) (string, error) {
	if p.calls.Add(1) == 1 {
		close(p.started)
	}
	select {
	case <-p.release:
	case <-ctx.Done():
		return "", &model.TranscodeError{Source: path, Err: ctx.Err()}
	}
	if p.err != nil {
		return "", p.err
	}
	return path, nil
}

// fakeFFmpeg writes an M4A header to the output argument.
type fakeFFmpeg struct {
	mu   sync.Mutex
	args [][]string
}

func (f *fakeFFmpeg) Run(_ context.Context, spec util.CmdSpec) (util.CmdResult, error) {
	f.mu.Lock()
	f.args = append(f.args, spec.Args)
	f.mu.Unlock()
	out := spec.Args[len(spec.Args)-1]
	if err := os.WriteFile(out, m4aHeader, 0o644); err != nil {
		return util.CmdResult{Code: -1}, err
	}
	return util.CmdResult{}, nil
}

func TestSubmitDownloadAdmission(t *testing.T) {
	fake := providertest.New()
	data := bytes.Repeat([]byte("x"), 4096)
	gates := map[string]*providertest.Gate{}
	for _, id := range []string{"aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc"} {
		gates[id] = providertest.NewGate(data)
		addVideo(fake, id, gates[id], len(data))
	}
	c, _ := newTestCoordinator(t, fake, WithMaxActive(2))

	a, err := c.SubmitDownload(context.Background(), model.DownloadRequest{ResourceID: "aaaaaaaaaaa"})
	require.NoError(t, err)
	assert.Equal(t, model.StateDownloading, a.State)
	b, err := c.SubmitDownload(context.Background(), model.DownloadRequest{ResourceID: "bbbbbbbbbbb"})
	require.NoError(t, err)

	_, err = c.SubmitDownload(context.Background(), model.DownloadRequest{ResourceID: "ccccccccccc"})
	assert.ErrorIs(t, err, model.ErrQueueFull)
	assert.Len(t, c.Jobs(), 2, "rejected request must not create a job")

	gates["aaaaaaaaaaa"].Unblock()
	assert.Equal(t, model.StateCompleted, waitJob(t, c, a.ID).State)

	_, err = c.SubmitDownload(context.Background(), model.DownloadRequest{ResourceID: "ccccccccccc"})
	require.NoError(t, err, "a completed job frees its slot before it is removed")

	gates["bbbbbbbbbbb"].Unblock()
	gates["ccccccccccc"].Unblock()
	assert.Equal(t, model.StateCompleted, waitJob(t, c, b.ID).State)
}

func TestSubmitDownloadConcurrentAdmission(t *testing.T) {
	fake := providertest.New()
	gate := providertest.NewGate(bytes.Repeat([]byte("x"), 1024))
	addVideo(fake, "aaaaaaaaaaa", gate, 1024)
	c, _ := newTestCoordinator(t, fake, WithMaxActive(1))
	defer gate.Unblock()

	var admitted, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.SubmitDownload(context.Background(), model.DownloadRequest{ResourceID: "aaaaaaaaaaa"})
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, model.ErrQueueFull):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, admitted.Load())
	assert.EqualValues(t, 15, rejected.Load())
}

func TestSubmitDownloadLimitOneBackToBack(t *testing.T) {
	fake := providertest.New()
	data := []byte("tiny video")
	addVideo(fake, "aaaaaaaaaaa", providertest.Bytes(data), len(data))
	c, _ := newTestCoordinator(t, fake, WithMaxActive(1))

	for i := 0; i < 3; i++ {
		job, err := c.SubmitDownload(context.Background(), model.DownloadRequest{ResourceID: "aaaaaaaaaaa"})
		require.NoError(t, err, "submission %d", i)
		assert.Equal(t, model.StateCompleted, waitJob(t, c, job.ID).State)
	}
}

func TestSubmitDownloadInvalid(t *testing.T) {
	fake := providertest.New()
	c := New(fake)
	defer c.Close()

	_, err := c.SubmitDownload(context.Background(), model.DownloadRequest{ResourceID: "  ", DestinationDir: t.TempDir()})
	assert.ErrorIs(t, err, model.ErrInvalidRequest)

	_, err = c.SubmitDownload(context.Background(), model.DownloadRequest{ResourceID: "aaaaaaaaaaa"})
	assert.ErrorIs(t, err, model.ErrInvalidRequest, "no destination and no download root")
	assert.Empty(t, c.Jobs())
}

func TestProgressIsMonotonicAndEndsAtOne(t *testing.T) {
	fake := providertest.New()
	data := bytes.Repeat([]byte("0123456789abcdef"), 16*1024)
	gate := providertest.NewGate(data)
	addVideo(fake, "aaaaaaaaaaa", gate, len(data))
	c, dir := newTestCoordinator(t, fake)

	job, err := c.SubmitDownload(context.Background(), model.DownloadRequest{ResourceID: "aaaaaaaaaaa"})
	require.NoError(t, err)
	waitClosed(t, gate.Started)

	sub, err := c.Observe(job.ID)
	require.NoError(t, err)
	defer sub.Close()
	gate.Unblock()

	var events []progress.Event
	for ev := range sub.C {
		events = append(events, ev)
	}
	require.NotEmpty(t, events)

	last := events[len(events)-1].Job
	assert.Equal(t, model.StateCompleted, last.State)
	assert.Equal(t, 1.0, last.Progress)
	assert.Equal(t, filepath.Join(dir, "Video aaaaaaaaaaa.mp4"), last.DestinationPath)

	prev := -1.0
	lastDownloading := -1.0
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Job.Progress, prev, "progress went backwards")
		prev = ev.Job.Progress
		if ev.Job.State == model.StateDownloading {
			lastDownloading = ev.Job.Progress
		}
	}
	assert.Equal(t, 1.0, lastDownloading, "progress reaches 1 before leaving Downloading")

	got, err := os.ReadFile(last.DestinationPath)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestCancelDownloading(t *testing.T) {
	fake := providertest.New()
	data := bytes.Repeat([]byte("x"), 8192)
	gate := providertest.NewGate(data)
	addVideo(fake, "aaaaaaaaaaa", gate, len(data))
	c, dir := newTestCoordinator(t, fake)

	job, err := c.SubmitDownload(context.Background(), model.DownloadRequest{ResourceID: "aaaaaaaaaaa"})
	require.NoError(t, err)
	waitClosed(t, gate.Started)

	require.NoError(t, c.Cancel(job.ID))
	require.NoError(t, c.Cancel(job.ID), "repeated cancel is a no-op")

	final := waitJob(t, c, job.ID)
	assert.Equal(t, model.StateCancelled, final.State)
	assert.ErrorIs(t, final.Err, model.ErrCancelled)
	assert.Less(t, final.Progress, 1.0)
	assert.NoFileExists(t, filepath.Join(dir, "Video aaaaaaaaaaa.mp4"))

	got, err := c.Job(job.ID)
	require.NoError(t, err, "cancelled jobs stay until dismissed")
	assert.Equal(t, model.StateCancelled, got.State)

	require.NoError(t, c.Dismiss(job.ID))
	_, err = c.Job(job.ID)
	assert.ErrorIs(t, err, model.ErrJobNotFound)

	// The slot is free again.
	_, err = c.SubmitDownload(context.Background(), model.DownloadRequest{ResourceID: "aaaaaaaaaaa"})
	require.NoError(t, err)
	gate.Unblock()
}

func TestCancelErrors(t *testing.T) {
	fake := providertest.New()
	data := []byte("audio bytes")
	fake.Add("aaaaaaaaaaa", providertest.Resource{
		Meta:     model.ResourceMetadata{Title: "Song"},
		Variants: []model.StreamVariant{audio(model.ContainerMP4, 128, providertest.Bytes(data), len(data))},
	})
	post := newBlockingPost()
	c, _ := newTestCoordinator(t, fake, WithPostProcessor(post))

	assert.ErrorIs(t, c.Cancel("missing"), model.ErrJobNotFound)

	job, err := c.SubmitDownload(context.Background(), model.DownloadRequest{ResourceID: "aaaaaaaaaaa", AudioOnly: true})
	require.NoError(t, err)
	waitClosed(t, post.started)

	got, err := c.Job(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatePostProcessing, got.State)
	assert.ErrorIs(t, c.Cancel(job.ID), model.ErrNotCancellable)
	assert.ErrorIs(t, c.Dismiss(job.ID), model.ErrNotDismissable)

	close(post.release)
	assert.Equal(t, model.StateCompleted, waitJob(t, c, job.ID).State)
	assert.ErrorIs(t, c.Cancel(job.ID), model.ErrNotCancellable)
}

func TestAudioDownloadEndToEnd(t *testing.T) {
	fake := providertest.New()
	device := []byte("device container audio")
	other := []byte("webm audio with a higher bitrate")
	fake.Add("dQw4w9WgXcQ", providertest.Resource{
		Meta: model.ResourceMetadata{Title: "Song: Remix?"},
		Variants: []model.StreamVariant{
			audio(model.ContainerWebM, 160, providertest.Bytes(other), len(other)),
			audio(model.ContainerMP4, 128, providertest.Bytes(device), len(device)),
			muxed(500, providertest.Bytes(other), len(other)),
		},
	})
	ffmpeg := &fakeFFmpeg{}
	norm := encoder.NewNormalizer(encoder.Options{FFmpegPath: "ffmpeg", Runner: ffmpeg})
	c, dir := newTestCoordinator(t, fake, WithPostProcessor(norm), WithGracePeriod(50*time.Millisecond))

	all := c.ObserveAll()
	defer all.Close()

	job, err := c.SubmitDownload(context.Background(), model.DownloadRequest{ResourceID: "dQw4w9WgXcQ", AudioOnly: true})
	require.NoError(t, err)

	var states []model.JobState
	var final model.Job
	timeout := time.After(waitTimeout)
loop:
	for {
		select {
		case ev := <-all.C:
			if ev.Job.ID != job.ID {
				continue
			}
			if ev.Kind == progress.EventRemoved {
				break loop
			}
			if n := len(states); n == 0 || states[n-1] != ev.Job.State {
				states = append(states, ev.Job.State)
			}
			final = ev.Job
		case <-timeout:
			t.Fatal("job was not removed after the grace period")
		}
	}

	assert.Equal(t, []model.JobState{
		model.StatePending, model.StateDownloading, model.StatePostProcessing, model.StateCompleted,
	}, states)
	want := filepath.Join(dir, "Song_ Remix.m4a")
	assert.Equal(t, want, final.DestinationPath)
	assert.Equal(t, "Song: Remix?", final.Title)

	got, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, m4aHeader, got)
	assert.NoFileExists(t, util.TempSibling(want, "source"))
	require.Len(t, ffmpeg.args, 1)
	assert.Contains(t, ffmpeg.args[0], util.TempSibling(want, "source"))

	_, err = c.Job(job.ID)
	assert.ErrorIs(t, err, model.ErrJobNotFound)
	assert.Empty(t, c.Jobs())
}

func TestFallbackAudioIsNormalized(t *testing.T) {
	fake := providertest.New()
	data := []byte("webm audio")
	fake.Add("aaaaaaaaaaa", providertest.Resource{
		Meta:     model.ResourceMetadata{Title: "Track"},
		Variants: []model.StreamVariant{audio(model.ContainerWebM, 160, providertest.Bytes(data), len(data))},
	})
	ffmpeg := &fakeFFmpeg{}
	norm := encoder.NewNormalizer(encoder.Options{FFmpegPath: "ffmpeg", Runner: ffmpeg})
	c, dir := newTestCoordinator(t, fake, WithPostProcessor(norm))

	all := c.ObserveAll()
	defer all.Close()

	job, err := c.SubmitDownload(context.Background(), model.DownloadRequest{ResourceID: "aaaaaaaaaaa", AudioOnly: true})
	require.NoError(t, err)

	var states []model.JobState
	var final model.Job
	timeout := time.After(waitTimeout)
	for !final.State.IsTerminal() {
		select {
		case ev := <-all.C:
			if ev.Job.ID != job.ID {
				continue
			}
			if n := len(states); n == 0 || states[n-1] != ev.Job.State {
				states = append(states, ev.Job.State)
			}
			final = ev.Job
		case <-timeout:
			t.Fatal("job did not finish")
		}
	}

	assert.Equal(t, []model.JobState{
		model.StatePending, model.StateDownloading, model.StatePostProcessing, model.StateCompleted,
	}, states)
	want := filepath.Join(dir, "Track.mp3")
	assert.Equal(t, want, final.DestinationPath)

	got, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, m4aHeader, got, "file rewritten by ffmpeg")
	assert.NoFileExists(t, util.TempSibling(want, "source"))
	require.Len(t, ffmpeg.args, 1)
	assert.Equal(t, want, ffmpeg.args[0][len(ffmpeg.args[0])-1])
}

// heldTransfer writes the file and then waits for release before reporting
// success, ignoring its context.
type heldTransfer struct {
	started chan struct{}
	release chan struct{}
}

func (h *heldTransfer) Transfer(_ context.Context, _ model.StreamVariant, dest string, onProgress func(float64)) (string, error) {
	if err := os.WriteFile(dest, []byte("complete"), 0o644); err != nil {
		return "", err
	}
	onProgress(1)
	close(h.started)
	<-h.release
	return dest, nil
}

func TestCancelAfterTransferRemovesFile(t *testing.T) {
	tests := []struct {
		name      string
		audioOnly bool
		file      string
	}{
		{"audio", true, "Clip.m4a"},
		{"video", false, "Clip.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := providertest.New()
			data := []byte("xx")
			fake.Add("aaaaaaaaaaa", providertest.Resource{
				Meta: model.ResourceMetadata{Title: "Clip"},
				Variants: []model.StreamVariant{
					audio(model.ContainerMP4, 128, providertest.Bytes(data), len(data)),
					muxed(500, providertest.Bytes(data), len(data)),
				},
			})
			held := &heldTransfer{started: make(chan struct{}), release: make(chan struct{})}
			post := newBlockingPost()
			c, dir := newTestCoordinator(t, fake, WithTransferer(held), WithPostProcessor(post))

			job, err := c.SubmitDownload(context.Background(), model.DownloadRequest{ResourceID: "aaaaaaaaaaa", AudioOnly: tt.audioOnly})
			require.NoError(t, err)
			waitClosed(t, held.started)
			require.FileExists(t, filepath.Join(dir, tt.file))

			require.NoError(t, c.Cancel(job.ID))
			close(held.release)

			final := waitJob(t, c, job.ID)
			assert.Equal(t, model.StateCancelled, final.State)
			assert.ErrorIs(t, final.Err, model.ErrCancelled)
			assert.NoFileExists(t, filepath.Join(dir, tt.file))
			assert.Zero(t, post.calls.Load(), "cancelled downloads are not post-processed")
		})
	}
}

func TestFinishHonoursLateCancel(t *testing.T) {
	c, dir := newTestCoordinator(t, providertest.New())
	path := filepath.Join(dir, "late.mp4")
	require.NoError(t, os.WriteFile(path, []byte("done"), 0o644))

	c.mu.Lock()
	c.jobs["late"] = &entry{
		job:       model.Job{ID: "late", State: model.StateDownloading},
		cancel:    func() {},
		cancelled: true,
	}
	c.order = append(c.order, "late")
	c.mu.Unlock()

	c.finish("late", path, nil, 0)

	got, err := c.Job("late")
	require.NoError(t, err)
	assert.Equal(t, model.StateCancelled, got.State)
	assert.ErrorIs(t, got.Err, model.ErrCancelled)
	assert.NoFileExists(t, path)
}

func TestNormalizeDisabledSkipsPostProcessing(t *testing.T) {
	fake := providertest.New()
	data := []byte("webm audio")
	fake.Add("aaaaaaaaaaa", providertest.Resource{
		Meta:     model.ResourceMetadata{Title: "Track"},
		Variants: []model.StreamVariant{audio(model.ContainerWebM, 160, providertest.Bytes(data), len(data))},
	})
	post := newBlockingPost()
	c, dir := newTestCoordinator(t, fake, WithPostProcessor(post), WithNormalizeAudio(false))

	job, err := c.SubmitDownload(context.Background(), model.DownloadRequest{ResourceID: "aaaaaaaaaaa", AudioOnly: true})
	require.NoError(t, err)
	final := waitJob(t, c, job.ID)
	assert.Equal(t, model.StateCompleted, final.State)
	assert.Equal(t, filepath.Join(dir, "Track.mp3"), final.DestinationPath)
	assert.Zero(t, post.calls.Load())
}

func TestFailedJobsAreRetained(t *testing.T) {
	data := []byte("xx")
	tests := []struct {
		name     string
		resource *providertest.Resource
		req      model.DownloadRequest
		post     PostProcessor
		want     error
	}{
		{
			name: "not found",
			req:  model.DownloadRequest{ResourceID: "zzzzzzzzzzz"},
			want: model.ErrNotFound,
		},
		{
			name: "no compatible stream",
			resource: &providertest.Resource{
				Meta:     model.ResourceMetadata{Title: "Silent"},
				Variants: []model.StreamVariant{muxed(500, providertest.Bytes(data), len(data))},
			},
			req:  model.DownloadRequest{ResourceID: "aaaaaaaaaaa", AudioOnly: true},
			want: model.ErrNoCompatibleStream,
		},
		{
			name: "provider error",
			resource: &providertest.Resource{
				VariantsErr: model.ErrProvider,
			},
			req:  model.DownloadRequest{ResourceID: "aaaaaaaaaaa"},
			want: model.ErrProvider,
		},
		{
			name: "broken stream",
			resource: &providertest.Resource{
				Variants: []model.StreamVariant{muxed(500, providertest.Failing{Data: data, Size: 10, Err: errors.New("connection reset")}, 10)},
			},
			req:  model.DownloadRequest{ResourceID: "aaaaaaaaaaa"},
			want: model.ErrTransferFailed,
		},
		{
			name: "transcode failure",
			resource: &providertest.Resource{
				Variants: []model.StreamVariant{audio(model.ContainerMP4, 128, providertest.Bytes(data), len(data))},
			},
			req:  model.DownloadRequest{ResourceID: "aaaaaaaaaaa", AudioOnly: true},
			post: failingPost{},
			want: model.ErrTranscodeFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := providertest.New()
			if tt.resource != nil {
				fake.Add(tt.req.ResourceID, *tt.resource)
			}
			opts := []Option{WithGracePeriod(10 * time.Millisecond)}
			if tt.post != nil {
				opts = append(opts, WithPostProcessor(tt.post))
			}
			c, _ := newTestCoordinator(t, fake, opts...)

			job, err := c.SubmitDownload(context.Background(), tt.req)
			require.NoError(t, err)
			final := waitJob(t, c, job.ID)
			assert.Equal(t, model.StateFailed, final.State)
			assert.ErrorIs(t, final.Err, tt.want)
			assert.NotEmpty(t, final.ErrorMessage())

			time.Sleep(50 * time.Millisecond)
			got, err := c.Job(job.ID)
			require.NoError(t, err, "failed jobs outlive the grace period")
			assert.Equal(t, model.StateFailed, got.State)

			require.NoError(t, c.Dismiss(job.ID))
			assert.ErrorIs(t, c.Dismiss(job.ID), model.ErrJobNotFound)
		})
	}
}

type failingPost struct{}

func (failingPost) Normalize(_ context.Context, path string) (string, error) {
	return "", &model.TranscodeError{Source: path, ExitCode: 1, Stderr: "Invalid data found"}
}

func TestCloseCancelsRunningJobs(t *testing.T) {
	fake := providertest.New()
	gate := providertest.NewGate(bytes.Repeat([]byte("x"), 2048))
	addVideo(fake, "aaaaaaaaaaa", gate, 2048)
	c := New(fake, WithDownloadRoot(t.TempDir()))

	sub := c.ObserveAll()
	job, err := c.SubmitDownload(context.Background(), model.DownloadRequest{ResourceID: "aaaaaaaaaaa"})
	require.NoError(t, err)
	waitClosed(t, gate.Started)

	c.Close()
	got, err := c.Job(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCancelled, got.State)

	_, err = c.SubmitDownload(context.Background(), model.DownloadRequest{ResourceID: "aaaaaaaaaaa"})
	assert.ErrorIs(t, err, ErrClosed)

	for range sub.C {
	}
}

func TestPlanDestination(t *testing.T) {
	tests := []struct {
		branch downloader.Branch
		title  string
		want   string
	}{
		{downloader.BranchDeviceAudio, "My Song", "My Song.m4a"},
		{downloader.BranchFallbackAudio, "My Song", "My Song.mp3"},
		{downloader.BranchMuxed, "a/b", "a_b.mp4"},
		{downloader.BranchVideoOnly, "", "untitled.mp4"},
	}
	for _, tt := range tests {
		got := PlanDestination("/dl", tt.title, downloader.Selection{Branch: tt.branch})
		assert.Equal(t, filepath.Join("/dl", tt.want), got)
	}
}
