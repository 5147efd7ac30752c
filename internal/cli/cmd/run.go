package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tubegrab/internal/model"
	"tubegrab/internal/pipeline"
	"tubegrab/internal/progress"
	"tubegrab/internal/ui"
	"tubegrab/internal/util"
	"tubegrab/internal/util/deps"
	"tubegrab/internal/util/format"
)

type runMode struct {
	ForceTUI bool
}

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "run [ids...]",
		Short:         "Download one or more videos",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExecute(cmd, args, runMode{})
		},
	}
	bindRunFlags(cmd.Flags())
	return cmd
}

// parseRequests turns ids or URLs into download requests.
func parseRequests(args []string, opts model.CLIOptions) ([]model.DownloadRequest, error) {
	reqs := make([]model.DownloadRequest, 0, len(args))
	for _, raw := range args {
		id, err := util.ParseResourceID(raw)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, model.DownloadRequest{
			ResourceID:     id,
			DestinationDir: opts.OutDir,
			AudioOnly:      opts.AudioOnly,
		})
	}
	return reqs, nil
}

// resolveFFmpeg finds ffmpeg when the run will normalize audio. It returns
// "" when ffmpeg is not needed.
func resolveFFmpeg(opts model.CLIOptions) (string, error) {
	if !opts.AudioOnly || !opts.NormalizeAudio {
		return "", nil
	}
	return deps.FindFFmpeg(opts.FFmpegPath)
}

func (a *app) runExecute(cmd *cobra.Command, args []string, mode runMode) error {
	opts := a.options(cmd)
	reqs, err := parseRequests(args, opts)
	if err != nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}
	if err := util.EnsureDir(opts.OutDir); err != nil {
		return &ExitError{Code: ExitCLIError, Err: fmt.Errorf("failed to create output dir: %v", err)}
	}
	ffmpegPath, err := resolveFFmpeg(opts)
	if err != nil {
		return &ExitError{Code: ExitMissingDep, Err: err}
	}

	useTUI := mode.ForceTUI || (!opts.NoUI && isTerminal())
	if useTUI {
		if err := a.logToFile(); err != nil {
			return &ExitError{Code: ExitCLIError, Err: fmt.Errorf("open log file: %w", err)}
		}
	}

	coord := a.coordinator(opts, ffmpegPath)
	defer coord.Close()
	a.logger.Debug("run", "ids", len(reqs), "out_dir", opts.OutDir, "audio_only", opts.AudioOnly, "jobs", opts.Jobs, "ffmpeg", ffmpegPath)

	if useTUI {
		results, err := ui.Run(cmd.Context(), coord, reqs, opts)
		if err != nil {
			return &ExitError{Code: ExitCLIError, Err: err}
		}
		return exitForResults(results)
	}
	return exitForResults(runPlain(cmd.Context(), coord, reqs, opts, cmd.OutOrStdout(), cmd.ErrOrStderr()))
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// runPlain drives the batch with an aggregate progress bar on errOut and one
// line per finished download on out.
func runPlain(ctx context.Context, coord *pipeline.Coordinator, reqs []model.DownloadRequest, opts model.CLIOptions, out, errOut io.Writer) []pipeline.BatchResult {
	const scale = 1000
	bar := progressbar.NewOptions(len(reqs)*scale,
		progressbar.OptionSetWriter(errOut),
		progressbar.OptionSetDescription(fmt.Sprintf("downloading %d item(s)", len(reqs))),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetPredictTime(false),
	)

	sub := coord.ObserveAll()
	tracker := newAggregate()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.C {
			if total := tracker.apply(ev); total >= 0 {
				_ = bar.Set(int(total * scale))
			}
		}
	}()

	results := coord.RunBatch(ctx, reqs, opts.Jobs, nil)
	sub.Close()
	<-done
	_ = bar.Finish()

	for _, r := range results {
		switch {
		case !r.Failed():
			size := int64(-1)
			if st, err := os.Stat(r.Job.DestinationPath); err == nil {
				size = st.Size()
			}
			fmt.Fprintf(out, "Saved: %s (%s)\n", r.Job.DestinationPath, format.HumanizeBytes(size))
		case r.Job.State == model.StateCancelled:
			fmt.Fprintf(errOut, "Cancelled: %s\n", r.Request.ResourceID)
		default:
			fmt.Fprintf(errOut, "Failed: %s: %v\n", name(r), r.Cause())
		}
	}
	return results
}

func name(r pipeline.BatchResult) string {
	if r.Job.ID != "" {
		return r.Job.DisplayName()
	}
	return r.Request.ResourceID
}

// aggregate sums per-job progress across a batch. Finished jobs count as
// whole items even after they leave the queue.
type aggregate struct {
	progress map[string]float64
}

func newAggregate() *aggregate {
	return &aggregate{progress: make(map[string]float64)}
}

// apply records ev and returns the summed progress, or -1 when nothing
// changed.
func (g *aggregate) apply(ev progress.Event) float64 {
	if ev.Kind == progress.EventRemoved {
		return -1
	}
	p := ev.Job.Progress
	if ev.Job.State.IsTerminal() {
		p = 1
	}
	if prev, ok := g.progress[ev.Job.ID]; ok && prev >= p {
		return -1
	}
	g.progress[ev.Job.ID] = p
	var total float64
	for _, v := range g.progress {
		total += v
	}
	return total
}
