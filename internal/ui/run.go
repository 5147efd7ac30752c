package ui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"tubegrab/internal/model"
	"tubegrab/internal/pipeline"
)

// batchRun is a batch running in the background. results is valid once
// done is closed.
type batchRun struct {
	done    chan struct{}
	results []pipeline.BatchResult
}

// Run shows the TUI while reqs are downloaded through coord. Quitting early
// cancels what is still queued or downloading. The batch results are
// returned once every job has settled.
func Run(ctx context.Context, coord *pipeline.Coordinator, reqs []model.DownloadRequest, opts model.CLIOptions) ([]pipeline.BatchResult, error) {
	sub := coord.ObserveAll()
	defer sub.Close()

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	b := &batchRun{done: make(chan struct{})}
	go func() {
		defer close(b.done)
		b.results = coord.RunBatch(batchCtx, reqs, opts.Jobs, nil)
	}()

	m := NewModel(coord, sub.C, b, len(reqs))
	prog := tea.NewProgram(m, tea.WithContext(ctx))
	_, err := prog.Run()
	cancel()
	<-b.done
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return b.results, err
	}
	return b.results, nil
}
