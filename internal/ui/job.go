package ui

import (
	bubblesprogress "github.com/charmbracelet/bubbles/progress"

	"tubegrab/internal/model"
)

// jobRow is one line of the job list.
type jobRow struct {
	job model.Job
	bar bubblesprogress.Model
}

func newJobRow(j model.Job) *jobRow {
	return &jobRow{
		job: j,
		bar: bubblesprogress.New(
			bubblesprogress.WithDefaultGradient(),
			bubblesprogress.WithWidth(40),
		),
	}
}
