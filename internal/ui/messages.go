package ui

import (
	"tubegrab/internal/pipeline"
	"tubegrab/internal/progress"
)

type eventMsg struct {
	Event progress.Event
}

type eventsClosedMsg struct{}

type batchDoneMsg struct {
	Results []pipeline.BatchResult
}
