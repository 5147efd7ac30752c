package ui

import (
	"github.com/charmbracelet/lipgloss"

	"tubegrab/internal/model"
)

type Styles struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Cursor   lipgloss.Style
	JobTitle lipgloss.Style
	JobInfo  lipgloss.Style
	Success  lipgloss.Style
	Error    lipgloss.Style
	Warning  lipgloss.Style
	Faint    lipgloss.Style
	Box      lipgloss.Style
	Spinner  lipgloss.Style
	Pending  lipgloss.Style
	Download lipgloss.Style
	Post     lipgloss.Style
}

func defaultStyles() Styles {
	base := lipgloss.NewStyle()
	return Styles{
		Title:    base.Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		Subtitle: base.Faint(true),
		Cursor:   base.Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		JobTitle: base.Foreground(lipgloss.Color("#A3A3A3")),
		JobInfo:  base.Foreground(lipgloss.Color("#D1D5DB")),
		Success:  base.Foreground(lipgloss.Color("#22C55E")),
		Error:    base.Foreground(lipgloss.Color("#EF4444")),
		Warning:  base.Foreground(lipgloss.Color("#F59E0B")),
		Faint:    base.Faint(true),
		Box:      base.Padding(0, 1),
		Spinner:  base.Foreground(lipgloss.Color("#22D3EE")),
		Pending:  base.Foreground(lipgloss.Color("#60A5FA")),
		Download: base.Foreground(lipgloss.Color("#06B6D4")),
		Post:     base.Foreground(lipgloss.Color("#D946EF")),
	}
}

func (s Styles) forState(st model.JobState) lipgloss.Style {
	switch st {
	case model.StatePending:
		return s.Pending
	case model.StateDownloading:
		return s.Download
	case model.StatePostProcessing:
		return s.Post
	case model.StateCompleted:
		return s.Success
	case model.StateFailed:
		return s.Error
	case model.StateCancelled:
		return s.Warning
	default:
		return s.JobInfo
	}
}
