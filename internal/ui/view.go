package ui

import (
	"fmt"
	"path/filepath"
	"strings"

	"tubegrab/internal/model"
	"tubegrab/internal/util/format"
)

func (m Model) viewHeader() string {
	title := m.styles.Title.Render("tubegrab")
	status := fmt.Sprintf("Jobs: %d/%d done", len(m.finished), m.total)
	if m.done {
		status = "All downloads finished"
	}
	sub := m.styles.Subtitle.Render(status + " • ↑/↓ select • c cancel • d dismiss • q quit")
	if m.notice != "" {
		sub += "\n" + m.styles.Warning.Render(m.notice)
	}
	return title + "\n" + sub
}

func (m Model) viewJobs() string {
	if len(m.order) == 0 {
		return m.styles.Faint.Render("  waiting for jobs…") + "\n"
	}
	var b strings.Builder
	for i, id := range m.order {
		b.WriteString(m.viewJob(m.rows[id], i == m.selected))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) viewJob(row *jobRow, selected bool) string {
	j := row.job
	cursor := "  "
	if selected {
		cursor = m.styles.Cursor.Render("> ")
	}
	left := m.styles.JobTitle.Render(truncate(j.DisplayName(), 48))
	state := m.styles.forState(j.State).Render(j.State.String())

	var right string
	switch j.State {
	case model.StateDownloading:
		right = fmt.Sprintf("%s %s", row.bar.ViewAs(j.Progress), format.Percent(j.Progress))
	case model.StatePending, model.StatePostProcessing:
		label := "waiting"
		if j.State == model.StatePostProcessing {
			label = "converting audio"
		}
		right = m.styles.Spinner.Render(m.spinner.View()) + " " + m.styles.Faint.Render(label)
	case model.StateCompleted:
		right = m.styles.Success.Render("✓ " + filepath.Base(j.DestinationPath))
	case model.StateFailed:
		right = m.styles.Error.Render("✗ " + j.ErrorMessage())
	case model.StateCancelled:
		right = m.styles.Warning.Render("cancelled")
	}

	line1 := fmt.Sprintf("%s%s  %s", cursor, left, state)
	return m.styles.Box.Render(line1 + "\n  " + right)
}

func (m Model) viewSummary() string {
	if len(m.saved) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.styles.Subtitle.Render("✓ Completed Files:"))
	b.WriteString("\n")
	for _, path := range m.saved {
		b.WriteString(m.styles.Success.Render("  • " + path))
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if n <= 0 || len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}
