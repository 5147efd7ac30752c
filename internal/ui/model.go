package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"tubegrab/internal/model"
	"tubegrab/internal/pipeline"
	"tubegrab/internal/progress"
)

// Engine is what the TUI needs from the coordinator besides the event
// stream.
type Engine interface {
	Cancel(jobID string) error
	Dismiss(jobID string) error
}

type Model struct {
	engine Engine
	events <-chan progress.Event
	batch  *batchRun

	rows     map[string]*jobRow
	order    []string
	selected int
	finished map[string]bool
	saved    []string
	total    int

	done    bool
	results []pipeline.BatchResult
	notice  string

	spinner spinner.Model
	width   int
	styles  Styles
}

// NewModel returns a TUI over events for a batch of total requests.
func NewModel(engine Engine, events <-chan progress.Event, batch *batchRun, total int) Model {
	sty := defaultStyles()
	sp := spinner.New()
	sp.Style = sty.Spinner
	return Model{
		engine:   engine,
		events:   events,
		batch:    batch,
		rows:     make(map[string]*jobRow),
		finished: make(map[string]bool),
		total:    total,
		spinner:  sp,
		styles:   sty,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenEventsCmd(), m.waitBatchCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case eventMsg:
		m.apply(msg.Event)
		return m, m.listenEventsCmd()

	case eventsClosedMsg:
		return m, nil

	case batchDoneMsg:
		m.done = true
		m.results = msg.Results
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	summary := m.viewSummary()
	if summary != "" {
		return m.viewHeader() + "\n\n" + m.viewJobs() + "\n" + summary
	}
	return m.viewHeader() + "\n\n" + m.viewJobs()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(m.order)-1 {
			m.selected++
		}
	case "c":
		if row := m.selectedRow(); row != nil {
			if err := m.engine.Cancel(row.job.ID); err != nil {
				m.notice = fmt.Sprintf("cancel %s: %v", row.job.DisplayName(), err)
			} else {
				m.notice = "cancelling " + row.job.DisplayName()
			}
		}
	case "d":
		if row := m.selectedRow(); row != nil {
			if err := m.engine.Dismiss(row.job.ID); err != nil {
				m.notice = fmt.Sprintf("dismiss %s: %v", row.job.DisplayName(), err)
			} else {
				m.notice = ""
			}
		}
	}
	return m, nil
}

func (m Model) selectedRow() *jobRow {
	if m.selected < 0 || m.selected >= len(m.order) {
		return nil
	}
	return m.rows[m.order[m.selected]]
}

// apply folds one engine event into the rows.
func (m *Model) apply(ev progress.Event) {
	id := ev.Job.ID
	if ev.Kind == progress.EventRemoved {
		if ev.Job.State == model.StateCompleted && ev.Job.DestinationPath != "" {
			m.saved = append(m.saved, ev.Job.DestinationPath)
		}
		if _, ok := m.rows[id]; !ok {
			return
		}
		delete(m.rows, id)
		for i, o := range m.order {
			if o == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				if m.selected > i || m.selected >= len(m.order) {
					m.selected = max(m.selected-1, 0)
				}
				break
			}
		}
		return
	}

	row, ok := m.rows[id]
	if !ok {
		row = newJobRow(ev.Job)
		m.rows[id] = row
		m.order = append(m.order, id)
	}
	row.job = ev.Job
	if ev.Job.State.IsTerminal() {
		m.finished[id] = true
	}
}

func (m Model) listenEventsCmd() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{Event: ev}
	}
}

func (m Model) waitBatchCmd() tea.Cmd {
	return func() tea.Msg {
		<-m.batch.done
		return batchDoneMsg{Results: m.batch.results}
	}
}
