package cmd

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"modcatalog/identity"
	"modcatalog/proposals"
)

// BulkProgressMsg reports one step of a bulk resolution.
type BulkProgressMsg struct {
	Type string // "item", "summary", "done"
	ID   uint
	Err  error
	Text string
}

// BulkModel controls the UI for bulk approval and denial.
type BulkModel struct {
	spinner      spinner.Model
	progressChan chan BulkProgressMsg
	run          func(progress func(id uint, err error)) proposals.BulkResult

	// State
	action    proposals.Action
	total     int
	completed []string
	errors    []string
	summary   string
	done      bool
}

func initialBulkModel(action proposals.Action, total int, run func(progress func(id uint, err error)) proposals.BulkResult) BulkModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return BulkModel{
		spinner:      s,
		progressChan: make(chan BulkProgressMsg, 100),
		run:          run,
		action:       action,
		total:        total,
	}
}

// newQueueBulkModel runs queue.BulkWithProgress behind the model.
func newQueueBulkModel(ctx context.Context, q *proposals.Queue, approver identity.Actor, ids []uint, action proposals.Action) BulkModel {
	return initialBulkModel(action, len(ids), func(progress func(uint, error)) proposals.BulkResult {
		return q.BulkWithProgress(ctx, approver, ids, action, progress)
	})
}

func (m BulkModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.startBulk(),
		m.waitForActivity(),
	)
}

func (m BulkModel) startBulk() tea.Cmd {
	return func() tea.Msg {
		go func() {
			defer close(m.progressChan)
			res := m.run(func(id uint, err error) {
				m.progressChan <- BulkProgressMsg{Type: "item", ID: id, Err: err}
			})
			m.progressChan <- BulkProgressMsg{Type: "summary", Text: summarizeBulk(m.action, res)}
		}()
		return nil
	}
}

func (m BulkModel) waitForActivity() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-m.progressChan
		if !ok {
			return BulkProgressMsg{Type: "done"}
		}
		return msg
	}
}

func (m BulkModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" || m.done {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case BulkProgressMsg:
		switch msg.Type {
		case "done":
			m.done = true
			return m, tea.Quit
		case "item":
			if msg.Err != nil {
				m.errors = append(m.errors, fmt.Sprintf("proposal %d: %s", msg.ID, describeError(msg.Err)))
			} else {
				m.completed = append(m.completed, fmt.Sprintf("proposal %d", msg.ID))
			}
		case "summary":
			m.summary = msg.Text
		}
		return m, m.waitForActivity()
	}
	return m, nil
}

func (m BulkModel) View() string {
	var symbol string
	if m.done {
		symbol = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("✓")
	} else {
		symbol = m.spinner.View()
	}

	s := fmt.Sprintf("\n %s %s: %d/%d\n\n", symbol, m.action, len(m.completed)+len(m.errors), m.total)

	if len(m.errors) > 0 {
		s += lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("Errors:") + "\n"
		for _, e := range m.errors {
			s += fmt.Sprintf("  • %s\n", e)
		}
		s += "\n"
	}

	// Show last few completed
	if len(m.completed) > 0 {
		s += lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("Completed:") + "\n"
		start := 0
		if len(m.completed) > 5 && !m.done {
			start = len(m.completed) - 5
		}
		for i := start; i < len(m.completed); i++ {
			s += fmt.Sprintf("  • %s\n", m.completed[i])
		}
		s += "\n"
	}

	if m.summary != "" {
		s += lipgloss.NewStyle().Bold(true).Render(m.summary) + "\n"
	}
	return s
}

func summarizeBulk(action proposals.Action, res proposals.BulkResult) string {
	return fmt.Sprintf("%s: %d succeeded, %d failed", action, len(res.Succeeded), len(res.Failed))
}
