package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"modcatalog/db"
	"modcatalog/identity"
	"modcatalog/logger"
	"modcatalog/proposals"
	"modcatalog/ui"
)

// reviewCmd represents the review command
var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work through the edit proposal queue interactively",
	Long:  `Launch an interactive TUI listing pending edit proposals, oldest first.`,
	Run: func(_ *cobra.Command, _ []string) {
		runReview()
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
}

// reviewBackend is the part of proposals.Queue the review screen uses.
type reviewBackend interface {
	Pending(ctx context.Context, limit int) ([]db.EditProposal, error)
	Approve(ctx context.Context, approver identity.Actor, id uint) (*db.EditProposal, error)
	Deny(ctx context.Context, approver identity.Actor, id uint) (*db.EditProposal, error)
	Bulk(ctx context.Context, approver identity.Actor, ids []uint, action proposals.Action) proposals.BulkResult
}

const reviewPageSize = 200

// ProposalInfo is one row of the review screen.
type ProposalInfo struct {
	ID          uint
	TargetTable string
	TargetID    uint
	SubmitterID uint
	Fields      string
	Selected    bool
}

// Model represents the state of the TUI
type Model struct {
	proposals     []ProposalInfo
	selectedIndex int
	loading       bool
	working       bool
	error         string
	message       string
	backend       reviewBackend
	approver      identity.Actor
	spinner       spinner.Model
	width         int
	height        int
}

func newReviewModel(backend reviewBackend, approver identity.Actor) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	return Model{
		loading:  true,
		backend:  backend,
		approver: approver,
		spinner:  s,
		width:    80,
		height:   24,
	}
}

// Initialize the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadProposals(), m.spinner.Tick)
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case proposalsLoadedMsg:
		m.handleProposalsLoaded(msg)
	case spinner.TickMsg:
		if !m.loading && !m.working {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case errorMsg:
		m.error = string(msg)
		m.loading = false
		m.working = false
	case actionCompleteMsg:
		return m.handleActionComplete(msg)
	case clearMessageMsg:
		m.message = ""
	}
	return m, nil
}

func (m Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.working {
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil
	}
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.selectedIndex > 0 {
			m.selectedIndex--
		}
	case "down", "j":
		if m.selectedIndex < len(m.proposals)-1 {
			m.selectedIndex++
		}
	case " ":
		if len(m.proposals) > 0 {
			m.proposals[m.selectedIndex].Selected = !m.proposals[m.selectedIndex].Selected
		}
	case "a", "d":
		if len(m.proposals) > 0 {
			action := proposals.ActionApprove
			if msg.String() == "d" {
				action = proposals.ActionDeny
			}
			m.working = true
			return m, tea.Batch(m.resolveOne(m.proposals[m.selectedIndex].ID, action), m.spinner.Tick)
		}
	case "ctrl+a", "ctrl+x":
		ids := m.selectedIDs()
		if len(ids) > 0 {
			action := proposals.ActionApprove
			if msg.String() == "ctrl+x" {
				action = proposals.ActionDeny
			}
			m.working = true
			return m, tea.Batch(m.resolveMany(ids, action), m.spinner.Tick)
		}
		m.message = "No proposals selected"
	}
	return m, nil
}

func (m Model) selectedIDs() []uint {
	var ids []uint
	for _, p := range m.proposals {
		if p.Selected {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func (m *Model) handleProposalsLoaded(msg proposalsLoadedMsg) {
	m.proposals = msg.proposals
	m.loading = false
	if m.selectedIndex >= len(m.proposals) {
		m.selectedIndex = max(len(m.proposals)-1, 0)
	}
}

func (m Model) handleActionComplete(msg actionCompleteMsg) (tea.Model, tea.Cmd) {
	m.working = false
	m.message = msg.message
	return m, tea.Batch(
		m.loadProposals(),
		tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return clearMessageMsg{}
		}),
	)
}

// View renders the UI
func (m Model) View() string {
	if m.loading {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true).
			Render(fmt.Sprintf("%s Loading proposals...", m.spinner.View())) + "\n"
	}
	if m.error != "" {
		return fmt.Sprintf("Error: %s\n", m.error)
	}
	if len(m.proposals) == 0 {
		return "No pending edit proposals.\n"
	}

	var output string
	output += renderHeader()
	output += "\n"
	for i, p := range m.proposals {
		output += m.renderProposalRow(i, p)
		output += "\n"
	}
	output += "\n" + renderFooter()

	if m.working {
		output += "\n" + m.spinner.View() + " Working..."
	} else if m.message != "" {
		output += "\n" + lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.message)
	}
	return output
}

func renderHeader() string {
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Padding(0, 1)

	return headerStyle.Render(fmt.Sprintf("  %-8s %-20s %-10s %s", "ID", "Target", "Submitter", "Fields"))
}

func renderFooter() string {
	footerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("8")).
		Italic(true)

	return footerStyle.Render("↑/k ↓/j: move  a: approve  d: deny  space: select  ctrl+a/ctrl+x: approve/deny selected  q: quit")
}

func (m Model) renderProposalRow(index int, p ProposalInfo) string {
	rowStyle := lipgloss.NewStyle().Padding(0, 1)
	if index == m.selectedIndex {
		rowStyle = rowStyle.
			Background(lipgloss.Color("8")).
			Bold(true)
	}

	selectionIndicator := " "
	if p.Selected {
		selectionIndicator = ui.Colorize("✓", "10")
	}

	target := fmt.Sprintf("%s %d", tableNoun(p.TargetTable), p.TargetID)
	row := fmt.Sprintf("%s %-8d %-20s %-10d %s",
		selectionIndicator,
		p.ID,
		truncate(target, 20),
		p.SubmitterID,
		truncate(p.Fields, max(m.width-46, 10)),
	)
	return rowStyle.Render(row)
}

func truncate(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen-3] + "..."
	}
	return s
}

// Message types
type proposalsLoadedMsg struct {
	proposals []ProposalInfo
}

type errorMsg string

type actionCompleteMsg struct {
	message string
}

type clearMessageMsg struct{}

func toProposalInfo(p db.EditProposal) ProposalInfo {
	return ProposalInfo{
		ID:          p.ID,
		TargetTable: p.TargetTable,
		TargetID:    p.TargetID,
		SubmitterID: p.SubmitterID,
		Fields:      string(p.ProposedFields),
	}
}

func (m Model) loadProposals() tea.Cmd {
	return func() tea.Msg {
		pending, err := m.backend.Pending(context.Background(), reviewPageSize)
		if err != nil {
			logger.Log.Errorw("Failed to load proposals", zap.Error(err))
			return errorMsg(fmt.Sprintf("Failed to load proposals: %v", err))
		}
		infos := make([]ProposalInfo, 0, len(pending))
		for _, p := range pending {
			infos = append(infos, toProposalInfo(p))
		}
		return proposalsLoadedMsg{proposals: infos}
	}
}

func (m Model) resolveOne(id uint, action proposals.Action) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		var err error
		if action == proposals.ActionDeny {
			_, err = m.backend.Deny(ctx, m.approver, id)
		} else {
			_, err = m.backend.Approve(ctx, m.approver, id)
		}
		if err != nil {
			logger.Log.Warnw("Failed to resolve proposal", zap.Uint("proposal_id", id), zap.Error(err))
			return actionCompleteMsg{message: fmt.Sprintf("Proposal %d: %s (%v)", id, describeError(err), err)}
		}
		return actionCompleteMsg{message: fmt.Sprintf("Proposal %d: %s done", id, action)}
	}
}

func (m Model) resolveMany(ids []uint, action proposals.Action) tea.Cmd {
	return func() tea.Msg {
		res := m.backend.Bulk(context.Background(), m.approver, ids, action)
		return actionCompleteMsg{message: summarizeBulk(action, res)}
	}
}

func runReview() {
	a := bootstrap(configDir)
	defer a.close()
	ctx := context.Background()

	p := tea.NewProgram(newReviewModel(a.queue, a.actor(ctx)), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fatal("Failed to run review UI", err)
	}
}
