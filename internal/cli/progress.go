package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/vkaramfilov/milldeck/internal/orchestrator"
)

const uiTickInterval = 500 * time.Millisecond

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers reading the session state
type tickMsg time.Time

// progressModel is the bubbletea model for optimization job progress. The
// session polls the backend on its own; the model only reads snapshots.
type progressModel struct {
	session   *orchestrator.Session
	job       *orchestrator.JobSnapshot
	progress  progress.Model
	theme     Theme
	maxPolls int
	done     bool
	quitting bool
	err      error
}

// newProgressModel creates a new progress model.
func newProgressModel(session *orchestrator.Session, maxPolls int) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	if maxPolls <= 0 {
		maxPolls = orchestrator.DefaultMaxPolls
	}

	return progressModel{
		session:  session,
		progress: prog,
		theme:    defaultTheme,
		maxPolls: maxPolls,
	}
}

// Init returns the initial command (start ticking).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "c":
			m.session.Cancel(context.Background())
			return m, tickCmd()
		}

	case tickMsg:
		st := m.session.State()
		if st.Job != nil {
			snap := *st.Job
			m.job = &snap

			if snap.Terminal() {
				m.done = true
				if snap.Status == orchestrator.StateFailed {
					m.err = snap.Err
				}
				return m, tea.Quit
			}
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.job == nil {
		return "Submitting job...\n"
	}

	pct := float64(m.job.Polls) / float64(m.maxPolls)
	if pct > 1 {
		pct = 1
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.job.Status))
	progressBar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("poll %d/%d", m.job.Polls, m.maxPolls)
	hint := m.theme.hintStyle().Render("c to cancel the job, q to detach")

	return fmt.Sprintf("%s %s %s\n%s\n", status, progressBar, counts, hint)
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.quitting {
		id := ""
		if m.job != nil {
			id = m.job.ID
		}
		msg := fmt.Sprintf("\nJob %s continues on the backend.\nUse 'milldeck jobs %s' to check status.\n", id, id)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}

	if m.job != nil && m.job.Status == orchestrator.StateCancelled {
		return m.theme.hintStyle().Render("\nJob cancelled.\n")
	}

	if m.job != nil && m.job.Result != nil {
		r := m.job.Result
		var output string
		output += m.theme.completedStyle().Render("✓ Completed") + "\n\n"
		output += fmt.Sprintf("  Best target:   %.3f\n", r.BestTarget)
		output += fmt.Sprintf("  Feasible:      %v\n", r.Feasible)
		output += fmt.Sprintf("  Success rate:  %.0f%%\n", r.SuccessRate*100)
		for id, v := range r.BestMV {
			output += fmt.Sprintf("  %-14s %.3f\n", id, v)
		}
		return output
	}

	return m.theme.completedStyle().Render("✓ Completed\n")
}

// tickCmd returns a command that sends a tick after the UI interval.
func tickCmd() tea.Cmd {
	return tea.Tick(uiTickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runJobProgress runs the interactive progress UI for the session's current
// job. Returns nil on success, cancellation, or detach; the job error on
// failure.
func runJobProgress(session *orchestrator.Session) error {
	model := newProgressModel(session, cfg.MaxPolls)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}
