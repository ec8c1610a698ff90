package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vkaramfilov/milldeck/internal/metrics"
	"github.com/vkaramfilov/milldeck/internal/orchestrator"
	"github.com/vkaramfilov/milldeck/internal/process"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of process values and predictions",
	Long: `Subscribe to the live feed for a mill and display current process
values, what-if predictions, and the state of any running optimization job.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	kind, err := modelKind()
	if err != nil {
		return err
	}

	session := newSession(true)
	defer session.Dispose()

	if err := session.ChangeMill(context.Background(), millFlag, kind); err != nil {
		return err
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return watchPlain(session)
	}

	p := tea.NewProgram(newWatchModel(session))
	_, err = p.Run()
	return err
}

// watchPlain prints a state line per second for non-interactive output.
func watchPlain(session *orchestrator.Session) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		st := session.State()
		var parts []string
		for _, v := range st.Variables {
			if v.Current != nil {
				parts = append(parts, fmt.Sprintf("%s=%.2f", v.ID, *v.Current))
			}
		}
		fmt.Printf("%s %s\n", st.FeedTimestamp.Format(time.TimeOnly), strings.Join(parts, " "))
	}
	return nil
}

// watchTickMsg drives dashboard refresh.
type watchTickMsg time.Time

// watchModel is the bubbletea model for the live dashboard.
type watchModel struct {
	session *orchestrator.Session
	state   orchestrator.SessionState
	theme   Theme
	width   int
}

func newWatchModel(session *orchestrator.Session) watchModel {
	return watchModel{
		session: session,
		theme:   defaultTheme,
		width:   80,
	}
}

func (m watchModel) Init() tea.Cmd {
	return watchTickCmd()
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case watchTickMsg:
		m.state = m.session.State()
		return m, watchTickCmd()
	}

	return m, nil
}

func (m watchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m watchModel) renderContent() string {
	st := m.state
	var b strings.Builder

	header := fmt.Sprintf("%s  model=%s  target=%s %.2f ±%.2f",
		st.Mill, st.ModelKind, st.TargetID, st.TargetSetpoint, st.Tolerance)
	b.WriteString(m.theme.statusStyle().Render(header))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("  %-12s %-6s %10s %10s %8s %18s\n",
		"VARIABLE", "ROLE", "PV", "SLIDER", "UNIT", "SEARCH RANGE"))
	for _, v := range st.Variables {
		b.WriteString("  " + renderVariableRow(v) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(renderSlot("  manual", st.Manual))
	b.WriteString(renderSlot("  livePV", st.Live))

	if st.Job != nil {
		line := fmt.Sprintf("  job %s [%s] polls=%d", st.Job.ID, st.Job.Status, st.Job.Polls)
		if st.Job.Status == orchestrator.StateFailed && st.Job.Err != nil {
			line += " " + st.Job.Err.Error()
		}
		b.WriteString("\n" + line + "\n")
	}
	if st.Proposed.Values != nil {
		b.WriteString(fmt.Sprintf("\n  proposed (feasible=%v):", st.Proposed.Feasible))
		for id, v := range st.Proposed.Values {
			b.WriteString(fmt.Sprintf(" %s=%.2f", id, v))
		}
		b.WriteString("\n")
	}

	footer := ""
	if !st.FeedTimestamp.IsZero() {
		footer = fmt.Sprintf("feed %s  ", st.FeedTimestamp.Format(time.TimeOnly))
	}
	snap := m.session.Metrics().Snapshot()
	footer += fmt.Sprintf("samples=%d stale=%d poll_errs=%d",
		snap.Counters[metrics.CtrSamplesIngested],
		snap.Counters[metrics.CtrStalePollDropped]+snap.Counters[metrics.CtrStalePredictDropped],
		snap.Counters[metrics.CtrPollTransportErrors])
	b.WriteString("\n" + m.theme.hintStyle().Render("  "+footer))
	b.WriteString("\n" + m.theme.hintStyle().Render("  q to quit") + "\n")
	return b.String()
}

func renderVariableRow(v process.Variable) string {
	pv := "-"
	if v.Current != nil {
		pv = fmt.Sprintf("%.2f", *v.Current)
	}
	slider := "-"
	if v.Slider != nil {
		slider = fmt.Sprintf("%.2f", *v.Slider)
	}
	search := fmt.Sprintf("%.1f .. %.1f", v.Search.Low, v.Search.High)
	return fmt.Sprintf("%-12s %-6s %10s %10s %8s %18s",
		v.ID, v.Role, pv, slider, v.Unit, search)
}

func renderSlot(label string, slot orchestrator.PredictionSlot) string {
	if slot.Err != nil {
		return fmt.Sprintf("%s  error: %v\n", label, slot.Err)
	}
	if slot.Response == nil {
		return fmt.Sprintf("%s  (no prediction yet)\n", label)
	}
	r := slot.Response
	line := fmt.Sprintf("%s  target %.3f", label, r.PredictedTarget)
	if r.Uncertainty != nil {
		line += fmt.Sprintf(" ±%.3f", *r.Uncertainty)
	}
	return line + fmt.Sprintf("  (%s ago)\n", time.Since(slot.At).Round(time.Second))
}

// watchTickCmd refreshes the dashboard once per second.
func watchTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}
