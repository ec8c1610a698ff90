package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vkaramfilov/milldeck/internal/orchestrator"
)

var (
	optTarget    float64
	optTolerance float64
	optBounds    []string
	optDVs       []string
	optTrials    int
	optPlain     bool
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Launch an optimization job and watch it to completion",
	Long: `Submit an optimization job searching the MV ranges for settings that
drive the target into the requested band, then poll it to completion.

Examples:
  milldeck optimize --target 30 --bounds Ore=60:90 --dv Shisti=0.4
  milldeck optimize --target 30 --tolerance 0.05 --trials 200 --plain`,
	RunE: runOptimize,
}

func init() {
	optimizeCmd.Flags().Float64Var(&optTarget, "target", 0, "target setpoint (required)")
	optimizeCmd.Flags().Float64Var(&optTolerance, "tolerance", orchestrator.DefaultTolerance, "acceptable deviation from the setpoint")
	optimizeCmd.Flags().StringArrayVar(&optBounds, "bounds", nil, "MV search range as ID=low:high (repeatable)")
	optimizeCmd.Flags().StringArrayVar(&optDVs, "dv", nil, "disturbance value as ID=number (repeatable)")
	optimizeCmd.Flags().IntVar(&optTrials, "trials", orchestrator.DefaultTrialBudget, "optimization trial budget")
	optimizeCmd.Flags().BoolVar(&optPlain, "plain", false, "line-per-poll output instead of the progress UI")
	optimizeCmd.MarkFlagRequired("target")
	rootCmd.AddCommand(optimizeCmd)
}

// parseBounds turns ID=low:high flags into per-variable ranges.
func parseBounds(pairs []string) (map[string][2]float64, error) {
	out := make(map[string][2]float64, len(pairs))
	for _, pair := range pairs {
		id, raw, found := strings.Cut(pair, "=")
		if !found || id == "" {
			return nil, fmt.Errorf("expected ID=low:high, got %q", pair)
		}
		lowRaw, highRaw, found := strings.Cut(raw, ":")
		if !found {
			return nil, fmt.Errorf("expected ID=low:high, got %q", pair)
		}
		low, err := strconv.ParseFloat(lowRaw, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", pair, err)
		}
		high, err := strconv.ParseFloat(highRaw, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", pair, err)
		}
		out[id] = [2]float64{low, high}
	}
	return out, nil
}

func newSession(withFeed bool) *orchestrator.Session {
	params := orchestrator.SessionParams{
		Backend:        client,
		Mills:          registry,
		Logger:         logger,
		PollInterval:   cfg.PollInterval,
		MaxPolls:       cfg.MaxPolls,
		SliderDebounce: cfg.SliderDebounce,
		HistoryLimit:   cfg.JobHistoryLimit,
		TrialBudget:    optTrials,
	}
	if withFeed {
		params.Feed = feedClient()
	}
	return orchestrator.NewSession(params)
}

func runOptimize(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	kind, err := modelKind()
	if err != nil {
		return err
	}
	bounds, err := parseBounds(optBounds)
	if err != nil {
		return err
	}
	dvs, err := parseValues(optDVs)
	if err != nil {
		return err
	}

	session := newSession(false)
	defer session.Dispose()

	if err := session.ChangeMill(ctx, millFlag, kind); err != nil {
		return err
	}
	for id, b := range bounds {
		if err := session.SetSearchBounds(id, b[0], b[1]); err != nil {
			return err
		}
	}
	for id, v := range dvs {
		session.SetSlider(id, v)
	}
	if err := session.SetTarget(optTarget, optTolerance); err != nil {
		return err
	}

	job, err := session.StartOptimization(ctx)
	if err != nil {
		var verr *orchestrator.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("request rejected: %w", err)
		}
		return err
	}
	fmt.Printf("Submitted job %s (mill %s, target %.2f ±%.2f)\n", job.ID, millFlag, optTarget, optTolerance)

	if optPlain || !term.IsTerminal(int(os.Stdout.Fd())) {
		return followPlain(session)
	}
	return runJobProgress(session)
}

// followPlain prints one status line per poll interval until the job ends.
func followPlain(session *orchestrator.Session) error {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for range ticker.C {
		st := session.State()
		if st.Job == nil {
			continue
		}
		fmt.Printf("[%s] polls=%d\n", st.JobState, st.Job.Polls)
		if st.Job.Terminal() {
			return printOutcome(*st.Job)
		}
	}
	return nil
}

func printOutcome(job orchestrator.JobSnapshot) error {
	switch job.Status {
	case orchestrator.StateCompleted:
		r := job.Result
		fmt.Printf("\nCompleted: best target %.3f (feasible=%v, success rate %.0f%%)\n",
			r.BestTarget, r.Feasible, r.SuccessRate*100)
		for id, v := range r.BestMV {
			fmt.Printf("  %-12s %.3f\n", id, v)
		}
		return nil
	case orchestrator.StateCancelled:
		fmt.Println("\nCancelled.")
		return nil
	default:
		return job.Err
	}
}
