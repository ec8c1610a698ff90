package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vkaramfilov/milldeck/internal/backend"
)

var (
	predictMVs []string
	predictDVs []string
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Run a one-shot what-if prediction",
	Long: `Run a single what-if prediction from explicit MV and DV values.

Examples:
  milldeck predict --mv Ore=75 --mv WaterMill=14 --dv Shisti=0.4
  milldeck predict --model gpr --mv Ore=80 --dv Shisti=0.35`,
	RunE: runPredict,
}

func init() {
	predictCmd.Flags().StringArrayVar(&predictMVs, "mv", nil, "manipulated variable value as ID=number (repeatable)")
	predictCmd.Flags().StringArrayVar(&predictDVs, "dv", nil, "disturbance variable value as ID=number (repeatable)")
	rootCmd.AddCommand(predictCmd)
}

// parseValues turns repeated ID=number flags into a map.
func parseValues(pairs []string) (map[string]float64, error) {
	values := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		id, raw, found := strings.Cut(pair, "=")
		if !found || id == "" {
			return nil, fmt.Errorf("expected ID=number, got %q", pair)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", pair, err)
		}
		values[id] = v
	}
	return values, nil
}

func runPredict(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	kind, err := modelKind()
	if err != nil {
		return err
	}
	mvs, err := parseValues(predictMVs)
	if err != nil {
		return err
	}
	if len(mvs) == 0 {
		return fmt.Errorf("at least one --mv is required")
	}
	dvs, err := parseValues(predictDVs)
	if err != nil {
		return err
	}

	resp, err := client.Predict(ctx, backend.PredictRequest{
		MillID:   millFlag,
		Kind:     kind,
		MVValues: mvs,
		DVValues: dvs,
	})
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}

	fmt.Printf("Predicted target: %.3f\n", resp.PredictedTarget)
	if resp.Uncertainty != nil {
		fmt.Printf("Uncertainty:      ±%.3f\n", *resp.Uncertainty)
	}
	if len(resp.PredictedCVs) > 0 {
		fmt.Println("Predicted CVs:")
		for id, v := range resp.PredictedCVs {
			fmt.Printf("  %-12s %.3f\n", id, v)
		}
	}
	return nil
}
