package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List trained models for a mill",
	Long: `List the trained models the registry holds for a mill.

Examples:
  milldeck models
  milldeck models --mill Mill02
  milldeck models load --model gpr`,
	RunE: runModels,
}

var modelsLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a model into serving memory",
	RunE:  runModelsLoad,
}

func init() {
	modelsCmd.AddCommand(modelsLoadCmd)
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	models, err := client.ListModels(ctx, millFlag)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}

	if len(models) == 0 {
		fmt.Printf("No models trained for %s\n", millFlag)
		return nil
	}

	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("%-24s %-10s %-10s %s\n", "NAME", "TARGET", "FEATURES", "LAST TRAINED")
	fmt.Println("----------------------------------------------------------------------")
	for _, name := range names {
		m := models[name]
		trained := "-"
		if !m.LastTrained.IsZero() {
			trained = m.LastTrained.Format("2006-01-02 15:04")
		}
		fmt.Printf("%-24s %-10s %-10d %s\n", name, m.TargetCol, len(m.Features), trained)
	}
	return nil
}

func runModelsLoad(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	kind, err := modelKind()
	if err != nil {
		return err
	}

	model, err := client.LoadModel(ctx, millFlag, kind)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}

	fmt.Printf("Loaded %s/%s\n", model.MillID, model.Kind)
	fmt.Printf("  Target:    %s\n", model.TargetID)
	fmt.Printf("  Features:  %d\n", len(model.Features))
	if model.Classification != nil {
		fmt.Printf("  MVs:       %v\n", model.Classification.MVs)
		fmt.Printf("  DVs:       %v\n", model.Classification.DVs)
	}
	if !model.HasCompleteCascade {
		fmt.Println("  Warning: cascade is incomplete; CV predictions may be missing")
	}
	return nil
}
