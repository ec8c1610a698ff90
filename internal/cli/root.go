// Package cli provides the command-line interface for milldeck.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vkaramfilov/milldeck/internal/backend"
	"github.com/vkaramfilov/milldeck/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose  bool
	millFlag string
	kindFlag string

	// Global config and clients
	cfg        config.Config
	logger     *slog.Logger
	logCleanup func() error
	client     *backend.Client
	registry   *config.MillRegistry
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "milldeck",
	Short: "Operator console for cascade process optimization",
	Long: `Milldeck is an operator console for multi-stage grinding circuits:
watch live process values, run what-if predictions against the serving
backend, and launch optimization jobs that search manipulated-variable
settings driving the target quality into a desired band.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if millFlag == "" {
			millFlag = cfg.DefaultMill
		}

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, logCleanup = config.SetupLogger(cfg.LogFile, level)

		var err error
		registry, err = config.LoadMills(cfg.MillsFile)
		if err != nil {
			return fmt.Errorf("load mill registry: %w", err)
		}

		client = backend.New(cfg.BackendURL, backend.Options{
			RequestTimeout: cfg.RequestTimeout,
			PredictTimeout: cfg.PredictTimeout,
		})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCleanup != nil {
			if err := logCleanup(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&millFlag, "mill", "", "mill to operate on (default from MILLDECK_DEFAULT_MILL)")
	rootCmd.PersistentFlags().StringVar(&kindFlag, "model", string(backend.ModelXGB), "model kind: xgb or gpr")
}

// feedClient builds the websocket feed client for commands that need live
// process values.
func feedClient() *backend.Feed {
	return backend.NewFeed(cfg.FeedURL, cfg.BackendURL)
}

func modelKind() (backend.ModelKind, error) {
	switch backend.ModelKind(kindFlag) {
	case backend.ModelXGB:
		return backend.ModelXGB, nil
	case backend.ModelGPR:
		return backend.ModelGPR, nil
	default:
		return "", fmt.Errorf("unknown model kind %q (want xgb or gpr)", kindFlag)
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
