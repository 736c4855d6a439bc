package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"deepresearch/internal/errs"
	"deepresearch/internal/logging"
)

var (
	verbose    bool
	configPath string
	budgetFlag int
	logDir     string
	jsonLogs   bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "research",
	Short: "An iterative deep-research agent: search, read, reflect, answer",
	Long: `research runs an iterative loop of web search, page reading, reflection,
and answer evaluation under a fixed token budget, until it produces a
well-supported answer or exhausts its budget.`,
	Args: cobra.ExactArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(logging.Options{DebugMode: verbose, JSONFormat: jsonLogs, Dir: logDir}); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if timeout, err := cmd.Flags().GetDuration("timeout"); err == nil && timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return runResearch(ctx, args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (defaults applied if absent)")
	rootCmd.PersistentFlags().IntVar(&budgetFlag, "budget", 1_000_000, "Total token budget for this run")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", ".research/logs", "Directory for category log files")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit structured JSON log lines")
	rootCmd.PersistentFlags().Duration("timeout", 20*time.Minute, "Overall run timeout")
}

// exitCodeFor maps an error's failure class to a process exit code:
// 0 success (never reached here), 1 generic/unclassified error,
// 2 budget exhaustion, 3 contract violation or fatal invariant failure.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var se *errs.StepError
	if asStepError(err, &se) {
		switch se.Class {
		case errs.ClassBudget:
			return 2
		case errs.ClassContract, errs.ClassFatal:
			return 3
		}
	}
	return 1
}

func asStepError(err error, target **errs.StepError) bool {
	for err != nil {
		if se, ok := err.(*errs.StepError); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
