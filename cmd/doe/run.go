package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/mayflydoe/internal/config"
	"github.com/cwbudde/mayflydoe/internal/criterion"
	"github.com/cwbudde/mayflydoe/internal/store"
	"github.com/cwbudde/mayflydoe/internal/strategy"
)

var (
	nExperiments    int
	experimentsPath string
	outPath         string
	runs            int
	save            bool
)

var runCmd = &cobra.Command{
	Use:   "run <problem.yaml>",
	Short: "Generate a design for a problem file",
	Long: `Reads a problem file (design space, formula, criterion and solver options),
generates the requested number of experiments and writes them as CSV.
Executed experiments given with --experiments are kept and augmented.`,
	Args: cobra.ExactArgs(1),
	RunE: runDesign,
}

func init() {
	runCmd.Flags().IntVarP(&nExperiments, "n-experiments", "n", 0, "Number of new experiments (required)")
	runCmd.Flags().StringVar(&experimentsPath, "experiments", "", "CSV of executed experiments to augment")
	runCmd.Flags().StringVarP(&outPath, "out", "o", "", "Output CSV path (default stdout)")
	runCmd.Flags().IntVar(&runs, "runs", 0, "Independent solves; the best design wins (default from problem)")
	runCmd.Flags().BoolVar(&save, "save", false, "Persist the design record and trace under --data-dir")
	runCmd.Flags().String("strategy", "default", "Solver strategy")
	runCmd.Flags().Int64("seed", 0, "Random seed")
	runCmd.Flags().Float64("max-seconds", 0, "Wall-clock budget per solve (0 = none)")
	runCmd.Flags().Int("workers", 1, "Branch-and-bound workers")

	runCmd.MarkFlagRequired("n-experiments")
	rootCmd.AddCommand(runCmd)
}

// loadProblem reads the problem file over the configured solver defaults.
// Solver flags set on the command line win over the file.
func loadProblem(cmd *cobra.Command, path string, app *config.Config) (*strategy.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read problem file: %w", err)
	}
	base := strategy.DefaultConfig()
	base.Options = app.Solver
	cfg, err := strategy.ParseConfigOver(data, base)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("strategy") {
		cfg.Options.Strategy = app.Solver.Strategy
	}
	if flags.Changed("seed") {
		cfg.Options.RandomSeed = app.Solver.RandomSeed
	}
	if flags.Changed("max-seconds") {
		cfg.Options.MaxSeconds = app.Solver.MaxSeconds
	}
	if flags.Changed("workers") {
		cfg.Options.Workers = app.Solver.Workers
	}
	if flags.Changed("runs") {
		cfg.Runs = runs
	}
	return cfg, nil
}

func runDesign(cmd *cobra.Command, args []string) error {
	cfg, err := loadProblem(cmd, args[0], appConfig)
	if err != nil {
		return err
	}

	id := uuid.New().String()
	var trace *store.TraceWriter
	if save {
		trace, err = store.NewTraceWriter(appConfig.DataDir, id, false)
		if err != nil {
			return err
		}
		defer trace.Close()
		cfg.Options.Observer = trace.Observe
	}

	strat, err := strategy.New(*cfg)
	if err != nil {
		return err
	}

	if experimentsPath != "" {
		f, err := os.Open(experimentsPath)
		if err != nil {
			return fmt.Errorf("failed to open experiments: %w", err)
		}
		told, err := strategy.ReadCSV(f)
		f.Close()
		if err != nil {
			return err
		}
		if err := strat.Tell(told); err != nil {
			return err
		}
		slog.Info("Loaded executed experiments", "rows", told.Len())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	slog.Info("Starting design generation",
		"n_experiments", nExperiments,
		"strategy", cfg.Options.Strategy,
		"criterion", cfg.Criterion,
		"formula", cfg.Formula,
		"runs", cfg.Runs,
	)

	start := time.Now()
	proposal, err := strat.Ask(ctx, nExperiments)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	if ctx.Err() != nil {
		slog.Warn("Interrupted; writing the best design found so far")
	}

	if err := writeTable(cmd.OutOrStdout(), outPath, proposal.Candidates); err != nil {
		return err
	}

	if save {
		st, err := store.NewFSStore(appConfig.DataDir)
		if err != nil {
			return err
		}
		if err := st.SaveRecord(store.NewRecord(id, strat.Config(), nExperiments, proposal, elapsed)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Saved design %s\n", id)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%s = %.6g (%d runs, converged: %v, %s)\n",
		cfg.Criterion, proposal.Value, len(proposal.Values), proposal.Converged, elapsed.Round(time.Millisecond))
	if proposal.Value == criterion.Singular {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: design is rank deficient; request at least as many experiments as model terms")
	}
	return nil
}

func writeTable(stdout io.Writer, path string, t strategy.Table) error {
	if path == "" {
		return t.WriteCSV(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if err := t.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
