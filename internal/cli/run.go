package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/lattice/internal/harness"
	"github.com/roach88/lattice/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
}

// RunResult is the run command's JSON payload.
type RunResult struct {
	Scenario string                `json:"scenario"`
	Pass     bool                  `json:"pass"`
	Steps    []harness.StepOutcome `json:"steps"`
	Errors   []string              `json:"errors,omitempty"`
	Archive  *store.ArchiveResult  `json:"archive,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Execute a scenario against a fresh lattice",
		Long: `Execute one YAML scenario against a fresh lattice and scheduler.

Each step is printed with the id it produced or the error code it hit.
With --db the final journal and its compaction snapshots are archived to
SQLite, appending to whatever the database already holds.

Example:
  lattice run testdata/scenarios/governance_commit.yaml
  lattice run --db ./lattice.db scenario.yaml --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "archive the journal to this SQLite database")

	return cmd
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	logger.Debug("running scenario", "name", scenario.Name, "steps", len(scenario.Steps))
	result, err := harness.Run(scenario, harness.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario aborted", err)
	}

	out := RunResult{
		Scenario: scenario.Name,
		Pass:     result.Pass,
		Steps:    result.Steps,
		Errors:   result.Errors,
	}

	if opts.Database != "" {
		archived, err := archiveResult(cmd.Context(), opts.Database, result)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to archive journal", err)
		}
		logger.Info("journal archived", "db", opts.Database,
			"written", archived.EventsWritten, "max_seq", archived.MaxSeq)
		out.Archive = &archived
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: out}
		if !out.Pass {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeScenarioFailed, Message: "scenario failed", Details: out.Errors}
		}
		if err := formatter.JSON(resp); err != nil {
			return err
		}
	} else {
		printRunText(formatter.Writer, out)
	}

	if !out.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

func archiveResult(ctx context.Context, dbPath string, result *harness.Result) (store.ArchiveResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return store.ArchiveResult{}, err
	}
	defer st.Close()
	return st.Archive(ctx, result.Events, result.Snapshots)
}

func printRunText(w io.Writer, out RunResult) {
	fmt.Fprintf(w, "Scenario: %s\n", out.Scenario)
	for _, s := range out.Steps {
		switch {
		case s.Error != "":
			fmt.Fprintf(w, "  [%d] %-18s error %s\n", s.Index, s.Op, s.Error)
		case s.ID != "":
			fmt.Fprintf(w, "  [%d] %-18s %s\n", s.Index, s.Op, s.ID)
		default:
			fmt.Fprintf(w, "  [%d] %s\n", s.Index, s.Op)
		}
	}
	if out.Archive != nil {
		fmt.Fprintf(w, "Archived %d event(s), %d skipped, max seq %d\n",
			out.Archive.EventsWritten, out.Archive.EventsSkipped, out.Archive.MaxSeq)
	}
	if out.Pass {
		fmt.Fprintln(w, "✓ PASS")
		return
	}
	fmt.Fprintln(w, "✗ FAIL")
	for _, e := range out.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}
