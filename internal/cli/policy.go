package cli

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/lattice/internal/policy"
	"github.com/roach88/lattice/internal/scheduler"
)

// PolicyErrorDetails locates a policy error in its source file.
type PolicyErrorDetails struct {
	Field  string `json:"field"`
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// NewPolicyCommand creates the policy command group.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect scheduling policies",
	}
	cmd.AddCommand(newPolicyValidateCommand(rootOpts))
	return cmd
}

func newPolicyValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <policy.cue>",
		Short: "Compile a CUE scheduling policy",
		Long: `Compile a CUE scheduling policy and print the effective configuration.

Fields the policy leaves out take their defaults. Errors report the CUE
source position of the offending field.

Example:
  lattice policy validate ./policy.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyValidate(rootOpts, args[0], cmd)
		},
	}
}

func runPolicyValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := policy.Load(path)
	if err != nil {
		var cerr *policy.CompileError
		if !errors.As(err, &cerr) {
			_ = formatter.Error(ErrCodePolicy, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to load policy", err)
		}
		details := PolicyErrorDetails{Field: cerr.Field}
		if cerr.Pos.IsValid() {
			details.File = cerr.Pos.Filename()
			details.Line = cerr.Pos.Line()
			details.Column = cerr.Pos.Column()
		}
		if ferr := formatter.Error(ErrCodePolicy, cerr.Error(), details); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitFailure, "invalid policy", err)
	}

	formatter.VerboseLog("compiled %s", path)
	if opts.Format == "json" {
		return formatter.Success(cfg)
	}
	printPolicyText(formatter.Writer, path, cfg)
	return nil
}

func printPolicyText(w io.Writer, path string, cfg scheduler.Config) {
	fmt.Fprintf(w, "✓ %s is valid\n\n", path)

	wt := cfg.Weights
	fmt.Fprintln(w, "Weights:")
	fmt.Fprintf(w, "  impact=%.2f risk=%.2f uncertainty=%.2f novelty=%.2f\n", wt.Impact, wt.Risk, wt.Uncertainty, wt.Novelty)
	fmt.Fprintf(w, "  contradictionPressure=%.2f governancePressure=%.2f effort=%.2f\n",
		wt.ContradictionPressure, wt.GovernancePressure, wt.Effort)

	b := cfg.Budget
	fmt.Fprintf(w, "Budget: cycle %s, %d item(s) per cycle, %d concurrent session(s)\n",
		b.CycleDuration, b.MaxItemsPerCycle, b.MaxConcurrentSessions)
	fmt.Fprintf(w, "Turns per item: %d\n", cfg.MaxTurnsPerItem)
	fmt.Fprintf(w, "Deadline: +%.2f within %s\n", cfg.DeadlineBoost, cfg.DeadlineWindow)
	fmt.Fprintf(w, "Scan: lowCoherence<%.2f backlog>=%d hot>=%.2f\n",
		cfg.Scan.LowCoherence, cfg.Scan.Backlog, cfg.Scan.Hot)

	fmt.Fprintln(w, "Affinity:")
	for _, t := range slices.Sorted(maps.Keys(cfg.Affinity)) {
		a := cfg.Affinity[t]
		fmt.Fprintf(w, "  %-22s %s %v\n", t, a.Primary, a.Secondary)
	}
}
