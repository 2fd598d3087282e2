package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// ExplainOptions holds flags for the explain command.
type ExplainOptions struct {
	*RootOptions
	Database string
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExplainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain <dtu-id>",
		Short: "Print the archived history of a DTU",
		Long: `Print every retained journal event that touches a DTU, oldest first.

Events folded into a compaction snapshot are no longer listed.

Example:
  lattice explain --db ./lattice.db dtu_2`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runExplain(opts *ExplainOptions, dtuID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	j, err := st.Restore(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to restore journal", err)
	}
	explanation := j.ExplainDTU(dtuID)

	if len(explanation.Events) == 0 {
		msg := fmt.Sprintf("no journal history for %s", dtuID)
		if err := formatter.Error(ErrCodeNotFound, msg, nil); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	if opts.Format == "json" {
		return formatter.Success(explanation)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "History of %s (%d event(s))\n", dtuID, len(explanation.Events))
	for _, line := range explanation.Lines {
		fmt.Fprintf(w, "  %s\n", line)
	}
	return nil
}
