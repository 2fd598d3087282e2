package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"reflect"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/lattice/internal/journal"
	"github.com/roach88/lattice/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Entity   string
}

// ReplayResult holds the result of replaying an archive.
type ReplayResult struct {
	Events        int                       `json:"events"`
	Snapshots     int                       `json:"snapshots"`
	Compacted     int                       `json:"compacted"`
	MaxSeq        int64                     `json:"max_seq"`
	CountsByType  map[journal.EventType]int `json:"counts_by_type"`
	Ordered       bool                      `json:"ordered"`
	Deterministic bool                      `json:"deterministic"`
	Archive       store.Info                `json:"archive"`
	Entity        string                    `json:"entity,omitempty"`
	EntityEvents  []journal.Event           `json:"entity_events,omitempty"`
}

// Verified reports whether the archive replayed cleanly.
func (r ReplayResult) Verified() bool {
	return r.Ordered && r.Deterministic
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay an archived journal and verify it",
		Long: `Restore the archived journal twice and verify the replay.

The events must be in strictly increasing seq order and both restores must
yield the same events. Compacted history is reported from the snapshots.

Examples:
  lattice replay --db ./lattice.db
  lattice replay --db ./lattice.db --entity dtu_1 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "also list the events of one entity")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

// openExisting opens a database that must already exist; store.Open would
// otherwise create an empty one.
func openExisting(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
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

	result, err := replayArchive(ctx, st, opts.Entity)
	if err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}
	formatter.VerboseLog("replayed %d event(s) up to seq %d", result.Events, result.MaxSeq)

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Verified() {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeArchive, Message: "replay verification failed"}
		}
		if err := formatter.JSON(resp); err != nil {
			return err
		}
	} else {
		printReplayText(formatter.Writer, result, opts.Verbose)
	}

	if !result.Verified() {
		return NewExitError(ExitFailure, "replay verification failed")
	}
	return nil
}

func replayArchive(ctx context.Context, st *store.Store, entity string) (ReplayResult, error) {
	first, err := st.Restore(ctx)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("first replay failed: %w", err)
	}
	second, err := st.Restore(ctx)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("second replay failed: %w", err)
	}
	maxSeq, err := st.MaxSeq(ctx)
	if err != nil {
		return ReplayResult{}, err
	}
	info, err := st.Info(ctx)
	if err != nil {
		return ReplayResult{}, err
	}

	events := first.Events()
	snaps := first.Snapshots()
	result := ReplayResult{
		Events:        len(events),
		Snapshots:     len(snaps),
		MaxSeq:        maxSeq,
		Archive:       info,
		CountsByType:  first.CountsByType(),
		Ordered:       increasing(events) && (len(events) == 0 || events[len(events)-1].Seq == maxSeq),
		Deterministic: reflect.DeepEqual(events, second.Events()) && reflect.DeepEqual(snaps, second.Snapshots()),
	}
	for _, s := range snaps {
		result.Compacted += s.CompactedCount
	}
	if entity != "" {
		result.Entity = entity
		result.EntityEvents = first.QueryByEntity(entity)
	}
	return result, nil
}

func increasing(events []journal.Event) bool {
	for i := 1; i < len(events); i++ {
		if events[i].Seq <= events[i-1].Seq {
			return false
		}
	}
	return true
}

func printReplayText(w io.Writer, r ReplayResult, verbose bool) {
	fmt.Fprintf(w, "Replay Summary: %d event(s), max seq %d\n", r.Events, r.MaxSeq)
	if r.Snapshots > 0 {
		fmt.Fprintf(w, "  %d snapshot(s) covering %d compacted event(s)\n", r.Snapshots, r.Compacted)
	}
	if verbose {
		fmt.Fprintf(w, "  written by lattice %s, journal schema %s\n", r.Archive.CoreVersion, r.Archive.SchemaVersion)
		for _, t := range slices.Sorted(maps.Keys(r.CountsByType)) {
			fmt.Fprintf(w, "  %-22s %d\n", t, r.CountsByType[t])
		}
	}
	if r.Entity != "" {
		fmt.Fprintf(w, "\nEvents for %s: %d\n", r.Entity, len(r.EntityEvents))
		for _, e := range r.EntityEvents {
			fmt.Fprintf(w, "  #%d %s\n", e.Seq, e.Type)
		}
	}
	fmt.Fprintln(w)

	if !r.Ordered {
		fmt.Fprintln(w, "  Warning: archived events are out of seq order!")
	}
	if !r.Deterministic {
		fmt.Fprintln(w, "  Warning: Non-deterministic replay detected!")
	}
	if r.Verified() {
		fmt.Fprintln(w, "✓ Archive verified")
		return
	}
	fmt.Fprintln(w, "✗ Replay verification failed")
}
