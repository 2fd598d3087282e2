package store

import (
	"context"
	"fmt"

	"github.com/roach88/lattice/internal/journal"
)

// ArchiveResult reports what Archive wrote.
type ArchiveResult struct {
	EventsWritten  int
	EventsSkipped  int
	SnapshotsTotal int
	MaxSeq         int64
}

// Archive mirrors a journal's retained events and snapshots into the store.
// Safe to call repeatedly against a growing journal; only new rows are
// written.
func (s *Store) Archive(ctx context.Context, events []journal.Event, snapshots []journal.Snapshot) (ArchiveResult, error) {
	var res ArchiveResult

	written, err := s.WriteEvents(ctx, events)
	if err != nil {
		return res, fmt.Errorf("archive: %w", err)
	}
	res.EventsWritten = written
	res.EventsSkipped = len(events) - written

	for _, snap := range snapshots {
		if err := s.WriteSnapshot(ctx, snap); err != nil {
			return res, fmt.Errorf("archive: %w", err)
		}
	}
	res.SnapshotsTotal = len(snapshots)

	if res.MaxSeq, err = s.MaxSeq(ctx); err != nil {
		return res, fmt.Errorf("archive: %w", err)
	}
	return res, nil
}

// Restore rebuilds a journal from the archive. The restored journal
// continues numbering after the highest archived seq.
func (s *Store) Restore(ctx context.Context, opts ...journal.Option) (*journal.Journal, error) {
	events, err := s.ReadEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	snaps, err := s.ReadSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	j, err := journal.Restore(events, snaps, opts...)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	return j, nil
}
