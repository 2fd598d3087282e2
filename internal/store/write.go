package store

import (
	"context"
	"fmt"

	"github.com/roach88/lattice/internal/journal"
)

// WriteEvents archives events in one transaction and returns how many were
// new. Uses ON CONFLICT(seq) DO NOTHING for idempotency - events already
// archived are silently skipped, as are their refs.
func (s *Store) WriteEvents(ctx context.Context, events []journal.Event) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("write events: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	eventStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (seq, type, actor_id, entity_id, session_id, payload, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("write events: prepare: %w", err)
	}
	defer eventStmt.Close()

	refStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO event_refs (seq, entity_id) VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("write events: prepare refs: %w", err)
	}
	defer refStmt.Close()

	inserted := 0
	for _, e := range events {
		payload, err := marshalJSON(e.Payload)
		if err != nil {
			return 0, fmt.Errorf("write events: seq %d: marshal payload: %w", e.Seq, err)
		}
		res, err := eventStmt.ExecContext(ctx,
			e.Seq,
			string(e.Type),
			e.ActorID,
			e.EntityID,
			e.SessionID,
			payload,
			formatTime(e.Timestamp),
		)
		if err != nil {
			return 0, fmt.Errorf("write events: seq %d: %w", e.Seq, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("write events: rows affected: %w", err)
		}
		if n == 0 {
			continue
		}
		inserted++
		for _, ref := range eventRefs(e) {
			if _, err := refStmt.ExecContext(ctx, e.Seq, ref); err != nil {
				return 0, fmt.Errorf("write events: seq %d ref %s: %w", e.Seq, ref, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write events: commit: %w", err)
	}
	return inserted, nil
}

// WriteSnapshot archives a compaction snapshot.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) WriteSnapshot(ctx context.Context, snap journal.Snapshot) error {
	counts, err := marshalJSON(snap.CountsByType)
	if err != nil {
		return fmt.Errorf("write snapshot: marshal counts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, compacted_count, from_seq, to_seq, counts, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		snap.ID,
		snap.CompactedCount,
		snap.FromSeq,
		snap.ToSeq,
		counts,
		formatTime(snap.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
