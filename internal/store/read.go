package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/lattice/internal/journal"
)

const eventColumns = `e.seq, e.type, e.actor_id, e.entity_id, e.session_id, e.payload, e.ts`

// ReadEvents returns every archived event ordered by seq.
//
// Returns an empty slice (not nil) if the archive is empty.
func (s *Store) ReadEvents(ctx context.Context) ([]journal.Event, error) {
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events e ORDER BY e.seq ASC`)
}

// ReadEventsAfter returns events with seq greater than after, ordered by seq.
func (s *Store) ReadEventsAfter(ctx context.Context, after int64) ([]journal.Event, error) {
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events e WHERE e.seq > ? ORDER BY e.seq ASC`, after)
}

// ReadEventsByEntity returns events indexed under entityID, either as their
// own entity or through payload refs, ordered by seq.
func (s *Store) ReadEventsByEntity(ctx context.Context, entityID string) ([]journal.Event, error) {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM event_refs r
		JOIN events e ON e.seq = r.seq
		WHERE r.entity_id = ?
		ORDER BY e.seq ASC
	`, entityID)
}

// ReadEventsByType returns events of type t ordered by seq.
func (s *Store) ReadEventsByType(ctx context.Context, t journal.EventType) ([]journal.Event, error) {
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM events e WHERE e.type = ? ORDER BY e.seq ASC`, string(t))
}

// ReadSnapshots returns archived snapshots ordered by to_seq.
func (s *Store) ReadSnapshots(ctx context.Context) ([]journal.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, compacted_count, from_seq, to_seq, counts, created_at
		FROM snapshots
		ORDER BY to_seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []journal.Snapshot{}
	for rows.Next() {
		var (
			snap    journal.Snapshot
			counts  string
			created string
		)
		if err := rows.Scan(&snap.ID, &snap.CompactedCount, &snap.FromSeq, &snap.ToSeq, &counts, &created); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if snap.CountsByType, err = unmarshalCounts(counts); err != nil {
			return nil, err
		}
		if snap.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snaps, nil
}

// MaxSeq returns the highest archived seq, or 0 for an empty archive.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query max seq: %w", err)
	}
	return seq.Int64, nil
}

// EventCount returns the number of archived events.
func (s *Store) EventCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]journal.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []journal.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (journal.Event, error) {
	var (
		e       journal.Event
		typ     string
		payload string
		ts      string
	)
	if err := rows.Scan(&e.Seq, &typ, &e.ActorID, &e.EntityID, &e.SessionID, &payload, &ts); err != nil {
		return e, fmt.Errorf("scan event: %w", err)
	}
	e.Type = journal.EventType(typ)

	var err error
	if e.Payload, err = unmarshalPayload(payload); err != nil {
		return e, fmt.Errorf("event %d: %w", e.Seq, err)
	}
	if e.Timestamp, err = parseTime(ts); err != nil {
		return e, fmt.Errorf("event %d: %w", e.Seq, err)
	}
	return e, nil
}
