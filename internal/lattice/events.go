package lattice

import (
	"github.com/roach88/lattice/internal/journal"
)

// AppendEvent records an event for a collaborator (the scheduler, a
// calling layer) under the lattice lock.
func (l *Lattice) AppendEvent(t journal.EventType, payload map[string]any) (journal.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.journal.Append(t, payload)
}

// EventsByType returns retained events of type t.
func (l *Lattice) EventsByType(t journal.EventType) []journal.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.journal.QueryByType(t)
}

// EventsByEntity returns retained events referencing entityID.
func (l *Lattice) EventsByEntity(entityID string) []journal.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.journal.QueryByEntity(entityID)
}

// EventsBySession returns retained events of sessionID.
func (l *Lattice) EventsBySession(sessionID string) []journal.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.journal.QueryBySession(sessionID)
}

// RecentEvents returns the last n events.
func (l *Lattice) RecentEvents(n int) []journal.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.journal.Recent(n)
}

// Events returns every retained event in seq order.
func (l *Lattice) Events() []journal.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.journal.Events()
}

// Snapshots returns the journal's compaction snapshots.
func (l *Lattice) Snapshots() []journal.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.journal.Snapshots()
}

// ExplainDTU replays the journal history of dtuID.
func (l *Lattice) ExplainDTU(dtuID string) journal.Explanation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.journal.ExplainDTU(dtuID)
}

// CompactJournal keeps the newest keepLast events and rolls the rest into a
// snapshot. A journal_compacted event is appended after a compaction, so the
// retained tail is keepLast+1 events long.
func (l *Lattice) CompactJournal(keepLast int) (*journal.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap, err := l.journal.Compact(keepLast)
	if err != nil || snap == nil {
		return snap, err
	}
	l.record(journal.EventJournalCompacted, map[string]any{
		"entityId":       snap.ID,
		"compactedCount": snap.CompactedCount,
		"fromSeq":        snap.FromSeq,
		"toSeq":          snap.ToSeq,
	})
	l.logger.Info("journal compacted", "snapshot_id", snap.ID, "compacted", snap.CompactedCount)
	return snap, nil
}
