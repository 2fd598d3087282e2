package lattice

import (
	"github.com/roach88/lattice/internal/activation"
	"github.com/roach88/lattice/internal/ir"
	"github.com/roach88/lattice/internal/journal"
	"github.com/roach88/lattice/internal/merge"
)

// Activate boosts dtuID in sessionID. The DTU must be readable (canonical
// or shadow).
func (l *Lattice) Activate(sessionID, dtuID string, amount float64, reason string) (activation.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.store.Exists(dtuID) {
		return activation.Record{}, ir.NotFound("dtu", dtuID)
	}
	rec, err := l.activation.Activate(sessionID, dtuID, amount, reason)
	if err != nil {
		return activation.Record{}, err
	}
	l.record(journal.EventDTUActivated, map[string]any{
		"dtuId":     dtuID,
		"sessionId": sessionID,
		"reason":    reason,
		"count":     rec.Count,
	})
	return rec, nil
}

// SpreadActivation propagates activation from sourceID along outgoing edges.
func (l *Lattice) SpreadActivation(sessionID, sourceID string, maxHops int) (activation.SpreadResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.activation.Spread(sessionID, sourceID, maxHops, l.edges)
	if err != nil {
		return res, err
	}
	reached := make([]string, 0, len(res.Reached))
	for _, r := range res.Reached {
		reached = append(reached, r.DTUID)
	}
	l.record(journal.EventActivationSpread, map[string]any{
		"dtuId":     sourceID,
		"sessionId": sessionID,
		"reached":   len(reached),
		"refs":      reached,
	})
	return res, nil
}

// WorkingSet returns the top-k activated DTUs of a session.
func (l *Lattice) WorkingSet(sessionID string, k int) []activation.Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.activation.WorkingSet(sessionID, k)
}

// DecaySession multiplies every score in the session by factor.
func (l *Lattice) DecaySession(sessionID string, factor float64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activation.Decay(sessionID, factor)
}

// ClearSessionActivation purges a session's activation.
func (l *Lattice) ClearSessionActivation(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activation.Clear(sessionID)
}

// GlobalActivation returns the cross-session aggregate of dtuID.
func (l *Lattice) GlobalActivation(dtuID string) (activation.Global, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.activation.Global(dtuID)
}

// Sessions returns sessions with activation state.
func (l *Lattice) Sessions() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.activation.Sessions()
}

// FieldTimestamps returns the last writer of each field of dtuID.
func (l *Lattice) FieldTimestamps(dtuID string) map[string]merge.FieldStamp {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.merger.FieldTimestamps(dtuID)
}

// Conflicts returns the merge conflict history of dtuID.
func (l *Lattice) Conflicts(dtuID string) []merge.Conflict {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.merger.Conflicts(dtuID)
}

// ResolveConflict force-sets a field of a canonical DTU on behalf of a
// resolving actor and journals the resolution.
func (l *Lattice) ResolveConflict(dtuID, field string, value any, actorID string) (merge.Conflict, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.merger.ResolveConflict(dtuID, field, value, actorID)
	if err != nil {
		return merge.Conflict{}, err
	}
	l.record(journal.EventConflictResolved, map[string]any{
		"dtuId":      dtuID,
		"field":      c.Field,
		"resolvedBy": actorID,
	})
	return c, nil
}
