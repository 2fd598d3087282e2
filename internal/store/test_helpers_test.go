package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/lattice/internal/journal"
)

// createTestStore creates a new store in a per-test temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// buildJournal appends a small, realistic history and returns the journal.
func buildJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j := journal.New(journal.WithClock(func() time.Time { return testEpoch }))
	appends := []struct {
		typ     journal.EventType
		payload map[string]any
	}{
		{journal.EventProposalCreated, map[string]any{"proposalId": "prop_1", "proposedBy": "em_1", "sessionId": "s1"}},
		{journal.EventDTUCreated, map[string]any{"dtuId": "dtu_1", "title": "Gravity <&>", "proposedBy": "em_1", "sessionId": "s1"}},
		{journal.EventDTUCreated, map[string]any{"dtuId": "dtu_2", "title": "Mass", "proposedBy": "em_1"}},
		{journal.EventEdgeCreated, map[string]any{"edgeId": "edge_1", "createdBy": "em_1", "weight": 0.8, "refs": []string{"dtu_1", "dtu_2"}}},
		{journal.EventDTUActivated, map[string]any{"dtuId": "dtu_1", "sessionId": "s2", "score": 1.0}},
	}
	for _, a := range appends {
		if _, err := j.Append(a.typ, a.payload); err != nil {
			t.Fatalf("Append(%s) failed: %v", a.typ, err)
		}
	}
	return j
}
