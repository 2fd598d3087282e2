package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lattice/internal/journal"
)

func TestWriteEvents_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	events := buildJournal(t).Events()

	n, err := s.WriteEvents(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = s.WriteEvents(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "rewriting archived events inserts nothing")

	count, err := s.EventCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	var refs int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM event_refs`).Scan(&refs))
	assert.Equal(t, 7, refs, "edge event is indexed under its own id and both endpoints")
}

func TestWriteEvents_OverlappingTail(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	j := buildJournal(t)

	_, err := s.WriteEvents(ctx, j.Events()[:3])
	require.NoError(t, err)
	n, err := s.WriteEvents(ctx, j.Events())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	maxSeq, err := s.MaxSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, j.LastSeq(), maxSeq)
}

func TestWriteEvents_EmptyBatch(t *testing.T) {
	s := createTestStore(t)
	n, err := s.WriteEvents(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWriteSnapshot(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	snap := journal.Snapshot{
		ID:             "snap_1",
		CompactedCount: 3,
		FromSeq:        1,
		ToSeq:          3,
		CountsByType:   map[journal.EventType]int{journal.EventDTUCreated: 2, journal.EventProposalCreated: 1},
		CreatedAt:      testEpoch,
	}

	require.NoError(t, s.WriteSnapshot(ctx, snap))
	require.NoError(t, s.WriteSnapshot(ctx, snap), "duplicate snapshot ids are ignored")

	snaps, err := s.ReadSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, snap, snaps[0])
}

func TestWriteEvents_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := createTestStore(t)
	_, err := s.WriteEvents(ctx, buildJournal(t).Events())
	assert.Error(t, err)
}
