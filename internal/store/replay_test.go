package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lattice/internal/ir"
	"github.com/roach88/lattice/internal/journal"
)

func TestArchiveAndRestore(t *testing.T) {
	ctx := context.Background()
	j := buildJournal(t)
	s := createTestStore(t)

	res, err := s.Archive(ctx, j.Events(), j.Snapshots())
	require.NoError(t, err)
	assert.Equal(t, ArchiveResult{EventsWritten: 5, MaxSeq: 5}, res)

	restored, err := s.Restore(ctx, journal.WithClock(func() time.Time { return testEpoch }))
	require.NoError(t, err)
	assert.Equal(t, j.Len(), restored.Len())
	assert.Equal(t, j.LastSeq(), restored.LastSeq())
	assert.Equal(t, j.CountsByType(), restored.CountsByType())
	assert.Equal(t, j.ExplainDTU("dtu_1").Lines, restored.ExplainDTU("dtu_1").Lines)

	e, err := restored.Append(journal.EventSystem, map[string]any{"note": "resumed"})
	require.NoError(t, err)
	assert.Equal(t, int64(6), e.Seq, "restored journal continues numbering")
}

func TestArchive_AfterCompaction(t *testing.T) {
	ctx := context.Background()
	j := buildJournal(t)
	s := createTestStore(t)

	_, err := s.Archive(ctx, j.Events(), j.Snapshots())
	require.NoError(t, err)

	snap, err := j.Compact(2)
	require.NoError(t, err)
	require.NotNil(t, snap)

	res, err := s.Archive(ctx, j.Events(), j.Snapshots())
	require.NoError(t, err)
	assert.Equal(t, 0, res.EventsWritten)
	assert.Equal(t, 2, res.EventsSkipped)
	assert.Equal(t, 1, res.SnapshotsTotal)

	count, err := s.EventCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count, "the archive keeps events the journal compacted away")

	snaps, err := s.ReadSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, int64(3), snaps[0].ToSeq)
}

func TestRestore_RejectsUnknownEventType(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	_, err := s.DB().Exec(`INSERT INTO events (seq, type, payload, ts) VALUES (1, 'bogus', '{}', ?)`,
		formatTime(testEpoch))
	require.NoError(t, err)

	_, err = s.Restore(ctx)
	assert.True(t, ir.IsCode(err, ir.CodeInvalidEventType))
}
