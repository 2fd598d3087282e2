package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lattice/internal/ir"
)

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestJournal() *Journal {
	return New(
		WithClock(func() time.Time { return testEpoch }),
		WithIDGenerator(ir.NewSequenceGenerator()),
	)
}

func mustAppend(t *testing.T, j *Journal, typ EventType, payload map[string]any) Event {
	t.Helper()
	e, err := j.Append(typ, payload)
	require.NoError(t, err)
	return e
}

func TestAppend_StrictlyIncreasingSeq(t *testing.T) {
	j := newTestJournal()
	var last int64
	for i, typ := range EventTypes() {
		e := mustAppend(t, j, typ, map[string]any{"i": i})
		assert.Greater(t, e.Seq, last, "type %s", typ)
		last = e.Seq
	}
	assert.Equal(t, len(EventTypes()), j.Len())
	assert.Equal(t, last, j.LastSeq())
}

func TestAppend_InvalidType(t *testing.T) {
	j := newTestJournal()
	_, err := j.Append("bogus", nil)
	assert.True(t, ir.IsCode(err, ir.CodeInvalidEventType))
	assert.Equal(t, int64(0), j.LastSeq(), "rejected events consume no seq")
}

func TestAppend_DerivesAttribution(t *testing.T) {
	j := newTestJournal()

	e := mustAppend(t, j, EventProposalCreated, map[string]any{
		"proposalId": "prop_1",
		"proposedBy": "em_1",
		"sessionId":  "s1",
	})
	assert.Equal(t, "em_1", e.ActorID)
	assert.Equal(t, "prop_1", e.EntityID)
	assert.Equal(t, "s1", e.SessionID)
	assert.Equal(t, testEpoch, e.Timestamp)

	e = mustAppend(t, j, EventDTUEdited, map[string]any{"dtuId": "dtu_1", "editedBy": "gov"})
	assert.Equal(t, "gov", e.ActorID)
	assert.Equal(t, "dtu_1", e.EntityID)
	assert.Empty(t, e.SessionID)
}

func TestAppend_PayloadIsCopied(t *testing.T) {
	j := newTestJournal()
	payload := map[string]any{"dtuId": "d1"}
	mustAppend(t, j, EventDTUCreated, payload)
	payload["dtuId"] = "mutated"

	events := j.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "d1", events[0].Payload["dtuId"])
}

func TestAppend_NestedPayloadIsCopied(t *testing.T) {
	j := newTestJournal()
	fields := []string{"title", "tags"}
	refs := []any{"d2"}
	mustAppend(t, j, EventDTUEdited, map[string]any{"dtuId": "d1", "fields": fields, "refs": refs})
	fields[0] = "mutated"
	refs[0] = "d9"

	e, ok := j.Get(1)
	require.True(t, ok)
	assert.Equal(t, []string{"title", "tags"}, e.Payload["fields"])
	assert.Equal(t, []any{"d2"}, e.Payload["refs"])
	assert.Empty(t, j.QueryByEntity("d9"))
}

func TestReads_CannotRewriteHistory(t *testing.T) {
	j := newTestJournal()
	appended := mustAppend(t, j, EventDTUCreated, map[string]any{"dtuId": "d1", "title": "orig", "tags": []string{"a"}})
	appended.Payload["title"] = "from append"

	j.QueryByEntity("d1")[0].Payload["title"] = "rewritten"
	j.QueryByType(EventDTUCreated)[0].Payload["tags"].([]string)[0] = "rewritten"
	j.Recent(1)[0].Payload["injected"] = true
	got, _ := j.Get(1)
	got.Payload["title"] = "from get"
	j.Events()[0].Payload["title"] = "from events"

	want := map[string]any{"dtuId": "d1", "title": "orig", "tags": []string{"a"}}
	assert.Equal(t, want, j.Events()[0].Payload)
	assert.Equal(t, `#1 2024-01-01T00:00:00Z dtu_created: "orig"`, j.ExplainDTU("d1").Lines[0])
}

func TestRestore_CopiesInput(t *testing.T) {
	events := []Event{{Seq: 1, Type: EventDTUCreated, Payload: map[string]any{"dtuId": "d1", "refs": []string{"d2"}}}}
	snaps := []Snapshot{{ID: "snap_1", CountsByType: map[EventType]int{EventDTUCreated: 1}}}
	j, err := Restore(events, snaps)
	require.NoError(t, err)

	events[0].Payload["refs"].([]string)[0] = "d9"
	snaps[0].CountsByType[EventDTUCreated] = 7

	assert.Equal(t, []string{"d2"}, j.Events()[0].Payload["refs"])
	assert.Equal(t, 1, j.Snapshots()[0].CountsByType[EventDTUCreated])
}

func TestQueries_CountsMatchAppends(t *testing.T) {
	j := newTestJournal()
	mustAppend(t, j, EventDTUCreated, map[string]any{"dtuId": "d1", "sessionId": "s1"})
	mustAppend(t, j, EventDTUActivated, map[string]any{"dtuId": "d1", "sessionId": "s2"})
	mustAppend(t, j, EventEdgeCreated, map[string]any{"edgeId": "e1", "refs": []string{"d1", "d2"}, "sessionId": "s1"})
	mustAppend(t, j, EventDTUCreated, map[string]any{"dtuId": "d2"})

	assert.Len(t, j.QueryByEntity("d1"), 3)
	assert.Len(t, j.QueryByEntity("d2"), 2)
	assert.Len(t, j.QueryByEntity("e1"), 1)
	assert.Len(t, j.QueryBySession("s1"), 2)
	assert.Len(t, j.QueryBySession("s2"), 1)
	assert.Len(t, j.QueryByType(EventDTUCreated), 2)
	assert.Empty(t, j.QueryByEntity("missing"))

	counts := j.CountsByType()
	assert.Equal(t, 2, counts[EventDTUCreated])
	assert.Equal(t, 1, counts[EventEdgeCreated])
}

func TestRecent(t *testing.T) {
	j := newTestJournal()
	for i := 0; i < 5; i++ {
		mustAppend(t, j, EventSystem, map[string]any{"i": i})
	}
	recent := j.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(4), recent[0].Seq)
	assert.Equal(t, int64(5), recent[1].Seq)
	assert.Len(t, j.Recent(0), 5)
	assert.Len(t, j.Recent(100), 5)
}

func TestExplainDTU(t *testing.T) {
	j := newTestJournal()
	mustAppend(t, j, EventDTUCreated, map[string]any{"dtuId": "d1", "title": "Gravity", "committedBy": "gov"})
	mustAppend(t, j, EventDTUEdited, map[string]any{"dtuId": "d1", "editedBy": "gov", "fields": []string{"title", "content"}})
	mustAppend(t, j, EventEdgeCreated, map[string]any{
		"edgeId": "e1", "source": "d1", "target": "d2", "type": "supports", "refs": []string{"d1", "d2"},
	})

	ex := j.ExplainDTU("d1")
	assert.Equal(t, "d1", ex.DTUID)
	require.Len(t, ex.Lines, 3)
	assert.Equal(t, `#1 2024-01-01T00:00:00Z dtu_created by gov: "Gravity"`, ex.Lines[0])
	assert.Equal(t, "#2 2024-01-01T00:00:00Z dtu_edited by gov: content, title", ex.Lines[1])
	assert.Equal(t, "#3 2024-01-01T00:00:00Z edge_created: d1 -[supports]-> d2", ex.Lines[2])

	empty := j.ExplainDTU("nope")
	assert.Empty(t, empty.Lines)
}

func TestCompact(t *testing.T) {
	j := newTestJournal()
	for i := 0; i < 10; i++ {
		typ := EventDTUCreated
		if i%2 == 1 {
			typ = EventDTUEdited
		}
		mustAppend(t, j, typ, map[string]any{"dtuId": "d1"})
	}

	snap, err := j.Compact(4)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "snap_1", snap.ID)
	assert.Equal(t, 6, snap.CompactedCount)
	assert.Equal(t, int64(1), snap.FromSeq)
	assert.Equal(t, int64(6), snap.ToSeq)
	assert.Equal(t, 3, snap.CountsByType[EventDTUCreated])

	assert.Equal(t, 4, j.Len())
	assert.Len(t, j.QueryByEntity("d1"), 4, "indices cover only the retained tail")
	_, ok := j.Get(3)
	assert.False(t, ok)
	e, ok := j.Get(7)
	require.True(t, ok)
	assert.Equal(t, int64(7), e.Seq)

	next := mustAppend(t, j, EventSystem, nil)
	assert.Equal(t, int64(11), next.Seq, "seq numbers are never reused")

	require.Len(t, j.Snapshots(), 1)
}

func TestCompact_NoopAndInvalid(t *testing.T) {
	j := newTestJournal()
	mustAppend(t, j, EventSystem, nil)

	snap, err := j.Compact(5)
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.Equal(t, 1, j.Len())

	_, err = j.Compact(-1)
	assert.True(t, ir.IsCode(err, ir.CodeInvalidInput))
}

func TestRestore(t *testing.T) {
	src := newTestJournal()
	for i := 0; i < 6; i++ {
		mustAppend(t, src, EventDTUCreated, map[string]any{"dtuId": "d1", "sessionId": "s1"})
	}
	_, err := src.Compact(3)
	require.NoError(t, err)

	restored, err := Restore(src.Events(), src.Snapshots(), WithClock(func() time.Time { return testEpoch }))
	require.NoError(t, err)
	assert.Equal(t, 3, restored.Len())
	assert.Len(t, restored.QueryBySession("s1"), 3)
	assert.Equal(t, int64(6), restored.LastSeq())

	e, err := restored.Append(EventSystem, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), e.Seq)
}

func TestRestore_ResumesAfterSnapshot(t *testing.T) {
	restored, err := Restore(nil, []Snapshot{{ID: "s", FromSeq: 1, ToSeq: 40, CompactedCount: 40}})
	require.NoError(t, err)
	assert.Equal(t, int64(40), restored.LastSeq())
}

func TestRestore_RejectsBadInput(t *testing.T) {
	_, err := Restore([]Event{{Seq: 2, Type: EventSystem}, {Seq: 2, Type: EventSystem}}, nil)
	assert.True(t, ir.IsCode(err, ir.CodeInvalidInput))

	_, err = Restore([]Event{{Seq: 1, Type: "nope"}}, nil)
	assert.True(t, ir.IsCode(err, ir.CodeInvalidEventType))
}
