package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addOp(widgetID string, author uint64, base uint64) Operation {
	return Operation{
		ID:          "op-" + widgetID,
		AuthorID:    author,
		BaseVersion: base,
		Type:        OpAdd,
		WidgetID:    widgetID,
		Widget: &WidgetSpec{
			WidgetType: "chart",
			Position:   Position{X: 0, Y: 0},
			Size:       Dimensions{W: 4, H: 3},
		},
	}
}

func TestBoard_ConcurrentAddsConverge(t *testing.T) {
	// A and B both add at base 0; B's add is stale by the time it arrives
	// but rebases cleanly because widget ids are collision free.
	b := NewBoard("dash-1")

	a1, err := b.Apply(addOp("w1", 1, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a1.Version)

	a2, err := b.Apply(addOp("w2", 2, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), a2.Version)

	ws := b.Widgets()
	require.Len(t, ws, 2)
	assert.Equal(t, "w1", ws[0].ID)
	assert.Equal(t, "w2", ws[1].ID)
}

func TestBoard_MoveAfterConcurrentDelete(t *testing.T) {
	b := NewBoard("dash-1")
	_, err := b.Apply(addOp("w1", 1, 0))
	require.NoError(t, err)

	// B deletes at base 1, then A's concurrent move at base 1 arrives.
	del := Operation{AuthorID: 2, BaseVersion: 1, Type: OpDelete, WidgetID: "w1"}
	applied, err := b.Apply(del)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), applied.Version)

	move := Operation{AuthorID: 1, BaseVersion: 1, Type: OpMove, WidgetID: "w1", Pos: &Position{X: 5, Y: 5}}
	_, err = b.Apply(move)
	require.ErrorIs(t, err, ErrDeletedTarget)
	assert.Equal(t, uint64(2), b.Version(), "rejected op must not advance the version")
}

func TestBoard_DeleteIsIdempotent(t *testing.T) {
	b := NewBoard("dash-1")
	_, err := b.Apply(addOp("w1", 1, 0))
	require.NoError(t, err)

	_, err = b.Apply(Operation{AuthorID: 1, BaseVersion: 1, Type: OpDelete, WidgetID: "w1"})
	require.NoError(t, err)

	again, err := b.Apply(Operation{AuthorID: 2, BaseVersion: 1, Type: OpDelete, WidgetID: "w1"})
	require.NoError(t, err)
	assert.True(t, again.NoOp)
	assert.Equal(t, uint64(2), again.Version, "no-op delete leaves the version alone")
}

func TestBoard_SameFieldRace(t *testing.T) {
	b := NewBoard("dash-1")
	_, err := b.Apply(addOp("w1", 1, 0))
	require.NoError(t, err)

	// A and B both retitle w1 at base 1. A is sequenced first, B second:
	// B's value wins and A is told about it.
	setA := Operation{AuthorID: 1, BaseVersion: 1, Type: OpUpdate, WidgetID: "w1", Fields: map[string]any{"title": "X"}}
	appliedA, err := b.Apply(setA)
	require.NoError(t, err)
	assert.Empty(t, appliedA.Overwrites)

	setB := Operation{AuthorID: 2, BaseVersion: 1, Type: OpUpdate, WidgetID: "w1", Fields: map[string]any{"title": "Y"}}
	appliedB, err := b.Apply(setB)
	require.NoError(t, err)
	require.Len(t, appliedB.Overwrites, 1)
	ow := appliedB.Overwrites[0]
	assert.Equal(t, uint64(1), ow.LosingAuthor)
	assert.Equal(t, "Y", ow.WinningValue)
	assert.Equal(t, uint64(2), ow.WinningAuthor)

	ws := b.Widgets()
	require.Len(t, ws, 1)
	assert.Equal(t, "Y", ws[0].Fields["title"])
}

func TestBoard_DistinctFieldsMerge(t *testing.T) {
	b := NewBoard("dash-1")
	_, err := b.Apply(addOp("w1", 1, 0))
	require.NoError(t, err)

	_, err = b.Apply(Operation{AuthorID: 1, BaseVersion: 1, Type: OpUpdate, WidgetID: "w1", Fields: map[string]any{"title": "X"}})
	require.NoError(t, err)

	applied, err := b.Apply(Operation{AuthorID: 2, BaseVersion: 1, Type: OpUpdate, WidgetID: "w1", Fields: map[string]any{"unit": "kWh"}})
	require.NoError(t, err)
	assert.Empty(t, applied.Overwrites, "distinct fields merge without conflict")

	ws := b.Widgets()
	assert.Equal(t, "X", ws[0].Fields["title"])
	assert.Equal(t, "kWh", ws[0].Fields["unit"])
}

func TestBoard_VersionMonotonicByOne(t *testing.T) {
	b := NewBoard("dash-1")
	want := uint64(0)
	for i, widget := range []string{"w1", "w2", "w3"} {
		applied, err := b.Apply(addOp(widget, uint64(i+1), b.Version()))
		require.NoError(t, err)
		want++
		assert.Equal(t, want, applied.Version)
		assert.Equal(t, applied.Version, applied.Sequence)
	}
}

func TestBoard_FutureBaseRejected(t *testing.T) {
	b := NewBoard("dash-1")
	_, err := b.Apply(addOp("w1", 1, 7))
	require.ErrorIs(t, err, ErrStaleOperation)
}

func TestBoard_ClientSeqDedup(t *testing.T) {
	b := NewBoard("dash-1")
	op := addOp("w1", 1, 0)
	op.ClientID = "c-1"
	op.ClientSeq = 1
	_, err := b.Apply(op)
	require.NoError(t, err)

	_, err = b.Apply(op)
	require.ErrorIs(t, err, ErrDuplicateOrOutOfOrder)
}

func TestBoard_RedeliveredOperationIDRejected(t *testing.T) {
	// A retry that reuses its operation id without a clientSeq must not be
	// sequenced twice: the memory version would run ahead of the log.
	b := NewBoard("dash-1")
	_, err := b.Apply(addOp("w1", 1, 0))
	require.NoError(t, err)

	move := Operation{ID: "op-mv", AuthorID: 1, BaseVersion: 1, Type: OpMove,
		WidgetID: "w1", Pos: &Position{X: 3, Y: 3}}
	first, err := b.Apply(move)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), first.Sequence)

	_, err = b.Apply(move)
	require.ErrorIs(t, err, ErrDuplicateOrOutOfOrder)
	assert.Equal(t, uint64(2), b.Version(), "redelivery must not advance the version")
}

func TestBoard_ReplayReproducesState(t *testing.T) {
	b := NewBoard("dash-1")
	var log []Applied

	ops := []Operation{
		addOp("w1", 1, 0),
		addOp("w2", 2, 0),
		{AuthorID: 1, BaseVersion: 2, Type: OpMove, WidgetID: "w1", Pos: &Position{X: 9, Y: 9}},
		{AuthorID: 2, BaseVersion: 2, Type: OpUpdate, WidgetID: "w2", Fields: map[string]any{"title": "load"}},
		{AuthorID: 1, BaseVersion: 4, Type: OpDelete, WidgetID: "w2"},
	}
	for _, op := range ops {
		applied, err := b.Apply(op)
		require.NoError(t, err)
		log = append(log, applied)
	}

	replica := NewBoard("dash-1")
	for _, a := range log {
		require.NoError(t, replica.Replay(a))
	}
	// Redelivery of the whole log is a no-op.
	for _, a := range log {
		require.NoError(t, replica.Replay(a))
	}

	assert.Equal(t, b.Version(), replica.Version())
	assert.Equal(t, b.Widgets(), replica.Widgets())
}

func TestBoard_ReplayGapDetected(t *testing.T) {
	b := NewBoard("dash-1")
	a := Applied{Operation: addOp("w1", 1, 0), Sequence: 3, Version: 3}
	err := b.Replay(a)
	require.Error(t, err)
}
