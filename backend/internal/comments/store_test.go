package comments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildThreads_AdjacencyListToTrees(t *testing.T) {
	t0 := time.Now()
	root1 := Comment{ID: "c1", Body: "root one", CreatedAt: t0}
	root2 := Comment{ID: "c2", Body: "root two", CreatedAt: t0.Add(time.Minute)}
	r1a := Comment{ID: "c3", Body: "reply", ThreadParentID: ptr("c1"), CreatedAt: t0.Add(2 * time.Minute)}
	r1b := Comment{ID: "c4", Body: "later reply", ThreadParentID: ptr("c1"), CreatedAt: t0.Add(3 * time.Minute)}
	nested := Comment{ID: "c5", Body: "nested", ThreadParentID: ptr("c3"), CreatedAt: t0.Add(4 * time.Minute)}

	threads := buildThreads([]Comment{root1, root2, r1a, r1b, nested})
	require.Len(t, threads, 2)

	first := threads[0]
	assert.Equal(t, "c1", first.Comment.ID)
	require.Len(t, first.Replies, 2)
	assert.Equal(t, "c3", first.Replies[0].Comment.ID)
	assert.Equal(t, "c4", first.Replies[1].Comment.ID)
	require.Len(t, first.Replies[0].Replies, 1)
	assert.Equal(t, "c5", first.Replies[0].Replies[0].Comment.ID)

	assert.Empty(t, threads[1].Replies)
}

func TestBuildThreads_RepliesOrderedByCreation(t *testing.T) {
	t0 := time.Now()
	rows := []Comment{
		{ID: "c1", CreatedAt: t0},
		{ID: "c3", ThreadParentID: ptr("c1"), CreatedAt: t0.Add(2 * time.Minute)},
		{ID: "c2", ThreadParentID: ptr("c1"), CreatedAt: t0.Add(time.Minute)},
	}
	threads := buildThreads(rows)
	require.Len(t, threads, 1)
	require.Len(t, threads[0].Replies, 2)
	assert.Equal(t, "c2", threads[0].Replies[0].Comment.ID)
	assert.Equal(t, "c3", threads[0].Replies[1].Comment.ID)
}

func TestMentionList_RoundTrip(t *testing.T) {
	m := MentionList{3, 7}
	v, err := m.Value()
	require.NoError(t, err)

	var back MentionList
	require.NoError(t, back.Scan(v))
	assert.Equal(t, m, back)

	var empty MentionList
	require.NoError(t, empty.Scan([]byte("[]")))
	assert.Empty(t, empty)
}

func ptr(s string) *string { return &s }
