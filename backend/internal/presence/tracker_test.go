package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker() *Tracker {
	// heartbeat 15s, idle after 2 missed (30s), offline after 4 (60s),
	// removed 120s past offline.
	return NewTracker(15*time.Second, 2, 4, 120*time.Second)
}

func TestTracker_SilenceWalksTheStateMachine(t *testing.T) {
	tr := newTestTracker()
	t0 := time.Now()
	_, rejoined := tr.Join(7, "carol", "conn-1", t0)
	assert.False(t, rejoined)

	// 29s of silence: still online.
	assert.Empty(t, tr.Tick(t0.Add(29*time.Second)))

	got := tr.Tick(t0.Add(31 * time.Second))
	require.Len(t, got, 1)
	assert.Equal(t, StatusOnline, got[0].From)
	assert.Equal(t, StatusIdle, got[0].To)

	got = tr.Tick(t0.Add(61 * time.Second))
	require.Len(t, got, 1)
	assert.Equal(t, StatusIdle, got[0].From)
	assert.Equal(t, StatusOffline, got[0].To)

	// Offline but inside the grace window: still tracked.
	assert.Empty(t, tr.Tick(t0.Add(170*time.Second)))
	_, ok := tr.Get(7)
	assert.True(t, ok)

	got = tr.Tick(t0.Add(181 * time.Second))
	require.Len(t, got, 1)
	assert.Equal(t, StatusRemoved, got[0].To)
	_, ok = tr.Get(7)
	assert.False(t, ok)
}

func TestTracker_HeartbeatRestoresOnline(t *testing.T) {
	tr := newTestTracker()
	t0 := time.Now()
	tr.Join(7, "carol", "conn-1", t0)
	tr.Tick(t0.Add(31 * time.Second)) // idle

	transition, changed := tr.Heartbeat(7, t0.Add(35*time.Second))
	require.True(t, changed)
	assert.Equal(t, StatusIdle, transition.From)
	assert.Equal(t, StatusOnline, transition.To)

	_, changed = tr.Heartbeat(7, t0.Add(36*time.Second))
	assert.False(t, changed, "beat while online is not a transition")
}

func TestTracker_ReconnectKeepsIdentity(t *testing.T) {
	tr := newTestTracker()
	t0 := time.Now()
	p1, _ := tr.Join(7, "carol", "conn-1", t0)
	joined := p1.JoinedAt

	tr.Disconnect(7, "conn-1")
	tr.Tick(t0.Add(61 * time.Second)) // offline

	p2, rejoined := tr.Join(7, "carol", "conn-2", t0.Add(90*time.Second))
	assert.True(t, rejoined, "reconnect inside grace must not look like a new join")
	assert.Equal(t, StatusOnline, p2.Status)
	assert.Equal(t, joined, p2.JoinedAt, "same identity, original join time")
}

func TestTracker_DisconnectIgnoresStaleConnection(t *testing.T) {
	tr := newTestTracker()
	t0 := time.Now()
	tr.Join(7, "carol", "conn-1", t0)
	tr.Join(7, "carol", "conn-2", t0.Add(time.Second))

	// The old connection's close arrives after the reconnect took over.
	tr.Disconnect(7, "conn-1")
	assert.Equal(t, 1, tr.CountActive())
}

func TestTracker_OfflineSkipsIdle(t *testing.T) {
	tr := newTestTracker()
	t0 := time.Now()
	tr.Join(7, "carol", "conn-1", t0)

	// A single late tick jumps straight to offline.
	got := tr.Tick(t0.Add(2 * time.Minute))
	require.Len(t, got, 1)
	assert.Equal(t, StatusOffline, got[0].To)
}
