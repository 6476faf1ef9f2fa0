package presence

import (
	"sort"
	"time"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusOffline Status = "offline"
	StatusRemoved Status = "removed"
)

// Participant is one user identity inside a session. The identity survives
// reconnects: a new connection before removal reattaches to the same record.
type Participant struct {
	UserID       uint64    `json:"userId"`
	Username     string    `json:"username"`
	ConnectionID string    `json:"-"`
	Status       Status    `json:"status"`
	JoinedAt     time.Time `json:"joinedAt"`
	LastSeenAt   time.Time `json:"lastSeenAt"`
}

// Transition is a status change to broadcast as a presence_update.
type Transition struct {
	UserID   uint64
	Username string
	From     Status
	To       Status
}

// Tracker runs the per-participant heartbeat state machine:
// online -> idle (idleAfter missed beats) -> offline (offlineAfter missed)
// -> removed (grace past last beat). Transitions only move forward except
// that a heartbeat or reconnect restores online. The tracker is owned by one
// session actor and needs no locking.
type Tracker struct {
	heartbeat    time.Duration
	idleAfter    int
	offlineAfter int
	grace        time.Duration

	participants map[uint64]*Participant
}

func NewTracker(heartbeat time.Duration, idleAfter, offlineAfter int, grace time.Duration) *Tracker {
	return &Tracker{
		heartbeat:    heartbeat,
		idleAfter:    idleAfter,
		offlineAfter: offlineAfter,
		grace:        grace,
		participants: make(map[uint64]*Participant),
	}
}

// Join registers a participant or, if the identity is still tracked,
// reattaches it. rejoined reports whether others already know this user, in
// which case the caller broadcasts a presence_update instead of a join.
func (t *Tracker) Join(userID uint64, username, connectionID string, now time.Time) (p *Participant, rejoined bool) {
	if existing, ok := t.participants[userID]; ok {
		existing.Status = StatusOnline
		existing.ConnectionID = connectionID
		existing.LastSeenAt = now
		return existing, true
	}
	p = &Participant{
		UserID:       userID,
		Username:     username,
		ConnectionID: connectionID,
		Status:       StatusOnline,
		JoinedAt:     now,
		LastSeenAt:   now,
	}
	t.participants[userID] = p
	return p, false
}

// Heartbeat marks the participant alive. Returns a transition when the beat
// pulled the participant back from idle/offline.
func (t *Tracker) Heartbeat(userID uint64, now time.Time) (Transition, bool) {
	p, ok := t.participants[userID]
	if !ok {
		return Transition{}, false
	}
	p.LastSeenAt = now
	if p.Status == StatusOnline {
		return Transition{}, false
	}
	tr := Transition{UserID: p.UserID, Username: p.Username, From: p.Status, To: StatusOnline}
	p.Status = StatusOnline
	return tr, true
}

// Disconnect notes that the participant's connection closed. The identity
// stays; the silence timers in Tick take it through idle/offline/removed.
func (t *Tracker) Disconnect(userID uint64, connectionID string) {
	p, ok := t.participants[userID]
	if !ok || p.ConnectionID != connectionID {
		// A newer connection already took over this identity.
		return
	}
	p.ConnectionID = ""
}

// Tick advances silence-driven transitions and returns them in stable order.
// Removed participants are dropped from the tracker.
func (t *Tracker) Tick(now time.Time) []Transition {
	var out []Transition
	for _, p := range t.participants {
		silent := now.Sub(p.LastSeenAt)
		var next Status
		switch {
		case p.Status == StatusOffline && silent >= time.Duration(t.offlineAfter)*t.heartbeat+t.grace:
			next = StatusRemoved
		case p.Status != StatusOffline && silent >= time.Duration(t.offlineAfter)*t.heartbeat:
			next = StatusOffline
		case p.Status == StatusOnline && silent >= time.Duration(t.idleAfter)*t.heartbeat:
			next = StatusIdle
		default:
			continue
		}
		out = append(out, Transition{UserID: p.UserID, Username: p.Username, From: p.Status, To: next})
		p.Status = next
	}
	for _, tr := range out {
		if tr.To == StatusRemoved {
			delete(t.participants, tr.UserID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Get returns the tracked participant, if any.
func (t *Tracker) Get(userID uint64) (*Participant, bool) {
	p, ok := t.participants[userID]
	return p, ok
}

// List returns all tracked participants not yet removed.
func (t *Tracker) List() []Participant {
	out := make([]Participant, 0, len(t.participants))
	for _, p := range t.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// CountActive counts participants that still hold a live connection.
func (t *Tracker) CountActive() int {
	n := 0
	for _, p := range t.participants {
		if p.ConnectionID != "" {
			n++
		}
	}
	return n
}
