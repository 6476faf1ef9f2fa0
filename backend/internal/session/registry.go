package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"collabBoard/backend/internal/changelog"
	"collabBoard/backend/internal/collab"
	"collabBoard/backend/internal/comments"
	"collabBoard/backend/internal/store"
)

var ErrShuttingDown = errors.New("registry shutting down")

type Deps struct {
	Log        changelog.Store
	Events     EventSink
	Comments   *comments.Store
	Notifier   Notifier
	Dashboards store.DashboardStore
	Logger     *zap.Logger
	Cfg        Config
}

// Registry owns one session actor per actively edited dashboard. Sessions
// create themselves on first join, rehydrate from the change log, and remove
// themselves after the teardown grace elapses with nobody connected.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	// creating serializes cold starts per dashboard, so one slow
	// rehydration never blocks joins to other dashboards.
	creating map[string]*sync.Mutex
	deps     Deps
	closed   bool
}

func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		creating: make(map[string]*sync.Mutex),
		deps:     deps,
	}
}

// SetNotifier breaks the construction cycle: the notification dispatcher
// pushes through the registry, so it is built after it.
func (r *Registry) SetNotifier(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deps.Notifier = n
	for _, s := range r.sessions {
		s.notifier = n
	}
}

// GetOrCreate returns the live session actor for a dashboard, rehydrating
// board state from the persistent snapshot plus the change-log tail before
// the actor accepts any traffic.
func (r *Registry) GetOrCreate(ctx context.Context, dashboardID string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[dashboardID]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrShuttingDown
	}
	if ok {
		return s, nil
	}

	lock := r.createLock(dashboardID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	s, ok = r.sessions[dashboardID]
	closed = r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrShuttingDown
	}
	if ok {
		return s, nil
	}

	// Rehydration hits MySQL; only this dashboard's create lock is held.
	board, err := r.rehydrate(ctx, dashboardID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrShuttingDown
	}
	s = newSession(dashboardID, board, r, r.deps)
	r.sessions[dashboardID] = s
	r.mu.Unlock()
	go s.run()
	r.deps.Logger.Info("session started",
		zap.String("dashboardId", dashboardID),
		zap.String("sessionId", s.id),
		zap.Uint64("version", board.Version()))
	return s, nil
}

func (r *Registry) createLock(dashboardID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.creating[dashboardID]
	if !ok {
		m = &sync.Mutex{}
		r.creating[dashboardID] = m
	}
	return m
}

func (r *Registry) rehydrate(ctx context.Context, dashboardID string) (*collab.Board, error) {
	board := collab.NewBoard(dashboardID)
	if r.deps.Dashboards != nil {
		version, widgets, err := r.deps.Dashboards.LoadDashboard(ctx, dashboardID)
		if err != nil {
			return nil, err
		}
		board.LoadSnapshot(version, widgets)
	}
	ops, err := r.deps.Log.OpsSince(ctx, dashboardID, board.Version(), 0)
	if err != nil {
		return nil, err
	}
	for _, a := range ops {
		if err := board.Replay(a); err != nil {
			return nil, err
		}
	}
	// A log sequence beyond the replayed version means the tail read
	// missed rows; better to fail the join than serve a forked history.
	latest, err := r.deps.Log.LatestSequence(ctx, dashboardID)
	if err != nil {
		return nil, err
	}
	if latest > board.Version() {
		return nil, fmt.Errorf("change log at %d but replay stopped at %d", latest, board.Version())
	}
	return board, nil
}

// remove is called by a session actor when it tears itself down.
func (r *Registry) remove(dashboardID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[dashboardID] == s {
		delete(r.sessions, dashboardID)
		r.deps.Logger.Info("session ended", zap.String("dashboardId", dashboardID), zap.String("sessionId", s.id))
	}
}

// PushToUser implements notify.Pusher: the dashboard's own session first,
// then any session the user is connected to.
func (r *Registry) PushToUser(dashboardID string, userID uint64, c *comments.Comment) bool {
	r.mu.RLock()
	target := r.sessions[dashboardID]
	others := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		if id != dashboardID {
			others = append(others, s)
		}
	}
	r.mu.RUnlock()

	if target != nil && target.TryPush(userID, c) {
		return true
	}
	for _, s := range others {
		if s.TryPush(userID, c) {
			return true
		}
	}
	return false
}

// Shutdown stops every session and waits for the actors to drain, bounded
// by ctx. Used for graceful process exit.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Stop()
	}
	done := make(chan struct{})
	go func() {
		for _, s := range all {
			s.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
