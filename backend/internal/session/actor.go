package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"collabBoard/backend/internal/changelog"
	"collabBoard/backend/internal/collab"
	"collabBoard/backend/internal/comments"
	"collabBoard/backend/internal/presence"
)

type Config struct {
	HeartbeatInterval  time.Duration
	IdleAfterMissed    int
	OfflineAfterMissed int
	ParticipantGrace   time.Duration
	TeardownGrace      time.Duration
	InboxSize          int
	StoreBufferLimit   int
	TickInterval       time.Duration
	StoreTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.IdleAfterMissed <= 0 {
		c.IdleAfterMissed = 2
	}
	if c.OfflineAfterMissed <= 0 {
		c.OfflineAfterMissed = 4
	}
	if c.ParticipantGrace <= 0 {
		c.ParticipantGrace = 120 * time.Second
	}
	if c.TeardownGrace <= 0 {
		c.TeardownGrace = 30 * time.Second
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 256
	}
	if c.StoreBufferLimit <= 0 {
		c.StoreBufferLimit = 128
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 5 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 3 * time.Second
	}
	return c
}

// EventSink is where sequenced operations are published for consumers
// outside the session (satisfied by changelog.KafkaDispatcher).
type EventSink interface {
	Enqueue(ctx context.Context, evt changelog.OpEvent) error
}

// Notifier fans comment mentions out (satisfied by notify.Dispatcher).
type Notifier interface {
	DispatchMentions(ctx context.Context, c *comments.Comment)
}

type cmdKind int

const (
	cmdJoin cmdKind = iota
	cmdLeave
	cmdHeartbeat
	cmdCursor
	cmdSubmit
	cmdCommentCreate
	cmdCommentUpdate
	cmdPush
)

type CommentPatch struct {
	CommentID string
	Body      *string
	Resolve   bool
}

type command struct {
	kind      cmdKind
	client    Client
	lastKnown uint64
	op        collab.Operation
	cursor    CursorMsg
	create    comments.CreateRequest
	update    CommentPatch
	pushUser  uint64
	pushCmt   *comments.Comment
	pushOK    chan bool
}

type pendingOp struct {
	applied collab.Applied
	client  Client
}

type heldOp struct {
	op     collab.Operation
	client Client
}

// Session is the single serialized execution context for one dashboard. All
// state below the inbox is touched only by the run goroutine: the version
// counter, the participant set and the board never see concurrent access.
type Session struct {
	id          string
	dashboardID string
	cfg         Config

	board   *collab.Board
	tracker *presence.Tracker

	log      changelog.Store
	events   EventSink
	comments *comments.Store
	notifier Notifier
	registry *Registry
	logger   *zap.Logger

	inbox    chan command
	stopOnce sync.Once
	stop     chan struct{}
	stopped  chan struct{}

	conns    map[string]Client
	userConn map[uint64]Client

	// Store-outage state: applied ops awaiting persistence, then raw ops
	// held while the session is read-only.
	degraded       bool
	pendingPersist []pendingOp
	heldOps        []heldOp

	emptySince time.Time
}

func newSession(dashboardID string, board *collab.Board, reg *Registry, deps Deps) *Session {
	cfg := deps.Cfg.withDefaults()
	return &Session{
		id:          uuid.NewString(),
		dashboardID: dashboardID,
		cfg:         cfg,
		board:       board,
		tracker:     presence.NewTracker(cfg.HeartbeatInterval, cfg.IdleAfterMissed, cfg.OfflineAfterMissed, cfg.ParticipantGrace),
		log:         deps.Log,
		events:      deps.Events,
		comments:    deps.Comments,
		notifier:    deps.Notifier,
		registry:    reg,
		logger:      deps.Logger.With(zap.String("dashboardId", dashboardID)),
		inbox:       make(chan command, cfg.InboxSize),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
		conns:       make(map[string]Client),
		userConn:    make(map[uint64]Client),
	}
}

func (s *Session) ID() string          { return s.id }
func (s *Session) DashboardID() string { return s.dashboardID }

// Stop asks the actor to exit; Wait blocks until it has.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Session) Wait() { <-s.stopped }

func (s *Session) send(cmd command) bool {
	select {
	case s.inbox <- cmd:
		return true
	case <-s.stopped:
		return false
	}
}

func (s *Session) Join(client Client, lastKnownVersion uint64) {
	s.send(command{kind: cmdJoin, client: client, lastKnown: lastKnownVersion})
}

func (s *Session) Leave(client Client) {
	s.send(command{kind: cmdLeave, client: client})
}

func (s *Session) Heartbeat(client Client) {
	s.send(command{kind: cmdHeartbeat, client: client})
}

func (s *Session) Cursor(client Client, msg CursorMsg) {
	s.send(command{kind: cmdCursor, client: client, cursor: msg})
}

func (s *Session) Submit(client Client, op collab.Operation) {
	s.send(command{kind: cmdSubmit, client: client, op: op})
}

func (s *Session) CreateComment(client Client, req comments.CreateRequest) {
	s.send(command{kind: cmdCommentCreate, client: client, create: req})
}

func (s *Session) UpdateComment(client Client, upd CommentPatch) {
	s.send(command{kind: cmdCommentUpdate, client: client, update: upd})
}

// TryPush hands a mention notification to the user's live connection in
// this session, if any.
func (s *Session) TryPush(userID uint64, c *comments.Comment) bool {
	ok := make(chan bool, 1)
	if !s.send(command{kind: cmdPush, pushUser: userID, pushCmt: c, pushOK: ok}) {
		return false
	}
	select {
	case v := <-ok:
		return v
	case <-s.stopped:
		return false
	}
}

func (s *Session) run() {
	defer close(s.stopped)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case cmd := <-s.inbox:
			s.handle(cmd)
		case now := <-ticker.C:
			if done := s.tick(now); done {
				return
			}
		case <-s.stop:
			s.closeAll("session shutting down")
			s.unregister()
			return
		}
	}
}

func (s *Session) handle(cmd command) {
	switch cmd.kind {
	case cmdJoin:
		s.handleJoin(cmd.client, cmd.lastKnown)
	case cmdLeave:
		s.handleLeave(cmd.client)
	case cmdHeartbeat:
		s.handleHeartbeat(cmd.client)
	case cmdCursor:
		s.handleCursor(cmd.client, cmd.cursor)
	case cmdSubmit:
		s.handleSubmit(cmd.client, cmd.op)
	case cmdCommentCreate:
		s.handleCommentCreate(cmd.client, cmd.create)
	case cmdCommentUpdate:
		s.handleCommentUpdate(cmd.client, cmd.update)
	case cmdPush:
		cmd.pushOK <- s.handlePush(cmd.pushUser, cmd.pushCmt)
	}
}

func (s *Session) handleJoin(client Client, lastKnown uint64) {
	now := time.Now()
	s.conns[client.ConnectionID()] = client
	s.userConn[client.UserID()] = client
	s.emptySince = time.Time{}

	p, rejoined := s.tracker.Join(client.UserID(), client.Username(), client.ConnectionID(), now)
	_ = rejoined // same wire shape either way: others only ever see a presence_update
	s.broadcastExcept(client.UserID(), PresenceMsg{
		Type: "presence_update", SessionID: s.id,
		UserID: p.UserID, Username: p.Username, Status: presence.StatusOnline,
	})

	if lastKnown > 0 {
		ctx, cancel := s.storeCtx()
		ops, err := s.log.OpsSince(ctx, s.dashboardID, lastKnown, 0)
		cancel()
		if err != nil {
			s.logger.Warn("catch-up read failed", zap.Uint64("fromVersion", lastKnown), zap.Error(err))
		} else if len(ops) > 0 {
			if !client.EnqueueDurable(CatchUpMsg{Type: "catch_up", SessionID: s.id, FromVersion: lastKnown, Ops: ops}) {
				s.dropConn(client)
				return
			}
		}
	}

	open := s.openComments()
	snap := SnapshotMsg{
		Type:             "snapshot",
		SessionID:        s.id,
		DashboardID:      s.dashboardID,
		DashboardVersion: s.board.Version(),
		Participants:     s.tracker.List(),
		Widgets:          s.board.Widgets(),
		OpenComments:     open,
	}
	if !client.EnqueueDurable(snap) {
		s.dropConn(client)
	}
}

func (s *Session) openComments() []comments.Comment {
	if s.comments == nil {
		return nil
	}
	ctx, cancel := s.storeCtx()
	defer cancel()
	open, err := s.comments.ListOpen(ctx, s.dashboardID)
	if err != nil {
		s.logger.Warn("open comments read failed", zap.Error(err))
		return nil
	}
	return open
}

func (s *Session) handleLeave(client Client) {
	s.dropConn(client)
}

func (s *Session) dropConn(client Client) {
	cid := client.ConnectionID()
	if s.conns[cid] != client {
		return
	}
	delete(s.conns, cid)
	if s.userConn[client.UserID()] == client {
		delete(s.userConn, client.UserID())
	}
	// The participant identity stays; silence timers take it from here.
	s.tracker.Disconnect(client.UserID(), cid)
	if len(s.conns) == 0 {
		s.emptySince = time.Now()
	}
}

func (s *Session) handleHeartbeat(client Client) {
	tr, changed := s.tracker.Heartbeat(client.UserID(), time.Now())
	if changed {
		s.broadcastExcept(client.UserID(), PresenceMsg{
			Type: "presence_update", SessionID: s.id,
			UserID: tr.UserID, Username: tr.Username, Status: tr.To,
		})
	}
}

func (s *Session) handleCursor(client Client, msg CursorMsg) {
	msg.Type = "cursor_update"
	msg.SessionID = s.id
	msg.UserID = client.UserID()
	for _, c := range s.conns {
		if c.UserID() == client.UserID() {
			continue
		}
		c.EnqueueEphemeral(msg)
	}
}

func (s *Session) handleSubmit(client Client, op collab.Operation) {
	if s.degraded {
		if len(s.heldOps) >= s.cfg.StoreBufferLimit {
			client.EnqueueDurable(ErrorMsg{
				Type: "error", SessionID: s.id, Code: CodeRetryLater,
				Message:  "session suspended while the change log is unreachable",
				ClientID: op.ClientID, ClientSeq: op.ClientSeq,
			})
			return
		}
		s.heldOps = append(s.heldOps, heldOp{op: op, client: client})
		return
	}
	s.applyAndPersist(client, op)
}

func (s *Session) applyAndPersist(client Client, op collab.Operation) {
	applied, err := s.board.Apply(op)
	if err != nil {
		s.sendOpError(client, op, err)
		return
	}
	if applied.NoOp {
		// Nothing changed and nothing to log or broadcast.
		client.EnqueueDurable(AckMsg{
			Type: "change_ack", SessionID: s.id,
			OperationID: op.ID, ClientID: op.ClientID, ClientSeq: op.ClientSeq,
			SequenceNumber: applied.Sequence, NewVersion: applied.Version, NoOp: true,
		})
		return
	}

	ctx, cancel := s.storeCtx()
	err = s.log.Append(ctx, s.dashboardID, applied)
	cancel()
	if err != nil {
		// The op is applied in memory but not yet durable: withhold ack and
		// broadcast, go read-only, and let the flush ticker retry in order.
		s.degraded = true
		s.pendingPersist = append(s.pendingPersist, pendingOp{applied: applied, client: client})
		s.logger.Warn("change log append failed; session degraded to read-only",
			zap.Uint64("sequence", applied.Sequence), zap.Error(err))
		return
	}
	s.deliver(client, applied)
}

// deliver sends the post-persistence messages for one sequenced operation:
// ack to the submitter, identical broadcast to everyone, overwrite notices
// to losing writers, and the Kafka event.
func (s *Session) deliver(client Client, applied collab.Applied) {
	op := applied.Operation
	client.EnqueueDurable(AckMsg{
		Type: "change_ack", SessionID: s.id,
		OperationID: op.ID, ClientID: op.ClientID, ClientSeq: op.ClientSeq,
		SequenceNumber: applied.Sequence, NewVersion: applied.Version,
	})
	s.broadcastAll(BroadcastMsg{
		Type: "change_broadcast", SessionID: s.id,
		SequenceNumber: applied.Sequence, NewVersion: applied.Version,
		AuthorID: op.AuthorID, Operation: op, AppliedAt: applied.AppliedAt,
	})
	for _, ow := range applied.Overwrites {
		loser, ok := s.userConn[ow.LosingAuthor]
		if !ok {
			continue
		}
		loser.EnqueueDurable(ErrorMsg{
			Type: "error", SessionID: s.id, Code: CodeFieldOverwritten,
			WidgetID: ow.WidgetID, Field: ow.Field, WinningValue: ow.WinningValue,
			Message: "a later operation rewrote this field",
		})
	}
	if s.events != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if err := s.events.Enqueue(ctx, changelog.EventFor(s.dashboardID, applied)); err != nil {
			s.logger.Warn("op event enqueue failed", zap.Uint64("sequence", applied.Sequence), zap.Error(err))
		}
		cancel()
	}
}

func (s *Session) sendOpError(client Client, op collab.Operation, err error) {
	code := CodeStaleOperation
	switch {
	case errors.Is(err, collab.ErrDeletedTarget):
		code = CodeDeletedTarget
	case errors.Is(err, collab.ErrDuplicateOrOutOfOrder):
		code = CodeDuplicate
	case errors.Is(err, collab.ErrStaleOperation):
		code = CodeStaleOperation
	}
	client.EnqueueDurable(ErrorMsg{
		Type: "error", SessionID: s.id, Code: code, Message: err.Error(),
		ClientID: op.ClientID, ClientSeq: op.ClientSeq, WidgetID: op.WidgetID,
	})
}

func (s *Session) handleCommentCreate(client Client, req comments.CreateRequest) {
	if s.comments == nil {
		return
	}
	req.DashboardID = s.dashboardID
	req.AuthorID = client.UserID()
	if !s.validCommentTarget(req.TargetType, req.TargetID) {
		client.EnqueueDurable(ErrorMsg{Type: "error", SessionID: s.id, Code: CodeBadRequest,
			Message: "comment target does not exist"})
		return
	}
	ctx, cancel := s.storeCtx()
	c, err := s.comments.Create(ctx, req)
	cancel()
	if err != nil {
		code := CodeStoreUnavailable
		if errors.Is(err, comments.ErrUnknownMention) || errors.Is(err, comments.ErrBadParent) {
			code = CodeBadRequest
		}
		client.EnqueueDurable(ErrorMsg{Type: "error", SessionID: s.id, Code: code, Message: err.Error()})
		return
	}
	s.broadcastAll(CommentMsg{Type: "comment_create", SessionID: s.id, Comment: *c})
	if s.notifier != nil && len(c.Mentions) > 0 {
		go s.notifier.DispatchMentions(context.Background(), c)
	}
}

func (s *Session) validCommentTarget(tt comments.TargetType, targetID string) bool {
	switch tt {
	case comments.TargetDashboard:
		return targetID == s.dashboardID
	case comments.TargetWidget:
		return s.board.HasWidget(targetID)
	default:
		return false
	}
}

func (s *Session) handleCommentUpdate(client Client, upd CommentPatch) {
	if s.comments == nil {
		return
	}
	ctx, cancel := s.storeCtx()
	defer cancel()
	var (
		c   *comments.Comment
		err error
	)
	if upd.Resolve {
		c, err = s.comments.Resolve(ctx, upd.CommentID)
	} else if upd.Body != nil {
		c, err = s.comments.UpdateBody(ctx, upd.CommentID, client.UserID(), *upd.Body)
	} else {
		return
	}
	if err != nil {
		code := CodeStoreUnavailable
		if errors.Is(err, comments.ErrCommentNotFound) {
			code = CodeBadRequest
		}
		client.EnqueueDurable(ErrorMsg{Type: "error", SessionID: s.id, Code: code, Message: err.Error()})
		return
	}
	s.broadcastAll(CommentMsg{Type: "comment_update", SessionID: s.id, Comment: *c})
}

func (s *Session) handlePush(userID uint64, c *comments.Comment) bool {
	conn, ok := s.userConn[userID]
	if !ok {
		return false
	}
	return conn.EnqueueDurable(NotificationMsg{Type: "notification", Comment: *c})
}

// tick drives the silence state machine, store retries, and teardown.
// Returns true when the session has ended itself.
func (s *Session) tick(now time.Time) bool {
	for _, tr := range s.tracker.Tick(now) {
		if tr.To == presence.StatusRemoved {
			delete(s.userConn, tr.UserID)
		}
		s.broadcastExcept(tr.UserID, PresenceMsg{
			Type: "presence_update", SessionID: s.id,
			UserID: tr.UserID, Username: tr.Username, Status: tr.To,
		})
	}

	if s.degraded {
		s.flushStore()
	}

	if len(s.conns) == 0 && !s.emptySince.IsZero() && now.Sub(s.emptySince) >= s.cfg.TeardownGrace {
		s.unregister()
		return true
	}
	return false
}

// flushStore retries persistence in arrival order: first the applied ops
// that never reached the log, then the raw ops held while read-only.
func (s *Session) flushStore() {
	for len(s.pendingPersist) > 0 {
		p := s.pendingPersist[0]
		ctx, cancel := s.storeCtx()
		err := s.log.Append(ctx, s.dashboardID, p.applied)
		cancel()
		if err != nil {
			return
		}
		s.pendingPersist = s.pendingPersist[1:]
		s.deliver(p.client, p.applied)
	}
	for len(s.heldOps) > 0 {
		h := s.heldOps[0]
		s.heldOps = s.heldOps[1:]
		s.applyAndPersist(h.client, h.op)
		if len(s.pendingPersist) > 0 {
			return
		}
	}
	s.degraded = false
	s.logger.Info("change log reachable again; session writable")
}

func (s *Session) broadcastAll(msg Outbound) {
	var kicked []Client
	for _, c := range s.conns {
		if !c.EnqueueDurable(msg) {
			kicked = append(kicked, c)
		}
	}
	for _, c := range kicked {
		c.Kick("outbound queue overflow")
		s.dropConn(c)
	}
}

func (s *Session) broadcastExcept(userID uint64, msg Outbound) {
	var kicked []Client
	for _, c := range s.conns {
		if c.UserID() == userID {
			continue
		}
		if !c.EnqueueDurable(msg) {
			kicked = append(kicked, c)
		}
	}
	for _, c := range kicked {
		c.Kick("outbound queue overflow")
		s.dropConn(c)
	}
}

func (s *Session) closeAll(reason string) {
	for _, c := range s.conns {
		c.Kick(reason)
	}
	s.conns = make(map[string]Client)
	s.userConn = make(map[uint64]Client)
}

func (s *Session) unregister() {
	if s.registry != nil {
		s.registry.remove(s.dashboardID, s)
	}
}

func (s *Session) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
}
