package session

import (
	"time"

	"collabBoard/backend/internal/collab"
	"collabBoard/backend/internal/comments"
	"collabBoard/backend/internal/presence"
)

// Outbound is anything the gateway can frame and send to a client.
type Outbound interface {
	MessageType() string
}

func (m SnapshotMsg) MessageType() string     { return m.Type }
func (m CatchUpMsg) MessageType() string      { return m.Type }
func (m AckMsg) MessageType() string          { return m.Type }
func (m BroadcastMsg) MessageType() string    { return m.Type }
func (m PresenceMsg) MessageType() string     { return m.Type }
func (m CursorMsg) MessageType() string       { return m.Type }
func (m CommentMsg) MessageType() string      { return m.Type }
func (m NotificationMsg) MessageType() string { return m.Type }
func (m ErrorMsg) MessageType() string        { return m.Type }

// SnapshotMsg carries full current state to a newly joined or reconnected
// client: the base every later broadcast applies onto.
type SnapshotMsg struct {
	Type             string                 `json:"type"` // "snapshot"
	SessionID        string                 `json:"sessionId"`
	DashboardID      string                 `json:"dashboardId"`
	DashboardVersion uint64                 `json:"dashboardVersion"`
	Participants     []presence.Participant `json:"participants"`
	Widgets          []collab.Widget        `json:"widgets"`
	OpenComments     []comments.Comment     `json:"openComments"`
}

// CatchUpMsg precedes the snapshot on reconnect: the operations the client
// missed since its last known version, in sequence order.
type CatchUpMsg struct {
	Type        string           `json:"type"` // "catch_up"
	SessionID   string           `json:"sessionId"`
	FromVersion uint64           `json:"fromVersion"`
	Ops         []collab.Applied `json:"ops"`
}

// AckMsg answers the submitter of a change_operation once the operation is
// sequenced and persisted.
type AckMsg struct {
	Type           string `json:"type"` // "change_ack"
	SessionID      string `json:"sessionId"`
	OperationID    string `json:"operationId"`
	ClientID       string `json:"clientId,omitempty"`
	ClientSeq      uint64 `json:"clientSeq,omitempty"`
	SequenceNumber uint64 `json:"sequenceNumber"`
	NewVersion     uint64 `json:"newVersion"`
	NoOp           bool   `json:"noOp,omitempty"`
}

// BroadcastMsg is the canonical state transition sent to every participant,
// the submitter included, so all clients apply identical history.
type BroadcastMsg struct {
	Type           string           `json:"type"` // "change_broadcast"
	SessionID      string           `json:"sessionId"`
	SequenceNumber uint64           `json:"sequenceNumber"`
	NewVersion     uint64           `json:"newVersion"`
	AuthorID       uint64           `json:"authorId"`
	Operation      collab.Operation `json:"operation"`
	AppliedAt      time.Time        `json:"appliedAt"`
}

type PresenceMsg struct {
	Type      string          `json:"type"` // "presence_update"
	SessionID string          `json:"sessionId"`
	UserID    uint64          `json:"userId"`
	Username  string          `json:"username,omitempty"`
	Status    presence.Status `json:"status"`
}

// CursorMsg is ephemeral: dropped first under backpressure, never persisted.
type CursorMsg struct {
	Type      string  `json:"type"` // "cursor_update"
	SessionID string  `json:"sessionId"`
	UserID    uint64  `json:"userId"`
	WidgetID  *string `json:"widgetId,omitempty"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

type CommentMsg struct {
	Type      string           `json:"type"` // "comment_create" | "comment_update"
	SessionID string           `json:"sessionId"`
	Comment   comments.Comment `json:"comment"`
}

// NotificationMsg is the live mention push to a connected user.
type NotificationMsg struct {
	Type    string           `json:"type"` // "notification"
	Comment comments.Comment `json:"comment"`
}

// ErrorMsg carries conflict and failure codes. FIELD_OVERWRITTEN and
// DELETED_TARGET are informational: the client reconciles to the broadcast
// state and moves on.
type ErrorMsg struct {
	Type         string `json:"type"` // "error"
	SessionID    string `json:"sessionId,omitempty"`
	Code         string `json:"code"`
	Message      string `json:"message,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSeq    uint64 `json:"clientSeq,omitempty"`
	WidgetID     string `json:"widgetId,omitempty"`
	Field        string `json:"field,omitempty"`
	WinningValue any    `json:"winningValue,omitempty"`
}

const (
	CodeAuthRejected     = "AUTH_REJECTED"
	CodeStaleOperation   = "STALE_OPERATION"
	CodeDeletedTarget    = "DELETED_TARGET"
	CodeFieldOverwritten = "FIELD_OVERWRITTEN"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeRetryLater       = "RETRY_LATER"
	CodeDuplicate        = "DUPLICATE_OR_OUT_OF_ORDER"
	CodeBadRequest       = "BAD_REQUEST"
)
