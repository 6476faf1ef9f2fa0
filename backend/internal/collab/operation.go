package collab

import (
	"errors"
	"time"
)

type OpType string

const (
	OpAdd    OpType = "add"
	OpMove   OpType = "move"
	OpResize OpType = "resize"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

var (
	// ErrStaleOperation: rebase is structurally impossible; the client must
	// refetch a snapshot and resubmit against the new base version.
	ErrStaleOperation = errors.New("STALE_OPERATION")
	// ErrDeletedTarget: the operation referenced a widget deleted by an
	// intervening operation.
	ErrDeletedTarget = errors.New("DELETED_TARGET")
	// ErrDuplicateOrOutOfOrder: clientSeq already seen for this clientId.
	ErrDuplicateOrOutOfOrder = errors.New("DUPLICATE_OR_OUT_OF_ORDER")
)

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type Dimensions struct {
	W int `json:"w"`
	H int `json:"h"`
}

// WidgetSpec is the full description carried by an add operation. Widget ids
// are client-generated and collision free, which is what lets add rebase
// cleanly at any base version.
type WidgetSpec struct {
	WidgetType string         `json:"widgetType"`
	Position   Position       `json:"position"`
	Size       Dimensions     `json:"size"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// Operation is one structured edit request. Exactly one of Widget, Pos,
// Size, Fields is set depending on Type; Validate enforces that before the
// operation reaches a board.
type Operation struct {
	ID          string         `json:"id"`
	DashboardID string         `json:"dashboardId"`
	AuthorID    uint64         `json:"authorId"`
	ClientID    string         `json:"clientId"`
	ClientSeq   uint64         `json:"clientSeq"`
	BaseVersion uint64         `json:"baseVersion"`
	Type        OpType         `json:"opType"`
	WidgetID    string         `json:"widgetId"`
	Widget      *WidgetSpec    `json:"widget,omitempty"`
	Pos         *Position      `json:"pos,omitempty"`
	Size        *Dimensions    `json:"size,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
}

func (op Operation) Validate() error {
	if op.WidgetID == "" {
		return errors.New("missing widgetId")
	}
	switch op.Type {
	case OpAdd:
		if op.Widget == nil {
			return errors.New("add requires widget spec")
		}
	case OpMove:
		if op.Pos == nil {
			return errors.New("move requires pos")
		}
	case OpResize:
		if op.Size == nil {
			return errors.New("resize requires size")
		}
	case OpUpdate:
		if len(op.Fields) == 0 {
			return errors.New("update requires fields")
		}
	case OpDelete:
		// target id is enough
	default:
		return errors.New("unknown opType")
	}
	return nil
}

// FieldOverwrite tells the author of an earlier same-field write that a
// later-sequenced operation won. Informational: the winning value is
// included so the losing client reconciles without a retry.
type FieldOverwrite struct {
	WidgetID      string `json:"widgetId"`
	Field         string `json:"field"`
	LosingAuthor  uint64 `json:"losingAuthor"`
	WinningValue  any    `json:"winningValue"`
	WinningSeq    uint64 `json:"winningSeq"`
	WinningAuthor uint64 `json:"winningAuthor"`
}

// Applied is the canonical outcome of sequencing one operation.
type Applied struct {
	Operation  Operation        `json:"operation"`
	Sequence   uint64           `json:"sequence"`
	Version    uint64           `json:"version"`
	NoOp       bool             `json:"noOp,omitempty"`
	Overwrites []FieldOverwrite `json:"overwrites,omitempty"`
	AppliedAt  time.Time        `json:"appliedAt"`
}
