package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"collabBoard/backend/internal/collab"
	"collabBoard/backend/internal/comments"
)

// ClientMessage is the inbound envelope. Payload stays raw until the type
// is known; decoding and validation happen here, at the gateway boundary,
// so nothing malformed ever reaches the session actor.
type ClientMessage struct {
	Type          string          `json:"type"`
	SessionID     string          `json:"sessionId,omitempty"`
	ParticipantID uint64          `json:"participantId,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ClientTS      time.Time       `json:"clientTs,omitempty"`
}

type JoinPayload struct {
	LastKnownVersion uint64 `json:"lastKnownVersion,omitempty"`
}

type CursorPayload struct {
	WidgetID *string `json:"widgetId,omitempty"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type ChangeOperationPayload struct {
	OperationID string             `json:"operationId,omitempty"`
	BaseVersion uint64             `json:"baseVersion"`
	OpType      collab.OpType      `json:"opType"`
	WidgetID    string             `json:"targetWidgetId"`
	ClientID    string             `json:"clientId,omitempty"`
	ClientSeq   uint64             `json:"clientSeq,omitempty"`
	Widget      *collab.WidgetSpec `json:"widget,omitempty"`
	Pos         *collab.Position   `json:"pos,omitempty"`
	Size        *collab.Dimensions `json:"size,omitempty"`
	Fields      map[string]any     `json:"fields,omitempty"`
}

type CommentCreatePayload struct {
	TargetType     string   `json:"targetType"`
	TargetID       string   `json:"targetId"`
	Body           string   `json:"body"`
	Mentions       []uint64 `json:"mentions,omitempty"`
	ThreadParentID *string  `json:"threadParentId,omitempty"`
}

type CommentUpdatePayload struct {
	CommentID string  `json:"commentId"`
	Body      *string `json:"body,omitempty"`
	Resolve   bool    `json:"resolve,omitempty"`
}

func decodePayload[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, errors.New("missing payload")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("malformed payload: %w", err)
	}
	return v, nil
}

func (p ChangeOperationPayload) Validate() error {
	op := p.toOperation(0)
	return op.Validate()
}

func (p ChangeOperationPayload) toOperation(authorID uint64) collab.Operation {
	return collab.Operation{
		ID:          p.OperationID,
		AuthorID:    authorID,
		ClientID:    p.ClientID,
		ClientSeq:   p.ClientSeq,
		BaseVersion: p.BaseVersion,
		Type:        p.OpType,
		WidgetID:    p.WidgetID,
		Widget:      p.Widget,
		Pos:         p.Pos,
		Size:        p.Size,
		Fields:      p.Fields,
	}
}

func (p CommentCreatePayload) Validate() error {
	if p.TargetType != "dashboard" && p.TargetType != "widget" {
		return errors.New("targetType must be dashboard or widget")
	}
	if p.TargetID == "" {
		return errors.New("missing targetId")
	}
	if p.Body == "" {
		return errors.New("empty comment body")
	}
	return nil
}

func (p CommentCreatePayload) toRequest() comments.CreateRequest {
	return comments.CreateRequest{
		TargetType:     comments.TargetType(p.TargetType),
		TargetID:       p.TargetID,
		Body:           p.Body,
		Mentions:       p.Mentions,
		ThreadParentID: p.ThreadParentID,
	}
}

func (p CommentUpdatePayload) Validate() error {
	if p.CommentID == "" {
		return errors.New("missing commentId")
	}
	if p.Body == nil && !p.Resolve {
		return errors.New("nothing to update")
	}
	return nil
}
