package changelog

import (
	"time"

	"collabBoard/backend/internal/collab"
)

// OpEvent is the record published to Kafka for every sequenced operation.
// Keyed by dashboard id so one dashboard's history stays in one partition.
type OpEvent struct {
	EventType   string           `json:"eventType"` // always "OP_APPLIED"
	DashboardID string           `json:"dashboardId"`
	OperationID string           `json:"operationId"`
	Sequence    uint64           `json:"sequence"`
	Version     uint64           `json:"version"`
	AuthorID    uint64           `json:"authorId"`
	ClientID    string           `json:"clientId,omitempty"`
	ClientSeq   uint64           `json:"clientSeq,omitempty"`
	BaseVersion uint64           `json:"baseVersion"`
	Operation   collab.Operation `json:"operation"`
	AppliedAt   time.Time        `json:"appliedAt"`
}

func EventFor(dashboardID string, a collab.Applied) OpEvent {
	return OpEvent{
		EventType:   "OP_APPLIED",
		DashboardID: dashboardID,
		OperationID: a.Operation.ID,
		Sequence:    a.Sequence,
		Version:     a.Version,
		AuthorID:    a.Operation.AuthorID,
		ClientID:    a.Operation.ClientID,
		ClientSeq:   a.Operation.ClientSeq,
		BaseVersion: a.Operation.BaseVersion,
		Operation:   a.Operation,
		AppliedAt:   a.AppliedAt,
	}
}
