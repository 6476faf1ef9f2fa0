package comments

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type TargetType string

const (
	TargetDashboard TargetType = "dashboard"
	TargetWidget    TargetType = "widget"
)

// MentionList stores the mentioned user ids as a JSON column.
type MentionList []uint64

func (m MentionList) Value() (driver.Value, error) {
	if m == nil {
		return "[]", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func (m *MentionList) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	case nil:
		*m = nil
		return nil
	default:
		return errors.New("unsupported mention list source")
	}
}

// Comment rows form threads through ThreadParentID (adjacency list); trees
// are reconstructed on read, never held as pointer graphs.
type Comment struct {
	ID             string      `gorm:"primaryKey;size:36" json:"id"`
	DashboardID    string      `gorm:"size:64;index" json:"dashboardId"`
	TargetType     TargetType  `gorm:"size:16" json:"targetType"`
	TargetID       string      `gorm:"size:64;index" json:"targetId"`
	AuthorID       uint64      `json:"authorId"`
	Body           string      `gorm:"type:text" json:"body"`
	Mentions       MentionList `gorm:"type:json" json:"mentions"`
	ThreadParentID *string     `gorm:"size:36;index" json:"threadParentId,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	ResolvedAt     *time.Time  `json:"resolvedAt,omitempty"`
}

func (Comment) TableName() string { return "board_comments" }

// Thread is one root comment plus its replies, built on read.
type Thread struct {
	Comment Comment  `json:"comment"`
	Replies []Thread `json:"replies,omitempty"`
}
