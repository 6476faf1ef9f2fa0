package changelog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"collabBoard/backend/internal/collab"
)

// ErrStoreUnavailable: the change log could not be reached. The session
// degrades to read-only until writes succeed again.
var ErrStoreUnavailable = errors.New("STORE_UNAVAILABLE")

// Store is the append-only operation history for one or more dashboards.
// Writes for a given dashboard always funnel through its single session
// actor, so appends arrive in sequence order.
type Store interface {
	Append(ctx context.Context, dashboardID string, a collab.Applied) error
	OpsSince(ctx context.Context, dashboardID string, fromVersion uint64, limit int) ([]collab.Applied, error)
	LatestSequence(ctx context.Context, dashboardID string) (uint64, error)
}

// ChangeRecord is one row of the board_operations table.
type ChangeRecord struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	OperationID string `gorm:"size:36;uniqueIndex"`
	DashboardID string `gorm:"size:64;uniqueIndex:idx_dash_seq,priority:1"`
	Sequence    uint64 `gorm:"uniqueIndex:idx_dash_seq,priority:2"`
	AuthorID    uint64
	OpType      string `gorm:"size:16"`
	WidgetID    string `gorm:"size:64"`
	BaseVersion uint64
	Payload     []byte `gorm:"type:json"`
	AppliedAt   time.Time
}

func (ChangeRecord) TableName() string { return "board_operations" }

type mysqlStore struct {
	db *gorm.DB
}

func NewMySQLStore(db *gorm.DB) Store {
	return &mysqlStore{db: db}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&ChangeRecord{})
}

func (s *mysqlStore) Append(ctx context.Context, dashboardID string, a collab.Applied) error {
	payload, err := json.Marshal(a.Operation)
	if err != nil {
		return err
	}
	rec := ChangeRecord{
		OperationID: a.Operation.ID,
		DashboardID: dashboardID,
		Sequence:    a.Sequence,
		AuthorID:    a.Operation.AuthorID,
		OpType:      string(a.Operation.Type),
		WidgetID:    a.Operation.WidgetID,
		BaseVersion: a.Operation.BaseVersion,
		Payload:     payload,
		AppliedAt:   a.AppliedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			// At-least-once: the record is already there.
			return nil
		}
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

func (s *mysqlStore) OpsSince(ctx context.Context, dashboardID string, fromVersion uint64, limit int) ([]collab.Applied, error) {
	q := s.db.WithContext(ctx).
		Where("dashboard_id = ? AND sequence > ?", dashboardID, fromVersion).
		Order("sequence ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []ChangeRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	out := make([]collab.Applied, 0, len(recs))
	for _, rec := range recs {
		var op collab.Operation
		if err := json.Unmarshal(rec.Payload, &op); err != nil {
			return nil, err
		}
		out = append(out, collab.Applied{
			Operation: op,
			Sequence:  rec.Sequence,
			Version:   rec.Sequence,
			AppliedAt: rec.AppliedAt,
		})
	}
	return out, nil
}

func (s *mysqlStore) LatestSequence(ctx context.Context, dashboardID string) (uint64, error) {
	var seq *uint64
	err := s.db.WithContext(ctx).
		Model(&ChangeRecord{}).
		Where("dashboard_id = ?", dashboardID).
		Select("MAX(sequence)").
		Scan(&seq).Error
	if err != nil {
		return 0, errors.Join(ErrStoreUnavailable, err)
	}
	if seq == nil {
		return 0, nil
	}
	return *seq, nil
}
