package notify

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"collabBoard/backend/internal/comments"
)

// Notification is the durable record for a mention that could not be pushed
// live; the web app drains it on the user's next login. The unique
// (comment_id, user_id) key deduplicates redelivery.
type Notification struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	CommentID   string `gorm:"size:36;uniqueIndex:idx_comment_user,priority:1"`
	UserID      uint64 `gorm:"uniqueIndex:idx_comment_user,priority:2"`
	DashboardID string `gorm:"size:64;index"`
	Kind        string `gorm:"size:16"`
	CreatedAt   time.Time
	ReadAt      *time.Time
}

func (Notification) TableName() string { return "board_notifications" }

// Pusher delivers an in-session push to a connected user. Implemented by the
// session registry; returns false when the user holds no live connection.
type Pusher interface {
	PushToUser(dashboardID string, userID uint64, comment *comments.Comment) bool
}

type Dispatcher struct {
	db     *gorm.DB
	pusher Pusher
	logger *zap.Logger
}

func NewDispatcher(db *gorm.DB, pusher Pusher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{db: db, pusher: pusher, logger: logger}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Notification{})
}

// DispatchMentions fans a comment out to its mentioned users: live push for
// connected ones, durable enqueue for the rest. A store failure for one user
// never blocks the others.
func (d *Dispatcher) DispatchMentions(ctx context.Context, c *comments.Comment) {
	for _, userID := range c.Mentions {
		if userID == c.AuthorID {
			continue
		}
		if d.pusher != nil && d.pusher.PushToUser(c.DashboardID, userID, c) {
			continue
		}
		if err := d.enqueue(ctx, c, userID); err != nil {
			d.logger.Warn("notification enqueue failed",
				zap.String("commentId", c.ID),
				zap.Uint64("userId", userID),
				zap.Error(err))
		}
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, c *comments.Comment, userID uint64) error {
	rec := Notification{
		CommentID:   c.ID,
		UserID:      userID,
		DashboardID: c.DashboardID,
		Kind:        "mention",
		CreatedAt:   time.Now(),
	}
	if err := d.db.WithContext(ctx).Create(&rec).Error; err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			// Already enqueued for this (comment, user).
			return nil
		}
		return err
	}
	return nil
}

// Unread lists undelivered notifications for one user, oldest first.
func (d *Dispatcher) Unread(ctx context.Context, userID uint64) ([]Notification, error) {
	var out []Notification
	err := d.db.WithContext(ctx).
		Where("user_id = ? AND read_at IS NULL", userID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}
