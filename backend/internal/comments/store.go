package comments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"collabBoard/backend/internal/store"
)

var (
	ErrCommentNotFound = errors.New("comment not found")
	ErrUnknownMention  = errors.New("mention references unknown user")
	ErrBadParent       = errors.New("thread parent not found")
)

// Store persists comments and reconstructs threads. Mention validation is
// delegated to the user directory collaborator.
type Store struct {
	db    *gorm.DB
	users store.UserStore
}

func NewStore(db *gorm.DB, users store.UserStore) *Store {
	return &Store{db: db, users: users}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Comment{})
}

type CreateRequest struct {
	DashboardID    string
	TargetType     TargetType
	TargetID       string
	AuthorID       uint64
	Body           string
	Mentions       []uint64
	ThreadParentID *string
}

func (s *Store) Create(ctx context.Context, req CreateRequest) (*Comment, error) {
	if len(req.Mentions) > 0 {
		missing, err := s.users.MissingUsers(ctx, req.Mentions)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: %v", ErrUnknownMention, missing)
		}
	}
	if req.ThreadParentID != nil {
		var n int64
		if err := s.db.WithContext(ctx).Model(&Comment{}).Where("id = ?", *req.ThreadParentID).Count(&n).Error; err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, ErrBadParent
		}
	}
	c := &Comment{
		ID:             uuid.NewString(),
		DashboardID:    req.DashboardID,
		TargetType:     req.TargetType,
		TargetID:       req.TargetID,
		AuthorID:       req.AuthorID,
		Body:           req.Body,
		Mentions:       req.Mentions,
		ThreadParentID: req.ThreadParentID,
		CreatedAt:      time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) UpdateBody(ctx context.Context, commentID string, authorID uint64, body string) (*Comment, error) {
	var c Comment
	err := s.db.WithContext(ctx).First(&c, "id = ?", commentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCommentNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.AuthorID != authorID {
		return nil, errors.New("only the author edits a comment")
	}
	c.Body = body
	if err := s.db.WithContext(ctx).Model(&c).Update("body", body).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// Resolve stamps resolved_at. Resolved comments stay in history but drop out
// of default listings and badge counts.
func (s *Store) Resolve(ctx context.Context, commentID string) (*Comment, error) {
	var c Comment
	err := s.db.WithContext(ctx).First(&c, "id = ?", commentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCommentNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.ResolvedAt == nil {
		now := time.Now()
		c.ResolvedAt = &now
		if err := s.db.WithContext(ctx).Model(&c).Update("resolved_at", now).Error; err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// ListOpen returns unresolved comments for a dashboard, oldest first.
func (s *Store) ListOpen(ctx context.Context, dashboardID string) ([]Comment, error) {
	var out []Comment
	err := s.db.WithContext(ctx).
		Where("dashboard_id = ? AND resolved_at IS NULL", dashboardID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// OpenCount is the badge number: unresolved roots only.
func (s *Store) OpenCount(ctx context.Context, dashboardID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Comment{}).
		Where("dashboard_id = ? AND resolved_at IS NULL AND thread_parent_id IS NULL", dashboardID).
		Count(&n).Error
	return n, err
}

// Threads rebuilds the comment trees for one target from the adjacency
// list. includeResolved keeps audit history visible when asked for.
func (s *Store) Threads(ctx context.Context, targetType TargetType, targetID string, includeResolved bool) ([]Thread, error) {
	q := s.db.WithContext(ctx).Where("target_type = ? AND target_id = ?", targetType, targetID)
	if !includeResolved {
		q = q.Where("resolved_at IS NULL")
	}
	var rows []Comment
	if err := q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return buildThreads(rows), nil
}

func buildThreads(rows []Comment) []Thread {
	children := make(map[string][]Comment)
	var roots []Comment
	for _, c := range rows {
		if c.ThreadParentID == nil {
			roots = append(roots, c)
			continue
		}
		children[*c.ThreadParentID] = append(children[*c.ThreadParentID], c)
	}
	var build func(c Comment) Thread
	build = func(c Comment) Thread {
		kids := children[c.ID]
		sort.Slice(kids, func(i, j int) bool { return kids[i].CreatedAt.Before(kids[j].CreatedAt) })
		t := Thread{Comment: c}
		for _, kid := range kids {
			t.Replies = append(t.Replies, build(kid))
		}
		return t
	}
	out := make([]Thread, 0, len(roots))
	for _, r := range roots {
		out = append(out, build(r))
	}
	return out
}
