package store

import (
	"context"
	"database/sql"
	"strings"
)

// UserStore is the user directory collaborator, used to validate mention
// targets before a comment is persisted.
type UserStore interface {
	// MissingUsers returns the subset of ids with no user row.
	MissingUsers(ctx context.Context, ids []uint64) ([]uint64, error)
}

type mysqlUserStore struct{ db *sql.DB }

func NewUserStore(db *sql.DB) UserStore {
	return &mysqlUserStore{db: db}
}

func (s *mysqlUserStore) MissingUsers(ctx context.Context, ids []uint64) ([]uint64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM users WHERE id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[uint64]struct{}, len(ids))
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var missing []uint64
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
