package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"collabBoard/backend/internal/collab"
)

var ErrDashboardNotFound = errors.New("dashboard not found")

// DashboardStore is the persistent dashboard/widget CRUD system, consumed
// purely as a request/response collaborator. The collab engine reads a
// baseline snapshot from it on session start and never writes widgets back
// through it (the change log carries the edits).
type DashboardStore interface {
	// LoadDashboard returns the persisted version and widget set.
	LoadDashboard(ctx context.Context, dashboardID string) (uint64, []collab.Widget, error)
	DashboardExists(ctx context.Context, dashboardID string) (bool, error)
}

type mysqlDashboardStore struct{ db *sql.DB }

func NewDashboardStore(db *sql.DB) DashboardStore {
	return &mysqlDashboardStore{db: db}
}

func (s *mysqlDashboardStore) DashboardExists(ctx context.Context, dashboardID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM dashboards WHERE id = ?`,
		dashboardID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *mysqlDashboardStore) LoadDashboard(ctx context.Context, dashboardID string) (uint64, []collab.Widget, error) {
	var version uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM dashboards WHERE id = ?`,
		dashboardID,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, ErrDashboardNotFound
	}
	if err != nil {
		return 0, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, widget_type, pos_x, pos_y, width, height, fields
		 FROM widgets WHERE dashboard_id = ? ORDER BY id`,
		dashboardID,
	)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	var widgets []collab.Widget
	for rows.Next() {
		var w collab.Widget
		var fields sql.NullString
		if err := rows.Scan(&w.ID, &w.WidgetType, &w.Position.X, &w.Position.Y, &w.Size.W, &w.Size.H, &fields); err != nil {
			return 0, nil, err
		}
		if fields.Valid && fields.String != "" {
			if err := json.Unmarshal([]byte(fields.String), &w.Fields); err != nil {
				return 0, nil, err
			}
		}
		widgets = append(widgets, w)
	}
	return version, widgets, rows.Err()
}
