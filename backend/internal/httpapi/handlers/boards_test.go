package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabBoard/backend/internal/cache"
	"collabBoard/backend/internal/collab"
)

type fakePresence struct {
	members map[string][]cache.PresenceMember
	cursors map[string][]byte
}

func (f *fakePresence) AddMember(context.Context, string, uint64, string, time.Duration) error {
	return nil
}
func (f *fakePresence) RemoveMember(context.Context, string, uint64) error { return nil }

func (f *fakePresence) GetAliveMembersWithNames(_ context.Context, dashboardID string) ([]cache.PresenceMember, error) {
	return f.members[dashboardID], nil
}

func (f *fakePresence) SetCursor(context.Context, string, uint64, []byte, time.Duration) error {
	return nil
}

func (f *fakePresence) GetCursor(_ context.Context, dashboardID string, userID uint64) ([]byte, error) {
	key := dashboardID + "/" + strconv.FormatUint(userID, 10)
	if raw, ok := f.cursors[key]; ok {
		return raw, nil
	}
	return nil, context.Canceled
}

type fakeDashboards struct {
	known map[string]bool
}

func (f *fakeDashboards) DashboardExists(_ context.Context, id string) (bool, error) {
	return f.known[id], nil
}

func (f *fakeDashboards) LoadDashboard(context.Context, string) (uint64, []collab.Widget, error) {
	return 0, nil, nil
}

func newCursorRouter(p *fakePresence, d *fakeDashboards) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := &Boards{Presence: p, Dashboards: d}
	h.Register(r.Group("/collab"))
	return r
}

func TestCursors_ReturnsAliveMembersWithPointers(t *testing.T) {
	p := &fakePresence{
		members: map[string][]cache.PresenceMember{
			"dash-1": {{UserID: 1, Username: "alice"}, {UserID: 2, Username: "bob"}},
		},
		cursors: map[string][]byte{
			"dash-1/1": []byte(`{"x":10,"y":20}`),
		},
	}
	r := newCursorRouter(p, &fakeDashboards{known: map[string]bool{"dash-1": true}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/collab/dashboards/dash-1/cursors", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		DashboardID  string `json:"dashboardId"`
		Participants []struct {
			UserID   uint64          `json:"userId"`
			Username string          `json:"username"`
			Cursor   json.RawMessage `json:"cursor"`
		} `json:"participants"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Participants, 2)
	assert.Equal(t, "alice", body.Participants[0].Username)
	assert.JSONEq(t, `{"x":10,"y":20}`, string(body.Participants[0].Cursor))
	assert.Empty(t, body.Participants[1].Cursor, "no cached pointer yet for bob")
}

func TestCursors_UnknownDashboardIs404(t *testing.T) {
	r := newCursorRouter(&fakePresence{}, &fakeDashboards{known: map[string]bool{}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/collab/dashboards/nope/cursors", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
