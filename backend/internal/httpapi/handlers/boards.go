package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"collabBoard/backend/internal/cache"
	"collabBoard/backend/internal/changelog"
	"collabBoard/backend/internal/comments"
	"collabBoard/backend/internal/notify"
	"collabBoard/backend/internal/store"
)

// Boards serves the read-side REST surface next to the websocket: comment
// threads, unread mentions, live cursors, and the operation history tail.
type Boards struct {
	Comments   *comments.Store
	Notify     *notify.Dispatcher
	Log        changelog.Store
	Presence   cache.PresenceCache
	Dashboards store.DashboardStore
}

func (h *Boards) Register(grp *gin.RouterGroup) {
	grp.GET("/dashboards/:dashboardId/comments", h.ListThreads)
	grp.GET("/dashboards/:dashboardId/comments/open", h.OpenComments)
	grp.GET("/dashboards/:dashboardId/cursors", h.Cursors)
	grp.GET("/dashboards/:dashboardId/ops", h.OpsSince)
	grp.GET("/notifications/unread", h.UnreadNotifications)
}

// knownDashboard answers the request itself when the dashboard id does not
// resolve; callers bail out on false.
func (h *Boards) knownDashboard(c *gin.Context, dashboardID string) bool {
	if h.Dashboards == nil {
		return true
	}
	ok, err := h.Dashboards.DashboardExists(c.Request.Context(), dashboardID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "STORE_UNAVAILABLE", "message": "dashboard store unavailable"})
		return false
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "BAD_REQUEST", "message": "dashboard not found"})
		return false
	}
	return true
}

// Cursors returns the alive participants and their last cached pointer
// positions, so a client can render cursors before its websocket catches up.
func (h *Boards) Cursors(c *gin.Context) {
	dashboardID := c.Param("dashboardId")
	if !h.knownDashboard(c, dashboardID) {
		return
	}

	members, err := h.Presence.GetAliveMembersWithNames(c.Request.Context(), dashboardID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "STORE_UNAVAILABLE", "message": "presence cache unavailable"})
		return
	}
	type memberCursor struct {
		UserID   uint64          `json:"userId"`
		Username string          `json:"username"`
		Cursor   json.RawMessage `json:"cursor,omitempty"`
	}
	out := make([]memberCursor, 0, len(members))
	for _, m := range members {
		mc := memberCursor{UserID: m.UserID, Username: m.Username}
		if raw, err := h.Presence.GetCursor(c.Request.Context(), dashboardID, m.UserID); err == nil {
			mc.Cursor = raw
		}
		out = append(out, mc)
	}
	c.JSON(http.StatusOK, gin.H{"dashboardId": dashboardID, "participants": out})
}

func (h *Boards) ListThreads(c *gin.Context) {
	dashboardID := c.Param("dashboardId")
	if !h.knownDashboard(c, dashboardID) {
		return
	}

	targetType := comments.TargetDashboard
	targetID := dashboardID
	if widgetID := c.Query("widgetId"); widgetID != "" {
		targetType = comments.TargetWidget
		targetID = widgetID
	}
	includeResolved := c.Query("includeResolved") == "true"

	threads, err := h.Comments.Threads(c.Request.Context(), targetType, targetID, includeResolved)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "STORE_UNAVAILABLE", "message": "comment store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dashboardId": dashboardID, "threads": threads})
}

func (h *Boards) OpenComments(c *gin.Context) {
	dashboardID := c.Param("dashboardId")

	open, err := h.Comments.ListOpen(c.Request.Context(), dashboardID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "STORE_UNAVAILABLE", "message": "comment store unavailable"})
		return
	}
	count, err := h.Comments.OpenCount(c.Request.Context(), dashboardID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "STORE_UNAVAILABLE", "message": "comment store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dashboardId": dashboardID, "openCount": count, "comments": open})
}

// OpsSince returns persisted operations after ?since=N, oldest first. Clients
// use it to audit history without holding a websocket open.
func (h *Boards) OpsSince(c *gin.Context) {
	dashboardID := c.Param("dashboardId")
	if !h.knownDashboard(c, dashboardID) {
		return
	}

	since, err := strconv.ParseUint(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": "since must be a version number"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": "invalid limit"})
		return
	}

	ops, err := h.Log.OpsSince(c.Request.Context(), dashboardID, since, limit)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "STORE_UNAVAILABLE", "message": "change log unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dashboardId": dashboardID, "since": since, "ops": ops})
}

func (h *Boards) UnreadNotifications(c *gin.Context) {
	userID := c.GetUint64("userId")
	if userID == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": "user context missing"})
		return
	}

	unread, err := h.Notify.Unread(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "STORE_UNAVAILABLE", "message": "notification store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": unread})
}
