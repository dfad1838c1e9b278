// Package handler exposes the request surface; every endpoint maps 1:1 to
// a service or evaluator call.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"studyflow/internal/auth"
	"studyflow/internal/broadcast"
	"studyflow/internal/clock"
	"studyflow/internal/model"
	"studyflow/internal/presence"
	"studyflow/internal/queue"
	"studyflow/internal/tardiness"
)

// Handler wires gin routes to the presence service and the evaluator.
type Handler struct {
	svc      *presence.Service
	eval     *tardiness.Evaluator
	hub      *broadcast.Hub
	q        queue.Queue
	log      *zap.Logger
	wsKey    string
	wsIssuer string
	wsTTL    time.Duration
	upgrader websocket.Upgrader
}

// New creates a handler.
func New(svc *presence.Service, eval *tardiness.Evaluator, hub *broadcast.Hub, q queue.Queue, wsKey, wsIssuer string, wsTTL time.Duration, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		svc:      svc,
		eval:     eval,
		hub:      hub,
		q:        q,
		log:      log,
		wsKey:    wsKey,
		wsIssuer: wsIssuer,
		wsTTL:    wsTTL,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard and admin UIs are served from other origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Register attaches all routes. Mutating routes go under the authorized
// group; reads and the subscription endpoint do not require the API key.
func (h *Handler) Register(r *gin.Engine, authorized *gin.RouterGroup) {
	authorized.POST("/students", h.UpsertStudent)
	authorized.POST("/events/dashboard/start", h.DashboardStart)
	authorized.POST("/events/logout", h.Logout)
	authorized.POST("/events/outing/request", h.OutingRequest)
	authorized.POST("/events/outing/return", h.OutingReturn)
	authorized.POST("/events/sleep/request", h.SleepRequest)
	authorized.POST("/events/sleep/return", h.SleepReturn)
	authorized.POST("/events/focus/start", h.FocusStart)
	authorized.POST("/events/focus/stop", h.FocusStop)
	authorized.POST("/events/attendance/mark_absent", h.MarkAbsent)
	authorized.POST("/evaluate", h.Evaluate)
	authorized.POST("/ws-token", h.WSToken)

	r.GET("/v1/students/:id", h.GetStudent)
	r.GET("/v1/notices/:student_id", h.ListNotices)
	r.GET("/v1/notifications/:student_id", h.ListNotifications)
	r.GET("/ws", h.Subscribe)
}

// resolveTime defaults a missing timestamp to "now" in the civil zone.
func (h *Handler) resolveTime(ts *time.Time) time.Time {
	if ts != nil {
		return *ts
	}
	return h.svc.Now()
}

// enqueueEvaluate schedules a re-evaluation for the student; a queue
// failure is logged, never surfaced, since the periodic sweep converges
// anyway.
func (h *Handler) enqueueEvaluate(c *gin.Context, studentID string) {
	err := h.q.Publish(c.Request.Context(), queue.Message{Type: queue.TypeEvaluate, Body: []byte(studentID)})
	if err != nil {
		h.log.Warn("enqueue evaluate failed", zap.String("student_id", studentID), zap.Error(err))
	}
}

func (h *Handler) abort(c *gin.Context, err error) {
	switch {
	case errors.Is(err, presence.ErrStudentNotFound),
		errors.Is(err, presence.ErrNoOngoingOuting),
		errors.Is(err, presence.ErrNoOngoingSleep),
		errors.Is(err, presence.ErrNoOpenFocusSession):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// ---------- Students ----------

type studentRequest struct {
	ID               string `json:"id" binding:"required"`
	Name             string `json:"name" binding:"required"`
	Grade            string `json:"grade"`
	Classroom        string `json:"classroom"`
	GuardianPhone    string `json:"guardian_phone"`
	ExpectedCheckIn  string `json:"expected_check_in"`
	ExpectedCheckOut string `json:"expected_check_out"`
}

// UpsertStudent creates or updates a student.
func (h *Handler) UpsertStudent(c *gin.Context) {
	var req studentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, tod := range []string{req.ExpectedCheckIn, req.ExpectedCheckOut} {
		if tod == "" {
			continue
		}
		if _, err := clock.ParseTimeOfDay(tod); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	student, err := h.svc.UpsertStudent(c.Request.Context(), model.Student{
		ID:               req.ID,
		Name:             req.Name,
		Grade:            req.Grade,
		Classroom:        req.Classroom,
		GuardianPhone:    req.GuardianPhone,
		ExpectedCheckIn:  req.ExpectedCheckIn,
		ExpectedCheckOut: req.ExpectedCheckOut,
	})
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "student": student})
}

// GetStudent returns one student.
func (h *Handler) GetStudent(c *gin.Context) {
	student, err := h.svc.GetStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, student)
}

// ---------- Lifecycle events ----------

type studentEvent struct {
	StudentID string     `json:"student_id" binding:"required"`
	Timestamp *time.Time `json:"timestamp"`
}

// DashboardStart records the check-in button press.
func (h *Handler) DashboardStart(c *gin.Context) {
	var req studentEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.svc.CheckIn(c.Request.Context(), req.StudentID, h.resolveTime(req.Timestamp))
	if err != nil {
		h.abort(c, err)
		return
	}
	h.enqueueEvaluate(c, req.StudentID)
	c.JSON(http.StatusOK, gin.H{"ok": true, "attendance": rec})
}

// Logout records the day's check-out.
func (h *Handler) Logout(c *gin.Context) {
	var req studentEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.Logout(c.Request.Context(), req.StudentID, h.resolveTime(req.Timestamp)); err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type outingRequestIn struct {
	StudentID          string     `json:"student_id" binding:"required"`
	ExpectedReturnTime time.Time  `json:"expected_return_time" binding:"required"`
	Timestamp          *time.Time `json:"timestamp"`
}

// OutingRequest opens an outing.
func (h *Handler) OutingRequest(c *gin.Context) {
	var req outingRequestIn
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	outing, err := h.svc.StartOuting(c.Request.Context(), req.StudentID, req.ExpectedReturnTime, h.resolveTime(req.Timestamp))
	if err != nil {
		h.abort(c, err)
		return
	}
	h.enqueueEvaluate(c, req.StudentID)
	c.JSON(http.StatusOK, gin.H{"ok": true, "outing_id": outing.ID})
}

// OutingReturn closes the ongoing outing.
func (h *Handler) OutingReturn(c *gin.Context) {
	var req studentEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.svc.ReturnOuting(c.Request.Context(), req.StudentID, h.resolveTime(req.Timestamp)); err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type sleepRequestIn struct {
	StudentID        string     `json:"student_id" binding:"required"`
	ExpectedWakeTime time.Time  `json:"expected_wake_time" binding:"required"`
	Timestamp        *time.Time `json:"timestamp"`
}

// SleepRequest opens a sleep break.
func (h *Handler) SleepRequest(c *gin.Context) {
	var req sleepRequestIn
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sleep, err := h.svc.StartSleep(c.Request.Context(), req.StudentID, req.ExpectedWakeTime, h.resolveTime(req.Timestamp))
	if err != nil {
		h.abort(c, err)
		return
	}
	h.enqueueEvaluate(c, req.StudentID)
	c.JSON(http.StatusOK, gin.H{"ok": true, "sleep_id": sleep.ID})
}

// SleepReturn closes the ongoing sleep break.
func (h *Handler) SleepReturn(c *gin.Context) {
	var req studentEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.svc.ReturnSleep(c.Request.Context(), req.StudentID, h.resolveTime(req.Timestamp)); err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type focusStartIn struct {
	StudentID string         `json:"student_id" binding:"required"`
	Meta      map[string]any `json:"meta"`
	Timestamp *time.Time     `json:"timestamp"`
}

// FocusStart opens a focus session.
func (h *Handler) FocusStart(c *gin.Context) {
	var req focusStartIn
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := h.svc.StartFocus(c.Request.Context(), req.StudentID, req.Meta, h.resolveTime(req.Timestamp))
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "focus_session_id": sess.ID})
}

// FocusStop closes the open focus session.
func (h *Handler) FocusStop(c *gin.Context) {
	var req studentEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := h.svc.StopFocus(c.Request.Context(), req.StudentID, h.resolveTime(req.Timestamp))
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "duration_seconds": sess.DurationSeconds})
}

type markAbsentIn struct {
	StudentID string `json:"student_id" binding:"required"`
	Date      string `json:"date"`
}

// MarkAbsent is the administrative absence action.
func (h *Handler) MarkAbsent(c *gin.Context) {
	var req markAbsentIn
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.svc.MarkAbsent(c.Request.Context(), req.StudentID, req.Date)
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "date": rec.Date})
}

type evaluateIn struct {
	StudentID string `json:"student_id" binding:"required"`
}

// Evaluate runs the three lateness checks synchronously for one student.
// A missing student is a silent no-op, matching the periodic sweep.
func (h *Handler) Evaluate(c *gin.Context) {
	var req evaluateIn
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.eval.EvaluateAll(c.Request.Context(), req.StudentID); err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ---------- Listings ----------

// ListNotices returns a student's citations, newest first.
func (h *Handler) ListNotices(c *gin.Context) {
	items, err := h.svc.ListNotices(c.Request.Context(), c.Param("student_id"))
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notices": items})
}

// ListNotifications returns a student's notifications, newest first.
func (h *Handler) ListNotifications(c *gin.Context) {
	items, err := h.svc.ListNotifications(c.Request.Context(), c.Param("student_id"))
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items})
}

// ---------- Live connections ----------

type wsTokenIn struct {
	Role      string `json:"role" binding:"required"`
	StudentID string `json:"student_id"`
}

// WSToken exchanges the API key for a short-lived subscription token.
func (h *Handler) WSToken(c *gin.Context) {
	var req wsTokenIn
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, exp, err := auth.IssueWSToken(req.StudentID, req.Role, h.wsIssuer, h.wsKey, h.wsTTL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": exp.Unix()})
}

// Subscribe upgrades the connection and registers it on the channel the
// token is scoped to. The subscription lives until the connection drops,
// at which point the hub forgets it everywhere.
func (h *Handler) Subscribe(c *gin.Context) {
	claims, err := auth.ParseWSToken(c.Query("token"), h.wsKey, h.wsIssuer)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	client := broadcast.NewWSClient(h.hub, conn, h.log)
	switch claims.Role {
	case auth.RoleAdmin:
		err = h.hub.SubscribeAdmin(client)
	default:
		err = h.hub.SubscribeStudent(claims.StudentID, client)
	}
	if err != nil {
		client.Close()
	}
}
