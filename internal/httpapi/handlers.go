// Package httpapi exposes the operator surface: queue visibility, manual
// control over scheduled calls, pre-call context, and similarity lookups.
// Keep handlers thin: parse/validate input, call internal services, return
// JSON.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"companion-calls/internal/auth"
	"companion-calls/internal/dialog"
	"companion-calls/internal/scheduler"
	"companion-calls/internal/store"
	"companion-calls/internal/vector"
)

// Handlers groups HTTP handlers for dependency injection.
type Handlers struct {
	Auth  *auth.Manager
	Sched *scheduler.Scheduler
	Store store.Store
	Index vector.Index

	// Env gates endpoints that must never run in production.
	Env string
}

// --- Auth ---

type loginRequest struct {
	OperatorID string `json:"operator_id"`
	Role       string `json:"role"`
}

// Login issues an operator token.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.OperatorID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "operator_id, role required"})
		return
	}
	tok, err := h.Auth.Issue(time.Now(), req.OperatorID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": tok})
}

// --- Queue ---

func (h Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.Sched.Stats())
}

func (h Handlers) ListCalls(c *gin.Context) {
	if userID := c.Query("user_id"); userID != "" {
		c.JSON(http.StatusOK, gin.H{"calls": h.Sched.UserScheduledCalls(userID)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": h.Sched.ListScheduled()})
}

func (h Handlers) CancelCall(c *gin.Context) {
	err := h.Sched.CancelScheduledCall(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, scheduler.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case errors.Is(err, scheduler.ErrNotCancellable):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "cancel failed"})
	}
}

type rescheduleRequest struct {
	At time.Time `json:"at" binding:"required"`
}

func (h Handlers) RescheduleCall(c *gin.Context) {
	var req rescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "at (RFC 3339) required"})
		return
	}
	err := h.Sched.RescheduleCall(c.Request.Context(), c.Param("id"), req.At)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "scheduled_for": req.At})
	case errors.Is(err, scheduler.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case errors.Is(err, scheduler.ErrNotCancellable):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reschedule failed"})
	}
}

// --- Context ---

func (h Handlers) UserContext(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("userId")

	user, err := h.Store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "user lookup failed"})
		return
	}

	history, err := h.Store.GetCallHistory(ctx, userID, 10)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}

	now := time.Now()
	analysis := dialog.AnalyzeHistory(history)
	c.JSON(http.StatusOK, gin.H{
		"user_id":               user.ID,
		"user_name":             user.Name,
		"total_calls":           len(history),
		"is_first_call":         len(history) == 0,
		"variables":             dialog.BuildCallContext(user, history, now),
		"analysis":              analysis,
		"conversation_starters": dialog.ConversationStarters(user, analysis),
		"briefing":              dialog.Briefing(user, history, now),
	})
}

func (h Handlers) SimilarConversations(c *gin.Context) {
	if h.Index == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "similarity index not configured"})
		return
	}

	raw := c.Query("topics")
	if raw == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "topics required"})
		return
	}
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "3"))
	docs, err := h.Index.QuerySimilar(c.Request.Context(), topics, limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "similarity query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": docs})
}

// --- Test call ---

type testCallRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// TestCall dials a user immediately. Disabled in production.
func (h Handlers) TestCall(c *gin.Context) {
	if h.Env == "production" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "disabled in production"})
		return
	}

	var req testCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}

	ctx := c.Request.Context()
	user, err := h.Store.GetUser(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "user lookup failed"})
		return
	}

	sc, err := h.Sched.ScheduleCall(ctx, user, 0)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "callId": sc.ID})
}
