// Package trigger handles registration-system webhooks: new signups kick
// off the first scheduled call, subscription cancellations drain the queue.
package trigger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"companion-calls/internal/scheduler"
	"companion-calls/internal/store"
	"companion-calls/pkg/logger"
)

// newUserRequest is the registration payload.
type newUserRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	UserName     string `json:"user_name"`
	UserPhone    string `json:"user_phone" binding:"required"`
	MigrantName  string `json:"migrant_name"`
	Companion    string `json:"companion"`
	RegisteredAt string `json:"registered_at"`
}

type userUpdatedRequest struct {
	UserID        string         `json:"user_id" binding:"required"`
	UpdatedFields map[string]any `json:"updated_fields"`
}

type subscriptionCancelledRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Reason string `json:"reason"`
}

// Handler serves the registration webhook endpoints. All routes require the
// shared bearer secret.
type Handler struct {
	Sched          *scheduler.Scheduler
	Secret         string
	FirstCallDelay time.Duration
}

// Authorize is the gin middleware validating the bearer secret.
func (h *Handler) Authorize(c *gin.Context) {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if strings.TrimPrefix(auth, "Bearer ") != h.Secret {
		logger.FromGin(c).Warn("trigger webhook with invalid token")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.Next()
}

// NewUser schedules the welcome call after the configured delay.
func (h *Handler) NewUser(c *gin.Context) {
	var req newUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required fields: user_id, user_phone"})
		return
	}

	log := logger.FromGin(c)
	log.Info("new user registered", "user_id", req.UserID, "name", req.UserName)

	user := store.User{
		ID:          req.UserID,
		Name:        req.UserName,
		Phone:       req.UserPhone,
		MigrantName: req.MigrantName,
		Companion:   req.Companion,
	}
	if req.RegisteredAt != "" {
		// The first-call delay counts from registration, not from webhook
		// delivery; a redelivered webhook must not push the call out.
		ts, err := time.Parse(time.RFC3339, req.RegisteredAt)
		if err != nil {
			log.Warn("invalid registered_at ignored", "value", req.RegisteredAt, "error", err)
		} else {
			user.RegisteredAt = ts
		}
	}
	sc, err := h.Sched.ScheduleCall(c.Request.Context(), user, h.FirstCallDelay)
	if err != nil {
		log.Warn("welcome call not scheduled", "user_id", req.UserID, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "failed to schedule call"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "call scheduled",
		"callId":       sc.ID,
		"scheduledFor": sc.ScheduledFor,
	})
}

// UserUpdated acknowledges profile changes. Nothing reacts to them yet; a
// phone change takes effect on the next scheduled call's user lookup.
func (h *Handler) UserUpdated(c *gin.Context) {
	var req userUpdatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id"})
		return
	}

	logger.FromGin(c).Info("user updated",
		"user_id", req.UserID, "fields", len(req.UpdatedFields))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SubscriptionCancelled drains the user's pending calls.
func (h *Handler) SubscriptionCancelled(c *gin.Context) {
	var req subscriptionCancelledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id"})
		return
	}

	n := h.Sched.CancelPendingForUser(c.Request.Context(), req.UserID)
	logger.FromGin(c).Info("subscription cancelled",
		"user_id", req.UserID, "reason", req.Reason, "calls_cancelled", n)
	c.JSON(http.StatusOK, gin.H{"success": true, "cancelled": n})
}
