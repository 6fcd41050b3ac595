package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"companion-calls/internal/carrier"
	"companion-calls/internal/httpapi"
	"companion-calls/internal/trigger"
	"companion-calls/internal/voice"
	"companion-calls/pkg/utils"
)

// routeDeps carries the wired handlers from main. Routes, like handlers,
// stay free of business logic.
type routeDeps struct {
	AuthMW  gin.HandlerFunc
	API     httpapi.Handlers
	Voice   voice.WebhookHandler
	Carrier *carrier.WebhookHandler
	Trigger *trigger.Handler
	DB      *sql.DB
}

func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if d.DB != nil {
			if err := utils.HealthCheck(c.Request.Context(), d.DB, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/auth/login", d.API.Login)

	// Provider webhooks (public; each validates its own secret).
	r.POST("/webhooks/voice", d.Voice.Handle)
	r.POST("/webhooks/carrier", d.Carrier.Handle)

	reg := r.Group("/webhooks/registration")
	reg.Use(d.Trigger.Authorize)
	{
		reg.POST("/new-user", d.Trigger.NewUser)
		reg.POST("/user-updated", d.Trigger.UserUpdated)
		reg.POST("/subscription-cancelled", d.Trigger.SubscriptionCancelled)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(d.AuthMW)
	{
		v1.GET("/stats", d.API.Stats)
		v1.GET("/calls", d.API.ListCalls)
		v1.POST("/calls/:id/cancel", d.API.CancelCall)
		v1.POST("/calls/:id/reschedule", d.API.RescheduleCall)
		v1.GET("/context/:userId", d.API.UserContext)
		v1.GET("/conversations/similar", d.API.SimilarConversations)
		v1.POST("/test-call", d.API.TestCall)
	}
}
