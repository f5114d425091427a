package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/face-blur/internal/api/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "face-blur-api",
	})
}

const readinessTimeout = 2 * time.Second

// Ready handles GET /ready. Every check runs; any failure makes the service not ready.
func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	status, code := "ready", http.StatusOK
	checks := make(map[string]string, len(h.readiness))
	for name, check := range h.readiness {
		if err := check(ctx); err != nil {
			h.logger.Warn("Readiness check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			checks[name] = err.Error()
			status, code = "not_ready", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	c.JSON(code, gin.H{"status": status, "checks": checks})
}

// Queue handles GET /api/v1/queue. An unreachable broker is reported in the
// body, never as a 5xx.
func (h *Handler) Queue(c *gin.Context) {
	snap := h.pipeline.Snapshot(c.Request.Context())
	c.JSON(http.StatusOK, dto.Response{
		Status:  "ok",
		Message: "queue snapshot",
		Data: dto.QueueDTO{
			Queued:    snap.QueuedCount,
			Consumers: snap.ActiveWorkerCount,
			Available: snap.Available,
			Error:     snap.Reason,
		},
	})
}

// Stats handles GET /api/v1/stats and counts first-time visitors by cookie
func (h *Handler) Stats(c *gin.Context) {
	if h.stats == nil {
		RespondError(c, http.StatusNotFound, "stats_disabled", "stats are disabled", nil)
		return
	}
	ctx := c.Request.Context()

	if _, err := c.Cookie(h.cookieName); err != nil {
		visitorID := uuid.NewString()
		if _, err := h.stats.RecordVisitor(ctx, visitorID, h.now().UTC()); err != nil {
			h.logger.Warn("Failed to record visitor", slog.String("error", err.Error()))
		} else {
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(h.cookieName, visitorID, int(h.cookieMaxAge.Seconds()), "/", "", false, true)
		}
	}

	counts, err := h.stats.Get(ctx)
	if err != nil {
		h.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Response{Status: "ok", Message: "usage stats", Data: counts})
}
