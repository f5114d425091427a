package router

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cuongbtq/face-blur/internal/api/handler"
	"github.com/cuongbtq/face-blur/internal/metrics"
	"github.com/cuongbtq/face-blur/internal/stats"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	requestIDHeader = "X-Request-Id"
	requestIDKey    = "request_id"
)

// RequestIDMiddleware echoes X-Request-Id or generates one
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// LoggerMiddleware logs HTTP requests with slog
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// Process request
		c.Next()

		latency := time.Since(start)
		requestID := c.GetString(requestIDKey)

		logger.Info("HTTP Request",
			slog.String("request_id", requestID),
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.String("ip", c.ClientIP()),
			slog.String("user_agent", c.Request.UserAgent()),
			slog.Duration("latency", latency),
			slog.Int("body_size", c.Writer.Size()),
		)

		for _, e := range c.Errors {
			logger.Error("Request error",
				slog.String("request_id", requestID),
				slog.String("error", e.Error()),
				slog.Uint64("type", uint64(e.Type)),
			)
		}
	}
}

// CORSMiddleware handles Cross-Origin Resource Sharing for the configured origins.
// A "*" entry allows any origin.
func CORSMiddleware(allowOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowOrigins))
	for _, o := range allowOrigins {
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (allowed[origin] || allowed["*"]) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-Id")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
			c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-Id")
			c.Writer.Header().Add("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// MetricsMiddleware records request counts and latency by route template
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestSeconds.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// CountRequestsMiddleware bumps total_requests for every call of the wrapped routes
func CountRequestsMiddleware(store handler.StatsStore, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store != nil {
			ctx := context.WithoutCancel(c.Request.Context())
			if err := store.Increment(ctx, map[string]int64{stats.KeyTotalRequests: 1}); err != nil {
				logger.Warn("Failed to count request", slog.String("error", err.Error()))
			}
		}
		c.Next()
	}
}

// limiterIdle is how long a client's bucket survives without requests
const limiterIdle = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters keeps one token bucket per client IP
type clientLimiters struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func newClientLimiters(perMinute, burst int) *clientLimiters {
	if burst <= 0 {
		burst = perMinute
	}
	return &clientLimiters{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		now:     time.Now,
	}
}

func (l *clientLimiters) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > limiterIdle {
		for k, cl := range l.clients {
			if now.Sub(cl.lastSeen) > limiterIdle {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	cl, ok := l.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// RateLimitMiddleware rejects clients that exceed perMinute requests with 429
func RateLimitMiddleware(perMinute, burst int) gin.HandlerFunc {
	limiters := newClientLimiters(perMinute, burst)
	return rateLimit(limiters)
}

func rateLimit(limiters *clientLimiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiters.allow(c.ClientIP()) {
			c.Header("Retry-After", "60")
			handler.RespondError(c, http.StatusTooManyRequests, handler.CodeRateLimited, "rate limit exceeded", nil)
			return
		}
		c.Next()
	}
}
