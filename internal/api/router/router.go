package router

import (
	"log/slog"

	"github.com/cuongbtq/face-blur/internal/api/handler"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options holds the router-level policies
type Options struct {
	Logger *slog.Logger

	AllowOrigins []string

	RateLimitEnabled  bool
	RequestsPerMinute int
	Burst             int
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = deps.Logger
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(logger))
	r.Use(MetricsMiddleware())
	r.Use(CORSMiddleware(opts.AllowOrigins))

	h := handler.New(deps)

	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	submit := []gin.HandlerFunc{CountRequestsMiddleware(deps.Stats, logger)}
	if opts.RateLimitEnabled && opts.RequestsPerMinute > 0 {
		submit = append(submit, RateLimitMiddleware(opts.RequestsPerMinute, opts.Burst))
	}

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		blur := v1.Group("/blur", submit...)
		{
			// POST /api/v1/blur - Submit a batch of images
			blur.POST("", h.SubmitImages)

			// POST /api/v1/blur/video - Submit one video
			blur.POST("/video", h.SubmitVideo)
		}

		// GET /api/v1/results/:task_id - Poll for and fetch a result once
		v1.GET("/results/:task_id", h.GetResult)

		// GET /api/v1/tasks/:task_id - Task status without consuming the result
		v1.GET("/tasks/:task_id", h.GetTask)

		// GET /api/v1/queue - Broker snapshot
		v1.GET("/queue", h.Queue)

		// GET /api/v1/stats - Usage counters
		v1.GET("/stats", h.Stats)
	}

	return r
}
