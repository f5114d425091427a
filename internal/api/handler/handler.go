package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/cuongbtq/face-blur/internal/pipeline"
)

// TaskPipeline is the part of the pipeline the HTTP adapter drives
type TaskPipeline interface {
	Submit(ctx context.Context, req pipeline.SubmitRequest) (*domain.Task, error)
	Status(ctx context.Context, id string) (pipeline.StatusReport, error)
	Fetch(ctx context.Context, id string) (*domain.Artifact, error)
	Snapshot(ctx context.Context) domain.QueueSnapshot
}

// StatsStore keeps the vanity counters
type StatsStore interface {
	Increment(ctx context.Context, counts map[string]int64) error
	RecordVisitor(ctx context.Context, id string, now time.Time) (bool, error)
	Get(ctx context.Context) (map[string]int64, error)
}

// ReadinessCheck reports whether a backing service is usable
type ReadinessCheck func(ctx context.Context) error

// UploadLimits bounds what the submit endpoints accept before staging
type UploadLimits struct {
	AllowedImageExtensions []string
	AllowedVideoExtensions []string
	MaxImages              int
	MaxImageBytes          int64
	MaxVideoBytes          int64
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Pipeline TaskPipeline
	// Stats may be nil when vanity stats are disabled
	Stats  StatsStore
	Limits UploadLimits

	VisitorCookieName   string
	VisitorCookieMaxAge time.Duration

	// Readiness is probed by GET /ready, keyed by service name
	Readiness map[string]ReadinessCheck
}

// Handler serves the blur, result and system endpoints
type Handler struct {
	logger   *slog.Logger
	pipeline TaskPipeline
	stats    StatsStore
	limits   UploadLimits

	cookieName   string
	cookieMaxAge time.Duration
	readiness    map[string]ReadinessCheck
	now          func() time.Time
}

// New creates a new Handler instance
func New(deps *Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := deps.VisitorCookieName
	if name == "" {
		name = "visitor_id"
	}
	return &Handler{
		logger:       logger,
		pipeline:     deps.Pipeline,
		stats:        deps.Stats,
		limits:       deps.Limits,
		cookieName:   name,
		cookieMaxAge: deps.VisitorCookieMaxAge,
		readiness:    deps.Readiness,
		now:          time.Now,
	}
}
