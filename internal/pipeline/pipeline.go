// Package pipeline implements the task state machine shared by the API and the workers:
// submission, explicit worker leases, terminal transitions, status and fetch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cuongbtq/face-blur/internal/broker"
	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/cuongbtq/face-blur/internal/media"
	"github.com/cuongbtq/face-blur/internal/metrics"
	"github.com/cuongbtq/face-blur/internal/resultstore"
	"github.com/cuongbtq/face-blur/internal/staging"
	"github.com/cuongbtq/face-blur/internal/stats"
	"github.com/cuongbtq/face-blur/internal/taskstore"
	"github.com/google/uuid"
)

// Prober reads video metadata at submission time
type Prober interface {
	Probe(ctx context.Context, path string) (media.VideoInfo, error)
}

// Recorder receives usage counters
type Recorder interface {
	Increment(ctx context.Context, counts map[string]int64) error
}

// Config holds submission limits and lease policy
type Config struct {
	MaxImages        int
	MaxImageBytes    int64
	MaxVideoBytes    int64
	MaxVideoDuration time.Duration

	LeaseDuration time.Duration
	RequeueBatch  int

	// VideoOptions are copied onto every video task
	VideoOptions domain.TaskOptions
}

// SubmitRequest is one client submission
type SubmitRequest struct {
	Kind    domain.TaskKind
	Uploads []staging.Upload
}

// Status values reported to clients
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// StatusReport is the client-facing view of a task
type StatusReport struct {
	TaskID      string            `json:"task_id"`
	Kind        domain.TaskKind   `json:"kind"`
	Status      string            `json:"status"`
	State       domain.TaskState  `json:"state"`
	Error       *domain.TaskError `json:"error,omitempty"`
	SubmittedAt time.Time         `json:"submitted_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

type Pipeline struct {
	repo    taskstore.Repository
	broker  broker.Broker
	results resultstore.Store
	staging *staging.Area
	prober  Prober
	stats   Recorder
	cfg     Config
	logger  *slog.Logger

	now   func() time.Time
	newID func() string
}

// Option customises a Pipeline
type Option func(*Pipeline)

// WithProber enables the video duration check at submission
func WithProber(p Prober) Option {
	return func(pl *Pipeline) { pl.prober = p }
}

// WithRecorder records usage counters on submit and fetch
func WithRecorder(r Recorder) Option {
	return func(pl *Pipeline) { pl.stats = r }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(pl *Pipeline) { pl.now = now }
}

func New(repo taskstore.Repository, b broker.Broker, results resultstore.Store, area *staging.Area, cfg Config, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 2 * time.Minute
	}
	if cfg.RequeueBatch <= 0 {
		cfg.RequeueBatch = 100
	}

	p := &Pipeline{
		repo:    repo,
		broker:  b,
		results: results,
		staging: area,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LeaseDuration is the lease granted by Claim and Renew
func (p *Pipeline) LeaseDuration() time.Duration {
	return p.cfg.LeaseDuration
}

// Submit validates and stages the uploads, records a queued task and publishes its
// wake-up message. It returns as soon as the message is accepted by the broker.
func (p *Pipeline) Submit(ctx context.Context, req SubmitRequest) (*domain.Task, error) {
	if err := p.validate(req); err != nil {
		return nil, err
	}

	id := p.newID()
	refs, err := p.staging.Stage(ctx, id, req.Uploads)
	if err != nil {
		return nil, fmt.Errorf("failed to stage inputs: %w", err)
	}

	var opts domain.TaskOptions
	if req.Kind == domain.TaskKindVideo {
		opts = p.cfg.VideoOptions
		if err := p.checkDuration(ctx, &refs[0]); err != nil {
			p.removeStaged(id)
			return nil, err
		}
	}

	task := &domain.Task{
		ID:          id,
		Kind:        req.Kind,
		State:       domain.TaskStateQueued,
		Inputs:      refs,
		Options:     opts,
		SubmittedAt: p.now().UTC(),
	}
	if err := p.repo.Create(ctx, task); err != nil {
		p.removeStaged(id)
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	if err := p.broker.Publish(ctx, domain.TaskMessage{TaskID: id}); err != nil {
		if !errors.Is(err, domain.ErrBrokerUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrBrokerUnavailable, err)
		}
		p.logger.Error("Failed to publish task",
			slog.String("task_id", id),
			slog.String("error", err.Error()),
		)

		terr := domain.TaskError{Code: domain.CodeBrokerUnavailable, Message: "task could not be queued"}
		if ferr := p.repo.Fail(ctx, id, "", terr, p.now().UTC()); ferr != nil {
			p.logger.Error("Failed to mark unqueued task failed",
				slog.String("task_id", id),
				slog.String("error", ferr.Error()),
			)
		}
		p.removeStaged(id)
		metrics.TaskCompletedTotal.WithLabelValues(string(req.Kind), StatusFailed).Inc()
		return nil, fmt.Errorf("failed to publish task %s: %w", id, err)
	}

	metrics.TaskSubmittedTotal.WithLabelValues(string(req.Kind)).Inc()
	p.record(ctx, map[string]int64{stats.KeyTotalTasks: 1})

	p.logger.Info("Task submitted",
		slog.String("task_id", id),
		slog.String("kind", string(req.Kind)),
		slog.Int("inputs", len(refs)),
	)
	return task, nil
}

func (p *Pipeline) validate(req SubmitRequest) error {
	switch req.Kind {
	case domain.TaskKindImageBatch:
		if len(req.Uploads) == 0 {
			return fmt.Errorf("%w: no images submitted", domain.ErrInvalidMedia)
		}
		if p.cfg.MaxImages > 0 && len(req.Uploads) > p.cfg.MaxImages {
			return fmt.Errorf("%w: %d images submitted, at most %d allowed", domain.ErrTooLarge, len(req.Uploads), p.cfg.MaxImages)
		}
		return checkSizes(req.Uploads, p.cfg.MaxImageBytes)
	case domain.TaskKindVideo:
		if len(req.Uploads) != 1 {
			return fmt.Errorf("%w: exactly one video is required", domain.ErrInvalidMedia)
		}
		return checkSizes(req.Uploads, p.cfg.MaxVideoBytes)
	default:
		return fmt.Errorf("%w: unsupported task kind %q", domain.ErrInvalidMedia, req.Kind)
	}
}

func checkSizes(uploads []staging.Upload, limit int64) error {
	for _, up := range uploads {
		size := int64(len(up.Data))
		if size == 0 {
			return fmt.Errorf("%w: %s is empty", domain.ErrInvalidMedia, up.Name)
		}
		if limit > 0 && size > limit {
			return fmt.Errorf("%w: %s is %d bytes, at most %d allowed", domain.ErrTooLarge, up.Name, size, limit)
		}
	}
	return nil
}

// checkDuration probes the staged video and stores its duration on the ref
func (p *Pipeline) checkDuration(ctx context.Context, ref *domain.InputRef) error {
	if p.prober == nil {
		return nil
	}
	info, err := p.prober.Probe(ctx, ref.Path)
	if err != nil {
		return fmt.Errorf("%w: cannot read video %s: %v", domain.ErrInvalidMedia, ref.Name, err)
	}
	if p.cfg.MaxVideoDuration > 0 && info.Duration > p.cfg.MaxVideoDuration {
		return fmt.Errorf("%w: video is %.1fs, at most %.0fs allowed",
			domain.ErrTooLarge, info.Duration.Seconds(), p.cfg.MaxVideoDuration.Seconds())
	}
	ref.DurationSeconds = info.Duration.Seconds()
	return nil
}

// Claim takes the lease on a task for workerID
func (p *Pipeline) Claim(ctx context.Context, id, workerID string) (*domain.Task, error) {
	return p.repo.Claim(ctx, id, workerID, p.now().UTC(), p.cfg.LeaseDuration)
}

// Renew extends a held lease
func (p *Pipeline) Renew(ctx context.Context, id, workerID string) error {
	return p.repo.Renew(ctx, id, workerID, p.now().UTC(), p.cfg.LeaseDuration)
}

// Release gives a held task back to the queue and republishes it
func (p *Pipeline) Release(ctx context.Context, id, workerID string) error {
	if err := p.repo.Release(ctx, id, workerID); err != nil {
		return err
	}
	if err := p.broker.Publish(ctx, domain.TaskMessage{TaskID: id}); err != nil {
		// the lease reaper cannot see a queued task, so the broker redelivery has to cover it
		p.logger.Warn("Failed to republish released task",
			slog.String("task_id", id),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (p *Pipeline) Start(ctx context.Context, id, workerID string) error {
	return p.repo.Start(ctx, id, workerID, p.now().UTC())
}

// Persist stores the artifact and then completes the task. The artifact's
// written_at and the task's completed_at are the same instant, so one sweep
// cutoff expires both. An artifact already present for the id is kept and the
// task still completes.
func (p *Pipeline) Persist(ctx context.Context, id, workerID string, a *domain.Artifact) error {
	// redis keeps milliseconds
	now := p.now().UTC().Truncate(time.Millisecond)
	a.TaskID = id
	a.WrittenAt = now

	if err := p.results.Put(ctx, a); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("failed to store artifact: %w", err)
		}
		metrics.ArtifactConflictsTotal.Inc()
		p.logger.Error("Artifact already stored for a running task, keeping the first write",
			slog.String("task_id", id),
			slog.String("worker_id", workerID),
		)
		return p.Succeed(ctx, id, workerID, id)
	}
	return p.complete(ctx, id, workerID, id, now)
}

// Succeed completes a running task whose artifact is already stored. The task
// takes the artifact's write time as its completion time.
func (p *Pipeline) Succeed(ctx context.Context, id, workerID, outputRef string) error {
	completedAt := p.now().UTC()
	if a, err := p.results.Get(ctx, outputRef); err == nil && !a.WrittenAt.IsZero() {
		completedAt = a.WrittenAt
	}
	return p.complete(ctx, id, workerID, outputRef, completedAt)
}

func (p *Pipeline) complete(ctx context.Context, id, workerID, outputRef string, completedAt time.Time) error {
	if err := p.repo.Succeed(ctx, id, workerID, outputRef, completedAt); err != nil {
		return err
	}
	p.removeStaged(id)
	return nil
}

// Fail records a terminal error for a held task
func (p *Pipeline) Fail(ctx context.Context, id, workerID, code, message string) error {
	terr := domain.TaskError{Code: code, Message: message}
	if err := p.repo.Fail(ctx, id, workerID, terr, p.now().UTC()); err != nil {
		return err
	}
	p.removeStaged(id)
	return nil
}

// HasArtifact reports whether a result is already stored for id
func (p *Pipeline) HasArtifact(ctx context.Context, id string) (bool, error) {
	_, err := p.results.Get(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrArtifactNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Status reports a task without consuming its result
func (p *Pipeline) Status(ctx context.Context, id string) (StatusReport, error) {
	t, err := p.repo.Get(ctx, id)
	if err != nil {
		return StatusReport{}, err
	}

	report := StatusReport{
		TaskID:      t.ID,
		Kind:        t.Kind,
		State:       t.State,
		Error:       t.Error,
		SubmittedAt: t.SubmittedAt,
		CompletedAt: t.CompletedAt,
	}
	switch t.State {
	case domain.TaskStateSucceeded:
		report.Status = StatusSucceeded
	case domain.TaskStateFailed:
		report.Status = StatusFailed
	default:
		report.Status = StatusPending
	}
	return report, nil
}

// Fetch returns the artifact of a succeeded task and deletes it. A pending task
// yields domain.ErrPending and a failed one its *domain.TaskError.
func (p *Pipeline) Fetch(ctx context.Context, id string) (*domain.Artifact, error) {
	t, err := p.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTask) {
			metrics.ResultsServedTotal.WithLabelValues("unknown").Inc()
		}
		return nil, err
	}

	switch t.State {
	case domain.TaskStateSucceeded:
	case domain.TaskStateFailed:
		metrics.ResultsServedTotal.WithLabelValues("failed").Inc()
		if t.Error == nil {
			return nil, &domain.TaskError{Code: domain.CodeProcessingError, Message: "task failed"}
		}
		return nil, t.Error
	default:
		metrics.ResultsServedTotal.WithLabelValues("pending").Inc()
		return nil, domain.ErrPending
	}

	a, err := p.results.Take(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactNotFound) {
			metrics.ResultsServedTotal.WithLabelValues("already_fetched").Inc()
			return nil, domain.ErrAlreadyFetched
		}
		return nil, fmt.Errorf("failed to take artifact: %w", err)
	}

	metrics.ResultsServedTotal.WithLabelValues("served").Inc()
	p.record(ctx, servedCounts(t))
	return a, nil
}

func servedCounts(t *domain.Task) map[string]int64 {
	if t.Kind == domain.TaskKindVideo {
		var seconds float64
		if len(t.Inputs) > 0 {
			seconds = t.Inputs[0].DurationSeconds
		}
		return map[string]int64{
			stats.KeyTotalVideos:       1,
			stats.KeyTotalVideoSeconds: int64(math.Round(seconds)),
		}
	}
	return map[string]int64{stats.KeyTotalImages: int64(len(t.Inputs))}
}

// RequeueExpired returns tasks whose lease lapsed to the queue and republishes them
func (p *Pipeline) RequeueExpired(ctx context.Context) (int, error) {
	ids, err := p.repo.ReleaseExpired(ctx, p.now().UTC(), p.cfg.RequeueBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to release expired leases: %w", err)
	}

	for _, id := range ids {
		metrics.LeaseExpiredTotal.Inc()
		if err := p.broker.Publish(ctx, domain.TaskMessage{TaskID: id}); err != nil {
			p.logger.Warn("Failed to republish expired task",
				slog.String("task_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.logger.Info("Requeued task with expired lease", slog.String("task_id", id))
	}
	return len(ids), nil
}

// Snapshot reports broker counters
func (p *Pipeline) Snapshot(ctx context.Context) domain.QueueSnapshot {
	return p.broker.Inspect(ctx)
}

func (p *Pipeline) removeStaged(id string) {
	if err := p.staging.Remove(id); err != nil {
		p.logger.Warn("Failed to remove staged inputs",
			slog.String("task_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pipeline) record(ctx context.Context, counts map[string]int64) {
	if p.stats == nil {
		return
	}
	if err := p.stats.Increment(ctx, counts); err != nil {
		p.logger.Warn("Failed to record stats", slog.String("error", err.Error()))
	}
}
