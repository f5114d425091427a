// Package taskstore persists task records and their worker leases.
package taskstore

import (
	"context"
	"errors"
	"time"

	"github.com/cuongbtq/face-blur/internal/domain"
)

// Repository stores tasks. Every worker-side mutation is conditional on the caller
// holding the lease and on the task being in a valid source state.
type Repository interface {
	Create(ctx context.Context, t *domain.Task) error
	// Get returns domain.ErrUnknownTask for a missing id
	Get(ctx context.Context, id string) (*domain.Task, error)

	// Claim moves a queued task, or one whose lease expired, to CLAIMED under workerID
	Claim(ctx context.Context, id, workerID string, now time.Time, lease time.Duration) (*domain.Task, error)
	Renew(ctx context.Context, id, workerID string, now time.Time, lease time.Duration) error
	// Release returns a claimed or running task to QUEUED
	Release(ctx context.Context, id, workerID string) error
	Start(ctx context.Context, id, workerID string, now time.Time) error
	Succeed(ctx context.Context, id, workerID, outputRef string, now time.Time) error
	// Fail marks the task failed. An empty workerID fails a task that was never claimed.
	Fail(ctx context.Context, id, workerID string, terr domain.TaskError, now time.Time) error

	// ReleaseExpired returns up to limit tasks with lapsed leases to QUEUED and lists their ids
	ReleaseExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
	// Sweep deletes terminal tasks completed before cutoff
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// HoldsInputs reports whether the task exists and has not reached a terminal state
func HoldsInputs(ctx context.Context, r Repository, id string) (bool, error) {
	t, err := r.Get(ctx, id)
	switch {
	case errors.Is(err, domain.ErrUnknownTask):
		return false, nil
	case err != nil:
		return false, err
	}
	return !t.State.IsTerminal(), nil
}

// conflict picks the error for a mutation that matched no row
func conflict(t *domain.Task, claiming bool) error {
	switch {
	case t == nil:
		return domain.ErrUnknownTask
	case t.State.IsTerminal():
		return domain.ErrTaskTerminal
	case claiming:
		return domain.ErrTaskAlreadyClaimed
	default:
		return domain.ErrLeaseLost
	}
}
