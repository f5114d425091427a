package taskstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/face-blur/internal/domain"
)

// Memory is a process-local Repository for tests and single-process runs
type Memory struct {
	mu    sync.Mutex
	tasks map[string]*domain.Task
}

func NewMemory() *Memory {
	return &Memory{tasks: make(map[string]*domain.Task)}
}

func (m *Memory) Create(_ context.Context, t *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; ok {
		return fmt.Errorf("%w: task %s exists", domain.ErrConflict, t.ID)
	}
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrUnknownTask
	}
	return t.Clone(), nil
}

func (m *Memory) Claim(_ context.Context, id, workerID string, now time.Time, lease time.Duration) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.tasks[id]
	if t == nil || !claimable(t, now) {
		return nil, conflict(t, true)
	}

	expires := now.Add(lease)
	claimedAt := now
	t.State = domain.TaskStateClaimed
	t.ClaimedBy = workerID
	t.LeaseExpiresAt = &expires
	t.ClaimedAt = &claimedAt
	return t.Clone(), nil
}

func claimable(t *domain.Task, now time.Time) bool {
	switch t.State {
	case domain.TaskStateQueued:
		return true
	case domain.TaskStateClaimed, domain.TaskStateRunning:
		return t.LeaseExpiresAt != nil && t.LeaseExpiresAt.Before(now)
	}
	return false
}

// held returns the task when workerID owns it in one of the given states
func (m *Memory) held(id, workerID string, states ...domain.TaskState) (*domain.Task, error) {
	t := m.tasks[id]
	if t == nil || t.ClaimedBy != workerID {
		return nil, conflict(t, false)
	}
	for _, s := range states {
		if t.State == s {
			return t, nil
		}
	}
	return nil, conflict(t, false)
}

func (m *Memory) Renew(_ context.Context, id, workerID string, now time.Time, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.held(id, workerID, domain.TaskStateClaimed, domain.TaskStateRunning)
	if err != nil {
		return err
	}
	expires := now.Add(lease)
	t.LeaseExpiresAt = &expires
	return nil
}

func (m *Memory) Release(_ context.Context, id, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.held(id, workerID, domain.TaskStateClaimed, domain.TaskStateRunning)
	if err != nil {
		return err
	}
	requeue(t)
	return nil
}

func requeue(t *domain.Task) {
	t.State = domain.TaskStateQueued
	t.ClaimedBy = ""
	t.LeaseExpiresAt = nil
}

func (m *Memory) Start(_ context.Context, id, workerID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.held(id, workerID, domain.TaskStateClaimed)
	if err != nil {
		return err
	}
	t.State = domain.TaskStateRunning
	return nil
}

func (m *Memory) Succeed(_ context.Context, id, workerID, outputRef string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.held(id, workerID, domain.TaskStateRunning)
	if err != nil {
		return err
	}
	finish(t, now)
	t.State = domain.TaskStateSucceeded
	t.OutputRef = outputRef
	return nil
}

func (m *Memory) Fail(_ context.Context, id, workerID string, terr domain.TaskError, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var t *domain.Task
	var err error
	if workerID == "" {
		t = m.tasks[id]
		if t == nil || t.State != domain.TaskStateQueued {
			return conflict(t, false)
		}
	} else if t, err = m.held(id, workerID, domain.TaskStateClaimed, domain.TaskStateRunning); err != nil {
		return err
	}

	finish(t, now)
	t.State = domain.TaskStateFailed
	t.Error = &domain.TaskError{Code: terr.Code, Message: terr.Message}
	return nil
}

func finish(t *domain.Task, now time.Time) {
	completed := now
	t.CompletedAt = &completed
	t.LeaseExpiresAt = nil
}

func (m *Memory) ReleaseExpired(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []*domain.Task
	for _, t := range m.tasks {
		if (t.State == domain.TaskStateClaimed || t.State == domain.TaskStateRunning) &&
			t.LeaseExpiresAt != nil && t.LeaseExpiresAt.Before(now) {
			expired = append(expired, t)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].LeaseExpiresAt.Before(*expired[j].LeaseExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	ids := make([]string, 0, len(expired))
	for _, t := range expired {
		requeue(t)
		ids = append(ids, t.ID)
	}
	return ids, nil
}

func (m *Memory) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, t := range m.tasks {
		if t.State.IsTerminal() && t.CompletedAt != nil && t.CompletedAt.Before(cutoff) {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed, nil
}
