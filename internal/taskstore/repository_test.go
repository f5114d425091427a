package taskstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/cuongbtq/face-blur/internal/taskstore/migrations"
	"github.com/cuongbtq/face-blur/shared/postgresql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repositories(t *testing.T) map[string]func(t *testing.T) Repository {
	t.Helper()
	repos := map[string]func(t *testing.T) Repository{
		"memory": func(*testing.T) Repository { return NewMemory() },
	}

	dsn := os.Getenv("FACEBLUR_POSTGRES_DSN")
	if dsn != "" {
		repos["postgres"] = func(t *testing.T) Repository {
			client, err := postgresql.NewClient(&postgresql.Config{DSN: dsn}, nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = client.Close() })
			require.NoError(t, client.Migrate(context.Background(), migrations.Files))
			return NewPostgres(client.GetDB(), nil)
		}
	}
	return repos
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTask() *domain.Task {
	return &domain.Task{
		ID:    uuid.NewString(),
		Kind:  domain.TaskKindImageBatch,
		State: domain.TaskStateQueued,
		Inputs: []domain.InputRef{
			{Name: "a.jpg", Path: "/staging/x/000-a.jpg", ContentType: "image/jpeg", Size: 10},
		},
		Options:     domain.TaskOptions{DetectEveryN: 4},
		SubmittedAt: base,
	}
}

func TestRepository_Lifecycle(t *testing.T) {
	for name, open := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open(t)
			task := newTask()
			require.NoError(t, repo.Create(ctx, task))

			got, err := repo.Get(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.TaskStateQueued, got.State)
			assert.Equal(t, task.Inputs, got.Inputs)
			assert.Equal(t, 4, got.Options.DetectEveryN)

			claimed, err := repo.Claim(ctx, task.ID, "w1", base, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, domain.TaskStateClaimed, claimed.State)
			assert.Equal(t, "w1", claimed.ClaimedBy)
			require.NotNil(t, claimed.LeaseExpiresAt)
			assert.True(t, base.Add(time.Minute).Equal(*claimed.LeaseExpiresAt))

			require.NoError(t, repo.Start(ctx, task.ID, "w1", base))
			require.NoError(t, repo.Renew(ctx, task.ID, "w1", base.Add(30*time.Second), time.Minute))
			require.NoError(t, repo.Succeed(ctx, task.ID, "w1", task.ID, base.Add(40*time.Second)))

			done, err := repo.Get(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.TaskStateSucceeded, done.State)
			assert.Equal(t, task.ID, done.OutputRef)
			require.NotNil(t, done.CompletedAt)
			assert.Nil(t, done.Error)

			err = repo.Fail(ctx, task.ID, "w1", domain.TaskError{Code: domain.CodeProcessingError}, base)
			assert.ErrorIs(t, err, domain.ErrTaskTerminal, "terminal states are never re-entered")

			_, err = repo.Claim(ctx, task.ID, "w2", base.Add(time.Hour), time.Minute)
			assert.ErrorIs(t, err, domain.ErrTaskTerminal)
		})
	}
}

func TestRepository_ClaimExclusive(t *testing.T) {
	for name, open := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open(t)
			task := newTask()
			require.NoError(t, repo.Create(ctx, task))

			_, err := repo.Claim(ctx, task.ID, "w1", base, time.Minute)
			require.NoError(t, err)

			_, err = repo.Claim(ctx, task.ID, "w2", base.Add(10*time.Second), time.Minute)
			assert.ErrorIs(t, err, domain.ErrTaskAlreadyClaimed)

			_, err = repo.Claim(ctx, uuid.NewString(), "w2", base, time.Minute)
			assert.ErrorIs(t, err, domain.ErrUnknownTask)
		})
	}
}

func TestRepository_ExpiredLeaseIsReclaimable(t *testing.T) {
	for name, open := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open(t)
			task := newTask()
			require.NoError(t, repo.Create(ctx, task))

			_, err := repo.Claim(ctx, task.ID, "w1", base, time.Minute)
			require.NoError(t, err)
			require.NoError(t, repo.Start(ctx, task.ID, "w1", base))

			later := base.Add(2 * time.Minute)
			reclaimed, err := repo.Claim(ctx, task.ID, "w2", later, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, "w2", reclaimed.ClaimedBy)

			err = repo.Succeed(ctx, task.ID, "w1", task.ID, later)
			assert.ErrorIs(t, err, domain.ErrLeaseLost)
			err = repo.Renew(ctx, task.ID, "w1", later, time.Minute)
			assert.ErrorIs(t, err, domain.ErrLeaseLost)
		})
	}
}

func TestRepository_ReleaseAndFail(t *testing.T) {
	for name, open := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open(t)
			task := newTask()
			require.NoError(t, repo.Create(ctx, task))

			_, err := repo.Claim(ctx, task.ID, "w1", base, time.Minute)
			require.NoError(t, err)

			assert.ErrorIs(t, repo.Release(ctx, task.ID, "w2"), domain.ErrLeaseLost)
			require.NoError(t, repo.Release(ctx, task.ID, "w1"))

			got, err := repo.Get(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.TaskStateQueued, got.State)
			assert.Empty(t, got.ClaimedBy)

			require.NoError(t, repo.Fail(ctx, task.ID, "", domain.TaskError{Code: domain.CodeBrokerUnavailable, Message: "no broker"}, base))

			failed, err := repo.Get(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.TaskStateFailed, failed.State)
			require.NotNil(t, failed.Error)
			assert.Equal(t, domain.CodeBrokerUnavailable, failed.Error.Code)
			assert.Equal(t, "no broker", failed.Error.Message)
			assert.Empty(t, failed.OutputRef)
		})
	}
}

func TestRepository_ReleaseExpired(t *testing.T) {
	for name, open := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open(t)

			stale, live, queued := newTask(), newTask(), newTask()
			for _, task := range []*domain.Task{stale, live, queued} {
				require.NoError(t, repo.Create(ctx, task))
			}
			_, err := repo.Claim(ctx, stale.ID, "w1", base, time.Minute)
			require.NoError(t, err)
			_, err = repo.Claim(ctx, live.ID, "w2", base.Add(5*time.Minute), time.Minute)
			require.NoError(t, err)

			ids, err := repo.ReleaseExpired(ctx, base.Add(5*time.Minute+time.Second), 10)
			require.NoError(t, err)
			assert.Contains(t, ids, stale.ID)
			assert.NotContains(t, ids, live.ID)
			assert.NotContains(t, ids, queued.ID)

			got, err := repo.Get(ctx, stale.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.TaskStateQueued, got.State)
		})
	}
}

func TestRepository_Sweep(t *testing.T) {
	for name, open := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open(t)

			old, recent, pending := newTask(), newTask(), newTask()
			for _, task := range []*domain.Task{old, recent, pending} {
				require.NoError(t, repo.Create(ctx, task))
			}
			require.NoError(t, repo.Fail(ctx, old.ID, "", domain.TaskError{Code: domain.CodeInvalidMedia}, base))
			require.NoError(t, repo.Fail(ctx, recent.ID, "", domain.TaskError{Code: domain.CodeInvalidMedia}, base.Add(2*time.Hour)))

			removed, err := repo.Sweep(ctx, base.Add(time.Hour))
			require.NoError(t, err)
			assert.GreaterOrEqual(t, removed, 1)

			_, err = repo.Get(ctx, old.ID)
			assert.ErrorIs(t, err, domain.ErrUnknownTask)
			_, err = repo.Get(ctx, recent.ID)
			assert.NoError(t, err)
			_, err = repo.Get(ctx, pending.ID)
			assert.NoError(t, err, "pending tasks are never swept")
		})
	}
}

func TestHoldsInputs(t *testing.T) {
	for name, open := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := open(t)

			queued, running, failed := newTask(), newTask(), newTask()
			for _, task := range []*domain.Task{queued, running, failed} {
				require.NoError(t, repo.Create(ctx, task))
			}
			_, err := repo.Claim(ctx, running.ID, "w1", base, time.Minute)
			require.NoError(t, err)
			require.NoError(t, repo.Start(ctx, running.ID, "w1", base))
			require.NoError(t, repo.Fail(ctx, failed.ID, "", domain.TaskError{Code: domain.CodeProcessingError}, base))

			tests := []struct {
				name string
				id   string
				want bool
			}{
				{name: "queued", id: queued.ID, want: true},
				{name: "running", id: running.ID, want: true},
				{name: "failed", id: failed.ID, want: false},
				{name: "unknown", id: uuid.NewString(), want: false},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got, err := HoldsInputs(ctx, repo, tt.id)
					require.NoError(t, err)
					assert.Equal(t, tt.want, got)
				})
			}
		})
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	task := newTask()
	require.NoError(t, repo.Create(ctx, task))

	got, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	got.State = domain.TaskStateFailed
	got.Inputs[0].Name = "mutated"

	again, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStateQueued, again.State)
	assert.Equal(t, "a.jpg", again.Inputs[0].Name)
}
