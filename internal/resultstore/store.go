// Package resultstore holds finished artifacts until they are fetched once or expire.
package resultstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/face-blur/internal/domain"
)

// Store is a write-once, read-once artifact store keyed by task id
type Store interface {
	// Put stores a under a.TaskID; an existing artifact yields domain.ErrConflict
	Put(ctx context.Context, a *domain.Artifact) error
	// Get reads without removing; absence yields domain.ErrArtifactNotFound
	Get(ctx context.Context, taskID string) (*domain.Artifact, error)
	// Take atomically reads and removes; only one concurrent caller succeeds
	Take(ctx context.Context, taskID string) (*domain.Artifact, error)
	// Sweep removes artifacts written before cutoff and returns how many were removed
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

func validateID(id string) error {
	if id == "" || strings.HasPrefix(id, ".") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid artifact id %q", id)
	}
	return nil
}
