package resultstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/google/uuid"
)

const (
	dataFile = "data"
	metaFile = "meta.json"

	tmpPrefix   = ".tmp-"
	takePrefix  = ".take-"
	sweepPrefix = ".sweep-"
)

type fileMeta struct {
	TaskID      string    `json:"task_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	WrittenAt   time.Time `json:"written_at"`
}

// FileStore keeps each artifact in <dir>/<task_id>/ and relies on rename
// atomicity for write-once and take-once semantics.
type FileStore struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create result dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{dir: dir, logger: logger, now: time.Now}, nil
}

func (s *FileStore) Put(ctx context.Context, a *domain.Artifact) error {
	if err := validateID(a.TaskID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	final := filepath.Join(s.dir, a.TaskID)
	if _, err := os.Stat(final); err == nil {
		return fmt.Errorf("%w: artifact %s already stored", domain.ErrConflict, a.TaskID)
	}

	tmp := filepath.Join(s.dir, tmpPrefix+uuid.NewString())
	if err := os.Mkdir(tmp, 0o750); err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}

	written := a.WrittenAt
	if written.IsZero() {
		written = s.now().UTC()
	}
	meta := fileMeta{
		TaskID:      a.TaskID,
		Filename:    a.Filename,
		ContentType: a.ContentType,
		Size:        len(a.Data),
		WrittenAt:   written,
	}

	if err := writeArtifact(tmp, meta, a.Data); err != nil {
		_ = os.RemoveAll(tmp)
		return err
	}

	if err := os.Rename(tmp, final); err != nil {
		_ = os.RemoveAll(tmp)
		if _, statErr := os.Stat(final); statErr == nil {
			return fmt.Errorf("%w: artifact %s already stored", domain.ErrConflict, a.TaskID)
		}
		return fmt.Errorf("failed to publish artifact: %w", err)
	}

	a.WrittenAt = written
	return nil
}

func (s *FileStore) Get(ctx context.Context, taskID string) (*domain.Artifact, error) {
	if err := validateID(taskID); err != nil {
		return nil, err
	}
	return readArtifact(filepath.Join(s.dir, taskID))
}

func (s *FileStore) Take(ctx context.Context, taskID string) (*domain.Artifact, error) {
	if err := validateID(taskID); err != nil {
		return nil, err
	}

	private := filepath.Join(s.dir, takePrefix+uuid.NewString())
	if err := os.Rename(filepath.Join(s.dir, taskID), private); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to claim artifact: %w", err)
	}
	defer os.RemoveAll(private)

	return readArtifact(private)
}

// Sweep also clears staging and take leftovers older than cutoff
func (s *FileStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list result dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.IsDir() {
			continue
		}

		name := entry.Name()
		path := filepath.Join(s.dir, name)

		if strings.HasPrefix(name, ".") {
			info, err := entry.Info()
			if err == nil && info.ModTime().Before(cutoff) {
				_ = os.RemoveAll(path)
			}
			continue
		}

		written, ok := s.writtenAt(path, entry)
		if !ok || !written.Before(cutoff) {
			continue
		}

		doomed := filepath.Join(s.dir, sweepPrefix+uuid.NewString())
		if err := os.Rename(path, doomed); err != nil {
			// taken concurrently
			continue
		}
		if err := os.RemoveAll(doomed); err != nil {
			s.logger.Warn("Failed to remove expired artifact",
				slog.String("task_id", name),
				slog.String("error", err.Error()))
		}
		removed++
	}
	return removed, nil
}

func (s *FileStore) writtenAt(path string, entry fs.DirEntry) (time.Time, bool) {
	raw, err := os.ReadFile(filepath.Join(path, metaFile))
	if err == nil {
		var meta fileMeta
		if json.Unmarshal(raw, &meta) == nil && !meta.WrittenAt.IsZero() {
			return meta.WrittenAt, true
		}
	}
	info, err := entry.Info()
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

func writeArtifact(dir string, meta fileMeta, data []byte) error {
	if err := os.WriteFile(filepath.Join(dir, dataFile), data, 0o640); err != nil {
		return fmt.Errorf("failed to write artifact data: %w", err)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode artifact metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFile), raw, 0o640); err != nil {
		return fmt.Errorf("failed to write artifact metadata: %w", err)
	}
	return nil
}

func readArtifact(dir string) (*domain.Artifact, error) {
	raw, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to read artifact metadata: %w", err)
	}

	var meta fileMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode artifact metadata: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, dataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to read artifact data: %w", err)
	}

	return &domain.Artifact{
		TaskID:      meta.TaskID,
		Filename:    meta.Filename,
		ContentType: meta.ContentType,
		Data:        data,
		WrittenAt:   meta.WrittenAt,
	}, nil
}
