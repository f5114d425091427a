// Package staging keeps uploaded inputs on disk between submission and processing.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/google/uuid"
)

// Upload is one submitted file
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// InUse reports whether a task still needs its staged inputs
type InUse func(ctx context.Context, taskID string) (bool, error)

// Option configures an Area
type Option func(*Area)

// WithInUse makes Sweep keep inputs of tasks for which fn reports true.
// A lookup error also keeps them.
func WithInUse(fn InUse) Option {
	return func(a *Area) { a.inUse = fn }
}

// Area is a directory shared by the API and the workers
type Area struct {
	dir   string
	inUse InUse
}

func New(dir string, opts ...Option) (*Area, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve staging dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	a := &Area{dir: abs}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// safeName strips directories and characters that do not belong in a filename
func safeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.TrimLeft(base, ".")
	if base == "" {
		return "upload"
	}
	return base
}

// Stage writes uploads under the task's directory and returns references in order
func (a *Area) Stage(ctx context.Context, taskID string, uploads []Upload) ([]domain.InputRef, error) {
	if taskID == "" || strings.ContainsAny(taskID, `/\.`) {
		return nil, fmt.Errorf("invalid task id %q", taskID)
	}

	tmp := filepath.Join(a.dir, ".tmp-"+uuid.NewString())
	if err := os.Mkdir(tmp, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}

	final := filepath.Join(a.dir, taskID)
	refs := make([]domain.InputRef, 0, len(uploads))
	for i, up := range uploads {
		if err := ctx.Err(); err != nil {
			_ = os.RemoveAll(tmp)
			return nil, err
		}

		file := fmt.Sprintf("%03d-%s", i, safeName(up.Name))
		if err := os.WriteFile(filepath.Join(tmp, file), up.Data, 0o640); err != nil {
			_ = os.RemoveAll(tmp)
			return nil, fmt.Errorf("failed to stage %s: %w", up.Name, err)
		}
		refs = append(refs, domain.InputRef{
			Name:        up.Name,
			Path:        filepath.Join(final, file),
			ContentType: up.ContentType,
			Size:        int64(len(up.Data)),
		})
	}

	if err := os.Rename(tmp, final); err != nil {
		_ = os.RemoveAll(tmp)
		return nil, fmt.Errorf("failed to publish staged inputs: %w", err)
	}
	return refs, nil
}

// Remove deletes a task's staged inputs; missing inputs are not an error
func (a *Area) Remove(taskID string) error {
	if taskID == "" || strings.ContainsAny(taskID, `/\.`) {
		return nil
	}
	if err := os.RemoveAll(filepath.Join(a.dir, taskID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove staged inputs: %w", err)
	}
	return nil
}

// Sweep removes staged directories last modified before cutoff, except those
// of tasks still in use
func (a *Area) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list staging dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if a.retained(ctx, entry.Name()) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(a.dir, entry.Name())); err != nil {
			continue
		}
		if !strings.HasPrefix(entry.Name(), ".") {
			removed++
		}
	}
	return removed, nil
}

func (a *Area) retained(ctx context.Context, name string) bool {
	if a.inUse == nil || strings.HasPrefix(name, ".") {
		return false
	}
	used, err := a.inUse(ctx, name)
	return err != nil || used
}
