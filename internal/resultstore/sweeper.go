package resultstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/face-blur/internal/metrics"
)

// Sweepable is anything that can drop entries written before a cutoff
type Sweepable interface {
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// Target names a Sweepable for logs and metrics
type Target struct {
	Name  string
	Store Sweepable
}

// Sweeper expires entries older than TTL from every target on a fixed interval.
// A zero Interval disables it.
type Sweeper struct {
	Targets  []Target
	TTL      time.Duration
	Interval time.Duration
	Logger   *slog.Logger

	now func() time.Time
}

// Run blocks until ctx is done. It returns immediately when Interval is zero.
func (s *Sweeper) Run(ctx context.Context) {
	if s.Interval <= 0 || s.TTL <= 0 {
		return
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass and returns the total number of removed entries
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now
	if s.now != nil {
		now = s.now
	}

	cutoff := now().Add(-s.TTL)
	total := 0
	for _, t := range s.Targets {
		removed, err := t.Store.Sweep(ctx, cutoff)
		if err != nil {
			logger.Warn("Sweep failed",
				slog.String("target", t.Name),
				slog.String("error", err.Error()))
		}
		if removed > 0 {
			metrics.SweptTotal.WithLabelValues(t.Name).Add(float64(removed))
			logger.Info("Swept expired entries",
				slog.String("target", t.Name),
				slog.Int("count", removed))
		}
		total += removed
	}
	return total
}
