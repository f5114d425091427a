// Package sampler runs face detection on a subset of video frames and carries
// the last detected boxes forward onto the frames in between.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cuongbtq/face-blur/internal/blur"
	"github.com/cuongbtq/face-blur/internal/detector"
	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/cuongbtq/face-blur/internal/metrics"
)

// FrameSource yields decoded frames in presentation order and returns io.EOF when exhausted
type FrameSource interface {
	Next(ctx context.Context) (*domain.Frame, error)
}

// FrameSink accepts blurred frames in processed order
type FrameSink interface {
	Write(ctx context.Context, frame *domain.Frame) error
}

// Config controls a single run
type Config struct {
	// Stride is the detection interval N over processed frames
	Stride int
	// Keep retains every Keep-th source frame, see Decimation
	Keep int
	// Progress, when set, is called after each frame is written
	Progress func(done int)
}

// Result summarises a finished run
type Result struct {
	Frames           int
	Detections       int
	DetectorFailures int
}

// Sampler drives detection and blurring over a frame stream
type Sampler struct {
	detector detector.Detector
	cfg      Config
	logger   *slog.Logger
}

func New(det detector.Detector, cfg Config, logger *slog.Logger) *Sampler {
	if cfg.Stride < 1 {
		cfg.Stride = 1
	}
	if cfg.Keep < 1 {
		cfg.Keep = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{detector: det, cfg: cfg, logger: logger}
}

// Run reads src to the end, blurring every kept frame and writing it to sink
func (s *Sampler) Run(ctx context.Context, src FrameSource, sink FrameSink) (Result, error) {
	var (
		res    Result
		boxes  []domain.BoundingBox
		source int
	)

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("failed to read source frame %d: %w", source, err)
		}

		kept := source%s.cfg.Keep == 0
		source++
		if !kept {
			continue
		}

		frame.Index = res.Frames
		if frame.Index%s.cfg.Stride == 0 {
			var ok bool
			boxes, ok, err = s.detect(ctx, frame)
			if err != nil {
				return res, err
			}
			res.Detections++
			if !ok {
				res.DetectorFailures++
			}
		}

		blur.Apply(frame.Image, boxes)

		if err := sink.Write(ctx, frame); err != nil {
			return res, fmt.Errorf("failed to write frame %d: %w", frame.Index, err)
		}

		res.Frames++
		if s.cfg.Progress != nil {
			s.cfg.Progress(res.Frames)
		}
	}
}

// detect reports ok=false when the detector failed and the frame counts as faceless.
// Cancellation is the only returned error.
func (s *Sampler) detect(ctx context.Context, frame *domain.Frame) ([]domain.BoundingBox, bool, error) {
	boxes, err := s.detector.Detect(ctx, frame.Image)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		metrics.DetectorCallsTotal.WithLabelValues("error").Inc()
		s.logger.Warn("Face detection failed, frame treated as having no faces",
			slog.Int("frame", frame.Index),
			slog.String("error", err.Error()))
		return nil, false, nil
	}

	metrics.DetectorCallsTotal.WithLabelValues("ok").Inc()
	return boxes, true, nil
}
