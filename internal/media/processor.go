package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuongbtq/face-blur/internal/blur"
	"github.com/cuongbtq/face-blur/internal/detector"
	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/cuongbtq/face-blur/internal/metrics"
	"github.com/cuongbtq/face-blur/internal/sampler"
	"golang.org/x/image/draw"
)

// Config holds processor tuning that does not vary per task
type Config struct {
	JPEGQuality int
	// WorkDir is the parent of per-video scratch directories, os.TempDir when empty
	WorkDir string
	// ProgressInterval throttles video progress logs
	ProgressInterval time.Duration
}

// Processor applies detection and blurring to staged inputs
type Processor struct {
	detector detector.Detector
	codec    VideoCodec
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewProcessor(det detector.Detector, codec VideoCodec, cfg Config, logger *slog.Logger) *Processor {
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 92
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		detector: det,
		codec:    codec,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// ProcessImages blurs every input and returns one image or a ZIP archive.
// All inputs are decoded before any detection runs.
func (p *Processor) ProcessImages(ctx context.Context, inputs []domain.InputRef) (*domain.Artifact, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no images supplied", domain.ErrInvalidMedia)
	}

	decoded := make([]decodedImage, 0, len(inputs))
	for _, in := range inputs {
		img, err := decodeFile(in)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, img)
	}

	outputs := make([]encodedImage, 0, len(decoded))
	for _, img := range decoded {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame := toNRGBA(img.image)
		boxes, err := p.detect(ctx, frame, img.name)
		if err != nil {
			return nil, err
		}
		blur.ApplyNRGBA(frame, boxes)

		out, err := encodeImage(img, frame, p.cfg.JPEGQuality)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)

		p.logger.Debug("Image blurred",
			slog.String("input", img.name),
			slog.Int("faces", len(boxes)))
	}

	if len(outputs) == 1 {
		return &domain.Artifact{
			Filename:    outputs[0].filename,
			ContentType: outputs[0].contentType,
			Data:        outputs[0].data,
		}, nil
	}

	data, err := zipImages(outputs, p.now())
	if err != nil {
		return nil, fmt.Errorf("failed to build archive: %w", err)
	}
	return &domain.Artifact{
		Filename:    ArchiveName,
		ContentType: ContentTypeZIP,
		Data:        data,
	}, nil
}

// ProcessVideo blurs faces in a single video
func (p *Processor) ProcessVideo(ctx context.Context, input domain.InputRef, opts domain.TaskOptions) (*domain.Artifact, error) {
	if p.codec == nil {
		return nil, errors.New("video codec is not configured")
	}

	info, err := p.codec.Probe(ctx, input.Path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidMedia, input.Name, err)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("%w: %s: no video stream", domain.ErrInvalidMedia, input.Name)
	}
	if info.FPS <= 0 {
		info.FPS = defaultFPS
	}

	workDir, err := os.MkdirTemp(p.cfg.WorkDir, "video-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	keep := sampler.Decimation(info.FPS, opts.MaxFPS)
	spec := EncoderSpec{
		OutputPath: filepath.Join(workDir, stem(input.Name, "video")+"_blurred.mp4"),
		Width:      info.Width,
		Height:     info.Height,
		FPS:        info.FPS / float64(keep),
	}
	if opts.PreserveAudio && info.HasAudio {
		spec.AudioSource = input.Path
	}

	logger := p.logger.With(slog.String("input", input.Name))
	logger.Info("Video blur started",
		slog.Float64("fps", info.FPS),
		slog.Float64("output_fps", spec.FPS),
		slog.Int("keep_every", keep),
		slog.Int("detect_every_n", opts.DetectEveryN),
		slog.Int("width", info.Width),
		slog.Int("height", info.Height),
		slog.Float64("detect_scale", opts.DetectScale),
		slog.Bool("audio", spec.AudioSource != ""))

	dec, err := p.codec.OpenDecoder(ctx, input.Path, info)
	if err != nil {
		return nil, fmt.Errorf("failed to open decoder: %w", err)
	}
	defer dec.Close()

	enc, err := p.codec.CreateEncoder(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	started := p.now()
	s := sampler.New(
		detector.Scaled{Inner: p.detector, Scale: opts.DetectScale},
		sampler.Config{
			Stride:   opts.DetectEveryN,
			Keep:     keep,
			Progress: p.progressLogger(logger, started),
		},
		logger,
	)

	res, err := s.Run(ctx, dec, enc)
	if err != nil {
		enc.Abort()
		return nil, err
	}
	if res.Frames == 0 {
		enc.Abort()
		return nil, fmt.Errorf("%w: %s: video contains no readable frames", domain.ErrInvalidMedia, input.Name)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalise video: %w", err)
	}

	data, err := os.ReadFile(spec.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read encoded video: %w", err)
	}

	logger.Info("Video blur finished",
		slog.Int("frames", res.Frames),
		slog.Int("detections", res.Detections),
		slog.Int("detector_failures", res.DetectorFailures),
		slog.Duration("elapsed", p.now().Sub(started)))

	return &domain.Artifact{
		Filename:    filepath.Base(spec.OutputPath),
		ContentType: ContentTypeMP4,
		Data:        data,
	}, nil
}

func (p *Processor) detect(ctx context.Context, img image.Image, name string) ([]domain.BoundingBox, error) {
	boxes, err := p.detector.Detect(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metrics.DetectorCallsTotal.WithLabelValues("error").Inc()
		p.logger.Warn("Face detection failed, image passed through unblurred",
			slog.String("input", name),
			slog.String("error", err.Error()))
		return nil, nil
	}
	metrics.DetectorCallsTotal.WithLabelValues("ok").Inc()
	return boxes, nil
}

func (p *Processor) progressLogger(logger *slog.Logger, started time.Time) func(int) {
	next := started.Add(p.cfg.ProgressInterval)
	return func(done int) {
		now := p.now()
		if now.Before(next) {
			return
		}
		next = now.Add(p.cfg.ProgressInterval)
		elapsed := now.Sub(started).Seconds()
		logger.Info("Video blur progress",
			slog.Int("frames", done),
			slog.Float64("fps", float64(done)/max(elapsed, 0.001)))
	}
}

// toNRGBA copies a still into a zero-origin straight-alpha buffer. Straight
// alpha keeps translucent pixels outside the boxes byte-identical on re-encode.
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < b.Dy(); y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Pix[y*out.Stride:y*out.Stride+4*b.Dx()], src.Pix[off:off+4*b.Dx()])
		}
	case *image.Paletted:
		palette := make([]color.NRGBA, len(src.Palette))
		for i, c := range src.Palette {
			palette[i] = color.NRGBAModel.Convert(c).(color.NRGBA)
		}
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				out.SetNRGBA(x, y, palette[src.ColorIndexAt(b.Min.X+x, b.Min.Y+y)])
			}
		}
	default:
		// opaque sources round-trip exactly through the premultiplied path
		draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	}
	return out
}

// stem returns the base filename without extension, or fallback when empty
func stem(name, fallback string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	s := strings.TrimSuffix(base, filepath.Ext(base))
	if s == "" || s == "." || s == "/" {
		return fallback
	}
	return s
}
