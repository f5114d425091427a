package detector

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/cuongbtq/face-blur/internal/domain"
	pigo "github.com/esimov/pigo/core"
)

// PigoConfig holds cascade classifier tuning
type PigoConfig struct {
	CascadePath    string
	MinSize        int
	MaxSize        int
	ShiftFactor    float64
	ScaleFactor    float64
	IoUThreshold   float64
	ScoreThreshold float32
	// Padding grows each square detection by this fraction of its side on every edge
	Padding float64
}

// Pigo detects frontal faces with a pixel-intensity-comparison cascade.
// The unpacked classifier is read-only and safe for concurrent use.
type Pigo struct {
	cfg        PigoConfig
	classifier *pigo.Pigo
}

// NewPigo loads the cascade file named in cfg
func NewPigo(cfg PigoConfig) (*Pigo, error) {
	data, err := os.ReadFile(cfg.CascadePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read cascade file: %w", err)
	}

	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack cascade: %w", err)
	}

	if cfg.MinSize <= 0 {
		cfg.MinSize = 20
	}
	if cfg.ShiftFactor <= 0 {
		cfg.ShiftFactor = 0.1
	}
	if cfg.ScaleFactor <= 1 {
		cfg.ScaleFactor = 1.1
	}
	if cfg.IoUThreshold <= 0 {
		cfg.IoUThreshold = 0.2
	}

	return &Pigo{cfg: cfg, classifier: classifier}, nil
}

// Detect implements Detector
func (p *Pigo) Detect(ctx context.Context, img image.Image) ([]domain.BoundingBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	cols, rows := bounds.Dx(), bounds.Dy()
	maxSize := p.cfg.MaxSize
	if maxSize <= 0 {
		maxSize = max(cols, rows)
	}

	params := pigo.CascadeParams{
		MinSize:     p.cfg.MinSize,
		MaxSize:     maxSize,
		ShiftFactor: p.cfg.ShiftFactor,
		ScaleFactor: p.cfg.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(img),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := p.classifier.RunCascade(params, 0.0)
	dets = p.classifier.ClusterDetections(dets, p.cfg.IoUThreshold)

	boxes := make([]domain.BoundingBox, 0, len(dets))
	for _, d := range dets {
		if d.Q < p.cfg.ScoreThreshold {
			continue
		}
		boxes = append(boxes, squareBox(d.Col, d.Row, d.Scale, p.cfg.Padding, bounds.Min))
	}
	return boxes, nil
}

// squareBox converts a centre/scale detection into a padded box
func squareBox(col, row, scale int, padding float64, origin image.Point) domain.BoundingBox {
	pad := int(float64(scale) * padding)
	side := scale + 2*pad
	return domain.BoundingBox{
		X:      origin.X + col - scale/2 - pad,
		Y:      origin.Y + row - scale/2 - pad,
		Width:  side,
		Height: side,
	}
}
