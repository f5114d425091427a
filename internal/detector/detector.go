// Package detector provides the face detection capability used by the media processor.
package detector

import (
	"context"
	"image"

	"github.com/cuongbtq/face-blur/internal/domain"
	"golang.org/x/image/draw"
)

// Detector finds face regions in a single image
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]domain.BoundingBox, error)
}

// Func adapts a plain function to the Detector interface
type Func func(ctx context.Context, img image.Image) ([]domain.BoundingBox, error)

// Detect calls f(ctx, img)
func (f Func) Detect(ctx context.Context, img image.Image) ([]domain.BoundingBox, error) {
	return f(ctx, img)
}

// Scaled runs the inner detector on a downscaled copy and maps boxes back
// onto the original coordinates. Scale outside (0, 1) disables resizing.
type Scaled struct {
	Inner Detector
	Scale float64
}

// Detect implements Detector
func (s Scaled) Detect(ctx context.Context, img image.Image) ([]domain.BoundingBox, error) {
	if s.Scale <= 0 || s.Scale >= 1 {
		return s.Inner.Detect(ctx, img)
	}

	src := img.Bounds()
	w := max(1, int(float64(src.Dx())*s.Scale))
	h := max(1, int(float64(src.Dy())*s.Scale))

	small := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, src, draw.Src, nil)

	boxes, err := s.Inner.Detect(ctx, small)
	if err != nil {
		return nil, err
	}

	fx := float64(src.Dx()) / float64(w)
	fy := float64(src.Dy()) / float64(h)
	out := make([]domain.BoundingBox, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, domain.BoundingBox{
			X:      src.Min.X + int(float64(b.X)*fx),
			Y:      src.Min.Y + int(float64(b.Y)*fy),
			Width:  int(float64(b.Width)*fx + 0.5),
			Height: int(float64(b.Height)*fy + 0.5),
		})
	}
	return out, nil
}
