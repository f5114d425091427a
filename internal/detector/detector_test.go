package detector

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"testing"

	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaled_MapsBoxesBack(t *testing.T) {
	var seen image.Rectangle
	inner := Func(func(_ context.Context, img image.Image) ([]domain.BoundingBox, error) {
		seen = img.Bounds()
		return []domain.BoundingBox{{X: 10, Y: 5, Width: 20, Height: 20}}, nil
	})

	d := Scaled{Inner: inner, Scale: 0.5}
	boxes, err := d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 200, 100)))
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 100, 50), seen)
	require.Len(t, boxes, 1)
	assert.Equal(t, domain.BoundingBox{X: 20, Y: 10, Width: 40, Height: 40}, boxes[0])
}

func TestScaled_Passthrough(t *testing.T) {
	tests := []struct {
		name  string
		scale float64
	}{
		{name: "zero scale", scale: 0},
		{name: "unit scale", scale: 1},
		{name: "upscale ignored", scale: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen image.Rectangle
			inner := Func(func(_ context.Context, img image.Image) ([]domain.BoundingBox, error) {
				seen = img.Bounds()
				return nil, nil
			})

			_, err := Scaled{Inner: inner, Scale: tt.scale}.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 64, 48)))
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, 64, 48), seen)
		})
	}
}

func TestScaled_PropagatesError(t *testing.T) {
	boom := errors.New("model crashed")
	inner := Func(func(context.Context, image.Image) ([]domain.BoundingBox, error) {
		return nil, boom
	})

	_, err := Scaled{Inner: inner, Scale: 0.5}.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 10, 10)))
	assert.ErrorIs(t, err, boom)
}

func TestSquareBox(t *testing.T) {
	assert.Equal(t, domain.BoundingBox{X: 40, Y: 30, Width: 20, Height: 20}, squareBox(50, 40, 20, 0, image.Point{}))
	assert.Equal(t, domain.BoundingBox{X: 36, Y: 26, Width: 28, Height: 28}, squareBox(50, 40, 20, 0.2, image.Point{}))
}

func TestNewPigo_MissingCascade(t *testing.T) {
	_, err := NewPigo(PigoConfig{CascadePath: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read cascade file")
}
