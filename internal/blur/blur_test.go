package blur

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// structuredFrame draws a checkerboard overlaid with gradients so every cell has variance
func structuredFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(40)
			if (x+y)%2 == 0 {
				v = 220
			}
			img.SetRGBA(x, y, color.RGBA{R: v, G: uint8(x * 255 / w), B: uint8(y * 255 / h), A: 255})
		}
	}
	return img
}

func clone(img *image.RGBA) *image.RGBA {
	c := image.NewRGBA(img.Bounds())
	copy(c.Pix, img.Pix)
	return c
}

func l2(a, b *image.RGBA, r image.Rectangle) float64 {
	var sum float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			pa := a.RGBAAt(x, y)
			pb := b.RGBAAt(x, y)
			dr := float64(pa.R) - float64(pb.R)
			dg := float64(pa.G) - float64(pb.G)
			db := float64(pa.B) - float64(pb.B)
			sum += dr*dr + dg*dg + db*db
		}
	}
	return math.Sqrt(sum)
}

func TestApply_OnlyTouchesBoxes(t *testing.T) {
	tests := []struct {
		name string
		box  domain.BoundingBox
	}{
		{name: "centered box", box: domain.BoundingBox{X: 30, Y: 30, Width: 40, Height: 40}},
		{name: "small box", box: domain.BoundingBox{X: 5, Y: 70, Width: 6, Height: 9}},
		{name: "wide box", box: domain.BoundingBox{X: 1, Y: 10, Width: 98, Height: 12}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := structuredFrame(100, 100)
			out := clone(orig)

			applied := Apply(out, []domain.BoundingBox{tt.box})
			require.Equal(t, 1, applied)

			inside := tt.box.Rect()
			for y := 0; y < 100; y++ {
				for x := 0; x < 100; x++ {
					if image.Pt(x, y).In(inside) {
						continue
					}
					require.Equal(t, orig.RGBAAt(x, y), out.RGBAAt(x, y), "pixel (%d,%d) outside box changed", x, y)
				}
			}
			assert.Greater(t, l2(orig, out, inside), 0.0)
		})
	}
}

func TestApplyNRGBA_MatchesRGBAKernel(t *testing.T) {
	rgba := structuredFrame(60, 60).SubImage(image.Rect(10, 10, 60, 60)).(*image.RGBA)
	nrgba := &image.NRGBA{Pix: append([]uint8(nil), rgba.Pix...), Stride: rgba.Stride, Rect: rgba.Rect}
	orig := append([]uint8(nil), nrgba.Pix...)
	boxes := []domain.BoundingBox{{X: 20, Y: 25, Width: 24, Height: 16}}

	require.Equal(t, 1, Apply(rgba, boxes))
	require.Equal(t, 1, ApplyNRGBA(nrgba, boxes))
	assert.Equal(t, rgba.Pix, nrgba.Pix, "both layouts share the kernel")

	before := &image.NRGBA{Pix: orig, Stride: nrgba.Stride, Rect: nrgba.Rect}
	inside := boxes[0].Rect()
	changed := 0
	for y := 10; y < 60; y++ {
		for x := 10; x < 60; x++ {
			if image.Pt(x, y).In(inside) {
				if before.NRGBAAt(x, y) != nrgba.NRGBAAt(x, y) {
					changed++
				}
				continue
			}
			require.Equal(t, before.NRGBAAt(x, y), nrgba.NRGBAAt(x, y), "pixel (%d,%d) outside box changed", x, y)
		}
	}
	assert.Positive(t, changed)
	assert.Zero(t, ApplyNRGBA(nil, boxes))
}

func TestApply_ClipsToBounds(t *testing.T) {
	orig := structuredFrame(50, 40)
	out := clone(orig)

	applied := Apply(out, []domain.BoundingBox{{X: 35, Y: -10, Width: 40, Height: 30}})
	require.Equal(t, 1, applied)

	clipped := image.Rect(35, 0, 50, 20)
	assert.Greater(t, l2(orig, out, clipped), 0.0)
	assert.Equal(t, orig.RGBAAt(10, 10), out.RGBAAt(10, 10))
	assert.Equal(t, orig.RGBAAt(40, 30), out.RGBAAt(40, 30))
}

func TestApply_OutsideFrameIsNoop(t *testing.T) {
	orig := structuredFrame(20, 20)
	out := clone(orig)

	applied := Apply(out, []domain.BoundingBox{
		{X: 100, Y: 100, Width: 10, Height: 10},
		{X: 5, Y: 5, Width: 0, Height: 10},
	})

	assert.Equal(t, 0, applied)
	assert.Equal(t, orig.Pix, out.Pix)
}

func TestApply_EmptyBoxSet(t *testing.T) {
	orig := structuredFrame(16, 16)
	out := clone(orig)

	assert.Equal(t, 0, Apply(out, nil))
	assert.Equal(t, orig.Pix, out.Pix)
	assert.Equal(t, 0, Apply(nil, []domain.BoundingBox{{Width: 1, Height: 1}}))
}

func TestApply_Idempotent(t *testing.T) {
	boxes := []domain.BoundingBox{
		{X: 10, Y: 10, Width: 33, Height: 27},
		{X: 60, Y: 55, Width: 31, Height: 40},
	}
	once := structuredFrame(100, 100)
	Apply(once, boxes)

	twice := clone(once)
	Apply(twice, boxes)

	assert.Equal(t, once.Pix, twice.Pix)
}

func TestCellSize(t *testing.T) {
	assert.Equal(t, MinCellSize, cellSize(1))
	assert.Equal(t, MinCellSize, cellSize(16))
	assert.Equal(t, 5, cellSize(40))
	assert.Equal(t, 13, cellSize(100))
}
