package media

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuongbtq/face-blur/internal/detector"
	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pattern(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 5), B: uint8((x ^ y) * 3), A: 255})
		}
	}
	return img
}

func writeInput(t *testing.T, name string, encode func(io.Writer, image.Image) error) domain.InputRef {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, encode(&buf, pattern(40, 30)))
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return domain.InputRef{Name: name, Path: path, Size: int64(buf.Len())}
}

func encodePNG(w io.Writer, img image.Image) error { return png.Encode(w, img) }
func encodeJPEG(w io.Writer, img image.Image) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
}

var faceAtOrigin = detector.Func(func(context.Context, image.Image) ([]domain.BoundingBox, error) {
	return []domain.BoundingBox{{X: 0, Y: 0, Width: 16, Height: 16}}, nil
})

func TestProcessImages_SinglePNG(t *testing.T) {
	in := writeInput(t, "portrait.png", encodePNG)
	p := NewProcessor(faceAtOrigin, nil, Config{}, nil)

	art, err := p.ProcessImages(context.Background(), []domain.InputRef{in})
	require.NoError(t, err)

	assert.Equal(t, "portrait_blurred.png", art.Filename)
	assert.Equal(t, ContentTypePNG, art.ContentType)

	out, err := png.Decode(bytes.NewReader(art.Data))
	require.NoError(t, err)
	src := pattern(40, 30)
	assert.NotEqual(t, src.At(1, 1), out.At(1, 1))
	assert.Equal(t, color.RGBAModel.Convert(src.At(30, 20)), color.RGBAModel.Convert(out.At(30, 20)))
}

func TestProcessImages_JPEGStaysJPEG(t *testing.T) {
	in := writeInput(t, "photo.jpeg", encodeJPEG)
	p := NewProcessor(faceAtOrigin, nil, Config{}, nil)

	art, err := p.ProcessImages(context.Background(), []domain.InputRef{in})
	require.NoError(t, err)
	assert.Equal(t, "photo_blurred.jpg", art.Filename)
	assert.Equal(t, ContentTypeJPEG, art.ContentType)

	_, format, err := image.Decode(bytes.NewReader(art.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestProcessImages_ZipWithCollisions(t *testing.T) {
	first := writeInput(t, "team.png", encodePNG)
	second := writeInput(t, "team.png", encodePNG)
	third := writeInput(t, "crowd.jpg", encodeJPEG)

	p := NewProcessor(faceAtOrigin, nil, Config{}, nil)
	art, err := p.ProcessImages(context.Background(), []domain.InputRef{first, second, third})
	require.NoError(t, err)

	assert.Equal(t, ArchiveName, art.Filename)
	assert.Equal(t, ContentTypeZIP, art.ContentType)

	zr, err := zip.NewReader(bytes.NewReader(art.Data), int64(len(art.Data)))
	require.NoError(t, err)

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		assert.Equal(t, zip.Deflate, f.Method)
	}
	assert.Equal(t, []string{"team_blurred.png", "team_blurred_1.png", "crowd_blurred.jpg"}, names)
}

func TestProcessImages_InvalidInputFailsBeforeDetection(t *testing.T) {
	good := writeInput(t, "ok.png", encodePNG)
	badPath := filepath.Join(t.TempDir(), "broken.png")
	require.NoError(t, os.WriteFile(badPath, []byte("\x89PNG\r\n\x1a\nnot really"), 0o600))

	calls := 0
	det := detector.Func(func(context.Context, image.Image) ([]domain.BoundingBox, error) {
		calls++
		return nil, nil
	})

	p := NewProcessor(det, nil, Config{}, nil)
	_, err := p.ProcessImages(context.Background(), []domain.InputRef{good, {Name: "broken.png", Path: badPath}})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidMedia)
	assert.Contains(t, err.Error(), "broken.png")
	assert.Zero(t, calls)
}

func TestProcessImages_DetectorFailurePassesThrough(t *testing.T) {
	in := writeInput(t, "plain.png", encodePNG)
	det := detector.Func(func(context.Context, image.Image) ([]domain.BoundingBox, error) {
		return nil, errors.New("cascade exploded")
	})

	art, err := NewProcessor(det, nil, Config{}, nil).ProcessImages(context.Background(), []domain.InputRef{in})
	require.NoError(t, err)

	out, err := png.Decode(bytes.NewReader(art.Data))
	require.NoError(t, err)
	src := pattern(40, 30)
	assert.Equal(t, color.RGBAModel.Convert(src.At(1, 1)), color.RGBAModel.Convert(out.At(1, 1)))
}

func TestProcessImages_TranslucentPixelsOutsideBoxesUnchanged(t *testing.T) {
	translucent := image.NewNRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			translucent.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 6), G: uint8(y * 8), B: 200, A: uint8(1 + (x*y)%254)})
		}
	}

	paletted := image.NewPaletted(image.Rect(0, 0, 40, 30), color.Palette{
		color.NRGBA{R: 250, G: 10, B: 10, A: 3},
		color.NRGBA{R: 10, G: 250, B: 10, A: 128},
		color.NRGBA{R: 10, G: 10, B: 250, A: 255},
		color.NRGBA{},
	})
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			paletted.SetColorIndex(x, y, uint8((x+y)%4))
		}
	}

	tests := []struct {
		name string
		img  image.Image
	}{
		{name: "straight alpha", img: translucent},
		{name: "paletted with transparency", img: paletted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, png.Encode(&buf, tt.img))
			path := filepath.Join(t.TempDir(), "overlay.png")
			require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

			p := NewProcessor(faceAtOrigin, nil, Config{}, nil)
			art, err := p.ProcessImages(context.Background(), []domain.InputRef{{Name: "overlay.png", Path: path}})
			require.NoError(t, err)

			src, err := png.Decode(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			out, err := png.Decode(bytes.NewReader(art.Data))
			require.NoError(t, err)

			face := image.Rect(0, 0, 16, 16)
			for y := 0; y < 30; y++ {
				for x := 0; x < 40; x++ {
					if image.Pt(x, y).In(face) {
						continue
					}
					want := color.NRGBAModel.Convert(src.At(x, y))
					got := color.NRGBAModel.Convert(out.At(x, y))
					require.Equal(t, want, got, "pixel (%d,%d)", x, y)
				}
			}
		})
	}
}

func TestProcessImages_Empty(t *testing.T) {
	_, err := NewProcessor(faceAtOrigin, nil, Config{}, nil).ProcessImages(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidMedia)
}

func TestUniqueName(t *testing.T) {
	used := map[string]bool{}
	assert.Equal(t, "a.png", uniqueName("a.png", used))
	assert.Equal(t, "a_1.png", uniqueName("a.png", used))
	assert.Equal(t, "a_2.png", uniqueName("a.png", used))
	assert.Equal(t, "b", uniqueName("b", used))
	assert.Equal(t, "b_1", uniqueName("b", used))
}

func TestStem(t *testing.T) {
	assert.Equal(t, "clip", stem("clip.mov", "video"))
	assert.Equal(t, "clip", stem(`C:\uploads\clip.mov`, "video"))
	assert.Equal(t, "video", stem("", "video"))
	assert.Equal(t, "archive.tar", stem("archive.tar.gz", "x"))
}
