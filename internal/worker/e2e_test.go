package worker

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/cuongbtq/face-blur/internal/detector"
	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/cuongbtq/face-blur/internal/media"
	"github.com/cuongbtq/face-blur/internal/pipeline"
	"github.com/cuongbtq/face-blur/internal/staging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var knownFace = domain.BoundingBox{X: 30, Y: 30, Width: 40, Height: 40}

func structuredPNG(t *testing.T) (*image.RGBA, []byte) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 5), G: uint8(y * 3), B: uint8((x * y) % 251), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return img, buf.Bytes()
}

func newMediaWorker(f *fixture) *Worker {
	det := detector.Func(func(context.Context, image.Image) ([]domain.BoundingBox, error) {
		return []domain.BoundingBox{knownFace}, nil
	})
	return NewWorker(&Config{
		Broker:            f.broker,
		Pipeline:          f.pipeline,
		Media:             media.NewProcessor(det, nil, media.Config{}, nil),
		WorkerID:          "worker-1",
		JobTimeout:        5 * time.Second,
		HeartbeatInterval: time.Second,
	})
}

func TestEndToEnd_SingleImageBlursOnlyTheFace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Minute)
	w := newMediaWorker(f)

	original, data := structuredPNG(t)
	task, err := f.pipeline.Submit(ctx, pipeline.SubmitRequest{
		Kind:    domain.TaskKindImageBatch,
		Uploads: []staging.Upload{{Name: "portrait.png", Data: data}},
	})
	require.NoError(t, err)
	require.NoError(t, w.processJob(ctx, domain.TaskMessage{TaskID: task.ID}))

	a, err := f.pipeline.Fetch(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, media.ContentTypePNG, a.ContentType)

	decoded, err := png.Decode(bytes.NewReader(a.Data))
	require.NoError(t, err)
	require.Equal(t, original.Bounds(), decoded.Bounds())

	face := knownFace.Rect()
	changed := 0
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			want := original.RGBAAt(x, y)
			r, g, b, al := decoded.At(x, y).RGBA()
			got := color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(al >> 8)}
			if image.Pt(x, y).In(face) {
				if got != want {
					changed++
				}
				continue
			}
			require.Equal(t, want, got, "pixel (%d,%d) outside the face changed", x, y)
		}
	}
	assert.Positive(t, changed)
}

func TestEndToEnd_CorruptImageFailsBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Minute)
	w := newMediaWorker(f)

	_, data := structuredPNG(t)
	task, err := f.pipeline.Submit(ctx, pipeline.SubmitRequest{
		Kind: domain.TaskKindImageBatch,
		Uploads: []staging.Upload{
			{Name: "a.png", Data: data},
			{Name: "b.png", Data: []byte("\x89PNG\r\n\x1a\ntruncated")},
			{Name: "c.png", Data: data},
		},
	})
	require.NoError(t, err)
	require.NoError(t, w.processJob(ctx, domain.TaskMessage{TaskID: task.ID}))

	_, err = f.pipeline.Fetch(ctx, task.ID)
	var terr *domain.TaskError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, domain.CodeInvalidMedia, terr.Code)

	has, err := f.pipeline.HasArtifact(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, has)
}
