package sampler

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"testing"

	"github.com/cuongbtq/face-blur/internal/detector"
	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	frames []*domain.Frame
	pos    int
}

func (s *sliceSource) Next(context.Context) (*domain.Frame, error) {
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

type collectSink struct {
	frames []*domain.Frame
}

func (s *collectSink) Write(_ context.Context, f *domain.Frame) error {
	s.frames = append(s.frames, f)
	return nil
}

// newSource builds n frames whose source position is encoded in pixel (0,0)
func newSource(n int) *sliceSource {
	src := &sliceSource{}
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 32, 32))
		for y := 0; y < 32; y++ {
			for x := 0; x < 32; x++ {
				img.SetRGBA(x, y, color.RGBA{R: uint8((x * 8) ^ (y * 8)), G: uint8(y * 8), B: uint8(x * 8), A: 255})
			}
		}
		img.SetRGBA(31, 31, color.RGBA{R: uint8(i), A: 255})
		src.frames = append(src.frames, &domain.Frame{Index: i, Image: img})
	}
	return src
}

type recordingDetector struct {
	calls []int
	boxes func(call int) ([]domain.BoundingBox, error)
}

func (d *recordingDetector) Detect(_ context.Context, img image.Image) ([]domain.BoundingBox, error) {
	d.calls = append(d.calls, int(img.(*image.RGBA).RGBAAt(31, 31).R))
	if d.boxes == nil {
		return nil, nil
	}
	return d.boxes(len(d.calls) - 1)
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name       string
		frames     int
		stride     int
		wantCount  int
		wantIndice []int
	}{
		{name: "no frames", frames: 0, stride: 4, wantCount: 0, wantIndice: []int{}},
		{name: "exact multiple", frames: 8, stride: 4, wantCount: 2, wantIndice: []int{0, 4}},
		{name: "remainder", frames: 10, stride: 4, wantCount: 3, wantIndice: []int{0, 4, 8}},
		{name: "stride one", frames: 3, stride: 1, wantCount: 3, wantIndice: []int{0, 1, 2}},
		{name: "stride larger than frames", frames: 3, stride: 10, wantCount: 1, wantIndice: []int{0}},
		{name: "zero stride clamped", frames: 2, stride: 0, wantCount: 2, wantIndice: []int{0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Plan(tt.frames, tt.stride)
			assert.Equal(t, tt.wantCount, p.Detections())
			assert.Equal(t, tt.wantIndice, p.Indices())
			if tt.frames > 0 {
				last := p.Indices()[len(p.Indices())-1]
				assert.LessOrEqual(t, tt.frames-1-last, p.Stride-1)
			}
		})
	}
}

func TestPlan_IsDetection(t *testing.T) {
	p := Plan(10, 4)
	assert.True(t, p.IsDetection(0))
	assert.True(t, p.IsDetection(8))
	assert.False(t, p.IsDetection(3))
	assert.False(t, p.IsDetection(12))
	assert.False(t, p.IsDetection(-4))
}

func TestDecimation(t *testing.T) {
	tests := []struct {
		name   string
		fps    float64
		maxFPS int
		want   int
	}{
		{name: "under cap", fps: 15, maxFPS: 20, want: 1},
		{name: "at cap", fps: 20, maxFPS: 20, want: 1},
		{name: "30 to 20 rounds to 2", fps: 30, maxFPS: 20, want: 2},
		{name: "60 to 20", fps: 60, maxFPS: 20, want: 3},
		{name: "25 to 20 rounds to 1", fps: 25, maxFPS: 20, want: 1},
		{name: "no cap", fps: 120, maxFPS: 0, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decimation(tt.fps, tt.maxFPS))
		})
	}
}

func TestRun_StrideFourTenFrames(t *testing.T) {
	det := &recordingDetector{}
	s := New(det, Config{Stride: 4}, nil)
	sink := &collectSink{}

	res, err := s.Run(context.Background(), newSource(10), sink)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 4, 8}, det.calls)
	assert.Equal(t, Result{Frames: 10, Detections: 3}, res)
	require.Len(t, sink.frames, 10)
	for i, f := range sink.frames {
		assert.Equal(t, i, f.Index)
		assert.Equal(t, uint8(i), f.Image.RGBAAt(31, 31).R)
	}
}

func TestRun_NoFrames(t *testing.T) {
	det := &recordingDetector{}
	sink := &collectSink{}

	res, err := New(det, Config{Stride: 4}, nil).Run(context.Background(), newSource(0), sink)
	require.NoError(t, err)
	assert.Empty(t, det.calls)
	assert.Empty(t, sink.frames)
	assert.Equal(t, Result{}, res)
}

func TestRun_CarriesBoxesForward(t *testing.T) {
	box := domain.BoundingBox{X: 0, Y: 0, Width: 16, Height: 16}
	det := &recordingDetector{boxes: func(call int) ([]domain.BoundingBox, error) {
		if call == 0 {
			return []domain.BoundingBox{box}, nil
		}
		return nil, nil
	}}

	original := newSource(6)
	pristine := make([]*image.RGBA, len(original.frames))
	for i, f := range original.frames {
		cp := image.NewRGBA(f.Image.Bounds())
		copy(cp.Pix, f.Image.Pix)
		pristine[i] = cp
	}

	sink := &collectSink{}
	_, err := New(det, Config{Stride: 3}, nil).Run(context.Background(), original, sink)
	require.NoError(t, err)

	for i, f := range sink.frames {
		changed := f.Image.RGBAAt(1, 1) != pristine[i].RGBAAt(1, 1)
		if i < 3 {
			assert.True(t, changed, "frame %d should carry the first detection", i)
		} else {
			assert.False(t, changed, "frame %d should use the empty second detection", i)
		}
		assert.Equal(t, pristine[i].RGBAAt(20, 20), f.Image.RGBAAt(20, 20))
	}
}

func TestRun_DetectorFailureMeansNoFaces(t *testing.T) {
	det := &recordingDetector{boxes: func(int) ([]domain.BoundingBox, error) {
		return nil, errors.New("inference failed")
	}}
	sink := &collectSink{}

	res, err := New(det, Config{Stride: 2}, nil).Run(context.Background(), newSource(5), sink)
	require.NoError(t, err)
	assert.Equal(t, Result{Frames: 5, Detections: 3, DetectorFailures: 3}, res)
	assert.Len(t, sink.frames, 5)
}

func TestRun_Decimation(t *testing.T) {
	det := &recordingDetector{}
	sink := &collectSink{}

	res, err := New(det, Config{Stride: 2, Keep: 3}, nil).Run(context.Background(), newSource(10), sink)
	require.NoError(t, err)

	// source frames 0,3,6,9 are kept and renumbered 0..3
	require.Len(t, sink.frames, 4)
	for i, f := range sink.frames {
		assert.Equal(t, i, f.Index)
		assert.Equal(t, uint8(i*3), f.Image.RGBAAt(31, 31).R)
	}
	assert.Equal(t, []int{0, 6}, det.calls)
	assert.Equal(t, 4, res.Frames)
}

func TestRun_Progress(t *testing.T) {
	var seen []int
	s := New(detector.Func(func(context.Context, image.Image) ([]domain.BoundingBox, error) {
		return nil, nil
	}), Config{Stride: 4, Progress: func(done int) { seen = append(seen, done) }}, nil)

	_, err := s.Run(context.Background(), newSource(3), &collectSink{})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(&recordingDetector{}, Config{Stride: 1}, nil).Run(ctx, newSource(3), &collectSink{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_SourceError(t *testing.T) {
	boom := errors.New("decoder died")
	src := sourceFunc(func(context.Context) (*domain.Frame, error) { return nil, boom })

	_, err := New(&recordingDetector{}, Config{Stride: 1}, nil).Run(context.Background(), src, &collectSink{})
	assert.ErrorIs(t, err, boom)
}

type sourceFunc func(ctx context.Context) (*domain.Frame, error)

func (f sourceFunc) Next(ctx context.Context) (*domain.Frame, error) { return f(ctx) }
