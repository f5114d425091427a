package ffmpeg

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/cuongbtq/face-blur/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{in: "30/1", want: 30},
		{in: "30000/1001", want: 29.97002997},
		{in: "25", want: 25},
		{in: "0/0", want: 0},
		{in: "", want: 0},
		{in: "abc/1", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.InDelta(t, tt.want, parseRate(tt.in), 1e-6)
		})
	}
}

func TestParseProbe(t *testing.T) {
	raw := []byte(`{
		"streams": [
			{"codec_type": "audio", "duration": "9.98"},
			{"codec_type": "video", "width": 1280, "height": 720, "avg_frame_rate": "0/0", "r_frame_rate": "30/1", "duration": "N/A"}
		],
		"format": {"duration": "10.5"}
	}`)

	info, err := parseProbe(raw)
	require.NoError(t, err)
	assert.Equal(t, 1280, info.Width)
	assert.Equal(t, 720, info.Height)
	assert.InDelta(t, 30.0, info.FPS, 1e-9)
	assert.Equal(t, 10500*time.Millisecond, info.Duration)
	assert.True(t, info.HasAudio)
}

func TestParseProbe_NoVideo(t *testing.T) {
	_, err := parseProbe([]byte(`{"streams":[{"codec_type":"audio"}],"format":{}}`))
	assert.Error(t, err)

	_, err = parseProbe([]byte(`not json`))
	assert.Error(t, err)
}

func TestFrameReader(t *testing.T) {
	const w, h = 3, 2
	frameBytes := w * h * 4

	stream := make([]byte, frameBytes*2+5)
	for i := range stream {
		stream[i] = byte(i)
	}

	fr := newFrameReader(bytes.NewReader(stream), media.VideoInfo{Width: w, Height: h, FPS: 10})

	first, err := fr.next()
	require.NoError(t, err)
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, time.Duration(0), first.Timestamp)
	assert.Equal(t, stream[:frameBytes], first.Image.Pix)

	second, err := fr.next()
	require.NoError(t, err)
	assert.Equal(t, 1, second.Index)
	assert.Equal(t, 100*time.Millisecond, second.Timestamp)

	_, err = fr.next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestFrameReader_CleanEOF(t *testing.T) {
	fr := newFrameReader(bytes.NewReader(nil), media.VideoInfo{Width: 2, Height: 2})
	_, err := fr.next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEncoderArgs(t *testing.T) {
	c := New(Config{}, nil)

	withAudio := c.encoderArgs(media.EncoderSpec{OutputPath: "/out.mp4", Width: 64, Height: 48, FPS: 15, AudioSource: "/in.mov"})
	assert.Contains(t, withAudio, "1:a:0?")
	assert.Contains(t, withAudio, "aac")
	assert.Equal(t, "/out.mp4", withAudio[len(withAudio)-1])
	assert.Subset(t, withAudio, []string{"-s", "64x48", "-r", "15", "libx264", "yuv420p"})

	silent := c.encoderArgs(media.EncoderSpec{OutputPath: "/out.mp4", Width: 64, Height: 48, FPS: 12.5})
	assert.Contains(t, silent, "-an")
	assert.NotContains(t, silent, "1:a:0?")
	assert.Contains(t, silent, "12.5")
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(5)
	_, _ = tb.Write([]byte("abc"))
	_, _ = tb.Write([]byte("defgh"))
	assert.Equal(t, "defgh", tb.String())
}

// TestRoundTrip encodes a short clip and decodes it again when ffmpeg is installed
func TestRoundTrip(t *testing.T) {
	c := New(Config{}, nil)
	if err := c.Available(); err != nil {
		t.Skipf("skipping: %v", err)
	}

	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "clip.mp4")
	enc, err := c.CreateEncoder(ctx, media.EncoderSpec{OutputPath: out, Width: 32, Height: 32, FPS: 10})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 32, 32))
		for p := 0; p < len(img.Pix); p += 4 {
			img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = uint8(i*40), 128, 64, 255
		}
		img.SetRGBA(0, 0, color.RGBA{A: 255})
		require.NoError(t, enc.Write(ctx, &domain.Frame{Index: i, Image: img}))
	}
	require.NoError(t, enc.Close())

	st, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, st.Size())

	info, err := c.Probe(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 32, info.Width)
	assert.False(t, info.HasAudio)

	dec, err := c.OpenDecoder(ctx, out, info)
	require.NoError(t, err)
	defer dec.Close()

	frames := 0
	for {
		_, err := dec.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		frames++
	}
	assert.InDelta(t, 5, frames, 1)
}
