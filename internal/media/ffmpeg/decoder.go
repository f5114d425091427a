package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"time"

	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/cuongbtq/face-blur/internal/media"
)

// OpenDecoder implements media.VideoCodec
func (c *Codec) OpenDecoder(ctx context.Context, path string, info media.VideoInfo) (media.Decoder, error) {
	cmd := exec.CommandContext(ctx, c.cfg.FFmpegPath, decoderArgs(path)...)
	stderr := newTailBuffer(stderrTail)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open decoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg decoder: %w", err)
	}

	return &decoder{
		cmd:    cmd,
		stderr: stderr,
		frames: newFrameReader(stdout, info),
	}, nil
}

func decoderArgs(path string) []string {
	return []string{
		"-nostdin",
		"-v", "error",
		"-i", path,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-",
	}
}

type decoder struct {
	cmd    *exec.Cmd
	stderr *tailBuffer
	frames *frameReader
	done   bool
}

func (d *decoder) Next(ctx context.Context) (*domain.Frame, error) {
	if d.done {
		return nil, io.EOF
	}
	frame, err := d.frames.next()
	if errors.Is(err, io.EOF) {
		d.done = true
		if waitErr := d.cmd.Wait(); waitErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("ffmpeg decoder failed: %w: %s", waitErr, d.stderr.String())
		}
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read frame: %w: %s", err, d.stderr.String())
	}
	return frame, nil
}

// Close stops the decoder if it has not run to completion
func (d *decoder) Close() error {
	if d.done {
		return nil
	}
	d.done = true
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	_ = d.cmd.Wait()
	return nil
}

// frameReader slices a raw rgba byte stream into frames
type frameReader struct {
	r     io.Reader
	w, h  int
	fps   float64
	index int
}

func newFrameReader(r io.Reader, info media.VideoInfo) *frameReader {
	return &frameReader{r: r, w: info.Width, h: info.Height, fps: info.FPS}
}

func (fr *frameReader) next() (*domain.Frame, error) {
	img := image.NewRGBA(image.Rect(0, 0, fr.w, fr.h))
	if _, err := io.ReadFull(fr.r, img.Pix); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated frame %d: %w", fr.index, err)
		}
		return nil, err
	}

	frame := &domain.Frame{Index: fr.index, Image: img}
	if fr.fps > 0 {
		frame.Timestamp = time.Duration(float64(fr.index) / fr.fps * float64(time.Second))
	}
	fr.index++
	return frame, nil
}
