package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/cuongbtq/face-blur/internal/media"
)

// CreateEncoder implements media.VideoCodec
func (c *Codec) CreateEncoder(ctx context.Context, spec media.EncoderSpec) (media.Encoder, error) {
	cmd := exec.CommandContext(ctx, c.cfg.FFmpegPath, c.encoderArgs(spec)...)
	stderr := newTailBuffer(stderrTail)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open encoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg encoder: %w", err)
	}

	return &encoder{
		cmd:    cmd,
		stdin:  stdin,
		stderr: stderr,
		spec:   spec,
	}, nil
}

func (c *Codec) encoderArgs(spec media.EncoderSpec) []string {
	args := []string{
		"-y",
		"-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", spec.Width, spec.Height),
		"-r", strconv.FormatFloat(spec.FPS, 'f', -1, 64),
		"-i", "-",
	}
	if spec.AudioSource != "" {
		args = append(args, "-i", spec.AudioSource)
	}

	args = append(args, "-map", "0:v:0")
	if spec.AudioSource != "" {
		args = append(args,
			"-map", "1:a:0?",
			"-c:a", "aac",
			"-b:a", c.cfg.AudioBitrate,
			"-shortest",
		)
	} else {
		args = append(args, "-an")
	}

	return append(args,
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-c:v", "libx264",
		"-preset", c.cfg.Preset,
		"-crf", strconv.Itoa(c.cfg.CRF),
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		spec.OutputPath,
	)
}

type encoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer
	spec   media.EncoderSpec
	done   bool
}

func (e *encoder) Write(_ context.Context, frame *domain.Frame) error {
	img := frame.Image
	b := img.Bounds()
	if b.Dx() != e.spec.Width || b.Dy() != e.spec.Height {
		return fmt.Errorf("frame %d is %dx%d, encoder expects %dx%d",
			frame.Index, b.Dx(), b.Dy(), e.spec.Width, e.spec.Height)
	}

	row := b.Dx() * 4
	if img.Stride == row {
		_, err := e.stdin.Write(img.Pix[:row*b.Dy()])
		return e.wrap(err)
	}
	for y := 0; y < b.Dy(); y++ {
		off := y * img.Stride
		if _, err := e.stdin.Write(img.Pix[off : off+row]); err != nil {
			return e.wrap(err)
		}
	}
	return nil
}

// Close flushes stdin and waits for ffmpeg to finish the container
func (e *encoder) Close() error {
	if e.done {
		return nil
	}
	e.done = true
	if err := e.stdin.Close(); err != nil {
		_ = e.cmd.Wait()
		return e.wrap(err)
	}
	if err := e.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg encoder failed: %w: %s", err, e.stderr.String())
	}
	return nil
}

// Abort kills the encoder and removes any partial output
func (e *encoder) Abort() {
	if e.done {
		return
	}
	e.done = true
	_ = e.stdin.Close()
	if e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
	_ = e.cmd.Wait()
	_ = os.Remove(e.spec.OutputPath)
}

func (e *encoder) wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to write to encoder: %w: %s", err, e.stderr.String())
}
