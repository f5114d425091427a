// Package media turns uploaded images and videos into blurred artifacts.
package media

import (
	"context"
	"time"

	"github.com/cuongbtq/face-blur/internal/sampler"
)

const (
	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
	ContentTypeZIP  = "application/zip"
	ContentTypeMP4  = "video/mp4"

	// ArchiveName is the artifact filename for multi-image batches
	ArchiveName = "blurred_images.zip"

	// defaultFPS is assumed when the container does not report a frame rate
	defaultFPS = 24.0
)

// VideoInfo describes a probed video stream
type VideoInfo struct {
	Width    int
	Height   int
	FPS      float64
	Duration time.Duration
	HasAudio bool
}

// EncoderSpec configures an output video
type EncoderSpec struct {
	OutputPath string
	Width      int
	Height     int
	FPS        float64
	// AudioSource, when set, is muxed as the output's audio track
	AudioSource string
}

// Decoder streams decoded frames from a video file
type Decoder interface {
	sampler.FrameSource
	Close() error
}

// Encoder writes frames into a video file. Close finalises the file and
// reports encoding failure; Abort discards a partial output.
type Encoder interface {
	sampler.FrameSink
	Close() error
	Abort()
}

// VideoCodec is the boundary to the external video toolchain
type VideoCodec interface {
	Probe(ctx context.Context, path string) (VideoInfo, error)
	OpenDecoder(ctx context.Context, path string, info VideoInfo) (Decoder, error)
	CreateEncoder(ctx context.Context, spec EncoderSpec) (Encoder, error)
}
