// Package ffmpeg implements media.VideoCodec on top of the ffmpeg and ffprobe binaries.
// Frames travel as raw RGBA over pipes so no file is decoded in-process.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/face-blur/internal/media"
)

// Config locates the binaries and sets encoder quality
type Config struct {
	FFmpegPath   string
	FFprobePath  string
	Preset       string
	CRF          int
	AudioBitrate string
}

// Codec runs one ffmpeg process per decoder and per encoder
type Codec struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Codec {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.Preset == "" {
		cfg.Preset = "veryfast"
	}
	if cfg.CRF <= 0 {
		cfg.CRF = 23
	}
	if cfg.AudioBitrate == "" {
		cfg.AudioBitrate = "128k"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{cfg: cfg, logger: logger}
}

// Available reports whether both binaries resolve on this host
func (c *Codec) Available() error {
	if _, err := exec.LookPath(c.cfg.FFmpegPath); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	if _, err := exec.LookPath(c.cfg.FFprobePath); err != nil {
		return fmt.Errorf("ffprobe not found: %w", err)
	}
	return nil
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	Duration     string `json:"duration"`
}

// Probe implements media.VideoCodec
func (c *Codec) Probe(ctx context.Context, path string) (media.VideoInfo, error) {
	cmd := exec.CommandContext(ctx, c.cfg.FFprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	stderr := newTailBuffer(stderrTail)
	cmd.Stderr = stderr

	out, err := cmd.Output()
	if err != nil {
		return media.VideoInfo{}, fmt.Errorf("ffprobe failed: %w: %s", err, stderr.String())
	}
	return parseProbe(out)
}

func parseProbe(data []byte) (media.VideoInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return media.VideoInfo{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	var info media.VideoInfo
	var video *probeStream
	for i := range out.Streams {
		s := &out.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil {
				video = s
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if video == nil {
		return media.VideoInfo{}, fmt.Errorf("no video stream found")
	}

	info.Width = video.Width
	info.Height = video.Height
	info.FPS = parseRate(video.AvgFrameRate)
	if info.FPS <= 0 {
		info.FPS = parseRate(video.RFrameRate)
	}

	duration := video.Duration
	if duration == "" || duration == "N/A" {
		duration = out.Format.Duration
	}
	if secs, err := strconv.ParseFloat(duration, 64); err == nil && secs > 0 {
		info.Duration = time.Duration(secs * float64(time.Second))
	}
	return info, nil
}

// parseRate parses ffprobe rationals like "30000/1001"; invalid input yields 0
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
