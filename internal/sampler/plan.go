package sampler

import "math"

// SamplingPlan describes which processed frames run detection
type SamplingPlan struct {
	Frames int
	Stride int
}

// Plan builds the plan for frames processed frames with detection every stride frames.
// A stride below one is treated as one.
func Plan(frames, stride int) SamplingPlan {
	if stride < 1 {
		stride = 1
	}
	if frames < 0 {
		frames = 0
	}
	return SamplingPlan{Frames: frames, Stride: stride}
}

// IsDetection reports whether processed frame i runs detection
func (p SamplingPlan) IsDetection(i int) bool {
	return i >= 0 && i < p.Frames && i%p.Stride == 0
}

// Detections is the number of detection passes, ceil(Frames/Stride)
func (p SamplingPlan) Detections() int {
	return (p.Frames + p.Stride - 1) / p.Stride
}

// Indices lists the detection frame indices in increasing order
func (p SamplingPlan) Indices() []int {
	out := make([]int, 0, p.Detections())
	for i := 0; i < p.Frames; i += p.Stride {
		out = append(out, i)
	}
	return out
}

// Decimation returns k such that every k-th source frame is kept to stay
// at or under maxFPS. A non-positive maxFPS keeps every frame.
func Decimation(sourceFPS float64, maxFPS int) int {
	if maxFPS <= 0 || sourceFPS <= float64(maxFPS) {
		return 1
	}
	return max(1, int(math.Round(sourceFPS/float64(maxFPS))))
}
