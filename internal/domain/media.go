package domain

import (
	"image"
	"time"
)

// BoundingBox is a detected face region in pixel coordinates of one frame
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect converts the box into an image.Rectangle
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Empty reports whether the box covers no pixels
func (b BoundingBox) Empty() bool {
	return b.Width <= 0 || b.Height <= 0
}

// Frame is one decoded video frame
type Frame struct {
	Index     int
	Image     *image.RGBA
	Timestamp time.Duration
}

// Artifact is the output produced for a task
type Artifact struct {
	TaskID      string
	Filename    string
	ContentType string
	Data        []byte
	WrittenAt   time.Time
}
