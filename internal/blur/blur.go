// Package blur obscures rectangular regions of a frame by pixelation.
package blur

import (
	"image"

	"github.com/cuongbtq/face-blur/internal/domain"
)

const (
	// CellsAcross is the number of mosaic cells along each side of a box.
	// Eight cells across a face leaves no recoverable features.
	CellsAcross = 8

	// MinCellSize keeps tiny boxes from degenerating into a per-pixel copy
	MinCellSize = 2
)

// Clip returns the part of box that lies inside bounds
func Clip(box domain.BoundingBox, bounds image.Rectangle) image.Rectangle {
	if box.Empty() {
		return image.Rectangle{}
	}
	return box.Rect().Intersect(bounds)
}

// Apply pixelates every box of img in place and returns how many boxes
// intersected the frame. Pixels outside the boxes are left untouched.
// Applying the same boxes twice yields the same buffer as applying them once.
func Apply(img *image.RGBA, boxes []domain.BoundingBox) int {
	if img == nil {
		return 0
	}
	return apply(buffer{pix: img.Pix, stride: img.Stride, rect: img.Rect}, boxes)
}

// ApplyNRGBA is Apply for non-premultiplied frames, such as stills with transparency
func ApplyNRGBA(img *image.NRGBA, boxes []domain.BoundingBox) int {
	if img == nil {
		return 0
	}
	return apply(buffer{pix: img.Pix, stride: img.Stride, rect: img.Rect}, boxes)
}

// buffer is the shared 4-bytes-per-pixel layout of RGBA and NRGBA
type buffer struct {
	pix    []uint8
	stride int
	rect   image.Rectangle
}

func (b buffer) offset(x, y int) int {
	return (y-b.rect.Min.Y)*b.stride + (x-b.rect.Min.X)*4
}

func apply(b buffer, boxes []domain.BoundingBox) int {
	applied := 0
	for _, box := range boxes {
		r := Clip(box, b.rect)
		if r.Empty() {
			continue
		}
		pixelate(b, r)
		applied++
	}
	return applied
}

func cellSize(side int) int {
	c := (side + CellsAcross - 1) / CellsAcross
	if c < MinCellSize {
		c = MinCellSize
	}
	return c
}

// pixelate fills a grid anchored at r.Min with per-cell mean colours
func pixelate(b buffer, r image.Rectangle) {
	cw := cellSize(r.Dx())
	ch := cellSize(r.Dy())

	for y0 := r.Min.Y; y0 < r.Max.Y; y0 += ch {
		y1 := min(y0+ch, r.Max.Y)
		for x0 := r.Min.X; x0 < r.Max.X; x0 += cw {
			x1 := min(x0+cw, r.Max.X)
			fillMean(b, image.Rect(x0, y0, x1, y1))
		}
	}
}

func fillMean(b buffer, cell image.Rectangle) {
	var sum [4]uint64
	width := 4 * cell.Dx()
	n := uint64(cell.Dx() * cell.Dy())

	for y := cell.Min.Y; y < cell.Max.Y; y++ {
		off := b.offset(cell.Min.X, y)
		row := b.pix[off : off+width]
		for i := 0; i < len(row); i += 4 {
			sum[0] += uint64(row[i])
			sum[1] += uint64(row[i+1])
			sum[2] += uint64(row[i+2])
			sum[3] += uint64(row[i+3])
		}
	}

	var mean [4]uint8
	for c := range sum {
		// rounded so a uniform cell maps onto itself
		mean[c] = uint8((sum[c] + n/2) / n)
	}

	for y := cell.Min.Y; y < cell.Max.Y; y++ {
		off := b.offset(cell.Min.X, y)
		row := b.pix[off : off+width]
		for i := 0; i < len(row); i += 4 {
			row[i] = mean[0]
			row[i+1] = mean[1]
			row[i+2] = mean[2]
			row[i+3] = mean[3]
		}
	}
}
