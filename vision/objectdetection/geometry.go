package objectdetection

import (
	"image"
	"math"
)

// Box is an axis-aligned rectangle given by its top-left (X1, Y1) and bottom-right (X2, Y2) corners.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// BoxFromCenter converts a center/size box into corner form.
func BoxFromCenter(xc, yc, w, h float64) Box {
	return Box{X1: xc - w/2, Y1: yc - h/2, X2: xc + w/2, Y2: yc + h/2}
}

// Width is the horizontal extent of the box, never negative.
func (b Box) Width() float64 {
	return math.Max(0, b.X2-b.X1)
}

// Height is the vertical extent of the box, never negative.
func (b Box) Height() float64 {
	return math.Max(0, b.Y2-b.Y1)
}

// Area of the box. Inverted or degenerate boxes have zero area.
func (b Box) Area() float64 {
	return b.Width() * b.Height()
}

// Center returns the midpoint of the box.
func (b Box) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Rescale maps the box from a fromW x fromH coordinate space into a toW x toH one.
func (b Box) Rescale(fromW, fromH, toW, toH int) Box {
	fw, fh, tw, th := float64(fromW), float64(fromH), float64(toW), float64(toH)
	return Box{X1: b.X1 / fw * tw, Y1: b.Y1 / fh * th, X2: b.X2 / fw * tw, Y2: b.Y2 / fh * th}
}

// Rect rounds the box outward to integer pixel coordinates.
func (b Box) Rect() image.Rectangle {
	return image.Rect(
		int(math.Floor(b.X1)), int(math.Floor(b.Y1)),
		int(math.Ceil(b.X2)), int(math.Ceil(b.Y2)),
	)
}

// IntersectionArea is the overlapping area of a and b. Negative overlap on either axis counts as zero.
func IntersectionArea(a, b Box) float64 {
	w := math.Min(a.X2, b.X2) - math.Max(a.X1, b.X1)
	h := math.Min(a.Y2, b.Y2) - math.Max(a.Y1, b.Y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// UnionArea is area(a) + area(b) - intersection(a, b).
func UnionArea(a, b Box) float64 {
	return a.Area() + b.Area() - IntersectionArea(a, b)
}

// IOU is the intersection over union of a and b, in [0, 1]. Two empty boxes have an IOU of 0.
func IOU(a, b Box) float64 {
	union := UnionArea(a, b)
	if union <= 0 {
		return 0
	}
	return IntersectionArea(a, b) / union
}
