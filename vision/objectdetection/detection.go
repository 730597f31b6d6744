// Package objectdetection turns the raw output of a grid detector into display-ready detections:
// decoding, non-max suppression, postprocessing filters and the mapping into display space.
package objectdetection

import (
	"fmt"
	"image"
	"strconv"
)

// Candidate is one anchor that passed the confidence threshold, before suppression.
type Candidate struct {
	Box        Box
	ClassIndex int
	Label      string
	Confidence float64
}

// Detection is a candidate that survived suppression. It shares Candidate's layout so the two
// convert into each other directly.
type Detection struct {
	Box        Box
	ClassIndex int
	Label      string
	Confidence float64
}

// NewDetection creates a simple detection. An empty label is replaced by the class index.
func NewDetection(box Box, classIndex int, label string, confidence float64) Detection {
	if label == "" {
		label = strconv.Itoa(classIndex)
	}
	return Detection{Box: box, ClassIndex: classIndex, Label: label, Confidence: confidence}
}

// BoundingBox returns the integer pixel rectangle of the detection.
func (d Detection) BoundingBox() *image.Rectangle {
	r := d.Box.Rect()
	return &r
}

// Score returns the confidence of the detection.
func (d Detection) Score() float64 {
	return d.Confidence
}

func (d Detection) String() string {
	return fmt.Sprintf("%s %.2f [%.1f %.1f %.1f %.1f]", d.Label, d.Confidence, d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
}

// ShapeError reports a raw output buffer whose shape does not match the configured anchor and
// class counts. It is a configuration error, never a per-frame condition.
type ShapeError struct {
	Expected []int
	Got      []int
	Len      int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("raw output shape %v (%d values) does not match expected %v", e.Got, e.Len, e.Expected)
}
