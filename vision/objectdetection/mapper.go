package objectdetection

import (
	"image"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.markscan.dev/markscan/utils"
)

// OverlayPoint is a detection reduced to its center, in display pixels.
type OverlayPoint struct {
	X, Y       int
	Label      string
	Confidence float64
}

// OverlayBox is a detection's rectangle in display pixels.
type OverlayBox struct {
	Rect       image.Rectangle
	Label      string
	Confidence float64
}

// Mapper rescales detections from model input space into display space.
type Mapper struct {
	modelWidth, modelHeight int
}

// NewMapper returns a mapper for a model with the given input size.
func NewMapper(modelWidth, modelHeight int) (*Mapper, error) {
	if modelWidth <= 0 || modelHeight <= 0 {
		return nil, errors.Errorf("model input size must be positive, got %dx%d", modelWidth, modelHeight)
	}
	return &Mapper{modelWidth: modelWidth, modelHeight: modelHeight}, nil
}

// Points maps each detection's center to a display pixel, floored, keeping the input order.
func (m *Mapper) Points(dets []Detection, displayWidth, displayHeight int) []OverlayPoint {
	return lo.Map(dets, func(d Detection, _ int) OverlayPoint {
		cx, cy := d.Box.Center()
		return OverlayPoint{
			X:          utils.FloorDiv(cx, displayWidth, m.modelWidth),
			Y:          utils.FloorDiv(cy, displayHeight, m.modelHeight),
			Label:      d.Label,
			Confidence: d.Confidence,
		}
	})
}

// Boxes maps each detection's corners to display pixels, floored, keeping the input order.
func (m *Mapper) Boxes(dets []Detection, displayWidth, displayHeight int) []OverlayBox {
	return lo.Map(dets, func(d Detection, _ int) OverlayBox {
		return OverlayBox{
			Rect: image.Rect(
				utils.FloorDiv(d.Box.X1, displayWidth, m.modelWidth),
				utils.FloorDiv(d.Box.Y1, displayHeight, m.modelHeight),
				utils.FloorDiv(d.Box.X2, displayWidth, m.modelWidth),
				utils.FloorDiv(d.Box.Y2, displayHeight, m.modelHeight),
			),
			Label:      d.Label,
			Confidence: d.Confidence,
		}
	})
}
