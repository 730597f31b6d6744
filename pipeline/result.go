package pipeline

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"go.markscan.dev/markscan/vision/objectdetection"
)

// Result is everything one completed cycle hands to the rendering boundary.
type Result struct {
	Cycle uint64
	// Frame is the frame the cycle ran on. It is only valid for the duration of Render; sinks that
	// need it later must copy it.
	Frame         image.Image
	DisplayWidth  int
	DisplayHeight int
	// Detections are in model input space, in suppression order.
	Detections []objectdetection.Detection
	Points     []objectdetection.OverlayPoint
	Boxes      []objectdetection.OverlayBox
	Status     string
	Latency    time.Duration
	Time       time.Time
}

// A Sink receives the result of every completed cycle. Render must not block for long; the next
// cycle does not start until every sink has returned.
type Sink interface {
	Render(ctx context.Context, r Result)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, r Result)

// Render calls f.
func (f SinkFunc) Render(ctx context.Context, r Result) {
	f(ctx, r)
}

// StatusString summarizes detections for display, e.g. "Prediction: mark 0.91, qr 0.80".
func StatusString(dets []objectdetection.Detection) string {
	if len(dets) == 0 {
		return "Prediction: none"
	}
	parts := make([]string, 0, len(dets))
	for _, d := range dets {
		parts = append(parts, fmt.Sprintf("%s %.2f", d.Label, d.Confidence))
	}
	return "Prediction: " + strings.Join(parts, ", ")
}
