// Package render holds the sinks at the end of the detection loop.
package render

import (
	"context"
	"image"
	"sync"

	"github.com/pkg/errors"

	"go.markscan.dev/markscan/logging"
	"go.markscan.dev/markscan/pipeline"
	"go.markscan.dev/markscan/rimage"
)

// LogSink logs the status line whenever it changes.
type LogSink struct {
	logger logging.Logger

	mu   sync.Mutex
	last string
}

// NewLogSink returns a sink that logs to logger.
func NewLogSink(logger logging.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Render implements pipeline.Sink.
func (s *LogSink) Render(ctx context.Context, r pipeline.Result) {
	s.mu.Lock()
	changed := r.Status != s.last
	s.last = r.Status
	s.mu.Unlock()

	if changed {
		s.logger.Infow(r.Status, "cycle", r.Cycle, "detections", len(r.Detections), "latency", r.Latency)
		return
	}
	s.logger.Debugw(r.Status, "cycle", r.Cycle, "latency", r.Latency)
}

// ImageSink writes the most recent frame, annotated, to an image file.
type ImageSink struct {
	path   string
	logger logging.Logger

	mu      sync.Mutex
	written int
	err     error
}

// NewImageSink returns a sink that overwrites path after every cycle. The format follows the
// file extension.
func NewImageSink(path string, logger logging.Logger) *ImageSink {
	return &ImageSink{path: path, logger: logger}
}

// Render implements pipeline.Sink.
func (s *ImageSink) Render(ctx context.Context, r pipeline.Result) {
	if r.Frame == nil {
		return
	}
	err := rimage.SaveImage(Annotate(r), s.path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.err = err
		s.logger.Warnw("cannot write annotated frame", "path", s.path, "error", err)
		return
	}
	s.written++
}

// Written returns how many frames have been written and the last write error.
func (s *ImageSink) Written() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written, s.err
}

// Annotate draws the result's boxes and points over its frame. The boxes are in display space, so
// the frame is scaled to the display first when the two differ.
func Annotate(r pipeline.Result) image.Image {
	frame := r.Frame
	if frame == nil {
		return image.NewRGBA(image.Rect(0, 0, r.DisplayWidth, r.DisplayHeight))
	}
	if b := frame.Bounds(); b.Dx() != r.DisplayWidth || b.Dy() != r.DisplayHeight {
		frame = rimage.Fit(frame, r.DisplayWidth, r.DisplayHeight)
	}
	return rimage.Overlay(frame, r.Boxes, r.Points)
}

// errNoFrame is returned when a frame is requested before any cycle completed.
var errNoFrame = errors.New("no frame rendered yet")
