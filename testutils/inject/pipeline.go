package inject

import (
	"context"
	"image"

	"go.markscan.dev/markscan/camera"
	"go.markscan.dev/markscan/pipeline"
	"go.markscan.dev/markscan/qrcode"
)

// Sink is an injected rendering sink.
type Sink struct {
	pipeline.Sink
	RenderFunc func(ctx context.Context, r pipeline.Result)
}

// Render calls the injected Render or the real version.
func (s *Sink) Render(ctx context.Context, r pipeline.Result) {
	if s.RenderFunc == nil {
		s.Sink.Render(ctx, r)
		return
	}
	s.RenderFunc(ctx, r)
}

// CodeScanner is an injected QR scanner.
type CodeScanner struct {
	camera.CodeScanner
	ScanFunc func(img image.Image) ([]qrcode.Code, error)
}

// Scan calls the injected Scan or the real version.
func (s *CodeScanner) Scan(img image.Image) ([]qrcode.Code, error) {
	if s.ScanFunc == nil {
		return s.CodeScanner.Scan(img)
	}
	return s.ScanFunc(img)
}
