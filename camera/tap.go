package camera

import (
	"context"
	"image"

	"go.uber.org/atomic"

	"go.markscan.dev/markscan/logging"
	"go.markscan.dev/markscan/qrcode"
	"go.markscan.dev/markscan/rimage"
	"go.markscan.dev/markscan/utils"
)

// CodeScanner finds codes in a frame.
type CodeScanner interface {
	Scan(img image.Image) ([]qrcode.Code, error)
}

// CodeTap wraps a Source and feeds copies of its frames to a code scanner on a worker of its own.
// Frames that arrive while the scanner is busy are not scanned. The wrapped source's consumer is
// never blocked by scanning.
type CodeTap struct {
	Source
	scanner CodeScanner
	onCode  func(qrcode.Code)
	logger  logging.Logger

	// scanning is set while a frame is queued or being scanned; frames holds at most that one.
	scanning atomic.Bool
	frames   chan image.Image
	workers  utils.StoppableWorkers
}

// NewCodeTap starts scanning frames pulled through the returned source. onCode is called from the
// scanning worker once for every code found.
func NewCodeTap(src Source, scanner CodeScanner, onCode func(qrcode.Code), logger logging.Logger) *CodeTap {
	t := &CodeTap{
		Source:  src,
		scanner: scanner,
		onCode:  onCode,
		logger:  logger,
		frames:  make(chan image.Image, 1),
	}
	t.workers = utils.NewStoppableWorkers(t.scanLoop)
	return t
}

// Next pulls a frame from the wrapped source and offers a copy of it to the scanner.
func (t *CodeTap) Next(ctx context.Context) (image.Image, func(), error) {
	img, release, err := t.Source.Next(ctx)
	if err != nil {
		return nil, nil, err
	}
	if t.scanning.CompareAndSwap(false, true) {
		t.frames <- rimage.CopyImage(img)
	}
	return img, release, nil
}

func (t *CodeTap) scanLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case img := <-t.frames:
			t.scan(img)
			t.scanning.Store(false)
		}
	}
}

func (t *CodeTap) scan(img image.Image) {
	codes, err := t.scanner.Scan(img)
	if err != nil {
		t.logger.Debugw("qr scan failed", "error", err)
		return
	}
	for _, c := range codes {
		t.logger.Debugw("qr code", "data", c.Data)
		t.onCode(c)
	}
}

// Close stops the scanner and closes the wrapped source.
func (t *CodeTap) Close(ctx context.Context) error {
	t.workers.Stop()
	return t.Source.Close(ctx)
}
