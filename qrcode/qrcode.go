// Package qrcode finds and decodes QR codes in frames.
package qrcode

import (
	"image"
	"math"
	"sync"

	"github.com/makiuchi-d/gozxing"
	zxqr "github.com/makiuchi-d/gozxing/qrcode"
	"github.com/pkg/errors"
)

// Code is one decoded QR code and the points that located it in the frame.
type Code struct {
	Data    string
	Corners []image.Point
}

// Scanner decodes QR codes. It is safe for concurrent use.
type Scanner struct {
	mu     sync.Mutex
	reader gozxing.Reader
	hints  map[gozxing.DecodeHintType]interface{}
}

// NewScanner returns a scanner. tryHarder trades speed for accuracy on small or skewed codes.
func NewScanner(tryHarder bool) *Scanner {
	hints := map[gozxing.DecodeHintType]interface{}{}
	if tryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	return &Scanner{reader: zxqr.NewQRCodeReader(), hints: hints}
}

// Scan returns the codes found in img. A frame without a readable code is not an error.
func (s *Scanner) Scan(img image.Image) ([]Code, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, errors.Wrap(err, "cannot binarize frame")
	}

	s.mu.Lock()
	result, err := s.reader.Decode(bmp, s.hints)
	s.reader.Reset()
	s.mu.Unlock()

	if err != nil {
		var (
			notFound gozxing.NotFoundException
			checksum gozxing.ChecksumException
			format   gozxing.FormatException
		)
		if errors.As(err, &notFound) || errors.As(err, &checksum) || errors.As(err, &format) {
			return []Code{}, nil
		}
		return nil, errors.Wrap(err, "cannot decode qr code")
	}

	points := result.GetResultPoints()
	corners := make([]image.Point, 0, len(points))
	for _, p := range points {
		corners = append(corners, image.Pt(int(math.Round(p.GetX())), int(math.Round(p.GetY()))))
	}
	return []Code{{Data: result.GetText(), Corners: corners}}, nil
}
