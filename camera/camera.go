// Package camera supplies frames to the detection pipeline through a pull interface.
package camera

import (
	"context"
	"image"

	"github.com/pkg/errors"
)

// ErrNoFrame is returned by Next when the source has nothing to hand out right now. Callers skip
// the cycle; it is not a failure.
var ErrNoFrame = errors.New("no frame available")

// A Source hands out frames on demand. The release function returned with each frame must be
// called once the caller is done with it; the frame must not be used afterwards.
type Source interface {
	Next(ctx context.Context) (image.Image, func(), error)
	Close(ctx context.Context) error
}

// Properties describes what a source produces.
type Properties struct {
	Width, Height int
}

// FromImage returns the properties of a frame.
func FromImage(img image.Image) Properties {
	return Properties{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}
}

type staticSource struct {
	img image.Image
}

// NewStaticSource returns a source that always hands out img.
func NewStaticSource(img image.Image) Source {
	return &staticSource{img: img}
}

func (s *staticSource) Next(ctx context.Context) (image.Image, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if s.img == nil {
		return nil, nil, ErrNoFrame
	}
	return s.img, func() {}, nil
}

func (s *staticSource) Close(ctx context.Context) error {
	return nil
}
