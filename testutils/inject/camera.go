// Package inject provides fakes whose behavior is set per test through function fields.
package inject

import (
	"context"
	"image"

	"go.markscan.dev/markscan/camera"
)

// Source is an injected frame source.
type Source struct {
	camera.Source
	NextFunc  func(ctx context.Context) (image.Image, func(), error)
	CloseFunc func(ctx context.Context) error
}

// Next calls the injected Next or the real version.
func (s *Source) Next(ctx context.Context) (image.Image, func(), error) {
	if s.NextFunc == nil {
		return s.Source.Next(ctx)
	}
	return s.NextFunc(ctx)
}

// Close calls the injected Close or the real version.
func (s *Source) Close(ctx context.Context) error {
	if s.CloseFunc == nil {
		if s.Source == nil {
			return nil
		}
		return s.Source.Close(ctx)
	}
	return s.CloseFunc(ctx)
}
