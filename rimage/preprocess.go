// Package rimage holds the image side of the pipeline: turning frames into model input tensors,
// drawing detections back onto frames, and reading and writing image files.
package rimage

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"go.markscan.dev/markscan/ml"
)

// SizeError is returned when a frame does not match the model input and resizing is disabled.
type SizeError struct {
	Want image.Point
	Got  image.Point
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("frame is %dx%d but the model expects %dx%d and resizing is disabled",
		e.Got.X, e.Got.Y, e.Want.X, e.Want.Y)
}

// Preprocessor turns frames into [1, H, W, 3] float32 tensors with values in [0, 1].
type Preprocessor struct {
	width, height int
	resize        bool
	pool          *ml.Pool
}

// NewPreprocessor returns a preprocessor for a model with the given input size. When resize is
// true, frames of any other size are bilinearly resized first.
func NewPreprocessor(pool *ml.Pool, width, height int, resize bool) (*Preprocessor, error) {
	if pool == nil {
		return nil, errors.New("preprocessor needs a buffer pool")
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("model input size must be positive, got %dx%d", width, height)
	}
	return &Preprocessor{width: width, height: height, resize: resize, pool: pool}, nil
}

// InputShape is the shape of every tensor the preprocessor produces.
func (p *Preprocessor) InputShape() []int {
	return []int{1, p.height, p.width, 3}
}

// Process converts img into a new buffer owned by the caller. The frame itself is not retained.
func (p *Preprocessor) Process(img image.Image) (*ml.Buffer, error) {
	if img == nil {
		return nil, errors.New("no frame to preprocess")
	}
	b := img.Bounds()
	if b.Dx() != p.width || b.Dy() != p.height {
		if !p.resize {
			return nil, &SizeError{Want: image.Pt(p.width, p.height), Got: b.Size()}
		}
		img = resize.Resize(uint(p.width), uint(p.height), img, resize.Bilinear)
		b = img.Bounds()
	}

	buf, err := p.pool.Get(p.InputShape()...)
	if err != nil {
		return nil, err
	}
	fill(buf.Data(), img, b)
	return buf, nil
}

func fill(out []float32, img image.Image, b image.Rectangle) {
	const scale = 1.0 / 255.0
	i := 0
	switch src := img.(type) {
	case *image.RGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):]
			for x := 0; x < b.Dx(); x++ {
				out[i] = float32(row[4*x]) * scale
				out[i+1] = float32(row[4*x+1]) * scale
				out[i+2] = float32(row[4*x+2]) * scale
				i += 3
			}
		}
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):]
			for x := 0; x < b.Dx(); x++ {
				out[i] = float32(row[4*x]) * scale
				out[i+1] = float32(row[4*x+1]) * scale
				out[i+2] = float32(row[4*x+2]) * scale
				i += 3
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, _ := img.At(x, y).RGBA()
				out[i] = float32(r>>8) * scale
				out[i+1] = float32(g>>8) * scale
				out[i+2] = float32(bl>>8) * scale
				i += 3
			}
		}
	}
}
