package rimage

import (
	"bytes"
	"image"
	"image/draw"
	"io"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// ReadImageFromFile decodes an image file, applying any EXIF orientation.
func ReadImageFromFile(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read image %q", path)
	}
	return img, nil
}

// SaveImage writes img to path; the format follows the file extension.
func SaveImage(img image.Image, path string) error {
	return errors.Wrapf(imaging.Save(img, path), "cannot save image %q", path)
}

// EncodeJPEG writes img as a JPEG with the given quality.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
}

// JPEGBytes encodes img as a JPEG in memory.
func JPEGBytes(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, img, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CopyImage returns an RGBA copy of img that does not share any memory with it, so it can
// outlive the frame it came from.
func CopyImage(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	return out
}

// Fit resizes img to exactly width x height.
func Fit(img image.Image, width, height int) image.Image {
	return imaging.Resize(img, width, height, imaging.Linear)
}
