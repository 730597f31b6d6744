package rimage

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"go.markscan.dev/markscan/vision/objectdetection"
)

var font *truetype.Font

// init sets up the fonts we want to use.
func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Font returns the font we use for drawing.
func Font() *truetype.Font {
	return font
}

var (
	// Red is the default box color.
	Red = color.NRGBA{R: 255, A: 255}
	// Green is used for center markers.
	Green = color.NRGBA{G: 255, A: 255}
)

// DrawString writes a string to the given context at a particular point.
func DrawString(dc *gg.Context, text string, p image.Point, c color.Color, size float64) {
	dc.SetFontFace(truetype.NewFace(Font(), &truetype.Options{Size: size}))
	dc.SetColor(c)
	dc.DrawStringWrapped(text, float64(p.X), float64(p.Y), 0, 0, float64(dc.Width()), 1, 0)
}

// DrawRectangleEmpty draws the outline of r into the context.
func DrawRectangleEmpty(dc *gg.Context, r image.Rectangle, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
	dc.Stroke()
}

// Overlay returns a copy of img with every box outlined and labelled and every point marked.
// img is not modified.
func Overlay(img image.Image, boxes []objectdetection.OverlayBox, points []objectdetection.OverlayPoint) image.Image {
	dc := gg.NewContextForImage(img)
	for _, b := range boxes {
		DrawRectangleEmpty(dc, b.Rect, Red, 2)
		DrawString(dc, fmt.Sprintf("%s: %.2f", b.Label, b.Confidence), b.Rect.Min.Add(image.Pt(2, 2)), Red, 14)
	}
	for _, p := range points {
		dc.SetColor(Green)
		dc.DrawCircle(float64(p.X), float64(p.Y), 4)
		dc.Fill()
	}
	return dc.Image()
}
