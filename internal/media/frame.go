// Package media defines the frame type that flows from the sources through
// the arbiter to the display, along with the display geometry every frame
// must match.
package media

import (
	"errors"
	"fmt"
	"image"
)

// BytesPerPixel is the channel count of a Frame. Frames are always RGB;
// RGBA input has its alpha channel dropped.
const BytesPerPixel = 3

// Default display dimensions, matching a 40x16 panel.
const (
	DefaultWidth  = 40
	DefaultHeight = 16
)

// ErrGeometry is returned when a frame or geometry has invalid dimensions.
var ErrGeometry = errors.New("media: invalid geometry")

// Geometry is the fixed width and height of the display in pixels.
type Geometry struct {
	Width  int
	Height int
}

// DefaultGeometry returns the 40x16 default display geometry.
func DefaultGeometry() Geometry {
	return Geometry{Width: DefaultWidth, Height: DefaultHeight}
}

// Validate reports whether both dimensions are positive.
func (g Geometry) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrGeometry, g.Width, g.Height)
	}
	return nil
}

// Pixels returns the number of pixels on the display.
func (g Geometry) Pixels() int {
	return g.Width * g.Height
}

// FrameSize returns the size in bytes of one raw RGB frame.
func (g Geometry) FrameSize() int {
	return g.Pixels() * BytesPerPixel
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d", g.Width, g.Height)
}

// Frame is a single display frame: Width x Height RGB pixels stored row-major,
// three bytes per pixel. Once a Frame has been handed to another goroutine it
// must not be modified.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// NewFrame returns a black frame with the given geometry.
func NewFrame(g Geometry) *Frame {
	return &Frame{
		Width:  g.Width,
		Height: g.Height,
		Pix:    make([]byte, g.FrameSize()),
	}
}

// FromRaw copies raw row-major RGB bytes into a new Frame. The length of raw
// must equal g.FrameSize().
func FromRaw(g Geometry, raw []byte) (*Frame, error) {
	if len(raw) != g.FrameSize() {
		return nil, fmt.Errorf("%w: %d bytes for %s", ErrGeometry, len(raw), g)
	}
	f := &Frame{Width: g.Width, Height: g.Height, Pix: make([]byte, len(raw))}
	copy(f.Pix, raw)
	return f, nil
}

// FromRGBA converts an RGBA image into a Frame, dropping alpha. Pixels
// outside img's bounds are left black.
func FromRGBA(g Geometry, img *image.RGBA) *Frame {
	f := NewFrame(g)
	b := img.Bounds()
	for y := 0; y < g.Height && y < b.Dy(); y++ {
		for x := 0; x < g.Width && x < b.Dx(); x++ {
			src := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			dst := (y*g.Width + x) * BytesPerPixel
			copy(f.Pix[dst:dst+BytesPerPixel], img.Pix[src:src+BytesPerPixel])
		}
	}
	return f
}

// Geometry returns the dimensions of the frame.
func (f *Frame) Geometry() Geometry {
	return Geometry{Width: f.Width, Height: f.Height}
}

// At returns the RGB value of the pixel at (x, y).
func (f *Frame) At(x, y int) (r, g, b uint8) {
	i := (y*f.Width + x) * BytesPerPixel
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// Set stores an RGB value at (x, y). Only valid before the frame is handed off.
func (f *Frame) Set(x, y int, r, g, b uint8) {
	i := (y*f.Width + x) * BytesPerPixel
	f.Pix[i], f.Pix[i+1], f.Pix[i+2] = r, g, b
}
