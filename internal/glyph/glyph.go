// Package glyph rasterises text into display frames. The arbiter and the
// animation sources only see the Renderer interface; Bitmap is the bundled
// implementation backed by a fixed-width font.
package glyph

import (
	"errors"

	"github.com/zsiec/marquee/internal/media"
)

// ErrInvalidText is returned when text contains characters the renderer
// cannot draw or malformed escape sequences.
var ErrInvalidText = errors.New("glyph: invalid text")

// Renderer converts text into frames. Implementations must be safe for
// concurrent use: text ingestion calls Bounds while the arbiter renders.
type Renderer interface {
	// Bounds returns the rendered width and height of text in pixels.
	Bounds(text string) (width, height int, err error)

	// Render draws text shifted left by offset pixels into a frame of the
	// renderer's geometry. Negative offsets move the text to the right, so
	// offset -Geometry().Width places the text just past the right edge.
	Render(text string, offset int) (*media.Frame, error)

	// Geometry returns the size of the frames Render produces.
	Geometry() media.Geometry
}
