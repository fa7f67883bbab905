// Package animation turns text into scrolling frame sequences: Text scrolls a
// single string across the display once, and Cycle loops a shuffled set of
// preset strings forever as the fallback source.
package animation

import (
	"fmt"
	"io"

	"github.com/zsiec/marquee/internal/glyph"
	"github.com/zsiec/marquee/internal/media"
)

// Text scrolls one string from just past the right edge of the display until
// its last column leaves the left edge. A Text is consumed once; replaying
// the same string requires a new Text.
type Text struct {
	renderer glyph.Renderer
	text     string
	width    int
	display  int

	// next is the offset of the next frame; it runs from -display to width-1.
	next int
}

// NewText measures text once and returns its scroll animation. Unrenderable
// text yields an error wrapping glyph.ErrInvalidText.
func NewText(r glyph.Renderer, text string) (*Text, error) {
	width, _, err := r.Bounds(text)
	if err != nil {
		return nil, fmt.Errorf("measure %q: %w", text, err)
	}
	display := r.Geometry().Width
	return &Text{
		renderer: r,
		text:     text,
		width:    width,
		display:  display,
		next:     -display,
	}, nil
}

// Text returns the string being scrolled.
func (t *Text) Text() string { return t.text }

// Width returns the rendered width of the string in pixels.
func (t *Text) Width() int { return t.width }

// Len returns the total number of frames in the animation.
func (t *Text) Len() int { return t.width + t.display }

// Remaining returns the number of frames not yet produced.
func (t *Text) Remaining() int { return t.width - t.next }

// Next renders the next frame. It returns io.EOF once every offset has been
// produced, and keeps returning io.EOF afterwards.
func (t *Text) Next() (*media.Frame, error) {
	if t.next >= t.width {
		return nil, io.EOF
	}
	offset := t.next
	t.next++
	f, err := t.renderer.Render(t.text, offset)
	if err != nil {
		return nil, fmt.Errorf("render %q at offset %d: %w", t.text, offset, err)
	}
	return f, nil
}
