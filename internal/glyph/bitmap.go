package glyph

import (
	"fmt"
	"image"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/zsiec/marquee/internal/media"
)

// minFaceSize bounds the search for a face that fits the display height.
const minFaceSize = 6

var monoFont *opentype.Font

func init() {
	f, err := opentype.Parse(gomono.TTF)
	if err != nil {
		panic(fmt.Sprintf("glyph: parse Go Mono: %v", err))
	}
	monoFont = f
}

// Bitmap renders text in Go Mono, one fixed-width cell per rune. The face
// covers Latin-1, Latin Extended, Greek and Cyrillic. Any rune outside it is
// invalid text.
type Bitmap struct {
	geometry media.Geometry
	advance  int
	ascent   int
	height   int

	// mu guards face, which caches rasterizer state between glyphs.
	mu   sync.Mutex
	face font.Face
}

// NewBitmap creates a Bitmap renderer producing frames of geometry g. The
// face is the largest whole pixel size whose line fits in g.Height.
func NewBitmap(g media.Geometry) *Bitmap {
	size := float64(g.Height)
	if size < minFaceSize {
		size = minFaceSize
	}
	for {
		b, err := newBitmapSize(g, size)
		if err != nil {
			panic(fmt.Sprintf("glyph: %v", err))
		}
		if b.height <= g.Height || size <= minFaceSize {
			return b
		}
		size--
	}
}

func newBitmapSize(g media.Geometry, size float64) (*Bitmap, error) {
	face, err := opentype.NewFace(monoFont, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("face at %.0fpx: %w", size, err)
	}
	adv, ok := face.GlyphAdvance('0')
	if !ok {
		return nil, fmt.Errorf("face at %.0fpx has no advance for '0'", size)
	}
	m := face.Metrics()
	return &Bitmap{
		geometry: g,
		advance:  adv.Ceil(),
		ascent:   m.Ascent.Ceil(),
		height:   m.Ascent.Ceil() + m.Descent.Ceil(),
		face:     face,
	}, nil
}

// Geometry returns the frame size produced by Render.
func (b *Bitmap) Geometry() media.Geometry {
	return b.geometry
}

// Bounds returns the pixel width of the printable characters in text and the
// height of the face.
func (b *Bitmap) Bounds(text string) (int, int, error) {
	cells, err := b.layout(text)
	if err != nil {
		return 0, 0, err
	}
	return len(cells) * b.advance, b.height, nil
}

// Render draws text with its left edge at x = -offset, vertically centred.
func (b *Bitmap) Render(text string, offset int) (*media.Frame, error) {
	cells, err := b.layout(text)
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, b.geometry.Width, b.geometry.Height))
	baseline := (b.geometry.Height-b.height)/2 + b.ascent

	b.mu.Lock()
	defer b.mu.Unlock()
	d := font.Drawer{Dst: img, Face: b.face}
	for i, c := range cells {
		x := i*b.advance - offset
		if x <= -b.advance || x >= b.geometry.Width {
			continue
		}
		d.Src = image.NewUniform(c.fg)
		d.Dot = fixed.P(x, baseline)
		d.DrawString(string(c.r))
	}
	return media.FromRGBA(b.geometry, img), nil
}

// layout parses escapes and checks that the face has a glyph for every
// printable rune.
func (b *Bitmap) layout(text string) ([]cell, error) {
	cells, err := parse(text)
	if err != nil {
		return nil, err
	}
	for _, c := range cells {
		if !b.hasGlyph(c.r) {
			return nil, fmt.Errorf("%w: no glyph for %q", ErrInvalidText, c.r)
		}
	}
	return cells, nil
}

// hasGlyph reports whether the font maps r to a real glyph. The face itself
// draws .notdef for missing runes, so coverage is checked against the cmap.
func (b *Bitmap) hasGlyph(r rune) bool {
	var buf sfnt.Buffer
	idx, err := monoFont.GlyphIndex(&buf, r)
	return err == nil && idx != 0
}
