package animation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/zsiec/marquee/internal/glyph"
	"github.com/zsiec/marquee/internal/media"
)

// fakeRenderer gives every character a width of 5 pixels and encodes the
// text and offset into the frame's first bytes so tests can identify frames.
type fakeRenderer struct {
	geometry media.Geometry

	mu      sync.Mutex
	renders int
	failAt  map[string]int
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{geometry: media.Geometry{Width: 8, Height: 2}}
}

func (f *fakeRenderer) Geometry() media.Geometry { return f.geometry }

func (f *fakeRenderer) Bounds(text string) (int, int, error) {
	if strings.Contains(text, "!bad") {
		return 0, 0, fmt.Errorf("%w: test rejection", glyph.ErrInvalidText)
	}
	return len(text) * 5, f.geometry.Height, nil
}

func (f *fakeRenderer) Render(text string, offset int) (*media.Frame, error) {
	f.mu.Lock()
	f.renders++
	fail, ok := f.failAt[text]
	f.mu.Unlock()
	if ok && offset == fail {
		return nil, fmt.Errorf("%w: render failure", glyph.ErrInvalidText)
	}
	fr := media.NewFrame(f.geometry)
	fr.Pix[0] = byte(len(text))
	fr.Pix[1] = byte(int8(offset))
	fr.Pix[2] = text[0]
	return fr, nil
}
