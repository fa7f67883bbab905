package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/zsiec/marquee/internal/media"
)

// upperHalf draws the top pixel of a cell in the foreground colour and the
// bottom pixel in the background colour, so each text row shows two pixel
// rows.
const upperHalf = "▀"

// maxStyles bounds the style cache; live frames can carry any colour.
const maxStyles = 4096

// Terminal draws each frame at the top-left corner of a terminal.
type Terminal struct {
	out      *termenv.Output
	renderer *lipgloss.Renderer

	mu     sync.Mutex
	styles map[[6]byte]lipgloss.Style
}

// NewTerminal draws to w with the given colour profile. Use Profile to pick
// one for a file.
func NewTerminal(w io.Writer, profile termenv.Profile) *Terminal {
	r := lipgloss.NewRenderer(w, termenv.WithProfile(profile))
	r.SetColorProfile(profile)
	return &Terminal{
		out:      termenv.NewOutput(w, termenv.WithProfile(profile)),
		renderer: r,
		styles:   make(map[[6]byte]lipgloss.Style),
	}
}

// Profile returns the colour profile for f, or termenv.Ascii when f is not a
// terminal.
func Profile(f *os.File) termenv.Profile {
	if !IsTerminal(f) {
		return termenv.Ascii
	}
	return termenv.NewOutput(f).EnvColorProfile()
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Clear wipes the screen and hides the cursor before the first frame.
func (t *Terminal) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.out.ClearScreen()
	t.out.HideCursor()
}

// Restore shows the cursor again.
func (t *Terminal) Restore() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.out.ShowCursor()
	t.out.Reset()
}

// SendFrame implements Display.
func (t *Terminal) SendFrame(frame *media.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.out.MoveCursor(1, 1)
	if _, err := io.WriteString(t.out, t.render(frame)); err != nil {
		return fmt.Errorf("display: terminal write: %w", err)
	}
	return nil
}

func (t *Terminal) render(frame *media.Frame) string {
	var b strings.Builder
	for y := 0; y < frame.Height; y += 2 {
		for x := 0; x < frame.Width; x++ {
			var key [6]byte
			key[0], key[1], key[2] = frame.At(x, y)
			if y+1 < frame.Height {
				key[3], key[4], key[5] = frame.At(x, y+1)
			}
			b.WriteString(t.style(key).Render(upperHalf))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (t *Terminal) style(key [6]byte) lipgloss.Style {
	if s, ok := t.styles[key]; ok {
		return s
	}
	s := t.renderer.NewStyle().
		Foreground(lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", key[0], key[1], key[2]))).
		Background(lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", key[3], key[4], key[5])))
	if len(t.styles) >= maxStyles {
		clear(t.styles)
	}
	t.styles[key] = s
	return s
}
