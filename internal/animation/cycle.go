package animation

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/zsiec/marquee/internal/glyph"
	"github.com/zsiec/marquee/internal/media"
)

// ErrDefaultAssetLoad is returned when the default message list is missing,
// empty, or contains text the renderer rejects. Without it there is nothing
// to show, so callers treat it as fatal.
var ErrDefaultAssetLoad = errors.New("animation: default asset load failed")

// Cycle plays a fixed, shuffled list of preset strings forever. Each preset
// gets a fresh Text when its turn comes, so memory stays bounded by a single
// animation regardless of how long the cycle runs.
type Cycle struct {
	log      *slog.Logger
	renderer glyph.Renderer
	presets  []string
	total    int

	index   int
	current *Text
	wraps   int
}

// NewCycle validates every preset against the renderer, shuffles the order
// with rng, and returns a cycle positioned at the first frame. If rng is nil a
// randomly seeded source is used. If log is nil, slog.Default() is used.
func NewCycle(r glyph.Renderer, presets []string, rng *rand.Rand, log *slog.Logger) (*Cycle, error) {
	if log == nil {
		log = slog.Default()
	}
	if len(presets) == 0 {
		return nil, fmt.Errorf("%w: no default messages", ErrDefaultAssetLoad)
	}

	display := r.Geometry().Width
	total := 0
	shuffled := make([]string, len(presets))
	for i, p := range presets {
		width, _, err := r.Bounds(p)
		if err != nil {
			return nil, fmt.Errorf("%w: preset %d %q: %w", ErrDefaultAssetLoad, i+1, p, err)
		}
		total += width + display
		shuffled[i] = p
	}

	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	return &Cycle{
		log:      log.With("component", "default-cycle"),
		renderer: r,
		presets:  shuffled,
		total:    total,
		index:    -1,
	}, nil
}

// Presets returns the presets in playback order.
func (c *Cycle) Presets() []string {
	out := make([]string, len(c.presets))
	copy(out, c.presets)
	return out
}

// Len returns the number of frames in one full pass over all presets.
func (c *Cycle) Len() int { return c.total }

// Wraps returns how many times the cycle has started over from the first preset.
func (c *Cycle) Wraps() int { return c.wraps }

// Next returns the next frame of the cycle. It never runs out: when the last
// preset finishes the cycle restarts at the first one. A preset that fails to
// render mid-scroll is skipped.
func (c *Cycle) Next() *media.Frame {
	for attempts := 0; ; attempts++ {
		if c.current == nil {
			c.advance()
		}
		f, err := c.current.Next()
		if err == nil {
			return f
		}
		if !errors.Is(err, io.EOF) {
			c.log.Warn("skipping preset", "text", c.current.Text(), "error", err)
		}
		c.current = nil

		// Every preset failed in a row; show black rather than spin.
		if attempts > len(c.presets) {
			return media.NewFrame(c.renderer.Geometry())
		}
	}
}

func (c *Cycle) advance() {
	c.index++
	if c.index >= len(c.presets) {
		c.index = 0
		c.wraps++
		c.log.Debug("default cycle wrapped", "wraps", c.wraps)
	}
	t, err := NewText(c.renderer, c.presets[c.index])
	if err != nil {
		// Presets were validated at construction; a renderer that changes its
		// mind still must not stall the cycle.
		c.log.Warn("preset no longer renderable", "text", c.presets[c.index], "error", err)
		t = &Text{text: c.presets[c.index]}
	}
	c.current = t
}

// LoadLines reads the default message list: one message per line, blank
// lines skipped, escape sequences such as \x1B unescaped.
func LoadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDefaultAssetLoad, err)
	}
	defer f.Close()
	return ReadLines(f)
}

// ReadLines parses a default message list from r. See LoadLines.
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		text, err := Unescape(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrDefaultAssetLoad, n, err)
		}
		lines = append(lines, text)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDefaultAssetLoad, err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no default messages", ErrDefaultAssetLoad)
	}
	return lines, nil
}

// Unescape expands backslash escapes in s: \xHH, \e, \n, \t and \\.
// Any other backslash sequence is kept verbatim.
func Unescape(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case 'x', 'X':
			if i+4 > len(s) {
				return "", fmt.Errorf("truncated \\x escape at byte %d", i)
			}
			v, err := strconv.ParseUint(s[i+2:i+4], 16, 8)
			if err != nil {
				return "", fmt.Errorf("bad \\x escape at byte %d: %w", i, err)
			}
			b.WriteByte(byte(v))
			i += 3
		case 'e':
			b.WriteByte(0x1b)
			i++
		case 'n':
			b.WriteByte('\n')
			i++
		case 't':
			b.WriteByte('\t')
			i++
		case '\\':
			b.WriteByte('\\')
			i++
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String(), nil
}
