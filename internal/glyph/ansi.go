package glyph

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
	"unicode/utf8"
)

const esc = '\x1b'

// defaultColor is used for text without colour escapes and after SGR 0/39.
var defaultColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// ansiPalette holds the 16 standard terminal colours (30-37, 90-97).
var ansiPalette = [16]color.RGBA{
	{0, 0, 0, 255},
	{205, 0, 0, 255},
	{0, 205, 0, 255},
	{205, 205, 0, 255},
	{0, 0, 238, 255},
	{205, 0, 205, 255},
	{0, 205, 205, 255},
	{229, 229, 229, 255},
	{127, 127, 127, 255},
	{255, 0, 0, 255},
	{0, 255, 0, 255},
	{255, 255, 0, 255},
	{92, 92, 255, 255},
	{255, 0, 255, 255},
	{0, 255, 255, 255},
	{255, 255, 255, 255},
}

// cell is one printable rune with the foreground colour in effect.
type cell struct {
	r  rune
	fg color.RGBA
}

// parse splits text into printable cells, interpreting SGR colour escapes
// (ESC [ ... m). Escapes take no horizontal space.
func parse(text string) ([]cell, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: not valid UTF-8", ErrInvalidText)
	}

	cells := make([]cell, 0, len(text))
	fg := defaultColor
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r != esc {
			if r < 0x20 || r == 0x7f {
				return nil, fmt.Errorf("%w: control character %U", ErrInvalidText, r)
			}
			cells = append(cells, cell{r: r, fg: fg})
			i += size
			continue
		}

		if i+1 >= len(text) || text[i+1] != '[' {
			return nil, fmt.Errorf("%w: unsupported escape sequence", ErrInvalidText)
		}
		end := strings.IndexByte(text[i+2:], 'm')
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated escape sequence", ErrInvalidText)
		}
		params := text[i+2 : i+2+end]
		next, err := applySGR(fg, params)
		if err != nil {
			return nil, err
		}
		fg = next
		i += 2 + end + 1
	}
	return cells, nil
}

// applySGR returns the foreground colour after applying one SGR parameter
// list. Background and attribute codes are accepted and ignored.
func applySGR(fg color.RGBA, params string) (color.RGBA, error) {
	if params == "" {
		return defaultColor, nil
	}
	fields := strings.Split(params, ";")
	codes := make([]int, len(fields))
	for i, f := range fields {
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return fg, fmt.Errorf("%w: bad SGR parameter %q", ErrInvalidText, f)
		}
		codes[i] = n
	}

	for i := 0; i < len(codes); i++ {
		c := codes[i]
		switch {
		case c == 0 || c == 39:
			fg = defaultColor
		case c >= 30 && c <= 37:
			fg = ansiPalette[c-30]
		case c >= 90 && c <= 97:
			fg = ansiPalette[c-90+8]
		case c == 38 || c == 48:
			// Extended colour: 38;5;n or 38;2;r;g;b. 48 is the background
			// equivalent and is consumed without effect.
			if i+1 >= len(codes) {
				return fg, fmt.Errorf("%w: truncated extended colour", ErrInvalidText)
			}
			var col color.RGBA
			switch codes[i+1] {
			case 5:
				if i+2 >= len(codes) || codes[i+2] > 255 {
					return fg, fmt.Errorf("%w: bad 256-colour index", ErrInvalidText)
				}
				col = xterm256(codes[i+2])
				i += 2
			case 2:
				if i+4 >= len(codes) || codes[i+2] > 255 || codes[i+3] > 255 || codes[i+4] > 255 {
					return fg, fmt.Errorf("%w: bad truecolour value", ErrInvalidText)
				}
				col = color.RGBA{R: uint8(codes[i+2]), G: uint8(codes[i+3]), B: uint8(codes[i+4]), A: 255}
				i += 4
			default:
				return fg, fmt.Errorf("%w: bad extended colour mode %d", ErrInvalidText, codes[i+1])
			}
			if c == 38 {
				fg = col
			}
		}
	}
	return fg, nil
}

// xterm256 maps an xterm 256-colour index to RGB.
func xterm256(n int) color.RGBA {
	switch {
	case n < 16:
		return ansiPalette[n]
	case n < 232:
		n -= 16
		level := func(v int) uint8 {
			if v == 0 {
				return 0
			}
			return uint8(55 + v*40)
		}
		return color.RGBA{R: level(n / 36), G: level(n / 6 % 6), B: level(n % 6), A: 255}
	default:
		v := uint8(8 + (n-232)*10)
		return color.RGBA{R: v, G: v, B: v, A: 255}
	}
}
