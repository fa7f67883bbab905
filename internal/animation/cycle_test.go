package animation

import (
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zsiec/marquee/internal/glyph"
)

func seeded() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func TestCycleNeverTerminates(t *testing.T) {
	t.Parallel()

	r := newFakeRenderer()
	c, err := NewCycle(r, []string{"a", "bb", "ccc"}, seeded(), nil)
	if err != nil {
		t.Fatalf("NewCycle: %v", err)
	}

	// (5+8) + (10+8) + (15+8)
	if c.Len() != 54 {
		t.Fatalf("Len: got %d, want 54", c.Len())
	}

	steps := c.Len()*3 + 7
	for i := 0; i < steps; i++ {
		if f := c.Next(); f == nil {
			t.Fatalf("Next returned nil at step %d", i)
		}
	}
	if c.Wraps() != 3 {
		t.Errorf("Wraps: got %d, want 3", c.Wraps())
	}
}

func TestCyclePlaysPresetsInShuffledOrder(t *testing.T) {
	t.Parallel()

	r := newFakeRenderer()
	c, err := NewCycle(r, []string{"a", "bb", "ccc", "dddd"}, seeded(), nil)
	if err != nil {
		t.Fatalf("NewCycle: %v", err)
	}

	order := c.Presets()
	var played []byte
	for i := 0; i < c.Len(); i++ {
		f := c.Next()
		if len(played) == 0 || played[len(played)-1] != f.Pix[2] {
			played = append(played, f.Pix[2])
		}
	}
	if len(played) != len(order) {
		t.Fatalf("played %d presets, want %d", len(played), len(order))
	}
	for i, p := range order {
		if played[i] != p[0] {
			t.Errorf("preset %d: got %q, want %q", i, played[i], p[0])
		}
	}
}

func TestCycleSkipsPresetThatFailsMidScroll(t *testing.T) {
	t.Parallel()

	r := newFakeRenderer()
	r.failAt = map[string]int{"bb": 0}
	c, err := NewCycle(r, []string{"bb"}, seeded(), nil)
	if err != nil {
		t.Fatalf("NewCycle: %v", err)
	}

	// Offsets -8..-1 render, 0 fails, then the cycle restarts at -8.
	for i := 0; i < 8; i++ {
		c.Next()
	}
	f := c.Next()
	if got := int8(f.Pix[1]); got != -8 {
		t.Errorf("offset after failure: got %d, want -8", got)
	}
	if c.Wraps() != 1 {
		t.Errorf("Wraps: got %d, want 1", c.Wraps())
	}
}

func TestNewCycleErrors(t *testing.T) {
	t.Parallel()

	r := newFakeRenderer()
	if _, err := NewCycle(r, nil, seeded(), nil); !errors.Is(err, ErrDefaultAssetLoad) {
		t.Errorf("empty presets: got %v, want ErrDefaultAssetLoad", err)
	}

	_, err := NewCycle(r, []string{"ok", "no!bad"}, seeded(), nil)
	if !errors.Is(err, ErrDefaultAssetLoad) {
		t.Errorf("invalid preset: got %v, want ErrDefaultAssetLoad", err)
	}
	if !errors.Is(err, glyph.ErrInvalidText) {
		t.Errorf("invalid preset should also wrap ErrInvalidText: %v", err)
	}
}

func TestReadLines(t *testing.T) {
	t.Parallel()

	input := "hello\n\n\\x1B[31mred\\x1B[0m\r\n   \nback\\\\slash\n"
	lines, err := ReadLines(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	want := []string{"hello", "\x1b[31mred\x1b[0m", "back\\slash"}
	if len(lines) != len(want) {
		t.Fatalf("lines: got %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestReadLinesEmpty(t *testing.T) {
	t.Parallel()

	if _, err := ReadLines(strings.NewReader("\n  \n")); !errors.Is(err, ErrDefaultAssetLoad) {
		t.Errorf("got %v, want ErrDefaultAssetLoad", err)
	}
}

func TestLoadLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "default.lines")
	if err := os.WriteFile(path, []byte("one\ntwo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	lines, err := LoadLines(path)
	if err != nil {
		t.Fatalf("LoadLines: %v", err)
	}
	if len(lines) != 2 {
		t.Errorf("lines: got %d, want 2", len(lines))
	}

	if _, err := LoadLines(filepath.Join(dir, "missing")); !errors.Is(err, ErrDefaultAssetLoad) {
		t.Errorf("missing file: got %v, want ErrDefaultAssetLoad", err)
	}
}

func TestUnescape(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "plain", in: "plain", want: "plain"},
		{name: "hex", in: `\x1B[0m`, want: "\x1b[0m"},
		{name: "lower hex", in: `\x41`, want: "A"},
		{name: "e", in: `\e[1m`, want: "\x1b[1m"},
		{name: "unknown kept", in: `a\qb`, want: `a\qb`},
		{name: "trailing backslash", in: `a\`, want: `a\`},
		{name: "truncated hex", in: `\x1`, wantErr: true},
		{name: "bad hex", in: `\xZZ`, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Unescape(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Unescape(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if !tc.wantErr && got != tc.want {
				t.Errorf("Unescape(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
