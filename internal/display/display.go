// Package display delivers arbitrated frames to the physical sign and to
// local previews.
package display

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/zsiec/marquee/internal/media"
)

// Display receives frames in presentation order. SendFrame is fire-and-forget
// from the caller's point of view: an error is reported but the caller keeps
// producing frames.
type Display interface {
	SendFrame(frame *media.Frame) error
}

// Kind names a display backend in configuration.
type Kind string

// Supported display backends.
const (
	KindNone     Kind = "none"
	KindUDP      Kind = "udp"
	KindTerminal Kind = "terminal"
)

// ParseKind validates a backend name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindNone, KindUDP, KindTerminal:
		return k, nil
	default:
		return "", errors.New("display: unknown kind " + s)
	}
}

// ParseKinds parses a comma-separated list of backends such as
// "udp,terminal". Duplicates are dropped. "none" must appear alone.
func ParseKinds(s string) ([]Kind, error) {
	var kinds []Kind
	for _, part := range strings.Split(s, ",") {
		k, err := ParseKind(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		if !slices.Contains(kinds, k) {
			kinds = append(kinds, k)
		}
	}
	if len(kinds) > 1 && slices.Contains(kinds, KindNone) {
		return nil, fmt.Errorf("display: %q cannot be combined with other kinds", KindNone)
	}
	return kinds, nil
}

// Discard accepts and drops every frame.
type Discard struct{}

// SendFrame implements Display.
func (Discard) SendFrame(*media.Frame) error { return nil }

// Multi sends each frame to every display in order. One failing display does
// not stop delivery to the others; the errors are joined.
type Multi []Display

// SendFrame implements Display.
func (m Multi) SendFrame(frame *media.Frame) error {
	var errs []error
	for _, d := range m {
		if err := d.SendFrame(frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
