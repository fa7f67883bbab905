package display

import (
	"time"

	"github.com/zsiec/marquee/internal/media"
)

// Paced forwards frames no faster than one per interval, blocking the caller
// for the remainder. It stands in for hardware whose writes block until the
// panel has latched the previous frame.
type Paced struct {
	next     Display
	interval time.Duration
	now      func() time.Time
	sleep    func(time.Duration)

	last time.Time
}

// NewPaced wraps next. A non-positive interval disables pacing.
func NewPaced(next Display, interval time.Duration) *Paced {
	return &Paced{
		next:     next,
		interval: interval,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// SendFrame implements Display. Paced is not safe for concurrent use.
func (p *Paced) SendFrame(frame *media.Frame) error {
	if p.interval > 0 && !p.last.IsZero() {
		if wait := p.interval - p.now().Sub(p.last); wait > 0 {
			p.sleep(wait)
		}
	}
	err := p.next.SendFrame(frame)
	p.last = p.now()
	return err
}
