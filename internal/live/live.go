// Package live receives raw frames pushed over UDP by a single sender and
// hands the newest one to the arbiter. One sender owns the stream at a time;
// another sender can take over only after the owner has been silent for the
// configured timeout.
package live

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/marquee/internal/media"
	"github.com/zsiec/marquee/internal/netutil"
)

// DefaultTimeout is how long a sender keeps ownership of the stream after its
// last accepted frame, and how long the arbiter waits for the next frame
// before falling back to other sources.
const DefaultTimeout = 3 * time.Second

// checksumSize is the length of the optional big-endian CRC32 trailer.
const checksumSize = 4

var (
	// ErrInvalidFrameSize is returned for datagrams that are neither a raw
	// frame nor a raw frame plus checksum trailer.
	ErrInvalidFrameSize = errors.New("live: invalid frame size")

	// ErrChecksumMismatch is returned when the CRC32 trailer does not match
	// the payload.
	ErrChecksumMismatch = errors.New("live: checksum mismatch")
)

// Stats is a snapshot of the live source, exposed via the status API.
type Stats struct {
	Sender         string    `json:"sender,omitempty"`
	LastAcceptedAt time.Time `json:"lastAcceptedAt,omitzero"`
	Live           bool      `json:"live"`
	Pending        bool      `json:"pending"`
	Accepted       int64     `json:"accepted"`
	Invalid        int64     `json:"invalid"`
	Discarded      int64     `json:"discarded"`
	Overwritten    int64     `json:"overwritten"`
	// Takeovers counts changes of owning sender, not its first adoption.
	Takeovers      int64     `json:"takeovers"`
}

// Source validates incoming datagrams, tracks which sender currently owns the
// stream, and keeps the newest decoded frame in a single-slot mailbox.
//
// HandleDatagram is called from a single receive goroutine. Pending and Take
// are called by the arbiter. Stats may be called from anywhere.
type Source struct {
	log      *slog.Logger
	geometry media.Geometry
	timeout  time.Duration
	now      func() time.Time

	mu             sync.Mutex
	frame          *media.Frame
	current        netip.Addr
	lastAcceptedAt time.Time

	// ready carries at most one wake-up token for a blocked Take.
	ready chan struct{}

	accepted    atomic.Int64
	invalid     atomic.Int64
	discarded   atomic.Int64
	overwritten atomic.Int64
	takeovers   atomic.Int64
}

// New creates a Source for frames of geometry g. A non-positive timeout
// selects DefaultTimeout. If log is nil, slog.Default() is used.
func New(g media.Geometry, timeout time.Duration, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Source{
		log:      log.With("component", "live"),
		geometry: g,
		timeout:  timeout,
		now:      time.Now,
		ready:    make(chan struct{}, 1),
	}
}

// Timeout returns the sender ownership and frame wait timeout.
func (s *Source) Timeout() time.Duration {
	return s.timeout
}

// HandleDatagram processes one datagram from sender from. Datagrams from a
// sender that does not own the stream are dropped and nil is returned. Size
// and checksum failures return ErrInvalidFrameSize or ErrChecksumMismatch and
// leave the ownership timestamp untouched.
func (s *Source) HandleDatagram(data []byte, from netip.Addr) error {
	t := s.now()
	from = from.Unmap()

	s.mu.Lock()
	if t.Sub(s.lastAcceptedAt) > s.timeout {
		previous := s.current
		s.current = from
		s.mu.Unlock()
		if previous.IsValid() && previous != from {
			s.takeovers.Add(1)
		}
		s.log.Info("accepting live frames", "sender", from, "previous", addrString(previous))
	} else {
		current := s.current
		s.mu.Unlock()
		if from != current {
			s.discarded.Add(1)
			return nil
		}
	}

	payload, err := s.validate(data)
	if err != nil {
		s.invalid.Add(1)
		return err
	}

	frame, err := media.FromRaw(s.geometry, payload)
	if err != nil {
		s.invalid.Add(1)
		return fmt.Errorf("%w: %w", ErrInvalidFrameSize, err)
	}

	s.mu.Lock()
	s.lastAcceptedAt = t
	if s.frame != nil {
		s.overwritten.Add(1)
	}
	s.frame = frame
	s.mu.Unlock()

	s.accepted.Add(1)
	select {
	case s.ready <- struct{}{}:
	default:
	}
	return nil
}

// validate checks the datagram length and optional CRC32 trailer and returns
// the raw frame payload.
//
// A trailer of exactly zero disables verification. Senders without CRC
// support rely on this, at the cost of not detecting corruption in the rare
// payload whose real CRC32 is zero.
func (s *Source) validate(data []byte) ([]byte, error) {
	size := s.geometry.FrameSize()
	switch len(data) {
	case size:
		return data, nil
	case size + checksumSize:
		payload := data[:size]
		want := binary.BigEndian.Uint32(data[size:])
		if want == 0 {
			return payload, nil
		}
		if got := crc32.ChecksumIEEE(payload); got != want {
			return nil, fmt.Errorf("%w: trailer %08x, computed %08x", ErrChecksumMismatch, want, got)
		}
		return payload, nil
	default:
		return nil, fmt.Errorf("%w: got %d bytes, want %d or %d", ErrInvalidFrameSize, len(data), size, size+checksumSize)
	}
}

// Pending reports whether an unread frame is waiting. It never blocks.
func (s *Source) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame != nil
}

// Take waits up to timeout for a frame, removes it from the mailbox and
// returns it. It returns false if no frame arrived in time or ctx was
// cancelled. A non-positive timeout uses the source's timeout.
func (s *Source) Take(ctx context.Context, timeout time.Duration) (*media.Frame, bool) {
	if f := s.take(); f != nil {
		return f, true
	}
	if timeout <= 0 {
		timeout = s.timeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-s.ready:
			if f := s.take(); f != nil {
				return f, true
			}
		case <-timer.C:
			f := s.take()
			return f, f != nil
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (s *Source) take() *media.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.frame
	s.frame = nil
	return f
}

// Stats returns a snapshot of the source's counters and ownership state.
func (s *Source) Stats() Stats {
	s.mu.Lock()
	sender := s.current
	last := s.lastAcceptedAt
	pending := s.frame != nil
	s.mu.Unlock()

	return Stats{
		Sender:         addrString(sender),
		LastAcceptedAt: last,
		Live:           !last.IsZero() && s.now().Sub(last) <= s.timeout,
		Pending:        pending,
		Accepted:       s.accepted.Load(),
		Invalid:        s.invalid.Load(),
		Discarded:      s.discarded.Load(),
		Overwritten:    s.overwritten.Load(),
		Takeovers:      s.takeovers.Load(),
	}
}

// Start listens for datagrams on addr and serves them until ctx is cancelled.
func (s *Source) Start(ctx context.Context, addr string) error {
	conn, err := netutil.ListenPacket(ctx, addr)
	if err != nil {
		return fmt.Errorf("live listen on %s: %w", addr, err)
	}
	s.log.Info("listening", "addr", conn.LocalAddr())
	return s.Serve(ctx, conn)
}

// Serve reads datagrams from conn until ctx is cancelled or conn is closed.
// Bad datagrams are logged and skipped; they never stop the loop. Serve
// closes conn before returning.
func (s *Source) Serve(ctx context.Context, conn net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	// One spare byte so oversized datagrams are seen as too long rather than
	// truncated to a plausible size.
	buf := make([]byte, s.geometry.FrameSize()+checksumSize+1)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || netutil.IsExpectedCloseError(err) {
				return nil
			}
			s.log.Warn("receive error", "error", err)
			continue
		}

		from, ok := senderAddr(addr)
		if !ok {
			s.log.Debug("datagram from unsupported address", "addr", addr)
			continue
		}
		if err := s.HandleDatagram(buf[:n], from); err != nil {
			s.log.Warn("dropping live frame", "sender", from, "bytes", n, "error", err)
		}
	}
}

// senderAddr extracts the IP identity of a datagram's sender. The port is
// ignored so a sender that rebinds keeps ownership.
func senderAddr(addr net.Addr) (netip.Addr, bool) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.AddrPort().Addr().Unmap(), true
	default:
		ap, err := netip.ParseAddrPort(addr.String())
		if err != nil {
			return netip.Addr{}, false
		}
		return ap.Addr().Unmap(), true
	}
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}
