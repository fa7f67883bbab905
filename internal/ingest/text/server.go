// Package text implements the line-oriented TCP boundary through which
// clients submit messages for the display. Each connection carries a single
// message and receives a one-line verdict.
package text

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/zsiec/marquee/internal/netutil"
	"github.com/zsiec/marquee/internal/queue"
)

// Canned responses written back to the client.
const (
	ResponseAccepted = "KTHXBYE!\n"
	ResponseTooLong  = "TOO MUCH INFORMATION!\n"
)

// maxRequestSize bounds how much of a request is read. Anything longer is
// over the character limit anyway.
const maxRequestSize = 1024

// readTimeout bounds how long a client may take to send its message.
const readTimeout = 5 * time.Second

// Enqueuer is the subset of queue.Queue the server needs.
type Enqueuer interface {
	Enqueue(text, origin string) (*queue.Entry, error)
}

// Stats counts connection outcomes for the status API.
type Stats struct {
	Connections int64 `json:"connections"`
	Accepted    int64 `json:"accepted"`
	TooLong     int64 `json:"tooLong"`
	Invalid     int64 `json:"invalid"`
}

// Server accepts TCP connections and enqueues the message each one carries.
type Server struct {
	log   *slog.Logger
	addr  string
	queue Enqueuer

	connections atomic.Int64
	accepted    atomic.Int64
	tooLong     atomic.Int64
	invalid     atomic.Int64
}

// NewServer creates a text ingestion server that listens on addr and feeds q.
// If log is nil, slog.Default() is used.
func NewServer(addr string, q Enqueuer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:   log.With("component", "text-server"),
		addr:  addr,
		queue: q,
	}
}

// Start listens on the configured address and serves connections until ctx
// is cancelled.
func (s *Server) Start(ctx context.Context) error {
	l, err := netutil.Listen(ctx, s.addr)
	if err != nil {
		return fmt.Errorf("text listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", l.Addr())
	return s.Serve(ctx, l)
}

// Serve accepts connections from l until ctx is cancelled. It closes l
// before returning.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()
	defer l.Close()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		s.connections.Add(1)
		go s.handleConnection(conn)
	}
}

// Stats returns a snapshot of the connection counters.
func (s *Server) Stats() Stats {
	return Stats{
		Connections: s.connections.Load(),
		Accepted:    s.accepted.Load(),
		TooLong:     s.tooLong.Load(),
		Invalid:     s.invalid.Load(),
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	origin := remoteHost(conn.RemoteAddr())
	raw, err := readRequest(conn)
	if err != nil {
		s.log.Debug("read error", "remote", origin, "error", err)
		return
	}

	text := strings.TrimSpace(string(raw))
	if _, err := s.queue.Enqueue(text, origin); err != nil {
		if errors.Is(err, queue.ErrMessageTooLong) {
			s.tooLong.Add(1)
			s.log.Warn("rejecting message", "remote", origin, "chars", utf8.RuneCountInString(text), "error", err)
			s.respond(conn, ResponseTooLong)
			return
		}
		// Unrenderable text gets no reply.
		s.invalid.Add(1)
		s.log.Warn("dropping message", "remote", origin, "error", err)
		return
	}

	s.accepted.Add(1)
	s.respond(conn, ResponseAccepted)
}

func (s *Server) respond(conn net.Conn, msg string) {
	conn.SetWriteDeadline(time.Now().Add(readTimeout))
	if _, err := conn.Write([]byte(msg)); err != nil {
		s.log.Debug("write error", "remote", conn.RemoteAddr(), "error", err)
	}
}

// readRequest reads until a newline, EOF, maxRequestSize bytes, or the read
// deadline. A deadline that expires after some data arrived ends the request
// rather than failing it, so clients that never send a newline still work.
func readRequest(conn net.Conn) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(readTimeout))

	buf := make([]byte, maxRequestSize)
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if bytes.IndexByte(buf[:n], '\n') >= 0 {
			break
		}
		if err != nil {
			if n > 0 && (netutil.IsExpectedCloseError(err) || isTimeout(err)) {
				break
			}
			return nil, err
		}
	}
	if n == len(buf) {
		return trimPartialRune(buf[:n]), nil
	}
	return buf[:n], nil
}

// trimPartialRune drops a multi-byte rune cut off by the request size limit.
func trimPartialRune(b []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		if utf8.RuneStart(b[len(b)-i]) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i]
			}
			return b
		}
	}
	return b
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func remoteHost(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
