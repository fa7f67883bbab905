package display

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/zsiec/marquee/internal/media"
)

// Encode returns the datagram for a frame: the raw RGB payload followed by
// its big-endian CRC32 (IEEE). This is the format the live source accepts.
func Encode(frame *media.Frame) []byte {
	buf := make([]byte, len(frame.Pix), len(frame.Pix)+4)
	copy(buf, frame.Pix)
	return binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(frame.Pix))
}

// UDPSink sends every frame as one datagram to a fixed remote address.
type UDPSink struct {
	log  *slog.Logger
	conn net.Conn

	sent   atomic.Int64
	failed atomic.Int64
}

// DialUDP connects a UDPSink to addr.
func DialUDP(ctx context.Context, addr string, log *slog.Logger) (*UDPSink, error) {
	if log == nil {
		log = slog.Default()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("display: dial %s: %w", addr, err)
	}
	log = log.With("component", "udp-display", "remote", conn.RemoteAddr().String())
	log.Info("udp display connected")
	return &UDPSink{log: log, conn: conn}, nil
}

// SendFrame implements Display.
func (u *UDPSink) SendFrame(frame *media.Frame) error {
	if _, err := u.conn.Write(Encode(frame)); err != nil {
		u.failed.Add(1)
		return fmt.Errorf("display: udp write: %w", err)
	}
	u.sent.Add(1)
	return nil
}

// Sent returns the number of datagrams written successfully.
func (u *UDPSink) Sent() int64 { return u.sent.Load() }

// Close releases the socket.
func (u *UDPSink) Close() error {
	u.log.Info("udp display closed", "sent", u.sent.Load(), "failed", u.failed.Load())
	return u.conn.Close()
}
