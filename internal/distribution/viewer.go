package distribution

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// viewerBuffer is how many preview messages may wait for a slow viewer
	// before new ones are dropped.
	viewerBuffer = 16
	writeTimeout = 5 * time.Second
	pingInterval = 15 * time.Second
)

// wsViewer streams preview frames to one websocket client.
type wsViewer struct {
	id     string
	remote string
	conn   *websocket.Conn
	log    *slog.Logger
	send   chan []byte

	sent    atomic.Int64
	dropped atomic.Int64
}

func newWSViewer(conn *websocket.Conn, log *slog.Logger) *wsViewer {
	id := uuid.NewString()
	return &wsViewer{
		id:     id,
		remote: conn.RemoteAddr().String(),
		conn:   conn,
		log:    log.With("viewer", id),
		send:   make(chan []byte, viewerBuffer),
	}
}

func (v *wsViewer) ID() string { return v.id }

func (v *wsViewer) Send(msg []byte) {
	select {
	case v.send <- msg:
	default:
		v.dropped.Add(1)
	}
}

func (v *wsViewer) Stats() ViewerStats {
	return ViewerStats{
		ID:      v.id,
		Remote:  v.remote,
		Sent:    v.sent.Load(),
		Dropped: v.dropped.Load(),
	}
}

// run writes queued messages until the client goes away or ctx is done.
// Incoming messages are read and discarded so close frames are noticed.
func (v *wsViewer) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer cancel()
		v.conn.SetReadLimit(512)
		for {
			if _, _, err := v.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = v.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case <-ping.C:
			if err := v.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				v.log.Debug("ping failed", "error", err)
				return
			}
		case msg := <-v.send:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := v.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				v.log.Debug("write failed", "error", err)
				return
			}
			v.sent.Add(1)
		}
	}
}
