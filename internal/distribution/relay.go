// Package distribution fans arbitrated frames out to the physical display and
// to remote preview viewers, and serves the HTTP status and submission API.
package distribution

import (
	"encoding/hex"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zeebo/blake3"

	"github.com/zsiec/marquee/internal/display"
	"github.com/zsiec/marquee/internal/media"
)

// Viewer is a preview subscriber. Send must not block; a viewer that cannot
// keep up drops messages.
type Viewer interface {
	ID() string
	Send(msg []byte)
	Stats() ViewerStats
}

// ViewerStats describes delivery to one preview viewer.
type ViewerStats struct {
	ID      string `json:"id"`
	Remote  string `json:"remote,omitempty"`
	Sent    int64  `json:"sent"`
	Dropped int64  `json:"dropped"`
}

// RelayStats is a snapshot of the relay for the status API.
type RelayStats struct {
	Frames     int64         `json:"frames"`
	Published  int64         `json:"published"`
	Unchanged  int64         `json:"unchanged"`
	SinkErrors int64         `json:"sinkErrors"`
	LastHash   string        `json:"lastHash,omitempty"`
	Viewers    []ViewerStats `json:"viewers"`
}

// Relay is the display the arbiter writes to. Every frame goes to the sink;
// frames that differ from the previous one are also encoded once and
// broadcast to preview viewers. The last encoded frame is cached so a new
// viewer sees the current display immediately.
type Relay struct {
	log         *slog.Logger
	sink        display.Display
	compression CompressionTag

	mu       sync.RWMutex
	viewers  map[string]Viewer
	last     []byte
	lastHash [32]byte
	seq      uint64

	frames     atomic.Int64
	published  atomic.Int64
	unchanged  atomic.Int64
	sinkErrors atomic.Int64
}

// NewRelay creates a Relay in front of sink. A nil sink discards frames.
func NewRelay(sink display.Display, compression CompressionTag, log *slog.Logger) *Relay {
	if sink == nil {
		sink = display.Discard{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		log:         log.With("component", "relay"),
		sink:        sink,
		compression: compression,
		viewers:     make(map[string]Viewer),
	}
}

// SendFrame implements display.Display. It returns the sink's error.
func (r *Relay) SendFrame(frame *media.Frame) error {
	r.frames.Add(1)
	err := r.sink.SendFrame(frame)
	if err != nil {
		r.sinkErrors.Add(1)
	}

	hash := blake3.Sum256(frame.Pix)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last != nil && hash == r.lastHash {
		r.unchanged.Add(1)
		return err
	}

	msg, encErr := EncodePreview(frame, r.seq+1, hash, r.compression)
	if encErr != nil {
		r.log.Warn("preview encode failed", "error", encErr)
		return err
	}
	r.seq++
	r.last = msg
	r.lastHash = hash
	r.published.Add(1)

	for _, v := range r.viewers {
		v.Send(msg)
	}
	return err
}

// AddViewer sends the cached frame to v, then registers it. Both happen under
// the broadcast lock so v never sees a newer frame before the cached one.
func (r *Relay) AddViewer(v Viewer) {
	r.mu.Lock()
	if r.last != nil {
		v.Send(r.last)
	}
	r.viewers[v.ID()] = v
	n := len(r.viewers)
	r.mu.Unlock()

	r.log.Info("viewer added", "viewer", v.ID(), "viewers", n)
}

// RemoveViewer unregisters a viewer by ID.
func (r *Relay) RemoveViewer(id string) {
	r.mu.Lock()
	delete(r.viewers, id)
	n := len(r.viewers)
	r.mu.Unlock()

	r.log.Info("viewer removed", "viewer", id, "viewers", n)
}

// ViewerCount returns the number of connected viewers.
func (r *Relay) ViewerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.viewers)
}

// Stats returns a snapshot of the relay counters and every viewer.
func (r *Relay) Stats() RelayStats {
	s := RelayStats{
		Frames:     r.frames.Load(),
		Published:  r.published.Load(),
		Unchanged:  r.unchanged.Load(),
		SinkErrors: r.sinkErrors.Load(),
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last != nil {
		s.LastHash = hex.EncodeToString(r.lastHash[:])
	}
	s.Viewers = make([]ViewerStats, 0, len(r.viewers))
	for _, v := range r.viewers {
		s.Viewers = append(s.Viewers, v.Stats())
	}
	return s
}
