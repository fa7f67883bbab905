// Package arbiter decides, frame by frame, which source owns the display.
// Queued text messages come first and always play to completion, then live
// frames for as long as they keep arriving, then the default cycle one frame
// at a time.
package arbiter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/marquee/internal/media"
	"github.com/zsiec/marquee/internal/queue"
)

// State identifies the source currently feeding the display.
type State int32

// Arbiter states. StateIdle is only observed before the first frame.
const (
	StateIdle State = iota
	StateQueue
	StateLive
	StateDefault
)

func (s State) String() string {
	switch s {
	case StateQueue:
		return "PLAYING_QUEUE"
	case StateLive:
		return "PLAYING_LIVE"
	case StateDefault:
		return "PLAYING_DEFAULT"
	default:
		return "IDLE"
	}
}

// MarshalText lets State serialize as its name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MessageSource is the subset of queue.Queue the arbiter consumes.
type MessageSource interface {
	Dequeue() (*queue.Entry, bool)
	Len() int
}

// LiveSource is the subset of live.Source the arbiter consumes.
type LiveSource interface {
	Pending() bool
	Take(ctx context.Context, timeout time.Duration) (*media.Frame, bool)
}

// FallbackSource produces frames forever. animation.Cycle implements it.
type FallbackSource interface {
	Next() *media.Frame
}

// Display receives every frame the arbiter selects. The arbiter is its only
// caller, so implementations see frames strictly in order.
type Display interface {
	SendFrame(frame *media.Frame) error
}

// Config wires the arbiter to its sources and display.
type Config struct {
	Queue    MessageSource
	Live     LiveSource
	Fallback FallbackSource
	Display  Display

	// LiveTimeout is how long to wait for the next live frame before
	// giving the display back to the other sources.
	LiveTimeout time.Duration

	Log *slog.Logger
}

// Stats is a snapshot of the arbiter for the status API.
type Stats struct {
	State          State  `json:"state"`
	CurrentMessage string `json:"currentMessage,omitempty"`
	CurrentID      string `json:"currentId,omitempty"`
	QueueFrames    int64  `json:"queueFrames"`
	LiveFrames     int64  `json:"liveFrames"`
	DefaultFrames  int64  `json:"defaultFrames"`
	MessagesPlayed int64  `json:"messagesPlayed"`
	MessagesFailed int64  `json:"messagesFailed"`
	LiveSessions   int64  `json:"liveSessions"`
	LivePreempted  int64  `json:"livePreempted"`
	SendErrors     int64  `json:"sendErrors"`
}

// Arbiter is the single consumer loop that owns the display.
type Arbiter struct {
	log         *slog.Logger
	queue       MessageSource
	live        LiveSource
	fallback    FallbackSource
	display     Display
	liveTimeout time.Duration

	state atomic.Int32

	currentMu sync.Mutex
	current   *queue.Entry

	queueFrames    atomic.Int64
	liveFrames     atomic.Int64
	defaultFrames  atomic.Int64
	messagesPlayed atomic.Int64
	messagesFailed atomic.Int64
	liveSessions   atomic.Int64
	livePreempted  atomic.Int64
	sendErrors     atomic.Int64
}

// New creates an Arbiter. Queue, Live, Fallback and Display are required.
func New(cfg Config) (*Arbiter, error) {
	switch {
	case cfg.Queue == nil:
		return nil, errors.New("arbiter: Queue is required")
	case cfg.Live == nil:
		return nil, errors.New("arbiter: Live is required")
	case cfg.Fallback == nil:
		return nil, errors.New("arbiter: Fallback is required")
	case cfg.Display == nil:
		return nil, errors.New("arbiter: Display is required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Arbiter{
		log:         log.With("component", "arbiter"),
		queue:       cfg.Queue,
		live:        cfg.Live,
		fallback:    cfg.Fallback,
		display:     cfg.Display,
		liveTimeout: cfg.LiveTimeout,
	}, nil
}

// State returns the source that fed the most recent frame.
func (a *Arbiter) State() State {
	return State(a.state.Load())
}

// Stats returns a snapshot of the arbiter's counters.
func (a *Arbiter) Stats() Stats {
	s := Stats{
		State:          a.State(),
		QueueFrames:    a.queueFrames.Load(),
		LiveFrames:     a.liveFrames.Load(),
		DefaultFrames:  a.defaultFrames.Load(),
		MessagesPlayed: a.messagesPlayed.Load(),
		MessagesFailed: a.messagesFailed.Load(),
		LiveSessions:   a.liveSessions.Load(),
		LivePreempted:  a.livePreempted.Load(),
		SendErrors:     a.sendErrors.Load(),
	}
	a.currentMu.Lock()
	if a.current != nil {
		s.CurrentMessage = a.current.Text
		s.CurrentID = a.current.ID.String()
	}
	a.currentMu.Unlock()
	return s
}

// Run drives the display until ctx is cancelled. It always returns nil.
func (a *Arbiter) Run(ctx context.Context) error {
	a.log.Info("arbiter started")
	for ctx.Err() == nil {
		a.Step(ctx)
	}
	a.log.Info("arbiter stopped")
	return nil
}

// Step re-evaluates source priority once and plays the winner's share: a
// whole queued message, a run of live frames, or a single default frame.
func (a *Arbiter) Step(ctx context.Context) {
	if entry, ok := a.queue.Dequeue(); ok {
		a.setState(StateQueue)
		a.playEntry(ctx, entry)
		return
	}
	if a.live.Pending() {
		a.setState(StateLive)
		a.playLive(ctx)
		return
	}
	a.setState(StateDefault)
	a.send(a.fallback.Next())
	a.defaultFrames.Add(1)
}

// playEntry sends every frame of a queued message. Nothing preempts it.
func (a *Arbiter) playEntry(ctx context.Context, entry *queue.Entry) {
	a.currentMu.Lock()
	a.current = entry
	a.currentMu.Unlock()
	defer func() {
		a.currentMu.Lock()
		a.current = nil
		a.currentMu.Unlock()
	}()

	a.log.Info("playing message",
		"id", entry.ID,
		"origin", entry.Origin,
		"text", entry.Text,
		"frames", entry.Animation.Len(),
		"waited", time.Since(entry.ArrivedAt).Round(time.Millisecond))

	for ctx.Err() == nil {
		frame, err := entry.Animation.Next()
		if errors.Is(err, io.EOF) {
			a.messagesPlayed.Add(1)
			return
		}
		if err != nil {
			a.messagesFailed.Add(1)
			a.log.Warn("abandoning message", "id", entry.ID, "error", err)
			return
		}
		a.send(frame)
		a.queueFrames.Add(1)
	}
}

// playLive forwards live frames until one fails to arrive within the live
// timeout, or a message is queued.
func (a *Arbiter) playLive(ctx context.Context) {
	a.liveSessions.Add(1)
	sent := 0
	defer func() {
		a.log.Debug("live playback ended", "frames", sent)
	}()

	for {
		frame, ok := a.live.Take(ctx, a.liveTimeout)
		if !ok {
			return
		}
		a.send(frame)
		a.liveFrames.Add(1)
		sent++

		if a.queue.Len() > 0 {
			a.livePreempted.Add(1)
			return
		}
	}
}

func (a *Arbiter) send(frame *media.Frame) {
	if err := a.display.SendFrame(frame); err != nil {
		a.sendErrors.Add(1)
		a.log.Debug("display send failed", "error", err)
	}
}

func (a *Arbiter) setState(s State) {
	prev := State(a.state.Swap(int32(s)))
	if prev != s {
		a.log.Info("source changed", "from", prev, "to", s)
	}
}
