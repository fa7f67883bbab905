// Package queue holds text messages waiting for their turn on the display.
// Any number of ingestion goroutines enqueue; the arbiter is the only
// consumer.
package queue

import (
	"container/list"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/zsiec/marquee/internal/animation"
	"github.com/zsiec/marquee/internal/glyph"
)

// MaxMessageLength is the longest accepted message, in characters.
const MaxMessageLength = 140

// ErrMessageTooLong is returned by Enqueue for text over MaxMessageLength
// characters.
var ErrMessageTooLong = errors.New("queue: message too long")

// Entry is a queued message ready to be scrolled.
type Entry struct {
	ID        uuid.UUID
	Text      string
	Origin    string
	ArrivedAt time.Time
	Animation *animation.Text
}

// EntryInfo is the JSON-serializable view of a pending entry, exposed by the
// status API.
type EntryInfo struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Origin    string    `json:"origin"`
	ArrivedAt time.Time `json:"arrivedAt"`
	Frames    int       `json:"frames"`
}

// Queue is an unbounded FIFO of pending messages.
type Queue struct {
	log      *slog.Logger
	renderer glyph.Renderer
	now      func() time.Time

	mu      sync.Mutex
	entries *list.List
}

// New creates an empty queue whose entries are rendered with r. If log is
// nil, slog.Default() is used.
func New(r glyph.Renderer, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		log:      log.With("component", "queue"),
		renderer: r,
		now:      time.Now,
		entries:  list.New(),
	}
}

// Enqueue validates text and appends it to the queue. Text longer than
// MaxMessageLength characters fails with ErrMessageTooLong before anything is
// rendered; text the renderer rejects fails with an error wrapping
// glyph.ErrInvalidText. Enqueue never waits on the consumer.
func (q *Queue) Enqueue(text, origin string) (*Entry, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: not valid UTF-8", glyph.ErrInvalidText)
	}
	if n := utf8.RuneCountInString(text); n > MaxMessageLength {
		return nil, fmt.Errorf("%w: %d characters, limit %d", ErrMessageTooLong, n, MaxMessageLength)
	}

	anim, err := animation.NewText(q.renderer, text)
	if err != nil {
		return nil, err
	}

	e := &Entry{
		ID:        uuid.New(),
		Text:      text,
		Origin:    origin,
		ArrivedAt: q.now(),
		Animation: anim,
	}

	q.mu.Lock()
	q.entries.PushBack(e)
	depth := q.entries.Len()
	q.mu.Unlock()

	q.log.Info("message queued", "id", e.ID, "origin", origin, "text", text, "depth", depth)
	return e, nil
}

// Dequeue removes and returns the oldest entry, or false if the queue is empty.
func (q *Queue) Dequeue() (*Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.entries.Front()
	if front == nil {
		return nil, false
	}
	q.entries.Remove(front)
	return front.Value.(*Entry), true
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Len()
}

// Pending returns a snapshot of the pending entries, oldest first.
func (q *Queue) Pending() []EntryInfo {
	q.mu.Lock()
	defer q.mu.Unlock()

	infos := make([]EntryInfo, 0, q.entries.Len())
	for el := q.entries.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		infos = append(infos, EntryInfo{
			ID:        e.ID.String(),
			Text:      e.Text,
			Origin:    e.Origin,
			ArrivedAt: e.ArrivedAt,
			Frames:    e.Animation.Len(),
		})
	}
	return infos
}
