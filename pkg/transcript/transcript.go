// Package transcript archives a live conversation transcript to persistent
// storage.
//
// An [Archiver] receives full transcript snapshots (as delivered by the
// controller's transcript listener), works out which messages are new and
// appends them to a [Store] from a background goroutine, so the listener
// never blocks on I/O.
package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voicelink/pkg/session"
)

// Entry is one archived transcript message.
type Entry struct {
	// Seq is the message position within the archived session, starting at 0.
	// It keeps increasing across transcript clears.
	Seq     int
	Role    session.Role
	Content string
	At      time.Time
}

// Store persists transcript sessions.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// StartSession creates a new archived session and returns its ID.
	StartSession(ctx context.Context, label string) (uuid.UUID, error)

	// Append stores entries for sessionID.
	Append(ctx context.Context, sessionID uuid.UUID, entries []Entry) error

	// EndSession marks sessionID as finished.
	EndSession(ctx context.Context, sessionID uuid.UUID) error

	// Entries returns every entry of sessionID ordered by Seq.
	Entries(ctx context.Context, sessionID uuid.UUID) ([]Entry, error)
}

const defaultBuffer = 64

// Archiver turns transcript snapshots into appended entries.
type Archiver struct {
	store Store
	id    uuid.UUID
	now   func() time.Time

	mu     sync.Mutex
	seen   int
	seq    int
	closed bool
	queue  chan []Entry
}

// ArchiverOption configures an [Archiver].
type ArchiverOption func(*Archiver)

// WithClock overrides the timestamp source. Used in tests.
func WithClock(now func() time.Time) ArchiverOption {
	return func(a *Archiver) { a.now = now }
}

// NewArchiver starts a new archived session labelled label.
func NewArchiver(ctx context.Context, store Store, label string, opts ...ArchiverOption) (*Archiver, error) {
	id, err := store.StartSession(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("transcript: start session: %w", err)
	}
	a := &Archiver{
		store: store,
		id:    id,
		now:   time.Now,
		queue: make(chan []Entry, defaultBuffer),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// SessionID returns the archived session's ID.
func (a *Archiver) SessionID() uuid.UUID { return a.id }

// Observe records the messages of transcript that were not seen before. A
// transcript shorter than the previous one means it was cleared; messages
// after the clear are archived with continuing sequence numbers.
//
// Observe never blocks. If the write queue is full the batch is dropped and
// a warning is logged.
func (a *Archiver) Observe(transcript []session.ConversationMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if len(transcript) < a.seen {
		a.seen = 0
	}
	fresh := transcript[a.seen:]
	a.seen = len(transcript)
	if len(fresh) == 0 {
		return
	}

	at := a.now()
	batch := make([]Entry, len(fresh))
	for i, m := range fresh {
		batch[i] = Entry{Seq: a.seq, Role: m.Role, Content: m.Content, At: at}
		a.seq++
	}
	select {
	case a.queue <- batch:
	default:
		slog.Warn("transcript: archive queue full, dropping entries",
			"session_id", a.id,
			"count", len(batch),
		)
	}
}

// Run writes queued entries until ctx is cancelled or Close is called, then
// flushes what is left and ends the archived session.
func (a *Archiver) Run(ctx context.Context) error {
	for {
		select {
		case batch, ok := <-a.queue:
			if !ok {
				return a.finish(context.WithoutCancel(ctx))
			}
			a.write(ctx, batch)
		case <-ctx.Done():
			a.Close()
			for batch := range a.queue {
				a.write(context.WithoutCancel(ctx), batch)
			}
			return a.finish(context.WithoutCancel(ctx))
		}
	}
}

func (a *Archiver) write(ctx context.Context, batch []Entry) {
	if err := a.store.Append(ctx, a.id, batch); err != nil {
		slog.Error("transcript: append failed",
			"session_id", a.id,
			"count", len(batch),
			"err", err,
		)
	}
}

func (a *Archiver) finish(ctx context.Context) error {
	if err := a.store.EndSession(ctx, a.id); err != nil {
		return fmt.Errorf("transcript: end session: %w", err)
	}
	return nil
}

// Close stops accepting snapshots. Run returns after writing what is queued.
// Safe to call more than once.
func (a *Archiver) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	close(a.queue)
}
