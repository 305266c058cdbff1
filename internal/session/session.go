package session

import (
	"context"
	"sync"
	"time"

	"github.com/eleven-am/echolens/internal/narration"
	"github.com/eleven-am/echolens/internal/shared"
)

type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Session is a sequence of frames sharing one narration context. Frames take
// a turn at receipt and enter the describe/append critical section in that
// order.
type Session struct {
	ID        string
	CreatedAt time.Time

	narration *narration.Context

	mu         sync.Mutex
	status     Status
	lastActive time.Time
	frames     int64
	next       uint64
	serving    uint64
	gates      map[uint64]chan struct{}
	skipped    map[uint64]bool
	done       chan struct{}
}

func New(id string, cfg narration.Config) *Session {
	if id == "" {
		id = shared.NewID("sess_")
	}
	now := time.Now()
	return &Session{
		ID:         id,
		CreatedAt:  now,
		narration:  narration.NewContext(cfg),
		status:     StatusActive,
		lastActive: now,
		gates:      make(map[uint64]chan struct{}),
		skipped:    make(map[uint64]bool),
		done:       make(chan struct{}),
	}
}

func (s *Session) Narration() *narration.Context {
	return s.narration
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Busy reports whether any frame holds or waits for a turn.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serving != s.next
}

func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// Close wakes every waiter with shared.ErrClosed. Frames already inside the
// critical section finish normally.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusClosed {
		return
	}
	s.status = StatusClosed
	close(s.done)
}

// Reset clears the narration history; the next frame is described from
// scratch. It queues behind frames that already hold a ticket, so their
// segments land before the history is cleared.
func (s *Session) Reset(ctx context.Context) error {
	turn, err := s.enter(false)
	if err != nil {
		return err
	}
	defer turn.Leave()

	if err := turn.Wait(ctx); err != nil {
		return err
	}
	s.narration.Reset()
	return nil
}

type Info struct {
	ID           string              `json:"id"`
	Status       Status              `json:"status"`
	CreatedAt    time.Time           `json:"created_at"`
	LastActiveAt time.Time           `json:"last_active_at"`
	Frames       int64               `json:"frames"`
	Busy         bool                `json:"busy"`
	Segments     int                 `json:"segments"`
	History      []narration.Segment `json:"history,omitempty"`
}

func (s *Session) Info(withHistory bool) Info {
	s.mu.Lock()
	info := Info{
		ID:           s.ID,
		Status:       s.status,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.lastActive,
		Frames:       s.frames,
		Busy:         s.serving != s.next,
	}
	s.mu.Unlock()

	info.Segments = s.narration.Len()
	if withHistory {
		info.History = s.narration.History()
	}
	return info
}

// Turn is one frame's place in the session queue.
type Turn struct {
	session   *Session
	ticket    uint64
	acquired  bool
	abandoned bool
	once      sync.Once
}

// Enter takes the next ticket. Every Turn must be released with Leave.
func (s *Session) Enter() (*Turn, error) {
	return s.enter(true)
}

func (s *Session) enter(frame bool) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusClosed {
		return nil, shared.ErrClosed
	}
	t := &Turn{session: s, ticket: s.next}
	s.next++
	if frame {
		s.frames++
	}
	s.lastActive = time.Now()
	return t, nil
}

// Wait blocks until every earlier ticket has left. On cancellation the ticket
// is skipped so later frames are not held up.
func (t *Turn) Wait(ctx context.Context) error {
	s := t.session
	s.mu.Lock()
	if s.serving == t.ticket {
		t.acquired = true
		s.mu.Unlock()
		return nil
	}
	if s.status == StatusClosed {
		s.mu.Unlock()
		return shared.ErrClosed
	}
	gate := make(chan struct{})
	s.gates[t.ticket] = gate
	s.mu.Unlock()

	var cause error
	select {
	case <-gate:
		t.acquired = true
		return nil
	case <-ctx.Done():
		cause = ctx.Err()
	case <-s.done:
		cause = shared.ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, waiting := s.gates[t.ticket]; !waiting {
		// advance handed us the turn while we were giving up
		t.acquired = true
		return cause
	}
	delete(s.gates, t.ticket)
	s.skipped[t.ticket] = true
	t.abandoned = true
	return cause
}

// Leave releases the turn, or gives up the ticket if it was never served.
// Safe to call more than once.
func (t *Turn) Leave() {
	t.once.Do(func() {
		s := t.session
		s.mu.Lock()
		defer s.mu.Unlock()
		s.lastActive = time.Now()
		switch {
		case t.abandoned:
		case t.acquired || s.serving == t.ticket:
			s.advance()
		default:
			s.skipped[t.ticket] = true
		}
	})
}

func (s *Session) advance() {
	s.serving++
	for s.skipped[s.serving] {
		delete(s.skipped, s.serving)
		s.serving++
	}
	if gate, ok := s.gates[s.serving]; ok {
		delete(s.gates, s.serving)
		close(gate)
	}
}
