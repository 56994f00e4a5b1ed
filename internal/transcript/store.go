// Package transcript provides the ordered, append-only log of display lines
// that a chat client renders.
package transcript

import (
	"fmt"
	"sync"
	"time"
)

// Entry is one immutable display line.
type Entry struct {
	Seq  uint64
	At   time.Time
	Text string
}

// String returns the display text.
func (e Entry) String() string {
	return e.Text
}

// Store is an append-only sequence of entries, safe for concurrent use.
// Every append publishes a complete snapshot to subscribers.
type Store struct {
	mu      sync.Mutex
	entries []Entry
	subs    map[int]chan []Entry
	nextSub int
	now     func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		subs: make(map[int]chan []Entry),
		now:  time.Now,
	}
}

// Append adds a line and notifies subscribers. It never blocks on a
// subscriber.
func (s *Store) Append(text string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	if n := len(s.entries); n > 0 && at.Before(s.entries[n-1].At) {
		at = s.entries[n-1].At
	}
	e := Entry{Seq: uint64(len(s.entries)) + 1, At: at, Text: text}
	s.entries = append(s.entries, e)

	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		publish(ch, snap)
	}
	return e
}

// Appendf formats and appends a line.
func (s *Store) Appendf(format string, args ...any) Entry {
	return s.Append(fmt.Sprintf(format, args...))
}

// Snapshot returns the entries appended so far. The returned slice must not
// be modified.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Lines returns the display text of every entry in order.
func (s *Store) Lines() []string {
	snap := s.Snapshot()
	lines := make([]string, len(snap))
	for i, e := range snap {
		lines[i] = e.Text
	}
	return lines
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Subscribe returns a channel that receives a snapshot after every append,
// starting with the current one. A slow reader only ever sees the newest
// snapshot; intermediate ones are dropped. The returned function
// unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan []Entry, func()) {
	ch := make(chan []Entry, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// snapshotLocked shares the backing array: entries below len are never
// written again, and the capped slice forces a copy on any append by the
// caller.
func (s *Store) snapshotLocked() []Entry {
	n := len(s.entries)
	return s.entries[:n:n]
}

func publish(ch chan []Entry, snap []Entry) {
	select {
	case ch <- snap:
		return
	default:
	}
	// Replace the stale snapshot still sitting in the buffer.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}
