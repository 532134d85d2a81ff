package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRingSize holds roughly a minute of busy-session events for
// replay on reconnect.
const DefaultRingSize = 512

// Bus distributes events to subscribers and keeps a bounded ring of
// recent events so a reconnecting stream can replay what it missed.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64

	ring     []Event
	ringSize int
	ringHead int
	ringMu   sync.RWMutex
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// NewBus creates a bus with the given replay ring size.
func NewBus(ringSize int) *Bus {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	return &Bus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
	}
}

// Subscribe registers a subscriber and returns its channel plus a
// cancel function. Slow subscribers lose events rather than slowing
// the publishers.
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = subscriber{ch: ch, filter: filter}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			// Publishers send under the read lock, so nobody can be
			// mid-send on this channel here.
			close(sub.ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// ReplaySince returns buffered events published after the event with
// the given ID. An empty or unknown ID replays the whole ring.
func (b *Bus) ReplaySince(lastEventID string, filter Filter) []Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	var out []Event
	found := lastEventID == ""
	for i := 0; i < b.ringSize; i++ {
		idx := (b.ringHead + i) % b.ringSize
		e := b.ring[idx]
		if e.ID == "" {
			continue
		}
		if !found {
			if e.ID == lastEventID {
				found = true
			}
			continue
		}
		if Matches(e, filter) {
			out = append(out, e)
		}
	}
	if !found && lastEventID != "" {
		// The requested ID already rotated out; replay everything we
		// still have rather than returning nothing.
		return b.ReplaySince("", filter)
	}
	return out
}

// Publish marshals the payload and delivers the event to every
// matching subscriber, non-blocking.
func (b *Bus) Publish(eventType string, meta Event, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	seq := b.seq.Add(1)
	e := Event{
		ID:        fmt.Sprintf("%d-%d", time.Now().UnixMilli(), seq),
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Session:   meta.Session,
		Model:     meta.Model,
		Source:    meta.Source,
		Data:      data,
	}

	b.ringMu.Lock()
	b.ring[b.ringHead] = e
	b.ringHead = (b.ringHead + 1) % b.ringSize
	b.ringMu.Unlock()

	b.mu.RLock()
	for _, sub := range b.subscribers {
		if Matches(e, sub.filter) {
			select {
			case sub.ch <- e:
			default:
				// Drop for slow subscribers.
			}
		}
	}
	b.mu.RUnlock()
}

// Matches reports whether an event passes a filter.
func Matches(e Event, f Filter) bool {
	if len(f.Types) > 0 {
		match := false
		for _, t := range f.Types {
			if strings.TrimSpace(t) == e.Type {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if len(f.Sessions) > 0 && e.Session != "" {
		match := false
		for _, s := range f.Sessions {
			if s == e.Session {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if len(f.Models) > 0 && e.Model != "" {
		match := false
		for _, m := range f.Models {
			if m == e.Model {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}
