// Package stream fans out committed ledger events to live subscribers.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ids"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ledger"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/obs"
)

// Event is the public form of a ledger event. Amounts are decimal strings and
// holder addresses are masked.
type Event struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	DistributionID uint64    `json:"distributionId"`
	Holder         string    `json:"holder,omitempty"`
	Amount         string    `json:"amount"`
	Block          uint64    `json:"block"`
	Timestamp      time.Time `json:"timestamp"`
}

// FromLedger converts a committed ledger event.
func FromLedger(e ledger.Event) Event {
	evt := Event{
		ID:             ids.NewAt(e.At),
		Type:           e.Type,
		DistributionID: e.DistributionID,
		Block:          e.Block,
		Timestamp:      e.At.UTC(),
	}
	if e.Amount != nil {
		evt.Amount = e.Amount.Dec()
	}
	if e.Type == ledger.EventDistributionClaimed {
		evt.Holder = obs.MaskAddress(e.Holder.Hex())
	}
	return evt
}

// Stream fan-outs events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// PublishLedger is a ledger event sink; pass it to the ledger's WithEvents option.
func (s *Stream) PublishLedger(e ledger.Event) {
	s.Publish(FromLedger(e))
}

// Subscribers reports the number of live subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
