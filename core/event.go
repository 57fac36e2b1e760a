package core

import (
	"sync"

	"github.com/google/uuid"
)

// Event is implemented by every notification the pipeline publishes.
type Event interface {
	EventId() string // Returns the unique identifier of the event kind.
}

// EventPacket wraps an Event with tracking metadata for relaying to
// subscribers (the UI bridge, loggers, tests).
type EventPacket struct {
	Event   Event
	Uid     string // Unique identifier for tracking the event packet.
	Emitter string // Identifier of the component that emitted the event.
}

func NewEventPacket(event Event, emitter string) *EventPacket {
	uid := uuid.New().String() // Generate a unique identifier for the event packet.
	return &EventPacket{
		Event:   event,
		Uid:     uid,
		Emitter: emitter,
	}
}

// EventFeed fans packets out to any number of subscribers. One producer, many
// consumers; slow consumers drop rather than block the pipeline.
type EventFeed struct {
	mu   sync.Mutex
	subs map[int]chan *EventPacket
	next int
}

func NewEventFeed() *EventFeed {
	return &EventFeed{subs: make(map[int]chan *EventPacket)}
}

// Subscribe returns a buffered channel of packets and a cancel func that
// removes the subscription and closes the channel.
func (f *EventFeed) Subscribe() (<-chan *EventPacket, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	ch := make(chan *EventPacket, 64)
	f.subs[id] = ch
	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the packet to every subscriber. A subscriber whose buffer
// is full misses the packet; amplitude and state events are periodic so a
// drop is harmless.
func (f *EventFeed) Publish(packet *EventPacket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- packet:
		default:
		}
	}
}
