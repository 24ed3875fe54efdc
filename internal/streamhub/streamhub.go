// Package streamhub implements the Stream Hub (spec §4.J): broadcast-only fan-out of pipeline
// progress events to websocket observers on /ws/cc-stream, plus a parallel "generation" channel
// used by the Universal Expansion Engine. Grounded on the teacher's worker.Processor gauge/
// counter update points (it already marks every state transition for telemetry; this package
// reuses those same transition points as broadcast triggers) and on pithecene-io-quarry's
// bubbletea event-channel fan-out idiom for a non-blocking, drop-on-overflow observer model.
package streamhub

import (
	"encoding/json"
	"sync"
)

// sendBuffer caps how far behind a single observer can lag before being dropped, per spec §4.J.
const sendBuffer = 64

// Event is the JSON envelope broadcast to every observer of a job's stream.
type Event struct {
	Type  string `json:"type"`
	JobID string `json:"jobId"`
	Data  any    `json:"data,omitempty"`
}

// Observer is a single subscriber's bounded outbound channel.
type Observer struct {
	ch     chan Event
	jobID  string
	closed bool
}

// Events returns the channel an observer's websocket write-pump should drain.
func (o *Observer) Events() <-chan Event {
	return o.ch
}

// Hub fans out Events to per-job observer sets without ever blocking a publishing worker.
type Hub struct {
	mu        sync.Mutex
	observers map[string]map[*Observer]struct{}

	genMu sync.Mutex
	genSubs map[chan Event]struct{}

	droppedCount func()
}

// New constructs an empty Hub. onDropped, if non-nil, is invoked once per event dropped due to a
// full observer buffer, so callers can wire it to a metrics counter.
func New(onDropped func()) *Hub {
	return &Hub{
		observers:    make(map[string]map[*Observer]struct{}),
		genSubs:      make(map[chan Event]struct{}),
		droppedCount: onDropped,
	}
}

// Subscribe registers a new observer for jobID's stream.
func (h *Hub) Subscribe(jobID string) *Observer {
	obs := &Observer{ch: make(chan Event, sendBuffer), jobID: jobID}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.observers[jobID] == nil {
		h.observers[jobID] = make(map[*Observer]struct{})
	}
	h.observers[jobID][obs] = struct{}{}
	return obs
}

// Unsubscribe removes and closes an observer's channel.
func (h *Hub) Unsubscribe(obs *Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.observers[obs.jobID]; ok {
		delete(set, obs)
		if len(set) == 0 {
			delete(h.observers, obs.jobID)
		}
	}
	if !obs.closed {
		obs.closed = true
		close(obs.ch)
	}
}

// Publish broadcasts event to every observer subscribed to event.JobID, never blocking: a full
// observer buffer drops the event rather than stall the publishing worker.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for obs := range h.observers[event.JobID] {
		select {
		case obs.ch <- event:
		default:
			if h.droppedCount != nil {
				h.droppedCount()
			}
		}
	}
}

// SubscribeGeneration registers a subscriber to the Universal Expansion Engine's generation
// stream, which is not scoped to a job ID the way cc-stream is (a generation run has its own
// lifecycle outside the core reconstruction pipeline).
func (h *Hub) SubscribeGeneration() chan Event {
	ch := make(chan Event, sendBuffer)
	h.genMu.Lock()
	h.genSubs[ch] = struct{}{}
	h.genMu.Unlock()
	return ch
}

// UnsubscribeGeneration removes and closes a generation-stream subscriber.
func (h *Hub) UnsubscribeGeneration(ch chan Event) {
	h.genMu.Lock()
	defer h.genMu.Unlock()
	if _, ok := h.genSubs[ch]; ok {
		delete(h.genSubs, ch)
		close(ch)
	}
}

// PublishGeneration broadcasts event to every generation-stream subscriber, drop-on-overflow.
func (h *Hub) PublishGeneration(event Event) {
	h.genMu.Lock()
	defer h.genMu.Unlock()
	for ch := range h.genSubs {
		select {
		case ch <- event:
		default:
			if h.droppedCount != nil {
				h.droppedCount()
			}
		}
	}
}

// Marshal is a small helper for handlers writing an Event directly to a websocket connection.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(e)
}
