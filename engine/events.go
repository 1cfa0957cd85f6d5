package engine

import (
	"sync/atomic"
	"time"
)

// EventType tags the two record shapes the engine emits.
type EventType string

const (
	// EventRunState announces a state-machine transition.
	EventRunState EventType = "run_state"

	// EventNodeStatus announces a per-node status change.
	EventNodeStatus EventType = "node_status"
)

// Event is the tagged record pushed to the event sink. Delivery is
// best-effort and fire-and-forget; the engine never blocks on a consumer.
type Event struct {
	Type EventType `json:"type"`

	// run_state fields.
	State           State  `json:"state,omitempty"`
	RunID           string `json:"run_id,omitempty"`
	ActiveNodeID    string `json:"active_node_id,omitempty"`
	ActiveNodeTitle string `json:"active_node_title,omitempty"`

	// node_status fields. Status is the lower-cased result status, or
	// "running" while the node executes.
	NodeID string `json:"node_id,omitempty"`
	Status string `json:"status,omitempty"`

	// Time is when the event was emitted.
	Time time.Time `json:"time"`

	// Seq is a monotonic sequence number per run (1-indexed).
	Seq uint64 `json:"seq"`
}

// EventHandler receives engine events. Implementations can log, store, or
// forward events as needed; they must not block.
type EventHandler func(Event)

// EventPublisher distributes events to external subscribers. Satisfied by
// bus.EventBus so the engine does not import the bus package directly.
type EventPublisher interface {
	Publish(event Event)
}

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// seqGen produces monotonically increasing sequence numbers for one run.
type seqGen struct {
	counter atomic.Uint64
}

// Next returns the next sequence number (1-indexed).
func (s *seqGen) Next() uint64 {
	return s.counter.Add(1)
}
