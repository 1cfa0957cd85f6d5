package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/blockflow/blockflow/engine"
)

type captureHandler struct {
	mu     sync.Mutex
	events []engine.Event
}

func (c *captureHandler) handle(e engine.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *captureHandler) snapshot() []engine.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]engine.Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestThrottledHandler_RunStatePassesThrough(t *testing.T) {
	cap := &captureHandler{}
	th := NewThrottledHandler(cap.handle, ThrottleConfig{FlushInterval: time.Hour})
	defer th.Close()

	th.Handle(engine.Event{Type: engine.EventRunState, State: engine.StateRunning})

	events := cap.snapshot()
	if len(events) != 1 || events[0].State != engine.StateRunning {
		t.Errorf("events = %+v, want immediate run_state", events)
	}
}

func TestThrottledHandler_CoalescesNodeStatusPerNode(t *testing.T) {
	cap := &captureHandler{}
	th := NewThrottledHandler(cap.handle, ThrottleConfig{FlushInterval: time.Hour})

	th.Handle(engine.Event{Type: engine.EventNodeStatus, NodeID: "a", Status: "running"})
	th.Handle(engine.Event{Type: engine.EventNodeStatus, NodeID: "a", Status: "ok"})
	th.Handle(engine.Event{Type: engine.EventNodeStatus, NodeID: "b", Status: "running"})

	if got := len(cap.snapshot()); got != 0 {
		t.Fatalf("%d status events delivered before flush, want 0", got)
	}

	// Close flushes pending events.
	th.Close()

	events := cap.snapshot()
	if len(events) != 2 {
		t.Fatalf("got %d flushed events, want 2 (one per node)", len(events))
	}
	byNode := map[string]string{}
	for _, e := range events {
		byNode[e.NodeID] = e.Status
	}
	if byNode["a"] != "ok" || byNode["b"] != "running" {
		t.Errorf("flushed statuses = %v, want latest per node", byNode)
	}
}

func TestThrottledHandler_FlushesInSeqOrder(t *testing.T) {
	cap := &captureHandler{}
	th := NewThrottledHandler(cap.handle, ThrottleConfig{FlushInterval: time.Hour})

	th.Handle(engine.Event{Type: engine.EventNodeStatus, NodeID: "c", Status: "ok", Seq: 9})
	th.Handle(engine.Event{Type: engine.EventNodeStatus, NodeID: "a", Status: "ok", Seq: 3})
	th.Handle(engine.Event{Type: engine.EventNodeStatus, NodeID: "b", Status: "ok", Seq: 6})

	th.Close()

	events := cap.snapshot()
	if len(events) != 3 {
		t.Fatalf("got %d flushed events, want 3", len(events))
	}
	for i, want := range []string{"a", "b", "c"} {
		if events[i].NodeID != want {
			t.Errorf("flush order[%d] = %q, want %q", i, events[i].NodeID, want)
		}
	}
}

func TestThrottledHandler_TickerFlushes(t *testing.T) {
	cap := &captureHandler{}
	th := NewThrottledHandler(cap.handle, ThrottleConfig{FlushInterval: 10 * time.Millisecond})
	defer th.Close()

	th.Handle(engine.Event{Type: engine.EventNodeStatus, NodeID: "a", Status: "running"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(cap.snapshot()) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("ticker never flushed the pending status")
}

func TestThrottledHandler_DoubleCloseIsSafe(t *testing.T) {
	th := NewThrottledHandler(func(engine.Event) {}, ThrottleConfig{})
	th.Close()
	th.Close()

	// Handle after close drops silently.
	th.Handle(engine.Event{Type: engine.EventNodeStatus, NodeID: "a"})
}
