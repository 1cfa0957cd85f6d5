package bus

import (
	"sort"
	"sync"
	"time"

	"github.com/blockflow/blockflow/engine"
)

const defaultFlushInterval = 100 * time.Millisecond

// ThrottleConfig configures a ThrottledHandler.
type ThrottleConfig struct {
	// FlushInterval is how often pending node_status events are released
	// (default 100ms).
	FlushInterval time.Duration
}

// ThrottledHandler sits between the engine and a downstream EventHandler
// and thins out node_status bursts. A graph of many fast nodes emits a
// status pair per node; within each flush interval only the latest status
// per node is kept, released in seq order by a background ticker. run_state
// transitions bypass the holding map and go straight through.
//
// The engine runs one graph at a time, so node ids cannot collide across
// concurrent runs.
type ThrottledHandler struct {
	out      engine.EventHandler
	interval time.Duration

	mu     sync.Mutex
	held   map[string]engine.Event
	closed bool

	stop chan struct{}
	done chan struct{}
}

// NewThrottledHandler wraps out with node_status coalescing and starts the
// flush ticker.
func NewThrottledHandler(out engine.EventHandler, cfg ThrottleConfig) *ThrottledHandler {
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}

	th := &ThrottledHandler{
		out:      out,
		interval: interval,
		held:     make(map[string]engine.Event),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go th.loop()
	return th
}

// Handle accepts an engine event. node_status events replace any held
// status for the same node until the next flush; everything else passes
// through immediately.
func (th *ThrottledHandler) Handle(e engine.Event) {
	if e.Type != engine.EventNodeStatus {
		th.out(e)
		return
	}

	th.mu.Lock()
	defer th.mu.Unlock()

	if th.closed {
		return
	}
	th.held[e.NodeID] = e
}

// Close releases anything still held and stops the ticker. Safe to call
// more than once; Handle after Close drops silently.
func (th *ThrottledHandler) Close() {
	th.mu.Lock()
	if th.closed {
		th.mu.Unlock()
		return
	}
	th.closed = true
	th.mu.Unlock()

	close(th.stop)
	<-th.done
}

func (th *ThrottledHandler) loop() {
	defer close(th.done)

	ticker := time.NewTicker(th.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			th.flush()
		case <-th.stop:
			th.flush()
			return
		}
	}
}

// flush releases held statuses in seq order. The map is swapped out first
// so emission runs without the lock.
func (th *ThrottledHandler) flush() {
	th.mu.Lock()
	if len(th.held) == 0 {
		th.mu.Unlock()
		return
	}
	held := th.held
	th.held = make(map[string]engine.Event)
	th.mu.Unlock()

	batch := make([]engine.Event, 0, len(held))
	for _, e := range held {
		batch = append(batch, e)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Seq < batch[j].Seq })

	for _, e := range batch {
		th.out(e)
	}
}
