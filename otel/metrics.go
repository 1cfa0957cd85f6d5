package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/blockflow/blockflow/engine"
)

// MetricsHandler records node and run metrics from engine events. The
// event stream carries no durations, so start timestamps are tracked per
// run and per executing node.
type MetricsHandler struct {
	nodeExecutions metric.Int64Counter
	nodeFailures   metric.Int64Counter
	nodeDuration   metric.Float64Histogram
	runDuration    metric.Float64Histogram

	mu         sync.Mutex
	runStarts  map[string]time.Time
	nodeStarts map[string]time.Time // runID:nodeID -> start
}

// NewMetricsHandler creates a MetricsHandler with instruments registered
// on the given meter.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	nodeExec, err := meter.Int64Counter("blockflow.node.executions",
		metric.WithDescription("Number of node executions"),
	)
	if err != nil {
		return nil, err
	}

	nodeFail, err := meter.Int64Counter("blockflow.node.failures",
		metric.WithDescription("Number of node executions ending in fail or error"),
	)
	if err != nil {
		return nil, err
	}

	nodeDur, err := meter.Float64Histogram("blockflow.node.duration",
		metric.WithDescription("Duration of node execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("blockflow.run.duration",
		metric.WithDescription("Duration of a run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		nodeExecutions: nodeExec,
		nodeFailures:   nodeFail,
		nodeDuration:   nodeDur,
		runDuration:    runDur,
		runStarts:      make(map[string]time.Time),
		nodeStarts:     make(map[string]time.Time),
	}, nil
}

// Handle processes one engine event. It satisfies engine.EventHandler.
func (h *MetricsHandler) Handle(e engine.Event) {
	switch e.Type {
	case engine.EventRunState:
		h.handleRunState(e)
	case engine.EventNodeStatus:
		h.handleNodeStatus(e)
	}
}

func (h *MetricsHandler) handleRunState(e engine.Event) {
	if e.RunID == "" {
		return
	}

	switch e.State {
	case engine.StateRunning:
		h.mu.Lock()
		if _, ok := h.runStarts[e.RunID]; !ok {
			h.runStarts[e.RunID] = e.Time
		}
		h.mu.Unlock()

	case engine.StateFinished, engine.StateStopped, engine.StateError:
		h.mu.Lock()
		start, ok := h.runStarts[e.RunID]
		if ok {
			delete(h.runStarts, e.RunID)
		}
		h.mu.Unlock()
		if !ok {
			return
		}
		h.runDuration.Record(context.Background(),
			e.Time.Sub(start).Seconds(),
			metric.WithAttributes(
				attribute.String("final_state", string(e.State)),
			))
	}
}

func (h *MetricsHandler) handleNodeStatus(e engine.Event) {
	key := e.RunID + ":" + e.NodeID

	if e.Status == "running" {
		h.mu.Lock()
		h.nodeStarts[key] = e.Time
		h.mu.Unlock()
		return
	}

	h.mu.Lock()
	start, ok := h.nodeStarts[key]
	if ok {
		delete(h.nodeStarts, key)
	}
	h.mu.Unlock()

	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("node_id", e.NodeID),
		attribute.String("status", e.Status),
	)
	h.nodeExecutions.Add(ctx, 1, attrs)
	if e.Status == "fail" || e.Status == "error" {
		h.nodeFailures.Add(ctx, 1, attrs)
	}
	if ok {
		h.nodeDuration.Record(ctx, e.Time.Sub(start).Seconds(), attrs)
	}
}
