// Package otel translates engine events into OpenTelemetry spans and
// metrics.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blockflow/blockflow/engine"
)

// TracingHandler maintains a root span per run and a child span per
// executing node, opening and closing them from the event stream.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	runSpans  map[string]trace.Span
	runCtxs   map[string]context.Context
	nodeSpans map[string]trace.Span // runID:nodeID -> span
}

// NewTracingHandler creates a TracingHandler over the given tracer.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		runSpans:  make(map[string]trace.Span),
		runCtxs:   make(map[string]context.Context),
		nodeSpans: make(map[string]trace.Span),
	}
}

// Handle processes one engine event. It satisfies engine.EventHandler.
func (h *TracingHandler) Handle(e engine.Event) {
	switch e.Type {
	case engine.EventRunState:
		h.handleRunState(e)
	case engine.EventNodeStatus:
		h.handleNodeStatus(e)
	}
}

func (h *TracingHandler) handleRunState(e engine.Event) {
	if e.RunID == "" {
		return
	}

	switch e.State {
	case engine.StateRunning:
		h.mu.Lock()
		_, exists := h.runSpans[e.RunID]
		h.mu.Unlock()
		if exists {
			// Resume after a breakpoint; the span stays open.
			return
		}
		h.startRunSpan(e)

	case engine.StateFinished, engine.StateStopped, engine.StateError:
		h.endRunSpan(e)
	}
}

func (h *TracingHandler) startRunSpan(e engine.Event) {
	ctx, span := h.tracer.Start(context.Background(), "run:"+e.RunID,
		trace.WithAttributes(
			attribute.String("blockflow.run_id", e.RunID),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.runSpans[e.RunID] = span
	h.runCtxs[e.RunID] = ctx
	h.mu.Unlock()
}

func (h *TracingHandler) endRunSpan(e engine.Event) {
	h.mu.Lock()
	span, ok := h.runSpans[e.RunID]
	if ok {
		delete(h.runSpans, e.RunID)
		delete(h.runCtxs, e.RunID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	span.SetAttributes(attribute.String("blockflow.final_state", string(e.State)))
	if e.State == engine.StateError {
		span.SetStatus(codes.Error, "run ended in error")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleNodeStatus(e engine.Event) {
	if e.Status == "running" {
		h.startNodeSpan(e)
		return
	}
	h.endNodeSpan(e)
}

func (h *TracingHandler) startNodeSpan(e engine.Event) {
	h.mu.RLock()
	parentCtx, ok := h.runCtxs[e.RunID]
	h.mu.RUnlock()
	if !ok {
		parentCtx = context.Background()
	}

	_, span := h.tracer.Start(parentCtx, "node:"+e.NodeID,
		trace.WithAttributes(
			attribute.String("blockflow.run_id", e.RunID),
			attribute.String("blockflow.node_id", e.NodeID),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.nodeSpans[e.RunID+":"+e.NodeID] = span
	h.mu.Unlock()
}

func (h *TracingHandler) endNodeSpan(e engine.Event) {
	key := e.RunID + ":" + e.NodeID

	h.mu.Lock()
	span, ok := h.nodeSpans[key]
	if ok {
		delete(h.nodeSpans, key)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	span.SetAttributes(attribute.String("blockflow.status", e.Status))
	switch e.Status {
	case "fail", "error":
		span.SetStatus(codes.Error, "node ended with status "+e.Status)
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

// ActiveRunSpanContext returns the span context of a run's open root span,
// or an empty SpanContext when none is active.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.runSpans[runID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveNodeSpanContext returns the span context of an executing node's
// span, or an empty SpanContext when none is active.
func (h *TracingHandler) ActiveNodeSpanContext(runID, nodeID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.nodeSpans[runID+":"+nodeID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}
