package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq atomic.Uint64

// OperationStats aggregates the calls of one remote operation.
type OperationStats struct {
	Calls   int64   `json:"calls"`
	Errors  int64   `json:"errors"`
	TotalMS float64 `json:"total_ms"`
}

// ExpvarMetricsRecorder publishes per-operation call counts and latency
// totals through expvar, visible at /debug/vars when served.
type ExpvarMetricsRecorder struct {
	name string
	mu   sync.Mutex
	ops  map[string]OperationStats
}

// NewExpvarMetricsRecorder publishes a recorder under name, or under a
// generated name when name is empty. expvar panics on duplicate names.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("morphic_submission_%d", expvarSeq.Add(1))
	}
	rec := &ExpvarMetricsRecorder{name: name, ops: make(map[string]OperationStats)}
	expvar.Publish(name, expvar.Func(func() any { return rec.Snapshot() }))
	return rec
}

// Name returns the expvar key.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot copies the current counters.
func (r *ExpvarMetricsRecorder) Snapshot() map[string]OperationStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.ops)
}

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.mu.Lock()
	st := r.ops[operation]
	st.Calls++
	if !success {
		st.Errors++
	}
	st.TotalMS += float64(duration) / float64(time.Millisecond)
	r.ops[operation] = st
	r.mu.Unlock()
}

// SpanRecord is one finished span written by JSONTracer.
type SpanRecord struct {
	Operation  string    `json:"operation"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS float64   `json:"duration_ms"`
}

// JSONTracer writes finished spans as JSON lines and keeps them in memory.
type JSONTracer struct {
	mu    sync.Mutex
	enc   *json.Encoder
	spans []SpanRecord
	now   func() time.Time
}

// NewJSONTracer returns a tracer writing to w. w may be nil.
func NewJSONTracer(w io.Writer) *JSONTracer {
	t := &JSONTracer{now: func() time.Time { return time.Now().UTC() }}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Spans returns the finished spans in completion order.
func (t *JSONTracer) Spans() []SpanRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SpanRecord(nil), t.spans...)
}

// Start implements Tracer.
func (t *JSONTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonSpan{tracer: t, rec: SpanRecord{Operation: operation, StartedAt: t.now()}}
}

type jsonSpan struct {
	tracer *JSONTracer
	rec    SpanRecord
	once   sync.Once
}

func (s *jsonSpan) End(err error) {
	s.once.Do(func() {
		rec := s.rec
		rec.OK = err == nil
		if err != nil {
			rec.Error = err.Error()
		}
		rec.DurationMS = float64(s.tracer.now().Sub(rec.StartedAt)) / float64(time.Millisecond)

		s.tracer.mu.Lock()
		defer s.tracer.mu.Unlock()
		s.tracer.spans = append(s.tracer.spans, rec)
		if s.tracer.enc != nil {
			_ = s.tracer.enc.Encode(rec)
		}
	})
}

// JSONAuditRecorder appends one JSON line per audited remote call.
type JSONAuditRecorder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONAuditRecorder writes audit entries to w.
func NewJSONAuditRecorder(w io.Writer) *JSONAuditRecorder {
	return &JSONAuditRecorder{enc: json.NewEncoder(w)}
}

type auditLine struct {
	Operation  string  `json:"operation"`
	Action     string  `json:"action"`
	Entity     string  `json:"entity"`
	Key        string  `json:"key"`
	RemoteID   string  `json:"remote_id,omitempty"`
	Status     string  `json:"status"`
	Error      string  `json:"error,omitempty"`
	DurationMS float64 `json:"duration_ms"`
	At         string  `json:"at"`
}

// Record implements AuditRecorder.
func (a *JSONAuditRecorder) Record(_ context.Context, e AuditEntry) {
	line := auditLine{
		Operation:  e.Operation,
		Action:     string(e.Action),
		Entity:     string(e.Entity),
		Key:        e.EntityID,
		RemoteID:   e.RemoteID,
		Status:     string(e.Status),
		Error:      e.Error,
		DurationMS: float64(e.Duration) / float64(time.Millisecond),
		At:         e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.enc.Encode(line)
}
