package tracing

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/widgethost/internal/shared/id"
)

const (
	// TraceHeader carries the trace id between services
	TraceHeader = "X-Trace-ID"
	// SpanHeader carries the parent span id between services
	SpanHeader = "X-Span-ID"

	tracePrefix = "trc"
	spanPrefix  = "spn"
	bufferSize  = 1000

	// RecentTraces is how many finished traces stay queryable
	RecentTraces = 256
	// MaxSpansPerTrace bounds one trace's retained spans; later ones are dropped
	MaxSpansPerTrace = 64
)

// TraceID represents a unique trace identifier
type TraceID string

// SpanID represents a unique span identifier
type SpanID string

// Span represents a single operation in a trace
type Span struct {
	TraceID    TraceID
	SpanID     SpanID
	ParentID   SpanID
	Name       string
	Service    string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Tags       map[string]string
	Error      error
	StatusCode int
}

// Record is the retained, serialisable form of a finished span
type Record struct {
	TraceID  TraceID           `json:"trace_id"`
	SpanID   SpanID            `json:"span_id"`
	ParentID SpanID            `json:"parent_id,omitempty"`
	Name     string            `json:"name"`
	Start    time.Time         `json:"start"`
	Duration time.Duration     `json:"duration_ns"`
	Status   int               `json:"status,omitempty"`
	Error    string            `json:"error,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// Tracer collects finished spans, logs them and keeps the most recent
// traces for lookup
type Tracer struct {
	service string
	logger  *zap.Logger
	spans   chan *Span
	done    chan struct{}
	recent  *lru.Cache[TraceID, []Record]

	mu     sync.RWMutex
	closed bool
}

// New creates a tracer and starts its collector
func New(service string, logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	recent, _ := lru.New[TraceID, []Record](RecentTraces)
	t := &Tracer{
		service: service,
		logger:  logger.Named("tracing"),
		spans:   make(chan *Span, bufferSize),
		done:    make(chan struct{}),
		recent:  recent,
	}
	go t.collectSpans()
	return t
}

// StartSpan creates a child of the span in ctx, or a new trace
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = TraceID(id.Default().GenerateWithPrefix(tracePrefix))
	}

	span := &Span{
		TraceID:   traceID,
		SpanID:    SpanID(id.Default().GenerateWithPrefix(spanPrefix)),
		ParentID:  GetSpanID(ctx),
		Name:      name,
		StartTime: time.Now(),
		Tags:      make(map[string]string),
	}
	if t != nil {
		span.Service = t.service
	}

	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, spanIDKey, span.SpanID)
	return span, newCtx
}

// Finish marks the span as complete
func (s *Span) Finish() {
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

// SetTag adds a tag to the span
func (s *Span) SetTag(key, value string) {
	s.Tags[key] = value
}

// SetError records an error in the span
func (s *Span) SetError(err error) {
	s.Error = err
	if s.StatusCode == 0 {
		s.StatusCode = 500
	}
}

// SetStatus sets the status code
func (s *Span) SetStatus(code int) {
	s.StatusCode = code
}

// Submit sends a finished span to the collector without blocking
func (t *Tracer) Submit(span *Span) {
	if t == nil {
		return
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}

	select {
	case t.spans <- span:
	default:
		t.logger.Warn("span buffer full, dropping span",
			zap.String("trace_id", string(span.TraceID)),
			zap.String("span_id", string(span.SpanID)),
		)
	}
}

// Close drains buffered spans and stops the collector
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.spans)
	t.mu.Unlock()
	<-t.done
}

// Trace returns the retained spans of a trace in completion order
func (t *Tracer) Trace(traceID TraceID) ([]Record, bool) {
	if t == nil {
		return nil, false
	}
	records, ok := t.recent.Get(traceID)
	if !ok {
		return nil, false
	}
	return append([]Record(nil), records...), true
}

func (t *Tracer) collectSpans() {
	defer close(t.done)
	for span := range t.spans {
		t.processSpan(span)
		t.retain(span)
	}
}

// retain runs on the collector goroutine only. Slices in the cache are
// replaced, never appended in place, so readers can hold them.
func (t *Tracer) retain(span *Span) {
	prev, _ := t.recent.Peek(span.TraceID)
	if len(prev) >= MaxSpansPerTrace {
		return
	}
	next := make([]Record, len(prev), len(prev)+1)
	copy(next, prev)
	t.recent.Add(span.TraceID, append(next, span.record()))
}

func (s *Span) record() Record {
	r := Record{
		TraceID:  s.TraceID,
		SpanID:   s.SpanID,
		ParentID: s.ParentID,
		Name:     s.Name,
		Start:    s.StartTime,
		Duration: s.Duration,
		Status:   s.StatusCode,
	}
	if s.Error != nil {
		r.Error = s.Error.Error()
	}
	if len(s.Tags) > 0 {
		r.Tags = make(map[string]string, len(s.Tags))
		for k, v := range s.Tags {
			r.Tags[k] = v
		}
	}
	return r
}

func (t *Tracer) processSpan(span *Span) {
	fields := []zap.Field{
		zap.String("trace_id", string(span.TraceID)),
		zap.String("span_id", string(span.SpanID)),
		zap.String("operation", span.Name),
		zap.Duration("duration", span.Duration),
		zap.Int("status", span.StatusCode),
	}
	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", string(span.ParentID)))
	}
	for k, v := range span.Tags {
		fields = append(fields, zap.String(k, v))
	}

	if span.Error != nil {
		fields = append(fields, zap.Error(span.Error))
		t.logger.Warn("span completed with error", fields...)
	} else {
		t.logger.Debug("span completed", fields...)
	}
}

// ExtractTraceContext extracts trace context from headers
func ExtractTraceContext(headers map[string]string) (TraceID, SpanID) {
	return TraceID(headers[TraceHeader]), SpanID(headers[SpanHeader])
}

// InjectTraceContext writes the trace context of ctx into headers
func InjectTraceContext(ctx context.Context, headers map[string]string) {
	if traceID := GetTraceID(ctx); traceID != "" {
		headers[TraceHeader] = string(traceID)
	}
	if spanID := GetSpanID(ctx); spanID != "" {
		headers[SpanHeader] = string(spanID)
	}
}

// WithTraceContext seeds ctx with a trace received from elsewhere
func WithTraceContext(ctx context.Context, traceID TraceID, parentID SpanID) context.Context {
	if traceID != "" {
		ctx = context.WithValue(ctx, traceIDKey, traceID)
	}
	if parentID != "" {
		ctx = context.WithValue(ctx, spanIDKey, parentID)
	}
	return ctx
}

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// GetTraceID retrieves the trace ID from context
func GetTraceID(ctx context.Context) TraceID {
	traceID, _ := ctx.Value(traceIDKey).(TraceID)
	return traceID
}

// GetSpanID retrieves the span ID from context
func GetSpanID(ctx context.Context) SpanID {
	spanID, _ := ctx.Value(spanIDKey).(SpanID)
	return spanID
}
