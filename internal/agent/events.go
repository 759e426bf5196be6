package agent

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danshapiro/typedagent/internal/agenterr"
)

type EventKind string

const (
	EventExecutionStart EventKind = "execution_start"
	EventAttemptStart   EventKind = "attempt_start"
	EventPromptsBuilt   EventKind = "prompts_built"
	EventIterationStart EventKind = "iteration_start"
	EventModelResponse  EventKind = "model_response"
	EventToolCallStart  EventKind = "tool_call_start"
	EventToolCallEnd    EventKind = "tool_call_end"
	EventLayerStart     EventKind = "layer_start"
	EventLayerComplete  EventKind = "layer_complete"
	EventRetry          EventKind = "retry"
	EventSuccess        EventKind = "success"
	EventFailure        EventKind = "failure"
	EventWarning        EventKind = "warning"
)

type Event struct {
	Kind        EventKind      `json:"kind"`
	Timestamp   time.Time      `json:"timestamp"`
	ExecutionID string         `json:"execution_id"`
	Attempt     int            `json:"attempt"`
	Iteration   int            `json:"iteration"`
	Data        map[string]any `json:"data,omitempty"`
}

// Sink receives lifecycle events. Emit must not block; the executor never waits on it and
// recovers from its panics.
type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// ChannelSink delivers events on a buffered channel and drops them when the buffer is full.
type ChannelSink struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

func (s *ChannelSink) Events() <-chan Event { return s.ch }

func (s *ChannelSink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// Drop events if consumer is too slow; delivery is best-effort.
	}
}

func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// LogSink writes every event to a zap logger. Failures and warnings are logged at warn level.
type LogSink struct {
	Logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return LogSink{Logger: logger}
}

func (s LogSink) Emit(ev Event) {
	if s.Logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("execution_id", ev.ExecutionID),
		zap.Int("attempt", ev.Attempt),
		zap.Int("iteration", ev.Iteration),
	}
	if len(ev.Data) > 0 {
		fields = append(fields, zap.Any("data", ev.Data))
	}
	switch ev.Kind {
	case EventFailure, EventWarning:
		s.Logger.Warn(string(ev.Kind), fields...)
	case EventExecutionStart, EventSuccess, EventRetry:
		s.Logger.Info(string(ev.Kind), fields...)
	default:
		s.Logger.Debug(string(ev.Kind), fields...)
	}
}

// emitter fans events out to sinks. The first panic of each sink produces one LOGGING_FAILED
// warning; later panics of the same sink are logged at debug level only. Sink failures never
// change control flow.
type emitter struct {
	executionID string
	sinks       []namedSink
	logger      *zap.Logger
	warnings    []*agenterr.Error
	failed      map[int]bool
}

type namedSink struct {
	name string
	sink Sink
}

func (e *emitter) emit(kind EventKind, attempt, iteration int, data map[string]any) {
	ev := Event{
		Kind:        kind,
		Timestamp:   time.Now().UTC(),
		ExecutionID: e.executionID,
		Attempt:     attempt,
		Iteration:   iteration,
		Data:        data,
	}
	for i, s := range e.sinks {
		reason, ok := deliver(s.sink, ev)
		if ok {
			continue
		}
		if e.failed[i] {
			e.logger.Debug("observability sink failed again",
				zap.String("execution_id", e.executionID),
				zap.String("sink", s.name),
				zap.String("event", string(kind)),
			)
			continue
		}
		if e.failed == nil {
			e.failed = map[int]bool{}
		}
		e.failed[i] = true
		e.warn(agenterr.LoggingFailed(s.name, reason), attempt, iteration)
	}
}

func (e *emitter) warn(w *agenterr.Error, attempt, iteration int) {
	e.warnings = append(e.warnings, w)
	e.logger.Warn("observability sink failed",
		zap.String("execution_id", e.executionID),
		zap.String("code", string(w.Code)),
		zap.String("detail", agenterr.Format(w)),
	)
	ev := Event{
		Kind:        EventWarning,
		Timestamp:   time.Now().UTC(),
		ExecutionID: e.executionID,
		Attempt:     attempt,
		Iteration:   iteration,
		Data:        map[string]any{"code": string(w.Code), "message": agenterr.Message(w)},
	}
	for _, s := range e.sinks {
		_, _ = deliver(s.sink, ev)
	}
}

func deliver(s Sink, ev Event) (reason string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			reason, ok = fmt.Sprint(r), false
		}
	}()
	s.Emit(ev)
	return "", true
}

func sinkName(s Sink, i int) string {
	switch s.(type) {
	case *ChannelSink:
		return "channel"
	case LogSink, *LogSink:
		return "log"
	}
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("sink[%d]", i)
}
