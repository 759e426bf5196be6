// Package telemetry records agent lifecycle events as OpenTelemetry metrics.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/danshapiro/typedagent/internal/agent"
)

const instrumentationName = "github.com/danshapiro/typedagent/internal/telemetry"

// Metrics is an agent.Sink. Attach it with agent.WithSinks.
type Metrics struct {
	logger *zap.Logger

	executions         metric.Int64Counter
	attempts           metric.Int64Counter
	iterations         metric.Int64Counter
	toolCalls          metric.Int64Counter
	validationFailures metric.Int64Counter
	warnings           metric.Int64Counter
	tokens             metric.Int64Counter
	duration           metric.Float64Histogram
}

// NewMetrics registers the instruments on meter, or on the global meter provider when meter
// is nil.
func NewMetrics(meter metric.Meter, logger *zap.Logger) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{logger: logger}

	var err error
	m.executions, err = meter.Int64Counter(
		"typedagent.executions_total",
		metric.WithDescription("Finished executions by outcome"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, err
	}
	m.attempts, err = meter.Int64Counter(
		"typedagent.attempts_total",
		metric.WithDescription("Attempts started"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}
	m.iterations, err = meter.Int64Counter(
		"typedagent.iterations_total",
		metric.WithDescription("Model turns"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		return nil, err
	}
	m.toolCalls, err = meter.Int64Counter(
		"typedagent.tool_calls_total",
		metric.WithDescription("Tool calls requested by the model"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}
	m.validationFailures, err = meter.Int64Counter(
		"typedagent.validation_failures_total",
		metric.WithDescription("Validation layer failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}
	m.warnings, err = meter.Int64Counter(
		"typedagent.warnings_total",
		metric.WithDescription("Non-fatal warnings raised during executions"),
		metric.WithUnit("{warning}"),
	)
	if err != nil {
		return nil, err
	}
	m.tokens, err = meter.Int64Counter(
		"typedagent.tokens_total",
		metric.WithDescription("Tokens consumed by finished executions"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}
	m.duration, err = meter.Float64Histogram(
		"typedagent.execution.duration_seconds",
		metric.WithDescription("Wall time of finished executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) Name() string { return "otel" }

func (m *Metrics) Emit(ev agent.Event) {
	ctx := context.Background()
	switch ev.Kind {
	case agent.EventAttemptStart:
		m.attempts.Add(ctx, 1)
	case agent.EventIterationStart:
		m.iterations.Add(ctx, 1)
	case agent.EventToolCallStart:
		m.toolCalls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", str(ev.Data["tool"])),
			attribute.String("role", str(ev.Data["role"])),
		))
	case agent.EventLayerComplete:
		if ok, _ := ev.Data["success"].(bool); !ok {
			m.validationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", str(ev.Data["layer"]))))
		}
	case agent.EventWarning:
		m.warnings.Add(ctx, 1, metric.WithAttributes(attribute.String("code", str(ev.Data["code"]))))
	case agent.EventSuccess, agent.EventFailure:
		attrs := []attribute.KeyValue{attribute.String("outcome", string(ev.Kind))}
		if code := str(ev.Data["code"]); code != "" {
			attrs = append(attrs, attribute.String("code", code))
		}
		m.executions.Add(ctx, 1, metric.WithAttributes(attrs...))
		m.tokens.Add(ctx, num(ev.Data["input_tokens"]), metric.WithAttributes(attribute.String("kind", "input")))
		m.tokens.Add(ctx, num(ev.Data["output_tokens"]), metric.WithAttributes(attribute.String("kind", "output")))
		m.duration.Record(ctx, float64(num(ev.Data["latency_ms"]))/1000, metric.WithAttributes(attribute.String("outcome", string(ev.Kind))))
		m.logger.Debug("execution recorded", zap.String("execution_id", ev.ExecutionID), zap.String("outcome", string(ev.Kind)))
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int64:
		return x
	case float64:
		return int64(x)
	}
	return 0
}
