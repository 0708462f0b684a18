package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/BaSui01/duochat/llm"
	"github.com/BaSui01/duochat/llm/tokenizer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ProgressFunc receives the accumulated content after every fragment.
// It is a display side channel and must not mutate the conversation.
type ProgressFunc func(accumulated string)

// TurnExecutor drives one turn end to end: build context, stream the
// response, accumulate it and commit exactly once.
type TurnExecutor struct {
	provider llm.Provider
	logger   *zap.Logger
	tracer   trace.Tracer
	metrics  *turnMetrics
}

const instrumentationName = "github.com/BaSui01/duochat/agent/conversation"

// ExecutorOption configures a TurnExecutor.
type ExecutorOption func(*executorOptions)

type executorOptions struct {
	meterProvider metric.MeterProvider
}

// WithMeterProvider records turn metrics on mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) ExecutorOption {
	return func(o *executorOptions) { o.meterProvider = mp }
}

// NewTurnExecutor creates an executor over a backend provider.
func NewTurnExecutor(provider llm.Provider, logger *zap.Logger, opts ...ExecutorOption) *TurnExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := executorOptions{meterProvider: otel.GetMeterProvider()}
	for _, opt := range opts {
		opt(&o)
	}
	logger = logger.With(zap.String("component", "turn_executor"))

	m, err := newTurnMetrics(o.meterProvider.Meter(instrumentationName))
	if err != nil {
		logger.Warn("otel turn instruments unavailable, using noop", zap.Error(err))
		m, _ = newTurnMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	}
	return &TurnExecutor{
		provider: provider,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		metrics:  m,
	}
}

// turnMetrics OTel 指标，随 OTLP 导出
type turnMetrics struct {
	turns     metric.Int64Counter
	duration  metric.Float64Histogram
	fragments metric.Int64Histogram
}

func newTurnMetrics(meter metric.Meter) (*turnMetrics, error) {
	m := &turnMetrics{}
	var err error

	m.turns, err = meter.Int64Counter("duochat.turn.total",
		metric.WithDescription("Turns executed, by model and outcome"),
		metric.WithUnit("{turn}"))
	if err != nil {
		return nil, err
	}

	m.duration, err = meter.Float64Histogram("duochat.turn.duration",
		metric.WithDescription("Turn duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 120))
	if err != nil {
		return nil, err
	}

	m.fragments, err = meter.Int64Histogram("duochat.turn.fragments",
		metric.WithDescription("Stream fragments per turn"),
		metric.WithUnit("{fragment}"),
		metric.WithExplicitBucketBoundaries(1, 10, 50, 100, 250, 500, 1000))
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *turnMetrics) record(ctx context.Context, model string, fragments int, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if IsEmptyResponse(err) {
			outcome = "empty"
		}
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("outcome", outcome),
	)
	m.turns.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
	m.fragments.Record(ctx, int64(fragments), attrs)
}

// RunTurn produces one message for the active agent, or reports why it could not.
// The state is only touched once, after the stream is exhausted; a failed or
// empty stream leaves it unchanged.
func (e *TurnExecutor) RunTurn(ctx context.Context, state *State, progress ProgressFunc) (Message, error) {
	agent := state.CurrentAgent()
	messages := BuildContext(state)

	ctx, span := e.tracer.Start(ctx, "conversation.turn", trace.WithAttributes(
		attribute.String("conversation.id", state.ID()),
		attribute.String("agent.slot", agent.Slot.String()),
		attribute.String("agent.model", agent.Model),
		attribute.Int("context.messages", len(messages)),
		attribute.Int("context.tokens", contextTokens(agent.Model, state.SystemPrompt(), messages)),
	))
	defer span.End()

	start := time.Now()
	msg, fragments, err := e.stream(ctx, state, agent, messages, progress)
	span.SetAttributes(attribute.Int("stream.fragments", fragments))
	e.metrics.record(ctx, agent.Model, fragments, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("turn failed",
			zap.String("conversation_id", state.ID()),
			zap.String("agent", agent.Name),
			zap.String("model", agent.Model),
			zap.Int("fragments", fragments),
			zap.Error(err),
		)
		return Message{}, err
	}

	e.logger.Info("turn committed",
		zap.String("conversation_id", state.ID()),
		zap.String("agent", agent.Name),
		zap.String("model", agent.Model),
		zap.Int("fragments", fragments),
		zap.Int("chars", len(msg.Content)),
		zap.Duration("latency", time.Since(start)),
	)
	return msg, nil
}

// contextTokens estimates the prompt size the backend will see, system prompt included.
func contextTokens(model, systemPrompt string, messages []llm.Message) int {
	msgs := make([]tokenizer.Message, 0, len(messages)+1)
	if systemPrompt != "" {
		msgs = append(msgs, tokenizer.Message{Role: string(llm.RoleSystem), Content: systemPrompt})
	}
	for _, m := range messages {
		msgs = append(msgs, tokenizer.Message{Role: string(m.Role), Content: m.Content})
	}
	n, err := tokenizer.GetTokenizerOrEstimator(model).CountMessages(msgs)
	if err != nil {
		n, _ = tokenizer.NewEstimatorTokenizer(model).CountMessages(msgs)
	}
	return n
}

func (e *TurnExecutor) stream(ctx context.Context, state *State, agent AgentInfo, messages []llm.Message, progress ProgressFunc) (Message, int, error) {
	ch, err := e.provider.Stream(ctx, &llm.ChatRequest{
		Model:        agent.Model,
		Messages:     messages,
		SystemPrompt: state.SystemPrompt(),
	})
	if err != nil {
		return Message{}, 0, NewBackendError(describe(agent), err)
	}

	var sb strings.Builder
	fragments := 0
	done := false
	for chunk := range ch {
		if chunk.Err != nil {
			return Message{}, fragments, NewBackendError(describe(agent), chunk.Err)
		}
		if chunk.Done {
			done = true
		}
		if chunk.Content == "" {
			continue
		}
		sb.WriteString(chunk.Content)
		fragments++
		if progress != nil {
			progress(sb.String())
		}
	}

	// A channel closed by cancellation is an interrupted stream, not a short answer.
	if !done && ctx.Err() != nil {
		return Message{}, fragments, NewBackendError(describe(agent), ctx.Err())
	}

	content := sb.String()
	if strings.TrimSpace(content) == "" {
		return Message{}, fragments, NewEmptyResponseError(describe(agent))
	}

	msg, err := state.RecordMessage(agent.Name, content)
	if err != nil {
		return Message{}, fragments, err
	}
	return msg, fragments, nil
}
