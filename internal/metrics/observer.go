package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/duochat/agent/conversation"
	"github.com/BaSui01/duochat/llm/tokenizer"
)

// 轮次结果标签
const (
	OutcomeCommitted    = "committed"
	OutcomeEmpty        = "empty"
	OutcomeBackendError = "backend_error"
	OutcomeCancelled    = "cancelled"
)

// ConversationObserver 将对话事件转换为 Prometheus 指标。
// 一个实例只观察一个对话。
type ConversationObserver struct {
	conversation.NopObserver

	collector *Collector
	state     *conversation.State

	mu        sync.Mutex
	turnStart time.Time
	fragments int
}

// NewConversationObserver 创建对话指标观察者并记录对话开始
func NewConversationObserver(c *Collector, state *conversation.State) *ConversationObserver {
	c.RecordConversationStarted()
	return &ConversationObserver{collector: c, state: state}
}

func (o *ConversationObserver) OnTurnStart(conversation.AgentInfo, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.turnStart = time.Now()
	o.fragments = 0
}

func (o *ConversationObserver) OnFragment(conversation.AgentInfo, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fragments++
}

func (o *ConversationObserver) OnTurnComplete(msg conversation.Message, latency time.Duration) {
	o.mu.Lock()
	fragments := o.fragments
	o.mu.Unlock()

	model := o.state.Agent(msg.Slot).Model
	tokens := tokenizer.CountOrEstimate(tokenizer.GetTokenizerOrEstimator(model), msg.Content)
	o.collector.RecordTurn(model, OutcomeCommitted, latency, fragments, tokens)
}

func (o *ConversationObserver) OnTurnFailed(agent conversation.AgentInfo, err error) {
	o.mu.Lock()
	fragments := o.fragments
	elapsed := time.Since(o.turnStart)
	o.mu.Unlock()

	outcome := OutcomeBackendError
	switch {
	case conversation.IsEmptyResponse(err):
		outcome = OutcomeEmpty
	case errors.Is(err, context.Canceled):
		outcome = OutcomeCancelled
	}
	o.collector.RecordTurn(agent.Model, outcome, elapsed, fragments, 0)
}

func (o *ConversationObserver) OnFinished(result conversation.Result) {
	o.collector.RecordConversationFinished(string(result.Reason), result.Stats.Elapsed)
}
