package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/duochat/agent/conversation"
	"github.com/BaSui01/duochat/api"
	"github.com/BaSui01/duochat/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🗂️ 对话会话注册表
// =============================================================================

// ObserverFactory 为新会话创建额外的观察者（例如指标）
type ObserverFactory func(state *conversation.State) conversation.Observer

// FinishHook 在会话结束后调用（例如归档、缓存导出）
type FinishHook func(ctx context.Context, doc conversation.Document, result conversation.Result)

// SessionConfig 会话注册表配置
type SessionConfig struct {
	// 同时运行的最大会话数
	MaxSessions int
	// 已结束会话的保留时长
	TTL time.Duration
	// 轮次间隔
	TurnDelay time.Duration
}

// Session 一场在后台运行的对话
type Session struct {
	runner *conversation.Runner
	hub    *eventHub
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	result *conversation.Result
}

// ID 返回对话 ID
func (s *Session) ID() string { return s.runner.State().ID() }

// State 返回对话状态
func (s *Session) State() *conversation.State { return s.runner.State() }

// Stop 请求在下一个轮次边界停止
func (s *Session) Stop() { s.runner.Stop() }

// Done 在 Runner 返回后关闭
func (s *Session) Done() <-chan struct{} { return s.done }

// Result 返回结束结果；运行中时第二个返回值为 false
func (s *Session) Result() (conversation.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result == nil {
		return conversation.Result{}, false
	}
	return *s.result, true
}

// Status 生成 API 状态快照
func (s *Session) Status() api.ConversationStatus {
	s.mu.RLock()
	result := s.result
	s.mu.RUnlock()
	return api.NewConversationStatus(s.State(), s.runner.StopRequested(), result)
}

func (s *Session) finishedAt() (time.Time, bool) {
	return s.State().EndedAt()
}

// SessionManager 管理进程内的全部对话会话
type SessionManager struct {
	executor  *conversation.TurnExecutor
	config    SessionConfig
	observers []ObserverFactory
	onFinish  []FinishHook
	root      *zap.Logger
	logger    *zap.Logger

	baseCtx context.Context
	mu      sync.RWMutex
	wg      sync.WaitGroup
	items   map[string]*Session
}

// NewSessionManager 创建会话注册表。ctx 取消时所有运行中的对话都会被取消。
func NewSessionManager(ctx context.Context, executor *conversation.TurnExecutor, cfg SessionConfig, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 32
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &SessionManager{
		executor: executor,
		config:   cfg,
		root:     logger,
		logger:   logger.With(zap.String("component", "session_manager")),
		baseCtx:  ctx,
		items:    make(map[string]*Session),
	}
}

// AddObserver 注册观察者工厂，仅影响之后创建的会话
func (m *SessionManager) AddObserver(f ObserverFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, f)
}

// OnFinish 注册结束回调
func (m *SessionManager) OnFinish(h FinishHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFinish = append(m.onFinish, h)
}

// Start 创建并在后台启动一场对话
func (m *SessionManager) Start(settings conversation.Settings, maxTurns int) (*Session, error) {
	state, err := conversation.New(settings)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.evictLocked(time.Now())
	if running := m.runningLocked(); running >= m.config.MaxSessions {
		m.mu.Unlock()
		return nil, types.NewError(types.ErrServiceUnavailable,
			fmt.Sprintf("too many running conversations (%d)", running)).
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithRetryable(true)
	}

	hub := newEventHub(state, m.logger)
	observers := conversation.MultiObserver{hub}
	for _, f := range m.observers {
		observers = append(observers, f(state))
	}
	hooks := append([]FinishHook(nil), m.onFinish...)

	ctx, cancel := context.WithCancel(m.baseCtx)
	runner := conversation.NewRunner(state, m.executor, conversation.RunnerConfig{
		MaxTurns:  maxTurns,
		TurnDelay: m.config.TurnDelay,
	}, observers, m.root)

	sess := &Session{runner: runner, hub: hub, cancel: cancel, done: make(chan struct{})}
	m.items[state.ID()] = sess
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(ctx, sess, hooks)
	return sess, nil
}

func (m *SessionManager) run(ctx context.Context, sess *Session, hooks []FinishHook) {
	defer m.wg.Done()
	defer close(sess.done)
	defer sess.cancel()

	result := sess.runner.Run(ctx)

	sess.mu.Lock()
	sess.result = &result
	sess.mu.Unlock()
	sess.hub.finish(sess.Status())

	if len(hooks) == 0 {
		return
	}
	doc := conversation.BuildExport(sess.State(), conversation.WithTokenCounts())
	hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for _, h := range hooks {
		h(hookCtx, doc, result)
	}
}

// Get 按 ID 查找会话
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.items[id]
	return s, ok
}

// List 返回按开始时间倒序的全部会话
func (m *SessionManager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.items))
	for _, s := range m.items {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].State().StartedAt().After(out[j].State().StartedAt())
	})
	return out
}

// Running 返回运行中的会话数
func (m *SessionManager) Running() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runningLocked()
}

// Shutdown 取消全部运行中的对话并等待其结束
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, s := range m.items {
		s.cancel()
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *SessionManager) runningLocked() int {
	n := 0
	for _, s := range m.items {
		if _, finished := s.Result(); !finished {
			n++
		}
	}
	return n
}

// evictLocked 删除结束时间超过 TTL 的会话
func (m *SessionManager) evictLocked(now time.Time) {
	for id, s := range m.items {
		if _, finished := s.Result(); !finished {
			continue
		}
		if end, ok := s.finishedAt(); ok && now.Sub(end) > m.config.TTL {
			delete(m.items, id)
		}
	}
}

// =============================================================================
// 📡 事件广播
// =============================================================================

const subscriberBuffer = 256

// eventHub 把 Runner 事件扇出给 WebSocket 订阅者。
// 订阅者缓冲满时丢弃 fragment 事件，其余事件阻塞前先断开该订阅者。
type eventHub struct {
	conversation.NopObserver

	state  *conversation.State
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[chan api.StreamEvent]struct{}
	closed bool
	last   *api.StreamEvent
}

func newEventHub(state *conversation.State, logger *zap.Logger) *eventHub {
	return &eventHub{state: state, logger: logger, subs: make(map[chan api.StreamEvent]struct{})}
}

// subscribe 返回已提交消息的快照和之后的事件通道。
// 快照与通道可能重叠，调用方按 message.index 去重。
func (h *eventHub) subscribe() ([]conversation.Message, <-chan api.StreamEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan api.StreamEvent, subscriberBuffer)
	snapshot := h.state.Messages()
	if h.closed {
		if h.last != nil {
			ch <- *h.last
		}
		close(ch)
		return snapshot, ch, func() {}
	}
	h.subs[ch] = struct{}{}
	return snapshot, ch, func() { h.unsubscribe(ch) }
}

func (h *eventHub) unsubscribe(ch chan api.StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *eventHub) publish(ev api.StreamEvent) {
	ev.Timestamp = time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			if ev.Type == api.EventFragment {
				continue
			}
			h.logger.Warn("dropping slow stream subscriber", zap.String("conversation_id", h.state.ID()))
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *eventHub) finish(status api.ConversationStatus) {
	ev := api.StreamEvent{Type: api.EventFinished, Status: &status}
	h.publish(ev)

	h.mu.Lock()
	defer h.mu.Unlock()
	ev.Timestamp = time.Now()
	h.last = &ev
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = nil
}

func (h *eventHub) OnTurnStart(agent conversation.AgentInfo, turn int) {
	view := api.NewAgentView(agent)
	h.publish(api.StreamEvent{Type: api.EventTurnStart, Agent: &view, Turn: turn})
}

func (h *eventHub) OnFragment(agent conversation.AgentInfo, accumulated string) {
	view := api.NewAgentView(agent)
	h.publish(api.StreamEvent{Type: api.EventFragment, Agent: &view, Content: accumulated})
}

func (h *eventHub) OnTurnComplete(msg conversation.Message, _ time.Duration) {
	view := api.NewMessageView(h.state.MessageCount()-1, msg)
	h.publish(api.StreamEvent{Type: api.EventMessage, Message: &view})
}

func (h *eventHub) OnTurnFailed(agent conversation.AgentInfo, err error) {
	view := api.NewAgentView(agent)
	h.publish(api.StreamEvent{Type: api.EventTurnFailed, Agent: &view, Error: err.Error()})
}
