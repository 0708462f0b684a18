package conversation

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/BaSui01/duochat/types"
	"go.uber.org/zap"
)

// FinishReason explains why a conversation stopped.
type FinishReason string

const (
	ReasonStopped   FinishReason = "stopped"
	ReasonTimeLimit FinishReason = "time_limit"
	ReasonMaxTurns  FinishReason = "max_turns"
	ReasonCancelled FinishReason = "cancelled"
	ReasonError     FinishReason = "error"
)

// Result summarizes a finished run.
type Result struct {
	Reason FinishReason `json:"reason"`
	Turns  int          `json:"turns"`
	Err    error        `json:"-"`
	Stats  Stats        `json:"stats"`
}

// Observer receives progress from the driving loop. Calls happen on the
// runner's goroutine, in order.
type Observer interface {
	OnTurnStart(agent AgentInfo, turn int)
	OnFragment(agent AgentInfo, accumulated string)
	OnTurnComplete(msg Message, latency time.Duration)
	OnTurnFailed(agent AgentInfo, err error)
	OnFinished(result Result)
}

// NopObserver ignores every event. Embed it to implement only some hooks.
type NopObserver struct{}

func (NopObserver) OnTurnStart(AgentInfo, int) {}

func (NopObserver) OnFragment(AgentInfo, string) {}

func (NopObserver) OnTurnComplete(Message, time.Duration) {}

func (NopObserver) OnTurnFailed(AgentInfo, error) {}

func (NopObserver) OnFinished(Result) {}

// MultiObserver fans events out to several observers.
type MultiObserver []Observer

func (m MultiObserver) OnTurnStart(agent AgentInfo, turn int) {
	for _, o := range m {
		o.OnTurnStart(agent, turn)
	}
}

func (m MultiObserver) OnFragment(agent AgentInfo, accumulated string) {
	for _, o := range m {
		o.OnFragment(agent, accumulated)
	}
}

func (m MultiObserver) OnTurnComplete(msg Message, latency time.Duration) {
	for _, o := range m {
		o.OnTurnComplete(msg, latency)
	}
}

func (m MultiObserver) OnTurnFailed(agent AgentInfo, err error) {
	for _, o := range m {
		o.OnTurnFailed(agent, err)
	}
}

func (m MultiObserver) OnFinished(result Result) {
	for _, o := range m {
		o.OnFinished(result)
	}
}

// RunnerConfig holds the optional limits of the driving loop.
type RunnerConfig struct {
	// MaxTurns of zero means no turn cap.
	MaxTurns int `json:"max_turns"`
	// TurnDelay is a pause between turns.
	TurnDelay time.Duration `json:"turn_delay"`
}

// Runner is the driving loop: it checks the boundary conditions, runs one
// turn for the active agent, switches agents, and repeats. Turns are strictly
// sequential; Stop takes effect at the next turn boundary.
type Runner struct {
	state    *State
	executor *TurnExecutor
	observer Observer
	cfg      RunnerConfig
	logger   *zap.Logger

	stopRequested atomic.Bool
	running       atomic.Bool
}

// NewRunner wires a state to an executor. observer may be nil.
func NewRunner(state *State, executor *TurnExecutor, cfg RunnerConfig, observer Observer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Runner{
		state:    state,
		executor: executor,
		observer: observer,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "conversation"), zap.String("conversation_id", state.ID())),
	}
}

// Stop asks the loop to finish before the next turn. Safe from any goroutine.
func (r *Runner) Stop() {
	if r.stopRequested.CompareAndSwap(false, true) {
		r.logger.Info("stop requested")
	}
}

// StopRequested reports whether Stop has been called.
func (r *Runner) StopRequested() bool { return r.stopRequested.Load() }

// Running reports whether Run is in progress.
func (r *Runner) Running() bool { return r.running.Load() }

// State returns the conversation state driven by this runner.
func (r *Runner) State() *State { return r.state }

// Run drives the conversation until a stop condition or a turn failure.
// Whatever the outcome, the state is marked finished before Run returns.
func (r *Runner) Run(ctx context.Context) Result {
	if !r.running.CompareAndSwap(false, true) {
		return Result{Reason: ReasonError, Err: types.NewError(types.ErrConflict, "conversation is already running")}
	}
	defer r.running.Store(false)

	if r.state.IsFinished() {
		return r.finish(ReasonError, 0, types.NewError(types.ErrConflict, "conversation has already finished"))
	}

	agent1, agent2 := r.state.Agent(Agent1), r.state.Agent(Agent2)
	r.logger.Info("conversation started",
		zap.String("topic", r.state.Topic()),
		zap.String("agent1_model", agent1.Model),
		zap.String("agent2_model", agent2.Model),
		zap.Duration("time_limit", r.state.TimeLimit()),
		zap.Int("max_turns", r.cfg.MaxTurns),
	)

	turns := 0
	for {
		if reason, stop := r.boundary(ctx, turns); stop {
			var err error
			if reason == ReasonCancelled {
				err = ctx.Err()
			}
			return r.finish(reason, turns, err)
		}

		agent := r.state.CurrentAgent()
		r.observer.OnTurnStart(agent, turns+1)

		start := time.Now()
		msg, err := r.executor.RunTurn(ctx, r.state, func(accumulated string) {
			r.observer.OnFragment(agent, accumulated)
		})
		if err != nil {
			r.observer.OnTurnFailed(agent, err)
			if ctx.Err() != nil {
				return r.finish(ReasonCancelled, turns, err)
			}
			return r.finish(ReasonError, turns, err)
		}

		turns++
		r.observer.OnTurnComplete(msg, time.Since(start))
		r.state.SwitchAgent()

		if r.cfg.TurnDelay > 0 {
			timer := time.NewTimer(r.cfg.TurnDelay)
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
			timer.Stop()
		}
	}
}

// boundary checks the stop conditions that apply between turns.
func (r *Runner) boundary(ctx context.Context, turns int) (FinishReason, bool) {
	switch {
	case r.stopRequested.Load():
		return ReasonStopped, true
	case ctx.Err() != nil:
		return ReasonCancelled, true
	case r.state.IsTimeExpired():
		return ReasonTimeLimit, true
	case r.cfg.MaxTurns > 0 && turns >= r.cfg.MaxTurns:
		return ReasonMaxTurns, true
	}
	return "", false
}

func (r *Runner) finish(reason FinishReason, turns int, err error) Result {
	r.state.MarkFinished()
	result := Result{Reason: reason, Turns: turns, Err: err, Stats: r.state.Stats()}

	fields := []zap.Field{
		zap.String("reason", string(reason)),
		zap.Int("turns", turns),
		zap.Int("messages", result.Stats.MessageCount),
		zap.Duration("elapsed", result.Stats.Elapsed),
	}
	if err != nil {
		r.logger.Error("conversation ended with error", append(fields, zap.Error(err))...)
	} else {
		r.logger.Info("conversation ended", fields...)
	}

	r.observer.OnFinished(result)
	return result
}
