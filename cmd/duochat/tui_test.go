package main

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/duochat/agent/conversation"
	"github.com/BaSui01/duochat/testutil/mocks"
)

func newTestTUIModel(t *testing.T, cancel func()) (tuiModel, *conversation.Runner, string) {
	t.Helper()
	state := newTestState(t)
	runner := conversation.NewRunner(state,
		conversation.NewTurnExecutor(mocks.NewMockProvider(), nil),
		conversation.RunnerConfig{},
		nil,
		zaptest.NewLogger(t),
	)
	dir := t.TempDir()
	m := newTUIModel(state, runner, make(chan tea.Msg), cancel, dir, zaptest.NewLogger(t))
	return update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30}), runner, dir
}

func update(t *testing.T, m tuiModel, msg tea.Msg) tuiModel {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(tuiModel)
	require.True(t, ok)
	return out
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestTUIModel_StreamingLifecycle(t *testing.T) {
	m, runner, _ := newTestTUIModel(t, nil)
	agent := runner.State().Agent(conversation.Agent1)

	m = update(t, m, turnStartMsg{agent: agent, turn: 1})
	require.NotNil(t, m.active)
	assert.Equal(t, "turn 1", m.status)
	assert.Contains(t, m.View(), "Agent 1 is typing")
	assert.Contains(t, m.View(), "up next: Agent 2")
	assert.Contains(t, m.View(), "Elapsed: In progress")

	m = update(t, m, fragmentMsg{agent: agent, accumulated: "partial"})
	assert.Equal(t, "partial", m.streaming)
	assert.Contains(t, m.View(), "partial")

	msg, err := runner.State().RecordMessage(agent.Name, "complete answer")
	require.NoError(t, err)
	m = update(t, m, turnDoneMsg{msg: msg})
	assert.Empty(t, m.streaming)
	assert.Nil(t, m.active)
	assert.Contains(t, m.View(), "complete answer")

	runner.State().MarkFinished()
	m = update(t, m, finishedMsg{result: conversation.Result{Reason: conversation.ReasonMaxTurns, Turns: 1}})
	assert.Nil(t, m.active)
	require.NotNil(t, m.result)
	assert.Equal(t, "finished: max_turns after 1 turns", m.status)
	assert.NotContains(t, m.View(), "is typing")
	assert.NotContains(t, m.View(), "up next")
	assert.Contains(t, m.View(), "Elapsed: 0m ")
}

func TestTUIModel_TurnFailedShowsError(t *testing.T) {
	m, runner, _ := newTestTUIModel(t, nil)
	agent := runner.State().Agent(conversation.Agent2)

	m = update(t, m, turnFailedMsg{agent: agent, err: conversation.NewEmptyResponseError("Agent 2 (mistral)")})
	require.Error(t, m.failure)
	assert.Contains(t, m.View(), "Agent 2 (mistral) failed to generate a response")
}

func TestTUIModel_Keys(t *testing.T) {
	cancelled := false
	m, runner, dir := newTestTUIModel(t, func() { cancelled = true })

	m = update(t, m, key("s"))
	assert.True(t, runner.StopRequested())
	assert.Equal(t, "stopping after the current turn...", m.status)

	m = update(t, m, key("e"))
	assert.True(t, strings.HasPrefix(m.status, "exported to "+dir), m.status)
	assert.FileExists(t, strings.TrimPrefix(m.status, "exported to "))

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	_, ok := next.(tuiModel)
	require.True(t, ok)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.True(t, cancelled)
}

func TestTUIModel_QuitAfterFinishDoesNotCancel(t *testing.T) {
	cancelled := false
	m, _, _ := newTestTUIModel(t, func() { cancelled = true })
	m = update(t, m, finishedMsg{result: conversation.Result{Reason: conversation.ReasonStopped}})

	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.False(t, cancelled)
}

func TestTUIObserver_DropsEventsAfterDetach(t *testing.T) {
	o := newTUIObserver()
	agent := conversation.AgentInfo{Slot: conversation.Agent1, Name: "Agent 1", Model: "llama2"}

	o.OnTurnStart(agent, 1)
	o.OnFragment(agent, "x")
	assert.Len(t, o.events, 2)

	o.detach()
	done := make(chan struct{})
	go func() {
		for i := 0; i < tuiEventBuffer+10; i++ {
			o.OnTurnStart(agent, i)
		}
		o.OnFinished(conversation.Result{Reason: conversation.ReasonCancelled})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("observer blocked after detach")
	}
}

func TestRemainingLabel(t *testing.T) {
	assert.Equal(t, "unlimited", remainingLabel(newTestState(t)))

	state, err := conversation.New(conversation.Settings{
		Agent1Model: "llama2",
		Agent2Model: "mistral",
		Topic:       "tea",
		TimeLimit:   10 * time.Minute,
	})
	require.NoError(t, err)
	assert.Regexp(t, `^(10:00|09:5\d)$`, remainingLabel(state))
}
