package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/BaSui01/duochat/agent/conversation"
)

// =============================================================================
// 🎨 tui 命令：bubbletea 界面
// =============================================================================

// Runner 事件转换成的 tea 消息
type (
	turnStartMsg struct {
		agent conversation.AgentInfo
		turn  int
	}
	fragmentMsg struct {
		agent       conversation.AgentInfo
		accumulated string
	}
	turnDoneMsg   struct{ msg conversation.Message }
	turnFailedMsg struct {
		agent conversation.AgentInfo
		err   error
	}
	finishedMsg struct{ result conversation.Result }
	clockMsg    time.Time
)

const tuiEventBuffer = 256

// tuiObserver 把 Runner 事件送进 tea 消息通道。通道满时丢弃 fragment，界面退出后丢弃全部事件。
type tuiObserver struct {
	events chan tea.Msg
	quit   chan struct{}
}

func newTUIObserver() *tuiObserver {
	return &tuiObserver{events: make(chan tea.Msg, tuiEventBuffer), quit: make(chan struct{})}
}

func (o *tuiObserver) send(msg tea.Msg) {
	select {
	case o.events <- msg:
	case <-o.quit:
	}
}

// detach 在界面退出后调用
func (o *tuiObserver) detach() { close(o.quit) }

func (o *tuiObserver) OnTurnStart(agent conversation.AgentInfo, turn int) {
	o.send(turnStartMsg{agent: agent, turn: turn})
}

func (o *tuiObserver) OnFragment(agent conversation.AgentInfo, accumulated string) {
	select {
	case o.events <- fragmentMsg{agent: agent, accumulated: accumulated}:
	default:
	}
}

func (o *tuiObserver) OnTurnComplete(msg conversation.Message, _ time.Duration) {
	o.send(turnDoneMsg{msg: msg})
}

func (o *tuiObserver) OnTurnFailed(agent conversation.AgentInfo, err error) {
	o.send(turnFailedMsg{agent: agent, err: err})
}

func (o *tuiObserver) OnFinished(result conversation.Result) {
	o.send(finishedMsg{result: result})
	close(o.events)
}

func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return nil
		}
		return msg
	}
}

func clockTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return clockMsg(t) })
}

type tuiTheme struct {
	header  lipgloss.Style
	agent1  lipgloss.Style
	agent2  lipgloss.Style
	clock   lipgloss.Style
	status  lipgloss.Style
	errText lipgloss.Style
	help    lipgloss.Style
	panel   lipgloss.Style
}

func newTUITheme() tuiTheme {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	muted := lipgloss.Color("#9ca3d8")
	return tuiTheme{
		header: lipgloss.NewStyle().Bold(true).Padding(0, 1).
			BorderStyle(lipgloss.RoundedBorder()).BorderForeground(blue),
		agent1:  lipgloss.NewStyle().Foreground(blue).Bold(true),
		agent2:  lipgloss.NewStyle().Foreground(mint).Bold(true),
		clock:   lipgloss.NewStyle().Foreground(muted),
		status:  lipgloss.NewStyle().Foreground(blue),
		errText: lipgloss.NewStyle().Foreground(pink).Bold(true),
		help:    lipgloss.NewStyle().Foreground(muted),
		panel:   lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(muted),
	}
}

// tuiModel 对话界面
type tuiModel struct {
	state     *conversation.State
	runner    *conversation.Runner
	events    <-chan tea.Msg
	cancel    context.CancelFunc
	exportDir string
	logger    *zap.Logger

	viewport viewport.Model
	spinner  spinner.Model
	theme    tuiTheme
	width    int
	height   int

	active    *conversation.AgentInfo
	streaming string
	failure   error
	result    *conversation.Result
	status    string
	now       time.Time
}

func newTUIModel(state *conversation.State, runner *conversation.Runner, events <-chan tea.Msg, cancel context.CancelFunc, exportDir string, logger *zap.Logger) tuiModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return tuiModel{
		state:     state,
		runner:    runner,
		events:    events,
		cancel:    cancel,
		exportDir: exportDir,
		logger:    logger,
		viewport:  viewport.New(80, 20),
		spinner:   sp,
		theme:     newTUITheme(),
		status:    "starting...",
		now:       time.Now(),
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events), clockTick())
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(5, msg.Height-7)
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case clockMsg:
		m.now = time.Time(msg)
		if m.result == nil {
			cmds = append(cmds, clockTick())
		}
	case turnStartMsg:
		agent := msg.agent
		m.active = &agent
		m.streaming = ""
		m.status = fmt.Sprintf("turn %d", msg.turn)
		cmds = append(cmds, waitForEvent(m.events))
	case fragmentMsg:
		m.streaming = msg.accumulated
		cmds = append(cmds, waitForEvent(m.events))
	case turnDoneMsg:
		m.active = nil
		m.streaming = ""
		cmds = append(cmds, waitForEvent(m.events))
	case turnFailedMsg:
		m.streaming = ""
		m.failure = msg.err
		cmds = append(cmds, waitForEvent(m.events))
	case finishedMsg:
		result := msg.result
		m.result = &result
		m.active = nil
		m.status = fmt.Sprintf("finished: %s after %d turns", result.Reason, result.Turns)
	case tea.KeyMsg:
		switch msg.String() {
		case "s":
			if m.result == nil {
				m.runner.Stop()
				m.status = "stopping after the current turn..."
			}
		case "e":
			doc := conversation.BuildExport(m.state, conversation.WithTokenCounts())
			if path, err := writeExport(m.exportDir, doc); err != nil {
				m.logger.Warn("export failed", zap.Error(err))
				m.status = "export failed: " + err.Error()
			} else {
				m.status = "exported to " + path
			}
		case "q", "ctrl+c":
			if m.result == nil && m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		default:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
	return m, tea.Batch(cmds...)
}

func (m tuiModel) View() string {
	header := m.theme.header.Render(fmt.Sprintf("Topic: %s  ·  %s vs %s",
		m.state.Topic(),
		m.describeAgent(conversation.Agent1),
		m.describeAgent(conversation.Agent2),
	))
	body := m.theme.panel.Render(m.viewport.View())
	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.statusLine(), m.theme.help.Render("s stop · e export · q quit · ↑/↓ scroll"))
}

func (m tuiModel) describeAgent(slot conversation.Slot) string {
	a := m.state.Agent(slot)
	return m.agentStyle(slot).Render(a.Name) + " (" + a.Model + ")"
}

func (m tuiModel) agentStyle(slot conversation.Slot) lipgloss.Style {
	if slot == conversation.Agent2 {
		return m.theme.agent2
	}
	return m.theme.agent1
}

func (m tuiModel) statusLine() string {
	var parts []string
	if m.active != nil {
		parts = append(parts, m.spinner.View()+" "+m.active.Name+" is typing", "up next: "+m.state.NextAgent().Name)
	}
	parts = append(parts, m.theme.status.Render(m.status))
	ended, _ := m.state.EndedAt()
	parts = append(parts, m.theme.clock.Render("Elapsed: "+conversation.FormatElapsed(m.state.StartedAt(), ended)))
	parts = append(parts, m.theme.clock.Render("Time remaining: "+remainingLabel(m.state)))
	if m.failure != nil {
		parts = append(parts, m.theme.errText.Render(m.failure.Error()))
	}
	return strings.Join(parts, "  ·  ")
}

func (m tuiModel) renderTranscript() string {
	var b strings.Builder
	width := max(20, m.viewport.Width-2)
	for _, msg := range m.state.Messages() {
		fmt.Fprintf(&b, "%s %s\n%s\n\n",
			m.agentStyle(msg.Slot).Render(msg.Name),
			m.theme.clock.Render(msg.Timestamp.Format("15:04:05")),
			lipgloss.NewStyle().Width(width).Render(msg.Content),
		)
	}
	if m.active != nil && m.streaming != "" {
		fmt.Fprintf(&b, "%s %s\n%s\n",
			m.agentStyle(m.active.Slot).Render(m.active.Name),
			m.spinner.View(),
			lipgloss.NewStyle().Width(width).Render(m.streaming),
		)
	}
	return b.String()
}

// remainingLabel 返回剩余时间，不限时为 unlimited
func remainingLabel(state *conversation.State) string {
	remaining, limited := state.TimeRemaining()
	if !limited {
		return "unlimited"
	}
	remaining = remaining.Round(time.Second)
	return fmt.Sprintf("%02d:%02d", int(remaining.Minutes()), int(remaining.Seconds())%60)
}

func runTUI(args []string) error {
	flags, err := parseConversationFlags("tui", args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log, true)
	defer logger.Sync()

	settings, maxTurns := flags.settings(cfg.Conversation)
	if err := settings.Validate(); err != nil {
		return err
	}

	be, err := openBackend(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer be.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := be.catalog.Validate(ctx, settings.Agent1Model, settings.Agent2Model); err != nil {
		return err
	}

	store, pool, err := openArchive(ctx, cfg.Database, nil, logger)
	if err != nil {
		logger.Warn("archive not available", zap.Error(err))
	}
	if pool != nil {
		defer pool.Close()
	}

	state, err := conversation.New(settings)
	if err != nil {
		return err
	}
	observer := newTUIObserver()
	runner := conversation.NewRunner(state,
		conversation.NewTurnExecutor(be.provider, logger),
		conversation.RunnerConfig{MaxTurns: maxTurns, TurnDelay: cfg.Conversation.TurnDelay},
		observer,
		logger,
	)

	done := make(chan conversation.Result, 1)
	go func() { done <- runner.Run(ctx) }()

	model := newTUIModel(state, runner, observer.events, cancel, flags.exportPath(cfg.Conversation), logger)
	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
	observer.detach()
	if err != nil {
		cancel()
		<-done
		return err
	}

	result := <-done
	archiveDocument(store, conversation.BuildExport(state, conversation.WithTokenCounts()), result.Reason, logger)
	fmt.Printf("Conversation finished: %s after %d turns\n", result.Reason, result.Turns)
	return nil
}
