package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/duochat/agent/conversation"
)

// =============================================================================
// 🖥️ run 命令：终端对话
// =============================================================================

// terminalObserver 把片段增量写到终端
type terminalObserver struct {
	conversation.NopObserver
	out     io.Writer
	printed int
}

func (o *terminalObserver) OnTurnStart(agent conversation.AgentInfo, turn int) {
	o.printed = 0
	fmt.Fprintf(o.out, "\n[%d] %s (%s):\n", turn, agent.Name, agent.Model)
}

func (o *terminalObserver) OnFragment(_ conversation.AgentInfo, accumulated string) {
	if len(accumulated) > o.printed {
		io.WriteString(o.out, accumulated[o.printed:])
		o.printed = len(accumulated)
	}
}

func (o *terminalObserver) OnTurnComplete(conversation.Message, time.Duration) {
	fmt.Fprintln(o.out)
}

func (o *terminalObserver) OnTurnFailed(_ conversation.AgentInfo, err error) {
	fmt.Fprintf(o.out, "\nError: %v\n", err)
}

func (o *terminalObserver) OnFinished(result conversation.Result) {
	fmt.Fprintf(o.out, "\n--- finished: %s after %d turns ---\n", result.Reason, result.Turns)
}

func runConversation(args []string) error {
	flags, err := parseConversationFlags("run", args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log, false)
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

	ctx := context.Background()
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
	runner := conversation.NewRunner(state,
		conversation.NewTurnExecutor(be.provider, logger),
		conversation.RunnerConfig{MaxTurns: maxTurns, TurnDelay: cfg.Conversation.TurnDelay},
		&terminalObserver{out: os.Stdout},
		logger,
	)

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	runCtx, cancel := watchInterrupts(ctx, signals, func() {
		fmt.Fprintln(os.Stderr, "\nStopping after the current turn (Ctrl-C again to abort)...")
		runner.Stop()
	})
	defer cancel()

	fmt.Printf("Topic: %s\n%s (%s) vs %s (%s), time limit: %s\n",
		settings.Topic,
		state.Agent(conversation.Agent1).Name, settings.Agent1Model,
		state.Agent(conversation.Agent2).Name, settings.Agent2Model,
		conversation.FormatTimeLimit(settings.TimeLimit),
	)
	result := runner.Run(runCtx)

	doc := conversation.BuildExport(state, conversation.WithTokenCounts())
	if path, err := writeExport(flags.exportPath(cfg.Conversation), doc); err != nil {
		logger.Warn("export failed", zap.Error(err))
	} else {
		fmt.Printf("Exported to %s\n", path)
	}
	archiveDocument(store, doc, result.Reason, logger)

	if result.Reason == conversation.ReasonError {
		return result.Err
	}
	return nil
}
