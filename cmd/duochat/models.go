package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/BaSui01/duochat/internal/archive"
	"github.com/BaSui01/duochat/llm"
)

// =============================================================================
// 📋 models / history 命令
// =============================================================================

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func runModels(args []string) error {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	refresh := fs.Bool("refresh", false, "Bypass the model cache")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log, true)
	defer logger.Sync()

	be, err := openBackend(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer be.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	list := be.catalog.Models
	if *refresh {
		list = be.catalog.Refresh
	}
	models, err := list(ctx)
	if err != nil {
		return err
	}
	printModels(os.Stdout, be.provider.Name(), models)
	return nil
}

func printModels(w io.Writer, provider string, models []llm.Model) {
	if len(models) == 0 {
		fmt.Fprintf(w, "No models available on %s\n", provider)
		return
	}
	t := newTable("MODEL", "FAMILY", "SIZE", "MODIFIED")
	for _, m := range models {
		modified := ""
		if !m.ModifiedAt.IsZero() {
			modified = m.ModifiedAt.Format("2006-01-02")
		}
		t.Row(m.ID, m.Family, formatSize(m.Size), modified)
	}
	fmt.Fprintln(w, t.Render())
}

func formatSize(n int64) string {
	const unit = 1024
	if n <= 0 {
		return ""
	}
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// runHistory 浏览归档：history list [--limit n] | history show <id> [--format markdown|json]
func runHistory(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: duochat history list|show <id>")
	}
	sub, args := args[0], args[1:]

	fs := flag.NewFlagSet("history "+sub, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	limit := fs.Int("limit", 20, "Number of transcripts to list")
	format := fs.String("format", "markdown", "Output format for show: markdown or json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled {
		return errors.New("transcript archive is disabled (set database.enabled)")
	}
	logger := initLogger(cfg.Log, true)
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, pool, err := openArchive(ctx, cfg.Database, nil, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	switch sub {
	case "list":
		items, err := store.List(ctx, *limit)
		if err != nil {
			return err
		}
		printTranscripts(os.Stdout, items)
		return nil
	case "show":
		if fs.NArg() != 1 {
			return errors.New("usage: duochat history show <id>")
		}
		t, err := store.Get(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		return printTranscript(os.Stdout, *t, *format)
	default:
		return fmt.Errorf("unknown history command: %s", sub)
	}
}

func printTranscripts(w io.Writer, items []archive.Transcript) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No archived transcripts")
		return
	}
	t := newTable("ID", "STARTED", "TOPIC", "AGENTS", "MESSAGES", "REASON")
	for _, it := range items {
		t.Row(
			it.ID,
			it.StartedAt.Local().Format("2006-01-02 15:04"),
			truncate(it.Topic, 40),
			it.Agent1Model+" / "+it.Agent2Model,
			strconv.Itoa(it.MessageCount),
			it.FinishReason,
		)
	}
	fmt.Fprintln(w, t.Render())
}

func printTranscript(w io.Writer, t archive.Transcript, format string) error {
	doc := t.Document()
	switch format {
	case "markdown", "md":
		_, err := io.WriteString(w, doc.Markdown())
		return err
	case "json":
		data, err := doc.JSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	default:
		return fmt.Errorf("unsupported format %q (use markdown or json)", format)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
