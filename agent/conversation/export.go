package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/duochat/llm/tokenizer"
	"github.com/BaSui01/duochat/types"
)

const (
	exportTimeLayout    = "2006-01-02 15:04:05"
	exportClockLayout   = "15:04:05"
	exportFileDateStamp = "20060102"
)

// ExportMessage is one message in an export document.
type ExportMessage struct {
	Name      string    `json:"name"`
	Slot      Slot      `json:"slot"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Tokens    int       `json:"tokens,omitempty"`
}

// Document is a read-only snapshot of a conversation, suitable for rendering
// or persisting. Building one never mutates the state.
type Document struct {
	ID           string          `json:"id"`
	Topic        string          `json:"topic"`
	StartedAt    time.Time       `json:"started_at"`
	EndedAt      *time.Time      `json:"ended_at,omitempty"`
	Duration     time.Duration   `json:"duration"`
	Agent1Name   string          `json:"agent1_name"`
	Agent1Model  string          `json:"agent1_model"`
	Agent2Name   string          `json:"agent2_name"`
	Agent2Model  string          `json:"agent2_model"`
	TimeLimit    time.Duration   `json:"time_limit"`
	SystemPrompt string          `json:"system_prompt"`
	Messages     []ExportMessage `json:"messages"`
}

type exportOptions struct {
	tokens bool
}

// ExportOption configures BuildExport.
type ExportOption func(*exportOptions)

// WithTokenCounts annotates each message with a token count for the model
// that produced it. Models without a registered tokenizer get an estimate.
func WithTokenCounts() ExportOption {
	return func(o *exportOptions) { o.tokens = true }
}

// BuildExport snapshots the state into a Document.
func BuildExport(state *State, opts ...ExportOption) Document {
	var o exportOptions
	for _, opt := range opts {
		opt(&o)
	}

	agent1, agent2 := state.Agent(Agent1), state.Agent(Agent2)
	stats := state.Stats()
	doc := Document{
		ID:           state.ID(),
		Topic:        state.Topic(),
		StartedAt:    state.StartedAt(),
		Duration:     stats.Elapsed,
		Agent1Name:   agent1.Name,
		Agent1Model:  agent1.Model,
		Agent2Name:   agent2.Name,
		Agent2Model:  agent2.Model,
		TimeLimit:    state.TimeLimit(),
		SystemPrompt: state.SystemPrompt(),
	}
	if end, ok := state.EndedAt(); ok {
		doc.EndedAt = &end
	}

	var counters map[Slot]tokenizer.Tokenizer
	if o.tokens {
		counters = map[Slot]tokenizer.Tokenizer{
			Agent1: tokenizer.GetTokenizerOrEstimator(agent1.Model),
			Agent2: tokenizer.GetTokenizerOrEstimator(agent2.Model),
		}
	}

	messages := state.Messages()
	doc.Messages = make([]ExportMessage, 0, len(messages))
	for _, m := range messages {
		em := ExportMessage{Name: m.Name, Slot: m.Slot, Content: m.Content, Timestamp: m.Timestamp}
		if t, ok := counters[m.Slot]; ok {
			em.Tokens = tokenizer.CountOrEstimate(t, m.Content)
		}
		doc.Messages = append(doc.Messages, em)
	}
	return doc
}

// Finished reports whether the document has an end instant.
func (d Document) Finished() bool { return d.EndedAt != nil }

// Markdown renders the document as a chat log.
func (d Document) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Chat on Topic: %s\n\n", d.Topic)
	fmt.Fprintf(&b, "**Start Time:** %s\n", d.StartedAt.Format(exportTimeLayout))
	if d.EndedAt != nil {
		fmt.Fprintf(&b, "**Finish Time:** %s\n", d.EndedAt.Format(exportTimeLayout))
		fmt.Fprintf(&b, "**Duration:** %s\n\n", FormatDuration(d.Duration))
	} else {
		b.WriteString("**Finish Time:** Not finished\n")
		b.WriteString("**Duration:** In progress\n\n")
	}

	fmt.Fprintf(&b, "**Agent 1 Model:** %s\n", d.Agent1Model)
	fmt.Fprintf(&b, "**Agent 2 Model:** %s\n", d.Agent2Model)
	fmt.Fprintf(&b, "**Turn Limit:** %s\n", FormatTimeLimit(d.TimeLimit))
	fmt.Fprintf(&b, "**System Prompt:** %s\n\n", d.SystemPrompt)
	b.WriteString("---\n\n")

	for _, m := range d.Messages {
		fmt.Fprintf(&b, "**%s** (%s)\n%s\n\n", m.Name, m.Timestamp.Format(exportClockLayout), m.Content)
	}
	return b.String()
}

// JSON encodes the document with indentation.
func (d Document) JSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// ParseDocument decodes a document produced by Document.JSON.
func ParseDocument(data []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return Document{}, types.NewError(types.ErrInvalidRequest, "invalid export document").WithCause(err)
	}
	return d, nil
}

// FileName returns the default export file name for the given instant.
func FileName(t time.Time) string {
	return "chat_" + t.Format(exportFileDateStamp) + ".md"
}

// FormatElapsed describes the running time between two instants.
// A zero start reads "Not started" and a zero end reads "In progress".
func FormatElapsed(start, end time.Time) string {
	switch {
	case start.IsZero():
		return "Not started"
	case end.IsZero():
		return "In progress"
	}
	return FormatDuration(end.Sub(start))
}

// FormatDuration renders whole minutes and seconds, e.g. "3m 7s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%dm %ds", total/60, total%60)
}

// FormatTimeLimit renders a limit in minutes; zero reads "0 minutes (unlimited)".
func FormatTimeLimit(limit time.Duration) string {
	minutes := int(limit / time.Minute)
	if limit == 0 {
		return "0 minutes (unlimited)"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
