package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/duochat/internal/archive"
	"github.com/BaSui01/duochat/llm"
)

func TestPrintModels(t *testing.T) {
	var buf bytes.Buffer
	printModels(&buf, "ollama", nil)
	assert.Equal(t, "No models available on ollama\n", buf.String())

	buf.Reset()
	printModels(&buf, "ollama", []llm.Model{
		{ID: "llama2:latest", Family: "llama", Size: 3825819519, ModifiedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "mistral"},
	})
	out := buf.String()
	assert.Contains(t, out, "MODEL")
	assert.Contains(t, out, "llama2:latest")
	assert.Contains(t, out, "3.6 GB")
	assert.Contains(t, out, "2024-05-01")
	assert.Contains(t, out, "mistral")
}

func TestFormatSize(t *testing.T) {
	tests := map[int64]string{
		0:          "",
		512:        "512 B",
		2048:       "2.0 KB",
		5 << 20:    "5.0 MB",
		3825819519: "3.6 GB",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatSize(in), in)
	}
}

func TestPrintTranscripts(t *testing.T) {
	var buf bytes.Buffer
	printTranscripts(&buf, nil)
	assert.Equal(t, "No archived transcripts\n", buf.String())

	buf.Reset()
	printTranscripts(&buf, []archive.Transcript{{
		ID:           "conv-1",
		Topic:        "a very long topic that certainly goes past the forty rune column limit",
		Agent1Model:  "llama2",
		Agent2Model:  "mistral",
		StartedAt:    time.Now(),
		MessageCount: 4,
		FinishReason: "max_turns",
	}})
	out := buf.String()
	assert.Contains(t, out, "conv-1")
	assert.Contains(t, out, "llama2 / mistral")
	assert.Contains(t, out, "max_turns")
	assert.Contains(t, out, "…")
	assert.NotContains(t, out, "column limit")
}

func TestPrintTranscript(t *testing.T) {
	ended := time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC)
	tr := archive.Transcript{
		ID:          "conv-1",
		Topic:       "tea",
		Agent1Name:  "Agent 1",
		Agent1Model: "llama2",
		Agent2Name:  "Agent 2",
		Agent2Model: "mistral",
		StartedAt:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		EndedAt:     &ended,
		Messages: []archive.TranscriptMessage{
			{Seq: 0, Name: "Agent 1", Slot: 1, Content: "hi", Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, printTranscript(&buf, tr, "markdown"))
	assert.Equal(t, tr.Document().Markdown(), buf.String())

	buf.Reset()
	require.NoError(t, printTranscript(&buf, tr, "json"))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "tea", decoded["topic"])

	assert.Error(t, printTranscript(&buf, tr, "pdf"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc…", truncate("abcdef", 4))
	assert.Equal(t, "茶茶…", truncate("茶茶茶茶", 3))
}
