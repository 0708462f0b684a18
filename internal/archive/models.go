package archive

import (
	"time"

	"github.com/BaSui01/duochat/agent/conversation"
)

// Transcript 已归档的对话记录
type Transcript struct {
	ID               string     `gorm:"primaryKey;size:64" json:"id"`
	Topic            string     `gorm:"size:500;not null" json:"topic"`
	Agent1Name       string     `gorm:"size:100" json:"agent1_name"`
	Agent1Model      string     `gorm:"size:200;not null;index:idx_transcript_models" json:"agent1_model"`
	Agent2Name       string     `gorm:"size:100" json:"agent2_name"`
	Agent2Model      string     `gorm:"size:200;not null;index:idx_transcript_models" json:"agent2_model"`
	SystemPrompt     string     `gorm:"type:text" json:"system_prompt"`
	TimeLimitSeconds int64      `gorm:"default:0" json:"time_limit_seconds"` // 0 表示不限时
	StartedAt        time.Time  `gorm:"index:idx_transcript_started" json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	DurationMillis   int64      `gorm:"default:0" json:"duration_ms"`
	FinishReason     string     `gorm:"size:32" json:"finish_reason"`
	MessageCount     int        `gorm:"default:0" json:"message_count"`
	CreatedAt        time.Time  `json:"created_at"`

	// 关联
	Messages []TranscriptMessage `gorm:"foreignKey:TranscriptID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

func (Transcript) TableName() string {
	return "dc_transcripts"
}

// TranscriptMessage 对话中的一条消息
type TranscriptMessage struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	TranscriptID string    `gorm:"size:64;not null;index:idx_transcript_seq" json:"-"`
	Seq          int       `gorm:"not null;index:idx_transcript_seq" json:"seq"` // 从 0 开始的发言顺序
	Name         string    `gorm:"size:100" json:"name"`
	Slot         int       `gorm:"not null" json:"slot"`
	Content      string    `gorm:"type:text" json:"content"`
	Tokens       int       `gorm:"default:0" json:"tokens,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func (TranscriptMessage) TableName() string {
	return "dc_transcript_messages"
}

// FromDocument 将导出文档转换为归档记录
func FromDocument(doc conversation.Document, reason conversation.FinishReason) Transcript {
	t := Transcript{
		ID:               doc.ID,
		Topic:            doc.Topic,
		Agent1Name:       doc.Agent1Name,
		Agent1Model:      doc.Agent1Model,
		Agent2Name:       doc.Agent2Name,
		Agent2Model:      doc.Agent2Model,
		SystemPrompt:     doc.SystemPrompt,
		TimeLimitSeconds: int64(doc.TimeLimit / time.Second),
		StartedAt:        doc.StartedAt,
		EndedAt:          doc.EndedAt,
		DurationMillis:   doc.Duration.Milliseconds(),
		FinishReason:     string(reason),
		MessageCount:     len(doc.Messages),
		Messages:         make([]TranscriptMessage, 0, len(doc.Messages)),
	}
	for i, m := range doc.Messages {
		t.Messages = append(t.Messages, TranscriptMessage{
			TranscriptID: doc.ID,
			Seq:          i,
			Name:         m.Name,
			Slot:         int(m.Slot),
			Content:      m.Content,
			Tokens:       m.Tokens,
			Timestamp:    m.Timestamp,
		})
	}
	return t
}

// Document 将归档记录还原为导出文档
func (t Transcript) Document() conversation.Document {
	doc := conversation.Document{
		ID:           t.ID,
		Topic:        t.Topic,
		StartedAt:    t.StartedAt,
		EndedAt:      t.EndedAt,
		Duration:     time.Duration(t.DurationMillis) * time.Millisecond,
		Agent1Name:   t.Agent1Name,
		Agent1Model:  t.Agent1Model,
		Agent2Name:   t.Agent2Name,
		Agent2Model:  t.Agent2Model,
		TimeLimit:    time.Duration(t.TimeLimitSeconds) * time.Second,
		SystemPrompt: t.SystemPrompt,
		Messages:     make([]conversation.ExportMessage, 0, len(t.Messages)),
	}
	for _, m := range t.Messages {
		doc.Messages = append(doc.Messages, conversation.ExportMessage{
			Name:      m.Name,
			Slot:      conversation.Slot(m.Slot),
			Content:   m.Content,
			Timestamp: m.Timestamp,
			Tokens:    m.Tokens,
		})
	}
	return doc
}
