package conversation

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Slot identifies one of the two fixed turn positions.
type Slot int

const (
	Agent1 Slot = 1
	Agent2 Slot = 2
)

// Other returns the opposite slot.
func (s Slot) Other() Slot {
	if s == Agent1 {
		return Agent2
	}
	return Agent1
}

func (s Slot) String() string {
	switch s {
	case Agent1:
		return "agent1"
	case Agent2:
		return "agent2"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// Default display names for the two agents.
const (
	DefaultAgent1Name = "Agent 1"
	DefaultAgent2Name = "Agent 2"
)

// Message is one committed utterance. Messages are never modified after they are appended.
type Message struct {
	Name      string    `json:"name"`
	Slot      Slot      `json:"slot"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentInfo is the display identity bound to a backend model.
type AgentInfo struct {
	Slot  Slot   `json:"slot"`
	Name  string `json:"name"`
	Model string `json:"model"`
}

// Settings are the inputs validated when a conversation is constructed.
type Settings struct {
	Agent1Model  string
	Agent2Model  string
	Topic        string
	SystemPrompt string
	// TimeLimit of zero means unlimited.
	TimeLimit time.Duration

	// Display names, defaulting to "Agent 1" and "Agent 2".
	Agent1Name string
	Agent2Name string
}

// MaxTimeLimitMinutes is the largest limit in minutes that fits in a time.Duration.
const MaxTimeLimitMinutes = math.MaxInt64 / int64(time.Minute)

// Stats is a read-only summary of a conversation.
type Stats struct {
	MessageCount int           `json:"message_count"`
	Elapsed      time.Duration `json:"elapsed"`
	PerAgent     map[Slot]int  `json:"per_agent"`
	Finished     bool          `json:"finished"`
}

// Option configures a State.
type Option func(*State)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *State) {
		if now != nil {
			s.now = now
		}
	}
}

// WithID sets the conversation identifier instead of a random uuid.
func WithID(id string) Option {
	return func(s *State) {
		if id != "" {
			s.id = id
		}
	}
}

// State is the single source of truth for one conversation.
//
// It has two durable states: Active and Finished, distinguished by whether the
// end instant is set. Only the driving loop writes to a State; the lock lets
// display surfaces read snapshots while a turn is in flight.
type State struct {
	mu sync.RWMutex

	id           string
	agents       [2]AgentInfo
	topic        string
	systemPrompt string
	timeLimit    time.Duration

	messages  []Message
	active    Slot
	startedAt time.Time
	endedAt   time.Time

	now func() time.Time
}

// Validate reports the first problem that would make New fail.
func (s Settings) Validate() error {
	agent1 := strings.TrimSpace(s.Agent1Model)
	agent2 := strings.TrimSpace(s.Agent2Model)

	switch {
	case agent1 == "" || agent2 == "":
		return NewValidationError("both agents need a backend model")
	case agent1 == agent2:
		return NewValidationError(fmt.Sprintf("agent 1 and agent 2 must use different models (both are %q)", agent1))
	case strings.TrimSpace(s.Topic) == "":
		return NewValidationError("topic must not be empty")
	case s.TimeLimit < 0:
		return NewValidationError("time limit must not be negative")
	}
	return nil
}

// New validates the settings and starts a conversation with agent 1 active.
func New(settings Settings, opts ...Option) (*State, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	topic := strings.TrimSpace(settings.Topic)
	agent1 := strings.TrimSpace(settings.Agent1Model)
	agent2 := strings.TrimSpace(settings.Agent2Model)

	name1 := strings.TrimSpace(settings.Agent1Name)
	if name1 == "" {
		name1 = DefaultAgent1Name
	}
	name2 := strings.TrimSpace(settings.Agent2Name)
	if name2 == "" {
		name2 = DefaultAgent2Name
	}

	s := &State{
		id: uuid.NewString(),
		agents: [2]AgentInfo{
			{Slot: Agent1, Name: name1, Model: agent1},
			{Slot: Agent2, Name: name2, Model: agent2},
		},
		topic:        topic,
		systemPrompt: settings.SystemPrompt,
		timeLimit:    settings.TimeLimit,
		active:       Agent1,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startedAt = s.now()
	return s, nil
}

// RecordMessage appends a message for the active agent, timestamped now.
// Empty or whitespace-only content is refused with an EmptyResponseError.
func (s *State) RecordMessage(name, content string) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, NewEmptyResponseError(name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now()
	// Keep timestamps non-decreasing even if the wall clock steps back.
	if n := len(s.messages); n > 0 && ts.Before(s.messages[n-1].Timestamp) {
		ts = s.messages[n-1].Timestamp
	}
	msg := Message{Name: name, Slot: s.active, Content: content, Timestamp: ts}
	s.messages = append(s.messages, msg)
	return msg, nil
}

// SwitchAgent toggles the active agent.
func (s *State) SwitchAgent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = s.active.Other()
}

// CurrentAgent returns the agent whose turn it is.
func (s *State) CurrentAgent() AgentInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agents[s.active-1]
}

// NextAgent returns the agent that speaks after the current one.
func (s *State) NextAgent() AgentInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agents[s.active.Other()-1]
}

// Agent returns the agent bound to slot.
func (s *State) Agent(slot Slot) AgentInfo {
	if slot != Agent1 && slot != Agent2 {
		return AgentInfo{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agents[slot-1]
}

// TimeRemaining reports how long is left before the time limit.
// The second result is false when the conversation is unlimited.
func (s *State) TimeRemaining() (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.timeLimit == 0 {
		return 0, false
	}
	remaining := s.timeLimit - s.now().Sub(s.startedAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// IsTimeExpired reports whether the elapsed wall time exceeds the limit.
// Expiry is advisory; it never finishes the conversation by itself.
func (s *State) IsTimeExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.timeLimit == 0 {
		return false
	}
	return s.now().Sub(s.startedAt) > s.timeLimit
}

// MarkFinished sets the end instant. Only the first call has an effect.
func (s *State) MarkFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endedAt.IsZero() {
		s.endedAt = s.now()
	}
}

// IsFinished reports whether MarkFinished has been called.
func (s *State) IsFinished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.endedAt.IsZero()
}

// Stats returns the message count and elapsed duration.
func (s *State) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	per := map[Slot]int{Agent1: 0, Agent2: 0}
	for _, m := range s.messages {
		per[m.Slot]++
	}
	return Stats{
		MessageCount: len(s.messages),
		Elapsed:      s.elapsedLocked(),
		PerAgent:     per,
		Finished:     !s.endedAt.IsZero(),
	}
}

func (s *State) elapsedLocked() time.Duration {
	end := s.endedAt
	if end.IsZero() {
		end = s.now()
	}
	return end.Sub(s.startedAt)
}

// Messages returns a copy of the message log in append order.
func (s *State) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// MessageCount returns the number of committed messages.
func (s *State) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *State) ID() string {
	return s.id
}

func (s *State) Topic() string {
	return s.topic
}

func (s *State) SystemPrompt() string {
	return s.systemPrompt
}

func (s *State) TimeLimit() time.Duration {
	return s.timeLimit
}

func (s *State) StartedAt() time.Time {
	return s.startedAt
}

// EndedAt returns the end instant and whether it has been set.
func (s *State) EndedAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endedAt, !s.endedAt.IsZero()
}
