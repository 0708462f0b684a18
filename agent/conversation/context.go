package conversation

import "github.com/BaSui01/duochat/llm"

// BuildContext assembles the per-turn message list sent to the backend.
//
// Every committed message is presented as assistant-role history, except the
// most recent one which is sent as the user-role stimulus. With no history the
// topic is the sole user message. The system prompt travels separately.
func BuildContext(state *State) []llm.Message {
	history := state.Messages()
	if len(history) == 0 {
		return []llm.Message{{Role: llm.RoleUser, Content: state.Topic()}}
	}

	out := make([]llm.Message, len(history))
	for i, m := range history {
		out[i] = llm.Message{Role: llm.RoleAssistant, Content: m.Content}
	}
	out[len(out)-1].Role = llm.RoleUser
	return out
}
