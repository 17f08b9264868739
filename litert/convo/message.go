// Package convo implements the L4 conversation layer: multi-turn message
// history, chat template bookkeeping, and streaming tool-call fence
// parsing, grounded on original_source/runtime/conversation/conversation.h
// and internal_callback_util.cc.
package convo

// Role names a message's speaker (conversation.h's Message roles; "model"
// is accepted as an alias for "assistant" on ingestion, see DESIGN.md).
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one parsed tool invocation captured from a code-fenced
// segment of assistant output (GLOSSARY "tool-call fence").
type ToolCall struct {
	Name      string
	Arguments map[string]any
	// Raw is the exact fenced text the call was parsed from, kept for
	// round-tripping into history even if Arguments failed to fully parse.
	Raw string
}

// Message is one turn in the conversation history.
type Message struct {
	Role Role
	// Text is the plain-text portion of the message (conversation_test.cc
	// exercises both plain replies and tool-call-bearing replies).
	Text string
	// ToolCalls holds any tool invocations parsed out of an assistant
	// message's fenced segments.
	ToolCalls []ToolCall
	// ToolCallID links a RoleTool message back to the ToolCall it answers.
	ToolCallID string
	// Name optionally tags which tool a RoleTool message's content came
	// from, for providers that key on it instead of ToolCallID.
	Name string
}

// JsonMessage is the empty sentinel conversation.h sends through its
// callback when an assistant turn has fully completed (internal_callback_
// util.cc: "user_callback(Message(JsonMessage()))").
type JsonMessage struct{}

// IsSimpleText reports whether m carries no tool calls, i.e. is safe to
// render as one verbatim assistant reply.
func (m Message) IsSimpleText() bool { return len(m.ToolCalls) == 0 }

// NewUserMessage builds a plain user turn.
func NewUserMessage(text string) Message { return Message{Role: RoleUser, Text: text} }

// NewAssistantMessage builds a plain assistant turn with no tool calls.
func NewAssistantMessage(text string) Message { return Message{Role: RoleAssistant, Text: text} }

// NewToolResultMessage builds a tool-result turn answering callID.
func NewToolResultMessage(callID, name, text string) Message {
	return Message{Role: RoleTool, Text: text, ToolCallID: callID, Name: name}
}

// normalizeRole treats "model" as an alias for "assistant" (spec.md §9 Open
// Questions decision: chat-template vocabularies that say "model" instead
// of "assistant" are accepted on ingestion).
func normalizeRole(r Role) Role {
	if r == Role("model") {
		return RoleAssistant
	}
	return r
}
