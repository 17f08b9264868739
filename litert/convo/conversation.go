package convo

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tom-google/litertlm-go/litert/convo/fencejson"
	"github.com/tom-google/litertlm-go/litert/convo/pyliteral"
	"github.com/tom-google/litertlm-go/litert/core"
	lerrors "github.com/tom-google/litertlm-go/litert/errors"
	"github.com/tom-google/litertlm-go/litert/session"
	"github.com/tom-google/litertlm-go/litert/telemetry"
)

// OptionalArgs tunes one SendMessage/SendMessageAsync call
// (conversation.h's OptionalArgs struct).
type OptionalArgs struct {
	// HasPendingMessage defers decode: the message is prefilled but not
	// decoded, letting a caller send several user turns back-to-back
	// before asking for a reply (conversation.h's multi-part example).
	HasPendingMessage bool
	// Constraint overrides the session's constrained-decoding behavior for
	// this turn only.
	Constraint core.Constraint
	// TaskGroupID tags this call's async task for CancelGroup.
	TaskGroupID string
}

// Schema validates a tool call's arguments against a tool's declared JSON
// schema. ValidateArguments returns a non-nil error describing the first
// violation found, or nil if args satisfies schema.
type Schema interface {
	ValidateArguments(toolName string, args map[string]any) error
}

// NoSchema accepts every tool call without validation, the default when a
// Conversation is built with no Schema (spec.md §9 Open Questions: tool
// argument validation is opt-in, not mandatory, since litertlm-go ships no
// schema registry by default).
type NoSchema struct{}

func (NoSchema) ValidateArguments(string, map[string]any) error { return nil }

// Conversation drives multi-turn chat over one session.Session, threading
// assistant replies through a Framer to split prose from tool-call fences
// and reconstructing each fence's JSON via fencejson before validating it
// against an (optional) Schema. Grounded on conversation.h's Conversation
// class.
type Conversation struct {
	sess       *session.Session
	fenceStart string
	fenceEnd   string
	schema     Schema
	benchmark  *telemetry.BenchmarkInfo

	mu         sync.Mutex
	taskGroups map[string][]func()

	history History
}

// New builds a Conversation over an already-constructed session.Session.
// fenceStart/fenceEnd delimit a tool-call block in the model's raw text
// output (e.g. "```tool_call\n" / "```"); pass "", "" to disable tool-call
// parsing entirely.
func New(sess *session.Session, fenceStart, fenceEnd string, schema Schema, benchmark *telemetry.BenchmarkInfo) *Conversation {
	if schema == nil {
		schema = NoSchema{}
	}
	return &Conversation{
		sess:       sess,
		fenceStart: fenceStart,
		fenceEnd:   fenceEnd,
		schema:     schema,
		benchmark:  benchmark,
		taskGroups: make(map[string][]func()),
	}
}

// GetHistory returns a defensive copy of the conversation so far
// (conversation.h's GetHistory).
func (c *Conversation) GetHistory() []Message { return c.history.Snapshot() }

// AccessHistory runs visitor against the live history without copying
// (conversation.h's AccessHistory).
func (c *Conversation) AccessHistory(visitor func([]Message)) { c.history.Access(visitor) }

// GetBenchmarkInfo returns a value snapshot of the session's accumulated
// timing stats.
func (c *Conversation) GetBenchmarkInfo() telemetry.BenchmarkInfo {
	if c.benchmark == nil {
		return telemetry.BenchmarkInfo{}
	}
	return c.benchmark.Snapshot()
}

// GetMutableBenchmarkInfo returns the live BenchmarkInfo so a caller can
// keep reading throughput as it updates.
func (c *Conversation) GetMutableBenchmarkInfo() (*telemetry.BenchmarkInfo, error) {
	if c.benchmark == nil {
		return nil, lerrors.New(lerrors.KindNotFound, "benchmarking is not enabled for this conversation")
	}
	return c.benchmark, nil
}

// SendMessage appends message to the history, prefills it, and — unless
// optionalArgs.HasPendingMessage defers decode — decodes a reply,
// splitting it into prose and tool calls via the configured fence.
func (c *Conversation) SendMessage(ctx context.Context, message Message, optionalArgs OptionalArgs) (Message, error) {
	contents, err := c.toInputData(message)
	if err != nil {
		return Message{}, err
	}

	c.history.Append(message)
	if err := c.sess.RunPrefill(ctx, contents); err != nil {
		c.history.RemoveLast()
		return Message{}, err
	}

	if optionalArgs.HasPendingMessage {
		return Message{}, nil
	}

	cfg := core.DecodeConfig{}
	if optionalArgs.Constraint != nil {
		cfg.Constraint = optionalArgs.Constraint
	}
	resp, err := c.sess.RunDecode(ctx, cfg)
	if err != nil {
		return Message{}, err
	}
	reply := c.frameReply(resp)
	c.history.Append(reply)
	return reply, nil
}

// SendMessageAsync is SendMessage's non-blocking counterpart: prefill and
// decode run on the manager's goroutines, streaming partial text to
// stream and the finished Message to callback. If optionalArgs.TaskGroupID
// is set, the call is registered under that group for CancelGroup.
func (c *Conversation) SendMessageAsync(ctx context.Context, message Message, optionalArgs OptionalArgs, stream func(string), callback func(Message, error)) error {
	contents, err := c.toInputData(message)
	if err != nil {
		return err
	}
	c.history.Append(message)

	framer := NewFramer(c.fenceStart, c.fenceEnd)
	var textParts, toolParts []string

	streamAdapter := func(r core.Responses) {
		for _, text := range r.Texts {
			for _, frag := range framer.Push(text) {
				switch frag.Kind {
				case FragmentText:
					textParts = append(textParts, frag.Text)
					if stream != nil {
						stream(frag.Text)
					}
				case FragmentToolCallBody:
					toolParts = append(toolParts, frag.Text)
				}
			}
		}
	}

	err = c.sess.RunPrefillAsync(ctx, contents, func(err error) {
		if err != nil {
			c.history.RemoveLast()
			if callback != nil {
				callback(Message{}, err)
			}
			return
		}
		if optionalArgs.HasPendingMessage {
			if callback != nil {
				callback(Message{}, nil)
			}
			return
		}

		cfg := core.DecodeConfig{}
		if optionalArgs.Constraint != nil {
			cfg.Constraint = optionalArgs.Constraint
		}
		decErr := c.sess.RunDecodeAsync(ctx, cfg, streamAdapter, func(final core.Responses, decErr error) {
			if decErr != nil {
				if callback != nil {
					callback(Message{}, decErr)
				}
				return
			}
			for _, frag := range framer.Flush() {
				switch frag.Kind {
				case FragmentText:
					textParts = append(textParts, frag.Text)
				case FragmentToolCallBody:
					toolParts = append(toolParts, frag.Text)
				}
			}
			reply := c.buildReply(textParts, toolParts)
			c.history.Append(reply)
			if callback != nil {
				callback(reply, nil)
			}
		})
		if decErr != nil && callback != nil {
			callback(Message{}, decErr)
		}
	})
	if err != nil {
		return err
	}
	if optionalArgs.TaskGroupID != "" {
		c.mu.Lock()
		c.taskGroups[optionalArgs.TaskGroupID] = append(c.taskGroups[optionalArgs.TaskGroupID], func() { c.sess.Cancel() })
		c.mu.Unlock()
	}
	return nil
}

// RunTextScoring scores targetText against the current history prefix
// without appending anything to history.
func (c *Conversation) RunTextScoring(ctx context.Context, targetText string) (core.Responses, error) {
	return c.sess.RunTextScoring(ctx, targetText)
}

// CancelProcess cancels every task currently running for this
// conversation's session (conversation.h's CancelProcess).
func (c *Conversation) CancelProcess() { c.sess.Cancel() }

// CancelGroup cancels all async tasks previously registered under
// taskGroupID via SendMessageAsync's OptionalArgs.TaskGroupID
// (conversation.h's CancelGroup).
func (c *Conversation) CancelGroup(taskGroupID string) {
	c.mu.Lock()
	cancels := c.taskGroups[taskGroupID]
	delete(c.taskGroups, taskGroupID)
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// frameReply runs one fully-formed Responses through the Framer in a
// single pass, the synchronous-SendMessage counterpart to the
// streaming path's incremental framing.
func (c *Conversation) frameReply(resp core.Responses) Message {
	framer := NewFramer(c.fenceStart, c.fenceEnd)
	var textParts, toolParts []string
	for _, text := range resp.Texts {
		for _, frag := range framer.Push(text) {
			switch frag.Kind {
			case FragmentText:
				textParts = append(textParts, frag.Text)
			case FragmentToolCallBody:
				toolParts = append(toolParts, frag.Text)
			}
		}
	}
	for _, frag := range framer.Flush() {
		switch frag.Kind {
		case FragmentText:
			textParts = append(textParts, frag.Text)
		case FragmentToolCallBody:
			toolParts = append(toolParts, frag.Text)
		}
	}
	return c.buildReply(textParts, toolParts)
}

// buildReply joins framed text/tool fragments into one assistant Message,
// repairing and parsing each tool-call body and dropping calls whose
// schema validation fails (their raw fence text is preserved in ToolCall.Raw
// regardless, so a caller can inspect what the model actually said).
func (c *Conversation) buildReply(textParts, toolParts []string) Message {
	msg := Message{Role: RoleAssistant}
	for _, t := range textParts {
		msg.Text += t
	}
	for _, raw := range toolParts {
		repaired := fencejson.Repair(raw)
		var decoded struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(repaired), &decoded); err != nil {
			// Unparseable even after repair: keep the raw text so the
			// caller can see what was attempted.
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{Raw: raw})
			continue
		}
		if err := c.schema.ValidateArguments(decoded.Name, decoded.Arguments); err != nil {
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{Raw: raw})
			continue
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{Name: decoded.Name, Arguments: decoded.Arguments, Raw: raw})
	}
	return msg
}

// toInputData turns message into prompt segments for session.RunPrefill,
// rendering tool-result content through pyliteral when the message is a
// tool response (gemma3_data_processor.cc's FormatToolResponse path).
func (c *Conversation) toInputData(message Message) ([]core.InputData, error) {
	if message.Role == RoleTool {
		var payload any
		if err := json.Unmarshal([]byte(message.Text), &payload); err != nil {
			// Not JSON: pass the text through unchanged, matching
			// gemma3_data_processor.cc's "neither array nor object" branch.
			return []core.InputData{core.NewTextRaw(message.Text)}, nil
		}
		return []core.InputData{core.NewTextRaw(pyliteral.Format(toolResponseValue(payload)))}, nil
	}
	return []core.InputData{core.NewTextRaw(message.Text)}, nil
}

// toolResponseValue mirrors gemma3_data_processor.cc's FormatToolResponse:
// a tool response's fields may live under the key "tool_response",
// "response", or at the payload's top level.
func toolResponseValue(payload any) any {
	m, ok := payload.(map[string]any)
	if !ok {
		return payload
	}
	if v, ok := m["tool_response"]; ok {
		return v
	}
	if v, ok := m["response"]; ok {
		return v
	}
	return payload
}
