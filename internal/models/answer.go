package models

// GeneratedAnswer is the output of one generation attempt. Confidence, when
// present, is on a 0-100 scale.
type GeneratedAnswer struct {
	Text             string
	Confidence       *int
	ConfidenceReason string
	ResponseID       string // continuation id for follow-up turns, if the backend returned one
	Fallback         bool   // true for the canned failure reply; excluded from quality analytics
}

// Empty reports whether the attempt produced no usable answer text.
func (a *GeneratedAnswer) Empty() bool {
	return a == nil || a.Text == ""
}

// StreamEvent is one observation from a streaming generation call. The set of
// variants is closed; anything the backend emits that does not map onto a
// known variant becomes UnknownEvent.
type StreamEvent interface {
	streamEvent()
}

// ToolCallStarted signals that the backend began invoking a named tool.
type ToolCallStarted struct {
	ToolName string
}

// ToolResult signals that a tool invocation returned.
type ToolResult struct{}

// AgentDecision is a terminal decision from the backend, e.g. that it has
// gathered enough and is writing the final answer.
type AgentDecision struct {
	Kind string
}

// DecisionFinish is the AgentDecision kind emitted when the backend commits
// to writing its answer.
const DecisionFinish = "finish"

// UnknownEvent is the default mapping for unrecognized stream payloads.
type UnknownEvent struct{}

func (ToolCallStarted) streamEvent() {}
func (ToolResult) streamEvent()      {}
func (AgentDecision) streamEvent()   {}
func (UnknownEvent) streamEvent()    {}
