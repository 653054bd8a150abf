package progress

import (
	"strings"

	"github.com/gathertown/grapevine/internal/models"
)

// recentStepWindow bounds the progress trace. Older steps are evicted
// oldest-first; the trace is a rolling window, not a full history.
const recentStepWindow = 2

// step is one labeled entry in the progress trace.
type step struct {
	icon    string
	present string // present-tense verb, used for the newest step
	past    string // past-tense verb, used for the steps before it
}

// toolSteps maps known tool categories to labeled steps. A tool name matches
// a category when it contains the key as a substring.
var toolSteps = map[string]step{
	"search": {icon: "🔍", present: "searching", past: "searched"},
	"read":   {icon: "📄", present: "reading", past: "read"},
	"fetch":  {icon: "🌐", present: "fetching", past: "fetched"},
	"query":  {icon: "🗄️", present: "querying", past: "queried"},
}

var (
	genericStep  = step{icon: "⚙️", present: "processing", past: "processed"}
	thinkingStep = step{icon: "🤔", present: "thinking", past: "thought"}
	writingStep  = step{icon: "✍️", present: "writing", past: "wrote"}
)

// stepForTool resolves a tool-invocation step from the lookup table.
func stepForTool(toolName string) step {
	lower := strings.ToLower(toolName)
	for key, s := range toolSteps {
		if strings.Contains(lower, key) {
			return s
		}
	}
	return genericStep
}

// State accumulates streaming events into a bounded, human-readable progress
// trace. It is created at race start and discarded at race end.
type State struct {
	steps      []step
	fastAnswer string
}

// NewState returns an empty progress state.
func NewState() *State {
	return &State{}
}

// Apply folds one stream event into the trace.
func (s *State) Apply(ev models.StreamEvent) {
	switch e := ev.(type) {
	case models.ToolCallStarted:
		s.push(stepForTool(e.ToolName))
	case models.ToolResult:
		s.push(thinkingStep)
	case models.AgentDecision:
		if e.Kind == models.DecisionFinish {
			s.push(writingStep)
		}
	}
}

// SetFastAnswer records a preliminary answer that is already on screen.
func (s *State) SetFastAnswer(text string) {
	s.fastAnswer = text
}

func (s *State) push(st step) {
	s.steps = append(s.steps, st)
	if len(s.steps) > recentStepWindow {
		s.steps = s.steps[len(s.steps)-recentStepWindow:]
	}
}

// Render produces the user-visible body: the preliminary answer when one was
// surfaced, then the trace as `pastStep → presentStep…`.
func (s *State) Render() string {
	var parts []string
	for i, st := range s.steps {
		if i == len(s.steps)-1 {
			parts = append(parts, st.icon+" "+st.present+"…")
		} else {
			parts = append(parts, st.icon+" "+st.past)
		}
	}
	trace := strings.Join(parts, " → ")

	switch {
	case s.fastAnswer != "" && trace != "":
		return s.fastAnswer + "\n\n_" + trace + "_"
	case s.fastAnswer != "":
		return s.fastAnswer
	default:
		return trace
	}
}
