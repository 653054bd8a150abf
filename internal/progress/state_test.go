package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gathertown/grapevine/internal/models"
)

func TestStepForTool(t *testing.T) {
	tests := []struct {
		tool string
		want string
	}{
		{"search_docs", "searching"},
		{"web_fetch", "fetching"},
		{"sql_query", "querying"},
		{"read_file", "reading"},
		{"some_brand_new_tool", "processing"},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			assert.Equal(t, tt.want, stepForTool(tt.tool).present)
		})
	}
}

func TestStateApplyAndRender(t *testing.T) {
	s := NewState()
	assert.Equal(t, "", s.Render())

	s.Apply(models.ToolCallStarted{ToolName: "search_docs"})
	assert.Equal(t, "🔍 searching…", s.Render())

	s.Apply(models.ToolResult{})
	assert.Equal(t, "🔍 searched → 🤔 thinking…", s.Render())

	// Third step evicts the oldest; only the most recent two remain.
	s.Apply(models.AgentDecision{Kind: models.DecisionFinish})
	assert.Equal(t, "🤔 thought → ✍️ writing…", s.Render())
}

func TestStateWindowNeverExceedsBound(t *testing.T) {
	s := NewState()
	for i := 0; i < 20; i++ {
		s.Apply(models.ToolResult{})
	}
	assert.LessOrEqual(t, len(s.steps), recentStepWindow)
}

func TestStateIgnoresUnknownEvents(t *testing.T) {
	s := NewState()
	s.Apply(models.UnknownEvent{})
	s.Apply(models.AgentDecision{Kind: "other"})
	assert.Equal(t, "", s.Render())
}

func TestStateFastAnswerRendering(t *testing.T) {
	s := NewState()
	s.SetFastAnswer("Restart the pod.")
	assert.Equal(t, "Restart the pod.", s.Render())

	s.Apply(models.ToolCallStarted{ToolName: "search"})
	assert.Equal(t, "Restart the pod.\n\n_🔍 searching…_", s.Render())
}
