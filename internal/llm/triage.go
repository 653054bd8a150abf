package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/gathertown/grapevine/internal/models"
)

// TriageAnalysis is the analysis step's output. It is untrusted input to the
// mechanical decision rule; the rule itself is never delegated to the model.
type TriageAnalysis struct {
	IsActionable       bool   `json:"is_actionable"`
	InsufficientReason string `json:"insufficient_reason"`
	Severity           string `json:"severity"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	Confidence         int    `json:"confidence"`
	Reasoning          string `json:"reasoning"`
}

// buildTriagePrompt constructs the prompts for conversation analysis.
func buildTriagePrompt(transcript []models.Message, related []models.RelatedTicket, explicitRef string) (system string, user string) {
	system = `You analyze a support conversation so a triage system can decide what to do with it. You propose inputs only; you never decide the action. Return ONLY a JSON object:
- "is_actionable": false if the conversation is too vague or has no concrete ask
- "insufficient_reason": when not actionable, one sentence saying what is missing (empty otherwise)
- "severity": one of "low", "medium", "high"
- "title": concise issue title for the problem described
- "description": a full issue description with sections "## Summary", "## User feedback" (quote the user verbatim), "## Reproduction" (when reproduction details exist), "## Related" (links mentioned in the conversation)
- "confidence": integer 0-100, how well the conversation supports the title and description
- "reasoning": one sentence

Rules:
- Quote users exactly; do not paraphrase inside "## User feedback"
- Write the description as if no related ticket exists; deduplication happens elsewhere
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	if explicitRef != "" {
		sb.WriteString("The conversation explicitly references tracked issue: ")
		sb.WriteString(explicitRef)
		sb.WriteString("\n\n")
	}
	if len(related) > 0 {
		sb.WriteString("Candidate related tickets found by search:\n")
		for _, t := range related {
			fmt.Fprintf(&sb, "- %s: %s (match confidence %.2f)\n", t.ID, t.Title, t.Confidence)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Conversation:\n")
	for _, m := range transcript {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// AnalyzeConversation runs the triage analysis step. A malformed payload
// fails the whole run; no partial operation may be constructed from it.
func (c *Client) AnalyzeConversation(ctx context.Context, transcript []models.Message, related []models.RelatedTicket, explicitRef string) (*TriageAnalysis, error) {
	systemPrompt, userPrompt := buildTriagePrompt(transcript, related, explicitRef)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.slowModel,
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	text := extractText(msg)
	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}
	text = stripFence(text)

	var analysis TriageAnalysis
	if err := json.Unmarshal([]byte(text), &analysis); err != nil {
		return nil, fmt.Errorf("parse triage analysis as JSON: %w\nraw response: %s", err, text)
	}
	if analysis.IsActionable && analysis.Title == "" {
		return nil, fmt.Errorf("triage analysis is actionable but has no title\nraw response: %s", text)
	}
	return &analysis, nil
}
