package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// JudgeVerdict is the outcome of reconciling a preliminary answer that was
// already shown against the authoritative answer.
type JudgeVerdict struct {
	NoUpdate   bool   // the preliminary answer stands
	Text       string // replacement/merged body when NoUpdate is false
	Confidence *int   // overrides both inputs' confidence for display, when present
}

// buildJudgePrompt constructs the system and user prompts for the judge step.
// Both bodies must arrive with confidence annotations already stripped.
func buildJudgePrompt(preliminary, final string) (system string, user string) {
	system = `A user was already shown a preliminary answer while a higher-quality answer was being computed. Decide whether the preliminary answer should stand. Return ONLY a JSON object:
- "verdict": "no_update" if the preliminary answer is consistent with the final answer and complete enough to stand, otherwise "replace"
- "answer": when verdict is "replace", the body the user should see instead (merge the two answers when both contribute); empty string for "no_update"
- "confidence": integer 0-100 for the answer the user ends up seeing

Rules:
- Prefer "no_update" when the answers agree; a gratuitous edit makes the bot look indecisive
- Never leave the user with a preliminary answer the final answer contradicts
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	sb.WriteString("Preliminary answer (already visible to the user):\n")
	sb.WriteString(preliminary)
	sb.WriteString("\n\nFinal answer:\n")
	sb.WriteString(final)
	user = sb.String()
	return
}

// Judge reconciles a surfaced preliminary answer with the authoritative one.
func (c *Client) Judge(ctx context.Context, preliminary, final string) (*JudgeVerdict, error) {
	systemPrompt, userPrompt := buildJudgePrompt(preliminary, final)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.fastModel,
		MaxTokens: 2048,
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

	var payload struct {
		Verdict    string `json:"verdict"`
		Answer     string `json:"answer"`
		Confidence *int   `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}

	verdict := &JudgeVerdict{
		NoUpdate:   payload.Verdict == "no_update",
		Text:       strings.TrimSpace(payload.Answer),
		Confidence: clampConfidence(payload.Confidence),
	}
	if !verdict.NoUpdate && verdict.Text == "" {
		return nil, fmt.Errorf("judge verdict %q carries no replacement answer", payload.Verdict)
	}
	return verdict, nil
}
