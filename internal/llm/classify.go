package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/gathertown/grapevine/internal/models"
)

// ShouldAnswerResult is the pre-filter verdict for ambient channel messages.
type ShouldAnswerResult struct {
	ShouldAnswer bool   `json:"should_answer"`
	Reasoning    string `json:"reasoning"`
}

// buildShouldAnswerPrompt constructs the prompts for the proactive-answer
// pre-filter.
func buildShouldAnswerPrompt(text string, sources []string) (system string, user string) {
	system = `You decide whether a chat bot should proactively answer a channel message nobody addressed to it. Return ONLY a JSON object:
- "should_answer": true only if the message is a question the bot could plausibly answer from the listed knowledge sources
- "reasoning": one sentence

Rules:
- Social chatter, status updates, and questions aimed at a specific person are not answerable
- When in doubt, answer false; an unwanted bot reply is worse than silence
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	if len(sources) > 0 {
		sb.WriteString("Configured knowledge sources: ")
		sb.WriteString(strings.Join(sources, ", "))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Message:\n")
	sb.WriteString(text)
	user = sb.String()
	return
}

// ClassifyShouldAnswer runs the binary pre-filter for ambient questions.
func (c *Client) ClassifyShouldAnswer(ctx context.Context, text string, sources []string) (ShouldAnswerResult, error) {
	systemPrompt, userPrompt := buildShouldAnswerPrompt(text, sources)

	out, err := c.classify(ctx, systemPrompt, userPrompt)
	if err != nil {
		return ShouldAnswerResult{}, err
	}

	var result ShouldAnswerResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		return ShouldAnswerResult{}, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, out)
	}
	return result, nil
}

// buildMutationPrompt constructs the prompts for the mutation classifier.
func buildMutationPrompt(text string, context []models.Message) (system string, user string) {
	system = `You decide whether a chat message asks for a state-mutating action (creating, updating, or deleting a record in an external system) as opposed to asking a question. Return ONLY a JSON object:
- "is_mutating": true if the message requests a create/update/delete action
- "reasoning": one sentence

Rules:
- Questions about existing records are not mutating
- Consider the conversation context: a bare "yes, do it" after a proposed action is mutating
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	if len(context) > 0 {
		sb.WriteString("Conversation context:\n")
		for _, m := range context {
			sb.WriteString(string(m.Role))
			sb.WriteString(": ")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Message:\n")
	sb.WriteString(text)
	user = sb.String()
	return
}

// ClassifyIsMutatingAction reports whether the message describes a
// state-mutating request, conditioned on conversation context.
func (c *Client) ClassifyIsMutatingAction(ctx context.Context, text string, context []models.Message) (bool, error) {
	systemPrompt, userPrompt := buildMutationPrompt(text, context)

	out, err := c.classify(ctx, systemPrompt, userPrompt)
	if err != nil {
		return false, err
	}

	var result struct {
		IsMutating bool `json:"is_mutating"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		return false, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, out)
	}
	return result.IsMutating, nil
}

// classify runs a small fast-model call and returns the fencing-stripped text.
func (c *Client) classify(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.fastModel,
		MaxTokens: 512,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	text := extractText(msg)
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return stripFence(text), nil
}
