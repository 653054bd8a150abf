package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/gathertown/grapevine/internal/models"
)

// Mode selects the generation strategy for one call.
type Mode string

const (
	// ModeFast is the cheap, low-latency call used for preliminary answers
	// and for the mutation path.
	ModeFast Mode = "fast"
	// ModeSlow is the expensive, higher-quality call. It is the only mode
	// that supports streaming.
	ModeSlow Mode = "slow"
)

// Options tune a single generation call.
type Options struct {
	Mode           Mode
	MaxTokens      int64
	AllowMutations bool   // permit state-mutating action directives in the reply
	KnowledgeHint  string // names of the tenant's configured knowledge sources
}

// Client wraps the Anthropic API for answer generation, reconciliation,
// classification, and triage analysis.
type Client struct {
	api       *anthropic.Client
	fastModel anthropic.Model
	slowModel anthropic.Model
}

// NewClient creates an LLM client with the given API key and model names.
func NewClient(apiKey, fastModel, slowModel string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:       &client,
		fastModel: anthropic.Model(fastModel),
		slowModel: anthropic.Model(slowModel),
	}
}

func (c *Client) model(mode Mode) anthropic.Model {
	if mode == Mode("") || mode == ModeFast {
		return c.fastModel
	}
	return c.slowModel
}

// answerPayload is the strict JSON shape every generation call must return.
type answerPayload struct {
	Answer           string `json:"answer"`
	Confidence       *int   `json:"confidence"`
	ConfidenceReason string `json:"confidence_reason"`
}

// buildAnswerPrompt constructs the system prompt for answer generation.
func buildAnswerPrompt(opts Options) string {
	var sb strings.Builder
	sb.WriteString(`You answer questions for a team's chat workspace. Return ONLY a JSON object with these fields:
- "answer": the reply body in plain chat markdown (empty string if you cannot answer)
- "confidence": integer 0-100, how confident you are the answer is correct and useful
- "confidence_reason": one sentence explaining the confidence number

Rules:
- Ground the answer in the conversation context provided; do not invent facts
- Keep answers concise and direct; no preamble
- If the question cannot be answered from available context, return an empty "answer"
- Return valid JSON only, no markdown fencing or explanation`)
	if opts.KnowledgeHint != "" {
		sb.WriteString("\n\nAvailable knowledge sources: ")
		sb.WriteString(opts.KnowledgeHint)
	}
	if opts.AllowMutations {
		sb.WriteString("\n\nThe user may be asking you to create, update, or delete a tracked record. When so, describe the action you are taking in the answer body.")
	} else {
		sb.WriteString("\n\nNever perform or promise state-mutating actions; answer questions only.")
	}
	return sb.String()
}

// toParams converts conversation messages into Anthropic message params.
func toParams(msgs []models.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		content := m.Content
		for _, a := range m.Attachments {
			content += fmt.Sprintf("\n[attachment: %s (%s)]", a.Name, a.MimeType)
		}
		if m.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(content)))
		} else {
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(content)))
		}
	}
	return out
}

// Generate runs a single non-streaming generation call.
func (c *Client) Generate(ctx context.Context, msgs []models.Message, opts Options) (*models.GeneratedAnswer, error) {
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model(opts.Mode),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: buildAnswerPrompt(opts)},
		},
		Messages: toParams(msgs),
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	text := extractText(msg)
	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}
	return parseAnswer(text, msg.ID)
}

// GenerateStreaming runs a slow-mode streaming call, invoking onEvent for
// each observed stream event in arrival order before resolving.
func (c *Client) GenerateStreaming(ctx context.Context, msgs []models.Message, opts Options, onEvent func(models.StreamEvent)) (*models.GeneratedAnswer, error) {
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	stream := c.api.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     c.model(ModeSlow),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: buildAnswerPrompt(opts)},
		},
		Messages: toParams(msgs),
	})

	var sb strings.Builder
	var responseID string
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			responseID = ev.Message.ID
		case anthropic.ContentBlockStartEvent:
			if ev.ContentBlock.Type == "tool_use" {
				emit(onEvent, models.ToolCallStarted{ToolName: ev.ContentBlock.Name})
			}
		case anthropic.ContentBlockDeltaEvent:
			if ev.Delta.Type == "text_delta" {
				sb.WriteString(ev.Delta.Text)
			}
		case anthropic.ContentBlockStopEvent:
			emit(onEvent, models.ToolResult{})
		case anthropic.MessageDeltaEvent:
			if ev.Delta.StopReason == "end_turn" {
				emit(onEvent, models.AgentDecision{Kind: models.DecisionFinish})
			}
		case anthropic.MessageStopEvent:
			// terminal; the loop exits on its own
		default:
			emit(onEvent, models.UnknownEvent{})
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic streaming call: %w", err)
	}

	text := sb.String()
	if text == "" {
		return nil, fmt.Errorf("no text content in streaming response")
	}
	return parseAnswer(text, responseID)
}

func emit(onEvent func(models.StreamEvent), ev models.StreamEvent) {
	if onEvent != nil {
		onEvent(ev)
	}
}

// parseAnswer decodes the strict-JSON answer payload.
func parseAnswer(text, responseID string) (*models.GeneratedAnswer, error) {
	text = stripFence(text)

	var payload answerPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	return &models.GeneratedAnswer{
		Text:             strings.TrimSpace(payload.Answer),
		Confidence:       clampConfidence(payload.Confidence),
		ConfidenceReason: payload.ConfidenceReason,
		ResponseID:       responseID,
	}, nil
}

func clampConfidence(c *int) *int {
	if c == nil {
		return nil
	}
	v := *c
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return &v
}

// extractText pulls the first text block from a non-streaming response.
func extractText(msg *anthropic.Message) string {
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text
		}
	}
	return ""
}

// stripFence removes markdown code fencing if the model wrapped its JSON.
func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}
