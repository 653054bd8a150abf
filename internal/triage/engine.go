package triage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gathertown/grapevine/internal/chat"
	"github.com/gathertown/grapevine/internal/llm"
	"github.com/gathertown/grapevine/internal/models"
	"github.com/gathertown/grapevine/internal/store"
	"github.com/gathertown/grapevine/internal/tracker"
)

// UpdateConfidenceCutoff is the related-match confidence at or above which
// triage updates the existing issue instead of creating a new one.
// Candidate for tenant-level tuning; kept as a named constant rather than a
// literal inside the rule.
const UpdateConfidenceCutoff = 0.9

// ExplicitReferenceOverridesCutoff makes an explicitly referenced issue an
// automatic UPDATE target even when its search confidence is below the
// cutoff. Also a candidate for tenant-level tuning.
const ExplicitReferenceOverridesCutoff = true

// Conversation is the input to one triage run.
type Conversation struct {
	TenantID  string
	ChannelID string
	ThreadTS  string
	Messages  []models.Message
	// ExplicitRef is a pre-existing tracked-issue reference annotated on the
	// conversation, e.g. from a message link.
	ExplicitRef string
}

// searchQuery derives the ticket-search query from the conversation.
func (c Conversation) searchQuery() string {
	for _, m := range c.Messages {
		if m.Role == models.RoleUser && strings.TrimSpace(m.Content) != "" {
			q := strings.TrimSpace(m.Content)
			if len(q) > 200 {
				q = q[:200]
			}
			return q
		}
	}
	return ""
}

// DecisionInputs are the only inputs the mechanical decision rule sees. The
// analysis step proposes them; it never decides.
type DecisionInputs struct {
	ExplicitRef  string
	Related      []models.RelatedTicket
	IsActionable bool
}

// Decide maps analysis inputs to an action. It is a pure function: identical
// inputs always produce the identical action and target.
func Decide(in DecisionInputs) (models.TriageAction, *models.RelatedTicket) {
	if ExplicitReferenceOverridesCutoff && in.ExplicitRef != "" {
		for i := range in.Related {
			if in.Related[i].ID == in.ExplicitRef {
				return models.ActionUpdate, &in.Related[i]
			}
		}
	}
	if best := bestMatch(in.Related); best != nil && best.Confidence >= UpdateConfidenceCutoff {
		return models.ActionUpdate, best
	}
	if !in.IsActionable {
		return models.ActionSkip, nil
	}
	return models.ActionCreate, nil
}

func bestMatch(related []models.RelatedTicket) *models.RelatedTicket {
	var best *models.RelatedTicket
	for i := range related {
		if best == nil || related[i].Confidence > best.Confidence {
			best = &related[i]
		}
	}
	return best
}

// Analyzer is the LLM-backed analysis step. Its output is untrusted input to
// Decide.
type Analyzer interface {
	AnalyzeConversation(ctx context.Context, transcript []models.Message, related []models.RelatedTicket, explicitRef string) (*llm.TriageAnalysis, error)
}

// Engine turns conversations into tracker operations.
type Engine struct {
	analyzer Analyzer
	tracker  tracker.Client
	chat     chat.Transport
	store    store.Store
	logger   *slog.Logger
}

// NewEngine creates a triage engine.
func NewEngine(analyzer Analyzer, tc tracker.Client, transport chat.Transport, st store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{analyzer: analyzer, tracker: tc, chat: transport, store: st, logger: logger}
}

// Run produces exactly one LinearOperation for the conversation and, in
// proactive mode, executes it immediately. In non-proactive mode the
// operation is persisted and shown with a confirm affordance instead; the
// returned ExecutionResult is nil in that case.
func (e *Engine) Run(ctx context.Context, conv Conversation, mode models.TriageMode) (*models.LinearOperation, *models.ExecutionResult, error) {
	op, err := e.decide(ctx, conv)
	if err != nil {
		e.postBestEffort(ctx, conv.ChannelID, conv.ThreadTS, failureMessage)
		return nil, nil, err
	}

	if mode == models.ModeProactive {
		result := e.Execute(ctx, op)
		e.postBestEffort(ctx, conv.ChannelID, conv.ThreadTS, formatOutcome(op, result))
		return op, result, nil
	}

	pending := &models.PendingAction{
		TenantID:  conv.TenantID,
		ChannelID: conv.ChannelID,
		ThreadTS:  conv.ThreadTS,
		Operation: *op,
	}
	if err := e.store.CreatePendingAction(ctx, pending); err != nil {
		e.postBestEffort(ctx, conv.ChannelID, conv.ThreadTS, failureMessage)
		return nil, nil, fmt.Errorf("persist pending action: %w", err)
	}
	e.postBestEffort(ctx, conv.ChannelID, conv.ThreadTS, formatProposal(op, pending.ID))
	return op, nil, nil
}

// decide runs search + analysis and applies the mechanical rule.
func (e *Engine) decide(ctx context.Context, conv Conversation) (*models.LinearOperation, error) {
	// Search failures abort the run: deciding CREATE without search results
	// risks filing a duplicate.
	related, err := e.tracker.SearchIssues(ctx, conv.searchQuery())
	if err != nil {
		return nil, fmt.Errorf("ticket search: %w", err)
	}

	analysis, err := e.analyzer.AnalyzeConversation(ctx, conv.Messages, related, conv.ExplicitRef)
	if err != nil {
		return nil, fmt.Errorf("triage analysis: %w", err)
	}

	action, target := Decide(DecisionInputs{
		ExplicitRef:  conv.ExplicitRef,
		Related:      related,
		IsActionable: analysis.IsActionable,
	})

	op := &models.LinearOperation{
		Action:     action,
		Confidence: analysis.Confidence,
		Reasoning:  analysis.Reasoning,
	}
	switch action {
	case models.ActionCreate:
		op.Create = &models.IssueFields{
			Title:       analysis.Title,
			Description: analysis.Description,
			Priority:    severityToPriority(analysis.Severity),
		}
	case models.ActionUpdate:
		delta, err := e.buildUpdateDelta(ctx, target.ID, analysis.Description)
		if err != nil {
			return nil, err
		}
		op.Update = &models.UpdateData{
			TargetID:    target.ID,
			TargetURL:   target.URL,
			TargetTitle: target.Title,
			Delta:       delta,
		}
	case models.ActionSkip:
		op.Skip = &models.SkipData{Reason: analysis.InsufficientReason}
		if best := bestMatch(related); best != nil {
			op.Skip.DuplicateOf = best.ID
		}
	}

	if err := op.Validate(); err != nil {
		return nil, fmt.Errorf("constructed operation: %w", err)
	}
	return op, nil
}

func (e *Engine) buildUpdateDelta(ctx context.Context, targetID, freshDescription string) (string, error) {
	existing, err := e.tracker.GetIssueDescription(ctx, targetID)
	if err != nil {
		return "", fmt.Errorf("fetch issue %s description: %w", targetID, err)
	}
	return BuildDelta(existing, freshDescription), nil
}

// Execute performs the tracker mutation for an operation. Failures are never
// retried: CREATE is not idempotent, and a blind retry could file a
// duplicate issue.
func (e *Engine) Execute(ctx context.Context, op *models.LinearOperation) *models.ExecutionResult {
	switch op.Action {
	case models.ActionSkip:
		return &models.ExecutionResult{Success: true}
	case models.ActionCreate:
		result, err := e.tracker.CreateIssue(ctx, *op.Create)
		if err != nil {
			e.logger.Warn("issue create failed", "error", err)
			return &models.ExecutionResult{Success: false, Error: err.Error()}
		}
		return result
	case models.ActionUpdate:
		if op.Update.Delta == "" {
			// Nothing new to add; the operation succeeds as a pointer to the
			// existing issue.
			return &models.ExecutionResult{
				Success:    true,
				IssueID:    op.Update.TargetID,
				IssueURL:   op.Update.TargetURL,
				IssueTitle: op.Update.TargetTitle,
			}
		}
		result, err := e.tracker.UpdateIssue(ctx, op.Update.TargetID, op.Update.Delta)
		if err != nil {
			e.logger.Warn("issue update failed", "issue", op.Update.TargetID, "error", err)
			return &models.ExecutionResult{Success: false, Error: err.Error()}
		}
		return result
	}
	return &models.ExecutionResult{Success: false, Error: fmt.Sprintf("unknown action %q", op.Action)}
}

// ConfirmAction executes a previously persisted operation verbatim, exactly
// once. The claim happens before the tracker call, so a duplicate confirm
// fails instead of re-creating an issue.
func (e *Engine) ConfirmAction(ctx context.Context, pendingID string) (*models.ExecutionResult, error) {
	claimed, err := e.store.ClaimPendingAction(ctx, pendingID)
	if err != nil {
		return nil, err
	}

	result := e.Execute(ctx, &claimed.Operation)
	e.postBestEffort(ctx, claimed.ChannelID, claimed.ThreadTS, formatOutcome(&claimed.Operation, result))
	return result, nil
}

// DeleteTicket is the sole supported compensating action after a create.
func (e *Engine) DeleteTicket(ctx context.Context, issueID string) (bool, error) {
	return e.tracker.DeleteIssue(ctx, issueID)
}

func severityToPriority(severity string) int {
	switch severity {
	case "high":
		return 1
	case "medium":
		return 2
	case "low":
		return 3
	}
	return 2
}

func (e *Engine) postBestEffort(ctx context.Context, channel, threadTS, body string) {
	if e.chat == nil || channel == "" {
		return
	}
	if _, err := e.chat.PostMessage(ctx, channel, threadTS, body); err != nil {
		e.logger.Warn("triage message post failed", "channel", channel, "error", err)
	}
}

// failureMessage is distinct from a silent no-op: the user is told the
// action could not be completed.
const failureMessage = "I couldn't complete this triage action. Nothing was changed, you may want to file it manually."

func formatOutcome(op *models.LinearOperation, result *models.ExecutionResult) string {
	if result == nil || !result.Success {
		return failureMessage
	}
	switch op.Action {
	case models.ActionCreate:
		return fmt.Sprintf("Created issue *%s* (%s). React with :wastebasket: to delete it.", result.IssueTitle, result.IssueURL)
	case models.ActionUpdate:
		if op.Update != nil && op.Update.Delta == "" {
			return fmt.Sprintf("This is already tracked in *%s* (%s); nothing new to add.", result.IssueTitle, result.IssueURL)
		}
		return fmt.Sprintf("Added the new details to *%s* (%s).", result.IssueTitle, result.IssueURL)
	case models.ActionSkip:
		reason := ""
		if op.Skip != nil {
			reason = op.Skip.Reason
		}
		return fmt.Sprintf("No action taken: %s", reason)
	}
	return failureMessage
}

func formatProposal(op *models.LinearOperation, pendingID string) string {
	switch op.Action {
	case models.ActionCreate:
		return fmt.Sprintf("I'd create a new issue: *%s*. Confirm with action id `%s`.", op.Create.Title, pendingID)
	case models.ActionUpdate:
		return fmt.Sprintf("I'd add the new details to *%s*. Confirm with action id `%s`.", op.Update.TargetTitle, pendingID)
	case models.ActionSkip:
		return fmt.Sprintf("I'd take no action: %s (action id `%s`).", op.Skip.Reason, pendingID)
	}
	return failureMessage
}
