package models

import (
	"fmt"
	"time"
)

// TriageAction is the kind of tracker mutation a triage run decided on.
type TriageAction string

const (
	ActionCreate TriageAction = "create"
	ActionUpdate TriageAction = "update"
	ActionSkip   TriageAction = "skip"
)

// TriageMode selects when a triage decision is executed.
type TriageMode string

const (
	// ModeProactive executes the decision immediately and informs the
	// channel after the fact, offering delete as the only undo.
	ModeProactive TriageMode = "proactive"
	// ModeNonProactive shows the computed decision with a confirm button
	// and executes the stored payload only on that later user action.
	ModeNonProactive TriageMode = "non_proactive"
)

// RelatedTicket is a candidate duplicate found by the ticket-search step.
// Confidence is on a 0-1 scale and is read-only after the search.
type RelatedTicket struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// IssueFields is the payload for creating a new tracker issue.
type IssueFields struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
	TeamID      string `json:"team_id"`
}

// UpdateData carries an UPDATE's target and its minimal content delta. An
// empty delta is valid: the operation succeeds without mutating content.
type UpdateData struct {
	TargetID    string `json:"target_id"`
	TargetURL   string `json:"target_url"`
	TargetTitle string `json:"target_title"`
	Delta       string `json:"delta"`
}

// SkipData explains why no tracker mutation happens. DuplicateOf is an
// optional pointer for explanation only, never a mutation target.
type SkipData struct {
	Reason      string `json:"reason"`
	DuplicateOf string `json:"duplicate_of,omitempty"`
}

// LinearOperation is the triage engine's decision: exactly one of the
// variant payloads is set, matching Action.
type LinearOperation struct {
	Action     TriageAction `json:"action"`
	Confidence int          `json:"confidence"`
	Reasoning  string       `json:"reasoning"`
	Create     *IssueFields `json:"create,omitempty"`
	Update     *UpdateData  `json:"update,omitempty"`
	Skip       *SkipData    `json:"skip,omitempty"`
}

// Validate enforces the variant invariants before an operation is executed
// or persisted.
func (op *LinearOperation) Validate() error {
	switch op.Action {
	case ActionCreate:
		if op.Create == nil || op.Create.Title == "" {
			return fmt.Errorf("create operation requires issue fields with a title")
		}
		if op.Update != nil || op.Skip != nil {
			return fmt.Errorf("create operation carries extra payloads")
		}
	case ActionUpdate:
		if op.Update == nil || op.Update.TargetID == "" {
			return fmt.Errorf("update operation requires a target issue id")
		}
		if op.Create != nil || op.Skip != nil {
			return fmt.Errorf("update operation carries extra payloads")
		}
	case ActionSkip:
		if op.Create != nil || op.Update != nil {
			return fmt.Errorf("skip operation must not reference an issue to create or update")
		}
	default:
		return fmt.Errorf("unknown triage action: %q", op.Action)
	}
	return nil
}

// ExecutionResult is the terminal outcome of executing a LinearOperation.
type ExecutionResult struct {
	Success    bool   `json:"success"`
	IssueID    string `json:"issue_id,omitempty"`
	IssueURL   string `json:"issue_url,omitempty"`
	IssueTitle string `json:"issue_title,omitempty"`
	Error      string `json:"error,omitempty"`
}

// PendingAction is a persisted non-proactive triage decision awaiting an
// explicit user confirmation. Executed flips exactly once.
type PendingAction struct {
	ID         string
	TenantID   string
	ChannelID  string
	ThreadTS   string
	Operation  LinearOperation
	Executed   bool
	CreatedAt  time.Time
	ExecutedAt *time.Time
}

// DefaultConfidenceThreshold gates proactive answers when a tenant has no
// configured threshold.
const DefaultConfidenceThreshold = 80

// Tenant holds per-workspace configuration.
type Tenant struct {
	ID                  string
	Name                string
	ConfidenceThreshold int // 0-100 gate for ambient answers
	RacingEnabled       bool
	TriageChannelID     string // inbound messages in this channel enter the triage workflow
	TriageTeamID        string // forces the mutation path when set
	TriageMode          TriageMode
	KnowledgeSources    []string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
