package tracker

import (
	"context"

	"github.com/gathertown/grapevine/internal/models"
)

// Client is the issue tracker seen by the triage engine. Search confidences
// are produced by the tracker's similarity ranking and are on a 0-1 scale.
type Client interface {
	SearchIssues(ctx context.Context, query string) ([]models.RelatedTicket, error)
	GetIssueDescription(ctx context.Context, id string) (string, error)
	CreateIssue(ctx context.Context, fields models.IssueFields) (*models.ExecutionResult, error)
	// UpdateIssue appends delta to the issue's description.
	UpdateIssue(ctx context.Context, id, delta string) (*models.ExecutionResult, error)
	DeleteIssue(ctx context.Context, id string) (bool, error)
}
