package store

import (
	"context"

	"github.com/gathertown/grapevine/internal/models"
)

// PendingActionFilter specifies filters for listing pending triage actions.
type PendingActionFilter struct {
	TenantID        string
	IncludeExecuted bool
	Limit           int
}

// Store defines the persistence interface for grapevine.
type Store interface {
	// Tenants
	CreateTenant(ctx context.Context, t *models.Tenant) error
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	GetTenantByTriageChannel(ctx context.Context, channelID string) (*models.Tenant, error)
	ListTenants(ctx context.Context) ([]*models.Tenant, error)
	UpdateTenant(ctx context.Context, t *models.Tenant) error

	// Pending triage actions
	CreatePendingAction(ctx context.Context, a *models.PendingAction) error
	GetPendingAction(ctx context.Context, id string) (*models.PendingAction, error)
	ListPendingActions(ctx context.Context, filter PendingActionFilter) ([]*models.PendingAction, error)
	// ClaimPendingAction atomically flips the executed flag and returns the
	// claimed action. A second claim of the same action fails, which is what
	// keeps a double confirm from mutating the tracker twice.
	ClaimPendingAction(ctx context.Context, id string) (*models.PendingAction, error)
	DeletePendingAction(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
