package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gathertown/grapevine/internal/models"
	"github.com/gathertown/grapevine/internal/store"
	"github.com/gathertown/grapevine/internal/triage"
)

// Server wraps the grapevine data layer and exposes it as MCP tools.
type Server struct {
	store  store.Store
	triage *triage.Engine
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store, eng *triage.Engine) *Server {
	return &Server{store: s, triage: eng}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("grapevine", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listTenantsTool())
	srv.AddTool(s.runTriageTool())
	srv.AddTool(s.listActionsTool())
	srv.AddTool(s.confirmActionTool())
	srv.AddTool(s.cancelActionTool())
	srv.AddTool(s.deleteTicketTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// grapevine_list_tenants
func (s *Server) listTenantsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("grapevine_list_tenants",
		mcp.WithDescription("List all configured workspaces. Returns a JSON array with id, name, triage mode, racing flag, and confidence threshold."),
	)
	return tool, s.handleListTenants
}

func (s *Server) handleListTenants(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tenants: %v", err)), nil
	}

	type tenantOut struct {
		ID                  string `json:"id"`
		Name                string `json:"name"`
		TriageMode          string `json:"triage_mode"`
		RacingEnabled       bool   `json:"racing_enabled"`
		ConfidenceThreshold int    `json:"confidence_threshold"`
	}
	out := make([]tenantOut, len(tenants))
	for i, t := range tenants {
		out[i] = tenantOut{
			ID:                  t.ID,
			Name:                t.Name,
			TriageMode:          string(t.TriageMode),
			RacingEnabled:       t.RacingEnabled,
			ConfidenceThreshold: t.ConfidenceThreshold,
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal tenants: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// grapevine_run_triage
func (s *Server) runTriageTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("grapevine_run_triage",
		mcp.WithDescription("Run the triage workflow over a conversation transcript. Returns the decided operation and, in proactive mode, the execution result."),
		mcp.WithString("tenant", mcp.Required(), mcp.Description("Tenant id")),
		mcp.WithString("transcript", mcp.Required(), mcp.Description("Conversation text, one message per line")),
		mcp.WithString("mode", mcp.Description("Override the tenant triage mode: proactive or non_proactive")),
		mcp.WithString("ref", mcp.Description("Explicitly referenced issue id, if the conversation mentions one")),
	)
	return tool, s.handleRunTriage
}

func (s *Server) handleRunTriage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, err := request.RequireString("tenant")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	transcript, err := request.RequireString("transcript")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load tenant: %v", err)), nil
	}
	mode := tenant.TriageMode
	if override := request.GetString("mode", ""); override != "" {
		mode = models.TriageMode(override)
	}
	if mode != models.ModeProactive && mode != models.ModeNonProactive {
		return mcp.NewToolResultError(fmt.Sprintf("invalid triage mode: %q", mode)), nil
	}

	conv := triage.Conversation{
		TenantID:    tenant.ID,
		Messages:    []models.Message{{Role: models.RoleUser, Content: transcript}},
		ExplicitRef: request.GetString("ref", ""),
	}
	op, result, err := s.triage.Run(ctx, conv, mode)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("triage failed: %v", err)), nil
	}

	data, err := json.Marshal(map[string]any{"operation": op, "result": result})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// grapevine_list_actions
func (s *Server) listActionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("grapevine_list_actions",
		mcp.WithDescription("List pending triage actions awaiting confirmation. Returns a JSON array with id, tenant, action kind, and summary."),
		mcp.WithString("tenant", mcp.Description("Filter by tenant id")),
		mcp.WithBoolean("include_executed", mcp.Description("Include already executed actions")),
	)
	return tool, s.handleListActions
}

func (s *Server) handleListActions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actions, err := s.store.ListPendingActions(ctx, store.PendingActionFilter{
		TenantID:        request.GetString("tenant", ""),
		IncludeExecuted: request.GetBool("include_executed", false),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list actions: %v", err)), nil
	}

	type actionOut struct {
		ID       string `json:"id"`
		TenantID string `json:"tenant_id"`
		Action   string `json:"action"`
		Summary  string `json:"summary"`
		Executed bool   `json:"executed"`
	}
	out := make([]actionOut, len(actions))
	for i, a := range actions {
		out[i] = actionOut{
			ID:       a.ID,
			TenantID: a.TenantID,
			Action:   string(a.Operation.Action),
			Summary:  operationSummary(&a.Operation),
			Executed: a.Executed,
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal actions: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func operationSummary(op *models.LinearOperation) string {
	switch op.Action {
	case models.ActionCreate:
		if op.Create != nil {
			return op.Create.Title
		}
	case models.ActionUpdate:
		if op.Update != nil {
			return op.Update.TargetTitle
		}
	case models.ActionSkip:
		if op.Skip != nil {
			return op.Skip.Reason
		}
	}
	return ""
}

// grapevine_confirm_action
func (s *Server) confirmActionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("grapevine_confirm_action",
		mcp.WithDescription("Confirm a pending triage action and execute its stored payload. Each action executes at most once."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Pending action id")),
	)
	return tool, s.handleConfirmAction
}

func (s *Server) handleConfirmAction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.triage.ConfirmAction(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("confirm failed: %v", err)), nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// grapevine_cancel_action
func (s *Server) cancelActionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("grapevine_cancel_action",
		mcp.WithDescription("Discard a pending triage action without executing it."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Pending action id")),
	)
	return tool, s.handleCancelAction
}

func (s *Server) handleCancelAction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.store.DeletePendingAction(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("cancelled action %s", id)), nil
}

// grapevine_delete_ticket
func (s *Server) deleteTicketTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("grapevine_delete_ticket",
		mcp.WithDescription("Delete a tracker issue. Intended as the undo for a proactively created ticket."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Tracker issue id")),
	)
	return tool, s.handleDeleteTicket
}

func (s *Server) handleDeleteTicket(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ok, err := s.triage.DeleteTicket(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("delete failed: %v", err)), nil
	}
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("ticket not found: %s", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted ticket %s", id)), nil
}
