package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gathertown/grapevine/internal/llm"
	"github.com/gathertown/grapevine/internal/models"
	"github.com/gathertown/grapevine/internal/store"
	"github.com/gathertown/grapevine/internal/triage"
)

type mockTracker struct {
	creates int
	deleted []string
}

func (m *mockTracker) SearchIssues(_ context.Context, query string) ([]models.RelatedTicket, error) {
	return nil, nil
}

func (m *mockTracker) GetIssueDescription(_ context.Context, id string) (string, error) {
	return "", nil
}

func (m *mockTracker) CreateIssue(_ context.Context, fields models.IssueFields) (*models.ExecutionResult, error) {
	m.creates++
	return &models.ExecutionResult{Success: true, IssueID: "NEW-1", IssueTitle: fields.Title}, nil
}

func (m *mockTracker) UpdateIssue(_ context.Context, id, delta string) (*models.ExecutionResult, error) {
	return &models.ExecutionResult{Success: true, IssueID: id}, nil
}

func (m *mockTracker) DeleteIssue(_ context.Context, id string) (bool, error) {
	m.deleted = append(m.deleted, id)
	return id != "GONE-1", nil
}

type mockAnalyzer struct {
	analysis *llm.TriageAnalysis
}

func (m mockAnalyzer) AnalyzeConversation(_ context.Context, _ []models.Message, _ []models.RelatedTicket, _ string) (*llm.TriageAnalysis, error) {
	return m.analysis, nil
}

func newTestServer(t *testing.T) (*Server, store.Store, *mockTracker) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "mcp.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	tracker := &mockTracker{}
	analyzer := mockAnalyzer{analysis: &llm.TriageAnalysis{
		IsActionable: true,
		Title:        "Export crashes on large files",
		Description:  "Crash on export.",
		Confidence:   85,
	}}
	eng := triage.NewEngine(analyzer, tracker, nil, st, nil)
	return NewServer(st, eng), st, tracker
}

func seedTenant(t *testing.T, st store.Store) *models.Tenant {
	t.Helper()
	tenant := &models.Tenant{Name: "acme", TriageMode: models.ModeNonProactive}
	require.NoError(t, st.CreateTenant(context.Background(), tenant))
	return tenant
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

func TestNewServer(t *testing.T) {
	srv, _, _ := newTestServer(t)
	require.NotNil(t, srv.MCPServer())
}

func TestHandleListTenants(t *testing.T) {
	srv, st, _ := newTestServer(t)
	tenant := seedTenant(t, st)

	result, err := srv.handleListTenants(context.Background(), callToolReq("grapevine_list_tenants", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), tenant.ID)
}

func TestHandleRunTriage_NonProactive(t *testing.T) {
	srv, st, tracker := newTestServer(t)
	tenant := seedTenant(t, st)

	req := callToolReq("grapevine_run_triage", map[string]any{
		"tenant":     tenant.ID,
		"transcript": "the export button crashes the app",
	})
	result, err := srv.handleRunTriage(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		Operation *models.LinearOperation `json:"operation"`
	}
	resultJSON(t, result, &out)
	require.NotNil(t, out.Operation)
	assert.Equal(t, models.ActionCreate, out.Operation.Action)
	// Non-proactive mode proposes; it must not touch the tracker.
	assert.Zero(t, tracker.creates)

	actions, err := st.ListPendingActions(context.Background(), store.PendingActionFilter{TenantID: tenant.ID})
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}

func TestHandleRunTriage_MissingTenant(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := callToolReq("grapevine_run_triage", map[string]any{"transcript": "broken"})
	result, err := srv.handleRunTriage(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleRunTriage_InvalidMode(t *testing.T) {
	srv, st, _ := newTestServer(t)
	tenant := seedTenant(t, st)

	req := callToolReq("grapevine_run_triage", map[string]any{
		"tenant":     tenant.ID,
		"transcript": "broken",
		"mode":       "aggressive",
	})
	result, err := srv.handleRunTriage(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleConfirmAction_ExecutesOnce(t *testing.T) {
	srv, st, tracker := newTestServer(t)
	tenant := seedTenant(t, st)

	action := &models.PendingAction{
		TenantID: tenant.ID,
		Operation: models.LinearOperation{
			Action: models.ActionCreate,
			Create: &models.IssueFields{Title: "Export crash"},
		},
	}
	require.NoError(t, st.CreatePendingAction(context.Background(), action))

	req := callToolReq("grapevine_confirm_action", map[string]any{"id": action.ID})
	result, err := srv.handleConfirmAction(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, 1, tracker.creates)

	result, err = srv.handleConfirmAction(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, 1, tracker.creates)
}

func TestHandleListAndCancelActions(t *testing.T) {
	srv, st, _ := newTestServer(t)
	tenant := seedTenant(t, st)

	action := &models.PendingAction{
		TenantID: tenant.ID,
		Operation: models.LinearOperation{
			Action: models.ActionSkip,
			Skip:   &models.SkipData{Reason: "just chatter"},
		},
	}
	require.NoError(t, st.CreatePendingAction(context.Background(), action))

	result, err := srv.handleListActions(context.Background(), callToolReq("grapevine_list_actions", map[string]any{"tenant": tenant.ID}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "just chatter")

	result, err = srv.handleCancelAction(context.Background(), callToolReq("grapevine_cancel_action", map[string]any{"id": action.ID}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	_, err = st.GetPendingAction(context.Background(), action.ID)
	require.Error(t, err)
}

func TestHandleDeleteTicket(t *testing.T) {
	srv, _, tracker := newTestServer(t)

	result, err := srv.handleDeleteTicket(context.Background(), callToolReq("grapevine_delete_ticket", map[string]any{"id": "NEW-1"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, []string{"NEW-1"}, tracker.deleted)

	result, err = srv.handleDeleteTicket(context.Background(), callToolReq("grapevine_delete_ticket", map[string]any{"id": "GONE-1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not found")
}
