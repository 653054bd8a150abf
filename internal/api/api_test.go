package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gathertown/grapevine/internal/llm"
	"github.com/gathertown/grapevine/internal/models"
	"github.com/gathertown/grapevine/internal/race"
	"github.com/gathertown/grapevine/internal/router"
	"github.com/gathertown/grapevine/internal/store"
	"github.com/gathertown/grapevine/internal/triage"
)

type stubTracker struct {
	creates int
	deletes map[string]bool
}

func (s *stubTracker) SearchIssues(ctx context.Context, query string) ([]models.RelatedTicket, error) {
	return nil, nil
}

func (s *stubTracker) GetIssueDescription(ctx context.Context, id string) (string, error) {
	return "", nil
}

func (s *stubTracker) CreateIssue(ctx context.Context, fields models.IssueFields) (*models.ExecutionResult, error) {
	s.creates++
	return &models.ExecutionResult{Success: true, IssueID: "NEW-1", IssueTitle: fields.Title}, nil
}

func (s *stubTracker) UpdateIssue(ctx context.Context, id, delta string) (*models.ExecutionResult, error) {
	return &models.ExecutionResult{Success: true, IssueID: id}, nil
}

func (s *stubTracker) DeleteIssue(ctx context.Context, id string) (bool, error) {
	if s.deletes == nil {
		s.deletes = make(map[string]bool)
	}
	s.deletes[id] = true
	return id != "MISSING-1", nil
}

type stubAnalyzer struct {
	analysis *llm.TriageAnalysis
}

func (s stubAnalyzer) AnalyzeConversation(ctx context.Context, transcript []models.Message, related []models.RelatedTicket, explicitRef string) (*llm.TriageAnalysis, error) {
	return s.analysis, nil
}

func setupTestServer(t *testing.T) (*Server, store.Store, *stubTracker) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	tracker := &stubTracker{}
	analyzer := stubAnalyzer{analysis: &llm.TriageAnalysis{IsActionable: false, InsufficientReason: "no defect described"}}
	eng := triage.NewEngine(analyzer, tracker, nil, s, nil)
	rt := router.NewRouter(nil, nil, s, race.NewCoordinator(nil, nil), eng, "UBOT", nil)
	srv := NewServer(s, rt, eng, nil)

	return srv, s, tracker
}

func createTenant(t *testing.T, s store.Store) *models.Tenant {
	t.Helper()
	tenant := &models.Tenant{Name: "acme", TriageMode: models.ModeNonProactive}
	require.NoError(t, s.CreateTenant(context.Background(), tenant))
	return tenant
}

func seedPendingAction(t *testing.T, s store.Store, tenantID string) *models.PendingAction {
	t.Helper()
	action := &models.PendingAction{
		TenantID:  tenantID,
		ChannelID: "C1",
		ThreadTS:  "1.0",
		Operation: models.LinearOperation{
			Action: models.ActionCreate,
			Create: &models.IssueFields{Title: "Export crash"},
		},
	}
	require.NoError(t, s.CreatePendingAction(context.Background(), action))
	return action
}

func TestListTenants_Empty(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	h := srv.Router()

	req := httptest.NewRequest("GET", "/api/v1/tenants", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var tenants []*models.Tenant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tenants))
	assert.Nil(t, tenants)
}

func TestTenantCRUD_API(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	h := srv.Router()

	body := `{"Name":"acme","RacingEnabled":true}`
	req := httptest.NewRequest("POST", "/api/v1/tenants", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)

	var created models.Tenant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "acme", created.Name)
	assert.NotEmpty(t, created.ID)

	req = httptest.NewRequest("GET", "/api/v1/tenants/"+created.ID, nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("PUT", "/api/v1/tenants/"+created.ID, bytes.NewBufferString(`{"ConfidenceThreshold":90}`))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	var updated models.Tenant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, 90, updated.ConfidenceThreshold)
}

func TestGetTenant_NotFound(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	h := srv.Router()

	req := httptest.NewRequest("GET", "/api/v1/tenants/nope", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIngestEvent_Validation(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	h := srv.Router()

	req := httptest.NewRequest("POST", "/api/v1/events", bytes.NewBufferString(`{"text":"hello"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestEvent_Accepted(t *testing.T) {
	srv, s, _ := setupTestServer(t)
	h := srv.Router()
	tenant := createTenant(t, s)

	body := fmt.Sprintf(`{"tenant_id":%q,"channel_id":"C1","ts":"1.0","bot_id":"B1","text":"from a bot"}`, tenant.ID)
	req := httptest.NewRequest("POST", "/api/v1/events", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestRunTriage_API(t *testing.T) {
	srv, s, _ := setupTestServer(t)
	h := srv.Router()
	tenant := createTenant(t, s)

	body := fmt.Sprintf(`{"tenant_id":%q,"mode":"proactive","messages":[{"Role":"user","Content":"is this a bug?"}]}`, tenant.ID)
	req := httptest.NewRequest("POST", "/api/v1/triage", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp triageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Operation)
	assert.Equal(t, models.ActionSkip, resp.Operation.Action)
	assert.Equal(t, "no defect described", resp.Operation.Skip.Reason)
}

func TestConfirmAction_API(t *testing.T) {
	srv, s, tracker := setupTestServer(t)
	h := srv.Router()
	tenant := createTenant(t, s)
	action := seedPendingAction(t, s, tenant.ID)

	req := httptest.NewRequest("POST", "/api/v1/actions/"+action.ID+"/confirm", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, tracker.creates)

	// A second confirm conflicts instead of executing again.
	req = httptest.NewRequest("POST", "/api/v1/actions/"+action.ID+"/confirm", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 1, tracker.creates)
}

func TestListAndCancelActions_API(t *testing.T) {
	srv, s, _ := setupTestServer(t)
	h := srv.Router()
	tenant := createTenant(t, s)
	action := seedPendingAction(t, s, tenant.ID)

	req := httptest.NewRequest("GET", "/api/v1/actions?tenant_id="+tenant.ID, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	var actions []*models.PendingAction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &actions))
	require.Len(t, actions, 1)

	req = httptest.NewRequest("DELETE", "/api/v1/actions/"+action.ID, nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", "/api/v1/actions/"+action.ID, nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteTicket_API(t *testing.T) {
	srv, _, tracker := setupTestServer(t)
	h := srv.Router()

	req := httptest.NewRequest("DELETE", "/api/v1/tickets/NEW-1", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, tracker.deletes["NEW-1"])

	req = httptest.NewRequest("DELETE", "/api/v1/tickets/MISSING-1", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthz(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	h := srv.Router()

	req := httptest.NewRequest("GET", "/api/v1/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
