package triage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gathertown/grapevine/internal/llm"
	"github.com/gathertown/grapevine/internal/models"
	"github.com/gathertown/grapevine/internal/store"
)

type fakeTracker struct {
	searchResults []models.RelatedTicket
	searchErr     error
	descriptions  map[string]string

	creates int
	updates int
	deletes int
	failOps bool
}

func (f *fakeTracker) SearchIssues(ctx context.Context, query string) ([]models.RelatedTicket, error) {
	return f.searchResults, f.searchErr
}

func (f *fakeTracker) GetIssueDescription(ctx context.Context, id string) (string, error) {
	return f.descriptions[id], nil
}

func (f *fakeTracker) CreateIssue(ctx context.Context, fields models.IssueFields) (*models.ExecutionResult, error) {
	f.creates++
	if f.failOps {
		return nil, fmt.Errorf("tracker unavailable")
	}
	return &models.ExecutionResult{Success: true, IssueID: "NEW-1", IssueURL: "https://linear.test/NEW-1", IssueTitle: fields.Title}, nil
}

func (f *fakeTracker) UpdateIssue(ctx context.Context, id, delta string) (*models.ExecutionResult, error) {
	f.updates++
	if f.failOps {
		return nil, fmt.Errorf("tracker unavailable")
	}
	return &models.ExecutionResult{Success: true, IssueID: id, IssueTitle: "existing"}, nil
}

func (f *fakeTracker) DeleteIssue(ctx context.Context, id string) (bool, error) {
	f.deletes++
	return true, nil
}

type fakeAnalyzer struct {
	analysis *llm.TriageAnalysis
	err      error
}

func (f *fakeAnalyzer) AnalyzeConversation(ctx context.Context, transcript []models.Message, related []models.RelatedTicket, explicitRef string) (*llm.TriageAnalysis, error) {
	return f.analysis, f.err
}

type fakeChat struct {
	posts []string
}

func (f *fakeChat) PostMessage(ctx context.Context, channel, threadTS, body string) (string, error) {
	f.posts = append(f.posts, body)
	return fmt.Sprintf("ts-%d", len(f.posts)), nil
}
func (f *fakeChat) UpdateMessage(ctx context.Context, channel, messageTS, body string) error {
	return nil
}
func (f *fakeChat) DeleteMessage(ctx context.Context, channel, messageTS string) error { return nil }
func (f *fakeChat) MessageExists(ctx context.Context, channel, messageTS string) (bool, error) {
	return true, nil
}
func (f *fakeChat) AddReaction(ctx context.Context, channel, messageTS, name string) error {
	return nil
}
func (f *fakeChat) LatestReplyAfter(ctx context.Context, channel, threadTS, afterTS, userID string) (string, error) {
	return "", nil
}

func newTestEngine(t *testing.T, tr *fakeTracker, an *fakeAnalyzer) (*Engine, *fakeChat, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "triage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	tenant := &models.Tenant{Name: "acme", TriageChannelID: "C-TRIAGE"}
	require.NoError(t, st.CreateTenant(context.Background(), tenant))

	ch := &fakeChat{}
	eng := NewEngine(an, tr, ch, st, nil)
	return eng, ch, st
}

func testTenantID(t *testing.T, st store.Store) string {
	t.Helper()
	tenants, err := st.ListTenants(context.Background())
	require.NoError(t, err)
	require.Len(t, tenants, 1)
	return tenants[0].ID
}

func conversation(tenantID string) Conversation {
	return Conversation{
		TenantID:  tenantID,
		ChannelID: "C-TRIAGE",
		ThreadTS:  "1000.1",
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "the export button crashes the app"},
		},
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	related := []models.RelatedTicket{
		{ID: "ENG-1", Confidence: 0.5},
		{ID: "ENG-2", Confidence: 0.85},
	}
	cases := []struct {
		name       string
		in         DecisionInputs
		want       models.TriageAction
		wantTarget string
	}{
		{
			name: "strong match updates",
			in:   DecisionInputs{Related: []models.RelatedTicket{{ID: "ENG-9", Confidence: 0.95}}, IsActionable: true},
			want: models.ActionUpdate, wantTarget: "ENG-9",
		},
		{
			name: "cutoff boundary is inclusive",
			in:   DecisionInputs{Related: []models.RelatedTicket{{ID: "ENG-9", Confidence: 0.9}}, IsActionable: true},
			want: models.ActionUpdate, wantTarget: "ENG-9",
		},
		{
			name: "weak matches and actionable creates",
			in:   DecisionInputs{Related: related, IsActionable: true},
			want: models.ActionCreate,
		},
		{
			name: "not actionable skips",
			in:   DecisionInputs{Related: related, IsActionable: false},
			want: models.ActionSkip,
		},
		{
			name: "no matches and not actionable skips",
			in:   DecisionInputs{IsActionable: false},
			want: models.ActionSkip,
		},
		{
			name: "explicit ref overrides a weak confidence",
			in:   DecisionInputs{ExplicitRef: "ENG-1", Related: related, IsActionable: true},
			want: models.ActionUpdate, wantTarget: "ENG-1",
		},
		{
			name: "explicit ref absent from search falls through",
			in:   DecisionInputs{ExplicitRef: "ENG-404", Related: related, IsActionable: true},
			want: models.ActionCreate,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// The rule is pure: run it several times and demand identical output.
			for i := 0; i < 3; i++ {
				action, target := Decide(tc.in)
				assert.Equal(t, tc.want, action)
				if tc.wantTarget != "" {
					require.NotNil(t, target)
					assert.Equal(t, tc.wantTarget, target.ID)
				} else {
					assert.Nil(t, target)
				}
			}
		})
	}
}

func TestRunUpdatesStrongMatch(t *testing.T) {
	tr := &fakeTracker{
		searchResults: []models.RelatedTicket{{ID: "ENG-42", Title: "export crash", URL: "https://linear.test/ENG-42", Confidence: 0.95}},
		descriptions:  map[string]string{"ENG-42": "## Summary\nExport crashes."},
	}
	an := &fakeAnalyzer{analysis: &llm.TriageAnalysis{
		IsActionable: true,
		Title:        "Export crashes on large files",
		Description:  "Export crashes.\nHappens only with files over 2 GB.",
		Confidence:   90,
	}}
	eng, ch, st := newTestEngine(t, tr, an)

	op, result, err := eng.Run(context.Background(), conversation(testTenantID(t, st)), models.ModeProactive)
	require.NoError(t, err)
	require.Equal(t, models.ActionUpdate, op.Action)
	assert.Equal(t, "ENG-42", op.Update.TargetID)
	assert.Contains(t, op.Update.Delta, "files over 2 GB")
	assert.NotContains(t, op.Update.Delta, "Export crashes.")
	assert.True(t, result.Success)
	assert.Equal(t, 1, tr.updates)
	assert.Zero(t, tr.creates)
	require.Len(t, ch.posts, 1)
}

func TestRunSkipsNonActionable(t *testing.T) {
	tr := &fakeTracker{}
	an := &fakeAnalyzer{analysis: &llm.TriageAnalysis{
		IsActionable:       false,
		InsufficientReason: "user asked a usage question, nothing to fix",
	}}
	eng, ch, st := newTestEngine(t, tr, an)

	op, result, err := eng.Run(context.Background(), conversation(testTenantID(t, st)), models.ModeProactive)
	require.NoError(t, err)
	require.Equal(t, models.ActionSkip, op.Action)
	assert.Equal(t, "user asked a usage question, nothing to fix", op.Skip.Reason)
	assert.True(t, result.Success)
	assert.Zero(t, tr.creates)
	assert.Zero(t, tr.updates)
	require.Len(t, ch.posts, 1)
	assert.Contains(t, ch.posts[0], "usage question")
}

func TestRunProactiveCreates(t *testing.T) {
	tr := &fakeTracker{}
	an := &fakeAnalyzer{analysis: &llm.TriageAnalysis{
		IsActionable: true,
		Severity:     "high",
		Title:        "Export crashes on large files",
		Description:  "Crash on export.",
		Confidence:   85,
	}}
	eng, ch, st := newTestEngine(t, tr, an)

	op, result, err := eng.Run(context.Background(), conversation(testTenantID(t, st)), models.ModeProactive)
	require.NoError(t, err)
	assert.Equal(t, models.ActionCreate, op.Action)
	assert.Equal(t, 1, op.Create.Priority)
	assert.True(t, result.Success)
	assert.Equal(t, 1, tr.creates)
	require.Len(t, ch.posts, 1)
	assert.Contains(t, ch.posts[0], "Created issue")
	assert.Contains(t, ch.posts[0], "delete")
}

func TestRunNonProactivePersistsWithoutExecuting(t *testing.T) {
	tr := &fakeTracker{}
	an := &fakeAnalyzer{analysis: &llm.TriageAnalysis{
		IsActionable: true,
		Title:        "Export crashes on large files",
		Description:  "Crash on export.",
		Confidence:   85,
	}}
	eng, ch, st := newTestEngine(t, tr, an)
	tenantID := testTenantID(t, st)

	op, result, err := eng.Run(context.Background(), conversation(tenantID), models.ModeNonProactive)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Zero(t, tr.creates)

	pending, err := st.ListPendingActions(context.Background(), store.PendingActionFilter{TenantID: tenantID})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, op.Action, pending[0].Operation.Action)
	assert.False(t, pending[0].Executed)

	require.Len(t, ch.posts, 1)
	assert.Contains(t, ch.posts[0], pending[0].ID)
}

func TestConfirmActionExecutesStoredPayloadOnce(t *testing.T) {
	tr := &fakeTracker{}
	an := &fakeAnalyzer{analysis: &llm.TriageAnalysis{
		IsActionable: true,
		Title:        "Export crashes on large files",
		Description:  "Crash on export.",
		Confidence:   85,
	}}
	eng, _, st := newTestEngine(t, tr, an)
	tenantID := testTenantID(t, st)

	_, _, err := eng.Run(context.Background(), conversation(tenantID), models.ModeNonProactive)
	require.NoError(t, err)
	pending, err := st.ListPendingActions(context.Background(), store.PendingActionFilter{TenantID: tenantID})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	result, err := eng.ConfirmAction(context.Background(), pending[0].ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, tr.creates)

	// A duplicate confirm must not reach the tracker.
	_, err = eng.ConfirmAction(context.Background(), pending[0].ID)
	require.Error(t, err)
	assert.Equal(t, 1, tr.creates)
}

func TestRunSearchFailureAborts(t *testing.T) {
	tr := &fakeTracker{searchErr: fmt.Errorf("search backend down")}
	an := &fakeAnalyzer{analysis: &llm.TriageAnalysis{IsActionable: true, Title: "x"}}
	eng, ch, st := newTestEngine(t, tr, an)

	_, _, err := eng.Run(context.Background(), conversation(testTenantID(t, st)), models.ModeProactive)
	require.Error(t, err)
	assert.Zero(t, tr.creates)
	require.Len(t, ch.posts, 1)
	assert.Contains(t, ch.posts[0], "couldn't complete")
}

func TestRunExecutionFailureReportsWithoutRetry(t *testing.T) {
	tr := &fakeTracker{failOps: true}
	an := &fakeAnalyzer{analysis: &llm.TriageAnalysis{
		IsActionable: true,
		Title:        "Export crashes on large files",
		Description:  "Crash on export.",
	}}
	eng, ch, st := newTestEngine(t, tr, an)

	op, result, err := eng.Run(context.Background(), conversation(testTenantID(t, st)), models.ModeProactive)
	require.NoError(t, err)
	assert.Equal(t, models.ActionCreate, op.Action)
	assert.False(t, result.Success)
	assert.Equal(t, 1, tr.creates)
	require.Len(t, ch.posts, 1)
	assert.Contains(t, ch.posts[0], "couldn't complete")
}

func TestExecuteEmptyDeltaSucceedsWithoutMutation(t *testing.T) {
	tr := &fakeTracker{}
	eng := NewEngine(nil, tr, nil, nil, nil)

	op := &models.LinearOperation{
		Action: models.ActionUpdate,
		Update: &models.UpdateData{TargetID: "ENG-7", TargetURL: "https://linear.test/ENG-7", TargetTitle: "known crash"},
	}
	result := eng.Execute(context.Background(), op)
	assert.True(t, result.Success)
	assert.Equal(t, "ENG-7", result.IssueID)
	assert.Zero(t, tr.updates)
}

func TestDeleteTicket(t *testing.T) {
	tr := &fakeTracker{}
	eng := NewEngine(nil, tr, nil, nil, nil)

	ok, err := eng.DeleteTicket(context.Background(), "NEW-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, tr.deletes)
}
