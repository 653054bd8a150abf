package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gathertown/grapevine/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors from concurrent turns.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations directory: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Tenants ---

func (s *SQLiteStore) CreateTenant(ctx context.Context, t *models.Tenant) error {
	if t.ID == "" {
		t.ID = newULID()
	}
	if t.ConfidenceThreshold == 0 {
		t.ConfidenceThreshold = models.DefaultConfidenceThreshold
	}
	if t.TriageMode == "" {
		t.TriageMode = models.ModeNonProactive
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	sources, err := json.Marshal(t.KnowledgeSources)
	if err != nil {
		return fmt.Errorf("marshal knowledge sources: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, confidence_threshold, racing_enabled, triage_channel_id, triage_team_id, triage_mode, knowledge_sources, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.ConfidenceThreshold, boolToInt(t.RacingEnabled),
		t.TriageChannelID, t.TriageTeamID, string(t.TriageMode), string(sources), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

const tenantColumns = `id, name, confidence_threshold, racing_enabled, triage_channel_id, triage_team_id, triage_mode, knowledge_sources, created_at, updated_at`

func scanTenant(row interface{ Scan(...any) error }) (*models.Tenant, error) {
	t := &models.Tenant{}
	var racing int
	var mode, sources string
	err := row.Scan(&t.ID, &t.Name, &t.ConfidenceThreshold, &racing,
		&t.TriageChannelID, &t.TriageTeamID, &mode, &sources, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.RacingEnabled = racing != 0
	t.TriageMode = models.TriageMode(mode)
	if err := json.Unmarshal([]byte(sources), &t.KnowledgeSources); err != nil {
		return nil, fmt.Errorf("unmarshal knowledge sources: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id)
	t, err := scanTenant(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tenant not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) GetTenantByTriageChannel(ctx context.Context, channelID string) (*models.Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE triage_channel_id = ? AND triage_channel_id != ''`, channelID)
	t, err := scanTenant(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tenant not found for triage channel: %s", channelID)
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant by triage channel: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func (s *SQLiteStore) UpdateTenant(ctx context.Context, t *models.Tenant) error {
	t.UpdatedAt = time.Now().UTC()

	sources, err := json.Marshal(t.KnowledgeSources)
	if err != nil {
		return fmt.Errorf("marshal knowledge sources: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET name = ?, confidence_threshold = ?, racing_enabled = ?, triage_channel_id = ?, triage_team_id = ?, triage_mode = ?, knowledge_sources = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.ConfidenceThreshold, boolToInt(t.RacingEnabled),
		t.TriageChannelID, t.TriageTeamID, string(t.TriageMode), string(sources), t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("tenant not found: %s", t.ID)
	}
	return nil
}

// --- Pending triage actions ---

func (s *SQLiteStore) CreatePendingAction(ctx context.Context, a *models.PendingAction) error {
	if err := a.Operation.Validate(); err != nil {
		return fmt.Errorf("invalid operation: %w", err)
	}
	if a.ID == "" {
		a.ID = newULID()
	}
	a.CreatedAt = time.Now().UTC()

	op, err := json.Marshal(a.Operation)
	if err != nil {
		return fmt.Errorf("marshal operation: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_actions (id, tenant_id, channel_id, thread_ts, operation, executed, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		a.ID, a.TenantID, a.ChannelID, a.ThreadTS, string(op), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create pending action: %w", err)
	}
	return nil
}

const pendingColumns = `id, tenant_id, channel_id, thread_ts, operation, executed, created_at, executed_at`

func scanPendingAction(row interface{ Scan(...any) error }) (*models.PendingAction, error) {
	a := &models.PendingAction{}
	var op string
	var executed int
	err := row.Scan(&a.ID, &a.TenantID, &a.ChannelID, &a.ThreadTS, &op, &executed, &a.CreatedAt, &a.ExecutedAt)
	if err != nil {
		return nil, err
	}
	a.Executed = executed != 0
	if err := json.Unmarshal([]byte(op), &a.Operation); err != nil {
		return nil, fmt.Errorf("unmarshal operation: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) GetPendingAction(ctx context.Context, id string) (*models.PendingAction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pendingColumns+` FROM pending_actions WHERE id = ?`, id)
	a, err := scanPendingAction(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pending action not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get pending action: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) ListPendingActions(ctx context.Context, filter PendingActionFilter) ([]*models.PendingAction, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_actions WHERE 1=1`
	var args []any
	if filter.TenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, filter.TenantID)
	}
	if !filter.IncludeExecuted {
		query += " AND executed = 0"
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending actions: %w", err)
	}
	defer rows.Close()

	var actions []*models.PendingAction
	for rows.Next() {
		a, err := scanPendingAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (s *SQLiteStore) ClaimPendingAction(ctx context.Context, id string) (*models.PendingAction, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_actions SET executed = 1, executed_at = ? WHERE id = ? AND executed = 0`,
		now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("claim pending action: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Distinguish missing from already-executed for the error message.
		if _, getErr := s.GetPendingAction(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("pending action already executed: %s", id)
	}
	return s.GetPendingAction(ctx, id)
}

func (s *SQLiteStore) DeletePendingAction(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete pending action: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("pending action not found: %s", id)
	}
	return nil
}
