// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// CreateApplication stores a new onboarding application.
func (r *SQLRepository) CreateApplication(ctx context.Context, app *domain.Application) error {
	if app == nil || app.ID == "" {
		return fmt.Errorf("%w: application id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO applications (id, client_name, email, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		app.ID, app.ClientName, app.Email, app.Status,
		app.CreatedAt, app.UpdatedAt,
	)
	return err
}

// GetApplication retrieves an application by ID.
func (r *SQLRepository) GetApplication(ctx context.Context, appID string) (*domain.Application, error) {
	query := `
		SELECT id, client_name, email, status, created_at, updated_at
		FROM applications
		WHERE id = ?
	`

	var app domain.Application
	err := r.db.QueryRowContext(ctx, r.rebind(query), appID).Scan(
		&app.ID, &app.ClientName, &app.Email, &app.Status,
		&app.CreatedAt, &app.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrApplicationNotFound, appID)
	}
	if err != nil {
		return nil, err
	}

	return &app, nil
}

// ListApplications retrieves all applications, newest first.
func (r *SQLRepository) ListApplications(ctx context.Context) ([]*domain.Application, error) {
	query := `
		SELECT id, client_name, email, status, created_at, updated_at
		FROM applications
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []*domain.Application
	for rows.Next() {
		var app domain.Application
		if err := rows.Scan(
			&app.ID, &app.ClientName, &app.Email, &app.Status,
			&app.CreatedAt, &app.UpdatedAt,
		); err != nil {
			return nil, err
		}
		apps = append(apps, &app)
	}

	return apps, rows.Err()
}

// UpdateApplicationStatus moves an application between lifecycle states.
func (r *SQLRepository) UpdateApplicationStatus(ctx context.Context, appID string, status string) error {
	query := `
		UPDATE applications
		SET status = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), status, time.Now().UTC(), appID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrApplicationNotFound, appID)
	}

	return nil
}

// ApplicationExists reports whether an application is present.
func (r *SQLRepository) ApplicationExists(ctx context.Context, appID string) (bool, error) {
	query := `SELECT 1 FROM applications WHERE id = ?`

	var one int
	err := r.db.QueryRowContext(ctx, r.rebind(query), appID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SaveFormRecord upserts the state of one wizard step. The whole data document
// is replaced on conflict, so repeat autosaves are idempotent.
func (r *SQLRepository) SaveFormRecord(ctx context.Context, appID string, step string, data map[string]any) error {
	if appID == "" {
		return fmt.Errorf("%w: application id is required", ErrInvalidInput)
	}
	if step == "" {
		return fmt.Errorf("%w: step is required", ErrInvalidInput)
	}
	if data == nil {
		data = map[string]any{}
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode form data: %w", err)
	}

	query := `
		INSERT INTO form_records (application_id, step, data, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(application_id, step) DO UPDATE SET
			data = excluded.data,
			last_updated = excluded.last_updated
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		appID, step, string(payload), time.Now().UTC(),
	)
	return err
}

// GetFormRecord retrieves the current state of one wizard step.
func (r *SQLRepository) GetFormRecord(ctx context.Context, appID string, step string) (*domain.FormRecord, error) {
	query := `
		SELECT application_id, step, data, last_updated
		FROM form_records
		WHERE application_id = ? AND step = ?
	`

	var rec domain.FormRecord
	var data string

	err := r.db.QueryRowContext(ctx, r.rebind(query), appID, step).Scan(
		&rec.ApplicationID, &rec.Step, &data, &rec.LastUpdated,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
		return nil, fmt.Errorf("failed to parse form data: %w", err)
	}

	return &rec, nil
}

// GetFormRecords retrieves every stored step for an application.
func (r *SQLRepository) GetFormRecords(ctx context.Context, appID string) ([]*domain.FormRecord, error) {
	query := `
		SELECT application_id, step, data, last_updated
		FROM form_records
		WHERE application_id = ?
		ORDER BY step
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.FormRecord
	for rows.Next() {
		var rec domain.FormRecord
		var data string

		if err := rows.Scan(&rec.ApplicationID, &rec.Step, &data, &rec.LastUpdated); err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
			return nil, fmt.Errorf("failed to parse form data for step %s: %w", rec.Step, err)
		}

		records = append(records, &rec)
	}

	return records, rows.Err()
}

// SaveScreeningRule upserts a screening rule definition.
func (r *SQLRepository) SaveScreeningRule(ctx context.Context, rule *domain.ScreeningRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO screening_rules (
			id, name, description, version, expression, impact, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			version = excluded.version,
			expression = excluded.expression,
			impact = excluded.impact,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Version,
		rule.Expression, string(rule.Impact), enabled,
		now, now,
	)
	return err
}

// GetScreeningRule retrieves a screening rule by ID.
func (r *SQLRepository) GetScreeningRule(ctx context.Context, ruleID string) (*domain.ScreeningRule, error) {
	query := `
		SELECT id, name, description, version, expression, impact, enabled, created_at, updated_at
		FROM screening_rules
		WHERE id = ?
	`

	var rule domain.ScreeningRule
	var impact string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), ruleID).Scan(
		&rule.ID, &rule.Name, &rule.Description, &rule.Version,
		&rule.Expression, &impact, &enabled,
		&rule.CreatedAt, &rule.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Impact = domain.RiskLevel(impact)
	rule.Enabled = enabled == 1

	return &rule, nil
}

// ListScreeningRules retrieves all screening rules, enabled or not, ordered by name.
func (r *SQLRepository) ListScreeningRules(ctx context.Context) ([]*domain.ScreeningRule, error) {
	query := `
		SELECT id, name, description, version, expression, impact, enabled, created_at, updated_at
		FROM screening_rules
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.ScreeningRule
	for rows.Next() {
		var rule domain.ScreeningRule
		var impact string
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Description, &rule.Version,
			&rule.Expression, &impact, &enabled,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rule.Impact = domain.RiskLevel(impact)
		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// SaveRiskSnapshot appends a scoring audit record.
func (r *SQLRepository) SaveRiskSnapshot(ctx context.Context, snap *domain.RiskSnapshot) error {
	if snap == nil || snap.ID == "" {
		return fmt.Errorf("%w: snapshot id is required", ErrInvalidInput)
	}

	factors, _ := json.Marshal(snap.Factors)

	query := `
		INSERT INTO risk_snapshots (
			id, application_id, score, level, scoring_method, rule_weight, factors, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		snap.ID, snap.ApplicationID, snap.Score,
		string(snap.Level), string(snap.ScoringMethod), snap.RuleWeight,
		string(factors), snap.CreatedAt,
	)
	return err
}

// LatestRiskSnapshot retrieves the most recent scoring record for an application.
func (r *SQLRepository) LatestRiskSnapshot(ctx context.Context, appID string) (*domain.RiskSnapshot, error) {
	query := `
		SELECT id, application_id, score, level, scoring_method, rule_weight, factors, created_at
		FROM risk_snapshots
		WHERE application_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	var snap domain.RiskSnapshot
	var level, method, factors string

	err := r.db.QueryRowContext(ctx, r.rebind(query), appID).Scan(
		&snap.ID, &snap.ApplicationID, &snap.Score,
		&level, &method, &snap.RuleWeight,
		&factors, &snap.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	snap.Level = domain.RiskLevel(level)
	snap.ScoringMethod = domain.ScoringMethod(method)
	json.Unmarshal([]byte(factors), &snap.Factors)

	return &snap, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
