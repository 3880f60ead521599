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

// SaveBatch stores a batch and its deal records with session isolation.
func (r *SQLRepository) SaveBatch(ctx context.Context, sessionID string, batch *domain.Batch, records []domain.DealRecord) error {
	if sessionID == "" {
		return fmt.Errorf("%w: sessionID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	batchQuery := `
		INSERT INTO batches (id, session_id, name, record_count, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, r.rebind(batchQuery),
		batch.ID, sessionID, batch.Name, len(records), batch.CreatedAt,
	); err != nil {
		return err
	}

	dealQuery := `
		INSERT INTO deals (
			batch_id, session_id, seq, deal_id, sales_rep, region,
			product_tier, deal_size, commission_rate, commission_amount
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.PrepareContext(ctx, r.rebind(dealQuery))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			batch.ID, sessionID, i,
			rec.DealID, rec.SalesRep, rec.Region, rec.ProductTier,
			rec.DealSize, rec.CommissionRate, rec.CommissionAmount,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetBatch retrieves a batch by ID with session isolation.
func (r *SQLRepository) GetBatch(ctx context.Context, sessionID string, batchID string) (*domain.Batch, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, session_id, name, record_count, created_at
		FROM batches
		WHERE session_id = ? AND id = ?
	`

	var b domain.Batch
	err := r.db.QueryRowContext(ctx, r.rebind(query), sessionID, batchID).Scan(
		&b.ID, &b.SessionID, &b.Name, &b.RecordCount, &b.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &b, nil
}

// ListBatches retrieves all batches for a session, newest first.
func (r *SQLRepository) ListBatches(ctx context.Context, sessionID string) ([]*domain.Batch, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, session_id, name, record_count, created_at
		FROM batches
		WHERE session_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*domain.Batch
	for rows.Next() {
		var b domain.Batch
		if err := rows.Scan(&b.ID, &b.SessionID, &b.Name, &b.RecordCount, &b.CreatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, &b)
	}

	return batches, rows.Err()
}

// GetBatchRecords retrieves the deal records of a batch in upload order.
func (r *SQLRepository) GetBatchRecords(ctx context.Context, sessionID string, batchID string) ([]domain.DealRecord, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionID is required", ErrInvalidInput)
	}

	query := `
		SELECT deal_id, sales_rep, region, product_tier,
			   deal_size, commission_rate, commission_amount
		FROM deals
		WHERE session_id = ? AND batch_id = ?
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), sessionID, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.DealRecord
	for rows.Next() {
		var rec domain.DealRecord
		if err := rows.Scan(
			&rec.DealID, &rec.SalesRep, &rec.Region, &rec.ProductTier,
			&rec.DealSize, &rec.CommissionRate, &rec.CommissionAmount,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// SaveReport stores a validation report with session isolation.
func (r *SQLRepository) SaveReport(ctx context.Context, sessionID string, report *domain.ValidationReport) error {
	if sessionID == "" {
		return fmt.Errorf("%w: sessionID is required", ErrInvalidInput)
	}

	results, _ := json.Marshal(report.Results)
	metrics, _ := json.Marshal(report.Metrics)
	metadata, _ := json.Marshal(report.Metadata)

	query := `
		INSERT INTO reports (id, session_id, batch_id, timestamp, results, metrics, anomaly_count, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		report.ID, sessionID, report.BatchID, report.Timestamp,
		string(results), string(metrics), report.AnomalyCount, string(metadata),
	)
	return err
}

// GetReport retrieves a validation report by ID with session isolation.
func (r *SQLRepository) GetReport(ctx context.Context, sessionID string, reportID string) (*domain.ValidationReport, error) {
	query := `
		SELECT id, session_id, batch_id, timestamp, results, metrics, anomaly_count, metadata
		FROM reports
		WHERE session_id = ? AND id = ?
	`
	return r.queryReport(ctx, query, sessionID, reportID)
}

// GetReportByBatch retrieves the most recent report for a batch.
func (r *SQLRepository) GetReportByBatch(ctx context.Context, sessionID string, batchID string) (*domain.ValidationReport, error) {
	query := `
		SELECT id, session_id, batch_id, timestamp, results, metrics, anomaly_count, metadata
		FROM reports
		WHERE session_id = ? AND batch_id = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`
	return r.queryReport(ctx, query, sessionID, batchID)
}

func (r *SQLRepository) queryReport(ctx context.Context, query string, sessionID, id string) (*domain.ValidationReport, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionID is required", ErrInvalidInput)
	}

	var report domain.ValidationReport
	var results, metrics, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), sessionID, id).Scan(
		&report.ID, &report.SessionID, &report.BatchID, &report.Timestamp,
		&results, &metrics, &report.AnomalyCount, &metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(results), &report.Results); err != nil {
		return nil, fmt.Errorf("failed to parse report results: %w", err)
	}
	if err := json.Unmarshal([]byte(metrics), &report.Metrics); err != nil {
		return nil, fmt.Errorf("failed to parse report metrics: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &report.Metadata); err != nil {
		return nil, fmt.Errorf("failed to parse report metadata: %w", err)
	}

	return &report, nil
}

// SaveCheckConfig stores a custom check configuration (upsert by ID).
func (r *SQLRepository) SaveCheckConfig(ctx context.Context, check *domain.CheckConfig) error {
	if check == nil || check.ID == "" {
		return fmt.Errorf("%w: check ID is required", ErrInvalidInput)
	}

	enabled := 0
	if check.Enabled {
		enabled = 1
	}
	now := time.Now().UTC()

	// Delete-then-insert keeps the upsert portable across both drivers.
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM check_configs WHERE id = ?`), check.ID); err != nil {
		return err
	}

	query := `
		INSERT INTO check_configs (id, name, description, expression, message, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, r.rebind(query),
		check.ID, check.Name, check.Description, check.Expression,
		check.Message, enabled, now, now,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// ListCheckConfigs retrieves all enabled check configurations.
func (r *SQLRepository) ListCheckConfigs(ctx context.Context) ([]*domain.CheckConfig, error) {
	query := `
		SELECT id, name, description, expression, message, enabled
		FROM check_configs
		WHERE enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.CheckConfig
	for rows.Next() {
		var c domain.CheckConfig
		var enabled int
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Expression, &c.Message, &enabled); err != nil {
			return nil, err
		}
		c.Enabled = enabled == 1
		configs = append(configs, &c)
	}

	return configs, rows.Err()
}

// DeleteCheckConfig soft-deletes a check by setting enabled = 0.
func (r *SQLRepository) DeleteCheckConfig(ctx context.Context, checkID string) error {
	query := `
		UPDATE check_configs
		SET enabled = 0, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), checkID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
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
