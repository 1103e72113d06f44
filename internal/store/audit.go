package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"qbwc-sync/internal/models"
)

// Auditor records session lifecycle events and per-record reconciliation outcomes.
type Auditor interface {
	RecordSessionEvent(ctx context.Context, s models.Session, event, detail string) error
	RecordResults(ctx context.Context, sessionID string, results []models.Result) error
}

// NopAuditor discards everything; used when no Postgres DSN is configured.
type NopAuditor struct{}

func (NopAuditor) RecordSessionEvent(context.Context, models.Session, string, string) error {
	return nil
}

func (NopAuditor) RecordResults(context.Context, string, []models.Result) error { return nil }

// AuditLog wraps pgxpool for the Postgres audit trail.
type AuditLog struct {
	pool *pgxpool.Pool
}

// NewAuditLog creates a pooled connection to Postgres.
func NewAuditLog(ctx context.Context, dsn string) (*AuditLog, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &AuditLog{pool: pool}, nil
}

func (a *AuditLog) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// RecordSessionEvent appends a session lifecycle row.
func (a *AuditLog) RecordSessionEvent(ctx context.Context, s models.Session, event, detail string) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO session_events (session_id, event, state, detail, recorded_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, s.ID, event, s.State, detail)
	if err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}
	return nil
}

// RecordResults inserts one row per result in a single batch round trip.
func (a *AuditLog) RecordResults(ctx context.Context, sessionID string, results []models.Result) error {
	if len(results) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range results {
		changed, err := json.Marshal(nonNil(r.Changed))
		if err != nil {
			return fmt.Errorf("marshal changed fields: %w", err)
		}
		batch.Queue(`
			INSERT INTO reconciliation_results (session_id, entity_type, natural_key, status, changed_fields, error_detail, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
		`, sessionID, r.Type, r.Key, r.Status, changed, emptyToNil(r.Error))
	}
	br := a.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert reconciliation result: %w", err)
		}
	}
	return nil
}

// SessionResults returns the most recent results recorded for a session.
func (a *AuditLog) SessionResults(ctx context.Context, sessionID string, limit int) ([]models.Result, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.pool.Query(ctx, `
		SELECT entity_type, natural_key, status, changed_fields, error_detail
		FROM reconciliation_results
		WHERE session_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []models.Result
	for rows.Next() {
		var r models.Result
		var changed []byte
		var detail pgtype.Text
		if err := rows.Scan(&r.Type, &r.Key, &r.Status, &changed, &detail); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal(changed, &r.Changed); err != nil {
			return nil, fmt.Errorf("unmarshal changed fields: %w", err)
		}
		if detail.Valid {
			r.Error = detail.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
