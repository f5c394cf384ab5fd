// Package store holds the Postgres-backed endpoint registry and delivery log.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/austindbirch/hookline/internal/delivery"
)

//go:embed schema.sql
var schema string

// DBTX is the subset of pgxpool.Pool (and pgx.Tx) the store needs
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EnsureSchema creates the webhooks and webhook_delivery_logs tables if absent
func EnsureSchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// EndpointRegistry reads endpoints from the webhooks table. It never writes.
type EndpointRegistry struct {
	db DBTX
}

func NewEndpointRegistry(db DBTX) *EndpointRegistry {
	return &EndpointRegistry{db: db}
}

const endpointColumns = `id, tenant_id, url, secret, events, active, created_at`

func (r *EndpointRegistry) ListActiveEndpoints(ctx context.Context, tenantID string) ([]delivery.Endpoint, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+endpointColumns+`
		FROM webhooks
		WHERE tenant_id = $1 AND active
		ORDER BY created_at, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list endpoints for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	var out []delivery.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list endpoints for tenant %s: %w", tenantID, err)
	}
	return out, nil
}

func (r *EndpointRegistry) GetEndpoint(ctx context.Context, id string) (delivery.Endpoint, error) {
	row := r.db.QueryRow(ctx, `SELECT `+endpointColumns+` FROM webhooks WHERE id = $1`, id)
	ep, err := scanEndpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return delivery.Endpoint{}, fmt.Errorf("%w: %s", delivery.ErrEndpointNotFound, id)
	}
	return ep, err
}

func scanEndpoint(row pgx.Row) (delivery.Endpoint, error) {
	var ep delivery.Endpoint
	if err := row.Scan(&ep.ID, &ep.TenantID, &ep.URL, &ep.Secret, &ep.Events, &ep.Active, &ep.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ep, err
		}
		return ep, fmt.Errorf("scan endpoint: %w", err)
	}
	return ep, nil
}

// DeliveryLog appends attempt records to webhook_delivery_logs
type DeliveryLog struct {
	db DBTX
}

func NewDeliveryLog(db DBTX) *DeliveryLog {
	return &DeliveryLog{db: db}
}

func (l *DeliveryLog) Record(ctx context.Context, e delivery.LogEntry) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO webhook_delivery_logs
			(delivery_id, tenant_id, webhook_id, event_type, attempt, status, http_status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.DeliveryID, e.TenantID, e.EndpointID, e.EventType, e.Attempt,
		string(e.Outcome), nullInt(e.HTTPStatus), nullString(e.Error), e.At,
	)
	if err != nil {
		return fmt.Errorf("insert delivery log: %w", err)
	}
	return nil
}

// Recent returns the newest limit entries for an endpoint, newest first
func (l *DeliveryLog) Recent(ctx context.Context, endpointID string, limit int) ([]delivery.LogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.Query(ctx, `
		SELECT delivery_id, tenant_id, webhook_id, event_type, attempt, status, http_status, error, created_at
		FROM webhook_delivery_logs
		WHERE webhook_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, endpointID, limit)
	if err != nil {
		return nil, fmt.Errorf("query delivery logs: %w", err)
	}
	defer rows.Close()

	var out []delivery.LogEntry
	for rows.Next() {
		var (
			e       delivery.LogEntry
			outcome string
			status  *int32
			errText *string
			at      time.Time
		)
		if err := rows.Scan(&e.DeliveryID, &e.TenantID, &e.EndpointID, &e.EventType, &e.Attempt, &outcome, &status, &errText, &at); err != nil {
			return nil, fmt.Errorf("scan delivery log: %w", err)
		}
		e.Outcome = delivery.OutcomeKind(outcome)
		if status != nil {
			e.HTTPStatus = int(*status)
		}
		if errText != nil {
			e.Error = *errText
		}
		e.At = at
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullInt(v int) *int32 {
	if v == 0 {
		return nil
	}
	n := int32(v)
	return &n
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
