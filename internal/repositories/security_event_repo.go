package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// SecurityEventRepository handles the persisted audit trail. Rows are only ever inserted or aged out.
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

// NewSecurityEventRepository creates a new SecurityEventRepository
func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

func scanSecurityEventRow(row rowScanner) (*models.SecurityEvent, error) {
	var event models.SecurityEvent

	err := row.Scan(
		&event.ID, &event.EventType, &event.Username, &event.Actor,
		&event.Severity, &event.IPAddress, &event.Metadata, &event.OccurredAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &event, nil
}

func scanSecurityEventRows(rows pgx.Rows) ([]*models.SecurityEvent, error) {
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)

	for rows.Next() {
		event, err := scanSecurityEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}

	return events, nil
}

// Create appends an event
func (r *SecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) error {
	query := `
		INSERT INTO security_events (id, event_type, username, actor, severity, ip_address, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	metadata := event.Metadata
	if metadata == nil {
		metadata = models.AuditMetadata{}
	}

	_, err := r.pool.Exec(ctx, query,
		event.ID, event.EventType, event.Username, event.Actor,
		event.Severity, event.IPAddress, metadata, event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create security event: %w", database.MapPostgresError(err))
	}

	return nil
}

// List returns events matching filter, newest first
func (r *SecurityEventRepository) List(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	query := `
		SELECT id, event_type, username, actor, severity, ip_address, metadata, occurred_at
		FROM security_events
		WHERE ($1::text = '' OR username = $1)
		  AND (cardinality($2::text[]) = 0 OR event_type = ANY($2::text[]))
		ORDER BY occurred_at DESC
		LIMIT $3 OFFSET $4
	`

	eventTypes := filter.EventTypes
	if eventTypes == nil {
		eventTypes = []string{}
	}

	rows, err := r.pool.Query(ctx, query, filter.Username, pq.Array(eventTypes), filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}

	return scanSecurityEventRows(rows)
}

// DeleteOlderThan removes events that occurred before cutoff
func (r *SecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM security_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune security events: %w", err)
	}

	return result.RowsAffected(), nil
}
