package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mortendir/ticketreserve/internal/domain"
	"github.com/mortendir/ticketreserve/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresAuditRepository implements AuditRepository using PostgreSQL.
// The table is append-only; nothing updates or deletes audit rows.
type PostgresAuditRepository struct {
	db DBTX
}

// NewPostgresAuditRepository creates a new PostgresAuditRepository
func NewPostgresAuditRepository(db DBTX) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

// WithTx returns a copy bound to the given transaction
func (r *PostgresAuditRepository) WithTx(tx pgx.Tx) AuditRepository {
	return &PostgresAuditRepository{db: tx}
}

// Record appends one audit entry. Field changes are serialized as the JSON
// list the caller enumerated.
func (r *PostgresAuditRepository) Record(ctx context.Context, entry *domain.AuditEntry) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.audit.record")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", entry.ReservationID),
		attribute.String("event_type", string(entry.EventType)),
	)

	var changes []byte
	if len(entry.Changes) > 0 {
		var err error
		changes, err = json.Marshal(entry.Changes)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to marshal audit changes: %w", err)
		}
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO audit_log (
			reservation_id, event_type, actor, entity_type, entity_id, changes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Exec(ctx, query,
		entry.ReservationID,
		string(entry.EventType),
		entry.Actor,
		entry.EntityType,
		entry.EntityID,
		changes,
		createdAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to record audit entry: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Ensure PostgresAuditRepository implements AuditRepository
var _ AuditRepository = (*PostgresAuditRepository)(nil)
