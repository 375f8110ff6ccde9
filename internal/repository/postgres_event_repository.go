package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mortendir/ticketreserve/internal/domain"
	"github.com/mortendir/ticketreserve/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresEventRepository implements EventRepository using PostgreSQL
type PostgresEventRepository struct {
	db DBTX
}

// NewPostgresEventRepository creates a new PostgresEventRepository
func NewPostgresEventRepository(db DBTX) *PostgresEventRepository {
	return &PostgresEventRepository{db: db}
}

// WithTx returns a copy bound to the given transaction
func (r *PostgresEventRepository) WithTx(tx pgx.Tx) EventRepository {
	return &PostgresEventRepository{db: tx}
}

// GetByID retrieves an event by its ID
func (r *PostgresEventRepository) GetByID(ctx context.Context, id int64) (*domain.Event, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.event.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.Int64("event_id", id))

	query := `
		SELECT id, short_name, display_name, organization_id, currency,
			vat_rate_bp, vat_status, ends_at
		FROM events
		WHERE id = $1
	`

	event := &domain.Event{}
	var vatStatus string
	err := r.db.QueryRow(ctx, query, id).Scan(
		&event.ID,
		&event.ShortName,
		&event.DisplayName,
		&event.OrganizationID,
		&event.Currency,
		&event.VatRateBp,
		&vatStatus,
		&event.EndsAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrEventNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	event.VatStatus = domain.VatStatus(vatStatus)

	span.SetStatus(codes.Ok, "")
	return event, nil
}

// GetCategory retrieves a ticket category by its ID
func (r *PostgresEventRepository) GetCategory(ctx context.Context, id int64) (*domain.TicketCategory, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.event.get_category")
	defer span.End()

	span.SetAttributes(attribute.Int64("category_id", id))

	query := `
		SELECT id, event_id, name, bounded, access_restricted, src_price_cts, max_tickets
		FROM ticket_categories
		WHERE id = $1
	`

	category := &domain.TicketCategory{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&category.ID,
		&category.EventID,
		&category.Name,
		&category.Bounded,
		&category.AccessRestricted,
		&category.SrcPriceCts,
		&category.MaxTickets,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrCategoryNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get category: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return category, nil
}

// Ensure PostgresEventRepository implements EventRepository
var _ EventRepository = (*PostgresEventRepository)(nil)
