package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mortendir/ticketreserve/internal/domain"
	"github.com/mortendir/ticketreserve/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresTicketRepository implements TicketRepository using PostgreSQL
type PostgresTicketRepository struct {
	db DBTX
}

// NewPostgresTicketRepository creates a new PostgresTicketRepository
func NewPostgresTicketRepository(db DBTX) *PostgresTicketRepository {
	return &PostgresTicketRepository{db: db}
}

// WithTx returns a copy bound to the given transaction
func (r *PostgresTicketRepository) WithTx(tx pgx.Tx) TicketRepository {
	return &PostgresTicketRepository{db: tx}
}

// SelectFreeInCategory picks free tickets of a bounded category with
// FOR UPDATE SKIP LOCKED so concurrent buyers never wait on each other.
func (r *PostgresTicketRepository) SelectFreeInCategory(ctx context.Context, eventID, categoryID int64, qty int) ([]int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.select_free_in_category")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
		attribute.Int64("category_id", categoryID),
		attribute.Int("quantity", qty),
	)

	query := `
		SELECT id FROM tickets
		WHERE event_id = $1
			AND category_id = $2
			AND reservation_id IS NULL
			AND status = ANY($3)
		ORDER BY id
		LIMIT $4
		FOR UPDATE SKIP LOCKED
	`

	ids, err := r.selectIDs(ctx, query, eventID, categoryID, statusStrings(domain.FreeStatuses), qty)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to select free tickets in category: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(ids)))
	span.SetStatus(codes.Ok, "")
	return ids, nil
}

// SelectFreeFromPool picks unallocated tickets from the event's shared pool
func (r *PostgresTicketRepository) SelectFreeFromPool(ctx context.Context, eventID int64, qty int) ([]int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.select_free_from_pool")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
		attribute.Int("quantity", qty),
	)

	query := `
		SELECT id FROM tickets
		WHERE event_id = $1
			AND category_id IS NULL
			AND reservation_id IS NULL
			AND status = ANY($2)
		ORDER BY id
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`

	ids, err := r.selectIDs(ctx, query, eventID, statusStrings(domain.FreeStatuses), qty)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to select free tickets from pool: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(ids)))
	span.SetStatus(codes.Ok, "")
	return ids, nil
}

func (r *PostgresTicketRepository) selectIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Reserve binds the selected tickets to the reservation. Every selected row
// must still be bindable; anything less means the selection raced and the
// caller has to abort.
func (r *PostgresTicketRepository) Reserve(ctx context.Context, ids []int64, reservationID string, categoryID int64) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.reserve")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", reservationID),
		attribute.Int64("category_id", categoryID),
		attribute.Int("count", len(ids)),
	)

	query := `
		UPDATE tickets SET
			reservation_id = $2,
			category_id = $3,
			status = $4,
			updated_at = $5
		WHERE id = ANY($1) AND reservation_id IS NULL
	`

	result, err := r.db.Exec(ctx, query, ids, reservationID, categoryID,
		domain.TicketStatusPending.String(), time.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to reserve tickets: %w", err)
	}

	if result.RowsAffected() != int64(len(ids)) {
		span.SetStatus(codes.Error, "partial reserve")
		return domain.ErrNotEnoughTickets
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ReserveWithToken reserves a single restricted-category ticket, recording
// the access token that granted it.
func (r *PostgresTicketRepository) ReserveWithToken(ctx context.Context, id int64, reservationID string, categoryID, tokenID int64) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.reserve_with_token")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("ticket_id", id),
		attribute.String("reservation_id", reservationID),
		attribute.Int64("access_token_id", tokenID),
	)

	query := `
		UPDATE tickets SET
			reservation_id = $2,
			category_id = $3,
			access_token_id = $4,
			status = $5,
			updated_at = $6
		WHERE id = $1 AND reservation_id IS NULL
	`

	result, err := r.db.Exec(ctx, query, id, reservationID, categoryID, tokenID,
		domain.TicketStatusPending.String(), time.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to reserve restricted ticket: %w", err)
	}

	if result.RowsAffected() != 1 {
		span.SetStatus(codes.Error, "ticket already bound")
		return domain.ErrNotEnoughTickets
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// UpdatePricing writes the priced breakdown onto the tickets
func (r *PostgresTicketRepository) UpdatePricing(ctx context.Context, ids []int64, d domain.PriceDetail) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.update_pricing")
	defer span.End()

	span.SetAttributes(attribute.Int("count", len(ids)))

	query := `
		UPDATE tickets SET
			src_price_cts = $2,
			final_price_cts = $3,
			vat_cts = $4,
			discount_cts = $5,
			updated_at = $6
		WHERE id = ANY($1)
	`

	result, err := r.db.Exec(ctx, query, ids,
		d.SrcPriceCts, d.FinalPriceCts, d.VatCts, d.DiscountCts, time.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update ticket pricing: %w", err)
	}

	if result.RowsAffected() != int64(len(ids)) {
		span.SetStatus(codes.Error, "partial pricing update")
		return domain.ErrTicketNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// FindByReservation returns the tickets held by a reservation
func (r *PostgresTicketRepository) FindByReservation(ctx context.Context, reservationID string) ([]*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.find_by_reservation")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	query := `
		SELECT
			id, uuid, event_id, category_id, reservation_id, status,
			src_price_cts, final_price_cts, vat_cts, discount_cts,
			access_token_id, full_name, email, created_at, updated_at
		FROM tickets
		WHERE reservation_id = $1
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, reservationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to find tickets by reservation: %w", err)
	}
	defer rows.Close()

	var tickets []*domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		tickets = append(tickets, ticket)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("error iterating tickets: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(tickets)))
	span.SetStatus(codes.Ok, "")
	return tickets, nil
}

// CountByReservation counts the tickets held by a reservation
func (r *PostgresTicketRepository) CountByReservation(ctx context.Context, reservationID string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.count_by_reservation")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM tickets WHERE reservation_id = $1`, reservationID).Scan(&count)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to count tickets: %w", err)
	}

	span.SetAttributes(attribute.Int("count", count))
	span.SetStatus(codes.Ok, "")
	return count, nil
}

// UpdateStatusByReservation moves every ticket of the reservation to status
func (r *PostgresTicketRepository) UpdateStatusByReservation(ctx context.Context, reservationID string, status domain.TicketStatus) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.update_status_by_reservation")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", reservationID),
		attribute.String("status", status.String()),
	)

	query := `
		UPDATE tickets SET
			status = $2,
			updated_at = $3
		WHERE reservation_id = $1
	`

	result, err := r.db.Exec(ctx, query, reservationID, status.String(), time.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to update ticket status: %w", err)
	}

	span.SetAttributes(attribute.Int64("rows", result.RowsAffected()))
	span.SetStatus(codes.Ok, "")
	return result.RowsAffected(), nil
}

// ReleaseByReservation frees every ticket of the reservation
func (r *PostgresTicketRepository) ReleaseByReservation(ctx context.Context, reservationID string) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.release_by_reservation")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	query := `
		UPDATE tickets SET
			reservation_id = NULL,
			access_token_id = NULL,
			status = $2,
			full_name = '',
			email = '',
			final_price_cts = 0,
			vat_cts = 0,
			discount_cts = 0,
			updated_at = $3
		WHERE reservation_id = $1
	`

	result, err := r.db.Exec(ctx, query, reservationID,
		domain.TicketStatusReleased.String(), time.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to release tickets: %w", err)
	}

	span.SetAttributes(attribute.Int64("rows", result.RowsAffected()))
	span.SetStatus(codes.Ok, "")
	return result.RowsAffected(), nil
}

// ResetCategoryForUnbounded sends released tickets of unbounded categories
// back to the shared pool.
func (r *PostgresTicketRepository) ResetCategoryForUnbounded(ctx context.Context, reservationID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.reset_category_unbounded")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	// Runs before ReleaseByReservation clears reservation_id
	query := `
		UPDATE tickets SET category_id = NULL
		WHERE reservation_id = $1
			AND category_id IN (SELECT id FROM ticket_categories WHERE NOT bounded)
	`

	if _, err := r.db.Exec(ctx, query, reservationID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to reset unbounded categories: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ReleaseOne frees a single ticket out of a confirmed reservation
func (r *PostgresTicketRepository) ReleaseOne(ctx context.Context, ticketID int64, reservationID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.release_one")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("ticket_id", ticketID),
		attribute.String("reservation_id", reservationID),
	)

	query := `
		UPDATE tickets SET
			reservation_id = NULL,
			access_token_id = NULL,
			status = $3,
			full_name = '',
			email = '',
			final_price_cts = 0,
			vat_cts = 0,
			discount_cts = 0,
			updated_at = $4
		WHERE id = $1 AND reservation_id = $2
	`

	result, err := r.db.Exec(ctx, query, ticketID, reservationID,
		domain.TicketStatusReleased.String(), time.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to release ticket: %w", err)
	}

	if result.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "not found")
		return domain.ErrTicketNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// CountFreeInCategory counts bindable tickets of a bounded category
func (r *PostgresTicketRepository) CountFreeInCategory(ctx context.Context, categoryID int64) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.count_free_in_category")
	defer span.End()

	span.SetAttributes(attribute.Int64("category_id", categoryID))

	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets
		WHERE category_id = $1 AND reservation_id IS NULL AND status = ANY($2)
	`, categoryID, statusStrings(domain.FreeStatuses)).Scan(&count)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to count free tickets in category: %w", err)
	}

	span.SetAttributes(attribute.Int("count", count))
	span.SetStatus(codes.Ok, "")
	return count, nil
}

// CountFreeInPool counts unallocated tickets in the event's shared pool
func (r *PostgresTicketRepository) CountFreeInPool(ctx context.Context, eventID int64) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.count_free_in_pool")
	defer span.End()

	span.SetAttributes(attribute.Int64("event_id", eventID))

	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets
		WHERE event_id = $1 AND category_id IS NULL AND reservation_id IS NULL AND status = ANY($2)
	`, eventID, statusStrings(domain.FreeStatuses)).Scan(&count)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to count free tickets in pool: %w", err)
	}

	span.SetAttributes(attribute.Int("count", count))
	span.SetStatus(codes.Ok, "")
	return count, nil
}

// DeleteFieldValues purges per-ticket attendee field values
func (r *PostgresTicketRepository) DeleteFieldValues(ctx context.Context, reservationID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.delete_field_values")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	query := `
		DELETE FROM ticket_field_values
		WHERE ticket_id IN (SELECT id FROM tickets WHERE reservation_id = $1)
	`

	if _, err := r.db.Exec(ctx, query, reservationID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete ticket field values: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// SummaryRows returns per-category order summary rows for the reservation
func (r *PostgresTicketRepository) SummaryRows(ctx context.Context, reservationID string) ([]domain.OrderSummaryRow, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.ticket.summary_rows")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	query := `
		SELECT
			c.name,
			COUNT(*),
			MIN(t.final_price_cts),
			SUM(t.final_price_cts),
			SUM(t.vat_cts)
		FROM tickets t
		JOIN ticket_categories c ON c.id = t.category_id
		WHERE t.reservation_id = $1
		GROUP BY c.name
		ORDER BY c.name
	`

	rows, err := r.db.Query(ctx, query, reservationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load summary rows: %w", err)
	}
	defer rows.Close()

	var out []domain.OrderSummaryRow
	for rows.Next() {
		var row domain.OrderSummaryRow
		if err := rows.Scan(&row.Name, &row.Quantity, &row.UnitPriceCts, &row.SubtotalCts, &row.VatCts); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("error iterating summary rows: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(out)))
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// scanTicket scans a row into a Ticket struct
func scanTicket(rows pgx.Rows) (*domain.Ticket, error) {
	ticket := &domain.Ticket{}
	var (
		categoryID    *int64
		reservationID *string
		accessTokenID *int64
		status        string
	)

	err := rows.Scan(
		&ticket.ID,
		&ticket.UUID,
		&ticket.EventID,
		&categoryID,
		&reservationID,
		&status,
		&ticket.SrcPriceCts,
		&ticket.FinalPriceCts,
		&ticket.VatCts,
		&ticket.DiscountCts,
		&accessTokenID,
		&ticket.FullName,
		&ticket.Email,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan ticket: %w", err)
	}

	ticket.Status = domain.TicketStatus(status)
	ticket.CategoryID = categoryID
	ticket.ReservationID = reservationID
	ticket.AccessTokenID = accessTokenID

	return ticket, nil
}

// Ensure PostgresTicketRepository implements TicketRepository
var _ TicketRepository = (*PostgresTicketRepository)(nil)
