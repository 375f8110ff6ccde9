package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mortendir/ticketreserve/internal/domain"
	"github.com/mortendir/ticketreserve/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresAddonRepository implements AddonRepository using PostgreSQL
type PostgresAddonRepository struct {
	db DBTX
}

// NewPostgresAddonRepository creates a new PostgresAddonRepository
func NewPostgresAddonRepository(db DBTX) *PostgresAddonRepository {
	return &PostgresAddonRepository{db: db}
}

// WithTx returns a copy bound to the given transaction
func (r *PostgresAddonRepository) WithTx(tx pgx.Tx) AddonRepository {
	return &PostgresAddonRepository{db: tx}
}

// GetService retrieves an addon service by its ID
func (r *PostgresAddonRepository) GetService(ctx context.Context, id int64) (*domain.AddonService, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.addon.get_service")
	defer span.End()

	span.SetAttributes(attribute.Int64("service_id", id))

	query := `
		SELECT id, event_id, name, src_price_cts, vat_status
		FROM addon_services
		WHERE id = $1
	`

	svc := &domain.AddonService{}
	var vatStatus string
	err := r.db.QueryRow(ctx, query, id).Scan(
		&svc.ID, &svc.EventID, &svc.Name, &svc.SrcPriceCts, &vatStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrTicketNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get addon service: %w", err)
	}
	svc.VatStatus = domain.VatStatus(vatStatus)

	span.SetStatus(codes.Ok, "")
	return svc, nil
}

// Reserve inserts qty PENDING items of the service for the reservation
func (r *PostgresAddonRepository) Reserve(ctx context.Context, reservationID string, serviceID int64, qty int, d domain.PriceDetail) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.addon.reserve")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", reservationID),
		attribute.Int64("service_id", serviceID),
		attribute.Int("quantity", qty),
	)

	query := `
		INSERT INTO addon_items (
			uuid, service_id, reservation_id, status,
			src_price_cts, final_price_cts, vat_cts, discount_cts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for i := 0; i < qty; i++ {
		_, err := r.db.Exec(ctx, query,
			uuid.New().String(), serviceID, reservationID,
			domain.AddonItemStatusPending.String(),
			d.SrcPriceCts, d.FinalPriceCts, d.VatCts, d.DiscountCts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to reserve addon item: %w", err)
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// FindByReservation returns the addon items held by a reservation
func (r *PostgresAddonRepository) FindByReservation(ctx context.Context, reservationID string) ([]*domain.AddonItem, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.addon.find_by_reservation")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	query := `
		SELECT id, uuid, service_id, reservation_id, status,
			src_price_cts, final_price_cts, vat_cts, discount_cts
		FROM addon_items
		WHERE reservation_id = $1
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, reservationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to find addon items: %w", err)
	}
	defer rows.Close()

	var items []*domain.AddonItem
	for rows.Next() {
		item := &domain.AddonItem{}
		var status string
		err := rows.Scan(
			&item.ID, &item.UUID, &item.ServiceID, &item.ReservationID, &status,
			&item.SrcPriceCts, &item.FinalPriceCts, &item.VatCts, &item.DiscountCts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan addon item: %w", err)
		}
		item.Status = domain.AddonItemStatus(status)
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("error iterating addon items: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(items)))
	span.SetStatus(codes.Ok, "")
	return items, nil
}

// UpdateStatusByReservation moves every addon item of the reservation
func (r *PostgresAddonRepository) UpdateStatusByReservation(ctx context.Context, reservationID string, status domain.AddonItemStatus) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.addon.update_status_by_reservation")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", reservationID),
		attribute.String("status", status.String()),
	)

	result, err := r.db.Exec(ctx,
		`UPDATE addon_items SET status = $2 WHERE reservation_id = $1`,
		reservationID, status.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to update addon item status: %w", err)
	}

	span.SetAttributes(attribute.Int64("rows", result.RowsAffected()))
	span.SetStatus(codes.Ok, "")
	return result.RowsAffected(), nil
}

// DeleteByReservation removes the addon items of a cancelled reservation
func (r *PostgresAddonRepository) DeleteByReservation(ctx context.Context, reservationID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.addon.delete_by_reservation")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	if _, err := r.db.Exec(ctx,
		`DELETE FROM addon_items WHERE reservation_id = $1`, reservationID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete addon items: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Ensure PostgresAddonRepository implements AddonRepository
var _ AddonRepository = (*PostgresAddonRepository)(nil)
