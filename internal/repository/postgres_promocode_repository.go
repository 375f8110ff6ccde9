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

// PostgresPromoCodeRepository implements PromoCodeRepository using PostgreSQL
type PostgresPromoCodeRepository struct {
	db DBTX
}

// NewPostgresPromoCodeRepository creates a new PostgresPromoCodeRepository
func NewPostgresPromoCodeRepository(db DBTX) *PostgresPromoCodeRepository {
	return &PostgresPromoCodeRepository{db: db}
}

// WithTx returns a copy bound to the given transaction
func (r *PostgresPromoCodeRepository) WithTx(tx pgx.Tx) PromoCodeRepository {
	return &PostgresPromoCodeRepository{db: tx}
}

// GetByID retrieves a promo code by its ID
func (r *PostgresPromoCodeRepository) GetByID(ctx context.Context, id int64) (*domain.PromoCode, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.promo_code.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.Int64("promo_code_id", id))

	query := `
		SELECT id, event_id, code, discount_type, amount, categories, max_usage
		FROM promo_codes
		WHERE id = $1
	`

	promo, err := r.scanPromo(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, domain.ErrPromoCodeNotFound) {
			span.SetStatus(codes.Error, "not found")
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return promo, nil
}

// GetByCode retrieves a promo code of an event by its code
func (r *PostgresPromoCodeRepository) GetByCode(ctx context.Context, eventID int64, code string) (*domain.PromoCode, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.promo_code.get_by_code")
	defer span.End()

	span.SetAttributes(attribute.Int64("event_id", eventID))

	query := `
		SELECT id, event_id, code, discount_type, amount, categories, max_usage
		FROM promo_codes
		WHERE event_id = $1 AND code = $2
	`

	promo, err := r.scanPromo(r.db.QueryRow(ctx, query, eventID, code))
	if err != nil {
		if errors.Is(err, domain.ErrPromoCodeNotFound) {
			span.SetStatus(codes.Error, "not found")
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return promo, nil
}

func (r *PostgresPromoCodeRepository) scanPromo(row pgx.Row) (*domain.PromoCode, error) {
	promo := &domain.PromoCode{}
	var discountType string
	err := row.Scan(
		&promo.ID,
		&promo.EventID,
		&promo.Code,
		&discountType,
		&promo.Amount,
		&promo.Categories,
		&promo.MaxUsage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPromoCodeNotFound
		}
		return nil, fmt.Errorf("failed to scan promo code: %w", err)
	}
	promo.DiscountType = domain.DiscountType(discountType)
	return promo, nil
}

// CountConfirmedUsage counts confirmed tickets of other reservations that
// used the promo code, restricted to the promo's categories when it has any.
// Run inside a SERIALIZABLE transaction so the check-then-confirm sequence
// cannot interleave with a concurrent payment.
func (r *PostgresPromoCodeRepository) CountConfirmedUsage(ctx context.Context, promoID int64, excludeReservationID string, categories []int64) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.promo_code.count_confirmed_usage")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("promo_code_id", promoID),
		attribute.String("exclude_reservation_id", excludeReservationID),
	)

	query := `
		SELECT COUNT(*)
		FROM tickets t
		JOIN ticket_reservations r ON r.id = t.reservation_id
		WHERE r.promo_code_id = $1
			AND r.id <> $2
			AND t.status = ANY($3)
	`
	args := []any{promoID, excludeReservationID, statusStrings(domain.ConfirmedStatuses)}
	if len(categories) > 0 {
		query += ` AND t.category_id = ANY($4)`
		args = append(args, categories)
	}

	var count int
	err := r.db.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to count promo code usage: %w", err)
	}

	span.SetAttributes(attribute.Int("count", count))
	span.SetStatus(codes.Ok, "")
	return count, nil
}

// Ensure PostgresPromoCodeRepository implements PromoCodeRepository
var _ PromoCodeRepository = (*PostgresPromoCodeRepository)(nil)
