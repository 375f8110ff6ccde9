package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mortendir/ticketreserve/internal/domain"
	"github.com/mortendir/ticketreserve/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresReservationRepository implements ReservationRepository using PostgreSQL
type PostgresReservationRepository struct {
	db DBTX
}

// NewPostgresReservationRepository creates a new PostgresReservationRepository
func NewPostgresReservationRepository(db DBTX) *PostgresReservationRepository {
	return &PostgresReservationRepository{db: db}
}

// WithTx returns a copy bound to the given transaction
func (r *PostgresReservationRepository) WithTx(tx pgx.Tx) ReservationRepository {
	return &PostgresReservationRepository{db: tx}
}

const reservationColumns = `
	id, event_id, status, customer_name, customer_email, locale,
	payment_method, promo_code_id, vat_status, vat_rate_bp,
	invoice_requested, invoice_number, billing_address, vat_number,
	reminder_sent, created_at, expires_at, registration_at
`

// Create inserts a new reservation row
func (r *PostgresReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", res.ID),
		attribute.Int64("event_id", res.EventID),
	)

	query := `
		INSERT INTO ticket_reservations (
			id, event_id, status, customer_name, customer_email, locale,
			payment_method, promo_code_id, vat_status, vat_rate_bp,
			invoice_requested, billing_address, vat_number, reminder_sent,
			created_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16
		)
	`

	_, err := r.db.Exec(ctx, query,
		res.ID,
		res.EventID,
		res.Status.String(),
		res.CustomerName,
		res.CustomerEmail,
		res.Locale,
		nullString(res.PaymentMethod.String()),
		res.PromoCodeID,
		string(res.VatStatus),
		res.VatRateBp,
		res.InvoiceRequested,
		res.BillingAddress,
		res.VatNumber,
		res.ReminderSent,
		res.CreatedAt,
		res.ExpiresAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetByID retrieves a reservation by its ID
func (r *PostgresReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", id))

	query := `SELECT ` + reservationColumns + ` FROM ticket_reservations WHERE id = $1`

	res, err := r.scanOne(ctx, query, id)
	if err != nil {
		if errors.Is(err, domain.ErrReservationNotFound) {
			span.SetStatus(codes.Error, "not found")
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return res, nil
}

// LockForUpdate loads the reservation under a row lock. Concurrent payment
// attempts for the same reservation serialize here.
func (r *PostgresReservationRepository) LockForUpdate(ctx context.Context, id string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.lock_for_update")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", id))

	query := `SELECT ` + reservationColumns + ` FROM ticket_reservations WHERE id = $1 FOR UPDATE`

	res, err := r.scanOne(ctx, query, id)
	if err != nil {
		if errors.Is(err, domain.ErrReservationNotFound) {
			span.SetStatus(codes.Error, "not found")
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (r *PostgresReservationRepository) scanOne(ctx context.Context, query string, args ...any) (*domain.Reservation, error) {
	res := &domain.Reservation{}
	var (
		status         string
		paymentMethod  *string
		vatStatus      string
		invoiceNumber  *string
		registrationAt *time.Time
	)

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&res.ID,
		&res.EventID,
		&status,
		&res.CustomerName,
		&res.CustomerEmail,
		&res.Locale,
		&paymentMethod,
		&res.PromoCodeID,
		&vatStatus,
		&res.VatRateBp,
		&res.InvoiceRequested,
		&invoiceNumber,
		&res.BillingAddress,
		&res.VatNumber,
		&res.ReminderSent,
		&res.CreatedAt,
		&res.ExpiresAt,
		&registrationAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}

	res.Status = domain.ReservationStatus(status)
	res.VatStatus = domain.VatStatus(vatStatus)
	res.InvoiceNumber = invoiceNumber
	res.RegistrationAt = registrationAt
	if paymentMethod != nil {
		res.PaymentMethod = domain.PaymentMethod(*paymentMethod)
	}

	return res, nil
}

// Transition moves the reservation from one status to another. Exactly one
// row must change; anything else means a concurrent actor won the race.
func (r *PostgresReservationRepository) Transition(ctx context.Context, id string, from, to domain.ReservationStatus) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.transition")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", id),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	)

	query := `
		UPDATE ticket_reservations SET status = $3
		WHERE id = $1 AND status = $2
	`

	result, err := r.db.Exec(ctx, query, id, from.String(), to.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to transition reservation: %w", err)
	}

	if result.RowsAffected() != 1 {
		span.SetStatus(codes.Error, "transition conflict")
		return domain.ErrTransitionConflict
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// MarkInPayment moves PENDING to IN_PAYMENT recording the payment method
func (r *PostgresReservationRepository) MarkInPayment(ctx context.Context, id string, method domain.PaymentMethod) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.mark_in_payment")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", id),
		attribute.String("payment_method", method.String()),
	)

	query := `
		UPDATE ticket_reservations SET status = $2, payment_method = $3
		WHERE id = $1 AND status = $4
	`

	result, err := r.db.Exec(ctx, query, id,
		domain.ReservationStatusInPayment.String(), method.String(),
		domain.ReservationStatusPending.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to mark reservation in payment: %w", err)
	}

	if result.RowsAffected() != 1 {
		span.SetStatus(codes.Error, "transition conflict")
		return domain.ErrTransitionConflict
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// BackToPending reverts IN_PAYMENT to PENDING after a provider failure
func (r *PostgresReservationRepository) BackToPending(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.back_to_pending")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", id))

	query := `
		UPDATE ticket_reservations SET status = $2, payment_method = NULL
		WHERE id = $1 AND status = $3
	`

	result, err := r.db.Exec(ctx, query, id,
		domain.ReservationStatusPending.String(),
		domain.ReservationStatusInPayment.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to revert reservation to pending: %w", err)
	}

	if result.RowsAffected() != 1 {
		span.SetStatus(codes.Error, "transition conflict")
		return domain.ErrTransitionConflict
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// SetOfflinePayment moves PENDING to OFFLINE_PAYMENT, recording the deferred
// payment method and the payment deadline.
func (r *PostgresReservationRepository) SetOfflinePayment(ctx context.Context, id string, method domain.PaymentMethod, deadline time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.set_offline_payment")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", id),
		attribute.String("payment_method", method.String()),
	)

	query := `
		UPDATE ticket_reservations SET status = $2, payment_method = $3, expires_at = $4
		WHERE id = $1 AND status = $5
	`

	result, err := r.db.Exec(ctx, query, id,
		domain.ReservationStatusOfflinePayment.String(), method.String(), deadline,
		domain.ReservationStatusPending.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to mark reservation waiting for offline payment: %w", err)
	}

	if result.RowsAffected() != 1 {
		span.SetStatus(codes.Error, "transition conflict")
		return domain.ErrTransitionConflict
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Complete finalizes the reservation from the given status
func (r *PostgresReservationRepository) Complete(ctx context.Context, id string, from domain.ReservationStatus, method domain.PaymentMethod, registeredAt time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.complete")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", id),
		attribute.String("from", from.String()),
	)

	query := `
		UPDATE ticket_reservations SET
			status = $2,
			payment_method = $3,
			registration_at = $4
		WHERE id = $1 AND status = $5
	`

	result, err := r.db.Exec(ctx, query, id,
		domain.ReservationStatusComplete.String(), method.String(), registeredAt,
		from.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to complete reservation: %w", err)
	}

	if result.RowsAffected() != 1 {
		span.SetStatus(codes.Error, "transition conflict")
		return domain.ErrTransitionConflict
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// SetBillingData saves the buyer's billing details
func (r *PostgresReservationRepository) SetBillingData(ctx context.Context, id, name, email, address, vatNumber string, invoiceRequested bool) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.set_billing_data")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", id))

	query := `
		UPDATE ticket_reservations SET
			customer_name = $2,
			customer_email = $3,
			billing_address = $4,
			vat_number = $5,
			invoice_requested = $6
		WHERE id = $1
	`

	result, err := r.db.Exec(ctx, query, id, name, email, address, vatNumber, invoiceRequested)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to set billing data: %w", err)
	}

	if result.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "not found")
		return domain.ErrReservationNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// SetInvoiceNumber records the generated invoice number
func (r *PostgresReservationRepository) SetInvoiceNumber(ctx context.Context, id, number string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.set_invoice_number")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", id),
		attribute.String("invoice_number", number),
	)

	result, err := r.db.Exec(ctx,
		`UPDATE ticket_reservations SET invoice_number = $2 WHERE id = $1 AND invoice_number IS NULL`,
		id, number)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to set invoice number: %w", err)
	}

	if result.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "already numbered")
		return domain.ErrTransitionConflict
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// FindExpiredPending returns PENDING reservations past their deadline
func (r *PostgresReservationRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	return r.findByStatusAndDeadline(ctx, "repo.postgres.reservation.find_expired_pending",
		domain.ReservationStatusPending, now, limit)
}

// FindStuckInPayment returns IN_PAYMENT reservations past their deadline
func (r *PostgresReservationRepository) FindStuckInPayment(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	return r.findByStatusAndDeadline(ctx, "repo.postgres.reservation.find_stuck_in_payment",
		domain.ReservationStatusInPayment, now, limit)
}

// FindExpiredOffline returns OFFLINE_PAYMENT reservations past their deadline
func (r *PostgresReservationRepository) FindExpiredOffline(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	return r.findByStatusAndDeadline(ctx, "repo.postgres.reservation.find_expired_offline",
		domain.ReservationStatusOfflinePayment, now, limit)
}

func (r *PostgresReservationRepository) findByStatusAndDeadline(ctx context.Context, spanName string, status domain.ReservationStatus, now time.Time, limit int) ([]*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, spanName)
	defer span.End()

	span.SetAttributes(
		attribute.String("status", status.String()),
		attribute.Int("limit", limit),
	)

	query := `
		SELECT ` + reservationColumns + `
		FROM ticket_reservations
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3
	`

	out, err := r.scanMany(ctx, query, status.String(), now, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("count", len(out)))
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// FindOfflineForReminder returns OFFLINE_PAYMENT reservations approaching
// their deadline that have not been reminded yet.
func (r *PostgresReservationRepository) FindOfflineForReminder(ctx context.Context, deadline time.Time, limit int) ([]*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.find_offline_for_reminder")
	defer span.End()

	span.SetAttributes(attribute.Int("limit", limit))

	query := `
		SELECT ` + reservationColumns + `
		FROM ticket_reservations
		WHERE status = $1 AND expires_at < $2 AND NOT reminder_sent
		ORDER BY expires_at
		LIMIT $3
	`

	out, err := r.scanMany(ctx, query,
		domain.ReservationStatusOfflinePayment.String(), deadline, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("count", len(out)))
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (r *PostgresReservationRepository) scanMany(ctx context.Context, query string, args ...any) ([]*domain.Reservation, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Reservation
	for rows.Next() {
		res := &domain.Reservation{}
		var (
			status         string
			paymentMethod  *string
			vatStatus      string
			invoiceNumber  *string
			registrationAt *time.Time
		)
		err := rows.Scan(
			&res.ID,
			&res.EventID,
			&status,
			&res.CustomerName,
			&res.CustomerEmail,
			&res.Locale,
			&paymentMethod,
			&res.PromoCodeID,
			&vatStatus,
			&res.VatRateBp,
			&res.InvoiceRequested,
			&invoiceNumber,
			&res.BillingAddress,
			&res.VatNumber,
			&res.ReminderSent,
			&res.CreatedAt,
			&res.ExpiresAt,
			&registrationAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		res.Status = domain.ReservationStatus(status)
		res.VatStatus = domain.VatStatus(vatStatus)
		res.InvoiceNumber = invoiceNumber
		res.RegistrationAt = registrationAt
		if paymentMethod != nil {
			res.PaymentMethod = domain.PaymentMethod(*paymentMethod)
		}
		out = append(out, res)
	}

	return out, rows.Err()
}

// MarkStuck flags expired IN_PAYMENT reservations without touching inventory
func (r *PostgresReservationRepository) MarkStuck(ctx context.Context, ids []string) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.mark_stuck")
	defer span.End()

	span.SetAttributes(attribute.Int("count", len(ids)))

	query := `
		UPDATE ticket_reservations SET status = $2
		WHERE id = ANY($1) AND status = $3
	`

	result, err := r.db.Exec(ctx, query, ids,
		domain.ReservationStatusStuck.String(),
		domain.ReservationStatusInPayment.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to mark reservations stuck: %w", err)
	}

	span.SetAttributes(attribute.Int64("rows", result.RowsAffected()))
	span.SetStatus(codes.Ok, "")
	return result.RowsAffected(), nil
}

// MarkReminderSent flags the reservation so the reminder goes out once
func (r *PostgresReservationRepository) MarkReminderSent(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.mark_reminder_sent")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", id))

	result, err := r.db.Exec(ctx,
		`UPDATE ticket_reservations SET reminder_sent = TRUE WHERE id = $1 AND NOT reminder_sent`, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to mark reminder sent: %w", err)
	}

	if result.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "already sent")
		return domain.ErrTransitionConflict
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Delete removes the reservation row
func (r *PostgresReservationRepository) Delete(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.reservation.delete")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", id))

	if _, err := r.db.Exec(ctx, `DELETE FROM ticket_reservations WHERE id = $1`, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete reservation: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Ensure PostgresReservationRepository implements ReservationRepository
var _ ReservationRepository = (*PostgresReservationRepository)(nil)
