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

// PostgresBillingRepository implements BillingRepository using PostgreSQL
type PostgresBillingRepository struct {
	db DBTX
}

// NewPostgresBillingRepository creates a new PostgresBillingRepository
func NewPostgresBillingRepository(db DBTX) *PostgresBillingRepository {
	return &PostgresBillingRepository{db: db}
}

// WithTx returns a copy bound to the given transaction
func (r *PostgresBillingRepository) WithTx(tx pgx.Tx) BillingRepository {
	return &PostgresBillingRepository{db: tx}
}

// NextInvoiceSequence increments and returns the per-organization invoice
// sequence. The row lock serializes concurrent invoice generation, so two
// reservations can never share a number.
func (r *PostgresBillingRepository) NextInvoiceSequence(ctx context.Context, organizationID int64) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.billing.next_invoice_sequence")
	defer span.End()

	span.SetAttributes(attribute.Int64("organization_id", organizationID))

	if _, err := r.db.Exec(ctx, `
		INSERT INTO invoice_sequences (organization_id, value)
		VALUES ($1, 0)
		ON CONFLICT (organization_id) DO NOTHING
	`, organizationID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to seed invoice sequence: %w", err)
	}

	var current int64
	err := r.db.QueryRow(ctx, `
		SELECT value FROM invoice_sequences
		WHERE organization_id = $1
		FOR UPDATE
	`, organizationID).Scan(&current)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to lock invoice sequence: %w", err)
	}

	next := current + 1
	if _, err := r.db.Exec(ctx, `
		UPDATE invoice_sequences SET value = $2 WHERE organization_id = $1
	`, organizationID, next); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to advance invoice sequence: %w", err)
	}

	span.SetAttributes(attribute.Int64("value", next))
	span.SetStatus(codes.Ok, "")
	return next, nil
}

// InsertDocument stores a billing document
func (r *PostgresBillingRepository) InsertDocument(ctx context.Context, doc *domain.BillingDocument) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.billing.insert_document")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", doc.ReservationID),
		attribute.String("type", string(doc.Type)),
	)

	query := `
		INSERT INTO billing_documents (reservation_id, number, type, model, generated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	generatedAt := doc.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}

	_, err := r.db.Exec(ctx, query,
		doc.ReservationID, doc.Number, string(doc.Type), doc.Model, generatedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to insert billing document: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// LatestByReservation returns the most recent billing document
func (r *PostgresBillingRepository) LatestByReservation(ctx context.Context, reservationID string) (*domain.BillingDocument, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.billing.latest_by_reservation")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	query := `
		SELECT id, reservation_id, number, type, model, generated_at
		FROM billing_documents
		WHERE reservation_id = $1
		ORDER BY generated_at DESC, id DESC
		LIMIT 1
	`

	doc := &domain.BillingDocument{}
	var docType string
	err := r.db.QueryRow(ctx, query, reservationID).Scan(
		&doc.ID, &doc.ReservationID, &doc.Number, &docType, &doc.Model, &doc.GeneratedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrBillingDocumentNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get billing document: %w", err)
	}
	doc.Type = domain.BillingDocumentType(docType)

	span.SetStatus(codes.Ok, "")
	return doc, nil
}

// DeleteByReservation removes the billing documents of a reservation.
// Credit-note flows must not call this; credit notes are retained.
func (r *PostgresBillingRepository) DeleteByReservation(ctx context.Context, reservationID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.billing.delete_by_reservation")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	if _, err := r.db.Exec(ctx,
		`DELETE FROM billing_documents WHERE reservation_id = $1`, reservationID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to delete billing documents: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Ensure PostgresBillingRepository implements BillingRepository
var _ BillingRepository = (*PostgresBillingRepository)(nil)
