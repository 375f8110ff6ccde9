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

// PostgresAccessTokenRepository implements AccessTokenRepository using PostgreSQL
type PostgresAccessTokenRepository struct {
	db DBTX
}

// NewPostgresAccessTokenRepository creates a new PostgresAccessTokenRepository
func NewPostgresAccessTokenRepository(db DBTX) *PostgresAccessTokenRepository {
	return &PostgresAccessTokenRepository{db: db}
}

// WithTx returns a copy bound to the given transaction
func (r *PostgresAccessTokenRepository) WithTx(tx pgx.Tx) AccessTokenRepository {
	return &PostgresAccessTokenRepository{db: tx}
}

// GetByID retrieves a token by its ID
func (r *PostgresAccessTokenRepository) GetByID(ctx context.Context, id int64) (*domain.AccessToken, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.access_token.get_by_id")
	defer span.End()

	span.SetAttributes(attribute.Int64("access_token_id", id))

	query := `
		SELECT id, code, category_id, status, session_id
		FROM access_tokens
		WHERE id = $1
	`

	token, err := r.scanToken(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			span.SetStatus(codes.Error, "not found")
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return token, nil
}

// GetByCode retrieves a token of a category by its code
func (r *PostgresAccessTokenRepository) GetByCode(ctx context.Context, categoryID int64, code string) (*domain.AccessToken, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.access_token.get_by_code")
	defer span.End()

	span.SetAttributes(attribute.Int64("category_id", categoryID))

	query := `
		SELECT id, code, category_id, status, session_id
		FROM access_tokens
		WHERE category_id = $1 AND code = $2
	`

	token, err := r.scanToken(r.db.QueryRow(ctx, query, categoryID, code))
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			span.SetStatus(codes.Error, "not found")
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return token, nil
}

func (r *PostgresAccessTokenRepository) scanToken(row pgx.Row) (*domain.AccessToken, error) {
	token := &domain.AccessToken{}
	var status string
	err := row.Scan(&token.ID, &token.Code, &token.CategoryID, &status, &token.SessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to scan access token: %w", err)
	}
	token.Status = domain.AccessTokenStatus(status)
	return token, nil
}

// BindToSession moves a FREE token to PENDING for the given session.
// Returns false when another session already holds it.
func (r *PostgresAccessTokenRepository) BindToSession(ctx context.Context, tokenID int64, sessionID string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.access_token.bind_to_session")
	defer span.End()

	span.SetAttributes(attribute.Int64("access_token_id", tokenID))

	query := `
		UPDATE access_tokens SET status = $2, session_id = $3
		WHERE id = $1 AND status = $4
	`

	result, err := r.db.Exec(ctx, query, tokenID,
		domain.AccessTokenStatusPending.String(), sessionID,
		domain.AccessTokenStatusFree.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to bind access token: %w", err)
	}

	bound := result.RowsAffected() == 1
	span.SetAttributes(attribute.Bool("bound", bound))
	span.SetStatus(codes.Ok, "")
	return bound, nil
}

// FindPendingTicket returns the PENDING ticket currently holding the token
func (r *PostgresAccessTokenRepository) FindPendingTicket(ctx context.Context, tokenID int64) (*domain.Ticket, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.access_token.find_pending_ticket")
	defer span.End()

	span.SetAttributes(attribute.Int64("access_token_id", tokenID))

	query := `
		SELECT
			id, uuid, event_id, category_id, reservation_id, status,
			src_price_cts, final_price_cts, vat_cts, discount_cts,
			access_token_id, full_name, email, created_at, updated_at
		FROM tickets
		WHERE access_token_id = $1 AND status = $2
	`

	rows, err := r.db.Query(ctx, query, tokenID, domain.TicketStatusPending.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to find ticket for token: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		span.SetStatus(codes.Ok, "no pending ticket")
		return nil, rows.Err()
	}

	ticket, err := scanTicket(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return ticket, nil
}

// MarkTakenByReservation finalizes the tokens of a confirmed reservation
func (r *PostgresAccessTokenRepository) MarkTakenByReservation(ctx context.Context, reservationID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.access_token.mark_taken_by_reservation")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	query := `
		UPDATE access_tokens SET status = $2, session_id = NULL
		WHERE id IN (
			SELECT access_token_id FROM tickets
			WHERE reservation_id = $1 AND access_token_id IS NOT NULL
		)
	`

	if _, err := r.db.Exec(ctx, query, reservationID,
		domain.AccessTokenStatusTaken.String()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to mark tokens taken: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ResetByReservation frees the tokens held by a cancelled reservation
func (r *PostgresAccessTokenRepository) ResetByReservation(ctx context.Context, reservationID string) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.access_token.reset_by_reservation")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	query := `
		UPDATE access_tokens SET status = $2, session_id = NULL
		WHERE id IN (
			SELECT access_token_id FROM tickets
			WHERE reservation_id = $1 AND access_token_id IS NOT NULL
		)
	`

	result, err := r.db.Exec(ctx, query, reservationID,
		domain.AccessTokenStatusFree.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to reset tokens: %w", err)
	}

	span.SetAttributes(attribute.Int64("rows", result.RowsAffected()))
	span.SetStatus(codes.Ok, "")
	return result.RowsAffected(), nil
}

// Ensure PostgresAccessTokenRepository implements AccessTokenRepository
var _ AccessTokenRepository = (*PostgresAccessTokenRepository)(nil)
