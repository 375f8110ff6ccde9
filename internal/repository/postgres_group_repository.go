package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mortendir/ticketreserve/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresGroupRepository implements GroupRepository using PostgreSQL.
// A group link restricts a category (or a whole event) to the members of an
// attendee group; each member can hold at most one ticket per link.
type PostgresGroupRepository struct {
	db DBTX
}

// NewPostgresGroupRepository creates a new PostgresGroupRepository
func NewPostgresGroupRepository(db DBTX) *PostgresGroupRepository {
	return &PostgresGroupRepository{db: db}
}

// WithTx returns a copy bound to the given transaction
func (r *PostgresGroupRepository) WithTx(tx pgx.Tx) GroupRepository {
	return &PostgresGroupRepository{db: tx}
}

// ActiveLink returns the group link covering the category, preferring a
// category-specific link over an event-wide one. Nil means unrestricted.
func (r *PostgresGroupRepository) ActiveLink(ctx context.Context, eventID, categoryID int64) (*int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.group.active_link")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
		attribute.Int64("category_id", categoryID),
	)

	query := `
		SELECT id FROM group_links
		WHERE event_id = $1
			AND active
			AND (category_id = $2 OR category_id IS NULL)
		ORDER BY category_id NULLS LAST
		LIMIT 1
	`

	var linkID int64
	err := r.db.QueryRow(ctx, query, eventID, categoryID).Scan(&linkID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Ok, "no link")
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to find group link: %w", err)
	}

	span.SetAttributes(attribute.Int64("link_id", linkID))
	span.SetStatus(codes.Ok, "")
	return &linkID, nil
}

// AcquireMember claims a member slot for the ticket holder. The unique
// constraint on (group_link_id, group_member_id) makes the claim atomic; a
// hold that already belongs to the same ticket counts as acquired, so a
// retried payment does not lock itself out.
func (r *PostgresGroupRepository) AcquireMember(ctx context.Context, linkID, ticketID int64, email string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.group.acquire_member")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("link_id", linkID),
		attribute.Int64("ticket_id", ticketID),
	)

	query := `
		INSERT INTO group_tickets (group_link_id, group_member_id, ticket_id)
		SELECT l.id, m.id, $2
		FROM group_links l
		JOIN group_members m ON m.group_id = l.group_id
		WHERE l.id = $1 AND lower(m.value) = lower($3)
		ON CONFLICT DO NOTHING
	`

	result, err := r.db.Exec(ctx, query, linkID, ticketID, email)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to acquire group member: %w", err)
	}

	acquired := result.RowsAffected() == 1
	if !acquired {
		existing := `
			SELECT EXISTS (
				SELECT 1
				FROM group_tickets gt
				JOIN group_members m ON m.id = gt.group_member_id
				WHERE gt.group_link_id = $1
					AND gt.ticket_id = $2
					AND lower(m.value) = lower($3)
			)
		`
		if err := r.db.QueryRow(ctx, existing, linkID, ticketID, email).Scan(&acquired); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return false, fmt.Errorf("failed to check existing group hold: %w", err)
		}
	}

	span.SetAttributes(attribute.Bool("acquired", acquired))
	span.SetStatus(codes.Ok, "")
	return acquired, nil
}

// ReleaseByReservation drops the member holds of a reservation's tickets
func (r *PostgresGroupRepository) ReleaseByReservation(ctx context.Context, reservationID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.group.release_by_reservation")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	query := `
		DELETE FROM group_tickets
		WHERE ticket_id IN (SELECT id FROM tickets WHERE reservation_id = $1)
	`

	if _, err := r.db.Exec(ctx, query, reservationID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to release group holds: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Ensure PostgresGroupRepository implements GroupRepository
var _ GroupRepository = (*PostgresGroupRepository)(nil)
