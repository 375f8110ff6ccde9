package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mortendir/ticketreserve/internal/domain"
)

// TicketRepository manages seat-level inventory rows
type TicketRepository interface {
	// WithTx returns a copy bound to the given transaction
	WithTx(tx pgx.Tx) TicketRepository

	// SelectFreeInCategory picks up to qty free tickets of a bounded
	// category, skipping rows locked by concurrent reservations.
	SelectFreeInCategory(ctx context.Context, eventID, categoryID int64, qty int) ([]int64, error)

	// SelectFreeFromPool picks up to qty unallocated tickets from the
	// event's shared pool, skipping locked rows.
	SelectFreeFromPool(ctx context.Context, eventID int64, qty int) ([]int64, error)

	// Reserve binds the tickets to a reservation and moves them to PENDING
	Reserve(ctx context.Context, ids []int64, reservationID string, categoryID int64) error

	// ReserveWithToken reserves a single restricted-category ticket bound
	// to an access token.
	ReserveWithToken(ctx context.Context, id int64, reservationID string, categoryID, tokenID int64) error

	// UpdatePricing writes the priced breakdown onto the tickets
	UpdatePricing(ctx context.Context, ids []int64, d domain.PriceDetail) error

	FindByReservation(ctx context.Context, reservationID string) ([]*domain.Ticket, error)
	CountByReservation(ctx context.Context, reservationID string) (int, error)

	// UpdateStatusByReservation moves every ticket of the reservation to
	// the given status and returns how many rows changed.
	UpdateStatusByReservation(ctx context.Context, reservationID string, status domain.TicketStatus) (int64, error)

	// ReleaseByReservation frees the tickets: RELEASED status, reservation,
	// holder and pricing fields cleared.
	ReleaseByReservation(ctx context.Context, reservationID string) (int64, error)

	// ResetCategoryForUnbounded unbinds released tickets of unbounded
	// categories so they return to the shared pool.
	ResetCategoryForUnbounded(ctx context.Context, reservationID string) error

	// ReleaseOne frees a single ticket out of a confirmed reservation
	ReleaseOne(ctx context.Context, ticketID int64, reservationID string) error

	CountFreeInCategory(ctx context.Context, categoryID int64) (int, error)
	CountFreeInPool(ctx context.Context, eventID int64) (int, error)

	// DeleteFieldValues purges per-ticket attendee field values
	DeleteFieldValues(ctx context.Context, reservationID string) error

	// SummaryRows returns per-category order summary rows
	SummaryRows(ctx context.Context, reservationID string) ([]domain.OrderSummaryRow, error)
}

// ReservationRepository manages reservation rows and their transitions
type ReservationRepository interface {
	WithTx(tx pgx.Tx) ReservationRepository

	Create(ctx context.Context, r *domain.Reservation) error
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)

	// LockForUpdate loads the reservation under a row lock
	LockForUpdate(ctx context.Context, id string) (*domain.Reservation, error)

	// Transition moves from one status to another; exactly one row must
	// change or ErrTransitionConflict is returned.
	Transition(ctx context.Context, id string, from, to domain.ReservationStatus) error

	// MarkInPayment moves PENDING to IN_PAYMENT recording the payment method
	MarkInPayment(ctx context.Context, id string, method domain.PaymentMethod) error

	// BackToPending reverts IN_PAYMENT to PENDING after a provider failure
	BackToPending(ctx context.Context, id string) error

	// SetOfflinePayment moves PENDING to OFFLINE_PAYMENT with the payment
	// deadline for the bank transfer.
	SetOfflinePayment(ctx context.Context, id string, method domain.PaymentMethod, deadline time.Time) error

	// Complete finalizes the reservation from the given status
	Complete(ctx context.Context, id string, from domain.ReservationStatus, method domain.PaymentMethod, registeredAt time.Time) error

	SetBillingData(ctx context.Context, id, name, email, address, vatNumber string, invoiceRequested bool) error
	SetInvoiceNumber(ctx context.Context, id, number string) error

	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)
	FindStuckInPayment(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)
	FindExpiredOffline(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)
	FindOfflineForReminder(ctx context.Context, deadline time.Time, limit int) ([]*domain.Reservation, error)

	MarkStuck(ctx context.Context, ids []string) (int64, error)
	MarkReminderSent(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// EventRepository reads events and their categories
type EventRepository interface {
	WithTx(tx pgx.Tx) EventRepository

	GetByID(ctx context.Context, id int64) (*domain.Event, error)
	GetCategory(ctx context.Context, id int64) (*domain.TicketCategory, error)
}

// AccessTokenRepository manages restricted-category access tokens
type AccessTokenRepository interface {
	WithTx(tx pgx.Tx) AccessTokenRepository

	GetByID(ctx context.Context, id int64) (*domain.AccessToken, error)
	GetByCode(ctx context.Context, categoryID int64, code string) (*domain.AccessToken, error)

	// BindToSession moves a FREE token to PENDING for the session; returns
	// false when the token was not free.
	BindToSession(ctx context.Context, tokenID int64, sessionID string) (bool, error)

	// FindPendingTicket returns the PENDING ticket currently holding the
	// token, or nil when none does.
	FindPendingTicket(ctx context.Context, tokenID int64) (*domain.Ticket, error)

	MarkTakenByReservation(ctx context.Context, reservationID string) error
	ResetByReservation(ctx context.Context, reservationID string) (int64, error)
}

// PromoCodeRepository reads promo codes and counts confirmed usage
type PromoCodeRepository interface {
	WithTx(tx pgx.Tx) PromoCodeRepository

	GetByID(ctx context.Context, id int64) (*domain.PromoCode, error)
	GetByCode(ctx context.Context, eventID int64, code string) (*domain.PromoCode, error)

	// CountConfirmedUsage counts confirmed tickets in reservations other
	// than excludeReservationID that used the promo code. A non-empty
	// categories set restricts the count to tickets of those categories.
	CountConfirmedUsage(ctx context.Context, promoID int64, excludeReservationID string, categories []int64) (int, error)
}

// AddonRepository manages addon services and their purchased items
type AddonRepository interface {
	WithTx(tx pgx.Tx) AddonRepository

	GetService(ctx context.Context, id int64) (*domain.AddonService, error)
	Reserve(ctx context.Context, reservationID string, serviceID int64, qty int, d domain.PriceDetail) error
	FindByReservation(ctx context.Context, reservationID string) ([]*domain.AddonItem, error)
	UpdateStatusByReservation(ctx context.Context, reservationID string, status domain.AddonItemStatus) (int64, error)
	DeleteByReservation(ctx context.Context, reservationID string) error
}

// BillingRepository manages invoice sequences and billing documents
type BillingRepository interface {
	WithTx(tx pgx.Tx) BillingRepository

	// NextInvoiceSequence increments and returns the per-organization
	// sequence under a row lock.
	NextInvoiceSequence(ctx context.Context, organizationID int64) (int64, error)

	InsertDocument(ctx context.Context, doc *domain.BillingDocument) error
	LatestByReservation(ctx context.Context, reservationID string) (*domain.BillingDocument, error)
	DeleteByReservation(ctx context.Context, reservationID string) error
}

// AuditRepository appends audit records
type AuditRepository interface {
	WithTx(tx pgx.Tx) AuditRepository

	Record(ctx context.Context, entry *domain.AuditEntry) error
}

// GroupRepository manages attendee-group membership holds
type GroupRepository interface {
	WithTx(tx pgx.Tx) GroupRepository

	// ActiveLink returns the group link covering the category, nil when
	// the category is not group-restricted.
	ActiveLink(ctx context.Context, eventID, categoryID int64) (*int64, error)

	// AcquireMember claims a member slot for the ticket; true when the slot
	// was free or already held by this ticket, false when the holder does
	// not belong to the group or another ticket consumed the slot.
	AcquireMember(ctx context.Context, linkID, ticketID int64, email string) (bool, error)

	ReleaseByReservation(ctx context.Context, reservationID string) error
}
