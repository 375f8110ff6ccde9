package service

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/mortendir/ticketreserve/internal/domain"
	"github.com/mortendir/ticketreserve/internal/repository"
)

// TxRunner opens database transactions for a service method. It is satisfied
// by database.PostgresDB; tests substitute a runner that calls the function
// directly.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	WithSerializableTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Repositories bundles every repository the services touch so a whole set can
// be rebound to one transaction at once.
type Repositories struct {
	Tickets      repository.TicketRepository
	Reservations repository.ReservationRepository
	Events       repository.EventRepository
	Tokens       repository.AccessTokenRepository
	Promos       repository.PromoCodeRepository
	Addons       repository.AddonRepository
	Billing      repository.BillingRepository
	Audit        repository.AuditRepository
	Groups       repository.GroupRepository
}

// WithTx returns a copy of the bundle bound to the given transaction
func (r Repositories) WithTx(tx pgx.Tx) Repositories {
	return Repositories{
		Tickets:      r.Tickets.WithTx(tx),
		Reservations: r.Reservations.WithTx(tx),
		Events:       r.Events.WithTx(tx),
		Tokens:       r.Tokens.WithTx(tx),
		Promos:       r.Promos.WithTx(tx),
		Addons:       r.Addons.WithTx(tx),
		Billing:      r.Billing.WithTx(tx),
		Audit:        r.Audit.WithTx(tx),
		Groups:       r.Groups.WithTx(tx),
	}
}

// acquireItems moves every ticket and addon item of the reservation to its
// confirmed status and marks the access tokens TAKEN. The ticket update must
// cover exactly the tickets the reservation holds or ErrTransitionConflict is
// returned.
func acquireItems(ctx context.Context, r Repositories, reservationID string, method domain.PaymentMethod) error {
	ticketStatus := domain.TicketStatusAcquired
	addonStatus := domain.AddonItemStatusAcquired
	if method.RequiresDeskPayment() {
		ticketStatus = domain.TicketStatusToBePaid
		addonStatus = domain.AddonItemStatusToBePaid
	}

	expected, err := r.Tickets.CountByReservation(ctx, reservationID)
	if err != nil {
		return err
	}

	updated, err := r.Tickets.UpdateStatusByReservation(ctx, reservationID, ticketStatus)
	if err != nil {
		return err
	}
	if updated != int64(expected) {
		return domain.ErrTransitionConflict
	}

	if _, err := r.Addons.UpdateStatusByReservation(ctx, reservationID, addonStatus); err != nil {
		return err
	}

	return r.Tokens.MarkTakenByReservation(ctx, reservationID)
}

// releaseInventory undoes every inventory side effect of a reservation:
// access tokens back to FREE, group holds dropped, attendee data purged,
// unbounded tickets returned to the shared pool and all tickets released.
// The reservation row itself is left to the caller, which either deletes it
// or moves it to a terminal status.
func releaseInventory(ctx context.Context, r Repositories, reservationID, actor string) error {
	resetTokens, err := r.Tokens.ResetByReservation(ctx, reservationID)
	if err != nil {
		return err
	}
	if resetTokens > 0 {
		if err := r.Audit.Record(ctx, &domain.AuditEntry{
			ReservationID: reservationID,
			EventType:     domain.AuditAccessTokenReset,
			Actor:         actor,
			EntityType:    "access_token",
			EntityID:      reservationID,
		}); err != nil {
			return err
		}
	}

	if err := r.Groups.ReleaseByReservation(ctx, reservationID); err != nil {
		return err
	}
	if err := r.Tickets.DeleteFieldValues(ctx, reservationID); err != nil {
		return err
	}
	// shared-pool tickets must lose their category before the reservation
	// binding is cleared
	if err := r.Tickets.ResetCategoryForUnbounded(ctx, reservationID); err != nil {
		return err
	}
	if _, err := r.Tickets.ReleaseByReservation(ctx, reservationID); err != nil {
		return err
	}
	return r.Addons.DeleteByReservation(ctx, reservationID)
}

// orderTotal rebuilds the priced total of a reservation from the stored
// per-item breakdowns.
func orderTotal(ctx context.Context, r Repositories, res *domain.Reservation) (domain.TotalPrice, *domain.PromoCode, []*domain.Ticket, error) {
	event, err := r.Events.GetByID(ctx, res.EventID)
	if err != nil {
		return domain.TotalPrice{}, nil, nil, err
	}

	tickets, err := r.Tickets.FindByReservation(ctx, res.ID)
	if err != nil {
		return domain.TotalPrice{}, nil, nil, err
	}
	addons, err := r.Addons.FindByReservation(ctx, res.ID)
	if err != nil {
		return domain.TotalPrice{}, nil, nil, err
	}

	var promo *domain.PromoCode
	if res.PromoCodeID != nil {
		promo, err = r.Promos.GetByID(ctx, *res.PromoCodeID)
		if err != nil {
			return domain.TotalPrice{}, nil, nil, err
		}
	}

	details := make([]domain.PriceDetail, 0, len(tickets)+len(addons))
	qualifying := 0
	for _, t := range tickets {
		details = append(details, domain.PriceDetail{
			SrcPriceCts:   t.SrcPriceCts,
			FinalPriceCts: t.FinalPriceCts,
			VatCts:        t.VatCts,
			DiscountCts:   t.DiscountCts,
		})
		if promo != nil && t.CategoryID != nil && promo.AppliesTo(*t.CategoryID) {
			qualifying++
		}
	}
	for _, a := range addons {
		details = append(details, domain.PriceDetail{
			SrcPriceCts:   a.SrcPriceCts,
			FinalPriceCts: a.FinalPriceCts,
			VatCts:        a.VatCts,
			DiscountCts:   a.DiscountCts,
		})
	}

	total := domain.ComputeTotal(details, promo, qualifying, event.Currency)
	return total, promo, tickets, nil
}

// qualifyingTickets counts the tickets a promo code applies to
func qualifyingTickets(promo *domain.PromoCode, tickets []*domain.Ticket) int {
	if promo == nil {
		return 0
	}
	n := 0
	for _, t := range tickets {
		if t.CategoryID != nil && promo.AppliesTo(*t.CategoryID) {
			n++
		}
	}
	return n
}
