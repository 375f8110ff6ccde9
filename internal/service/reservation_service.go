package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mortendir/ticketreserve/internal/domain"
	"github.com/mortendir/ticketreserve/internal/notification"
	"github.com/mortendir/ticketreserve/pkg/logger"
	"github.com/mortendir/ticketreserve/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// TicketRequest asks for tickets of one category. Access-restricted
// categories sell one ticket per request, identified by its token code.
type TicketRequest struct {
	CategoryID      int64
	Quantity        int
	AccessTokenCode string
}

// AddonRequest asks for units of an addon service
type AddonRequest struct {
	ServiceID int64
	Quantity  int
}

// CreateReservationRequest is the input to Create
type CreateReservationRequest struct {
	EventID   int64
	Tickets   []TicketRequest
	Addons    []AddonRequest
	PromoCode string
	SessionID string
	Locale    string
	// ExpiresAt overrides the default hold deadline when non-zero
	ExpiresAt time.Time
}

// ReservationService drives the reservation lifecycle
type ReservationService interface {
	// Create allocates inventory and opens a PENDING hold
	Create(ctx context.Context, req *CreateReservationRequest) (string, error)

	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)

	// OrderSummary renders the priced breakdown of a reservation
	OrderSummary(ctx context.Context, id string) (*domain.OrderSummary, error)

	// Cancel abandons a not-yet-paid reservation, releasing its inventory
	Cancel(ctx context.Context, id, actor string) error

	// Expire reclaims a PENDING reservation that passed its deadline
	Expire(ctx context.Context, id string) error

	// Credit issues a credit note for an invoiced reservation and releases
	// its inventory while retaining the reservation and its documents.
	Credit(ctx context.Context, id, actor string) error

	// ConfirmOfflinePayment finalizes a reservation once the bank transfer
	// arrived.
	ConfirmOfflinePayment(ctx context.Context, id, actor string) error

	// ReleaseTicket gives a single ticket of a confirmed reservation back
	// to the inventory.
	ReleaseTicket(ctx context.Context, reservationID string, ticketID int64, actor string) error

	// CountAvailable returns the number of free tickets for a category
	CountAvailable(ctx context.Context, eventID, categoryID int64) (int, error)
}

// ReservationServiceConfig holds lifecycle settings
type ReservationServiceConfig struct {
	// ReservationTTL is the default hold duration
	ReservationTTL time.Duration
	// MaxTicketsPerReservation caps a single reservation's ticket count
	MaxTicketsPerReservation int
	// InvoicingEnabled gates invoice numbering at offline confirmation
	InvoicingEnabled bool
	// InvoicePattern takes the event short name and the sequence number
	InvoicePattern string
}

// DefaultReservationServiceConfig returns default settings
func DefaultReservationServiceConfig() *ReservationServiceConfig {
	return &ReservationServiceConfig{
		ReservationTTL:           25 * time.Minute,
		MaxTicketsPerReservation: 10,
		InvoicingEnabled:         true,
		InvoicePattern:           "%s/%d",
	}
}

type reservationService struct {
	db           TxRunner
	repos        Repositories
	publisher    ExtensionPublisher
	mailer       notification.Mailer
	availability *AvailabilitySyncer
	cfg          *ReservationServiceConfig
	log          *logger.Logger
}

// NewReservationService creates a new reservation service. availability may
// be nil when no Redis cache is configured.
func NewReservationService(
	db TxRunner,
	repos Repositories,
	publisher ExtensionPublisher,
	mailer notification.Mailer,
	availability *AvailabilitySyncer,
	cfg *ReservationServiceConfig,
) ReservationService {
	if cfg == nil {
		cfg = DefaultReservationServiceConfig()
	}
	if publisher == nil {
		publisher = NewNoOpExtensionPublisher()
	}
	if mailer == nil {
		mailer = notification.NewNoOpMailer()
	}
	return &reservationService{
		db:           db,
		repos:        repos,
		publisher:    publisher,
		mailer:       mailer,
		availability: availability,
		cfg:          cfg,
		log:          logger.Get(),
	}
}

// Create allocates inventory and opens a PENDING hold. Allocation, pricing,
// the token handshake and the early discount-cap check run in one
// transaction; either the whole basket is held or nothing is.
func (s *reservationService) Create(ctx context.Context, req *CreateReservationRequest) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.create")
	defer span.End()

	if err := validateCreateRequest(req, s.cfg.MaxTicketsPerReservation); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(attribute.Int64("event_id", req.EventID))

	event, err := s.repos.Events.GetByID(ctx, req.EventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var promo *domain.PromoCode
	if req.PromoCode != "" {
		promo, err = s.repos.Promos.GetByCode(ctx, event.ID, req.PromoCode)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
	}

	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(s.cfg.ReservationTTL)
	}

	res := domain.NewReservation(event.ID, expiresAt, req.Locale)
	res.VatStatus = event.VatStatus
	res.VatRateBp = event.VatRateBp
	if promo != nil {
		res.PromoCodeID = &promo.ID
	}

	var touched []int64
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		r := s.repos.WithTx(tx)

		if err := r.Reservations.Create(ctx, res); err != nil {
			return err
		}

		qualifying := 0
		for _, item := range req.Tickets {
			category, err := r.Events.GetCategory(ctx, item.CategoryID)
			if err != nil {
				return err
			}
			if category.EventID != event.ID {
				return domain.ErrCategoryNotFound
			}

			qualifies := promo != nil && promo.AppliesTo(category.ID)
			detail := domain.PriceItem(category.SrcPriceCts, event.VatStatus, event.VatRateBp, promo, qualifies)

			if category.AccessRestricted {
				if err := s.reserveRestricted(ctx, r, res.ID, category, item, req.SessionID, detail); err != nil {
					return err
				}
			} else {
				if err := s.reserveOpen(ctx, r, res.ID, event.ID, category, item.Quantity, detail); err != nil {
					return err
				}
			}

			if qualifies {
				qualifying += item.Quantity
			}
			touched = append(touched, category.ID)
		}

		for _, a := range req.Addons {
			svc, err := r.Addons.GetService(ctx, a.ServiceID)
			if err != nil {
				return err
			}
			if svc.EventID != event.ID {
				return domain.ErrEventNotFound
			}
			detail := domain.PriceItem(svc.SrcPriceCts, svc.VatStatus, event.VatRateBp, nil, false)
			if err := r.Addons.Reserve(ctx, res.ID, svc.ID, a.Quantity, detail); err != nil {
				return err
			}
		}

		// early usage check; the serializable re-check at payment time is
		// the authoritative one
		if promo != nil && promo.MaxUsage != nil && qualifying > 0 {
			used, err := r.Promos.CountConfirmedUsage(ctx, promo.ID, res.ID, promo.Categories)
			if err != nil {
				return err
			}
			if used+qualifying > *promo.MaxUsage {
				return domain.ErrDiscountUsageExceeded
			}
		}

		return r.Audit.Record(ctx, &domain.AuditEntry{
			ReservationID: res.ID,
			EventType:     domain.AuditReservationCreate,
			Actor:         "customer",
			EntityType:    "reservation",
			EntityID:      res.ID,
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	s.syncAvailability(ctx, event.ID, touched)

	span.SetAttributes(attribute.String("reservation_id", res.ID))
	span.SetStatus(codes.Ok, "")
	return res.ID, nil
}

func (s *reservationService) reserveOpen(
	ctx context.Context,
	r Repositories,
	reservationID string,
	eventID int64,
	category *domain.TicketCategory,
	qty int,
	detail domain.PriceDetail,
) error {
	var (
		ids []int64
		err error
	)
	if category.Bounded {
		ids, err = r.Tickets.SelectFreeInCategory(ctx, eventID, category.ID, qty)
	} else {
		ids, err = r.Tickets.SelectFreeFromPool(ctx, eventID, qty)
	}
	if err != nil {
		return err
	}
	if len(ids) < qty {
		return domain.ErrNotEnoughTickets
	}

	if err := r.Tickets.Reserve(ctx, ids, reservationID, category.ID); err != nil {
		return err
	}
	return r.Tickets.UpdatePricing(ctx, ids, detail)
}

func (s *reservationService) reserveRestricted(
	ctx context.Context,
	r Repositories,
	reservationID string,
	category *domain.TicketCategory,
	item TicketRequest,
	sessionID string,
	detail domain.PriceDetail,
) error {
	// one token authorizes exactly one ticket
	if item.Quantity != 1 {
		return domain.ErrInvalidQuantity
	}

	token, err := s.renewAccessToken(ctx, r, category, item.AccessTokenCode, sessionID)
	if err != nil {
		return err
	}

	ids, err := r.Tickets.SelectFreeInCategory(ctx, category.EventID, category.ID, 1)
	if err != nil {
		return err
	}
	if len(ids) < 1 {
		return domain.ErrNotEnoughTickets
	}

	if err := r.Tickets.ReserveWithToken(ctx, ids[0], reservationID, category.ID, token.ID); err != nil {
		return err
	}
	return r.Tickets.UpdatePricing(ctx, ids, detail)
}

// renewAccessToken validates a token for the current session. A PENDING
// token held by a dead session is recycled by abandoning the reservation of
// the ticket still holding it.
func (s *reservationService) renewAccessToken(
	ctx context.Context,
	r Repositories,
	category *domain.TicketCategory,
	code, sessionID string,
) (*domain.AccessToken, error) {
	if code == "" {
		return nil, domain.ErrMissingAccessToken
	}
	if sessionID == "" {
		return nil, domain.ErrInvalidAccessToken
	}

	token, err := r.Tokens.GetByCode(ctx, category.ID, code)
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return nil, domain.ErrInvalidAccessToken
		}
		return nil, err
	}

	switch token.Status {
	case domain.AccessTokenStatusFree:
		bound, err := r.Tokens.BindToSession(ctx, token.ID, sessionID)
		if err != nil {
			return nil, err
		}
		if !bound {
			return nil, domain.ErrInvalidAccessToken
		}
		return r.Tokens.GetByID(ctx, token.ID)

	case domain.AccessTokenStatusPending:
		if token.BoundTo(sessionID) {
			return token, nil
		}

		ticket, err := r.Tokens.FindPendingTicket(ctx, token.ID)
		if err != nil {
			return nil, err
		}
		if ticket == nil || ticket.ReservationID == nil {
			// held by another live session
			return nil, domain.ErrInvalidAccessToken
		}

		// the holding reservation was abandoned; reclaim it and retry
		if err := s.abandonInTx(ctx, r, *ticket.ReservationID); err != nil {
			return nil, err
		}

		bound, err := r.Tokens.BindToSession(ctx, token.ID, sessionID)
		if err != nil {
			return nil, err
		}
		if !bound {
			return nil, domain.ErrInvalidAccessToken
		}
		return r.Tokens.GetByID(ctx, token.ID)

	default:
		return nil, domain.ErrInvalidAccessToken
	}
}

// abandonInTx drops a competing PENDING reservation inside the caller's
// transaction so its token can be reused.
func (s *reservationService) abandonInTx(ctx context.Context, r Repositories, reservationID string) error {
	res, err := r.Reservations.LockForUpdate(ctx, reservationID)
	if err != nil {
		return err
	}
	if res.Status != domain.ReservationStatusPending {
		return domain.ErrInvalidAccessToken
	}

	if err := releaseInventory(ctx, r, reservationID, "system"); err != nil {
		return err
	}
	if err := r.Billing.DeleteByReservation(ctx, reservationID); err != nil {
		return err
	}
	if err := r.Audit.Record(ctx, &domain.AuditEntry{
		ReservationID: reservationID,
		EventType:     domain.AuditReservationCancel,
		Actor:         "system",
		EntityType:    "reservation",
		EntityID:      reservationID,
		Changes: []domain.FieldChange{
			{Field: "status", OldValue: res.Status.String(), NewValue: domain.ReservationStatusCancelled.String()},
		},
	}); err != nil {
		return err
	}
	return r.Reservations.Delete(ctx, reservationID)
}

// GetReservation loads one reservation
func (s *reservationService) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	if id == "" {
		return nil, domain.ErrInvalidReservationID
	}
	return s.repos.Reservations.GetByID(ctx, id)
}

// OrderSummary renders the priced breakdown of a reservation
func (s *reservationService) OrderSummary(ctx context.Context, id string) (*domain.OrderSummary, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.order_summary")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", id))

	res, err := s.repos.Reservations.GetByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	rows, err := s.repos.Tickets.SummaryRows(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	addonRows, err := s.addonSummaryRows(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	rows = append(rows, addonRows...)

	total, promo, _, err := orderTotal(ctx, s.repos, res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if promo != nil && total.DiscountAppliedCount > 0 {
		rows = append(rows, domain.OrderSummaryRow{
			Name:        promo.Code,
			Quantity:    total.DiscountAppliedCount,
			SubtotalCts: total.DiscountCts,
			Discount:    true,
		})
	}

	span.SetStatus(codes.Ok, "")
	return &domain.OrderSummary{Rows: rows, Total: total}, nil
}

func (s *reservationService) addonSummaryRows(ctx context.Context, reservationID string) ([]domain.OrderSummaryRow, error) {
	items, err := s.repos.Addons.FindByReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	type agg struct {
		row domain.OrderSummaryRow
	}
	byService := make(map[int64]*agg)
	var order []int64
	for _, item := range items {
		a, ok := byService[item.ServiceID]
		if !ok {
			svc, err := s.repos.Addons.GetService(ctx, item.ServiceID)
			if err != nil {
				return nil, err
			}
			a = &agg{row: domain.OrderSummaryRow{Name: svc.Name, UnitPriceCts: item.FinalPriceCts}}
			byService[item.ServiceID] = a
			order = append(order, item.ServiceID)
		}
		a.row.Quantity++
		a.row.SubtotalCts += item.FinalPriceCts
		a.row.VatCts += item.VatCts
	}

	rows := make([]domain.OrderSummaryRow, 0, len(order))
	for _, id := range order {
		rows = append(rows, byService[id].row)
	}
	return rows, nil
}

// Cancel abandons a not-yet-paid reservation. The reservation row and its
// billing documents are deleted; the audit trail remains.
func (s *reservationService) Cancel(ctx context.Context, id, actor string) error {
	return s.reclaim(ctx, id, actor, domain.AuditReservationCancel,
		[]domain.ReservationStatus{
			domain.ReservationStatusPending,
			domain.ReservationStatusOfflinePayment,
			domain.ReservationStatusStuck,
		})
}

// Expire reclaims a PENDING reservation that passed its deadline
func (s *reservationService) Expire(ctx context.Context, id string) error {
	return s.reclaim(ctx, id, "system", domain.AuditReservationExpire,
		[]domain.ReservationStatus{domain.ReservationStatusPending})
}

func (s *reservationService) reclaim(
	ctx context.Context,
	id, actor string,
	auditType domain.AuditEventType,
	allowed []domain.ReservationStatus,
) error {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.reclaim")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", id),
		attribute.String("audit_type", string(auditType)),
	)

	var (
		res     *domain.Reservation
		touched []int64
		eventID int64
	)
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		r := s.repos.WithTx(tx)

		var err error
		res, err = r.Reservations.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !statusIn(res.Status, allowed) {
			return domain.ErrTransitionConflict
		}
		eventID = res.EventID

		tickets, err := r.Tickets.FindByReservation(ctx, id)
		if err != nil {
			return err
		}
		touched = categoryIDs(tickets)

		if err := releaseInventory(ctx, r, id, actor); err != nil {
			return err
		}
		if err := r.Billing.DeleteByReservation(ctx, id); err != nil {
			return err
		}
		if err := r.Audit.Record(ctx, &domain.AuditEntry{
			ReservationID: id,
			EventType:     auditType,
			Actor:         actor,
			EntityType:    "reservation",
			EntityID:      id,
			Changes: []domain.FieldChange{
				{Field: "status", OldValue: res.Status.String(), NewValue: domain.ReservationStatusCancelled.String()},
			},
		}); err != nil {
			return err
		}
		return r.Reservations.Delete(ctx, id)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	res.Status = domain.ReservationStatusCancelled
	var pubErr error
	if auditType == domain.AuditReservationExpire {
		pubErr = s.publisher.PublishReservationExpired(ctx, res)
	} else {
		pubErr = s.publisher.PublishReservationCancelled(ctx, res)
	}
	if pubErr != nil {
		s.log.Warn("failed to publish reservation reclaim",
			zap.String("reservation_id", id), zap.Error(pubErr))
	}

	s.syncAvailability(ctx, eventID, touched)

	span.SetStatus(codes.Ok, "")
	return nil
}

// Credit issues a credit note for an invoiced reservation. Inventory is
// released but the reservation row and its billing documents survive for the
// accounting trail.
func (s *reservationService) Credit(ctx context.Context, id, actor string) error {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.credit")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", id))

	var (
		res     *domain.Reservation
		docNum  string
		touched []int64
		eventID int64
	)
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		r := s.repos.WithTx(tx)

		var err error
		res, err = r.Reservations.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if res.Status != domain.ReservationStatusOfflinePayment && res.Status != domain.ReservationStatusComplete {
			return domain.ErrTransitionConflict
		}
		eventID = res.EventID

		invoice, err := r.Billing.LatestByReservation(ctx, id)
		if err != nil {
			return err
		}
		docNum = invoice.Number + "/CN"

		total, _, tickets, err := orderTotal(ctx, r, res)
		if err != nil {
			return err
		}
		touched = categoryIDs(tickets)

		model, err := json.Marshal(map[string]any{
			"reservation_id": id,
			"reference":      invoice.Number,
			"total_cts":      total.PriceWithVATCts,
			"vat_cts":        total.VatCts,
			"currency":       total.Currency,
		})
		if err != nil {
			return fmt.Errorf("failed to build credit note model: %w", err)
		}

		if err := r.Billing.InsertDocument(ctx, &domain.BillingDocument{
			ReservationID: id,
			Number:        docNum,
			Type:          domain.BillingDocumentCreditNote,
			Model:         model,
			GeneratedAt:   time.Now(),
		}); err != nil {
			return err
		}

		if err := releaseInventory(ctx, r, id, actor); err != nil {
			return err
		}
		if err := r.Reservations.Transition(ctx, id, res.Status, domain.ReservationStatusCreditNoteIssued); err != nil {
			return err
		}
		return r.Audit.Record(ctx, &domain.AuditEntry{
			ReservationID: id,
			EventType:     domain.AuditCreditNoteIssued,
			Actor:         actor,
			EntityType:    "reservation",
			EntityID:      id,
			Changes: []domain.FieldChange{
				{Field: "status", OldValue: res.Status.String(), NewValue: domain.ReservationStatusCreditNoteIssued.String()},
				{Field: "credit_note", OldValue: "", NewValue: docNum},
			},
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	res.Status = domain.ReservationStatusCreditNoteIssued
	if err := s.publisher.PublishCreditNoteIssued(ctx, res); err != nil {
		s.log.Warn("failed to publish credit note event",
			zap.String("reservation_id", id), zap.Error(err))
	}
	s.sendCreditNoteMail(ctx, res, docNum)
	s.syncAvailability(ctx, eventID, touched)

	span.SetStatus(codes.Ok, "")
	return nil
}

// ConfirmOfflinePayment finalizes a reservation once the bank transfer
// arrived, generating the invoice that was requested at checkout.
func (s *reservationService) ConfirmOfflinePayment(ctx context.Context, id, actor string) error {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.confirm_offline_payment")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", id))

	var (
		res   *domain.Reservation
		event *domain.Event
		total domain.TotalPrice
	)
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		r := s.repos.WithTx(tx)

		var err error
		res, err = r.Reservations.LockForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if res.Status != domain.ReservationStatusOfflinePayment {
			return domain.ErrTransitionConflict
		}

		event, err = r.Events.GetByID(ctx, res.EventID)
		if err != nil {
			return err
		}

		total, _, _, err = orderTotal(ctx, r, res)
		if err != nil {
			return err
		}

		if res.InvoiceRequested && s.cfg.InvoicingEnabled && res.InvoiceNumber == nil {
			number, err := issueInvoice(ctx, r, res, event, total, s.cfg.InvoicePattern)
			if err != nil {
				return err
			}
			res.InvoiceNumber = &number
		}

		if err := acquireItems(ctx, r, id, domain.PaymentMethodOffline); err != nil {
			return err
		}
		if err := r.Reservations.Complete(ctx, id, domain.ReservationStatusOfflinePayment, domain.PaymentMethodOffline, time.Now()); err != nil {
			return err
		}

		if err := r.Audit.Record(ctx, &domain.AuditEntry{
			ReservationID: id,
			EventType:     domain.AuditPaymentConfirmed,
			Actor:         actor,
			EntityType:    "reservation",
			EntityID:      id,
		}); err != nil {
			return err
		}
		return r.Audit.Record(ctx, &domain.AuditEntry{
			ReservationID: id,
			EventType:     domain.AuditReservationComplete,
			Actor:         actor,
			EntityType:    "reservation",
			EntityID:      id,
			Changes: []domain.FieldChange{
				{Field: "status", OldValue: domain.ReservationStatusOfflinePayment.String(), NewValue: domain.ReservationStatusComplete.String()},
			},
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	res.Status = domain.ReservationStatusComplete
	if err := s.publisher.PublishReservationConfirmed(ctx, res); err != nil {
		s.log.Warn("failed to publish confirmation event",
			zap.String("reservation_id", id), zap.Error(err))
	}
	if res.CustomerEmail != "" {
		subject, body := notification.ConfirmationMail(res, event.DisplayName, total)
		if err := s.mailer.Send(ctx, res.CustomerEmail, subject, body); err != nil {
			s.log.Warn("failed to send confirmation mail",
				zap.String("reservation_id", id), zap.Error(err))
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ReleaseTicket gives one ticket of a confirmed reservation back to the
// inventory. Releasing the last ticket drops the reservation, unless an
// invoice was issued; those reservations must go through Credit.
func (s *reservationService) ReleaseTicket(ctx context.Context, reservationID string, ticketID int64, actor string) error {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.release_ticket")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", reservationID),
		attribute.Int64("ticket_id", ticketID),
	)

	var (
		eventID  int64
		category *int64
	)
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		r := s.repos.WithTx(tx)

		res, err := r.Reservations.LockForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if res.Status != domain.ReservationStatusComplete {
			return domain.ErrTransitionConflict
		}
		eventID = res.EventID

		tickets, err := r.Tickets.FindByReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		var target *domain.Ticket
		for _, t := range tickets {
			if t.ID == ticketID {
				target = t
				break
			}
		}
		if target == nil {
			return domain.ErrTicketNotFound
		}
		category = target.CategoryID

		if len(tickets) == 1 && res.InvoiceNumber != nil {
			return domain.ErrTransitionConflict
		}

		if err := r.Tickets.ReleaseOne(ctx, ticketID, reservationID); err != nil {
			return err
		}
		if err := r.Audit.Record(ctx, &domain.AuditEntry{
			ReservationID: reservationID,
			EventType:     domain.AuditTicketRelease,
			Actor:         actor,
			EntityType:    "ticket",
			EntityID:      target.UUID,
			Changes: []domain.FieldChange{
				{Field: "status", OldValue: target.Status.String(), NewValue: domain.TicketStatusReleased.String()},
			},
		}); err != nil {
			return err
		}

		if len(tickets) == 1 {
			// the reservation is now empty
			if err := releaseInventory(ctx, r, reservationID, actor); err != nil {
				return err
			}
			if err := r.Billing.DeleteByReservation(ctx, reservationID); err != nil {
				return err
			}
			return r.Reservations.Delete(ctx, reservationID)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if category != nil {
		s.syncAvailability(ctx, eventID, []int64{*category})
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// CountAvailable returns the number of free tickets for a category, served
// from the cache when one is configured.
func (s *reservationService) CountAvailable(ctx context.Context, eventID, categoryID int64) (int, error) {
	if s.availability != nil {
		count, ok, err := s.availability.Get(ctx, eventID, categoryID)
		if err == nil && ok {
			return count, nil
		}
		return s.availability.Sync(ctx, eventID, categoryID)
	}

	category, err := s.repos.Events.GetCategory(ctx, categoryID)
	if err != nil {
		return 0, err
	}
	if category.Bounded {
		return s.repos.Tickets.CountFreeInCategory(ctx, categoryID)
	}
	return s.repos.Tickets.CountFreeInPool(ctx, eventID)
}

func (s *reservationService) sendCreditNoteMail(ctx context.Context, res *domain.Reservation, docNum string) {
	if res.CustomerEmail == "" {
		return
	}
	event, err := s.repos.Events.GetByID(ctx, res.EventID)
	if err != nil {
		s.log.Warn("failed to load event for credit note mail",
			zap.String("reservation_id", res.ID), zap.Error(err))
		return
	}
	subject, body := notification.CreditNoteMail(res, event.DisplayName, docNum)
	if err := s.mailer.Send(ctx, res.CustomerEmail, subject, body); err != nil {
		s.log.Warn("failed to send credit note mail",
			zap.String("reservation_id", res.ID), zap.Error(err))
	}
}

func (s *reservationService) syncAvailability(ctx context.Context, eventID int64, categories []int64) {
	if s.availability == nil {
		return
	}
	seen := make(map[int64]struct{}, len(categories))
	for _, id := range categories {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		s.availability.SyncQuietly(ctx, eventID, id)
	}
}

// issueInvoice numbers and records an invoice under the per-organization
// sequence lock.
func issueInvoice(
	ctx context.Context,
	r Repositories,
	res *domain.Reservation,
	event *domain.Event,
	total domain.TotalPrice,
	pattern string,
) (string, error) {
	seq, err := r.Billing.NextInvoiceSequence(ctx, event.OrganizationID)
	if err != nil {
		return "", err
	}
	number := fmt.Sprintf(pattern, event.ShortName, seq)

	if err := r.Reservations.SetInvoiceNumber(ctx, res.ID, number); err != nil {
		return "", err
	}

	model, err := json.Marshal(map[string]any{
		"reservation_id":  res.ID,
		"customer_name":   res.CustomerName,
		"billing_address": res.BillingAddress,
		"vat_number":      res.VatNumber,
		"total_cts":       total.PriceWithVATCts,
		"vat_cts":         total.VatCts,
		"currency":        total.Currency,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build invoice model: %w", err)
	}

	if err := r.Billing.InsertDocument(ctx, &domain.BillingDocument{
		ReservationID: res.ID,
		Number:        number,
		Type:          domain.BillingDocumentInvoice,
		Model:         model,
		GeneratedAt:   time.Now(),
	}); err != nil {
		return "", err
	}
	return number, nil
}

func validateCreateRequest(req *CreateReservationRequest, maxTickets int) error {
	if req == nil {
		return fmt.Errorf("create request is required")
	}
	if req.EventID <= 0 {
		return domain.ErrInvalidEventID
	}
	if len(req.Tickets) == 0 && len(req.Addons) == 0 {
		return domain.ErrInvalidQuantity
	}

	totalQty := 0
	for _, item := range req.Tickets {
		if item.Quantity <= 0 || item.CategoryID <= 0 {
			return domain.ErrInvalidQuantity
		}
		totalQty += item.Quantity
	}
	if totalQty > maxTickets {
		return domain.ErrInvalidQuantity
	}
	for _, a := range req.Addons {
		if a.Quantity <= 0 || a.ServiceID <= 0 {
			return domain.ErrInvalidQuantity
		}
	}
	return nil
}

func statusIn(s domain.ReservationStatus, set []domain.ReservationStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

func categoryIDs(tickets []*domain.Ticket) []int64 {
	var ids []int64
	for _, t := range tickets {
		if t.CategoryID != nil {
			ids = append(ids, *t.CategoryID)
		}
	}
	return ids
}
