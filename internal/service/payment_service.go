package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mortendir/ticketreserve/internal/domain"
	"github.com/mortendir/ticketreserve/internal/gateway"
	"github.com/mortendir/ticketreserve/internal/notification"
	"github.com/mortendir/ticketreserve/pkg/logger"
	"github.com/mortendir/ticketreserve/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// OutcomeStatus classifies how a payment attempt ended
type OutcomeStatus string

const (
	OutcomeSuccessful          OutcomeStatus = "SUCCESSFUL"
	OutcomeProviderFailed      OutcomeStatus = "PROVIDER_FAILED"
	OutcomeMembershipExhausted OutcomeStatus = "MEMBERSHIP_EXHAUSTED"
	OutcomeTransitionFailed    OutcomeStatus = "TRANSITION_FAILED"
	OutcomeDiscountExceeded    OutcomeStatus = "DISCOUNT_EXCEEDED"
	OutcomeInternalError       OutcomeStatus = "INTERNAL_ERROR"
)

// PaymentResult is the outcome of one payment attempt. A failed attempt is a
// result, not an error; errors are reserved for requests that could not be
// evaluated at all.
type PaymentResult struct {
	Status        OutcomeStatus
	TransactionID string
	FailureReason string
}

// Successful reports whether the attempt confirmed the reservation
func (r *PaymentResult) Successful() bool {
	return r.Status == OutcomeSuccessful
}

// BillingData carries the buyer details captured at checkout
type BillingData struct {
	CustomerName     string
	CustomerEmail    string
	BillingAddress   string
	VatNumber        string
	InvoiceRequested bool
}

// PaymentRequest is the input to Pay
type PaymentRequest struct {
	ReservationID string
	// Method may be empty; it is then resolved from the total
	Method       domain.PaymentMethod
	GatewayToken string
	Billing      BillingData
	Actor        string
}

// PaymentService orchestrates the payment of a reservation
type PaymentService interface {
	Pay(ctx context.Context, req *PaymentRequest) (*PaymentResult, error)
}

// PaymentServiceConfig holds payment settings
type PaymentServiceConfig struct {
	// InvoicingEnabled gates invoice number generation
	InvoicingEnabled bool
	// InvoicePattern takes the event short name and the sequence number
	InvoicePattern string
	// OfflineDeadline is how long a bank transfer may take
	OfflineDeadline time.Duration
}

// DefaultPaymentServiceConfig returns default settings
func DefaultPaymentServiceConfig() *PaymentServiceConfig {
	return &PaymentServiceConfig{
		InvoicingEnabled: true,
		InvoicePattern:   "%s/%d",
		OfflineDeadline:  5 * 24 * time.Hour,
	}
}

type paymentService struct {
	db        TxRunner
	repos     Repositories
	gateway   gateway.PaymentGateway
	publisher ExtensionPublisher
	mailer    notification.Mailer
	cfg       *PaymentServiceConfig
	log       *logger.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	db TxRunner,
	repos Repositories,
	gw gateway.PaymentGateway,
	publisher ExtensionPublisher,
	mailer notification.Mailer,
	cfg *PaymentServiceConfig,
) PaymentService {
	if cfg == nil {
		cfg = DefaultPaymentServiceConfig()
	}
	if publisher == nil {
		publisher = NewNoOpExtensionPublisher()
	}
	if mailer == nil {
		mailer = notification.NewNoOpMailer()
	}
	return &paymentService{
		db:        db,
		repos:     repos,
		gateway:   gw,
		publisher: publisher,
		mailer:    mailer,
		cfg:       cfg,
		log:       logger.Get(),
	}
}

// Pay runs the payment pipeline: method resolution, group membership
// acquisition, upfront marking, billing data, the serializable discount
// re-check, the provider round-trip and finalization. Each stage that fails
// maps to a typed outcome; only a failure after money moved leaves the
// reservation IN_PAYMENT for the stuck sweep to surface.
func (s *paymentService) Pay(ctx context.Context, req *PaymentRequest) (*PaymentResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.payment.pay")
	defer span.End()

	if req == nil || req.ReservationID == "" {
		return nil, domain.ErrInvalidReservationID
	}
	span.SetAttributes(attribute.String("reservation_id", req.ReservationID))

	res, err := s.repos.Reservations.GetByID(ctx, req.ReservationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if res.Status != domain.ReservationStatusPending {
		span.SetStatus(codes.Ok, "not pending")
		return &PaymentResult{Status: OutcomeTransitionFailed, FailureReason: "reservation is not pending"}, nil
	}
	if res.IsExpired(time.Now()) {
		span.SetStatus(codes.Error, "expired")
		return nil, domain.ErrReservationExpired
	}

	event, err := s.repos.Events.GetByID(ctx, res.EventID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	total, promo, tickets, err := orderTotal(ctx, s.repos, res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	method, err := resolveMethod(req.Method, total)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("payment_method", method.String()),
		attribute.Int64("amount_cts", total.PriceWithVATCts),
	)

	if result, err := s.acquireMemberships(ctx, event, tickets, req.Billing.CustomerEmail); result != nil || err != nil {
		return result, err
	}

	marked := false
	if method.RequiresUpfrontMarking() && total.RequiresPayment() {
		err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
			return s.repos.WithTx(tx).Reservations.MarkInPayment(ctx, req.ReservationID, method)
		})
		if err != nil {
			if errors.Is(err, domain.ErrTransitionConflict) {
				span.SetStatus(codes.Ok, "transition conflict")
				return &PaymentResult{Status: OutcomeTransitionFailed, FailureReason: "concurrent payment in progress"}, nil
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		marked = true
	}

	if err := s.saveBillingData(ctx, res, req); err != nil {
		s.revertMark(ctx, req.ReservationID, marked)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	res.CustomerName = req.Billing.CustomerName
	res.CustomerEmail = req.Billing.CustomerEmail
	res.BillingAddress = req.Billing.BillingAddress
	res.VatNumber = req.Billing.VatNumber
	res.InvoiceRequested = req.Billing.InvoiceRequested

	if promo != nil && promo.MaxUsage != nil {
		if result := s.checkDiscountCap(ctx, res, promo, tickets, marked); result != nil {
			span.SetStatus(codes.Ok, string(result.Status))
			return result, nil
		}
	}

	if method.DeferredSettlement() {
		result, err := s.waitForOfflinePayment(ctx, res, event, method, total)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		span.SetStatus(codes.Ok, string(result.Status))
		return result, nil
	}

	transactionID := domain.NotPaidTransactionID
	if total.RequiresPayment() && method == domain.PaymentMethodOnline {
		result, err := s.gateway.GetTokenAndPay(ctx, &gateway.PaymentSpec{
			ReservationID: res.ID,
			CustomerName:  res.CustomerName,
			Email:         res.CustomerEmail,
			AmountCts:     total.PriceWithVATCts,
			Currency:      total.Currency,
			GatewayToken:  req.GatewayToken,
		})
		if err != nil {
			// the provider could not be reached; money state is unknown,
			// so the reservation stays IN_PAYMENT for the stuck sweep
			s.auditPaymentFailure(ctx, res.ID, req.Actor, err.Error())
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return &PaymentResult{Status: OutcomeInternalError, FailureReason: err.Error()}, nil
		}
		if !result.Successful {
			s.revertMark(ctx, res.ID, marked)
			s.auditPaymentFailure(ctx, res.ID, req.Actor, result.FailureReason)
			span.SetStatus(codes.Ok, "declined")
			return &PaymentResult{Status: OutcomeProviderFailed, FailureReason: result.FailureReason}, nil
		}
		transactionID = result.TransactionID
	}

	if err := s.finalize(ctx, res, event, total, method, marked, transactionID, req.Actor); err != nil {
		// past the point of no return; never revert after a charge
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &PaymentResult{Status: OutcomeInternalError, FailureReason: err.Error()}, nil
	}

	res.Status = domain.ReservationStatusComplete
	res.PaymentMethod = method
	s.notifyConfirmed(ctx, res, event, total)

	span.SetStatus(codes.Ok, "")
	return &PaymentResult{Status: OutcomeSuccessful, TransactionID: transactionID}, nil
}

// acquireMemberships claims a group member slot for every ticket of a
// group-restricted category. On exhaustion every hold taken so far is
// dropped.
func (s *paymentService) acquireMemberships(
	ctx context.Context,
	event *domain.Event,
	tickets []*domain.Ticket,
	email string,
) (*PaymentResult, error) {
	acquiredAny := false
	for _, t := range tickets {
		if t.CategoryID == nil {
			continue
		}
		linkID, err := s.repos.Groups.ActiveLink(ctx, event.ID, *t.CategoryID)
		if err != nil {
			return nil, err
		}
		if linkID == nil {
			continue
		}

		holderEmail := t.Email
		if holderEmail == "" {
			holderEmail = email
		}
		ok, err := s.repos.Groups.AcquireMember(ctx, *linkID, t.ID, holderEmail)
		if err != nil {
			return nil, err
		}
		if !ok {
			if acquiredAny {
				if relErr := s.repos.Groups.ReleaseByReservation(ctx, *t.ReservationID); relErr != nil {
					s.log.Warn("failed to release group holds",
						zap.String("reservation_id", *t.ReservationID), zap.Error(relErr))
				}
			}
			return &PaymentResult{
				Status:        OutcomeMembershipExhausted,
				FailureReason: fmt.Sprintf("no group slot available for %s", holderEmail),
			}, nil
		}
		acquiredAny = true
	}
	return nil, nil
}

func (s *paymentService) saveBillingData(ctx context.Context, res *domain.Reservation, req *PaymentRequest) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		r := s.repos.WithTx(tx)
		if err := r.Reservations.SetBillingData(ctx, res.ID,
			req.Billing.CustomerName, req.Billing.CustomerEmail,
			req.Billing.BillingAddress, req.Billing.VatNumber,
			req.Billing.InvoiceRequested); err != nil {
			return err
		}
		return r.Audit.Record(ctx, &domain.AuditEntry{
			ReservationID: res.ID,
			EventType:     domain.AuditBillingDataUpdate,
			Actor:         req.Actor,
			EntityType:    "reservation",
			EntityID:      res.ID,
			Changes: []domain.FieldChange{
				{Field: "customer_name", OldValue: res.CustomerName, NewValue: req.Billing.CustomerName},
				{Field: "customer_email", OldValue: res.CustomerEmail, NewValue: req.Billing.CustomerEmail},
				{Field: "invoice_requested", OldValue: fmt.Sprintf("%t", res.InvoiceRequested), NewValue: fmt.Sprintf("%t", req.Billing.InvoiceRequested)},
			},
		})
	})
}

// checkDiscountCap re-counts confirmed promo usage under serializable
// isolation. A breach or a serialization failure both abort the attempt; the
// check is never retried inside a payment, the customer retries the whole
// payment instead.
func (s *paymentService) checkDiscountCap(
	ctx context.Context,
	res *domain.Reservation,
	promo *domain.PromoCode,
	tickets []*domain.Ticket,
	marked bool,
) *PaymentResult {
	qualifying := qualifyingTickets(promo, tickets)
	if qualifying == 0 {
		return nil
	}

	err := s.db.WithSerializableTx(ctx, func(tx pgx.Tx) error {
		used, err := s.repos.WithTx(tx).Promos.CountConfirmedUsage(ctx, promo.ID, res.ID, promo.Categories)
		if err != nil {
			return err
		}
		if used+qualifying > *promo.MaxUsage {
			return domain.ErrDiscountUsageExceeded
		}
		return nil
	})
	if err == nil {
		return nil
	}

	s.revertMark(ctx, res.ID, marked)
	if errors.Is(err, domain.ErrDiscountUsageExceeded) {
		return &PaymentResult{Status: OutcomeDiscountExceeded, FailureReason: "discount usage cap exceeded"}
	}
	return &PaymentResult{Status: OutcomeInternalError, FailureReason: err.Error()}
}

// waitForOfflinePayment parks the reservation until the bank transfer
// arrives. Tickets stay PENDING; ConfirmOfflinePayment finishes the job.
func (s *paymentService) waitForOfflinePayment(
	ctx context.Context,
	res *domain.Reservation,
	event *domain.Event,
	method domain.PaymentMethod,
	total domain.TotalPrice,
) (*PaymentResult, error) {
	deadline := time.Now().Add(s.cfg.OfflineDeadline)
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return s.repos.WithTx(tx).Reservations.SetOfflinePayment(ctx, res.ID, method, deadline)
	})
	if err != nil {
		if errors.Is(err, domain.ErrTransitionConflict) {
			return &PaymentResult{Status: OutcomeTransitionFailed, FailureReason: "concurrent payment in progress"}, nil
		}
		return nil, err
	}

	res.Status = domain.ReservationStatusOfflinePayment
	res.PaymentMethod = method
	res.ExpiresAt = deadline
	if res.CustomerEmail != "" {
		subject, body := notification.OfflineInstructionsMail(res, event.DisplayName, total)
		if err := s.mailer.Send(ctx, res.CustomerEmail, subject, body); err != nil {
			s.log.Warn("failed to send offline payment instructions",
				zap.String("reservation_id", res.ID), zap.Error(err))
		}
	}

	return &PaymentResult{Status: OutcomeSuccessful}, nil
}

// finalize confirms the reservation in one transaction: invoice numbering,
// item acquisition and the terminal status flip.
func (s *paymentService) finalize(
	ctx context.Context,
	res *domain.Reservation,
	event *domain.Event,
	total domain.TotalPrice,
	method domain.PaymentMethod,
	marked bool,
	transactionID, actor string,
) error {
	from := domain.ReservationStatusPending
	if marked {
		from = domain.ReservationStatusInPayment
	}

	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		r := s.repos.WithTx(tx)

		if total.RequiresPayment() && res.InvoiceRequested && s.cfg.InvoicingEnabled {
			number, err := issueInvoice(ctx, r, res, event, total, s.cfg.InvoicePattern)
			if err != nil {
				return err
			}
			res.InvoiceNumber = &number
		}

		if err := acquireItems(ctx, r, res.ID, method); err != nil {
			return err
		}
		if err := r.Reservations.Complete(ctx, res.ID, from, method, time.Now()); err != nil {
			return err
		}

		return r.Audit.Record(ctx, &domain.AuditEntry{
			ReservationID: res.ID,
			EventType:     domain.AuditPaymentConfirmed,
			Actor:         actor,
			EntityType:    "reservation",
			EntityID:      res.ID,
			Changes: []domain.FieldChange{
				{Field: "status", OldValue: from.String(), NewValue: domain.ReservationStatusComplete.String()},
				{Field: "transaction_id", OldValue: "", NewValue: transactionID},
			},
		})
	})
}

func (s *paymentService) notifyConfirmed(ctx context.Context, res *domain.Reservation, event *domain.Event, total domain.TotalPrice) {
	if err := s.publisher.PublishReservationConfirmed(ctx, res); err != nil {
		s.log.Warn("failed to publish confirmation event",
			zap.String("reservation_id", res.ID), zap.Error(err))
	}
	if res.CustomerEmail != "" {
		subject, body := notification.ConfirmationMail(res, event.DisplayName, total)
		if err := s.mailer.Send(ctx, res.CustomerEmail, subject, body); err != nil {
			s.log.Warn("failed to send confirmation mail",
				zap.String("reservation_id", res.ID), zap.Error(err))
		}
	}
}

func (s *paymentService) revertMark(ctx context.Context, reservationID string, marked bool) {
	if !marked {
		return
	}
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return s.repos.WithTx(tx).Reservations.BackToPending(ctx, reservationID)
	})
	if err != nil {
		s.log.Error("failed to revert reservation to pending",
			zap.String("reservation_id", reservationID), zap.Error(err))
	}
}

func (s *paymentService) auditPaymentFailure(ctx context.Context, reservationID, actor, reason string) {
	err := s.repos.Audit.Record(ctx, &domain.AuditEntry{
		ReservationID: reservationID,
		EventType:     domain.AuditPaymentFailed,
		Actor:         actor,
		EntityType:    "reservation",
		EntityID:      reservationID,
		Changes: []domain.FieldChange{
			{Field: "failure_reason", OldValue: "", NewValue: reason},
		},
	})
	if err != nil {
		s.log.Warn("failed to record payment failure",
			zap.String("reservation_id", reservationID), zap.Error(err))
	}
}

// resolveMethod picks the payment method when the caller left it open and
// rejects combinations that cannot settle the total.
func resolveMethod(requested domain.PaymentMethod, total domain.TotalPrice) (domain.PaymentMethod, error) {
	if requested == "" {
		if !total.RequiresPayment() {
			return domain.PaymentMethodNone, nil
		}
		return domain.PaymentMethodOnline, nil
	}
	if !requested.IsValid() {
		return "", domain.ErrInvalidPaymentMethod
	}
	if requested == domain.PaymentMethodNone && total.RequiresPayment() {
		return "", domain.ErrInvalidPaymentMethod
	}
	return requested, nil
}
