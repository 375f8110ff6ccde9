package service

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mortendir/ticketreserve/internal/domain"
	"github.com/mortendir/ticketreserve/internal/gateway"
	"github.com/mortendir/ticketreserve/internal/repository"
)

// fakeTxRunner executes the transactional function directly; the mocks below
// ignore the nil transaction handle.
type fakeTxRunner struct {
	serializableErr error
}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func (f *fakeTxRunner) WithSerializableTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if f.serializableErr != nil {
		return f.serializableErr
	}
	return fn(nil)
}

type mockTicketRepository struct {
	SelectFreeInCategoryFunc      func(ctx context.Context, eventID, categoryID int64, qty int) ([]int64, error)
	SelectFreeFromPoolFunc        func(ctx context.Context, eventID int64, qty int) ([]int64, error)
	ReserveFunc                   func(ctx context.Context, ids []int64, reservationID string, categoryID int64) error
	ReserveWithTokenFunc          func(ctx context.Context, id int64, reservationID string, categoryID, tokenID int64) error
	UpdatePricingFunc             func(ctx context.Context, ids []int64, d domain.PriceDetail) error
	FindByReservationFunc         func(ctx context.Context, reservationID string) ([]*domain.Ticket, error)
	CountByReservationFunc        func(ctx context.Context, reservationID string) (int, error)
	UpdateStatusByReservationFunc func(ctx context.Context, reservationID string, status domain.TicketStatus) (int64, error)
	ReleaseByReservationFunc      func(ctx context.Context, reservationID string) (int64, error)
	ResetCategoryForUnboundedFunc func(ctx context.Context, reservationID string) error
	ReleaseOneFunc                func(ctx context.Context, ticketID int64, reservationID string) error
	CountFreeInCategoryFunc       func(ctx context.Context, categoryID int64) (int, error)
	CountFreeInPoolFunc           func(ctx context.Context, eventID int64) (int, error)
	DeleteFieldValuesFunc         func(ctx context.Context, reservationID string) error
	SummaryRowsFunc               func(ctx context.Context, reservationID string) ([]domain.OrderSummaryRow, error)
}

func (m *mockTicketRepository) WithTx(tx pgx.Tx) repository.TicketRepository { return m }

func (m *mockTicketRepository) SelectFreeInCategory(ctx context.Context, eventID, categoryID int64, qty int) ([]int64, error) {
	if m.SelectFreeInCategoryFunc != nil {
		return m.SelectFreeInCategoryFunc(ctx, eventID, categoryID, qty)
	}
	return nil, nil
}

func (m *mockTicketRepository) SelectFreeFromPool(ctx context.Context, eventID int64, qty int) ([]int64, error) {
	if m.SelectFreeFromPoolFunc != nil {
		return m.SelectFreeFromPoolFunc(ctx, eventID, qty)
	}
	return nil, nil
}

func (m *mockTicketRepository) Reserve(ctx context.Context, ids []int64, reservationID string, categoryID int64) error {
	if m.ReserveFunc != nil {
		return m.ReserveFunc(ctx, ids, reservationID, categoryID)
	}
	return nil
}

func (m *mockTicketRepository) ReserveWithToken(ctx context.Context, id int64, reservationID string, categoryID, tokenID int64) error {
	if m.ReserveWithTokenFunc != nil {
		return m.ReserveWithTokenFunc(ctx, id, reservationID, categoryID, tokenID)
	}
	return nil
}

func (m *mockTicketRepository) UpdatePricing(ctx context.Context, ids []int64, d domain.PriceDetail) error {
	if m.UpdatePricingFunc != nil {
		return m.UpdatePricingFunc(ctx, ids, d)
	}
	return nil
}

func (m *mockTicketRepository) FindByReservation(ctx context.Context, reservationID string) ([]*domain.Ticket, error) {
	if m.FindByReservationFunc != nil {
		return m.FindByReservationFunc(ctx, reservationID)
	}
	return nil, nil
}

func (m *mockTicketRepository) CountByReservation(ctx context.Context, reservationID string) (int, error) {
	if m.CountByReservationFunc != nil {
		return m.CountByReservationFunc(ctx, reservationID)
	}
	return 0, nil
}

func (m *mockTicketRepository) UpdateStatusByReservation(ctx context.Context, reservationID string, status domain.TicketStatus) (int64, error) {
	if m.UpdateStatusByReservationFunc != nil {
		return m.UpdateStatusByReservationFunc(ctx, reservationID, status)
	}
	return 0, nil
}

func (m *mockTicketRepository) ReleaseByReservation(ctx context.Context, reservationID string) (int64, error) {
	if m.ReleaseByReservationFunc != nil {
		return m.ReleaseByReservationFunc(ctx, reservationID)
	}
	return 0, nil
}

func (m *mockTicketRepository) ResetCategoryForUnbounded(ctx context.Context, reservationID string) error {
	if m.ResetCategoryForUnboundedFunc != nil {
		return m.ResetCategoryForUnboundedFunc(ctx, reservationID)
	}
	return nil
}

func (m *mockTicketRepository) ReleaseOne(ctx context.Context, ticketID int64, reservationID string) error {
	if m.ReleaseOneFunc != nil {
		return m.ReleaseOneFunc(ctx, ticketID, reservationID)
	}
	return nil
}

func (m *mockTicketRepository) CountFreeInCategory(ctx context.Context, categoryID int64) (int, error) {
	if m.CountFreeInCategoryFunc != nil {
		return m.CountFreeInCategoryFunc(ctx, categoryID)
	}
	return 0, nil
}

func (m *mockTicketRepository) CountFreeInPool(ctx context.Context, eventID int64) (int, error) {
	if m.CountFreeInPoolFunc != nil {
		return m.CountFreeInPoolFunc(ctx, eventID)
	}
	return 0, nil
}

func (m *mockTicketRepository) DeleteFieldValues(ctx context.Context, reservationID string) error {
	if m.DeleteFieldValuesFunc != nil {
		return m.DeleteFieldValuesFunc(ctx, reservationID)
	}
	return nil
}

func (m *mockTicketRepository) SummaryRows(ctx context.Context, reservationID string) ([]domain.OrderSummaryRow, error) {
	if m.SummaryRowsFunc != nil {
		return m.SummaryRowsFunc(ctx, reservationID)
	}
	return nil, nil
}

type mockReservationRepository struct {
	CreateFunc                 func(ctx context.Context, r *domain.Reservation) error
	GetByIDFunc                func(ctx context.Context, id string) (*domain.Reservation, error)
	LockForUpdateFunc          func(ctx context.Context, id string) (*domain.Reservation, error)
	TransitionFunc             func(ctx context.Context, id string, from, to domain.ReservationStatus) error
	MarkInPaymentFunc          func(ctx context.Context, id string, method domain.PaymentMethod) error
	BackToPendingFunc          func(ctx context.Context, id string) error
	SetOfflinePaymentFunc      func(ctx context.Context, id string, method domain.PaymentMethod, deadline time.Time) error
	CompleteFunc               func(ctx context.Context, id string, from domain.ReservationStatus, method domain.PaymentMethod, registeredAt time.Time) error
	SetBillingDataFunc         func(ctx context.Context, id, name, email, address, vatNumber string, invoiceRequested bool) error
	SetInvoiceNumberFunc       func(ctx context.Context, id, number string) error
	FindExpiredPendingFunc     func(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)
	FindStuckInPaymentFunc     func(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)
	FindExpiredOfflineFunc     func(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)
	FindOfflineForReminderFunc func(ctx context.Context, deadline time.Time, limit int) ([]*domain.Reservation, error)
	MarkStuckFunc              func(ctx context.Context, ids []string) (int64, error)
	MarkReminderSentFunc       func(ctx context.Context, id string) error
	DeleteFunc                 func(ctx context.Context, id string) error
}

func (m *mockReservationRepository) WithTx(tx pgx.Tx) repository.ReservationRepository { return m }

func (m *mockReservationRepository) Create(ctx context.Context, r *domain.Reservation) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, r)
	}
	return nil
}

func (m *mockReservationRepository) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, domain.ErrReservationNotFound
}

func (m *mockReservationRepository) LockForUpdate(ctx context.Context, id string) (*domain.Reservation, error) {
	if m.LockForUpdateFunc != nil {
		return m.LockForUpdateFunc(ctx, id)
	}
	return nil, domain.ErrReservationNotFound
}

func (m *mockReservationRepository) Transition(ctx context.Context, id string, from, to domain.ReservationStatus) error {
	if m.TransitionFunc != nil {
		return m.TransitionFunc(ctx, id, from, to)
	}
	return nil
}

func (m *mockReservationRepository) MarkInPayment(ctx context.Context, id string, method domain.PaymentMethod) error {
	if m.MarkInPaymentFunc != nil {
		return m.MarkInPaymentFunc(ctx, id, method)
	}
	return nil
}

func (m *mockReservationRepository) BackToPending(ctx context.Context, id string) error {
	if m.BackToPendingFunc != nil {
		return m.BackToPendingFunc(ctx, id)
	}
	return nil
}

func (m *mockReservationRepository) SetOfflinePayment(ctx context.Context, id string, method domain.PaymentMethod, deadline time.Time) error {
	if m.SetOfflinePaymentFunc != nil {
		return m.SetOfflinePaymentFunc(ctx, id, method, deadline)
	}
	return nil
}

func (m *mockReservationRepository) Complete(ctx context.Context, id string, from domain.ReservationStatus, method domain.PaymentMethod, registeredAt time.Time) error {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, id, from, method, registeredAt)
	}
	return nil
}

func (m *mockReservationRepository) SetBillingData(ctx context.Context, id, name, email, address, vatNumber string, invoiceRequested bool) error {
	if m.SetBillingDataFunc != nil {
		return m.SetBillingDataFunc(ctx, id, name, email, address, vatNumber, invoiceRequested)
	}
	return nil
}

func (m *mockReservationRepository) SetInvoiceNumber(ctx context.Context, id, number string) error {
	if m.SetInvoiceNumberFunc != nil {
		return m.SetInvoiceNumberFunc(ctx, id, number)
	}
	return nil
}

func (m *mockReservationRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	if m.FindExpiredPendingFunc != nil {
		return m.FindExpiredPendingFunc(ctx, now, limit)
	}
	return nil, nil
}

func (m *mockReservationRepository) FindStuckInPayment(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	if m.FindStuckInPaymentFunc != nil {
		return m.FindStuckInPaymentFunc(ctx, now, limit)
	}
	return nil, nil
}

func (m *mockReservationRepository) FindExpiredOffline(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	if m.FindExpiredOfflineFunc != nil {
		return m.FindExpiredOfflineFunc(ctx, now, limit)
	}
	return nil, nil
}

func (m *mockReservationRepository) FindOfflineForReminder(ctx context.Context, deadline time.Time, limit int) ([]*domain.Reservation, error) {
	if m.FindOfflineForReminderFunc != nil {
		return m.FindOfflineForReminderFunc(ctx, deadline, limit)
	}
	return nil, nil
}

func (m *mockReservationRepository) MarkStuck(ctx context.Context, ids []string) (int64, error) {
	if m.MarkStuckFunc != nil {
		return m.MarkStuckFunc(ctx, ids)
	}
	return 0, nil
}

func (m *mockReservationRepository) MarkReminderSent(ctx context.Context, id string) error {
	if m.MarkReminderSentFunc != nil {
		return m.MarkReminderSentFunc(ctx, id)
	}
	return nil
}

func (m *mockReservationRepository) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

type mockEventRepository struct {
	GetByIDFunc     func(ctx context.Context, id int64) (*domain.Event, error)
	GetCategoryFunc func(ctx context.Context, id int64) (*domain.TicketCategory, error)
}

func (m *mockEventRepository) WithTx(tx pgx.Tx) repository.EventRepository { return m }

func (m *mockEventRepository) GetByID(ctx context.Context, id int64) (*domain.Event, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, domain.ErrEventNotFound
}

func (m *mockEventRepository) GetCategory(ctx context.Context, id int64) (*domain.TicketCategory, error) {
	if m.GetCategoryFunc != nil {
		return m.GetCategoryFunc(ctx, id)
	}
	return nil, domain.ErrCategoryNotFound
}

type mockAccessTokenRepository struct {
	GetByIDFunc                func(ctx context.Context, id int64) (*domain.AccessToken, error)
	GetByCodeFunc              func(ctx context.Context, categoryID int64, code string) (*domain.AccessToken, error)
	BindToSessionFunc          func(ctx context.Context, tokenID int64, sessionID string) (bool, error)
	FindPendingTicketFunc      func(ctx context.Context, tokenID int64) (*domain.Ticket, error)
	MarkTakenByReservationFunc func(ctx context.Context, reservationID string) error
	ResetByReservationFunc     func(ctx context.Context, reservationID string) (int64, error)
}

func (m *mockAccessTokenRepository) WithTx(tx pgx.Tx) repository.AccessTokenRepository { return m }

func (m *mockAccessTokenRepository) GetByID(ctx context.Context, id int64) (*domain.AccessToken, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, domain.ErrTokenNotFound
}

func (m *mockAccessTokenRepository) GetByCode(ctx context.Context, categoryID int64, code string) (*domain.AccessToken, error) {
	if m.GetByCodeFunc != nil {
		return m.GetByCodeFunc(ctx, categoryID, code)
	}
	return nil, domain.ErrTokenNotFound
}

func (m *mockAccessTokenRepository) BindToSession(ctx context.Context, tokenID int64, sessionID string) (bool, error) {
	if m.BindToSessionFunc != nil {
		return m.BindToSessionFunc(ctx, tokenID, sessionID)
	}
	return false, nil
}

func (m *mockAccessTokenRepository) FindPendingTicket(ctx context.Context, tokenID int64) (*domain.Ticket, error) {
	if m.FindPendingTicketFunc != nil {
		return m.FindPendingTicketFunc(ctx, tokenID)
	}
	return nil, nil
}

func (m *mockAccessTokenRepository) MarkTakenByReservation(ctx context.Context, reservationID string) error {
	if m.MarkTakenByReservationFunc != nil {
		return m.MarkTakenByReservationFunc(ctx, reservationID)
	}
	return nil
}

func (m *mockAccessTokenRepository) ResetByReservation(ctx context.Context, reservationID string) (int64, error) {
	if m.ResetByReservationFunc != nil {
		return m.ResetByReservationFunc(ctx, reservationID)
	}
	return 0, nil
}

type mockPromoCodeRepository struct {
	GetByIDFunc             func(ctx context.Context, id int64) (*domain.PromoCode, error)
	GetByCodeFunc           func(ctx context.Context, eventID int64, code string) (*domain.PromoCode, error)
	CountConfirmedUsageFunc func(ctx context.Context, promoID int64, excludeReservationID string, categories []int64) (int, error)
}

func (m *mockPromoCodeRepository) WithTx(tx pgx.Tx) repository.PromoCodeRepository { return m }

func (m *mockPromoCodeRepository) GetByID(ctx context.Context, id int64) (*domain.PromoCode, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, domain.ErrPromoCodeNotFound
}

func (m *mockPromoCodeRepository) GetByCode(ctx context.Context, eventID int64, code string) (*domain.PromoCode, error) {
	if m.GetByCodeFunc != nil {
		return m.GetByCodeFunc(ctx, eventID, code)
	}
	return nil, domain.ErrPromoCodeNotFound
}

func (m *mockPromoCodeRepository) CountConfirmedUsage(ctx context.Context, promoID int64, excludeReservationID string, categories []int64) (int, error) {
	if m.CountConfirmedUsageFunc != nil {
		return m.CountConfirmedUsageFunc(ctx, promoID, excludeReservationID, categories)
	}
	return 0, nil
}

type mockAddonRepository struct {
	GetServiceFunc                func(ctx context.Context, id int64) (*domain.AddonService, error)
	ReserveFunc                   func(ctx context.Context, reservationID string, serviceID int64, qty int, d domain.PriceDetail) error
	FindByReservationFunc         func(ctx context.Context, reservationID string) ([]*domain.AddonItem, error)
	UpdateStatusByReservationFunc func(ctx context.Context, reservationID string, status domain.AddonItemStatus) (int64, error)
	DeleteByReservationFunc       func(ctx context.Context, reservationID string) error
}

func (m *mockAddonRepository) WithTx(tx pgx.Tx) repository.AddonRepository { return m }

func (m *mockAddonRepository) GetService(ctx context.Context, id int64) (*domain.AddonService, error) {
	if m.GetServiceFunc != nil {
		return m.GetServiceFunc(ctx, id)
	}
	return nil, domain.ErrEventNotFound
}

func (m *mockAddonRepository) Reserve(ctx context.Context, reservationID string, serviceID int64, qty int, d domain.PriceDetail) error {
	if m.ReserveFunc != nil {
		return m.ReserveFunc(ctx, reservationID, serviceID, qty, d)
	}
	return nil
}

func (m *mockAddonRepository) FindByReservation(ctx context.Context, reservationID string) ([]*domain.AddonItem, error) {
	if m.FindByReservationFunc != nil {
		return m.FindByReservationFunc(ctx, reservationID)
	}
	return nil, nil
}

func (m *mockAddonRepository) UpdateStatusByReservation(ctx context.Context, reservationID string, status domain.AddonItemStatus) (int64, error) {
	if m.UpdateStatusByReservationFunc != nil {
		return m.UpdateStatusByReservationFunc(ctx, reservationID, status)
	}
	return 0, nil
}

func (m *mockAddonRepository) DeleteByReservation(ctx context.Context, reservationID string) error {
	if m.DeleteByReservationFunc != nil {
		return m.DeleteByReservationFunc(ctx, reservationID)
	}
	return nil
}

type mockBillingRepository struct {
	NextInvoiceSequenceFunc func(ctx context.Context, organizationID int64) (int64, error)
	InsertDocumentFunc      func(ctx context.Context, doc *domain.BillingDocument) error
	LatestByReservationFunc func(ctx context.Context, reservationID string) (*domain.BillingDocument, error)
	DeleteByReservationFunc func(ctx context.Context, reservationID string) error
}

func (m *mockBillingRepository) WithTx(tx pgx.Tx) repository.BillingRepository { return m }

func (m *mockBillingRepository) NextInvoiceSequence(ctx context.Context, organizationID int64) (int64, error) {
	if m.NextInvoiceSequenceFunc != nil {
		return m.NextInvoiceSequenceFunc(ctx, organizationID)
	}
	return 1, nil
}

func (m *mockBillingRepository) InsertDocument(ctx context.Context, doc *domain.BillingDocument) error {
	if m.InsertDocumentFunc != nil {
		return m.InsertDocumentFunc(ctx, doc)
	}
	return nil
}

func (m *mockBillingRepository) LatestByReservation(ctx context.Context, reservationID string) (*domain.BillingDocument, error) {
	if m.LatestByReservationFunc != nil {
		return m.LatestByReservationFunc(ctx, reservationID)
	}
	return nil, domain.ErrBillingDocumentNotFound
}

func (m *mockBillingRepository) DeleteByReservation(ctx context.Context, reservationID string) error {
	if m.DeleteByReservationFunc != nil {
		return m.DeleteByReservationFunc(ctx, reservationID)
	}
	return nil
}

type mockAuditRepository struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func (m *mockAuditRepository) WithTx(tx pgx.Tx) repository.AuditRepository { return m }

func (m *mockAuditRepository) Record(ctx context.Context, entry *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepository) recorded(eventType domain.AuditEventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

type mockGroupRepository struct {
	ActiveLinkFunc           func(ctx context.Context, eventID, categoryID int64) (*int64, error)
	AcquireMemberFunc        func(ctx context.Context, linkID, ticketID int64, email string) (bool, error)
	ReleaseByReservationFunc func(ctx context.Context, reservationID string) error
}

func (m *mockGroupRepository) WithTx(tx pgx.Tx) repository.GroupRepository { return m }

func (m *mockGroupRepository) ActiveLink(ctx context.Context, eventID, categoryID int64) (*int64, error) {
	if m.ActiveLinkFunc != nil {
		return m.ActiveLinkFunc(ctx, eventID, categoryID)
	}
	return nil, nil
}

func (m *mockGroupRepository) AcquireMember(ctx context.Context, linkID, ticketID int64, email string) (bool, error) {
	if m.AcquireMemberFunc != nil {
		return m.AcquireMemberFunc(ctx, linkID, ticketID, email)
	}
	return true, nil
}

func (m *mockGroupRepository) ReleaseByReservation(ctx context.Context, reservationID string) error {
	if m.ReleaseByReservationFunc != nil {
		return m.ReleaseByReservationFunc(ctx, reservationID)
	}
	return nil
}

// fakeGateway answers charges with a canned result
type fakeGateway struct {
	result *gateway.Result
	err    error
	calls  int
	spec   *gateway.PaymentSpec
}

func (g *fakeGateway) GetTokenAndPay(ctx context.Context, spec *gateway.PaymentSpec) (*gateway.Result, error) {
	g.calls++
	g.spec = spec
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

func (g *fakeGateway) Name() string { return "fake" }

// capturePublisher counts published lifecycle events
type capturePublisher struct {
	mu        sync.Mutex
	confirmed int
	cancelled int
	expired   int
	stuck     int
	credited  int
}

func (p *capturePublisher) PublishReservationConfirmed(ctx context.Context, r *domain.Reservation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed++
	return nil
}

func (p *capturePublisher) PublishReservationCancelled(ctx context.Context, r *domain.Reservation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled++
	return nil
}

func (p *capturePublisher) PublishReservationExpired(ctx context.Context, r *domain.Reservation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expired++
	return nil
}

func (p *capturePublisher) PublishReservationStuck(ctx context.Context, r *domain.Reservation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stuck++
	return nil
}

func (p *capturePublisher) PublishCreditNoteIssued(ctx context.Context, r *domain.Reservation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.credited++
	return nil
}

func (p *capturePublisher) Close() error { return nil }

// captureMailer records every delivered message
type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

func (m *captureMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}
