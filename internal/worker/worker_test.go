package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mortendir/ticketreserve/internal/domain"
	"github.com/mortendir/ticketreserve/internal/repository"
	"github.com/mortendir/ticketreserve/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The stubs embed the interface they fake; calling an unstubbed method
// panics, which is exactly what a sweep touching unexpected repositories
// should do in a test.

type stubReservationRepo struct {
	repository.ReservationRepository
	FindExpiredPendingFunc     func(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)
	FindStuckInPaymentFunc     func(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)
	FindExpiredOfflineFunc     func(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)
	FindOfflineForReminderFunc func(ctx context.Context, deadline time.Time, limit int) ([]*domain.Reservation, error)
	MarkStuckFunc              func(ctx context.Context, ids []string) (int64, error)
	MarkReminderSentFunc       func(ctx context.Context, id string) error
}

func (s *stubReservationRepo) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	return s.FindExpiredPendingFunc(ctx, now, limit)
}

func (s *stubReservationRepo) FindStuckInPayment(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	return s.FindStuckInPaymentFunc(ctx, now, limit)
}

func (s *stubReservationRepo) FindExpiredOffline(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	return s.FindExpiredOfflineFunc(ctx, now, limit)
}

func (s *stubReservationRepo) FindOfflineForReminder(ctx context.Context, deadline time.Time, limit int) ([]*domain.Reservation, error) {
	return s.FindOfflineForReminderFunc(ctx, deadline, limit)
}

func (s *stubReservationRepo) MarkStuck(ctx context.Context, ids []string) (int64, error) {
	return s.MarkStuckFunc(ctx, ids)
}

func (s *stubReservationRepo) MarkReminderSent(ctx context.Context, id string) error {
	return s.MarkReminderSentFunc(ctx, id)
}

type stubBillingRepo struct {
	repository.BillingRepository
	LatestByReservationFunc func(ctx context.Context, reservationID string) (*domain.BillingDocument, error)
}

func (s *stubBillingRepo) LatestByReservation(ctx context.Context, reservationID string) (*domain.BillingDocument, error) {
	return s.LatestByReservationFunc(ctx, reservationID)
}

type stubEventRepo struct {
	repository.EventRepository
}

func (s *stubEventRepo) GetByID(ctx context.Context, id int64) (*domain.Event, error) {
	return &domain.Event{ID: id, DisplayName: "GopherCon"}, nil
}

type stubAuditRepo struct {
	repository.AuditRepository
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func (s *stubAuditRepo) Record(ctx context.Context, entry *domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

type stubReservationService struct {
	service.ReservationService
	ExpireFunc func(ctx context.Context, id string) error
	CancelFunc func(ctx context.Context, id, actor string) error
	CreditFunc func(ctx context.Context, id, actor string) error
}

func (s *stubReservationService) Expire(ctx context.Context, id string) error {
	return s.ExpireFunc(ctx, id)
}

func (s *stubReservationService) Cancel(ctx context.Context, id, actor string) error {
	return s.CancelFunc(ctx, id, actor)
}

func (s *stubReservationService) Credit(ctx context.Context, id, actor string) error {
	return s.CreditFunc(ctx, id, actor)
}

type recordingPublisher struct {
	mu    sync.Mutex
	stuck []string
}

func (p *recordingPublisher) PublishReservationConfirmed(ctx context.Context, r *domain.Reservation) error {
	return nil
}
func (p *recordingPublisher) PublishReservationCancelled(ctx context.Context, r *domain.Reservation) error {
	return nil
}
func (p *recordingPublisher) PublishReservationExpired(ctx context.Context, r *domain.Reservation) error {
	return nil
}
func (p *recordingPublisher) PublishReservationStuck(ctx context.Context, r *domain.Reservation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stuck = append(p.stuck, r.ID)
	return nil
}
func (p *recordingPublisher) PublishCreditNoteIssued(ctx context.Context, r *domain.Reservation) error {
	return nil
}
func (p *recordingPublisher) Close() error { return nil }

type recordingMailer struct {
	mu   sync.Mutex
	sent []string
}

func (m *recordingMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to)
	return nil
}

func TestExpiryWorker_SweepIsolatesFailures(t *testing.T) {
	expired := []*domain.Reservation{
		{ID: "res-1", Status: domain.ReservationStatusPending},
		{ID: "res-2", Status: domain.ReservationStatusPending},
		{ID: "res-3", Status: domain.ReservationStatusPending},
	}

	repo := &stubReservationRepo{
		FindExpiredPendingFunc: func(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
			assert.Equal(t, 50, limit)
			return expired, nil
		},
	}

	var expiredIDs []string
	svc := &stubReservationService{
		ExpireFunc: func(ctx context.Context, id string) error {
			if id == "res-2" {
				return domain.ErrTransitionConflict
			}
			expiredIDs = append(expiredIDs, id)
			return nil
		},
	}

	w := NewExpiryWorker(repo, svc, &ExpiryWorkerConfig{Interval: time.Hour, BatchSize: 50})
	w.sweep(context.Background())

	stats := w.GetStats()
	assert.Equal(t, int64(1), stats.Sweeps)
	assert.Equal(t, int64(2), stats.Expired)
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, []string{"res-1", "res-3"}, expiredIDs)
}

func TestExpiryWorker_SweepIsIdempotentOnEmpty(t *testing.T) {
	repo := &stubReservationRepo{
		FindExpiredPendingFunc: func(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
			return nil, nil
		},
	}
	svc := &stubReservationService{
		ExpireFunc: func(ctx context.Context, id string) error {
			t.Fatal("nothing to expire")
			return nil
		},
	}

	w := NewExpiryWorker(repo, svc, nil)
	w.sweep(context.Background())
	w.sweep(context.Background())

	stats := w.GetStats()
	assert.Equal(t, int64(2), stats.Sweeps)
	assert.Equal(t, int64(0), stats.Expired)
}

func TestStuckWorker_MarksAndAlerts(t *testing.T) {
	stuck := []*domain.Reservation{
		{ID: "res-1", Status: domain.ReservationStatusInPayment},
		{ID: "res-2", Status: domain.ReservationStatusInPayment},
	}

	var markedIDs []string
	repo := &stubReservationRepo{
		FindStuckInPaymentFunc: func(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
			return stuck, nil
		},
		MarkStuckFunc: func(ctx context.Context, ids []string) (int64, error) {
			markedIDs = ids
			return int64(len(ids)), nil
		},
	}

	audit := &stubAuditRepo{}
	publisher := &recordingPublisher{}
	mailer := &recordingMailer{}

	w := NewStuckWorker(repo, audit, publisher, mailer, &StuckWorkerConfig{
		Interval:      time.Hour,
		BatchSize:     50,
		OperatorEmail: "ops@example.com",
	})
	w.sweep(context.Background())

	assert.Equal(t, []string{"res-1", "res-2"}, markedIDs)
	assert.Equal(t, []string{"res-1", "res-2"}, publisher.stuck)
	require.Len(t, audit.entries, 2)
	assert.Equal(t, domain.AuditReservationStuck, audit.entries[0].EventType)
	assert.Equal(t, []string{"ops@example.com"}, mailer.sent)
	assert.Equal(t, int64(2), w.GetStats().Marked)
}

func TestOfflineWorker_ReclaimCreditsInvoicedAndCancelsRest(t *testing.T) {
	expired := []*domain.Reservation{
		{ID: "res-invoiced", Status: domain.ReservationStatusOfflinePayment},
		{ID: "res-plain", Status: domain.ReservationStatusOfflinePayment},
	}

	repo := &stubReservationRepo{
		FindExpiredOfflineFunc: func(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
			return expired, nil
		},
		FindOfflineForReminderFunc: func(ctx context.Context, deadline time.Time, limit int) ([]*domain.Reservation, error) {
			return nil, nil
		},
	}
	billing := &stubBillingRepo{
		LatestByReservationFunc: func(ctx context.Context, reservationID string) (*domain.BillingDocument, error) {
			if reservationID == "res-invoiced" {
				return &domain.BillingDocument{Number: "gophercon/1", Type: domain.BillingDocumentInvoice}, nil
			}
			return nil, domain.ErrBillingDocumentNotFound
		},
	}

	var credited, cancelled []string
	svc := &stubReservationService{
		CreditFunc: func(ctx context.Context, id, actor string) error {
			assert.Equal(t, "system", actor)
			credited = append(credited, id)
			return nil
		},
		CancelFunc: func(ctx context.Context, id, actor string) error {
			cancelled = append(cancelled, id)
			return nil
		},
	}

	w := NewOfflineWorker(repo, billing, &stubEventRepo{}, svc, &recordingMailer{}, &OfflineWorkerConfig{
		Interval:          time.Hour,
		BatchSize:         50,
		ReminderLeadTime:  24 * time.Hour,
		AutoRemoveExpired: true,
	})
	w.sweep(context.Background())

	assert.Equal(t, []string{"res-invoiced"}, credited)
	assert.Equal(t, []string{"res-plain"}, cancelled)
	stats := w.GetStats()
	assert.Equal(t, int64(1), stats.Credited)
	assert.Equal(t, int64(1), stats.Cancelled)
}

func TestOfflineWorker_RemindsOnce(t *testing.T) {
	pending := []*domain.Reservation{
		{ID: "res-1", Status: domain.ReservationStatusOfflinePayment, CustomerEmail: "ada@example.com", ExpiresAt: time.Now().Add(12 * time.Hour)},
	}

	var remindedIDs []string
	repo := &stubReservationRepo{
		FindOfflineForReminderFunc: func(ctx context.Context, deadline time.Time, limit int) ([]*domain.Reservation, error) {
			return pending, nil
		},
		MarkReminderSentFunc: func(ctx context.Context, id string) error {
			remindedIDs = append(remindedIDs, id)
			return nil
		},
		FindExpiredOfflineFunc: func(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
			return nil, nil
		},
	}

	mailer := &recordingMailer{}
	w := NewOfflineWorker(repo, &stubBillingRepo{}, &stubEventRepo{}, &stubReservationService{}, mailer, nil)
	w.sweep(context.Background())

	assert.Equal(t, []string{"res-1"}, remindedIDs)
	assert.Equal(t, []string{"ada@example.com"}, mailer.sent)
	assert.Equal(t, int64(1), w.GetStats().Reminded)
}

func TestOfflineWorker_SkipsReclaimWhenDisabled(t *testing.T) {
	repo := &stubReservationRepo{
		FindOfflineForReminderFunc: func(ctx context.Context, deadline time.Time, limit int) ([]*domain.Reservation, error) {
			return nil, nil
		},
		FindExpiredOfflineFunc: func(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
			t.Fatal("reclaim pass must be skipped when disabled")
			return nil, nil
		},
	}

	w := NewOfflineWorker(repo, &stubBillingRepo{}, &stubEventRepo{}, &stubReservationService{}, nil, &OfflineWorkerConfig{
		Interval:          time.Hour,
		BatchSize:         50,
		AutoRemoveExpired: false,
	})
	w.sweep(context.Background())

	assert.Equal(t, int64(1), w.GetStats().Sweeps)
}
