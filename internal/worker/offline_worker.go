package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mortendir/ticketreserve/internal/domain"
	"github.com/mortendir/ticketreserve/internal/notification"
	"github.com/mortendir/ticketreserve/internal/repository"
	"github.com/mortendir/ticketreserve/internal/service"
	"github.com/mortendir/ticketreserve/pkg/logger"
	"github.com/mortendir/ticketreserve/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// OfflineWorker watches OFFLINE_PAYMENT reservations. It reminds customers
// once before the transfer deadline, and past the deadline it reclaims the
// reservation: invoiced ones get a credit note, the rest are cancelled.
type OfflineWorker struct {
	reservations repository.ReservationRepository
	billing      repository.BillingRepository
	events       repository.EventRepository
	svc          service.ReservationService
	mailer       notification.Mailer
	cfg          *OfflineWorkerConfig
	log          *logger.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stats   OfflineWorkerStats
}

// OfflineWorkerConfig holds sweep settings
type OfflineWorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	// ReminderLeadTime is how far before the deadline the reminder goes out
	ReminderLeadTime time.Duration
	// AutoRemoveExpired enables the reclaim pass
	AutoRemoveExpired bool
}

// DefaultOfflineWorkerConfig returns default settings
func DefaultOfflineWorkerConfig() *OfflineWorkerConfig {
	return &OfflineWorkerConfig{
		Interval:          5 * time.Minute,
		BatchSize:         100,
		ReminderLeadTime:  24 * time.Hour,
		AutoRemoveExpired: true,
	}
}

// OfflineWorkerStats tracks sweep activity
type OfflineWorkerStats struct {
	Sweeps    int64
	Reminded  int64
	Cancelled int64
	Credited  int64
	Errors    int64
	LastSweep time.Time
}

// NewOfflineWorker creates a new offline-payment worker
func NewOfflineWorker(
	reservations repository.ReservationRepository,
	billing repository.BillingRepository,
	events repository.EventRepository,
	svc service.ReservationService,
	mailer notification.Mailer,
	cfg *OfflineWorkerConfig,
) *OfflineWorker {
	if cfg == nil {
		cfg = DefaultOfflineWorkerConfig()
	}
	if mailer == nil {
		mailer = notification.NewNoOpMailer()
	}
	return &OfflineWorker{
		reservations: reservations,
		billing:      billing,
		events:       events,
		svc:          svc,
		mailer:       mailer,
		cfg:          cfg,
		log:          logger.Get(),
		stopCh:       make(chan struct{}),
	}
}

// Start begins the sweep loop. The first sweep runs immediately.
func (w *OfflineWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	w.log.Info("offline-payment worker started",
		zap.Duration("interval", w.cfg.Interval),
		zap.Bool("auto_remove", w.cfg.AutoRemoveExpired))
}

// Stop signals the loop to finish and waits for it
func (w *OfflineWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("offline-payment worker stopped")
}

// GetStats returns a snapshot of the sweep counters
func (w *OfflineWorker) GetStats() OfflineWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *OfflineWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *OfflineWorker) sweep(ctx context.Context) {
	ctx, span := telemetry.StartSpan(ctx, "worker.offline.sweep")
	defer span.End()

	now := time.Now()
	reminded := w.remind(ctx, now)

	cancelled, credited := 0, 0
	if w.cfg.AutoRemoveExpired {
		cancelled, credited = w.reclaim(ctx, now)
	}

	w.mu.Lock()
	w.stats.Sweeps++
	w.stats.Reminded += int64(reminded)
	w.stats.Cancelled += int64(cancelled)
	w.stats.Credited += int64(credited)
	w.stats.LastSweep = now
	w.mu.Unlock()

	span.SetAttributes(
		attribute.Int("reminded", reminded),
		attribute.Int("cancelled", cancelled),
		attribute.Int("credited", credited),
	)
	span.SetStatus(codes.Ok, "")
}

// remind mails every reservation approaching its deadline once
func (w *OfflineWorker) remind(ctx context.Context, now time.Time) int {
	deadline := now.Add(w.cfg.ReminderLeadTime)
	pending, err := w.reservations.FindOfflineForReminder(ctx, deadline, w.cfg.BatchSize)
	if err != nil {
		w.log.Error("reminder query failed", zap.Error(err))
		w.countError()
		return 0
	}

	reminded := 0
	for _, res := range pending {
		if res.CustomerEmail == "" {
			// nothing to mail, but mark it so the row stops matching
			if err := w.reservations.MarkReminderSent(ctx, res.ID); err != nil {
				w.countError()
			}
			continue
		}

		eventName := ""
		if event, err := w.events.GetByID(ctx, res.EventID); err == nil {
			eventName = event.DisplayName
		}

		subject, body := notification.OfflineReminderMail(res, eventName)
		if err := w.mailer.Send(ctx, res.CustomerEmail, subject, body); err != nil {
			w.log.Warn("failed to send payment reminder",
				zap.String("reservation_id", res.ID), zap.Error(err))
			w.countError()
			continue
		}
		if err := w.reservations.MarkReminderSent(ctx, res.ID); err != nil {
			w.log.Warn("failed to mark reminder sent",
				zap.String("reservation_id", res.ID), zap.Error(err))
			w.countError()
			continue
		}
		reminded++
	}
	return reminded
}

// reclaim handles reservations past their transfer deadline. Each one is
// processed independently so a poison row cannot stall the sweep.
func (w *OfflineWorker) reclaim(ctx context.Context, now time.Time) (cancelled, credited int) {
	expired, err := w.reservations.FindExpiredOffline(ctx, now, w.cfg.BatchSize)
	if err != nil {
		w.log.Error("offline reclaim query failed", zap.Error(err))
		w.countError()
		return 0, 0
	}

	for _, res := range expired {
		invoiced, err := w.hasInvoice(ctx, res.ID)
		if err != nil {
			w.log.Warn("failed to inspect billing documents",
				zap.String("reservation_id", res.ID), zap.Error(err))
			w.countError()
			continue
		}

		if invoiced {
			if err := w.svc.Credit(ctx, res.ID, "system"); err != nil {
				w.log.Warn("failed to credit expired offline reservation",
					zap.String("reservation_id", res.ID), zap.Error(err))
				w.countError()
				continue
			}
			credited++
		} else {
			if err := w.svc.Cancel(ctx, res.ID, "system"); err != nil {
				w.log.Warn("failed to cancel expired offline reservation",
					zap.String("reservation_id", res.ID), zap.Error(err))
				w.countError()
				continue
			}
			cancelled++
		}
	}

	if cancelled+credited > 0 {
		w.log.Info("expired offline reservations reclaimed",
			zap.Int("cancelled", cancelled),
			zap.Int("credited", credited))
	}
	return cancelled, credited
}

func (w *OfflineWorker) hasInvoice(ctx context.Context, reservationID string) (bool, error) {
	doc, err := w.billing.LatestByReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, domain.ErrBillingDocumentNotFound) {
			return false, nil
		}
		return false, err
	}
	return doc.Type == domain.BillingDocumentInvoice, nil
}

func (w *OfflineWorker) countError() {
	w.mu.Lock()
	w.stats.Errors++
	w.mu.Unlock()
}
