package worker

import (
	"context"
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

// StuckWorker flags IN_PAYMENT reservations that passed their deadline.
// Their money state is unknown, so the sweep only marks them STUCK and
// alerts the operator; inventory stays bound until someone resolves them.
type StuckWorker struct {
	reservations repository.ReservationRepository
	audit        repository.AuditRepository
	publisher    service.ExtensionPublisher
	mailer       notification.Mailer
	cfg          *StuckWorkerConfig
	log          *logger.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stats   StuckWorkerStats
}

// StuckWorkerConfig holds sweep settings
type StuckWorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	// OperatorEmail receives the alert; empty disables mail
	OperatorEmail string
}

// DefaultStuckWorkerConfig returns default settings
func DefaultStuckWorkerConfig() *StuckWorkerConfig {
	return &StuckWorkerConfig{
		Interval:  time.Minute,
		BatchSize: 100,
	}
}

// StuckWorkerStats tracks sweep activity
type StuckWorkerStats struct {
	Sweeps    int64
	Marked    int64
	Errors    int64
	LastSweep time.Time
}

// NewStuckWorker creates a new stuck-payment worker
func NewStuckWorker(
	reservations repository.ReservationRepository,
	audit repository.AuditRepository,
	publisher service.ExtensionPublisher,
	mailer notification.Mailer,
	cfg *StuckWorkerConfig,
) *StuckWorker {
	if cfg == nil {
		cfg = DefaultStuckWorkerConfig()
	}
	if publisher == nil {
		publisher = service.NewNoOpExtensionPublisher()
	}
	if mailer == nil {
		mailer = notification.NewNoOpMailer()
	}
	return &StuckWorker{
		reservations: reservations,
		audit:        audit,
		publisher:    publisher,
		mailer:       mailer,
		cfg:          cfg,
		log:          logger.Get(),
		stopCh:       make(chan struct{}),
	}
}

// Start begins the sweep loop. The first sweep runs immediately.
func (w *StuckWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	w.log.Info("stuck-payment worker started",
		zap.Duration("interval", w.cfg.Interval),
		zap.Int("batch_size", w.cfg.BatchSize))
}

// Stop signals the loop to finish and waits for it
func (w *StuckWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("stuck-payment worker stopped")
}

// GetStats returns a snapshot of the sweep counters
func (w *StuckWorker) GetStats() StuckWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *StuckWorker) run(ctx context.Context) {
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

func (w *StuckWorker) sweep(ctx context.Context) {
	ctx, span := telemetry.StartSpan(ctx, "worker.stuck.sweep")
	defer span.End()

	now := time.Now()
	stuck, err := w.reservations.FindStuckInPayment(ctx, now, w.cfg.BatchSize)
	if err != nil {
		w.log.Error("stuck sweep query failed", zap.Error(err))
		w.countError()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	if len(stuck) == 0 {
		w.mu.Lock()
		w.stats.Sweeps++
		w.stats.LastSweep = now
		w.mu.Unlock()
		span.SetStatus(codes.Ok, "")
		return
	}

	ids := make([]string, 0, len(stuck))
	for _, res := range stuck {
		ids = append(ids, res.ID)
	}

	marked, err := w.reservations.MarkStuck(ctx, ids)
	if err != nil {
		w.log.Error("failed to mark stuck reservations", zap.Error(err))
		w.countError()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	for _, res := range stuck {
		if err := w.audit.Record(ctx, &domain.AuditEntry{
			ReservationID: res.ID,
			EventType:     domain.AuditReservationStuck,
			Actor:         "system",
			EntityType:    "reservation",
			EntityID:      res.ID,
			Changes: []domain.FieldChange{
				{Field: "status", OldValue: res.Status.String(), NewValue: domain.ReservationStatusStuck.String()},
			},
		}); err != nil {
			w.log.Warn("failed to record stuck audit entry",
				zap.String("reservation_id", res.ID), zap.Error(err))
			w.countError()
		}

		res.Status = domain.ReservationStatusStuck
		if err := w.publisher.PublishReservationStuck(ctx, res); err != nil {
			w.log.Warn("failed to publish stuck event",
				zap.String("reservation_id", res.ID), zap.Error(err))
		}
	}

	if w.cfg.OperatorEmail != "" {
		subject, body := notification.StuckAlertMail(ids)
		if err := w.mailer.Send(ctx, w.cfg.OperatorEmail, subject, body); err != nil {
			w.log.Warn("failed to send stuck alert", zap.Error(err))
		}
	}

	w.mu.Lock()
	w.stats.Sweeps++
	w.stats.Marked += marked
	w.stats.LastSweep = now
	w.mu.Unlock()

	w.log.Warn("reservations stuck in payment",
		zap.Int("count", len(ids)),
		zap.Strings("reservation_ids", ids))

	span.SetAttributes(
		attribute.Int("found", len(stuck)),
		attribute.Int64("marked", marked),
	)
	span.SetStatus(codes.Ok, "")
}

func (w *StuckWorker) countError() {
	w.mu.Lock()
	w.stats.Errors++
	w.mu.Unlock()
}
