package worker

import (
	"context"
	"sync"
	"time"

	"github.com/mortendir/ticketreserve/internal/repository"
	"github.com/mortendir/ticketreserve/internal/service"
	"github.com/mortendir/ticketreserve/pkg/logger"
	"github.com/mortendir/ticketreserve/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ExpiryWorker periodically reclaims PENDING reservations that passed their
// deadline. Each reservation is reclaimed in its own transaction so one
// failure never blocks the rest of the batch.
type ExpiryWorker struct {
	reservations repository.ReservationRepository
	svc          service.ReservationService
	cfg          *ExpiryWorkerConfig
	log          *logger.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stats   ExpiryWorkerStats
}

// ExpiryWorkerConfig holds sweep settings
type ExpiryWorkerConfig struct {
	Interval  time.Duration
	BatchSize int
}

// DefaultExpiryWorkerConfig returns default settings
func DefaultExpiryWorkerConfig() *ExpiryWorkerConfig {
	return &ExpiryWorkerConfig{
		Interval:  30 * time.Second,
		BatchSize: 100,
	}
}

// ExpiryWorkerStats tracks sweep activity
type ExpiryWorkerStats struct {
	Sweeps    int64
	Expired   int64
	Errors    int64
	LastSweep time.Time
}

// NewExpiryWorker creates a new expiry worker
func NewExpiryWorker(
	reservations repository.ReservationRepository,
	svc service.ReservationService,
	cfg *ExpiryWorkerConfig,
) *ExpiryWorker {
	if cfg == nil {
		cfg = DefaultExpiryWorkerConfig()
	}
	return &ExpiryWorker{
		reservations: reservations,
		svc:          svc,
		cfg:          cfg,
		log:          logger.Get(),
		stopCh:       make(chan struct{}),
	}
}

// Start begins the sweep loop. The first sweep runs immediately.
func (w *ExpiryWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	w.log.Info("expiry worker started",
		zap.Duration("interval", w.cfg.Interval),
		zap.Int("batch_size", w.cfg.BatchSize))
}

// Stop signals the loop to finish and waits for it
func (w *ExpiryWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("expiry worker stopped")
}

// GetStats returns a snapshot of the sweep counters
func (w *ExpiryWorker) GetStats() ExpiryWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *ExpiryWorker) run(ctx context.Context) {
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

func (w *ExpiryWorker) sweep(ctx context.Context) {
	ctx, span := telemetry.StartSpan(ctx, "worker.expiry.sweep")
	defer span.End()

	now := time.Now()
	expired, err := w.reservations.FindExpiredPending(ctx, now, w.cfg.BatchSize)
	if err != nil {
		w.log.Error("expiry sweep query failed", zap.Error(err))
		w.countError()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	reclaimed := 0
	for _, res := range expired {
		if err := w.svc.Expire(ctx, res.ID); err != nil {
			w.log.Warn("failed to expire reservation",
				zap.String("reservation_id", res.ID), zap.Error(err))
			w.countError()
			continue
		}
		reclaimed++
	}

	w.mu.Lock()
	w.stats.Sweeps++
	w.stats.Expired += int64(reclaimed)
	w.stats.LastSweep = now
	w.mu.Unlock()

	if reclaimed > 0 {
		w.log.Info("expired reservations reclaimed", zap.Int("count", reclaimed))
	}

	span.SetAttributes(
		attribute.Int("found", len(expired)),
		attribute.Int("reclaimed", reclaimed),
	)
	span.SetStatus(codes.Ok, "")
}

func (w *ExpiryWorker) countError() {
	w.mu.Lock()
	w.stats.Errors++
	w.mu.Unlock()
}
