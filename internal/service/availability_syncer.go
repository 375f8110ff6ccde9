package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mortendir/ticketreserve/internal/repository"
	"github.com/mortendir/ticketreserve/pkg/logger"
	"github.com/mortendir/ticketreserve/pkg/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// AvailabilitySyncer mirrors free-ticket counts into Redis so availability
// reads do not hit the inventory tables. Counts are advisory; the skip-locked
// allocation remains the only authority on whether a reservation succeeds.
type AvailabilitySyncer struct {
	rdb     *redis.Client
	tickets repository.TicketRepository
	events  repository.EventRepository
	group   singleflight.Group
	ttl     time.Duration
	log     *logger.Logger
}

// AvailabilitySyncerConfig holds cache settings
type AvailabilitySyncerConfig struct {
	// TTL bounds staleness when invalidation is missed
	TTL time.Duration
}

// DefaultAvailabilitySyncerConfig returns default settings
func DefaultAvailabilitySyncerConfig() *AvailabilitySyncerConfig {
	return &AvailabilitySyncerConfig{TTL: 30 * time.Second}
}

// NewAvailabilitySyncer creates a new availability syncer
func NewAvailabilitySyncer(
	rdb *redis.Client,
	tickets repository.TicketRepository,
	events repository.EventRepository,
	cfg *AvailabilitySyncerConfig,
) *AvailabilitySyncer {
	if cfg == nil {
		cfg = DefaultAvailabilitySyncerConfig()
	}
	return &AvailabilitySyncer{
		rdb:     rdb,
		tickets: tickets,
		events:  events,
		ttl:     cfg.TTL,
		log:     logger.Get(),
	}
}

// Get returns the cached free count for a category. The second return value
// is false on a cache miss.
func (s *AvailabilitySyncer) Get(ctx context.Context, eventID, categoryID int64) (int, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.availability.get")
	defer span.End()

	key := availabilityKey(eventID, categoryID)
	span.SetAttributes(attribute.String("key", key))

	val, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			span.SetStatus(codes.Ok, "miss")
			return 0, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, false, fmt.Errorf("failed to read availability: %w", err)
	}

	count, err := strconv.Atoi(val)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, false, fmt.Errorf("corrupt availability value %q: %w", val, err)
	}

	span.SetAttributes(attribute.Int("count", count))
	span.SetStatus(codes.Ok, "")
	return count, true, nil
}

// Sync recounts a category's free tickets and writes the result to Redis.
// Concurrent syncs of the same key are collapsed into one count.
func (s *AvailabilitySyncer) Sync(ctx context.Context, eventID, categoryID int64) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.availability.sync")
	defer span.End()

	key := availabilityKey(eventID, categoryID)
	span.SetAttributes(attribute.String("key", key))

	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		count, err := s.count(ctx, eventID, categoryID)
		if err != nil {
			return 0, err
		}
		if err := s.rdb.Set(ctx, key, count, s.ttl).Err(); err != nil {
			return 0, fmt.Errorf("failed to write availability: %w", err)
		}
		return count, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	count := v.(int)
	span.SetAttributes(
		attribute.Int("count", count),
		attribute.Bool("shared", shared),
	)
	span.SetStatus(codes.Ok, "")
	return count, nil
}

// SyncQuietly runs Sync and only logs on failure. Callers on mutation paths
// use this so a cache outage never fails a reservation.
func (s *AvailabilitySyncer) SyncQuietly(ctx context.Context, eventID, categoryID int64) {
	if _, err := s.Sync(ctx, eventID, categoryID); err != nil {
		s.log.Warn("availability sync failed",
			zap.Int64("event_id", eventID),
			zap.Int64("category_id", categoryID),
			zap.Error(err))
	}
}

func (s *AvailabilitySyncer) count(ctx context.Context, eventID, categoryID int64) (int, error) {
	category, err := s.events.GetCategory(ctx, categoryID)
	if err != nil {
		return 0, err
	}
	if category.Bounded {
		return s.tickets.CountFreeInCategory(ctx, categoryID)
	}
	return s.tickets.CountFreeInPool(ctx, eventID)
}

func availabilityKey(eventID, categoryID int64) string {
	return fmt.Sprintf("availability:%d:%d", eventID, categoryID)
}
