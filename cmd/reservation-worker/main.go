package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mortendir/ticketreserve/internal/notification"
	"github.com/mortendir/ticketreserve/internal/repository"
	"github.com/mortendir/ticketreserve/internal/service"
	"github.com/mortendir/ticketreserve/internal/worker"
	"github.com/mortendir/ticketreserve/pkg/config"
	"github.com/mortendir/ticketreserve/pkg/database"
	"github.com/mortendir/ticketreserve/pkg/logger"
	"github.com/mortendir/ticketreserve/pkg/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "reservation-worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.Init(&logger.Config{
		Level:       logLevel(cfg),
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
	}); err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MaxIdleConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  10 * time.Second,
		MaxRetries:      5,
		RetryInterval:   2 * time.Second,
		EnableTracing:   cfg.OTel.Enabled,
		ServiceName:     cfg.App.Name,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()

	pool := db.Pool()
	repos := service.Repositories{
		Tickets:      repository.NewPostgresTicketRepository(pool),
		Reservations: repository.NewPostgresReservationRepository(pool),
		Events:       repository.NewPostgresEventRepository(pool),
		Tokens:       repository.NewPostgresAccessTokenRepository(pool),
		Promos:       repository.NewPostgresPromoCodeRepository(pool),
		Addons:       repository.NewPostgresAddonRepository(pool),
		Billing:      repository.NewPostgresBillingRepository(pool),
		Audit:        repository.NewPostgresAuditRepository(pool),
		Groups:       repository.NewPostgresGroupRepository(pool),
	}

	var availability *service.AvailabilitySyncer
	if cfg.Redis.Host != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr(),
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, availability cache disabled", zap.Error(err))
		} else {
			availability = service.NewAvailabilitySyncer(rdb, repos.Tickets, repos.Events, nil)
		}
	}

	var publisher service.ExtensionPublisher = service.NewNoOpExtensionPublisher()
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher, err := service.NewKafkaExtensionPublisher(ctx, &service.ExtensionPublisherConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.Topic,
			ServiceName: cfg.App.Name,
			ClientID:    cfg.Kafka.ClientID,
		})
		if err != nil {
			log.Warn("kafka unreachable, lifecycle events disabled", zap.Error(err))
		} else {
			publisher = kafkaPublisher
		}
	}
	defer publisher.Close()

	var mailer notification.Mailer = notification.NewNoOpMailer()
	if cfg.SMTP.Host != "" {
		smtpMailer, err := notification.NewSMTPMailer(&notification.SMTPMailerConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			log.Warn("smtp misconfigured, mail disabled", zap.Error(err))
		} else {
			mailer = smtpMailer
		}
	}

	reservationSvc := service.NewReservationService(db, repos, publisher, mailer, availability, &service.ReservationServiceConfig{
		ReservationTTL:           25 * time.Minute,
		MaxTicketsPerReservation: 10,
		InvoicingEnabled:         cfg.Billing.InvoicingEnabled,
		InvoicePattern:           cfg.Billing.InvoicePattern,
	})

	expiryWorker := worker.NewExpiryWorker(repos.Reservations, reservationSvc, &worker.ExpiryWorkerConfig{
		Interval:  cfg.Worker.ExpiryInterval,
		BatchSize: cfg.Worker.BatchSize,
	})
	stuckWorker := worker.NewStuckWorker(repos.Reservations, repos.Audit, publisher, mailer, &worker.StuckWorkerConfig{
		Interval:      cfg.Worker.StuckInterval,
		BatchSize:     cfg.Worker.BatchSize,
		OperatorEmail: cfg.SMTP.Operator,
	})
	offlineWorker := worker.NewOfflineWorker(repos.Reservations, repos.Billing, repos.Events, reservationSvc, mailer, &worker.OfflineWorkerConfig{
		Interval:          cfg.Worker.OfflineInterval,
		BatchSize:         cfg.Worker.BatchSize,
		ReminderLeadTime:  24 * time.Hour,
		AutoRemoveExpired: cfg.Billing.AutoRemoveExpiredOffline,
	})

	expiryWorker.Start(ctx)
	stuckWorker.Start(ctx)
	offlineWorker.Start(ctx)

	log.Info("reservation worker running",
		zap.String("environment", cfg.App.Environment),
		zap.Duration("expiry_interval", cfg.Worker.ExpiryInterval),
		zap.Duration("stuck_interval", cfg.Worker.StuckInterval),
		zap.Duration("offline_interval", cfg.Worker.OfflineInterval))

	<-ctx.Done()
	log.Info("shutdown signal received")

	offlineWorker.Stop()
	stuckWorker.Stop()
	expiryWorker.Stop()

	return nil
}

func logLevel(cfg *config.Config) string {
	if cfg.App.Debug {
		return "debug"
	}
	return "info"
}
