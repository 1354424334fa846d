// Command server runs the comment pipeline: the fan-out dispatcher, the Redis
// group transport and the ops HTTP surface.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"threadline/internal/cache"
	"threadline/internal/config"
	"threadline/internal/database"
	"threadline/internal/events"
	"threadline/internal/guard"
	"threadline/internal/moderation"
	"threadline/internal/notifications"
	"threadline/internal/observability"
	"threadline/internal/repository"
	"threadline/internal/server"
	"threadline/internal/service"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		observability.Logger.Error("server exited with error", slog.String("error", err.Error()))
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:  "threadline",
		Environment:  cfg.Env,
		Enabled:      cfg.TracingEnabled,
		Exporter:     cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplerRatio: 1,
	})
	if err != nil {
		return err
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	rdb, err := cache.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}

	moderators, err := cfg.Moderators()
	if err != nil {
		return err
	}
	engine, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	audit, closeAudit, err := buildAudit(cfg)
	if err != nil {
		return err
	}

	hub := notifications.NewHub()
	transport := notifications.NewRedisTransport(rdb, hub)
	store := repository.NewStore(db)
	inbox := notifications.NewGormStore(store.Notifications)
	dedupe := guard.NewRedisDeduper(rdb, "dedupe:")

	dispatcher := notifications.NewDispatcher(notifications.DispatcherConfig{
		QueueSize:     cfg.FanoutQueueSize,
		Workers:       cfg.FanoutWorkers,
		BatchSize:     cfg.FanoutBatchSize,
		FlushInterval: cfg.FanoutFlushInterval,
		MaxRetries:    cfg.FanoutMaxRetries,
		DedupeTTL:     cfg.FanoutDedupeTTL,
	}, notifications.RecipientPolicy{
		Moderators:       moderators,
		ReviewThreshold:  cfg.ReviewReportThreshold,
		PopularThreshold: cfg.PopularLikeThreshold,
	}, transport, inbox, audit, dedupe)

	comments := service.NewCommentService(
		store,
		guard.NewRedisGuard(rdb),
		dedupe,
		engine,
		events.NewEmitter(dispatcher),
		service.ConfigFrom(cfg),
	)

	srv, err := server.NewServer(cfg, server.Deps{
		DB:        db,
		Redis:     rdb,
		Hub:       hub,
		Transport: transport,
		Inbox:     inbox,
		Comments:  comments,
	})
	if err != nil {
		return err
	}

	if err := transport.Start(ctx); err != nil {
		return err
	}
	if err := dispatcher.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		observability.Logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := dispatcher.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := closeAudit(); err != nil {
			errs = append(errs, err)
		}
		if err := rdb.Close(); err != nil {
			errs = append(errs, err)
		}
		if sqlDB, err := db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

func buildEngine(cfg *config.Config) (*moderation.Engine, error) {
	sensitive, err := moderation.ParseOutcome(cfg.SensitiveOutcome)
	if err != nil {
		return nil, err
	}
	thresholds := moderation.Thresholds{
		Spam:             cfg.SpamThreshold,
		Toxicity:         cfg.ToxicityThreshold,
		ReportReview:     cfg.ReportReviewThreshold,
		ReportHide:       cfg.ReportHideThreshold,
		SensitiveOutcome: sensitive,
	}

	if cfg.SensitiveWordsFile == "" {
		return moderation.NewEngine(thresholds, nil, nil), nil
	}
	filter, err := moderation.LoadTermFilter(cfg.SensitiveWordsFile)
	if err != nil {
		return nil, err
	}
	observability.Logger.Info("sensitive word filter loaded", slog.String("path", cfg.SensitiveWordsFile))
	return moderation.NewEngine(thresholds, nil, filter), nil
}

func buildAudit(cfg *config.Config) (notifications.AuditSink, func() error, error) {
	if cfg.RabbitMQURL == "" {
		return notifications.LogSink{}, func() error { return nil }, nil
	}
	sink, err := notifications.NewAMQPSink(cfg.RabbitMQURL, cfg.AuditExchange)
	if err != nil {
		return nil, nil, err
	}
	observability.Logger.Info("audit sink connected", slog.String("exchange", cfg.AuditExchange))
	return notifications.MultiSink{notifications.LogSink{}, sink}, sink.Close, nil
}
