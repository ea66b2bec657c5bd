package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crm-res/outreach-api/internal/config"
	"github.com/crm-res/outreach-api/internal/model"
	"github.com/crm-res/outreach-api/internal/notifier"
	"github.com/crm-res/outreach-api/internal/repository/postgres"
	alertService "github.com/crm-res/outreach-api/internal/service/alert"
	"github.com/crm-res/outreach-api/internal/service/blackout"
	campaignService "github.com/crm-res/outreach-api/internal/service/campaign"
	conversationService "github.com/crm-res/outreach-api/internal/service/conversation"
	"github.com/crm-res/outreach-api/internal/service/dispatch"
	experimentService "github.com/crm-res/outreach-api/internal/service/experiment"
	"github.com/crm-res/outreach-api/internal/service/scheduler"
	"github.com/crm-res/outreach-api/internal/transport"
	"github.com/crm-res/outreach-api/pkg/logger"
	"github.com/crm-res/outreach-api/pkg/messaging/redis"
	"github.com/crm-res/outreach-api/pkg/metrics"
	"github.com/crm-res/outreach-api/pkg/worker"
)

const outboxRetentionDays = 7

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logg := logger.NewLogger(&logger.Config{
		Level:      level,
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
	})

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		logg.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, logg.Zerolog())
	if err != nil {
		logg.Fatal(err, "failed to connect to Redis")
	}
	defer broker.Close()

	baseRepo := postgres.NewBaseRepository(db)
	campaignRepo := postgres.NewCampaignRepository(baseRepo)
	recipientRepo := postgres.NewRecipientRepository(baseRepo)
	messageRepo := postgres.NewMessageRepository(baseRepo)
	experimentRepo := postgres.NewExperimentRepository(baseRepo)
	conversationRepo := postgres.NewConversationRepository(baseRepo)
	alertRepo := postgres.NewAlertRepository(baseRepo)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)

	m := metrics.NewMetrics("outreach", "worker")

	emailNotifier := notifier.NewEmailNotifier(cfg.SMTP, logg)
	alertSvc := alertService.NewService(alertRepo, campaignRepo, outboxRepo, emailNotifier, m, logg, nil)
	campaignSvc := campaignService.NewService(campaignRepo, recipientRepo, messageRepo, logg)
	experimentSvc := experimentService.NewService(experimentRepo, logg)
	conversationSvc := conversationService.NewService(
		conversationRepo, outboxRepo, conversationService.NewNeutralScorer(), m, logg, cfg.Conversation)

	blackoutProvider := blackout.NewProvider(
		cfg.Blackout,
		blackout.NewHTTPCalendarSource(cfg.Blackout.CalendarURL, cfg.Blackout.RequestTimeout),
		logg,
	)
	schedulerSvc := scheduler.NewService(
		campaignRepo, recipientRepo, messageRepo,
		blackoutProvider, experimentSvc, m, logg, cfg.Scheduler,
	)

	dispatcher := dispatch.NewWorker(
		messageRepo, recipientRepo, campaignRepo,
		transport.NewTwilioSender(cfg.Twilio),
		dispatch.NewSettingsRenderer(),
		blackoutProvider, alertSvc, m, logg, cfg.Dispatch,
	)

	outboxProcessor := worker.NewOutboxProcessor(outboxRepo, broker, worker.OutboxProcessorConfig{
		BatchSize:     100,
		PollInterval:  5 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    5 * time.Second,
	}, logg, m)
	outboxCleanup := worker.NewOutboxCleanupWorker(outboxRepo, outboxRetentionDays, time.Hour, logg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	setupHealthCheck(logg)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logg.Info("starting " + name)
			fn(ctx)
		}()
	}

	run("dispatcher", dispatcher.Run)
	run("outbox processor", outboxProcessor.Start)
	run("outbox cleanup", outboxCleanup.Start)

	run("scheduler sweep", func(ctx context.Context) {
		tick(ctx, cfg.Scheduler.SweepInterval, func() {
			if err := schedulerSvc.Sweep(ctx); err != nil {
				logg.Error(err, "scheduler sweep failed")
			}
		})
	})

	run("campaign lifecycle", func(ctx context.Context) {
		tick(ctx, cfg.Scheduler.SweepInterval, func() {
			if err := campaignSvc.AdvanceDue(ctx); err != nil {
				logg.Error(err, "campaign lifecycle sweep failed")
			}
		})
	})

	run("blackout refresh", func(ctx context.Context) {
		tick(ctx, 12*time.Hour, func() {
			campaigns, err := campaignRepo.List(ctx, &model.CampaignFilters{Status: model.CampaignStatusActive})
			if err != nil {
				logg.Error(err, "failed to list campaigns for blackout refresh")
				return
			}
			seen := make(map[string]bool)
			for _, c := range campaigns {
				if seen[c.Locality] {
					continue
				}
				seen[c.Locality] = true
				if err := blackoutProvider.Refresh(ctx, c.Locality, time.Now()); err != nil {
					logg.Error(err, "blackout table refresh failed",
						map[string]interface{}{"locality": c.Locality})
				}
			}
		})
	})

	run("abandonment sweep", func(ctx context.Context) {
		tick(ctx, cfg.Conversation.AbandonSweepInterval, func() {
			events, err := conversationSvc.SweepAbandoned(ctx)
			if err != nil {
				logg.Error(err, "abandonment sweep failed")
				return
			}
			for i := range events {
				if _, err := alertSvc.Evaluate(ctx, &events[i]); err != nil {
					logg.Error(err, "alert evaluation failed",
						map[string]interface{}{"conversation_id": events[i].ConversationID})
				}
			}
		})
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logg.Info("shutting down workers")
	cancel()
	wg.Wait()
	logg.Info("workers exited")
}

// tick runs fn on every interval until the context is cancelled.
func tick(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func setupHealthCheck(logg *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := http.ListenAndServe(":8081", mux); err != nil {
			logg.Error(err, "health check server failed")
		}
	}()
}
