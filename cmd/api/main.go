package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crm-res/outreach-api/internal/config"
	"github.com/crm-res/outreach-api/internal/handler"
	alertHandler "github.com/crm-res/outreach-api/internal/handler/alert"
	campaignHandler "github.com/crm-res/outreach-api/internal/handler/campaign"
	conversationHandler "github.com/crm-res/outreach-api/internal/handler/conversation"
	experimentHandler "github.com/crm-res/outreach-api/internal/handler/experiment"
	messageHandler "github.com/crm-res/outreach-api/internal/handler/message"
	promhandler "github.com/crm-res/outreach-api/internal/handler/prometheus"
	"github.com/crm-res/outreach-api/internal/middleware"
	"github.com/crm-res/outreach-api/internal/notifier"
	"github.com/crm-res/outreach-api/internal/repository/postgres"
	"github.com/crm-res/outreach-api/internal/router"
	alertService "github.com/crm-res/outreach-api/internal/service/alert"
	"github.com/crm-res/outreach-api/internal/service/blackout"
	campaignService "github.com/crm-res/outreach-api/internal/service/campaign"
	conversationService "github.com/crm-res/outreach-api/internal/service/conversation"
	"github.com/crm-res/outreach-api/internal/service/dispatch"
	experimentService "github.com/crm-res/outreach-api/internal/service/experiment"
	"github.com/crm-res/outreach-api/internal/transport"
	"github.com/crm-res/outreach-api/pkg/logger"
	"github.com/crm-res/outreach-api/pkg/metrics"
)

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

	baseRepo := postgres.NewBaseRepository(db)
	campaignRepo := postgres.NewCampaignRepository(baseRepo)
	recipientRepo := postgres.NewRecipientRepository(baseRepo)
	messageRepo := postgres.NewMessageRepository(baseRepo)
	experimentRepo := postgres.NewExperimentRepository(baseRepo)
	conversationRepo := postgres.NewConversationRepository(baseRepo)
	alertRepo := postgres.NewAlertRepository(baseRepo)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)

	m := metrics.NewMetrics("outreach", "api")

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

	// The dispatcher is constructed here for its status-callback path only;
	// the poll loop runs in the worker binary.
	dispatcher := dispatch.NewWorker(
		messageRepo, recipientRepo, campaignRepo,
		transport.NewTwilioSender(cfg.Twilio),
		dispatch.NewSettingsRenderer(),
		blackoutProvider, alertSvc, m, logg, cfg.Dispatch,
	)

	prom := promhandler.New()
	r := router.NewRouter(
		handler.NewHandler(db),
		prom,
		router.Config{
			Timeout:    time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
			CORSConfig: middleware.DefaultCORSConfig(),
		},
		campaignHandler.NewHandler(campaignSvc),
		experimentHandler.NewHandler(experimentSvc),
		alertHandler.NewHandler(alertSvc),
		conversationHandler.NewHandler(conversationSvc, alertSvc, logg),
		messageHandler.NewHandler(conversationSvc, alertSvc, dispatcher, logg),
	)
	r.Setup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	go func() {
		logg.Info("starting server", map[string]interface{}{"port": cfg.Server.Port})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Fatal(err, "failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logg.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logg.Fatal(err, "server forced to shutdown")
	}
	logg.Info("server exited")
}
