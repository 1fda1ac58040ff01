package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"leadpulse/abtest"
	"leadpulse/channel"
	"leadpulse/config"
	controller "leadpulse/controllers"
	"leadpulse/engine"
	"leadpulse/middleware"
	"leadpulse/routes"
	"leadpulse/store"
	"leadpulse/worker"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)
	log := logrus.WithField("app", "leadpulse")

	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			log.Fatalf("Failed to initialize sentry: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	if err := config.ConnectDB(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	st := store.NewGormStore(config.DB)

	registry := channel.NewRegistry(
		channel.NewEmailAdapter(channel.SMTPConfig{
			Host:      config.AppConfig.SMTP.Host,
			Port:      config.AppConfig.SMTP.Port,
			Username:  config.AppConfig.SMTP.Username,
			Password:  config.AppConfig.SMTP.Password,
			FromEmail: config.AppConfig.SMTP.From,
			FromName:  config.AppConfig.SMTP.FromName,

			TrackingBaseURL: config.AppConfig.TrackingBaseURL,
		}),
		channel.NewSMSAdapter(config.AppConfig.SMS.BaseURL, config.AppConfig.SMS.APIKey, config.AppConfig.SMS.FromNumber),
		channel.NewCallAdapter(config.AppConfig.Call.BaseURL, config.AppConfig.Call.APIKey, config.AppConfig.Call.FromNumber),
		channel.NewPushAdapter(config.AppConfig.Push.BaseURL, config.AppConfig.Push.APIKey),
	)

	clock := engine.SystemClock{}
	selector := abtest.NewWeightedSelector(st, time.Now().UnixNano())
	scheduler := engine.NewScheduler(st, clock, log.WithField("component", "scheduler"))
	router := engine.NewRouter(st, registry, selector, scheduler, clock, log.WithField("component", "router"))
	sequences := engine.NewSequenceEngine(st, router, clock, log.WithField("component", "sequences"))
	processor := engine.NewProcessor(st, sequences, clock, engine.ProcessorConfig{}, log.WithField("component", "processor"))
	leadRouter := engine.NewLeadRouter(st, router, log.WithField("component", "leadrouter"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	executor := worker.NewExecutor(config.AppConfig.WorkerCount, 64, log.WithField("component", "executor"))
	executor.Start(ctx)
	defer executor.Shutdown()

	batcher := engine.NewBatcher(router, st, 0, 0, log.WithField("component", "batcher"))
	router.SetPendingSink(batcher.Enqueue)
	go batcher.Run(ctx)

	queueInterval := time.Duration(config.AppConfig.QueueIntervalSeconds) * time.Second
	sweepInterval := time.Duration(config.AppConfig.SweepIntervalSeconds) * time.Second
	go worker.NewQueueWorker(router, scheduler, queueInterval, log.WithField("component", "queue-worker")).Start(ctx)
	go worker.NewSequenceWorker(processor, sweepInterval, log.WithField("component", "sequence-worker")).Start(ctx)

	app := fiber.New()
	app.Use(middleware.CORS())

	routes.SetupRoutes(app, routes.Controllers{
		Leads:     controller.NewLeadController(st, leadRouter, sequences, executor, log.WithField("component", "leads")),
		Campaigns: controller.NewCampaignController(st, router, executor, log.WithField("component", "campaigns")),
		Sequences: controller.NewSequenceController(st, sequences, log.WithField("component", "sequences-api")),
		Webhooks:  controller.NewWebhookController(router, log.WithField("component", "webhooks")),
		Stats:     controller.NewStatsController(st, log.WithField("component", "stats")),
	})

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info("shutting down")
		cancel()
		_ = app.Shutdown()
	}()

	log.Infof("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
