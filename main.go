package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"traffic-insights/internal/attribution"
	"traffic-insights/internal/config"
	"traffic-insights/internal/connectors"
	"traffic-insights/internal/export"
	"traffic-insights/internal/handlers"
	"traffic-insights/internal/scheduler"
	"traffic-insights/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.Info("Starting Traffic Insights aggregation service")

	var store storage.Store
	if cfg.DatabaseDSN != "" {
		gormStore, err := storage.OpenGorm(cfg.DatabaseDSN, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open database")
		}
		store = gormStore
	} else {
		logger.Warn("No DATABASE_DSN configured, using in-memory store")
		store = storage.NewMemoryStore()
	}

	httpClient := connectors.NewClient(cfg.HTTPTimeout, cfg.RetryAttempts, logger)
	facebook := connectors.NewFacebook(httpClient, cfg.FacebookAPIURL, cfg.FacebookToken, cfg.MaxWindowDays, logger)
	amocrm := connectors.NewAmoCRM(httpClient, cfg.AmoCRMBaseURL, cfg.AmoCRMToken, logger)
	resolver := attribution.NewResolver(store, cfg.DefaultTeam, logger)
	exporter := export.NewExporter(cfg.SinkSecret, httpClient, logger)

	schedMetrics := scheduler.NewMetrics(prometheus.DefaultRegisterer)
	sched := scheduler.New(store, facebook, amocrm, resolver, scheduler.Config{
		Interval:        cfg.SyncInterval,
		StartDelay:      5 * time.Second,
		StuckAfter:      cfg.StuckAfter,
		Concurrency:     cfg.FetchConcurrency,
		ExchangeRateKZT: cfg.ExchangeRateKZT,
	}, schedMetrics, logger)

	handler := handlers.New(cfg, store, sched, exporter, logger)
	httpMetrics := handlers.NewHTTPMetrics(prometheus.DefaultRegisterer)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	handler.Register(router, httpMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.Port).Info("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
