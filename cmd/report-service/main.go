package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/dentage-research/platform/pkg/common/config"
	"github.com/dentage-research/platform/pkg/common/database"
	"github.com/dentage-research/platform/pkg/common/kafka"
	"github.com/dentage-research/platform/pkg/common/logger"
	"github.com/dentage-research/platform/pkg/common/models"
	"github.com/dentage-research/platform/pkg/identity"
	"github.com/dentage-research/platform/pkg/middleware"
	"github.com/dentage-research/platform/pkg/observability/metrics"
	"github.com/dentage-research/platform/pkg/report"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	cache := report.NewRedisCache(database.GetRedis(), cfg.ReportCacheTTL)
	reportService := report.NewService(report.NewRepository(db), cache)

	tokens := identity.NewRedisTokenStore(database.GetRedis(), cfg.SessionTTL)
	identityRepo := identity.NewRepository(db)
	identityService := identity.NewService(identityRepo, tokens, cfg.MaxLoginAttempts, cfg.LockoutWindow)

	// Any study mutation invalidates the cached rollup.
	consumer := kafka.NewConsumer(cfg.StudyEventTopic, cfg.KafkaGroupID)
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	go func() {
		err := consumer.Consume(consumerCtx, func(ctx context.Context, event models.Event) error {
			logger.Log.WithField("event_type", event.Type).Debug("study mutation received")
			reportService.Invalidate(ctx)
			return nil
		})
		if err != nil && consumerCtx.Err() == nil {
			logger.Log.WithError(err).Error("mutation consumer stopped")
		}
	}()

	router := mux.NewRouter()
	router.Use(middleware.Recovery, middleware.Logging, middleware.CORS)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if _, err := database.GetPostgres(); err != nil {
			http.Error(w, `{"status":"not ready"}`, http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	analysis := api.NewRoute().Subrouter()
	analysis.Use(middleware.RequireRole(identityService, identity.OpViewAnalysis))
	report.NewHandler(reportService).Register(analysis)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ReportServicePort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("report service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start report service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down report service...")
	stopConsumer()
	consumer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("report service forced to shutdown")
	}
	logger.Log.Info("report service stopped")
}
