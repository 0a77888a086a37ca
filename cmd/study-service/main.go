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

	"github.com/dentage-research/platform/pkg/blinding"
	"github.com/dentage-research/platform/pkg/common/config"
	"github.com/dentage-research/platform/pkg/common/database"
	"github.com/dentage-research/platform/pkg/common/kafka"
	"github.com/dentage-research/platform/pkg/common/logger"
	"github.com/dentage-research/platform/pkg/estimation"
	"github.com/dentage-research/platform/pkg/identity"
	"github.com/dentage-research/platform/pkg/methods"
	"github.com/dentage-research/platform/pkg/middleware"
	"github.com/dentage-research/platform/pkg/observability/metrics"
	"github.com/dentage-research/platform/pkg/opgstore"
	"github.com/dentage-research/platform/pkg/registry"
	"github.com/dentage-research/platform/pkg/tabular"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	registryRepo := registry.NewRepository(db)
	if err := registryRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate patients table")
	}
	estimationRepo := estimation.NewRepository(db)
	if err := estimationRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate estimation tables")
	}
	identityRepo := identity.NewRepository(db)
	if err := identityRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate users table")
	}

	producer := kafka.NewProducer(cfg.StudyEventTopic)
	defer producer.Close()

	var store opgstore.Store = opgstore.Disabled{}
	if cfg.StorageBaseURL != "" {
		store = opgstore.NewSupabaseStore(cfg)
	} else {
		logger.Log.Warn("no object storage configured, radiograph uploads disabled")
	}

	tokens := identity.NewRedisTokenStore(database.GetRedis(), cfg.SessionTTL)
	identityService := identity.NewService(identityRepo, tokens, cfg.MaxLoginAttempts, cfg.LockoutWindow)
	if err := identityService.EnsureDefaultUsers(context.Background(),
		os.Getenv("SUPERVISOR_SEED_PASSWORD"), os.Getenv("PI_SEED_PASSWORD")); err != nil {
		logger.Log.WithError(err).Fatal("failed to seed default users")
	}

	registryService := registry.NewService(registryRepo, store, estimationRepo, producer)
	blindingRepo := blinding.NewRepository(db)
	blindingService := blinding.NewService(blindingRepo, estimationRepo, producer, cfg)
	estimationService := estimation.NewService(estimationRepo, producer, cfg.Resubmission)

	catalog, err := methods.Load(os.Getenv("METHOD_CATALOG_PATH"))
	if err != nil {
		logger.Log.WithError(err).Warn("failed to load method catalog, using built-in")
		catalog = methods.DefaultCatalog()
	}

	tabularService := tabular.NewService(registryRepo, producer, opgstore.FetchImage)

	router := mux.NewRouter()
	router.Use(middleware.Recovery, middleware.Logging, middleware.CORS)
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))
	router.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

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
	identity.NewHandler(identityService).Register(api)

	blindingHandler := blinding.NewHandler(blindingService)

	supervisor := api.NewRoute().Subrouter()
	supervisor.Use(middleware.RequireRole(identityService, identity.OpManagePatients))
	registry.NewHandler(registryService).Register(supervisor)
	blindingHandler.RegisterAdmin(supervisor)
	tabular.NewHandler(tabularService).Register(supervisor)

	blinded := api.NewRoute().Subrouter()
	blinded.Use(middleware.RequireRole(identityService, identity.OpSubmitEstimates))
	blindingHandler.RegisterBlinded(blinded)
	estimation.NewHandler(estimationService).Register(blinded)
	methods.NewHandler(catalog).Register(blinded)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.StudyServicePort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("study service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start study service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down study service...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("study service forced to shutdown")
	}
	logger.Log.Info("study service stopped")
}
