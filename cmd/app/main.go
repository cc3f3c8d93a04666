package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	nats "github.com/nats-io/nats.go"

	"QRKot/internal/config"
	"QRKot/internal/repository"
	"QRKot/internal/service"
	externalHttp "QRKot/internal/transport/http"
	"QRKot/pkg/cache"
	"QRKot/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.AppEnv).With().Str("service", "api").Logger()

	// подключаем Postgres
	db, err := sql.Open("postgres", cfg.PostgresDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Postgres")
	}
	defer func() { _ = db.Close() }()
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping Postgres")
	}

	// Применяем миграции Postgres с помощью golang-migrate
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create migrate driver")
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationsPath, "postgres", driver)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create migrate instance")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	cacheClient := cache.NewRedisClient(&redis.Options{Addr: cfg.RedisAddr}, cfg.RedisTTL)

	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	publisher := logger.NewClient(nc, cfg.NATSSubject)
	log.Info().Str("subject", publisher.Subject()).Msg("publishing investment events to NATS")

	store := repository.NewStore(db, cfg.DBTxRetries)
	projects := service.NewProjectService(store, cacheClient, publisher, log)
	donations := service.NewDonationService(store, cacheClient, publisher, log)

	h := externalHttp.NewHandler(projects, donations, externalHttp.NewAuthenticator(cfg.JWTSecret), log)
	h.AddReadinessCheck("postgres", db.PingContext)
	h.AddReadinessCheck("redis", cacheClient.Ping)
	h.AddReadinessCheck("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return fmt.Errorf("nats status: %s", nc.Status())
		}
		return nil
	})

	r := mux.NewRouter()
	r.Use(externalHttp.RequestID, externalHttp.LoggingMiddleware(log))
	h.RegisterRoutes(r)

	srvHttp := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting server")
		if err := srvHttp.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// ожидаем сигнал для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srvHttp.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	if err := cacheClient.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close Redis client")
	}
	// дренируем, чтобы последние события ушли в NATS
	if err := nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("failed to drain NATS connection")
	}
	log.Info().Msg("server exited properly")
}
