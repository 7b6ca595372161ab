package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/Cheertaboi/meal-reservation-service/internal/api"
	"github.com/Cheertaboi/meal-reservation-service/internal/cache"
	"github.com/Cheertaboi/meal-reservation-service/internal/config"
	"github.com/Cheertaboi/meal-reservation-service/internal/deadline"
	"github.com/Cheertaboi/meal-reservation-service/internal/events"
	"github.com/Cheertaboi/meal-reservation-service/internal/repository"
	"github.com/Cheertaboi/meal-reservation-service/internal/service"
	"github.com/Cheertaboi/meal-reservation-service/internal/store/memory"
	"github.com/Cheertaboi/meal-reservation-service/pkg/db"
	"github.com/Cheertaboi/meal-reservation-service/pkg/logger"
	"github.com/Cheertaboi/meal-reservation-service/pkg/observability"
)

const serviceVersion = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("meal-reservation-service", "info").Fatal("load config", zap.Error(err))
	}

	log := logger.New(cfg.Tracing.ServiceName, cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Endpoint:       cfg.Tracing.Endpoint,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: serviceVersion,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		log.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Error("tracing shutdown", zap.Error(err))
		}
	}()

	store, directory, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("open store", zap.Error(err), zap.String("backend", cfg.Store))
	}
	defer closeStore()

	var publisher service.Publisher = events.Discard{}
	if cfg.Kafka.Brokers != "" {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kp.Close()
		publisher = kp
		log.Info("publishing reservation events",
			zap.String("broker", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	policy := deadline.NewPolicy(cfg.Location())
	allocator := service.NewAllocator(service.AllocatorDeps{
		Store:     store,
		Policy:    policy,
		Directory: cache.NewCenterCache(directory, cfg.App.CenterCacheTTL),
		Publisher: publisher,
		Logger:    log.Named("allocator"),
		Tracer:    otel.Tracer("meal-reservation-service"),
		Timeout:   cfg.App.OpTimeout,
		PageSize:  cfg.App.ListPageSize,
	})
	catalog := service.NewCatalog(store, policy, log.Named("catalog")).WithTimeout(cfg.App.OpTimeout)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.NewRouter(allocator, catalog, log),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	// graceful shutdown
	idleConnsClosed := make(chan struct{})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server Shutdown", zap.Error(err))
		}
		close(idleConnsClosed)
	}()

	log.Info("starting reservation-service",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("store", cfg.Store),
		zap.String("timezone", cfg.App.Timezone),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("listen", zap.Error(err))
	}

	<-idleConnsClosed
	log.Info("server stopped")
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (service.Store, service.Directory, func(), error) {
	if cfg.Store == config.BackendMemory {
		log.Warn("using in-memory store; data is lost on restart")
		s, err := memory.New()
		if err != nil {
			return nil, nil, nil, err
		}
		return s, memory.NewDirectory(), func() {}, nil
	}

	conn, err := db.NewPostgresConnection(ctx, cfg.DB)
	if err != nil {
		return nil, nil, nil, err
	}
	closeConn := func() { closeDB(conn, log) }
	if err := db.Migrate(ctx, conn); err != nil {
		closeConn()
		return nil, nil, nil, err
	}
	return repository.NewStore(conn), repository.NewCenterRepo(conn), closeConn, nil
}

func closeDB(conn *sql.DB, log *zap.Logger) {
	if err := conn.Close(); err != nil {
		log.Error("close db", zap.Error(err))
	}
}
