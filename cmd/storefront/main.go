package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"storefront-service/internal/api"
	"storefront-service/internal/cart"
	"storefront-service/internal/catalog"
	"storefront-service/internal/config"
	"storefront-service/internal/logging"
	"storefront-service/internal/store"
)

const appName = "storefront-service"

func main() {
	// A missing .env is fine; the environment may already be set.
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	log := logger.WithField("service", appName)
	if envErr != nil {
		log.Debug("no .env file loaded, relying on process environment")
	}
	log.WithFields(logrus.Fields{
		"app_env":         cfg.AppEnv,
		"storage":         cfg.Storage.Backend,
		"session_backend": cfg.Cart.SessionBackend,
	}).Info("starting service")

	// --- Product Store ---
	products, closers, checks, err := setupProductStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize product store")
	}

	// --- Cart Sessions ---
	sessions, sessionCloser, sessionCheck, err := setupSessions(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize cart sessions")
	}
	if sessionCloser != nil {
		closers = append(closers, sessionCloser)
	}
	if sessionCheck != nil {
		checks = append(checks, sessionCheck)
	}

	catalogService := catalog.NewService(products, log)
	carts := cart.NewManager(sessions, products, cart.Options{
		TaxRate:     cfg.Cart.TaxRate,
		Currency:    cfg.Cart.CurrencyUnit,
		Concurrency: cfg.Cart.RevalidateConcurrency,
	}, log)

	// --- Setup & Start HTTP Server ---
	httpAPIHandler := api.NewHTTPHandler(catalogService, carts, log, api.WithReadinessCheck(readiness(checks)))
	httpServer := &http.Server{
		Addr:         ":" + cfg.HttpServer.Port,
		Handler:      httpAPIHandler.Routes(),
		ReadTimeout:  cfg.HttpServer.TimeoutRead,
		WriteTimeout: cfg.HttpServer.TimeoutWrite,
		IdleTimeout:  cfg.HttpServer.TimeoutIdle,
	}

	go func() {
		log.WithField("port", cfg.HttpServer.Port).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server ListenAndServe error")
		}
		log.Info("HTTP server has stopped")
	}()

	// --- Setup & Start gRPC Server ---
	grpcServer := setupGRPCServer(cfg, log, api.NewGRPCHandler(carts, products, log))
	grpcListener, err := net.Listen("tcp", ":"+cfg.GrpcServer.Port)
	if err != nil {
		log.WithError(err).WithField("port", cfg.GrpcServer.Port).Fatal("failed to listen for gRPC")
	}

	go func() {
		log.WithField("port", cfg.GrpcServer.Port).Info("gRPC server listening")
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.WithError(err).Fatal("gRPC server Serve error")
		}
		log.Info("gRPC server has stopped")
	}()

	// --- Graceful Shutdown ---
	shutdownComplete := make(chan struct{})
	go waitForShutdown(log, cfg.HttpServer.ShutdownTimeout, httpServer, grpcServer, closers, shutdownComplete)

	<-shutdownComplete
	log.Info("service shutdown sequence finished")
}

type healthCheck func(ctx context.Context) error

func readiness(checks []healthCheck) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func setupProductStore(cfg *config.Config, log logrus.FieldLogger) (store.ProductStorer, []io.Closer, []healthCheck, error) {
	if cfg.Storage.Backend != config.BackendPostgres {
		log.Info("using in-memory product store")
		return store.NewMemoryStore(), nil, nil, nil
	}

	db, err := sql.Open("postgres", cfg.Postgres.DSN())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("ping database: %w", err)
	}

	log.WithField("host", cfg.Postgres.Host).Info("database connection established")
	pg := store.NewPostgresStore(db)
	return pg, []io.Closer{pg}, []healthCheck{pg.Ping}, nil
}

func setupSessions(cfg *config.Config, log logrus.FieldLogger) (cart.SessionStore, io.Closer, healthCheck, error) {
	if cfg.Cart.SessionBackend != config.BackendRedis {
		log.Info("using in-memory cart sessions")
		return cart.NewMemorySessions(), nil, nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	log.WithField("addr", cfg.Redis.Addr).Info("redis connection established")
	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	return cart.NewRedisSessions(client, cfg.Cart.SessionTTL), client, ping, nil
}

func setupGRPCServer(cfg *config.Config, log logrus.FieldLogger, handler *api.GRPCHandler) *grpc.Server {
	s := grpc.NewServer(grpc.UnaryInterceptor(api.UnaryLoggingInterceptor(log)))

	api.RegisterCartServiceServer(s, handler)
	log.Info("CartService gRPC service registered")

	healthServer := health.NewServer()
	healthServer.SetServingStatus(api.CartServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(s, healthServer)

	if cfg.GrpcServer.Reflection {
		reflection.Register(s)
		log.Info("gRPC reflection service registered")
	}
	return s
}

func waitForShutdown(
	log logrus.FieldLogger,
	timeout time.Duration,
	httpServer *http.Server,
	grpcServer *grpc.Server,
	closers []io.Closer,
	shutdownComplete chan struct{},
) {
	defer close(shutdownComplete)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	receivedSignal := <-sigChan
	log.WithField("signal", receivedSignal.String()).Info("starting graceful shutdown")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
	defer cancelShutdown()

	stoppedGrpc := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedGrpc)
	}()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server graceful shutdown failed")
	} else {
		log.Info("HTTP server gracefully shut down")
	}

	select {
	case <-stoppedGrpc:
		log.Info("gRPC server gracefully shut down")
	case <-shutdownCtx.Done():
		log.WithError(shutdownCtx.Err()).Warn("gRPC server graceful shutdown timed out, forcing stop")
		grpcServer.Stop()
	}

	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.WithError(err).Warn("error closing resource")
		}
	}
	log.Info("graceful shutdown sequence completed")
}
