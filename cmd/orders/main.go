package main

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/fosten-shop/fosten-orders-service/internal/clients"
	"github.com/fosten-shop/fosten-orders-service/internal/config"
	"github.com/fosten-shop/fosten-orders-service/internal/events"
	"github.com/fosten-shop/fosten-orders-service/internal/handlers"
	"github.com/fosten-shop/fosten-orders-service/internal/interfaces"
	"github.com/fosten-shop/fosten-orders-service/internal/logging"
	"github.com/fosten-shop/fosten-orders-service/internal/metrics"
	"github.com/fosten-shop/fosten-orders-service/internal/repository"
	"github.com/fosten-shop/fosten-orders-service/internal/server"
	"github.com/fosten-shop/fosten-orders-service/internal/service"

	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New("orders-service", logging.Config{
		Level:    cfg.Log.Level,
		Encoding: cfg.Log.Encoding,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting orders-service", logging.Fields{"port": cfg.Server.Port})

	if cfg.Paystack.SecretKey == "" {
		logger.Warn("PAYSTACK_SECRET_KEY is not set; card and momo payments will fail")
	}

	db, err := initDatabase(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", logging.Fields{"error": err.Error()})
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(db, logger); err != nil {
			logger.Fatal("Failed to run migrations", logging.Fields{"error": err.Error()})
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	orderRepo := repository.NewPostgresOrderRepository(db, logger)

	checks := map[string]handlers.ReadinessCheck{
		"postgres": db.PingContext,
	}

	var orderCache interfaces.OrderCache
	if cfg.Features.EnableOrderCaching {
		redisClient := repository.NewRedisClient(cfg.Redis)
		defer redisClient.Close()
		redisCache := repository.NewRedisOrderCache(redisClient, cfg.Redis.TTL, logger)
		orderCache = redisCache
		checks["redis"] = redisCache.Ping
	}

	var eventPublisher interfaces.OrderEventPublisher
	if cfg.Features.EnableOrderEvents {
		kafkaPublisher := events.NewKafkaPublisher(cfg.Kafka, logger)
		defer kafkaPublisher.Close()
		eventPublisher = kafkaPublisher
	}

	gateway := clients.NewPaystackClient(cfg.Paystack, logger, m)

	orderService := service.NewOrderService(orderRepo, orderCache, gateway, eventPublisher, m, cfg, logger)
	paymentService := service.NewPaymentService(orderService, orderRepo, gateway, m, cfg, logger)

	h := handlers.NewHandlers(orderService, paymentService, checks, reg, cfg, logger)
	srv := server.New(h, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Features.EnableReconciliation && cfg.Reconciliation.Interval > 0 {
		reconciler := service.NewReconciler(paymentService, orderRepo, cfg.Reconciliation, m, logger)
		g.Go(func() error {
			return reconciler.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Server exited with error", logging.Fields{"error": err.Error()})
		return
	}

	logger.Info("Server exited")
}

func initDatabase(cfg *config.Config, logger *logging.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Database connected", logging.Fields{
		"host": cfg.Database.Host,
		"name": cfg.Database.Name,
	})

	return db, nil
}
