package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/retail-core/internal/health"
	"github.com/vladislavdragonenkov/retail-core/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/retail-core/internal/service/assign"
	"github.com/vladislavdragonenkov/retail-core/internal/service/httpapi"
	"github.com/vladislavdragonenkov/retail-core/internal/service/outbox"
	"github.com/vladislavdragonenkov/retail-core/internal/service/pending"
	"github.com/vladislavdragonenkov/retail-core/internal/version"
)

// Run поднимает HTTP API, сервер метрик и фоновые воркеры и блокируется
// до отмены контекста.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	orchestrator := createOrchestrator(deps, kafkaProducer)

	scheduler := assign.NewScheduler(
		deps.Shipments,
		deps.Shippers,
		assign.WithLogger(logger.WithField("component", "assign")),
		assign.WithInterval(cfg.AssignInterval),
		assign.WithBatchSize(cfg.AssignBatchSize),
		assign.WithMaxActive(cfg.AssignMaxActive),
	)

	sweeper := pending.NewSweeper(
		deps.Actions,
		pending.Targets{
			Stock:      deps.StockLedger,
			Promotions: deps.Promotions,
			Shipments:  deps.Registrar,
			Carts:      deps.Carts,
		},
		pending.WithLogger(logger.WithField("component", "pending-sweeper")),
		pending.WithInterval(cfg.PendingSweepInterval),
		pending.WithBatchSize(cfg.PendingBatchSize),
	)

	var outboxWorker *outbox.Worker
	if kafkaProducer != nil {
		publisher := kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicOrderEvents)
		dlq := kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicDeadLetterQueue)
		outboxWorker = outbox.NewWorker(
			deps.Outbox,
			publisher,
			outbox.WithLogger(logger.WithField("component", "outbox")),
			outbox.WithDLQPublisher(dlq),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
	} else {
		logger.Info("kafka not configured, outbox worker disabled")
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	invalidator, _ := initStatusInvalidator(
		cfg.KafkaBrokers,
		deps.StatusCache,
		kafkaProducer,
		logger.WithField("component", "status-invalidator"),
	)
	if invalidator != nil {
		if err := invalidator.Start(workerCtx); err != nil {
			logger.WithError(err).Warn("status invalidator failed to start")
		} else {
			defer func() {
				if err := invalidator.Stop(); err != nil {
					logger.WithError(err).Warn("status invalidator stopped with error")
				}
			}()
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scheduler.Run(workerCtx)
	}()
	go func() {
		defer wg.Done()
		sweeper.Run(workerCtx)
	}()
	if outboxWorker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outboxWorker.Run(workerCtx)
		}()
	}

	healthHandler := healthcheck.NewHandler(version.String())
	if deps.Store != nil {
		store := deps.Store
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.Ping(pingCtx)
		}))
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	apiHandler := httpapi.NewHandler(
		orchestrator,
		deps.Orders,
		deps.Shipments,
		scheduler,
		deps.StatusCache,
		logger.WithField("component", "http"),
	)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	apiHandler.Register(router)

	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервер")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		cancelWorkers()
		wg.Wait()
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		cancelWorkers()
		wg.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
