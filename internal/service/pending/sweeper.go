package pending

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

const (
	defaultSweepInterval = 5 * time.Minute
	defaultSweepBatch    = 200
)

var (
	pendingSweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retail_pending_sweep_runs_total",
		Help: "Total number of pending action sweep runs grouped by result.",
	}, []string{"result"})
	pendingResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retail_pending_resolved_total",
		Help: "Total number of pending actions resolved grouped by service.",
	}, []string{"service"})
	pendingBacklogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "retail_pending_backlog_size",
		Help: "Number of pending actions waiting for retry.",
	})
	pendingBacklogOldestAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "retail_pending_backlog_oldest_age_seconds",
		Help: "Age in seconds of the oldest pending action.",
	})
)

// Targets собирает целевые сервисы отложенных действий. Catalog опционален.
type Targets struct {
	Stock      domain.StockService
	Promotions domain.PromotionService
	Shipments  domain.ShipmentService
	Carts      domain.CartService
	Catalog    domain.DeleteTarget
}

// SweeperOptions задает параметры sweeper-а отложенных действий.
type SweeperOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
}

// SweeperOption настраивает Sweeper.
type SweeperOption func(*SweeperOptions)

// WithLogger задает logger для sweeper-а.
func WithLogger(logger *log.Entry) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Logger = logger
	}
}

// WithInterval задает интервал между проходами.
func WithInterval(interval time.Duration) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize задает число действий на один проход.
func WithBatchSize(batchSize int) SweeperOption {
	return func(opts *SweeperOptions) {
		opts.BatchSize = batchSize
	}
}

// Sweeper периодически повторяет отложенные действия. Действие удаляется
// только после подтверждённого успеха; неудача фиксируется отметкой попытки
// и остаётся в очереди без потолка повторов.
type Sweeper struct {
	actions   domain.PendingActionRepository
	targets   Targets
	logger    *log.Entry
	interval  time.Duration
	batchSize int

	running atomic.Bool
}

// NewSweeper создает sweeper отложенных действий.
func NewSweeper(actions domain.PendingActionRepository, targets Targets, options ...SweeperOption) *Sweeper {
	opts := SweeperOptions{
		Interval:  defaultSweepInterval,
		BatchSize: defaultSweepBatch,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "pending-sweeper")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatch
	}

	return &Sweeper{
		actions:   actions,
		targets:   targets,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодические проходы до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("sweep still in progress, tick skipped")
		return
	}
	defer s.running.Store(false)

	resolved, err := s.SweepOnce(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		pendingSweepRunsTotal.WithLabelValues("error").Inc()
		s.logger.WithError(err).Warn("pending sweep run failed")
		return
	}

	pendingSweepRunsTotal.WithLabelValues("ok").Inc()
	if resolved > 0 {
		s.logger.WithField("resolved", resolved).Info("pending sweep completed")
	}
	s.refreshBacklogMetrics()
}

// SweepOnce выполняет один проход по очереди, старые действия первыми.
// Ошибка отдельного действия не прерывает проход.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	actions, err := s.actions.ListPending(s.batchSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}

		if err := s.execute(ctx, action); err != nil {
			if markErr := s.actions.MarkAttempt(action.ID, time.Now().UTC()); markErr != nil {
				s.logger.WithError(markErr).WithField("action_id", action.ID).Warn("failed to mark attempt")
			}
			s.logger.WithError(err).WithFields(log.Fields{
				"action_id": action.ID,
				"service":   action.Service,
				"kind":      action.Kind,
				"attempts":  action.Attempts + 1,
			}).Warn("pending action retry failed")
			continue
		}

		if err := s.actions.Delete(action.ID); err != nil {
			// Удаление не прошло: действие повторится ещё раз, целевые
			// операции идемпотентны, это безопасно.
			s.logger.WithError(err).WithField("action_id", action.ID).Warn("failed to delete resolved action")
			continue
		}
		resolved++
		pendingResolvedTotal.WithLabelValues(string(action.Service)).Inc()
	}

	return resolved, nil
}

// execute диспетчеризует действие в целевой сервис.
func (s *Sweeper) execute(ctx context.Context, action domain.PendingAction) error {
	switch action.Service {
	case domain.PendingServiceStock:
		if s.targets.Stock == nil {
			return fmt.Errorf("stock target is not configured")
		}
		return s.targets.Stock.Release(ctx, action.Entity.OrderNumber, action.Entity.VariantID, action.Reason)
	case domain.PendingServicePromotion:
		if s.targets.Promotions == nil {
			return fmt.Errorf("promotion target is not configured")
		}
		return s.targets.Promotions.RevokeUsage(ctx, action.Entity.PromotionID, action.Entity.OrderID)
	case domain.PendingServiceShipment:
		if s.targets.Shipments == nil {
			return fmt.Errorf("shipment target is not configured")
		}
		return s.targets.Shipments.Cancel(ctx, action.Entity.OrderNumber, action.Reason)
	case domain.PendingServiceCart:
		if s.targets.Carts == nil {
			return fmt.Errorf("cart target is not configured")
		}
		if action.Entity.VariantID != "" {
			return s.targets.Carts.ClearItem(ctx, action.Entity.CustomerID, action.Entity.VariantID)
		}
		return s.targets.Carts.ClearCart(ctx, action.Entity.CustomerID)
	case domain.PendingServiceCatalog:
		if s.targets.Catalog == nil {
			return fmt.Errorf("catalog target is not configured")
		}
		return s.targets.Catalog.Delete(ctx, action.Entity.EntityID)
	default:
		return domain.ErrPendingServiceUnknown
	}
}

func (s *Sweeper) refreshBacklogMetrics() {
	stats, err := s.actions.Stats()
	if err != nil {
		s.logger.WithError(err).Debug("failed to read pending backlog stats")
		return
	}
	pendingBacklogSize.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		pendingBacklogOldestAge.Set(0)
		return
	}
	pendingBacklogOldestAge.Set(time.Since(stats.OldestPendingAt).Seconds())
}
