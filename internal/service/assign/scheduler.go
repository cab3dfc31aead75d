package assign

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

const (
	defaultAssignInterval = 2 * time.Minute
	defaultAssignBatch    = 100
	// defaultMaxActive — потолок одновременных доставок на курьера.
	defaultMaxActive = 10
)

var (
	assignRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retail_shipper_assign_runs_total",
		Help: "Total number of shipper assignment runs grouped by result.",
	}, []string{"result"})
	assignAssignedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retail_shipper_assign_assigned_total",
		Help: "Total number of shipments assigned to shippers.",
	})
	assignUnassignedLast = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "retail_shipper_assign_unassigned_last",
		Help: "Number of shipments left unassigned after the last run.",
	})
)

// Options задает параметры планировщика назначения курьеров.
type Options struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	MaxActive int32
}

// Option настраивает Scheduler.
type Option func(*Options)

// WithLogger задает logger для планировщика.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithInterval задает интервал между проходами планировщика.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithBatchSize задает число pending-доставок на один проход.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// WithMaxActive задает потолок активных доставок на курьера.
func WithMaxActive(maxActive int32) Option {
	return func(opts *Options) {
		opts.MaxActive = maxActive
	}
}

// Scheduler периодически раздаёт pending-доставки наименее загруженным
// online-курьерам. Повторный тик при ещё работающем проходе пропускается.
type Scheduler struct {
	shipments domain.ShipmentRepository
	shippers  domain.ShipperRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	maxActive int32

	running atomic.Bool
}

// NewScheduler создает планировщик назначения курьеров.
func NewScheduler(shipments domain.ShipmentRepository, shippers domain.ShipperRepository, options ...Option) *Scheduler {
	opts := Options{
		Interval:  defaultAssignInterval,
		BatchSize: defaultAssignBatch,
		MaxActive: defaultMaxActive,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "shipper-assign")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultAssignInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultAssignBatch
	}
	if opts.MaxActive <= 0 {
		opts.MaxActive = defaultMaxActive
	}

	return &Scheduler{
		shipments: shipments,
		shippers:  shippers,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		maxActive: opts.MaxActive,
	}
}

// Run запускает периодическое назначение до отмены ctx.
func (s *Scheduler) Run(ctx context.Context) {
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

func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("assignment run still in progress, tick skipped")
		return
	}
	defer s.running.Store(false)

	assigned, unassigned, err := s.AssignOnce(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		assignRunsTotal.WithLabelValues("error").Inc()
		s.logger.WithError(err).Warn("shipper assignment run failed")
		return
	}

	assignRunsTotal.WithLabelValues("ok").Inc()
	assignUnassignedLast.Set(float64(unassigned))
	if assigned > 0 {
		s.logger.WithFields(log.Fields{
			"assigned":   assigned,
			"unassigned": unassigned,
		}).Info("shipper assignment completed")
	}
}

// AssignOnce выполняет один проход: жадно отдаёт каждую pending-доставку
// наименее загруженному online-курьеру ниже потолка. Равная загрузка
// разрешается в пользу меньшего id, чтобы проход был детерминированным.
func (s *Scheduler) AssignOnce(ctx context.Context) (assigned, unassigned int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	pending, err := s.shipments.ListByStatus(domain.ShipmentPending, s.batchSize)
	if err != nil {
		return 0, 0, err
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}

	shippers, err := s.shippers.ListOnline()
	if err != nil {
		return 0, 0, err
	}
	if len(shippers) == 0 {
		return 0, len(pending), nil
	}

	loads := make(map[string]int32, len(shippers))
	for _, sh := range shippers {
		loads[sh.ID] = sh.ActiveCount
	}

	for _, shipment := range pending {
		if err := ctx.Err(); err != nil {
			return assigned, unassigned, err
		}

		shipperID, ok := s.pickLeastLoaded(shippers, loads)
		if !ok {
			unassigned++
			continue
		}

		claimed, err := s.shipments.Claim(shipment.ID, shipperID, time.Now().UTC())
		if err != nil {
			return assigned, unassigned, err
		}
		if !claimed {
			// Доставку уже забрали вручную между чтением и claim.
			continue
		}

		loads[shipperID]++
		assigned++
		assignAssignedTotal.Inc()
		s.logger.WithFields(log.Fields{
			"shipment_number": shipment.ShipmentNumber,
			"order_number":    shipment.OrderNumber,
			"shipper_id":      shipperID,
		}).Info("shipment assigned")

		if loads[shipperID] >= s.maxActive {
			s.markLoaded(shipperID)
		}
	}

	return assigned, unassigned, nil
}

// markLoaded переводит курьера в shipping по достижении потолка активных
// доставок. Статус — витрина для выборки online-курьеров, защита от
// перегрузки остаётся за условным claim.
func (s *Scheduler) markLoaded(shipperID string) {
	if err := s.shippers.SetStatus(shipperID, domain.ShipperShipping); err != nil {
		s.logger.WithError(err).WithField("shipper_id", shipperID).Warn("failed to mark shipper as loaded")
		return
	}
	s.logger.WithField("shipper_id", shipperID).Info("shipper reached active limit, marked shipping")
}

// Assign назначает конкретную доставку конкретному курьеру (ручной путь
// оператора). Конкурирует с фоновым проходом через то же условное
// обновление: проигравший получает ErrShipmentAlreadyClaimed.
func (s *Scheduler) Assign(ctx context.Context, shipmentNumber, shipperID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	shipment, err := s.shipments.GetByNumber(shipmentNumber)
	if err != nil {
		return err
	}
	if shipment.Status != domain.ShipmentPending {
		return domain.ErrShipmentAlreadyClaimed
	}

	shipper, err := s.shippers.Get(shipperID)
	if err != nil {
		return err
	}
	if shipper.Status != domain.ShipperOnline {
		return domain.ErrShipperUnavailable
	}
	if shipper.ActiveCount >= s.maxActive {
		return domain.ErrShipperUnavailable
	}

	claimed, err := s.shipments.Claim(shipment.ID, shipperID, time.Now().UTC())
	if err != nil {
		return err
	}
	if !claimed {
		return domain.ErrShipmentAlreadyClaimed
	}

	if shipper.ActiveCount+1 >= s.maxActive {
		s.markLoaded(shipperID)
	}

	s.logger.WithFields(log.Fields{
		"shipment_number": shipmentNumber,
		"shipper_id":      shipperID,
	}).Info("shipment assigned manually")
	return nil
}

func (s *Scheduler) pickLeastLoaded(shippers []domain.Shipper, loads map[string]int32) (string, bool) {
	bestID := ""
	var bestLoad int32
	for _, sh := range shippers {
		load := loads[sh.ID]
		if load >= s.maxActive {
			continue
		}
		if bestID == "" || load < bestLoad || (load == bestLoad && sh.ID < bestID) {
			bestID = sh.ID
			bestLoad = load
		}
	}
	return bestID, bestID != ""
}
