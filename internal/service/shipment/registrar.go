package shipment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
)

// Registrar создаёт и отменяет доставки. Создание идемпотентно по номеру
// заказа: проигравший гонку вставки возвращает уже существующую запись.
type Registrar struct {
	shipments domain.ShipmentRepository
	logger    *log.Entry
	now       func() time.Time
}

// NewRegistrar создаёт рабочий экземпляр регистратора.
func NewRegistrar(shipments domain.ShipmentRepository, logger *log.Entry) *Registrar {
	if logger == nil {
		logger = log.New().WithField("component", "shipment")
	}
	return &Registrar{shipments: shipments, logger: logger, now: time.Now}
}

// WithClock подменяет источник времени (для тестов нумерации).
func (r *Registrar) WithClock(now func() time.Time) *Registrar {
	r.now = now
	return r
}

// Create регистрирует доставку из снимка заказа.
func (r *Registrar) Create(ctx context.Context, snapshot domain.OrderSnapshot) (domain.Shipment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Shipment{}, err
	}
	if snapshot.OrderNumber == "" {
		return domain.Shipment{}, domain.ErrOrderNumberRequired
	}

	if existing, err := r.shipments.GetByOrder(snapshot.OrderNumber); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrShipmentNotFound) {
		return domain.Shipment{}, err
	}

	number, err := r.nextNumber()
	if err != nil {
		return domain.Shipment{}, err
	}

	s := domain.Shipment{
		ID:             uuid.NewString(),
		ShipmentNumber: number,
		OrderNumber:    snapshot.OrderNumber,
		CustomerID:     snapshot.CustomerID,
		Status:         domain.ShipmentPending,
		Items:          append([]domain.ShipmentItem(nil), snapshot.Items...),
		CreatedAt:      r.now().UTC(),
	}
	if err := r.shipments.Create(s); err != nil {
		// Гонка двух создателей: победила чужая вставка, берём её запись.
		if errors.Is(err, domain.ErrShipmentExists) {
			return r.shipments.GetByOrder(snapshot.OrderNumber)
		}
		return domain.Shipment{}, err
	}

	r.logger.WithFields(log.Fields{
		"order_number":    s.OrderNumber,
		"shipment_number": s.ShipmentNumber,
	}).Info("shipment registered")
	return s, nil
}

// Cancel отменяет доставку заказа. Уже отменённая — успех; ушедшая курьеру
// дальше assigned — ErrShipmentNotCancellable.
func (r *Registrar) Cancel(ctx context.Context, orderNumber, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s, err := r.shipments.GetByOrder(orderNumber)
	if err != nil {
		// Доставки не было: компенсация шага, который не успел выполниться.
		if errors.Is(err, domain.ErrShipmentNotFound) {
			return nil
		}
		return err
	}

	if s.Status == domain.ShipmentCanceled {
		return nil
	}
	if !s.Status.Cancellable() {
		return domain.ErrShipmentNotCancellable
	}

	ok, err := r.shipments.UpdateStatus(s.ID, s.Status, domain.ShipmentCanceled, reason)
	if err != nil {
		return err
	}
	if !ok {
		// Статус сменился между чтением и обновлением, перечитываем.
		return r.Cancel(ctx, orderNumber, reason)
	}

	r.logger.WithFields(log.Fields{
		"order_number":    orderNumber,
		"shipment_number": s.ShipmentNumber,
		"reason":          reason,
	}).Info("shipment canceled")
	return nil
}

// nextNumber выдаёт человекочитаемый номер доставки: SHP-YYYYMMDD-<счётчик дня>.
func (r *Registrar) nextNumber() (string, error) {
	now := r.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	count, err := r.shipments.CountCreatedBetween(dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SHP-%s-%d", now.Format("20060102"), count+1), nil
}

var _ domain.ShipmentService = (*Registrar)(nil)
