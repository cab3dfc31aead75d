package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
	"github.com/vladislavdragonenkov/retail-core/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/retail-core/internal/metrics"
	"github.com/vladislavdragonenkov/retail-core/internal/service/pending"
)

// PlaceOrderItem — позиция запроса на размещение с денормализованной ценой.
type PlaceOrderItem struct {
	VariantID string
	SKU       string
	Name      string
	Qty       int32
	UnitMinor int64
}

// PlaceOrderRequest описывает запрос на размещение заказа. OrderNumber
// опционален: заполненный номер означает повтор ранее начатого размещения.
type PlaceOrderRequest struct {
	OrderNumber   string
	CustomerID    string
	Currency      string
	PromotionCode string
	Items         []PlaceOrderItem
	CategoryIDs   []string
	BrandIDs      []string
}

// Orchestrator описывает управление сагой размещения заказа.
type Orchestrator interface {
	// PlaceOrder проводит заказ через все шаги размещения. Идемпотентен по
	// номеру заказа: повтор возвращает записанный исход либо дорабатывает
	// незавершённую сагу.
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (domain.Order, error)
	// CancelOrder отменяет подтверждённый заказ, пока доставка не ушла
	// курьеру, с компенсацией промокода и остатков.
	CancelOrder(ctx context.Context, orderNumber, reason string) error
}

// orchestrator реализует последовательность шагов:
// Reserve → Promote → Ship → ClearCart → Confirm.
type orchestrator struct {
	orders        domain.OrderRepository
	steps         domain.SagaStepRepository
	outbox        domain.OutboxRepository
	accounts      domain.AccountService
	stocks        domain.StockService
	promotions    domain.PromotionService
	shipments     domain.ShipmentService
	carts         domain.CartService
	queue         *pending.Queue
	logger        *log.Entry
	metrics       *metrics.SagaMetrics
	kafkaProducer *kafka.Producer // опциональный Kafka producer для событий шагов
	now           func() time.Time
}

// Dependencies собирает зависимости оркестратора.
type Dependencies struct {
	Orders        domain.OrderRepository
	Steps         domain.SagaStepRepository
	Outbox        domain.OutboxRepository
	Accounts      domain.AccountService
	Stocks        domain.StockService
	Promotions    domain.PromotionService
	Shipments     domain.ShipmentService
	Carts         domain.CartService
	Queue         *pending.Queue
	KafkaProducer *kafka.Producer
	Logger        *log.Entry
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора.
func NewOrchestrator(deps Dependencies) Orchestrator {
	return newOrchestrator(deps, metrics.NewSagaMetrics())
}

// NewOrchestratorWithoutMetrics создаёт оркестратор без метрик (для тестов).
func NewOrchestratorWithoutMetrics(deps Dependencies) Orchestrator {
	return newOrchestrator(deps, nil)
}

func newOrchestrator(deps Dependencies, m *metrics.SagaMetrics) *orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "saga")
	}
	return &orchestrator{
		orders:        deps.Orders,
		steps:         deps.Steps,
		outbox:        deps.Outbox,
		accounts:      deps.Accounts,
		stocks:        deps.Stocks,
		promotions:    deps.Promotions,
		shipments:     deps.Shipments,
		carts:         deps.Carts,
		queue:         deps.Queue,
		logger:        logger,
		metrics:       m,
		kafkaProducer: deps.KafkaProducer,
		now:           time.Now,
	}
}

// PlaceOrder проводит заказ через шаги размещения.
func (o *orchestrator) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (domain.Order, error) {
	start := o.now()
	if o.metrics != nil {
		o.metrics.RecordSagaStarted()
		o.metrics.RecordSagaInFlightStarted()
	}
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordSagaDuration(time.Since(start))
			o.metrics.RecordSagaInFlightFinished()
		}
	}()

	order, resumed, err := o.loadOrCreate(ctx, req)
	if err != nil {
		if o.metrics != nil && !domain.IsValidationFailure(err) {
			o.metrics.RecordSagaFailed()
		}
		return domain.Order{}, err
	}
	if resumed && order.Status.Terminal() {
		// Повтор завершённого размещения возвращает записанный исход.
		o.logger.WithFields(log.Fields{
			"order_number": order.OrderNumber,
			"status":       order.Status,
		}).Debug("order already processed, returning recorded outcome")
		if order.Status == domain.OrderStatusFailed {
			return order, o.recordedFailure(&order)
		}
		return order, nil
	}

	o.publishSagaEvent(kafka.EventTypeSagaStarted, order.OrderNumber, map[string]interface{}{
		"customer_id": order.CustomerID,
		"status":      string(order.Status),
		"resumed":     resumed,
	})

	if err := o.runSteps(ctx, &order, req); err != nil {
		o.compensate(ctx, &order, err)
		return order, err
	}

	o.logger.WithField("order_number", order.OrderNumber).Info("order placement completed")
	if o.metrics != nil {
		o.metrics.RecordSagaCompleted()
	}
	o.publishSagaEvent(kafka.EventTypeSagaCompleted, order.OrderNumber, map[string]interface{}{
		"customer_id": order.CustomerID,
		"total_minor": order.TotalMinor,
	})
	return order, nil
}

// loadOrCreate возвращает существующий заказ по номеру либо создаёт новый
// в статусе creating. Второе значение — признак повтора.
func (o *orchestrator) loadOrCreate(ctx context.Context, req PlaceOrderRequest) (domain.Order, bool, error) {
	if req.OrderNumber != "" {
		existing, err := o.orders.GetByNumber(req.OrderNumber)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, false, err
		}
	}

	if err := validateRequest(req); err != nil {
		return domain.Order{}, false, err
	}

	verified, err := o.accounts.IsVerified(ctx, req.CustomerID)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("%w: account check: %v", domain.ErrDownstreamUnavailable, err)
	}
	if !verified {
		return domain.Order{}, false, domain.ErrAccountNotVerified
	}

	number := req.OrderNumber
	if number == "" {
		number, err = o.nextNumber()
		if err != nil {
			return domain.Order{}, false, err
		}
	}

	now := o.now().UTC()
	order := domain.Order{
		ID:            uuid.NewString(),
		OrderNumber:   number,
		CustomerID:    req.CustomerID,
		Status:        domain.OrderStatusCreating,
		PaymentStatus: domain.PaymentStatusPending,
		Currency:      req.Currency,
		PromotionCode: req.PromotionCode,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, item := range req.Items {
		order.Items = append(order.Items, domain.OrderItem{
			VariantID:  item.VariantID,
			SKU:        item.SKU,
			Name:       item.Name,
			Qty:        item.Qty,
			UnitMinor:  item.UnitMinor,
			TotalMinor: item.UnitMinor * int64(item.Qty),
		})
		order.SubtotalMinor += item.UnitMinor * int64(item.Qty)
	}
	order.TotalMinor = order.SubtotalMinor

	if err := o.orders.Create(order); err != nil {
		// Гонка двух размещений с одним номером: победившая запись — истина.
		if errors.Is(err, domain.ErrOrderExists) {
			existing, getErr := o.orders.GetByNumber(number)
			if getErr != nil {
				return domain.Order{}, false, getErr
			}
			return existing, true, nil
		}
		return domain.Order{}, false, err
	}
	return order, false, nil
}

// runSteps выполняет шаги саги, пропуская уже записанные в журнале.
func (o *orchestrator) runSteps(ctx context.Context, order *domain.Order, req PlaceOrderRequest) error {
	if err := o.stepReserve(ctx, order); err != nil {
		return err
	}
	if err := o.stepPromote(ctx, order, req); err != nil {
		return err
	}
	if err := o.stepShip(ctx, order); err != nil {
		return err
	}
	o.stepClearCart(ctx, order)
	return o.stepConfirm(ctx, order)
}

func (o *orchestrator) stepReserve(ctx context.Context, order *domain.Order) error {
	done, err := o.stepDone(order.OrderNumber, domain.SagaStepReserve)
	if err != nil || done {
		return err
	}
	stepStart := o.now()

	if err := o.updateStatus(order, domain.OrderStatusReserving); err != nil {
		return err
	}
	for _, item := range order.Items {
		if _, err := o.stocks.Reserve(ctx, item.VariantID, item.Qty, order.OrderNumber); err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"order_number": order.OrderNumber,
				"variant_id":   item.VariantID,
			}).Warn("stock reserve failed")
			return err
		}
	}

	if err := o.recordStep(order.OrderNumber, domain.SagaStepReserve, ""); err != nil {
		return err
	}
	if o.metrics != nil {
		o.metrics.RecordStepDuration("reserve", time.Since(stepStart))
	}
	o.publishSagaEvent(kafka.EventTypeStepReserved, order.OrderNumber, map[string]interface{}{
		"items_count": len(order.Items),
	})
	return nil
}

func (o *orchestrator) stepPromote(ctx context.Context, order *domain.Order, req PlaceOrderRequest) error {
	done, err := o.stepDone(order.OrderNumber, domain.SagaStepPromote)
	if err != nil || done {
		return err
	}
	if order.PromotionCode == "" {
		// Без промокода шаг вырождается в запись маркера, чтобы повтор
		// саги не пытался провалидировать пустой код.
		return o.recordStep(order.OrderNumber, domain.SagaStepPromote, "")
	}
	stepStart := o.now()

	if err := o.updateStatus(order, domain.OrderStatusPromoting); err != nil {
		return err
	}

	validation, err := o.promotions.Validate(ctx, domain.PromotionEligibility{
		Code:        order.PromotionCode,
		CustomerID:  order.CustomerID,
		AmountMinor: order.SubtotalMinor,
		ProductIDs:  order.VariantIDs(),
		CategoryIDs: req.CategoryIDs,
		BrandIDs:    req.BrandIDs,
	})
	if err != nil {
		return fmt.Errorf("%w: promotion validate: %v", domain.ErrDownstreamUnavailable, err)
	}
	if !validation.Valid {
		return domain.NewPromotionInvalid(order.PromotionCode, validation.Reason)
	}

	if err := o.promotions.RecordUsage(ctx, validation.PromotionID, order.ID, order.CustomerID); err != nil {
		return err
	}

	order.DiscountMinor = validation.DiscountMinor
	order.TotalMinor = order.SubtotalMinor - validation.DiscountMinor
	if err := o.saveOrder(order); err != nil {
		return err
	}

	if err := o.recordStep(order.OrderNumber, domain.SagaStepPromote, validation.PromotionID); err != nil {
		return err
	}
	if o.metrics != nil {
		o.metrics.RecordStepDuration("promote", time.Since(stepStart))
	}
	o.publishSagaEvent(kafka.EventTypeStepPromoted, order.OrderNumber, map[string]interface{}{
		"promotion_id":   validation.PromotionID,
		"discount_minor": validation.DiscountMinor,
	})
	return nil
}

func (o *orchestrator) stepShip(ctx context.Context, order *domain.Order) error {
	done, err := o.stepDone(order.OrderNumber, domain.SagaStepShip)
	if err != nil || done {
		return err
	}
	stepStart := o.now()

	if err := o.updateStatus(order, domain.OrderStatusShipping); err != nil {
		return err
	}

	snapshot := domain.OrderSnapshot{
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		TotalMinor:  order.TotalMinor,
	}
	for _, item := range order.Items {
		snapshot.Items = append(snapshot.Items, domain.ShipmentItem{
			VariantID: item.VariantID,
			SKU:       item.SKU,
			Name:      item.Name,
			Qty:       item.Qty,
			UnitMinor: item.UnitMinor,
		})
	}

	shipment, err := o.shipments.Create(ctx, snapshot)
	if err != nil {
		return fmt.Errorf("%w: shipment create: %v", domain.ErrDownstreamUnavailable, err)
	}

	if err := o.recordStep(order.OrderNumber, domain.SagaStepShip, shipment.ShipmentNumber); err != nil {
		return err
	}
	if o.metrics != nil {
		o.metrics.RecordStepDuration("ship", time.Since(stepStart))
	}
	o.publishSagaEvent(kafka.EventTypeStepShipped, order.OrderNumber, map[string]interface{}{
		"shipment_number": shipment.ShipmentNumber,
	})
	return nil
}

// stepClearCart убирает оформленные позиции из корзины. Ошибка корзины не
// проваливает размещение: действие откладывается в очередь повторов.
func (o *orchestrator) stepClearCart(ctx context.Context, order *domain.Order) {
	done, err := o.stepDone(order.OrderNumber, domain.SagaStepClearCart)
	if err != nil || done {
		return
	}

	for _, item := range order.Items {
		if err := o.carts.ClearItem(ctx, order.CustomerID, item.VariantID); err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"order_number": order.OrderNumber,
				"variant_id":   item.VariantID,
			}).Warn("cart clear failed, deferring")
			o.deferAction(ctx, domain.PendingAction{
				Service: domain.PendingServiceCart,
				Kind:    domain.ActionClear,
				Entity: domain.EntityRef{
					OrderNumber: order.OrderNumber,
					CustomerID:  order.CustomerID,
					VariantID:   item.VariantID,
				},
				Reason: "cart clear failed after checkout",
			})
		}
	}

	if err := o.recordStep(order.OrderNumber, domain.SagaStepClearCart, ""); err != nil {
		o.logger.WithError(err).WithField("order_number", order.OrderNumber).Warn("failed to record cart step")
	}
}

func (o *orchestrator) stepConfirm(ctx context.Context, order *domain.Order) error {
	done, err := o.stepDone(order.OrderNumber, domain.SagaStepConfirm)
	if err != nil || done {
		return err
	}
	stepStart := o.now()

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return fmt.Errorf("order invariants violated: %w", errors.Join(errs...))
	}
	if err := o.stocks.Commit(ctx, order.OrderNumber); err != nil {
		return fmt.Errorf("%w: stock commit: %v", domain.ErrDownstreamUnavailable, err)
	}
	if err := o.updateStatus(order, domain.OrderStatusConfirmed); err != nil {
		return err
	}
	if err := o.recordStep(order.OrderNumber, domain.SagaStepConfirm, ""); err != nil {
		return err
	}
	if o.metrics != nil {
		o.metrics.RecordStepDuration("confirm", time.Since(stepStart))
	}

	o.emitOrderEvent(order, kafka.EventTypeOrderCreated, map[string]interface{}{
		"total_minor":    order.TotalMinor,
		"discount_minor": order.DiscountMinor,
		"currency":       order.Currency,
	})
	return nil
}

// compensate откатывает выполненные шаги в обратном порядке журнала.
// Ошибка компенсации не теряется: действие уходит в очередь повторов.
func (o *orchestrator) compensate(ctx context.Context, order *domain.Order, cause error) {
	if o.metrics != nil {
		o.metrics.RecordSagaFailed()
	}
	o.logger.WithError(cause).WithField("order_number", order.OrderNumber).Warn("placement failed, compensating")

	completed, err := o.steps.List(order.OrderNumber)
	if err != nil {
		o.logger.WithError(err).WithField("order_number", order.OrderNumber).Error("failed to load step log")
	}

	for i := len(completed) - 1; i >= 0; i-- {
		rec := completed[i]
		switch rec.Step {
		case domain.SagaStepShip:
			if err := o.shipments.Cancel(ctx, order.OrderNumber, "order placement failed"); err != nil {
				o.deferAction(ctx, domain.PendingAction{
					Service: domain.PendingServiceShipment,
					Kind:    domain.ActionCancel,
					Entity:  domain.EntityRef{OrderNumber: order.OrderNumber},
					Reason:  "shipment cancel failed during compensation",
				})
			}
		case domain.SagaStepPromote:
			if rec.Detail == "" {
				continue
			}
			if err := o.promotions.RevokeUsage(ctx, rec.Detail, order.ID); err != nil {
				o.deferAction(ctx, domain.PendingAction{
					Service: domain.PendingServicePromotion,
					Kind:    domain.ActionRevoke,
					Entity:  domain.EntityRef{OrderNumber: order.OrderNumber, OrderID: order.ID, PromotionID: rec.Detail},
					Reason:  "promotion revoke failed during compensation",
				})
			}
		case domain.SagaStepReserve:
			if err := o.stocks.ReleaseAll(ctx, order.OrderNumber, "order placement failed"); err != nil {
				for _, item := range order.Items {
					o.deferAction(ctx, domain.PendingAction{
						Service: domain.PendingServiceStock,
						Kind:    domain.ActionRelease,
						Entity:  domain.EntityRef{OrderNumber: order.OrderNumber, VariantID: item.VariantID},
						Reason:  "stock release failed during compensation",
					})
				}
			}
		}
	}

	// Частично удержанные резервы возможны и без записанного шага reserve.
	if len(completed) == 0 {
		if err := o.stocks.ReleaseAll(ctx, order.OrderNumber, "order placement failed"); err != nil {
			for _, item := range order.Items {
				o.deferAction(ctx, domain.PendingAction{
					Service: domain.PendingServiceStock,
					Kind:    domain.ActionRelease,
					Entity:  domain.EntityRef{OrderNumber: order.OrderNumber, VariantID: item.VariantID},
					Reason:  "stock release failed during compensation",
				})
			}
		}
	}

	order.FailureReason = cause.Error()
	order.FailureCode = domain.ClassifyFailure(cause)
	if err := o.updateStatus(order, domain.OrderStatusFailed); err != nil {
		return
	}

	o.emitOrderEvent(order, kafka.EventTypeOrderFailed, map[string]interface{}{
		"reason": cause.Error(),
	})
	o.publishSagaEvent(kafka.EventTypeSagaFailed, order.OrderNumber, map[string]interface{}{
		"reason": cause.Error(),
	})
}

// CancelOrder отменяет подтверждённый заказ с компенсацией всех эффектов.
func (o *orchestrator) CancelOrder(ctx context.Context, orderNumber, reason string) error {
	if o.metrics != nil {
		o.metrics.RecordSagaCanceled()
	}

	order, err := o.orders.GetByNumber(orderNumber)
	if err != nil {
		return err
	}
	if order.Status == domain.OrderStatusCanceled {
		return nil
	}
	if order.Status != domain.OrderStatusConfirmed {
		return domain.ErrStatusTransition
	}

	// Доставка дальше assigned — отменять поздно.
	if err := o.shipments.Cancel(ctx, orderNumber, reason); err != nil {
		return err
	}

	if promoted, found, err := o.steps.Find(orderNumber, domain.SagaStepPromote); err == nil && found && promoted.Detail != "" {
		if err := o.promotions.RevokeUsage(ctx, promoted.Detail, order.ID); err != nil {
			o.deferAction(ctx, domain.PendingAction{
				Service: domain.PendingServicePromotion,
				Kind:    domain.ActionRevoke,
				Entity:  domain.EntityRef{OrderNumber: orderNumber, OrderID: order.ID, PromotionID: promoted.Detail},
				Reason:  "promotion revoke failed during cancel",
			})
		}
	}

	if err := o.stocks.Restock(ctx, orderNumber, reason); err != nil {
		for _, item := range order.Items {
			o.deferAction(ctx, domain.PendingAction{
				Service: domain.PendingServiceStock,
				Kind:    domain.ActionRelease,
				Entity:  domain.EntityRef{OrderNumber: orderNumber, VariantID: item.VariantID},
				Reason:  "restock failed during cancel",
			})
		}
	}

	order.FailureReason = reason
	if err := o.updateStatus(&order, domain.OrderStatusCanceled); err != nil {
		return err
	}

	o.emitOrderEvent(&order, kafka.EventTypeOrderCanceled, map[string]interface{}{
		"reason": reason,
	})
	o.publishSagaEvent(kafka.EventTypeSagaCanceled, orderNumber, map[string]interface{}{
		"reason": reason,
	})
	return nil
}

func (o *orchestrator) stepDone(orderNumber string, step domain.SagaStep) (bool, error) {
	_, found, err := o.steps.Find(orderNumber, step)
	if err != nil {
		return false, err
	}
	if found {
		o.logger.WithFields(log.Fields{
			"order_number": orderNumber,
			"step":         step,
		}).Debug("step already recorded, skipping")
	}
	return found, nil
}

func (o *orchestrator) recordStep(orderNumber string, step domain.SagaStep, detail string) error {
	err := o.steps.Record(domain.SagaStepRecord{
		OrderNumber: orderNumber,
		Step:        step,
		Detail:      detail,
		OccurredAt:  o.now().UTC(),
	})
	if err != nil {
		return err
	}
	if o.metrics != nil {
		o.metrics.RecordStepEvent()
	}
	return nil
}

func (o *orchestrator) deferAction(ctx context.Context, action domain.PendingAction) {
	if o.queue == nil {
		o.logger.WithFields(log.Fields{
			"service": action.Service,
			"kind":    action.Kind,
		}).Error("pending queue is not configured, compensation lost")
		return
	}
	if err := o.queue.Defer(ctx, action); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"service": action.Service,
			"kind":    action.Kind,
		}).Error("failed to defer compensation")
	}
}

// recordedFailure восстанавливает типизированную ошибку из записанного
// кода класса и текста причины.
func (o *orchestrator) recordedFailure(order *domain.Order) error {
	return domain.FailureError(order.FailureCode, order.PromotionCode, order.FailureReason)
}

// updateStatus меняет статус заказа с повторами на version conflict.
// Переход сверяется с машиной статусов, недопустимый отклоняется.
func (o *orchestrator) updateStatus(order *domain.Order, newStatus domain.OrderStatus) error {
	if order.Status == newStatus {
		return nil
	}
	if !order.Status.CanTransitionTo(newStatus) {
		o.logger.WithFields(log.Fields{
			"order_number": order.OrderNumber,
			"from":         order.Status,
			"to":           newStatus,
		}).Error("status transition rejected")
		return domain.ErrStatusTransition
	}

	const maxRetries = 3
	const baseDelay = 10 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		previousStatus := order.Status
		order.Status = newStatus
		order.UpdatedAt = o.now().UTC()
		prevVersion := order.Version

		if err := o.orders.Save(*order); err != nil {
			if domain.IsVersionConflict(err) && attempt < maxRetries-1 {
				o.logger.WithFields(log.Fields{
					"order_number": order.OrderNumber,
					"attempt":      attempt + 1,
					"version":      order.Version,
				}).Warn("version conflict detected, retrying")

				fresh, loadErr := o.orders.Get(order.ID)
				if loadErr != nil {
					o.logger.WithError(loadErr).WithField("order_number", order.OrderNumber).Error("failed to reload order after conflict")
					return loadErr
				}
				reason := order.FailureReason
				code := order.FailureCode
				discount := order.DiscountMinor
				total := order.TotalMinor
				*order = fresh
				order.FailureReason = reason
				order.FailureCode = code
				order.DiscountMinor = discount
				order.TotalMinor = total
				if order.Status == newStatus {
					return nil
				}
				if !order.Status.CanTransitionTo(newStatus) {
					return domain.ErrStatusTransition
				}

				time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
				continue
			}

			order.Status = previousStatus
			o.logger.WithError(err).WithFields(log.Fields{
				"order_number": order.OrderNumber,
				"attempt":      attempt + 1,
			}).Error("failed to persist status")
			return err
		}

		order.Version = prevVersion + 1
		return nil
	}

	return domain.ErrOrderVersionConflict
}

// saveOrder сохраняет заказ без смены статуса (скидка, суммы).
func (o *orchestrator) saveOrder(order *domain.Order) error {
	prevVersion := order.Version
	order.UpdatedAt = o.now().UTC()
	if err := o.orders.Save(*order); err != nil {
		return err
	}
	order.Version = prevVersion + 1
	return nil
}

// nextNumber выдаёт человекочитаемый номер заказа: ORD-YYYYMMDD-<счётчик дня>.
func (o *orchestrator) nextNumber() (string, error) {
	now := o.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	count, err := o.orders.CountCreatedBetween(dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%s-%d", now.Format("20060102"), count+1), nil
}

// emitOrderEvent пишет событие жизненного цикла заказа в transactional outbox.
func (o *orchestrator) emitOrderEvent(order *domain.Order, eventType kafka.EventType, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = order.ID
	payload["order_number"] = order.OrderNumber
	payload["customer_id"] = order.CustomerID
	payload["status"] = string(order.Status)
	payload["ts"] = o.now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_number": order.OrderNumber,
			"event":        eventType,
		}).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.OrderNumber,
		EventType:     string(eventType),
		Payload:       data,
	}
	if _, err := o.outbox.Enqueue(msg); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_number": order.OrderNumber,
			"event":        eventType,
		}).Error("enqueue event failed")
	} else if o.metrics != nil {
		o.metrics.RecordOutboxEvent()
	}
}

// publishSagaEvent публикует событие саги в Kafka (если producer настроен).
func (o *orchestrator) publishSagaEvent(eventType kafka.EventType, orderNumber string, metadata map[string]interface{}) {
	if o.kafkaProducer == nil {
		return
	}

	event := kafka.NewSagaEvent(eventType, orderNumber, metadata)
	if err := o.kafkaProducer.PublishEvent(kafka.TopicSagaEvents, orderNumber, event); err != nil {
		// Kafka опционален, сагу не прерываем.
		o.logger.WithError(err).WithFields(log.Fields{
			"event_type":   eventType,
			"order_number": orderNumber,
		}).Warn("failed to publish saga event to kafka")
	}
}

func validateRequest(req PlaceOrderRequest) error {
	if req.CustomerID == "" {
		return domain.ErrCustomerRequired
	}
	if req.Currency == "" {
		return domain.ErrCurrencyRequired
	}
	if len(req.Items) == 0 {
		return domain.ErrItemsRequired
	}
	for _, item := range req.Items {
		if item.VariantID == "" {
			return domain.ErrItemVariantRequired
		}
		if item.Qty <= 0 {
			return domain.ErrItemQtyInvalid
		}
		if item.UnitMinor < 0 {
			return domain.ErrItemPriceInvalid
		}
	}
	return nil
}
