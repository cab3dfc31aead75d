package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
	"github.com/vladislavdragonenkov/retail-core/internal/service/account"
	"github.com/vladislavdragonenkov/retail-core/internal/service/cart"
	"github.com/vladislavdragonenkov/retail-core/internal/service/pending"
	"github.com/vladislavdragonenkov/retail-core/internal/service/promo"
	"github.com/vladislavdragonenkov/retail-core/internal/service/shipment"
	"github.com/vladislavdragonenkov/retail-core/internal/service/stock"
	"github.com/vladislavdragonenkov/retail-core/internal/storage/memory"
)

type fixture struct {
	orders    domain.OrderRepository
	stocks    domain.StockRepository
	promos    domain.PromotionRepository
	shipments domain.ShipmentRepository
	actions   domain.PendingActionRepository
	steps     domain.SagaStepRepository
	outbox    domain.OutboxRepository
	accounts  *account.MockService
	carts     *cart.MockService
	deps      Dependencies
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		orders:    memory.NewOrderRepository(),
		stocks:    memory.NewStockRepository(),
		promos:    memory.NewPromotionRepository(),
		shipments: memory.NewShipmentRepository(),
		actions:   memory.NewPendingActionRepository(),
		steps:     memory.NewSagaStepRepository(),
		outbox:    memory.NewOutboxRepository(),
		accounts:  account.NewMockService(),
		carts:     cart.NewMockService(),
	}

	if err := f.stocks.UpsertLevel(domain.StockLevel{VariantID: "variant-1", Available: 10, Physical: 10}); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	if err := f.stocks.UpsertLevel(domain.StockLevel{VariantID: "variant-2", Available: 2, Physical: 2}); err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	if err := f.promos.Upsert(domain.Promotion{
		ID:     "promo-1",
		Code:   "SAVE10",
		Type:   domain.PromotionPercentage,
		Value:  10,
		Active: true,
	}); err != nil {
		t.Fatalf("seed promotion: %v", err)
	}

	f.deps = Dependencies{
		Orders:     f.orders,
		Steps:      f.steps,
		Outbox:     f.outbox,
		Accounts:   f.accounts,
		Stocks:     stock.NewLedger(f.stocks, nil),
		Promotions: promo.NewValidator(f.promos, nil),
		Shipments:  shipment.NewRegistrar(f.shipments, nil),
		Carts:      f.carts,
		Queue:      pending.NewQueue(f.actions, nil),
	}
	return f
}

func (f *fixture) orchestrator() Orchestrator {
	return NewOrchestratorWithoutMetrics(f.deps)
}

func (f *fixture) available(t *testing.T, variantID string) int32 {
	t.Helper()
	level, err := f.stocks.GetLevel(variantID)
	if err != nil {
		t.Fatalf("get level %s: %v", variantID, err)
	}
	return level.Available
}

func (f *fixture) pendingActions(t *testing.T) []domain.PendingAction {
	t.Helper()
	actions, err := f.actions.ListPending(100)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	return actions
}

func placeRequest() PlaceOrderRequest {
	return PlaceOrderRequest{
		CustomerID:    "cust-1",
		Currency:      "RUB",
		PromotionCode: "SAVE10",
		Items: []PlaceOrderItem{
			{VariantID: "variant-1", SKU: "SKU-1", Name: "Widget", Qty: 2, UnitMinor: 50000},
		},
	}
}

func TestPlaceOrder_HappyPath(t *testing.T) {
	f := newFixture(t)
	orch := f.orchestrator()

	order, err := orch.PlaceOrder(context.Background(), placeRequest())
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}

	if order.Status != domain.OrderStatusConfirmed {
		t.Errorf("status = %s, want %s", order.Status, domain.OrderStatusConfirmed)
	}
	if order.SubtotalMinor != 100000 {
		t.Errorf("subtotal = %d, want 100000", order.SubtotalMinor)
	}
	if order.DiscountMinor != 10000 {
		t.Errorf("discount = %d, want 10000", order.DiscountMinor)
	}
	if order.TotalMinor != 90000 {
		t.Errorf("total = %d, want 90000", order.TotalMinor)
	}

	// Резерв списан насовсем: в доступный остаток он не возвращается.
	if got := f.available(t, "variant-1"); got != 8 {
		t.Errorf("available = %d, want 8", got)
	}

	shp, err := f.shipments.GetByOrder(order.OrderNumber)
	if err != nil {
		t.Fatalf("shipment not created: %v", err)
	}
	if shp.Status != domain.ShipmentPending {
		t.Errorf("shipment status = %s, want %s", shp.Status, domain.ShipmentPending)
	}

	if f.carts.ClearItemCalls != 1 {
		t.Errorf("cart clear calls = %d, want 1", f.carts.ClearItemCalls)
	}

	msgs, err := f.outbox.PullPending(10)
	if err != nil {
		t.Fatalf("pull outbox: %v", err)
	}
	var created bool
	for _, msg := range msgs {
		if msg.EventType == "order.created" {
			created = true
		}
	}
	if !created {
		t.Error("order.created event not enqueued to outbox")
	}
}

func TestPlaceOrder_NoPromotionConfirms(t *testing.T) {
	f := newFixture(t)
	orch := f.orchestrator()

	req := placeRequest()
	req.PromotionCode = ""
	order, err := orch.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Errorf("status = %s, want %s", order.Status, domain.OrderStatusConfirmed)
	}
	if order.DiscountMinor != 0 || order.TotalMinor != order.SubtotalMinor {
		t.Errorf("discount = %d, total = %d, want 0 and %d", order.DiscountMinor, order.TotalMinor, order.SubtotalMinor)
	}
}

func TestUpdateStatus_RejectsForbiddenTransition(t *testing.T) {
	f := newFixture(t)
	orch, ok := NewOrchestratorWithoutMetrics(f.deps).(*orchestrator)
	if !ok {
		t.Fatal("unexpected orchestrator type")
	}

	order, _, err := orch.loadOrCreate(context.Background(), placeRequest())
	if err != nil {
		t.Fatalf("loadOrCreate: %v", err)
	}

	if err := orch.updateStatus(&order, domain.OrderStatusConfirmed); !errors.Is(err, domain.ErrStatusTransition) {
		t.Fatalf("updateStatus(creating -> confirmed) error = %v, want ErrStatusTransition", err)
	}
	if order.Status != domain.OrderStatusCreating {
		t.Errorf("status = %s, want unchanged %s", order.Status, domain.OrderStatusCreating)
	}
}

func TestPlaceOrder_AccountNotVerified(t *testing.T) {
	f := newFixture(t)
	f.accounts.Verified = false
	orch := f.orchestrator()

	_, err := orch.PlaceOrder(context.Background(), placeRequest())
	if !errors.Is(err, domain.ErrAccountNotVerified) {
		t.Fatalf("PlaceOrder() error = %v, want ErrAccountNotVerified", err)
	}

	// До проверки аккаунта ничего не сохраняется.
	if _, err := f.orders.GetByNumber("ORD-00000000-1"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected no order persisted, got err = %v", err)
	}
	if got := f.available(t, "variant-1"); got != 10 {
		t.Errorf("available = %d, want 10", got)
	}
}

func TestPlaceOrder_InsufficientStockReleasesPriorReservations(t *testing.T) {
	f := newFixture(t)
	orch := f.orchestrator()

	req := placeRequest()
	req.Items = append(req.Items, PlaceOrderItem{
		VariantID: "variant-2", SKU: "SKU-2", Name: "Gadget", Qty: 5, UnitMinor: 10000,
	})

	order, err := orch.PlaceOrder(context.Background(), req)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("PlaceOrder() error = %v, want ErrInsufficientStock", err)
	}
	if order.Status != domain.OrderStatusFailed {
		t.Errorf("status = %s, want %s", order.Status, domain.OrderStatusFailed)
	}

	// Удержанный первым резерв variant-1 возвращён компенсацией.
	if got := f.available(t, "variant-1"); got != 10 {
		t.Errorf("variant-1 available = %d, want 10", got)
	}
	if got := f.available(t, "variant-2"); got != 2 {
		t.Errorf("variant-2 available = %d, want 2", got)
	}
}

func TestPlaceOrder_InvalidPromotionCompensatesReserve(t *testing.T) {
	f := newFixture(t)
	orch := f.orchestrator()

	req := placeRequest()
	req.PromotionCode = "NOPE"

	order, err := orch.PlaceOrder(context.Background(), req)
	if reason, ok := domain.IsPromotionInvalid(err); !ok || reason != domain.PromotionReasonNotFound {
		t.Fatalf("PlaceOrder() error = %v, want PromotionInvalid(not-found)", err)
	}
	if order.Status != domain.OrderStatusFailed {
		t.Errorf("status = %s, want %s", order.Status, domain.OrderStatusFailed)
	}
	if got := f.available(t, "variant-1"); got != 10 {
		t.Errorf("available = %d, want 10", got)
	}
}

// corruptPromotions возвращает скидку больше суммы заказа.
type corruptPromotions struct {
	domain.PromotionService
}

func (p *corruptPromotions) Validate(ctx context.Context, req domain.PromotionEligibility) (domain.PromotionValidation, error) {
	return domain.PromotionValidation{
		Valid:         true,
		PromotionID:   "promo-1",
		DiscountMinor: req.AmountMinor + 1,
	}, nil
}

func TestPlaceOrder_BrokenAmountsFailBeforeConfirm(t *testing.T) {
	f := newFixture(t)
	f.deps.Promotions = &corruptPromotions{PromotionService: f.deps.Promotions}
	orch := f.orchestrator()

	order, err := orch.PlaceOrder(context.Background(), placeRequest())
	if err == nil {
		t.Fatal("PlaceOrder() expected invariant error")
	}
	if order.Status != domain.OrderStatusFailed {
		t.Errorf("status = %s, want %s", order.Status, domain.OrderStatusFailed)
	}
	// Компенсация вернула резерв, подтверждение не произошло.
	if got := f.available(t, "variant-1"); got != 10 {
		t.Errorf("available = %d, want 10", got)
	}
}

// failingShipments проваливает создание доставки заданное число раз.
type failingShipments struct {
	domain.ShipmentService
	failures int
}

func (s *failingShipments) Create(ctx context.Context, snapshot domain.OrderSnapshot) (domain.Shipment, error) {
	if s.failures > 0 {
		s.failures--
		return domain.Shipment{}, errors.New("shipment service timeout")
	}
	return s.ShipmentService.Create(ctx, snapshot)
}

func TestPlaceOrder_ShipmentFailureRevokesPromotionAndStock(t *testing.T) {
	f := newFixture(t)
	f.deps.Shipments = &failingShipments{ShipmentService: f.deps.Shipments, failures: 1}
	orch := f.orchestrator()

	order, err := orch.PlaceOrder(context.Background(), placeRequest())
	if !errors.Is(err, domain.ErrDownstreamUnavailable) {
		t.Fatalf("PlaceOrder() error = %v, want ErrDownstreamUnavailable", err)
	}
	if order.Status != domain.OrderStatusFailed {
		t.Errorf("status = %s, want %s", order.Status, domain.OrderStatusFailed)
	}

	if got := f.available(t, "variant-1"); got != 10 {
		t.Errorf("available = %d, want 10", got)
	}
	promoRec, err := f.promos.Get("promo-1")
	if err != nil {
		t.Fatalf("get promotion: %v", err)
	}
	if promoRec.UsageCount != 0 {
		t.Errorf("usage count = %d, want 0 after revoke", promoRec.UsageCount)
	}
}

// failingStocks проваливает снятие резервов, остальное делегирует леджеру.
type failingStocks struct {
	domain.StockService
}

func (s *failingStocks) ReleaseAll(ctx context.Context, orderNumber, reason string) error {
	return errors.New("stock service unavailable")
}

func TestPlaceOrder_CompensationFailureDefersAction(t *testing.T) {
	f := newFixture(t)
	f.deps.Shipments = &failingShipments{ShipmentService: f.deps.Shipments, failures: 1}
	f.deps.Stocks = &failingStocks{StockService: f.deps.Stocks}
	orch := f.orchestrator()

	if _, err := orch.PlaceOrder(context.Background(), placeRequest()); err == nil {
		t.Fatal("PlaceOrder() expected error")
	}

	actions := f.pendingActions(t)
	if len(actions) != 1 {
		t.Fatalf("pending actions = %d, want 1", len(actions))
	}
	got := actions[0]
	if got.Service != domain.PendingServiceStock || got.Kind != domain.ActionRelease {
		t.Errorf("action = %s/%s, want stock/release", got.Service, got.Kind)
	}
	if got.Entity.VariantID != "variant-1" {
		t.Errorf("action variant = %s, want variant-1", got.Entity.VariantID)
	}
}

func TestPlaceOrder_CartFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.carts.ClearItemErr = errors.New("cart service down")
	orch := f.orchestrator()

	order, err := orch.PlaceOrder(context.Background(), placeRequest())
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Errorf("status = %s, want %s", order.Status, domain.OrderStatusConfirmed)
	}

	actions := f.pendingActions(t)
	if len(actions) != 1 {
		t.Fatalf("pending actions = %d, want 1", len(actions))
	}
	if actions[0].Service != domain.PendingServiceCart || actions[0].Kind != domain.ActionClear {
		t.Errorf("action = %s/%s, want cart/clear", actions[0].Service, actions[0].Kind)
	}
}

// countingStocks считает вызовы Reserve поверх настоящего леджера.
type countingStocks struct {
	domain.StockService
	reserveCalls int
}

func (s *countingStocks) Reserve(ctx context.Context, variantID string, qty int32, orderNumber string) (domain.StockReservation, error) {
	s.reserveCalls++
	return s.StockService.Reserve(ctx, variantID, qty, orderNumber)
}

func TestPlaceOrder_ResumeSkipsCompletedSteps(t *testing.T) {
	f := newFixture(t)
	counting := &countingStocks{StockService: f.deps.Stocks}
	f.deps.Stocks = counting
	f.deps.Shipments = &failingShipments{ShipmentService: f.deps.Shipments, failures: 1}
	orch := f.orchestrator()

	// Имитация обрыва: резерв удержан и записан в журнал, дальше сага не дошла.
	req := placeRequest()
	req.PromotionCode = ""
	order, err := f.startStalled(t, req)
	if err != nil {
		t.Fatalf("stall setup: %v", err)
	}

	req.OrderNumber = order.OrderNumber
	f.deps.Shipments = shipment.NewRegistrar(f.shipments, nil)
	orch = f.orchestrator()

	resumed, err := orch.PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("resume PlaceOrder() error = %v", err)
	}
	if resumed.Status != domain.OrderStatusConfirmed {
		t.Errorf("status = %s, want %s", resumed.Status, domain.OrderStatusConfirmed)
	}
	if counting.reserveCalls != 1 {
		t.Errorf("reserve calls = %d, want 1 (step must not be re-applied)", counting.reserveCalls)
	}
	if got := f.available(t, "variant-1"); got != 8 {
		t.Errorf("available = %d, want 8", got)
	}
}

// startStalled создаёт заказ и останавливает сагу после шага резервирования,
// как если бы процесс упал между резервом и созданием доставки.
func (f *fixture) startStalled(t *testing.T, req PlaceOrderRequest) (domain.Order, error) {
	t.Helper()

	orch, ok := NewOrchestratorWithoutMetrics(f.deps).(*orchestrator)
	if !ok {
		t.Fatal("unexpected orchestrator type")
	}
	order, _, err := orch.loadOrCreate(context.Background(), req)
	if err != nil {
		return domain.Order{}, err
	}
	if err := orch.stepReserve(context.Background(), &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func TestPlaceOrder_ReplayOfFailedOrderReturnsRecordedOutcome(t *testing.T) {
	f := newFixture(t)
	orch := f.orchestrator()

	req := placeRequest()
	req.PromotionCode = "NOPE"
	order, err := orch.PlaceOrder(context.Background(), req)
	if err == nil {
		t.Fatal("first PlaceOrder() expected error")
	}

	req.OrderNumber = order.OrderNumber
	replayed, err := orch.PlaceOrder(context.Background(), req)
	if err == nil {
		t.Fatal("replay expected recorded failure")
	}
	// Класс ошибки восстанавливается из записанного кода, а не только текст.
	if reason, ok := domain.IsPromotionInvalid(err); !ok || reason != domain.PromotionReasonNotFound {
		t.Errorf("replay error = %v, want PromotionInvalid(not-found)", err)
	}
	if replayed.Status != domain.OrderStatusFailed {
		t.Errorf("status = %s, want %s", replayed.Status, domain.OrderStatusFailed)
	}
	// Повтор не трогает состояние: остаток не изменился.
	if got := f.available(t, "variant-1"); got != 10 {
		t.Errorf("available = %d, want 10", got)
	}
}

func TestPlaceOrder_ReplayOfInsufficientStockKeepsErrorClass(t *testing.T) {
	f := newFixture(t)
	orch := f.orchestrator()

	req := placeRequest()
	req.PromotionCode = ""
	req.Items[0].Qty = 50
	order, err := orch.PlaceOrder(context.Background(), req)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("PlaceOrder() error = %v, want ErrInsufficientStock", err)
	}

	req.OrderNumber = order.OrderNumber
	if _, err := orch.PlaceOrder(context.Background(), req); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("replay error = %v, want ErrInsufficientStock", err)
	}
}

func TestCancelOrder_RestocksAndRevokes(t *testing.T) {
	f := newFixture(t)
	orch := f.orchestrator()

	order, err := orch.PlaceOrder(context.Background(), placeRequest())
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}

	if err := orch.CancelOrder(context.Background(), order.OrderNumber, "customer changed mind"); err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}

	canceled, err := f.orders.GetByNumber(order.OrderNumber)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if canceled.Status != domain.OrderStatusCanceled {
		t.Errorf("status = %s, want %s", canceled.Status, domain.OrderStatusCanceled)
	}

	// Списанное количество вернулось в доступный остаток.
	if got := f.available(t, "variant-1"); got != 10 {
		t.Errorf("available = %d, want 10", got)
	}

	shp, err := f.shipments.GetByOrder(order.OrderNumber)
	if err != nil {
		t.Fatalf("get shipment: %v", err)
	}
	if shp.Status != domain.ShipmentCanceled {
		t.Errorf("shipment status = %s, want %s", shp.Status, domain.ShipmentCanceled)
	}

	promoRec, err := f.promos.Get("promo-1")
	if err != nil {
		t.Fatalf("get promotion: %v", err)
	}
	if promoRec.UsageCount != 0 {
		t.Errorf("usage count = %d, want 0 after cancel", promoRec.UsageCount)
	}
}

func TestCancelOrder_ShippedOrderIsNotCancellable(t *testing.T) {
	f := newFixture(t)
	orch := f.orchestrator()

	order, err := orch.PlaceOrder(context.Background(), placeRequest())
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}

	shp, err := f.shipments.GetByOrder(order.OrderNumber)
	if err != nil {
		t.Fatalf("get shipment: %v", err)
	}
	if _, err := f.shipments.Claim(shp.ID, "shipper-1", shp.CreatedAt); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := f.shipments.UpdateStatus(shp.ID, domain.ShipmentAssigned, domain.ShipmentShipping, ""); err != nil {
		t.Fatalf("update status: %v", err)
	}

	err = orch.CancelOrder(context.Background(), order.OrderNumber, "too late")
	if !errors.Is(err, domain.ErrShipmentNotCancellable) {
		t.Fatalf("CancelOrder() error = %v, want ErrShipmentNotCancellable", err)
	}

	after, err := f.orders.GetByNumber(order.OrderNumber)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if after.Status != domain.OrderStatusConfirmed {
		t.Errorf("status = %s, want %s", after.Status, domain.OrderStatusConfirmed)
	}
}

func TestCancelOrder_AlreadyCanceledIsNoop(t *testing.T) {
	f := newFixture(t)
	orch := f.orchestrator()

	order, err := orch.PlaceOrder(context.Background(), placeRequest())
	if err != nil {
		t.Fatalf("PlaceOrder() error = %v", err)
	}
	if err := orch.CancelOrder(context.Background(), order.OrderNumber, "first"); err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}
	if err := orch.CancelOrder(context.Background(), order.OrderNumber, "second"); err != nil {
		t.Fatalf("repeat CancelOrder() error = %v", err)
	}
	// Повтор отмены не дублирует возврат остатка.
	if got := f.available(t, "variant-1"); got != 10 {
		t.Errorf("available = %d, want 10", got)
	}
}

func TestPlaceOrder_RequestValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PlaceOrderRequest)
		wantErr error
	}{
		{"missing customer", func(r *PlaceOrderRequest) { r.CustomerID = "" }, domain.ErrCustomerRequired},
		{"missing currency", func(r *PlaceOrderRequest) { r.Currency = "" }, domain.ErrCurrencyRequired},
		{"no items", func(r *PlaceOrderRequest) { r.Items = nil }, domain.ErrItemsRequired},
		{"zero qty", func(r *PlaceOrderRequest) { r.Items[0].Qty = 0 }, domain.ErrItemQtyInvalid},
		{"negative price", func(r *PlaceOrderRequest) { r.Items[0].UnitMinor = -1 }, domain.ErrItemPriceInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := placeRequest()
			tt.mutate(&req)

			_, err := f.orchestrator().PlaceOrder(context.Background(), req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("PlaceOrder() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
