package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/retail-core/internal/domain"
	"github.com/vladislavdragonenkov/retail-core/internal/service/assign"
	"github.com/vladislavdragonenkov/retail-core/internal/service/saga"
	"github.com/vladislavdragonenkov/retail-core/internal/storage/redisx"
)

const requestTimeout = 10 * time.Second

// Handler обслуживает REST API ядра заказов.
type Handler struct {
	orchestrator saga.Orchestrator
	orders       domain.OrderRepository
	shipments    domain.ShipmentRepository
	assigner     *assign.Scheduler
	statusCache  *redisx.StatusCache
	logger       *log.Entry
}

// NewHandler создаёт HTTP handler. statusCache опционален (nil — без кэша).
func NewHandler(
	orchestrator saga.Orchestrator,
	orders domain.OrderRepository,
	shipments domain.ShipmentRepository,
	assigner *assign.Scheduler,
	statusCache *redisx.StatusCache,
	logger *log.Entry,
) *Handler {
	if logger == nil {
		logger = log.New().WithField("component", "http")
	}
	return &Handler{
		orchestrator: orchestrator,
		orders:       orders,
		shipments:    shipments,
		assigner:     assigner,
		statusCache:  statusCache,
		logger:       logger,
	}
}

// Register монтирует маршруты API на роутер.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orders", h.placeOrder)
		r.Get("/orders/{number}", h.getOrder)
		r.Get("/orders/{number}/status", h.getOrderStatus)
		r.Post("/orders/{number}/cancel", h.cancelOrder)
		r.Post("/shipments/{number}/assign", h.assignShipment)
		r.Post("/shipments/{number}/cancel", h.cancelShipment)
	})
}

type placeOrderItemRequest struct {
	VariantID string `json:"variant_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Qty       int32  `json:"qty"`
	UnitMinor int64  `json:"unit_minor"`
}

type placeOrderRequest struct {
	OrderNumber   string                  `json:"order_number,omitempty"`
	CustomerID    string                  `json:"customer_id"`
	Currency      string                  `json:"currency"`
	PromotionCode string                  `json:"promotion_code,omitempty"`
	Items         []placeOrderItemRequest `json:"items"`
	CategoryIDs   []string                `json:"category_ids,omitempty"`
	BrandIDs      []string                `json:"brand_ids,omitempty"`
}

type orderItemResponse struct {
	VariantID  string `json:"variant_id"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	Qty        int32  `json:"qty"`
	UnitMinor  int64  `json:"unit_minor"`
	TotalMinor int64  `json:"total_minor"`
}

type orderResponse struct {
	OrderNumber   string              `json:"order_number"`
	CustomerID    string              `json:"customer_id"`
	Status        string              `json:"status"`
	Currency      string              `json:"currency"`
	SubtotalMinor int64               `json:"subtotal_minor"`
	DiscountMinor int64               `json:"discount_minor"`
	TotalMinor    int64               `json:"total_minor"`
	PromotionCode string              `json:"promotion_code,omitempty"`
	FailureReason string              `json:"failure_reason,omitempty"`
	Items         []orderItemResponse `json:"items"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	placeReq := saga.PlaceOrderRequest{
		OrderNumber:   req.OrderNumber,
		CustomerID:    req.CustomerID,
		Currency:      req.Currency,
		PromotionCode: req.PromotionCode,
		CategoryIDs:   req.CategoryIDs,
		BrandIDs:      req.BrandIDs,
	}
	for _, item := range req.Items {
		placeReq.Items = append(placeReq.Items, saga.PlaceOrderItem{
			VariantID: item.VariantID,
			SKU:       item.SKU,
			Name:      item.Name,
			Qty:       item.Qty,
			UnitMinor: item.UnitMinor,
		})
	}

	order, err := h.orchestrator.PlaceOrder(ctx, placeReq)
	if err != nil {
		// Провал с созданным заказом возвращает его номер для повтора.
		if order.OrderNumber != "" {
			h.statusCache.Put(ctx, order)
		}
		h.writeError(w, err)
		return
	}

	h.statusCache.Put(ctx, order)
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	order, err := h.orders.GetByNumber(number)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// getOrderStatus отдаёт только статус заказа, с fast path через Redis.
func (h *Handler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	if status, ok := h.statusCache.Get(r.Context(), number); ok {
		writeJSON(w, http.StatusOK, map[string]string{
			"order_number": number,
			"status":       string(status),
		})
		return
	}

	order, err := h.orders.GetByNumber(number)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.statusCache.Put(r.Context(), order)
	writeJSON(w, http.StatusOK, map[string]string{
		"order_number": order.OrderNumber,
		"status":       string(order.Status),
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	var req cancelRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "canceled by customer"
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.orchestrator.CancelOrder(ctx, number, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}

	h.statusCache.Invalidate(ctx, number)
	order, err := h.orders.GetByNumber(number)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type assignShipmentRequest struct {
	ShipperID string `json:"shipper_id"`
}

func (h *Handler) assignShipment(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	var req assignShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}
	if req.ShipperID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "shipper_id is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.assigner.Assign(ctx, number, req.ShipperID); err != nil {
		h.writeError(w, err)
		return
	}

	shipment, err := h.shipments.GetByNumber(number)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"shipment_number": shipment.ShipmentNumber,
		"order_number":    shipment.OrderNumber,
		"status":          string(shipment.Status),
		"shipper_id":      shipment.ShipperID,
	})
}

func (h *Handler) cancelShipment(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	var req cancelRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	shipment, err := h.shipments.GetByNumber(number)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if shipment.Status == domain.ShipmentCanceled {
		writeJSON(w, http.StatusOK, map[string]string{
			"shipment_number": shipment.ShipmentNumber,
			"status":          string(shipment.Status),
		})
		return
	}
	if !shipment.Status.Cancellable() {
		h.writeError(w, domain.ErrShipmentNotCancellable)
		return
	}

	ok, err := h.shipments.UpdateStatus(shipment.ID, shipment.Status, domain.ShipmentCanceled, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		// Статус сменился между чтением и обновлением.
		h.writeError(w, domain.ErrShipmentNotCancellable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"shipment_number": shipment.ShipmentNumber,
		"status":          string(domain.ShipmentCanceled),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := ""

	switch {
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrShipmentNotFound),
		errors.Is(err, domain.ErrShipperNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAccountNotVerified):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrShipmentAlreadyClaimed),
		errors.Is(err, domain.ErrShipmentNotCancellable),
		errors.Is(err, domain.ErrShipperUnavailable),
		errors.Is(err, domain.ErrStatusTransition):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrDownstreamUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrCustomerRequired),
		errors.Is(err, domain.ErrCurrencyRequired),
		errors.Is(err, domain.ErrItemsRequired),
		errors.Is(err, domain.ErrItemVariantRequired),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrItemPriceInvalid),
		errors.Is(err, domain.ErrVariantNotFound):
		status = http.StatusBadRequest
	}

	if reason, ok := domain.IsPromotionInvalid(err); ok {
		status = http.StatusUnprocessableEntity
		code = string(reason)
	}

	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error("request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func toOrderResponse(order domain.Order) orderResponse {
	resp := orderResponse{
		OrderNumber:   order.OrderNumber,
		CustomerID:    order.CustomerID,
		Status:        string(order.Status),
		Currency:      order.Currency,
		SubtotalMinor: order.SubtotalMinor,
		DiscountMinor: order.DiscountMinor,
		TotalMinor:    order.TotalMinor,
		PromotionCode: order.PromotionCode,
		FailureReason: order.FailureReason,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			VariantID:  item.VariantID,
			SKU:        item.SKU,
			Name:       item.Name,
			Qty:        item.Qty,
			UnitMinor:  item.UnitMinor,
			TotalMinor: item.TotalMinor,
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
