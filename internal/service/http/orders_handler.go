package httpsvc

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
	"github.com/vladislavdragonenkov/dealership/internal/service/orders"
)

const (
	// HeaderIdempotencyKey: обязательный заголовок мутаций заказа.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderReplayed выставляется, когда ответ восстановлен по ключу идемпотентности.
	HeaderReplayed = "Idempotent-Replayed"
)

// idempotencyKey читает заголовок; при его отсутствии отвечает 400.
func idempotencyKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" {
		writeBadRequest(w, "idempotency_key", HeaderIdempotencyKey+" header is required")
		return "", false
	}
	return key, true
}

func writeOrderResult(w http.ResponseWriter, status int, result orders.Result) {
	if result.Replayed {
		w.Header().Set(HeaderReplayed, "true")
	}
	writeJSON(w, status, orders.SnapshotOf(result.Order))
}

func writeItemResult(w http.ResponseWriter, status int, result orders.Result) {
	if result.Replayed {
		w.Header().Set(HeaderReplayed, "true")
	}
	resp := itemResponse{Order: orders.SnapshotOf(result.Order)}
	if result.Item != nil {
		item := orders.ItemSnapshotOf(*result.Item)
		resp.Item = &item
	}
	writeJSON(w, status, resp)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.orders.CreateOrder(r.Context(), orders.CreateOrderCommand{
		IdempotencyKey: key,
		BuyerID:        req.BuyerID,
		EmployeeID:     req.EmployeeID,
		Address:        req.Address.domain(),
		CompletedAt:    req.CompletedAt,
		Items:          itemInputs(req.Items),
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	w.Header().Set("Location", "/orders/"+result.Order.ID)
	writeOrderResult(w, http.StatusCreated, result)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	filter := domain.OrderFilter{BuyerID: r.URL.Query().Get("buyer_id")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeBadRequest(w, "limit", "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	list, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(list, orders.SnapshotOf))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders.SnapshotOf(order))
}

func (h *Handler) editOrder(w http.ResponseWriter, r *http.Request) {
	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	var req editOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cmd := orders.EditOrderCommand{
		IdempotencyKey: key,
		OrderID:        chi.URLParam(r, "orderID"),
		CompletedAt:    req.CompletedAt,
		BuyerID:        req.BuyerID,
		EmployeeID:     req.EmployeeID,
	}
	if req.Address != nil {
		address := req.Address.domain()
		cmd.Address = &address
	}

	result, err := h.orders.EditOrder(r.Context(), cmd)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeOrderResult(w, http.StatusOK, result)
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}

	result, err := h.orders.DeleteOrder(r.Context(), orders.DeleteOrderCommand{
		IdempotencyKey: key,
		OrderID:        chi.URLParam(r, "orderID"),
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeOrderResult(w, http.StatusOK, result)
}

func (h *Handler) orderTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.orders.Timeline(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(events, func(e domain.TimelineEvent) timelineEventResponse {
		return timelineEventResponse{Type: e.Type, Reason: e.Reason, Occurred: e.Occurred}
	}))
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	var req itemDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.orders.AddItem(r.Context(), orders.AddItemCommand{
		IdempotencyKey: key,
		OrderID:        chi.URLParam(r, "orderID"),
		ItemInput:      req.input(),
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeItemResult(w, http.StatusCreated, result)
}

func (h *Handler) addItems(w http.ResponseWriter, r *http.Request) {
	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	var req addItemsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.orders.AddItems(r.Context(), orders.AddItemsCommand{
		IdempotencyKey: key,
		OrderID:        chi.URLParam(r, "orderID"),
		Items:          itemInputs(req.Items),
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeOrderResult(w, http.StatusCreated, result)
}

func (h *Handler) editItem(w http.ResponseWriter, r *http.Request) {
	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	var req editItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.orders.EditItem(r.Context(), orders.EditItemCommand{
		IdempotencyKey: key,
		OrderID:        chi.URLParam(r, "orderID"),
		ItemID:         chi.URLParam(r, "itemID"),
		CarModelID:     req.CarModelID,
		Quantity:       req.Quantity,
		Comment:        req.Comment,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeItemResult(w, http.StatusOK, result)
}

func (h *Handler) removeItems(w http.ResponseWriter, r *http.Request) {
	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	var req removeItemsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.orders.RemoveItems(r.Context(), orders.RemoveItemsCommand{
		IdempotencyKey: key,
		OrderID:        chi.URLParam(r, "orderID"),
		ItemIDs:        req.ItemIDs,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeOrderResult(w, http.StatusOK, result)
}
