// Package storeapi serves the orders table over a PostgREST-compatible REST
// subset and publishes a change event for every successful write.
package storeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderdesk/internal/domain"
	"github.com/joao-fontenele/orderdesk/internal/telemetry"
)

const maxBodyBytes = 1 << 20

type Store interface {
	List(ctx context.Context, q Query) ([]domain.Order, error)
	Create(ctx context.Context, order *domain.Order) (*domain.Order, error)
	UpdateStatus(ctx context.Context, q Query, patch StatusPatch) ([]domain.Order, error)
	Delete(ctx context.Context, q Query) ([]domain.Order, error)
}

type ChangePublisher interface {
	PublishChange(ctx context.Context, event domain.ChangeEvent) error
}

type Handler struct {
	store     Store
	publisher ChangePublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandler builds the orders endpoint. publisher may be nil, in which case
// writes are not announced.
func NewHandler(store Store, publisher ChangePublisher, logger *slog.Logger) *Handler {
	return &Handler{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	path := "/rest/v1/" + domain.OrdersTable
	mux.HandleFunc("GET "+path, telemetry.WithHTTPRoute(h.HandleList))
	mux.HandleFunc("POST "+path, telemetry.WithHTTPRoute(h.requireWriter(h.HandleCreate)))
	mux.HandleFunc("PATCH "+path, telemetry.WithHTTPRoute(h.requireWriter(h.HandleUpdate)))
	mux.HandleFunc("DELETE "+path, telemetry.WithHTTPRoute(h.requireWriter(h.HandleDelete)))
}

// requireWriter admits only roles allowed to change rows. Reads are open to
// every verified role.
func (h *Handler) requireWriter(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := RoleFromContext(r.Context())
		if !writeRoles[role] {
			h.logger.Warn("write denied", "role", role, "method", r.Method)
			h.writeError(w, http.StatusForbidden, "42501", "permission denied for table "+domain.OrdersTable)
			return
		}
		next(w, r)
	}
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseQuery(w, r)
	if !ok {
		return
	}

	orders, err := h.store.List(r.Context(), q)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "XX000", "internal server error")
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

type createOrderRequest struct {
	ID                   string             `json:"id"`
	OrderNumber          string             `json:"order_number"`
	CustomerName         string             `json:"customer_name"`
	CustomerPhone        string             `json:"customer_phone"`
	CustomerAddress      string             `json:"customer_address"`
	Items                []domain.OrderItem `json:"items"`
	Subtotal             *decimal.Decimal   `json:"subtotal"`
	Discount             *decimal.Decimal   `json:"discount"`
	Total                *decimal.Decimal   `json:"total"`
	CouponCode           *string            `json:"coupon_code"`
	DeliveryInstructions *string            `json:"delivery_instructions"`
	CookingInstructions  *string            `json:"cooking_instructions"`
	Status               domain.OrderStatus `json:"status"`
}

// toOrder fills in what the caller may omit: status defaults to pending,
// subtotal to the item sum, discount to zero and total to subtotal minus
// discount.
func (req createOrderRequest) toOrder(now time.Time) (*domain.Order, error) {
	required := []struct{ field, value string }{
		{"order_number", req.OrderNumber},
		{"customer_name", req.CustomerName},
		{"customer_phone", req.CustomerPhone},
		{"customer_address", req.CustomerAddress},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return nil, fmt.Errorf("%s is required", f.field)
		}
	}
	if len(req.Items) == 0 {
		return nil, errors.New("an order needs at least one item")
	}

	sum := decimal.Zero
	for i, item := range req.Items {
		if item.Name == "" || item.Quantity <= 0 || item.Price.IsNegative() {
			return nil, fmt.Errorf("items[%d] needs a name, a positive quantity and a non-negative price", i)
		}
		sum = sum.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	status := req.Status
	if status == "" {
		status = domain.OrderStatusPending
	}
	if !status.Valid() {
		return nil, fmt.Errorf("unknown order status %q", status)
	}

	order := &domain.Order{
		ID:                   req.ID,
		OrderNumber:          req.OrderNumber,
		CustomerName:         req.CustomerName,
		CustomerPhone:        req.CustomerPhone,
		CustomerAddress:      req.CustomerAddress,
		Items:                req.Items,
		Subtotal:             sum,
		Discount:             decimal.Zero,
		CouponCode:           req.CouponCode,
		DeliveryInstructions: req.DeliveryInstructions,
		CookingInstructions:  req.CookingInstructions,
		Status:               status,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if req.Subtotal != nil {
		order.Subtotal = *req.Subtotal
	}
	if req.Discount != nil {
		order.Discount = *req.Discount
	}
	order.Total = order.Subtotal.Sub(order.Discount)
	if req.Total != nil {
		order.Total = *req.Total
	}
	if order.Total.IsNegative() {
		return nil, errors.New("total must not be negative")
	}
	return order, nil
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "PGRST102", "invalid request body")
		return
	}

	order, err := req.toOrder(h.now().UTC())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "23514", err.Error())
		return
	}

	created, err := h.store.Create(r.Context(), order)
	if err != nil {
		h.logger.Error("failed to create order", "error", err)
		h.writeError(w, http.StatusInternalServerError, "XX000", "internal server error")
		return
	}

	h.publish(r.Context(), domain.ChangeEvent{Type: domain.ChangeInsert, Record: created})

	h.logger.Info("order created", "order_id", created.ID, "order_number", created.OrderNumber)
	h.writeRepresentation(w, r, http.StatusCreated, []domain.Order{*created})
}

type patchRequest struct {
	Status    *string `json:"status"`
	UpdatedAt *string `json:"updated_at"`
}

// HandleUpdate accepts only status and updated_at. Any status may replace any
// other; transition rules are left to callers.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseFilteredQuery(w, r)
	if !ok {
		return
	}

	var req patchRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "PGRST102", "body may only set status and updated_at")
		return
	}
	if req.Status == nil {
		h.writeError(w, http.StatusBadRequest, "PGRST102", "status is required")
		return
	}
	status, err := domain.ParseOrderStatus(*req.Status)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "22P02", err.Error())
		return
	}

	patch := StatusPatch{Status: status, UpdatedAt: h.now().UTC()}
	if req.UpdatedAt != nil {
		patch.UpdatedAt, err = domain.ParseTimestamp(*req.UpdatedAt)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "22007", err.Error())
			return
		}
	}

	orders, err := h.store.UpdateStatus(r.Context(), q, patch)
	if err != nil {
		h.logger.Error("failed to update order status", "error", err, "order_id", q.ID)
		h.writeError(w, http.StatusInternalServerError, "XX000", "internal server error")
		return
	}

	for i := range orders {
		h.publish(r.Context(), domain.ChangeEvent{
			Type:      domain.ChangeUpdate,
			Record:    &orders[i],
			OldRecord: &domain.OrderRef{ID: orders[i].ID},
		})
	}

	h.logger.Info("order status updated", "order_id", q.ID, "status", status, "count", len(orders))
	h.writeRepresentation(w, r, http.StatusOK, orders)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseFilteredQuery(w, r)
	if !ok {
		return
	}

	orders, err := h.store.Delete(r.Context(), q)
	if err != nil {
		h.logger.Error("failed to delete orders", "error", err, "order_id", q.ID)
		h.writeError(w, http.StatusInternalServerError, "XX000", "internal server error")
		return
	}

	for _, o := range orders {
		h.publish(r.Context(), domain.ChangeEvent{Type: domain.ChangeDelete, OldRecord: &domain.OrderRef{ID: o.ID}})
	}

	h.logger.Info("orders deleted", "order_id", q.ID, "count", len(orders))
	h.writeRepresentation(w, r, http.StatusOK, orders)
}

func (h *Handler) parseQuery(w http.ResponseWriter, r *http.Request) (Query, bool) {
	q, err := ParseQuery(r.URL.Query())
	if err != nil {
		var qe *QueryError
		if errors.As(err, &qe) && qe.Param == "status" {
			h.writeError(w, http.StatusBadRequest, "22P02", err.Error())
			return Query{}, false
		}
		h.writeError(w, http.StatusBadRequest, "PGRST100", err.Error())
		return Query{}, false
	}
	return q, true
}

// parseFilteredQuery refuses writes that would touch the whole table.
func (h *Handler) parseFilteredQuery(w http.ResponseWriter, r *http.Request) (Query, bool) {
	q, ok := h.parseQuery(w, r)
	if !ok {
		return Query{}, false
	}
	if !q.Filtered() {
		h.writeError(w, http.StatusBadRequest, "21000", "a filter on id or status is required")
		return Query{}, false
	}
	return q, true
}

func (h *Handler) publish(ctx context.Context, event domain.ChangeEvent) {
	if h.publisher == nil {
		return
	}
	event.Table = domain.OrdersTable
	event.CommitTimestamp = h.now().UTC()
	if err := h.publisher.PublishChange(ctx, event); err != nil {
		h.logger.Error("failed to publish order change", "error", err, "order_id", event.OrderID(), "type", event.Type)
	}
}

func (h *Handler) writeRepresentation(w http.ResponseWriter, r *http.Request, status int, orders []domain.Order) {
	if !wantsRepresentation(r.Header.Values("Prefer")) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, status, orders)
}

// wantsRepresentation looks for return=representation among the
// comma-separated preferences of every Prefer header.
func wantsRepresentation(prefer []string) bool {
	for _, header := range prefer {
		for pref := range strings.SplitSeq(header, ",") {
			if strings.TrimSpace(pref) == "return=representation" {
				return true
			}
		}
	}
	return false
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	writeStoreError(w, h.logger, status, code, message)
}

func writeStoreError(w http.ResponseWriter, logger *slog.Logger, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message}); err != nil {
		logger.Error("failed to encode error response", "error", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
