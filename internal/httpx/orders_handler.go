package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-stock-engine/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CreateOrderReq struct {
	AddressID string `json:"address_id"`
}

type CreateOrderResp struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Status      orders.Status   `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	Idempotent  bool            `json:"idempotent"`
}

func orderResp(o *orders.Order, idempotent bool) CreateOrderResp {
	return CreateOrderResp{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		Status:      o.Status,
		TotalAmount: o.TotalAmount,
		Currency:    o.Currency,
		Idempotent:  idempotent,
	}
}

func (h *Handlers) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid json")
		return
	}
	user := who(r).UserID

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	// Fast-path idempotency via Redis; Postgres stays the source of truth.
	key := r.Header.Get(HeaderIdempotencyKey)
	claimed := false
	if key != "" && h.Cache != nil {
		existing, ok, err := h.Cache.ClaimIdempotencyKey(ctx, user, key)
		switch {
		case err != nil:
			h.Log.Warn("idempotency cache unavailable", zap.Error(err))
		case ok:
			claimed = true
		case existing != "":
			o, err := h.Checkout.GetOrder(ctx, existing)
			if err != nil {
				writeError(w, h.Log, err)
				return
			}
			writeJSON(w, http.StatusOK, orderResp(o, true))
			return
		default:
			writeJSON(w, http.StatusConflict, map[string]string{"error": "a request with this Idempotency-Key is in progress"})
			return
		}
	}

	o, err := h.Checkout.CreateOrder(ctx, user, req.AddressID)
	if err != nil {
		if claimed {
			if rerr := h.Cache.ReleaseIdempotencyKey(context.WithoutCancel(ctx), user, key); rerr != nil {
				h.Log.Warn("release idempotency key", zap.Error(rerr))
			}
		}
		writeError(w, h.Log, err)
		return
	}

	if claimed {
		if err := h.Cache.CompleteIdempotencyKey(ctx, user, key, o.ID); err != nil {
			h.Log.Warn("store idempotency key", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusCreated, orderResp(o, false))
}

// loadOwnOrder fetches the order and enforces that the caller owns it,
// unless the caller is staff.
func (h *Handlers) loadOwnOrder(ctx context.Context, r *http.Request) (*orders.Order, error) {
	o, err := h.Checkout.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if id := who(r); o.UserID != id.UserID && !id.Admin {
		return nil, orders.ErrForbidden
	}
	return o, nil
}

func (h *Handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.loadOwnOrder(ctx, r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handlers) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if h.Cache != nil {
		v, ok, err := h.Cache.StatusView(ctx, chi.URLParam(r, "id"))
		if err != nil {
			h.Log.Warn("status cache read", zap.Error(err))
		}
		if ok {
			if id := who(r); v.UserID != id.UserID && !id.Admin {
				writeError(w, h.Log, orders.ErrForbidden)
				return
			}
			w.Header().Set("X-Cache", "hit")
			writeJSON(w, http.StatusOK, v)
			return
		}
	}

	// 2) database
	o, err := h.loadOwnOrder(ctx, r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, statusView(o))
}

func (h *Handlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.loadOwnOrder(ctx, r)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	o, err = h.Checkout.CancelOrder(ctx, o.ID, !who(r).Admin)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.dropStatus(ctx, o.ID)
	writeJSON(w, http.StatusOK, o)
}

func statusView(o *orders.Order) orders.StatusView {
	return orders.StatusView{OrderID: o.ID, UserID: o.UserID, Status: o.Status, UpdatedAt: o.UpdatedAt}
}

func (h *Handlers) cacheStatus(ctx context.Context, o *orders.Order) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.PutStatusView(ctx, statusView(o)); err != nil {
		h.Log.Warn("status cache write", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (h *Handlers) dropStatus(ctx context.Context, orderID string) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.InvalidateStatus(ctx, orderID); err != nil {
		h.Log.Warn("status cache invalidate", zap.String("order_id", orderID), zap.Error(err))
	}
}
