package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type cartItemReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	view, err := h.Cart.Get(ctx, who(r).UserID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handlers) setCartItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemReq
	if err := decode(w, r, &req); err != nil || req.ProductID == "" {
		badRequest(w, "product_id and quantity are required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Cart.SetQuantity(ctx, who(r).UserID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) addCartItem(w http.ResponseWriter, r *http.Request) {
	req := cartItemReq{Quantity: 1}
	if err := decode(w, r, &req); err != nil || req.ProductID == "" {
		badRequest(w, "product_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Cart.AddItem(ctx, who(r).UserID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handlers) removeCartItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Cart.RemoveItem(ctx, who(r).UserID, chi.URLParam(r, "productID")); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) checkStock(w http.ResponseWriter, r *http.Request) {
	req := cartItemReq{Quantity: 1}
	if err := decode(w, r, &req); err != nil || req.ProductID == "" {
		badRequest(w, "product_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	res, err := h.Cart.CheckStock(ctx, who(r).UserID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	code := http.StatusOK
	if !res.Available {
		code = http.StatusBadRequest
	}
	writeJSON(w, code, res)
}
