package httpx

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/go-stock-engine/internal/payments"
)

type InitiatePaymentReq struct {
	OrderID   string `json:"order_id"`
	ReturnURL string `json:"return_url"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type paymentRefReq struct {
	TxRef string `json:"tx_ref"`
}

type verifyResp struct {
	Status  payments.VerifyStatus `json:"status"`
	Outcome payments.Outcome      `json:"outcome,omitempty"`
}

func (h *Handlers) initiatePayment(w http.ResponseWriter, r *http.Request) {
	var req InitiatePaymentReq
	if err := decode(w, r, &req); err != nil || req.OrderID == "" {
		badRequest(w, "order_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	in, err := h.Payments.Initiate(ctx, payments.InitiateRequest{
		UserID:    who(r).UserID,
		OrderID:   req.OrderID,
		ReturnURL: req.ReturnURL,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, in)
}

func (h *Handlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("tx_ref")
	if ref == "" {
		badRequest(w, "tx_ref is required")
		return
	}
	h.verify(w, r, ref)
}

// paymentReturn serves the browser redirect after checkout. The query string
// is only a hint; the outcome comes from re-verifying with the provider.
func (h *Handlers) paymentReturn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := q.Get("tx_ref")
	if ref == "" {
		ref = q.Get("trx_ref")
	}
	if ref == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	h.verify(w, r, ref)
}

func (h *Handlers) verify(w http.ResponseWriter, r *http.Request, ref string) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	status, outcome, err := h.Payments.Verify(ctx, ref)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResp{Status: status, Outcome: outcome})
}

func (h *Handlers) cancelPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRefReq
	if err := decode(w, r, &req); err != nil || req.TxRef == "" {
		badRequest(w, "tx_ref is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := who(r)
	if err := h.Payments.Cancel(ctx, id.UserID, req.TxRef, id.Admin); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handlers) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		badRequest(w, "unreadable body")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	outcome, err := h.Payments.HandleWebhook(ctx, body, payments.SignatureFromHeader(r.Header))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}
