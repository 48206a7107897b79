package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-stock-engine/internal/catalog"
	"github.com/ariefcatur/go-stock-engine/internal/orders"
	"github.com/ariefcatur/go-stock-engine/internal/payments"
	"go.uber.org/zap"
)

const (
	HeaderUserID         = "X-User-Id"
	HeaderUserRole       = "X-User-Role"
	HeaderIdempotencyKey = "Idempotency-Key"
	roleAdmin            = "admin"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}

type stockErrorBody struct {
	Error     string `json:"error"`
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}

// writeError maps domain errors onto status codes. Anything unrecognised is
// logged and reported as a bare 500.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var short *orders.InsufficientStockError
	if errors.As(err, &short) {
		writeJSON(w, http.StatusBadRequest, stockErrorBody{
			Error: short.Error(), ProductID: short.ProductID, Available: short.Available, Requested: short.Requested,
		})
		return
	}

	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, orders.ErrEmptyCart),
		errors.Is(err, orders.ErrNoAddress),
		errors.Is(err, orders.ErrInvalidAddress),
		errors.Is(err, orders.ErrInvalidQuantity),
		errors.Is(err, catalog.ErrInvalidProduct):
		code = http.StatusBadRequest
	case errors.Is(err, orders.ErrAlreadyCompleted),
		errors.Is(err, orders.ErrAlreadyCancelled),
		errors.Is(err, orders.ErrNotCancellable),
		errors.Is(err, orders.ErrNotPayable):
		code = http.StatusConflict
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, orders.ErrUnknownReference):
		code = http.StatusNotFound
	case errors.Is(err, orders.ErrForbidden), errors.Is(err, orders.ErrSignatureMismatch):
		code = http.StatusForbidden
	case errors.Is(err, orders.ErrTransientFailure):
		code = http.StatusServiceUnavailable
	case errors.Is(err, payments.ErrProvider):
		code = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	if code >= http.StatusInternalServerError {
		log.Error("request failed", zap.Int("status", code), zap.Error(err))
		writeJSON(w, code, map[string]string{"error": http.StatusText(code)})
		return
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

type identity struct {
	UserID string
	Admin  bool
}

type identityKey struct{}

// requireUser trusts the identity headers set by the auth gateway in front
// of the service.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if uid == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + HeaderUserID})
			return
		}
		id := identity{UserID: uid, Admin: strings.EqualFold(r.Header.Get(HeaderUserRole), roleAdmin)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !who(r).Admin {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin only"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func who(r *http.Request) identity {
	id, _ := r.Context().Value(identityKey{}).(identity)
	return id
}
