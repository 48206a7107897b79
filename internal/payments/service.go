package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-stock-engine/internal/metrics"
	"github.com/ariefcatur/go-stock-engine/internal/orders"
	"github.com/ariefcatur/go-stock-engine/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const ProviderChapa = "chapa"

type Config struct {
	Currency      string
	CallbackURL   string
	WebhookSecret string
}

// Service covers the payment endpoints: initiate, verify, cancel and the
// provider webhook. No transaction is held across a provider call.
type Service struct {
	store      store.Store
	provider   Provider
	reconciler *Reconciler
	log        *zap.Logger
	cfg        Config
}

func NewService(st store.Store, provider Provider, reconciler *Reconciler, log *zap.Logger, cfg Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = orders.DefaultCurrency
	}
	return &Service{store: st, provider: provider, reconciler: reconciler, log: log, cfg: cfg}
}

type InitiateRequest struct {
	UserID    string
	OrderID   string
	ReturnURL string
	Email     string
	FirstName string
	LastName  string
}

type Initiation struct {
	PaymentID   string `json:"payment_id"`
	Reference   string `json:"tx_ref"`
	CheckoutURL string `json:"checkout_url"`
}

// Initiate records a pending payment for the order and opens a checkout
// session with the provider. A provider failure marks the payment failed.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error) {
	var (
		payment *orders.Payment
		order   *orders.Order
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = tx.GetOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if order.UserID != req.UserID {
			return orders.ErrForbidden
		}
		switch order.Status {
		case orders.StatusPendingPayment, orders.StatusPaymentFailed:
		case orders.StatusCancelled:
			return orders.ErrAlreadyCancelled
		case orders.StatusCompleted:
			return orders.ErrAlreadyCompleted
		default:
			return fmt.Errorf("%w: order is %s", orders.ErrNotPayable, order.Status)
		}
		currency := order.Currency
		if currency == "" {
			currency = s.cfg.Currency
		}
		payment = &orders.Payment{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			Reference: orders.NewPaymentReference(order.Number),
			Amount:    order.TotalAmount,
			Currency:  currency,
			Status:    orders.PaymentPending,
			Provider:  ProviderChapa,
		}
		return tx.InsertPayment(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	url, err := s.provider.Initialize(ctx, InitializeRequest{
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Email:       req.Email,
		FirstName:   orDefault(req.FirstName, "User"),
		LastName:    orDefault(req.LastName, "Customer"),
		Reference:   payment.Reference,
		CallbackURL: s.cfg.CallbackURL,
		ReturnURL:   req.ReturnURL,
		Title:       "Order " + order.Number,
		Description: "Payment for goods",
	})
	if err != nil {
		s.log.Warn("payment initialize failed", zap.String("reference", payment.Reference), zap.Error(err))
		markErr := s.store.InTx(context.WithoutCancel(ctx), func(ctx context.Context, tx store.Tx) error {
			return tx.UpdatePayment(ctx, payment.ID, orders.PaymentFailed, nil)
		})
		if markErr != nil {
			s.log.Error("mark payment failed", zap.String("reference", payment.Reference), zap.Error(markErr))
		}
		return nil, err
	}
	s.log.Info("payment initiated", zap.String("order_id", order.ID), zap.String("reference", payment.Reference))
	return &Initiation{PaymentID: payment.ID, Reference: payment.Reference, CheckoutURL: url}, nil
}

type VerifyStatus string

const (
	VerifySuccess         VerifyStatus = "success"
	VerifyPendingOrFailed VerifyStatus = "pending_or_failed"
)

// Verify confirms a payment synchronously, asking the provider only when the
// local record is not yet successful.
func (s *Service) Verify(ctx context.Context, reference string) (VerifyStatus, Outcome, error) {
	var payment *orders.Payment
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		payment, err = tx.GetPayment(ctx, reference)
		return err
	})
	if errors.Is(err, orders.ErrNotFound) {
		return "", "", fmt.Errorf("%w: %s", orders.ErrUnknownReference, reference)
	}
	if err != nil {
		return "", "", err
	}
	if payment.Status == orders.PaymentSuccess {
		return VerifySuccess, OutcomeAlreadyApplied, nil
	}

	res, err := s.provider.Verify(ctx, reference)
	if err != nil {
		return "", "", err
	}
	if !res.Paid() {
		return VerifyPendingOrFailed, OutcomeIgnored, nil
	}
	outcome, err := s.reconciler.Finalize(ctx, reference, res.Raw)
	if err != nil {
		return "", "", err
	}
	return VerifySuccess, outcome, nil
}

// Cancel voids a payment attempt. Successful payments cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, userID, reference string, isAdmin bool) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		payment, err := tx.LockPayment(ctx, reference)
		if errors.Is(err, orders.ErrNotFound) {
			return fmt.Errorf("%w: %s", orders.ErrUnknownReference, reference)
		}
		if err != nil {
			return err
		}
		order, err := tx.GetOrder(ctx, payment.OrderID)
		if err != nil {
			return err
		}
		if order.UserID != userID && !isAdmin {
			return orders.ErrForbidden
		}
		if payment.Status == orders.PaymentSuccess {
			return fmt.Errorf("%w: cannot cancel a successful payment", orders.ErrAlreadyCompleted)
		}
		return tx.UpdatePayment(ctx, payment.ID, orders.PaymentCancelled, nil)
	})
}

type webhookBody struct {
	TxRef string `json:"tx_ref"`
	Data  struct {
		TxRef string `json:"tx_ref"`
	} `json:"data"`
}

// WebhookReference extracts tx_ref from the top level or from data.tx_ref.
func WebhookReference(body []byte) (string, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return "", fmt.Errorf("decode webhook: %w", err)
	}
	if wb.TxRef != "" {
		return wb.TxRef, nil
	}
	return wb.Data.TxRef, nil
}

// HandleWebhook authenticates a provider delivery, re-verifies the
// transaction with the provider and finalizes it. Nothing is touched unless
// the signature matches.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (Outcome, error) {
	if err := VerifySignature(s.cfg.WebhookSecret, body, signature); err != nil {
		metrics.WebhooksRejected.Inc()
		s.log.Warn("webhook rejected: signature mismatch", zap.Bool("signature_present", signature != ""),
			zap.Int("body_bytes", len(body)))
		return "", err
	}
	ref, err := WebhookReference(body)
	if err != nil {
		return "", err
	}
	if ref == "" {
		return OutcomeIgnored, nil
	}

	res, err := s.provider.Verify(ctx, ref)
	if err != nil {
		return "", err
	}
	if !res.Paid() {
		s.log.Info("webhook not confirmed by provider", zap.String("reference", ref),
			zap.String("status", res.Status), zap.String("tx_status", res.Data.Status))
		return OutcomeIgnored, nil
	}
	outcome, err := s.reconciler.Finalize(ctx, ref, json.RawMessage(body))
	if err != nil {
		return "", err
	}
	s.log.Info("webhook applied", zap.String("reference", ref), zap.String("outcome", string(outcome)))
	return outcome, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
