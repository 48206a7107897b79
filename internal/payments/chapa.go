package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

var ErrProvider = errors.New("payment provider error")

// Provider is the slice of the gateway API the reconciler relies on.
type Provider interface {
	Initialize(ctx context.Context, req InitializeRequest) (checkoutURL string, err error)
	Verify(ctx context.Context, reference string) (*VerifyResult, error)
}

type InitializeRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Email       string
	FirstName   string
	LastName    string
	Reference   string
	CallbackURL string
	ReturnURL   string
	Title       string
	Description string
}

type VerifyResult struct {
	Status  string          `json:"status"`
	Message json.RawMessage `json:"message,omitempty"`
	Data    struct {
		Status string `json:"status"`
		TxRef  string `json:"tx_ref"`
		Amount any    `json:"amount,omitempty"`
	} `json:"data"`
	Raw json.RawMessage `json:"-"`
}

// Paid reports a verified, successful transaction.
func (v *VerifyResult) Paid() bool {
	return v != nil && v.Status == "success" && v.Data.Status == "success"
}

type ChapaClient struct {
	http *resty.Client
}

func NewChapaClient(baseURL, secretKey string, timeout time.Duration) *ChapaClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(secretKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &ChapaClient{http: c}
}

type initializeResponse struct {
	Status  string          `json:"status"`
	Message json.RawMessage `json:"message"`
	Data    struct {
		CheckoutURL string `json:"checkout_url"`
	} `json:"data"`
}

func (c *ChapaClient) Initialize(ctx context.Context, req InitializeRequest) (string, error) {
	body := map[string]string{
		"amount":                     req.Amount.StringFixed(2),
		"currency":                   req.Currency,
		"email":                      req.Email,
		"first_name":                 req.FirstName,
		"last_name":                  req.LastName,
		"tx_ref":                     req.Reference,
		"callback_url":               req.CallbackURL,
		"return_url":                 req.ReturnURL,
		"customization[title]":       req.Title,
		"customization[description]": req.Description,
	}
	var out initializeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post("/transaction/initialize")
	if err != nil {
		return "", fmt.Errorf("%w: initialize %s: %v", ErrProvider, req.Reference, err)
	}
	if out.Status != "success" || out.Data.CheckoutURL == "" {
		return "", fmt.Errorf("%w: initialize %s: http %d: %s", ErrProvider, req.Reference, resp.StatusCode(), message(out.Message))
	}
	return out.Data.CheckoutURL, nil
}

func (c *ChapaClient) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	var out VerifyResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("ref", reference).
		SetResult(&out).
		SetError(&out).
		Get("/transaction/verify/{ref}")
	if err != nil {
		return nil, fmt.Errorf("%w: verify %s: %v", ErrProvider, reference, err)
	}
	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("%w: verify %s: http %d", ErrProvider, reference, resp.StatusCode())
	}
	out.Raw = json.RawMessage(resp.Body())
	return &out, nil
}

// message renders the provider's message field, which is either a string or
// an object of field errors.
func message(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "unknown error"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
