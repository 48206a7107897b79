package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-stock-engine/internal/orders"
)

// Header names the provider may use for the webhook signature.
var signatureHeaders = []string{"Chapa-Signature", "x-chapa-signature"}

func SignatureFromHeader(h http.Header) string {
	for _, k := range signatureHeaders {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares in constant time. An unset secret rejects every
// delivery.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return orders.ErrSignatureMismatch
	}
	expected := Sign(secret, body)
	if !hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(signature))), []byte(expected)) {
		return orders.ErrSignatureMismatch
	}
	return nil
}
