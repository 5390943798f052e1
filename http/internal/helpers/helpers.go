// Package helpers provides shared plumbing for the payment middlewares:
// header parsing, 402 responses, and response-header encoding. It is used by
// the stdlib, Chi, and Gin surfaces to ensure consistent behavior.
package helpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	x402 "github.com/bus402/x402-video-paylink"
	"github.com/bus402/x402-video-paylink/encoding"
)

// ParsePaymentHeaderFromRequest parses the X-PAYMENT header and returns the
// payment payload.
//
// Returns x402.ErrMalformedHeader if the header is missing, invalid base64,
// or invalid JSON, and x402.ErrUnsupportedVersion if the version is not 1.
func ParsePaymentHeaderFromRequest(r *http.Request) (x402.PaymentPayload, error) {
	var payment x402.PaymentPayload

	headerValue := r.Header.Get(x402.HeaderPayment)
	if headerValue == "" {
		return payment, x402.ErrMalformedHeader
	}

	payment, err := encoding.DecodePayment(headerValue)
	if err != nil {
		return payment, fmt.Errorf("%w: %v", x402.ErrMalformedHeader, err)
	}

	if payment.X402Version != x402.ProtocolVersion {
		return payment, x402.ErrUnsupportedVersion
	}

	return payment, nil
}

// BearerToken extracts a bearer token from the Authorization header, if any.
func BearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}

// ResourceURL rebuilds the fully qualified URL of the incoming request.
func ResourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.RequestURI
}

// IsBrowserRequest classifies a request as browser-originated: the client
// accepts HTML and sends a browser-like user agent.
func IsBrowserRequest(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html") &&
		strings.Contains(r.Header.Get("User-Agent"), "Mozilla")
}

// SendPaymentRequired sends a 402 Payment Required JSON response carrying
// the error message and the accepted payment requirements.
func SendPaymentRequired(w http.ResponseWriter, errorMessage string, requirements []x402.PaymentRequirement) {
	response := x402.PaymentRequirementsResponse{
		X402Version: x402.ProtocolVersion,
		Error:       errorMessage,
		Accepts:     requirements,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	// Encoding errors are unrecoverable here; the 402 status is already out.
	_ = json.NewEncoder(w).Encode(response)
}

// AddSettlementHeader adds the X-PAYMENT-RESPONSE header with base64-encoded
// settlement information.
func AddSettlementHeader(h http.Header, settlement x402.SettlementResponse) error {
	encoded, err := encoding.EncodeSettlement(settlement)
	if err != nil {
		return err
	}
	h.Set(x402.HeaderPaymentResponse, encoded)
	return nil
}

// AddAckHeader adds the X-PAYMENT-RESPONSE header with a base64-encoded
// deferred acknowledgement.
func AddAckHeader(h http.Header, ack x402.DeferredAck) error {
	encoded, err := encoding.EncodeAck(ack)
	if err != nil {
		return err
	}
	h.Set(x402.HeaderPaymentResponse, encoded)
	return nil
}
