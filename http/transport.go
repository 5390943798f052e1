package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	x402 "github.com/bus402/x402-video-paylink"
	"github.com/bus402/x402-video-paylink/encoding"
)

// Transport is a RoundTripper that answers 402 Payment Required responses.
// On a 402 it selects a signer for one of the offered requirements, signs a
// payment, and retries the request once with the X-PAYMENT header attached.
// Receipt tokens minted by exact-scheme settlements are cached per host and
// presented as bearer credentials on subsequent requests, so a settled
// payment keeps admitting manifest requests until the receipt expires.
type Transport struct {
	// Base is the underlying RoundTripper, http.DefaultTransport when nil.
	Base http.RoundTripper

	// Signers are the available payment signers.
	Signers []x402.Signer

	// Selector chooses the signer and requirement; defaults to
	// x402.DefaultPaymentSelector.
	Selector x402.PaymentSelector

	mu       sync.Mutex
	receipts map[string]string
	vouchers map[string]string
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	selector := t.Selector
	if selector == nil {
		selector = x402.NewDefaultPaymentSelector()
	}

	first := req.Clone(req.Context())
	if token := t.receiptFor(req.URL.Host); token != "" && first.Header.Get("Authorization") == "" {
		first.Header.Set("Authorization", "Bearer "+token)
	}
	// Replay the current voucher so segment requests inside the reuse window
	// are admitted without a fresh signature.
	if cached := t.voucherFor(req.URL.Host); cached != "" && first.Header.Get(x402.HeaderPayment) == "" {
		first.Header.Set(x402.HeaderPayment, cached)
	}

	resp, err := base.RoundTrip(first)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		t.captureReceipt(req.URL.Host, resp)
		return resp, nil
	}

	accepts, err := parsePaymentRequirements(resp)
	resp.Body.Close()
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "failed to parse payment requirements", err)
	}

	payment, err := selector.SelectAndSign(accepts, t.Signers)
	if err != nil {
		return nil, err
	}

	paymentHeader, err := encoding.EncodePayment(*payment)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to encode payment header", err)
	}

	retry := req.Clone(req.Context())
	retry.Header.Set(x402.HeaderPayment, paymentHeader)

	respRetry, err := base.RoundTrip(retry)
	if err != nil {
		return nil, err
	}
	if respRetry.StatusCode < 400 && payment.Scheme == x402.SchemeDeferred {
		t.cacheVoucher(req.URL.Host, paymentHeader)
	}
	t.captureReceipt(req.URL.Host, respRetry)
	return respRetry, nil
}

// receiptFor returns the cached receipt token for a host, if any.
func (t *Transport) receiptFor(host string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.receipts[host]
}

// captureReceipt stores a freshly minted receipt token for future requests.
func (t *Transport) captureReceipt(host string, resp *http.Response) {
	token := resp.Header.Get(x402.HeaderReceiptToken)
	if token == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.receipts == nil {
		t.receipts = make(map[string]string)
	}
	t.receipts[host] = token
}

// voucherFor returns the cached deferred payment header for a host, if any.
func (t *Transport) voucherFor(host string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vouchers[host]
}

// cacheVoucher stores an accepted deferred payment header for replay.
func (t *Transport) cacheVoucher(host, header string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.vouchers == nil {
		t.vouchers = make(map[string]string)
	}
	t.vouchers[host] = header
}

// parsePaymentRequirements extracts the offered requirements from a 402 body.
func parsePaymentRequirements(resp *http.Response) ([]x402.PaymentRequirement, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var offer x402.PaymentRequirementsResponse
	if err := json.Unmarshal(body, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse payment requirements JSON: %w", err)
	}
	if len(offer.Accepts) == 0 {
		return nil, fmt.Errorf("no payment requirements in response")
	}
	return offer.Accepts, nil
}
