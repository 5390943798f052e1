package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	x402 "github.com/bus402/x402-video-paylink"
	"github.com/bus402/x402-video-paylink/encoding"
	"github.com/bus402/x402-video-paylink/facilitator"
	"github.com/bus402/x402-video-paylink/pricing"
	"github.com/bus402/x402-video-paylink/receipt"
)

const (
	testPayTo = "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
	testPayer = "0x1111111111111111111111111111111111111111"
)

// fakeFacilitator scripts verify/settle outcomes and counts calls.
type fakeFacilitator struct {
	verifyResp  *facilitator.VerifyResponse
	verifyErr   error
	settleResp  *x402.SettlementResponse
	settleErr   error
	verifyCalls int
	settleCalls int
}

func (f *fakeFacilitator) Verify(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*facilitator.VerifyResponse, error) {
	f.verifyCalls++
	return f.verifyResp, f.verifyErr
}

func (f *fakeFacilitator) Settle(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	f.settleCalls++
	return f.settleResp, f.settleErr
}

func okFacilitator() *fakeFacilitator {
	return &fakeFacilitator{
		verifyResp: &facilitator.VerifyResponse{IsValid: true, Payer: testPayer},
		settleResp: &x402.SettlementResponse{Success: true, Transaction: "0xabc", Network: "base-sepolia", Payer: testPayer},
	}
}

func testTable(t *testing.T) *pricing.Table {
	t.Helper()
	table, err := pricing.NewTable(pricing.Config{
		PayTo: testPayTo,
		Rules: []pricing.Rule{
			{Method: "GET", Pattern: "/stream/*", Scheme: x402.SchemeExact, Price: "0.01", Network: "base-sepolia"},
			{Method: "GET", Pattern: "/stream/**", Scheme: x402.SchemeDeferred, Price: "0.001", Network: "base-sepolia"},
		},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return table
}

func testIssuer(t *testing.T) *receipt.Issuer {
	t.Helper()
	issuer, err := receipt.NewIssuer([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return issuer
}

// exactPaymentHeader builds a syntactically valid exact payment. The fake
// facilitator decides whether it verifies.
func exactPaymentHeader(t *testing.T) string {
	t.Helper()
	header, err := encoding.EncodePayment(x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Scheme:      x402.SchemeExact,
		Network:     "base-sepolia",
		Payload: x402.EVMPayload{
			Signature: "0xsignature",
			Authorization: x402.EVMAuthorization{
				From:  testPayer,
				To:    testPayTo,
				Value: "10000",
			},
		},
	})
	if err != nil {
		t.Fatalf("EncodePayment: %v", err)
	}
	return header
}

func exactHandler(t *testing.T, fc facilitator.Interface, issuer *receipt.Issuer, next http.Handler) http.Handler {
	t.Helper()
	mw := NewExactMiddleware(&ExactConfig{
		Routes:      testTable(t),
		Facilitator: fc,
		Receipts:    issuer,
	})
	return mw(next)
}

func manifestStub() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = w.Write([]byte("#EXTM3U\n"))
	})
}

func decode402(t *testing.T, recorder *httptest.ResponseRecorder) x402.PaymentRequirementsResponse {
	t.Helper()
	if recorder.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", recorder.Code)
	}
	var resp x402.PaymentRequirementsResponse
	if err := json.NewDecoder(recorder.Body).Decode(&resp); err != nil {
		t.Fatalf("decode 402 body: %v", err)
	}
	return resp
}

func TestExactBypassesUnpricedRoutes(t *testing.T) {
	fc := okFacilitator()
	handler := exactHandler(t, fc, testIssuer(t), manifestStub())

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("GET", "http://cdn.example.com/healthz", nil))

	if recorder.Code != http.StatusOK {
		t.Errorf("status = %d, want passthrough 200", recorder.Code)
	}
	if fc.verifyCalls != 0 {
		t.Error("unpriced route must not touch the facilitator")
	}
}

func TestExactNoPaymentReturns402(t *testing.T) {
	handler := exactHandler(t, okFacilitator(), testIssuer(t), manifestStub())

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("GET", "http://cdn.example.com/stream/abc.m3u8", nil))

	resp := decode402(t, recorder)
	if resp.X402Version != x402.ProtocolVersion {
		t.Errorf("x402Version = %d", resp.X402Version)
	}
	if len(resp.Accepts) != 1 {
		t.Fatalf("accepts = %d, want 1", len(resp.Accepts))
	}
	req := resp.Accepts[0]
	if req.Scheme != x402.SchemeExact || req.MaxAmountRequired != "10000" {
		t.Errorf("unexpected requirement: %+v", req)
	}
	if req.Resource != "http://cdn.example.com/stream/abc.m3u8" {
		t.Errorf("resource = %s", req.Resource)
	}
}

func TestExactBrowserGetsPaywall(t *testing.T) {
	handler := exactHandler(t, okFacilitator(), testIssuer(t), manifestStub())

	request := httptest.NewRequest("GET", "http://cdn.example.com/stream/abc.m3u8", nil)
	request.Header.Set("Accept", "text/html,application/xhtml+xml")
	request.Header.Set("User-Agent", "Mozilla/5.0")

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", recorder.Code)
	}
	if ct := recorder.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("Content-Type = %s, want HTML paywall", ct)
	}
	if !strings.Contains(recorder.Body.String(), "x402-requirements") {
		t.Error("paywall missing embedded requirements")
	}
}

func TestExactMalformedPaymentReturns402(t *testing.T) {
	handler := exactHandler(t, okFacilitator(), testIssuer(t), manifestStub())

	request := httptest.NewRequest("GET", "http://cdn.example.com/stream/abc.m3u8", nil)
	request.Header.Set(x402.HeaderPayment, "!!!not-base64!!!")

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	decode402(t, recorder)
}

func TestExactSuccessSettlesAndMintsReceipt(t *testing.T) {
	fc := okFacilitator()
	issuer := testIssuer(t)

	var seen Payment
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = PaymentFromContext(r.Context())
		_, _ = w.Write([]byte("#EXTM3U\n"))
	})
	handler := exactHandler(t, fc, issuer, next)

	request := httptest.NewRequest("GET", "http://cdn.example.com/stream/abc.m3u8", nil)
	request.Header.Set(x402.HeaderPayment, exactPaymentHeader(t))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	if recorder.Body.String() != "#EXTM3U\n" {
		t.Errorf("body = %q", recorder.Body.String())
	}
	if fc.verifyCalls != 1 || fc.settleCalls != 1 {
		t.Errorf("verify=%d settle=%d, want 1/1", fc.verifyCalls, fc.settleCalls)
	}
	if seen.Payer != testPayer || seen.Scheme != x402.SchemeExact {
		t.Errorf("context payment = %+v", seen)
	}

	settlement, err := encoding.DecodeSettlement(recorder.Header().Get(x402.HeaderPaymentResponse))
	if err != nil || !settlement.Success {
		t.Errorf("settlement header missing or invalid: %v", err)
	}

	token := recorder.Header().Get(x402.HeaderReceiptToken)
	if token == "" {
		t.Fatal("no receipt token minted")
	}
	if _, err := issuer.Authorize(token, "http://cdn.example.com/stream/abc.m3u8"); err != nil {
		t.Errorf("receipt does not cover manifest: %v", err)
	}
	if _, err := issuer.Authorize(token, "http://cdn.example.com/stream/abc/seg0.ts"); err != nil {
		t.Errorf("receipt does not cover segments: %v", err)
	}
	if _, err := issuer.Authorize(token, "http://cdn.example.com/stream/xyz.m3u8"); err == nil {
		t.Error("receipt must not cover sibling streams")
	}
}

func TestExactReceiptAdmitsWithoutPayment(t *testing.T) {
	fc := okFacilitator()
	issuer := testIssuer(t)
	handler := exactHandler(t, fc, issuer, manifestStub())

	token, err := issuer.Issue(testPayer, "http://cdn.example.com/stream/abc.m3u8",
		[]string{"http://cdn.example.com/stream/abc*"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	request := httptest.NewRequest("GET", "http://cdn.example.com/stream/abc.m3u8", nil)
	request.Header.Set("Authorization", "Bearer "+token)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	if fc.verifyCalls != 0 || fc.settleCalls != 0 {
		t.Error("receipt admission must not touch the facilitator")
	}
}

func TestExactOutOfScopeReceiptFallsBackTo402(t *testing.T) {
	issuer := testIssuer(t)
	handler := exactHandler(t, okFacilitator(), issuer, manifestStub())

	token, err := issuer.Issue(testPayer, "req", []string{"http://cdn.example.com/stream/xyz*"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	request := httptest.NewRequest("GET", "http://cdn.example.com/stream/abc.m3u8", nil)
	request.Header.Set("Authorization", "Bearer "+token)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	decode402(t, recorder)
}

func TestExactVerifyRejectionReturns402(t *testing.T) {
	fc := &fakeFacilitator{
		verifyResp: &facilitator.VerifyResponse{IsValid: false, InvalidReason: "insufficient_funds"},
	}
	handler := exactHandler(t, fc, testIssuer(t), manifestStub())

	request := httptest.NewRequest("GET", "http://cdn.example.com/stream/abc.m3u8", nil)
	request.Header.Set(x402.HeaderPayment, exactPaymentHeader(t))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	resp := decode402(t, recorder)
	if resp.Error != "insufficient_funds" {
		t.Errorf("error = %q", resp.Error)
	}
	if fc.settleCalls != 0 {
		t.Error("rejected payment must not settle")
	}
}

func TestExactVerifyTransportErrorReturns503(t *testing.T) {
	fc := &fakeFacilitator{verifyErr: errors.New("connection refused")}
	handler := exactHandler(t, fc, testIssuer(t), manifestStub())

	request := httptest.NewRequest("GET", "http://cdn.example.com/stream/abc.m3u8", nil)
	request.Header.Set(x402.HeaderPayment, exactPaymentHeader(t))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", recorder.Code)
	}
}

func TestExactSettlementFailureOverwritesResponse(t *testing.T) {
	fc := okFacilitator()
	fc.settleResp = &x402.SettlementResponse{Success: false, ErrorReason: "authorization_expired"}

	handlerRan := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerRan = true
		_, _ = w.Write([]byte("secret manifest"))
	})
	handler := exactHandler(t, fc, testIssuer(t), next)

	request := httptest.NewRequest("GET", "http://cdn.example.com/stream/abc.m3u8", nil)
	request.Header.Set(x402.HeaderPayment, exactPaymentHeader(t))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if !handlerRan {
		t.Fatal("handler should run before settlement")
	}
	resp := decode402(t, recorder)
	if resp.Error != "authorization_expired" {
		t.Errorf("error = %q", resp.Error)
	}
	if strings.Contains(recorder.Body.String(), "secret manifest") {
		t.Error("handler body leaked after settlement failure")
	}
	if recorder.Header().Get(x402.HeaderReceiptToken) != "" {
		t.Error("no receipt may be minted on settlement failure")
	}
}

func TestExactHandlerErrorSkipsSettlement(t *testing.T) {
	fc := okFacilitator()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	handler := exactHandler(t, fc, testIssuer(t), next)

	request := httptest.NewRequest("GET", "http://cdn.example.com/stream/abc.m3u8", nil)
	request.Header.Set(x402.HeaderPayment, exactPaymentHeader(t))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 passthrough", recorder.Code)
	}
	if fc.settleCalls != 0 {
		t.Error("failed handler must not settle the payment")
	}
	if fc.verifyCalls != 1 {
		t.Errorf("verifyCalls = %d, want 1", fc.verifyCalls)
	}
}
