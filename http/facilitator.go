package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/bus402/x402-video-paylink"
	"github.com/bus402/x402-video-paylink/facilitator"
	"github.com/bus402/x402-video-paylink/retry"
)

// Facilitator call timeouts. Settlement runs a blockchain transaction and
// needs far more headroom than verification.
const (
	DefaultVerifyTimeout = 5 * time.Second
	DefaultSettleTimeout = 60 * time.Second
)

// FacilitatorClient is an HTTP client for x402 facilitator services. It
// implements facilitator.Interface.
type FacilitatorClient struct {
	BaseURL string
	Client  *http.Client

	// FallbackURL is an optional secondary facilitator tried when the
	// primary is unreachable after all retries.
	FallbackURL string

	// Authorization is an optional static Authorization header value sent
	// with every facilitator request.
	Authorization string

	VerifyTimeout time.Duration
	SettleTimeout time.Duration

	// Retry configures backoff for transient transport failures. Zero value
	// disables retries.
	Retry retry.Config
}

// FacilitatorRequest is the request payload sent to the facilitator.
type FacilitatorRequest struct {
	X402Version         int                     `json:"x402Version"`
	PaymentPayload      x402.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirement `json:"paymentRequirements"`
}

// Verify verifies a payment authorization without executing the transaction.
func (c *FacilitatorClient) Verify(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*facilitator.VerifyResponse, error) {
	timeout := c.VerifyTimeout
	if timeout == 0 {
		timeout = DefaultVerifyTimeout
	}

	var verifyResp facilitator.VerifyResponse
	if err := c.post(ctx, "/verify", timeout, payment, requirement, &verifyResp, x402.ErrVerificationFailed); err != nil {
		return nil, err
	}
	return &verifyResp, nil
}

// Settle executes a verified payment on the blockchain.
func (c *FacilitatorClient) Settle(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	timeout := c.SettleTimeout
	if timeout == 0 {
		timeout = DefaultSettleTimeout
	}

	var settlementResp x402.SettlementResponse
	if err := c.post(ctx, "/settle", timeout, payment, requirement, &settlementResp, x402.ErrSettlementFailed); err != nil {
		return nil, err
	}
	return &settlementResp, nil
}

// post sends a facilitator request and decodes the response into out.
// Transport-level failures are retried; HTTP error statuses are not.
func (c *FacilitatorClient) post(ctx context.Context, path string, timeout time.Duration, payment x402.PaymentPayload, requirement x402.PaymentRequirement, out interface{}, statusErr error) error {
	req := FacilitatorRequest{
		X402Version:         x402.ProtocolVersion,
		PaymentPayload:      payment,
		PaymentRequirements: requirement,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal facilitator request: %w", err)
	}

	client := c.Client
	if client == nil {
		client = &http.Client{}
	}

	retryCfg := c.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg.MaxAttempts = 1
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	call := func(baseURL string) ([]byte, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.Authorization != "" {
			httpReq.Header.Set("Authorization", c.Authorization)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: status %d", statusErr, resp.StatusCode)
		}
		return respBody, nil
	}

	body, err := retry.WithRetry(ctx, retryCfg, isTransient, func() ([]byte, error) {
		return call(c.BaseURL)
	})
	if err != nil && c.FallbackURL != "" && isTransient(err) {
		body, err = retry.WithRetry(ctx, retryCfg, isTransient, func() ([]byte, error) {
			return call(c.FallbackURL)
		})
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode facilitator response: %w", err)
	}
	return nil
}

// isTransient treats only transport-level unavailability as retryable.
func isTransient(err error) bool {
	return errors.Is(err, x402.ErrFacilitatorUnavailable)
}
