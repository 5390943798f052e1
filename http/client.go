package http

import (
	"net/http"

	x402 "github.com/bus402/x402-video-paylink"
	"github.com/bus402/x402-video-paylink/encoding"
)

// Client is an HTTP client that pays its way through 402 responses. It wraps
// a standard http.Client with a payment-aware Transport.
type Client struct {
	*http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// NewClient creates a payment-enabled HTTP client.
func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{Client: &http.Client{}}
	if client.Transport == nil {
		client.Transport = http.DefaultTransport
	}

	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// WithHTTPClient sets a custom underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) error {
		c.Client = httpClient
		if c.Transport == nil {
			c.Transport = http.DefaultTransport
		}
		return nil
	}
}

// WithSigner adds a payment signer. Multiple signers can be added; the
// selector picks the appropriate one per 402 offer.
func WithSigner(signer x402.Signer) ClientOption {
	return func(c *Client) error {
		transport := getOrCreateTransport(c)
		transport.Signers = append(transport.Signers, signer)
		return nil
	}
}

// WithSelector sets a custom payment selector.
func WithSelector(selector x402.PaymentSelector) ClientOption {
	return func(c *Client) error {
		getOrCreateTransport(c).Selector = selector
		return nil
	}
}

// getOrCreateTransport wraps the client's transport in a payment-aware
// Transport if it is not one already.
func getOrCreateTransport(c *Client) *Transport {
	transport, ok := c.Transport.(*Transport)
	if !ok {
		transport = &Transport{Base: c.Transport}
		c.Transport = transport
	}
	return transport
}

// GetSettlement extracts settlement information from a response. Returns nil
// when no settlement header is present or it cannot be parsed.
func GetSettlement(resp *http.Response) *x402.SettlementResponse {
	headerValue := resp.Header.Get(x402.HeaderPaymentResponse)
	if headerValue == "" {
		return nil
	}
	settlement, err := encoding.DecodeSettlement(headerValue)
	if err != nil {
		return nil
	}
	return &settlement
}

// GetAck extracts a deferred acknowledgement from a response. Returns nil
// when no ack header is present or it cannot be parsed.
func GetAck(resp *http.Response) *x402.DeferredAck {
	headerValue := resp.Header.Get(x402.HeaderPaymentResponse)
	if headerValue == "" {
		return nil
	}
	ack, err := encoding.DecodeAck(headerValue)
	if err != nil {
		return nil
	}
	return &ack
}

// GetReceiptToken extracts the minted receipt token from a response, if any.
func GetReceiptToken(resp *http.Response) string {
	return resp.Header.Get(x402.HeaderReceiptToken)
}
