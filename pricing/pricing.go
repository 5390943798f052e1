// Package pricing maps incoming requests to priced route rules and builds
// the scheme-specific payment requirements offered in 402 responses.
package pricing

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	x402 "github.com/bus402/x402-video-paylink"
	"github.com/bus402/x402-video-paylink/validation"
)

// Rule prices a set of routes. Patterns are slash-separated: a literal
// segment matches itself, "*" matches exactly one segment, and a trailing
// "**" matches any non-empty suffix. Method "*" matches any method.
type Rule struct {
	// Method is the HTTP method the rule applies to, or "*" for any.
	Method string

	// Pattern is the path pattern (e.g., "/stream/*", "/stream/**").
	Pattern string

	// Scheme selects the payment scheme for matched requests.
	Scheme string

	// Price is the human-readable price in the asset's display units
	// (e.g., "0.01" for one cent of USDC).
	Price string

	// Network is the x402 network identifier the rule settles on.
	Network string

	// Description is an optional human-readable payment description.
	Description string

	// MimeType is the content type of the protected resource.
	MimeType string

	// MaxTimeoutSeconds bounds the payment authorization validity.
	// Defaults to 300.
	MaxTimeoutSeconds int
}

// Config configures a route table.
type Config struct {
	// PayTo is the payee address all rules settle to.
	PayTo string

	// Rules are evaluated in declaration order; the first match wins.
	Rules []Rule
}

// Route is a matched, compiled rule ready to build requirements.
type Route struct {
	// Rule is the original declaration.
	Rule Rule

	// Chain is the resolved chain configuration for the rule's network.
	Chain x402.ChainConfig

	// PayTo is the payee address.
	PayTo string

	// amount is the price converted to atomic units.
	amount *big.Int
}

type compiledRule struct {
	route    Route
	segments []string
}

// Table is an ordered route-to-price table. Construction fails on any
// invalid price, pattern, or address: pricing mistakes are configuration
// errors, never per-request errors.
type Table struct {
	rules []compiledRule
}

// NewTable compiles and validates a route table.
func NewTable(cfg Config) (*Table, error) {
	if err := validation.ValidateAddress(cfg.PayTo); err != nil {
		return nil, fmt.Errorf("pricing: payTo: %w", err)
	}
	if len(cfg.Rules) == 0 {
		return nil, fmt.Errorf("pricing: no rules configured")
	}

	t := &Table{rules: make([]compiledRule, 0, len(cfg.Rules))}
	for i, rule := range cfg.Rules {
		compiled, err := compileRule(rule, cfg.PayTo)
		if err != nil {
			return nil, fmt.Errorf("pricing: rule %d (%s %s): %w", i, rule.Method, rule.Pattern, err)
		}
		t.rules = append(t.rules, compiled)
	}
	return t, nil
}

func compileRule(rule Rule, payTo string) (compiledRule, error) {
	chain, err := x402.ChainByNetwork(rule.Network)
	if err != nil {
		return compiledRule{}, err
	}

	amount, err := atomicAmount(rule.Price, chain.Decimals)
	if err != nil {
		return compiledRule{}, err
	}

	segments, err := splitPattern(rule.Pattern)
	if err != nil {
		return compiledRule{}, err
	}

	if rule.Method == "" {
		return compiledRule{}, fmt.Errorf("method cannot be empty")
	}
	if rule.MaxTimeoutSeconds == 0 {
		rule.MaxTimeoutSeconds = 300
	}
	if rule.MimeType == "" {
		rule.MimeType = "application/json"
	}

	route := Route{Rule: rule, Chain: chain, PayTo: payTo, amount: amount}
	if err := validation.ValidatePaymentRequirement(route.Requirement("")); err != nil {
		return compiledRule{}, err
	}
	return compiledRule{route: route, segments: segments}, nil
}

// atomicAmount converts a decimal price string to atomic units.
func atomicAmount(price string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", price, err)
	}
	if d.Sign() <= 0 {
		return nil, fmt.Errorf("price must be positive, got %q", price)
	}
	atomic := d.Shift(int32(decimals))
	if !atomic.IsInteger() {
		return nil, fmt.Errorf("price %q has more than %d decimal places", price, decimals)
	}
	return atomic.BigInt(), nil
}

func splitPattern(pattern string) ([]string, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("pattern must start with '/': %q", pattern)
	}
	segments := strings.Split(strings.TrimPrefix(pattern, "/"), "/")
	for i, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("pattern has empty segment: %q", pattern)
		}
		if seg == "**" && i != len(segments)-1 {
			return nil, fmt.Errorf("'**' is only valid as the final segment: %q", pattern)
		}
	}
	return segments, nil
}

// Match returns the first rule matching both method and path, or false when
// no rule matches and the request should bypass the gateway.
func (t *Table) Match(method, path string) (*Route, bool) {
	pathSegments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i := range t.rules {
		rule := &t.rules[i]
		if rule.route.Rule.Method != "*" && !strings.EqualFold(rule.route.Rule.Method, method) {
			continue
		}
		if matchSegments(rule.segments, pathSegments) {
			return &rule.route, true
		}
	}
	return nil, false
}

// matchSegments matches pattern segments against path segments. "*" consumes
// exactly one segment; a trailing "**" consumes one or more.
func matchSegments(pattern, path []string) bool {
	for i, seg := range pattern {
		if seg == "**" {
			return len(path) > i
		}
		if i >= len(path) {
			return false
		}
		if seg != "*" && seg != path[i] {
			return false
		}
	}
	return len(pattern) == len(path)
}

// StepAmount returns the route's price in atomic units. For deferred routes
// this is the exact increment each aggregation step must add.
func (r *Route) StepAmount() *big.Int {
	return new(big.Int).Set(r.amount)
}

// Requirement builds the payment requirement for this route. For the exact
// scheme the extra payload carries the asset's EIP-712 domain parameters;
// deferred middlewares replace Extra with the new/aggregation voucher hint.
func (r *Route) Requirement(resource string) x402.PaymentRequirement {
	req := x402.PaymentRequirement{
		Scheme:            r.Rule.Scheme,
		Network:           r.Rule.Network,
		MaxAmountRequired: r.amount.String(),
		Asset:             r.Chain.USDCAddress,
		PayTo:             r.PayTo,
		Resource:          resource,
		Description:       r.Rule.Description,
		MimeType:          r.Rule.MimeType,
		MaxTimeoutSeconds: r.Rule.MaxTimeoutSeconds,
	}
	if r.Rule.Scheme == x402.SchemeExact {
		req.Extra = map[string]interface{}{
			"name":    r.Chain.EIP3009Name,
			"version": r.Chain.EIP3009Version,
		}
	}
	return req
}
