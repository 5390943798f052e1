// Package receipt mints and verifies the bearer tokens issued after a
// successful exact-scheme settlement. Receipts are stateless: validity is
// fully determined by the signature and claims, never by a server-side
// lookup.
package receipt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// DefaultTTL is how long a receipt stays valid after issuance.
const DefaultTTL = 24 * time.Hour

// DefaultIssuer is the iss claim stamped on minted receipts.
const DefaultIssuer = "x402-video-paylink"

var (
	// ErrInvalidToken indicates a token that failed signature or claim checks.
	ErrInvalidToken = errors.New("invalid receipt token")

	// ErrOutOfScope indicates a valid token whose scope does not cover the
	// requested resource.
	ErrOutOfScope = errors.New("resource not covered by receipt scope")
)

// Claims are the receipt's JWT claims: standard issuer/subject/timing plus
// the request descriptor and the URL glob patterns the receipt authorizes.
type Claims struct {
	*jwt.Claims

	// Request describes the resource the settling payment bought.
	Request string `json:"request"`

	// Scope is the set of anchored URL glob patterns the receipt authorizes.
	Scope []string `json:"scope"`
}

// Issuer mints and verifies HS256-signed receipts with a shared secret.
type Issuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// IssuerOption customizes an Issuer.
type IssuerOption func(*Issuer)

// WithTTL overrides the receipt lifetime.
func WithTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) { i.ttl = ttl }
}

// WithIssuerName overrides the iss claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) { i.issuer = name }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer creates an Issuer from a signing key of at least 32 bytes.
func NewIssuer(key []byte, opts ...IssuerOption) (*Issuer, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("receipt: signing key must be at least 32 bytes, got %d", len(key))
	}
	i := &Issuer{
		key:    key,
		issuer: DefaultIssuer,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue mints a receipt for a payer covering the given scope patterns. The
// payer address is lower-cased into the subject claim.
func (i *Issuer) Issue(payer, request string, scope []string) (string, error) {
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: i.key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create receipt signer: %w", err)
	}

	now := i.now()
	claims := &Claims{
		Claims: &jwt.Claims{
			Issuer:   i.issuer,
			Subject:  strings.ToLower(payer),
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Request: request,
		Scope:   scope,
	}

	token, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize receipt: %w", err)
	}
	return token, nil
}

// Verify checks a token's signature, issuer, and expiry, returning its claims.
func (i *Issuer) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims := &Claims{Claims: &jwt.Claims{}}
	if err := parsed.Claims(i.key, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if err := claims.Claims.Validate(jwt.Expected{Issuer: i.issuer, Time: i.now()}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return claims, nil
}

// Authorize verifies a token and checks that its scope covers the requested
// URL. Returns ErrOutOfScope for valid tokens that do not cover the resource.
func (i *Issuer) Authorize(token, requestURL string) (*Claims, error) {
	claims, err := i.Verify(token)
	if err != nil {
		return nil, err
	}
	if !MatchAny(claims.Scope, requestURL) {
		return claims, fmt.Errorf("%w: %s", ErrOutOfScope, requestURL)
	}
	return claims, nil
}
