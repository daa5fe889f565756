package settlement

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/subjective-labs/resolver/pkg/contracts"
)

// settleCapability is the claim value required to submit settlements.
const settleCapability = "oracle:settle"

// Authorizer validates the resolver's capability token before each submit.
// Tokens rotate out from under a long-running process, so the check runs per
// settlement rather than at startup.
type Authorizer struct {
	secret []byte
	token  string
}

func NewAuthorizer(token string, secret []byte) *Authorizer {
	return &Authorizer{secret: secret, token: token}
}

type capabilityClaims struct {
	Capability string `json:"cap"`
	jwt.RegisteredClaims
}

// Authorize checks that the configured token grants the settle capability.
// Failures map to ErrUnauthorizedSigner, which is permanent for the request.
func (a *Authorizer) Authorize() error {
	if a == nil || a.token == "" {
		return fmt.Errorf("%w: no capability token configured", contracts.ErrUnauthorizedSigner)
	}

	var claims capabilityClaims
	_, err := jwt.ParseWithClaims(a.token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("%w: %w", contracts.ErrUnauthorizedSigner, err)
	}
	if claims.Capability != settleCapability {
		return fmt.Errorf("%w: token grants %q", contracts.ErrUnauthorizedSigner, claims.Capability)
	}
	return nil
}

// MintToken issues a capability token. Used by tests and the dev CLI; in
// production the token comes from the key custodian.
func MintToken(secret []byte, ttl time.Duration) (string, error) {
	claims := capabilityClaims{
		Capability: settleCapability,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "resolver",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
