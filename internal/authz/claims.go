package authz

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
)

// Claims are the bearer-token claims understood by the transport layer.
// The subject is the caller's account id.
type Claims struct {
	Capabilities []Capability `json:"caps,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues and validates HS256 capability tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
}

func NewTokenService(signingKey, issuer string) *TokenService {
	return &TokenService{signingKey: []byte(signingKey), issuer: issuer}
}

// Issue signs a token for caller carrying caps.
func (s *TokenService) Issue(caller id.AccountID, caps []Capability, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Capabilities: caps,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// Validate parses and verifies a token.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	if _, err := id.ParseAccountID(claims.Subject); err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token subject")
	}
	return claims, nil
}

type grantedCapsKey struct{}

// WithGrantedCapabilities stores token-granted capabilities in ctx.
func WithGrantedCapabilities(ctx context.Context, caps []Capability) context.Context {
	return context.WithValue(ctx, grantedCapsKey{}, caps)
}

// ContextGrants authorizes against capabilities placed in the context by the
// authentication middleware. It ignores the caller argument: the middleware
// already bound the token's subject as the caller.
type ContextGrants struct{}

func (ContextGrants) Authorize(ctx context.Context, _ id.AccountID, capability Capability) bool {
	caps, _ := ctx.Value(grantedCapsKey{}).([]Capability)
	for _, c := range caps {
		if c == capability {
			return true
		}
	}
	return false
}
