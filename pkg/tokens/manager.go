package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TypeAccessToken  = "access_token"
	TypeRefreshToken = "refresh_token"
)

// ErrInvalidToken covers every reason a token is rejected: malformed, bad signature, expired,
// wrong issuer or wrong type.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims carried by both access and refresh tokens.
type Claims struct {
	Type     string   `json:"type"`
	ClientID string   `json:"client_id"`
	Scopes   []string `json:"scopes"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies HS256 tokens with a single process-wide secret.
type TokenManager struct {
	secretKey []byte
	issuer    string
	now       func() time.Time
	parser    *jwt.Parser
}

// NewTokenManager creates a token manager. now defaults to time.Now and is used both to stamp
// new tokens and to check expiry.
func NewTokenManager(secretKey []byte, issuer string, now func() time.Time) (*TokenManager, error) {
	if len(secretKey) == 0 {
		return nil, fmt.Errorf("token signing key is required")
	}
	if now == nil {
		now = time.Now
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	return &TokenManager{
		secretKey: secretKey,
		issuer:    issuer,
		now:       now,
		parser:    jwt.NewParser(opts...),
	}, nil
}

// Issue mints a signed token of the given type for subject, valid for ttl.
func (tm *TokenManager) Issue(tokenType, subject, clientID string, scopes []string, ttl time.Duration) (string, time.Time, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate token ID: %w", err)
	}

	now := tm.now()
	expiresAt := jwt.NewNumericDate(expiry(now, ttl))
	claims := Claims{
		Type:     tokenType,
		ClientID: clientID,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.String(),
			Issuer:    tm.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: expiresAt,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt.Time, nil
}

// expiry rounds now+ttl up to a whole second. The exp claim has second precision, so rounding
// down would reject a token before ttl has elapsed.
func expiry(now time.Time, ttl time.Duration) time.Time {
	exp := now.Add(ttl)
	if rounded := exp.Truncate(time.Second); !rounded.Equal(exp) {
		return rounded.Add(time.Second)
	}
	return exp
}

// Parse verifies the signature, expiry and issuer of tokenString and checks that it is of
// tokenType. Every failure is reported as ErrInvalidToken.
func (tm *TokenManager) Parse(tokenString, tokenType string) (*Claims, error) {
	claims := &Claims{}
	token, err := tm.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return tm.secretKey, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Type != tokenType {
		return nil, fmt.Errorf("%w: expected %s, got %q", ErrInvalidToken, tokenType, claims.Type)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// Issuer returns the iss claim stamped on every token, which may be empty.
func (tm *TokenManager) Issuer() string {
	return tm.issuer
}
