package validate

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/obot-platform/zoo-mcp-auth/pkg/grant"
	"github.com/obot-platform/zoo-mcp-auth/pkg/handlerutils"
	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
)

type Verifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*types.TokenInfo, error)
}

type TokenValidator struct {
	verifier Verifier
}

func NewTokenValidator(verifier Verifier) *TokenValidator {
	return &TokenValidator{
		verifier: verifier,
	}
}

// WithTokenValidation only lets requests with a valid bearer access token through to next. A
// missing or malformed Authorization header is a 401, a token that fails verification a 403.
func (p *TokenValidator) WithTokenValidation(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			reject(w, r, http.StatusUnauthorized, "Missing Authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			reject(w, r, http.StatusUnauthorized, "Invalid Authorization header format, expected 'Bearer TOKEN'")
			return
		}

		tokenInfo, err := p.verifier.VerifyAccessToken(r.Context(), parts[1])
		if err != nil {
			reject(w, r, http.StatusForbidden, "Invalid or expired token")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), tokenInfoKey{}, tokenInfo)))
	}
}

func reject(w http.ResponseWriter, r *http.Request, status int, description string) {
	resourceMetadataURL := fmt.Sprintf("%s/.well-known/oauth-protected-resource%s", handlerutils.GetBaseURL(r), r.URL.Path)
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer error="%s", error_description="%s", resource_metadata="%s"`,
		grant.ErrorCodeInvalidToken, description, resourceMetadataURL))
	handlerutils.OAuthError(w, status, grant.ErrorCodeInvalidToken, description)
}

// GetTokenInfo returns the verified token of a request that passed WithTokenValidation.
func GetTokenInfo(r *http.Request) *types.TokenInfo {
	info, _ := r.Context().Value(tokenInfoKey{}).(*types.TokenInfo)
	return info
}

type tokenInfoKey struct{}
