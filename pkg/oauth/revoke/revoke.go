package revoke

import (
	"context"
	"net/http"

	"github.com/obot-platform/zoo-mcp-auth/pkg/grant"
	"github.com/obot-platform/zoo-mcp-auth/pkg/handlerutils"
	"go.uber.org/zap"
)

type Revoker interface {
	RevokeToken(ctx context.Context, token, clientID string) error
}

type Handler struct {
	revoker Revoker
}

func NewHandler(revoker Revoker) http.Handler {
	return &Handler{
		revoker: revoker,
	}
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		handlerutils.OAuthError(w, http.StatusBadRequest, grant.ErrorCodeInvalidRequest, "Invalid request body")
		return
	}

	token := r.FormValue("token")
	clientID := r.FormValue("client_id")
	if basicID, _, ok := r.BasicAuth(); ok {
		clientID = basicID
	}

	if token == "" {
		handlerutils.OAuthError(w, http.StatusBadRequest, grant.ErrorCodeInvalidRequest, "Token parameter is required")
		return
	}

	// Unknown tokens and internal failures still get 200 so callers cannot learn which tokens exist.
	if err := p.revoker.RevokeToken(r.Context(), token, clientID); err != nil {
		zap.L().Warn("Failed to revoke token", zap.String("client_id", clientID), zap.Error(err))
	}

	w.WriteHeader(http.StatusOK)
}
