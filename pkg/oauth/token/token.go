package token

import (
	"context"
	"net/http"

	"github.com/obot-platform/zoo-mcp-auth/pkg/grant"
	"github.com/obot-platform/zoo-mcp-auth/pkg/handlerutils"
	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
)

type Exchanger interface {
	ExchangeToken(ctx context.Context, req types.TokenRequest) (*types.TokenResponse, error)
}

type Handler struct {
	exchanger Exchanger
}

func NewHandler(exchanger Exchanger) http.Handler {
	return &Handler{
		exchanger: exchanger,
	}
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		handlerutils.OAuthError(w, http.StatusMethodNotAllowed, grant.ErrorCodeInvalidRequest, "Method not allowed")
		return
	}

	var req types.TokenRequest
	if err := handlerutils.DecodeParams(r, &req); err != nil {
		handlerutils.OAuthError(w, http.StatusBadRequest, grant.ErrorCodeInvalidRequest, "Invalid request body")
		return
	}

	// client_secret_basic takes precedence over credentials in the body
	if clientID, clientSecret, ok := r.BasicAuth(); ok {
		if req.ClientID != "" && req.ClientID != clientID {
			handlerutils.OAuthError(w, http.StatusBadRequest, grant.ErrorCodeInvalidClient,
				"client_id in the body does not match the Authorization header")
			return
		}
		req.ClientID = clientID
		req.ClientSecret = clientSecret
	}

	resp, err := p.exchanger.ExchangeToken(r.Context(), req)
	if err != nil {
		handlerutils.WriteError(w, err)
		return
	}

	handlerutils.JSON(w, http.StatusOK, resp)
}
