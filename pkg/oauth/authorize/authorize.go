package authorize

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/obot-platform/zoo-mcp-auth/pkg/grant"
	"github.com/obot-platform/zoo-mcp-auth/pkg/handlerutils"
	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
)

type Authorizer interface {
	StartAuthorization(ctx context.Context, req types.AuthRequest) (*types.AuthorizationResponse, error)
}

type Handler struct {
	authorizer Authorizer
}

func NewHandler(authorizer Authorizer) http.Handler {
	return &Handler{
		authorizer: authorizer,
	}
}

// ServeHTTP accepts the authorization request together with the user's credentials. JSON
// callers get the code in the response body. Form posts, as sent by a browser, are redirected
// back to the client with code and state in the query.
func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		handlerutils.OAuthError(w, http.StatusMethodNotAllowed, grant.ErrorCodeInvalidRequest, "Method not allowed")
		return
	}

	var authReq types.AuthRequest
	if err := handlerutils.DecodeParams(r, &authReq); err != nil {
		handlerutils.OAuthError(w, http.StatusBadRequest, grant.ErrorCodeInvalidRequest, "Failed to parse request body")
		return
	}

	resp, err := p.authorizer.StartAuthorization(r.Context(), authReq)
	if err != nil {
		handlerutils.WriteError(w, err)
		return
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		handlerutils.JSON(w, http.StatusOK, resp)
		return
	}

	parsedURL, err := url.Parse(resp.RedirectURI)
	if err != nil {
		handlerutils.OAuthError(w, http.StatusInternalServerError, grant.ErrorCodeServerError, "Invalid redirect URL")
		return
	}

	query := parsedURL.Query()
	query.Set("code", resp.Code)
	if resp.State != "" {
		query.Set("state", resp.State)
	}
	parsedURL.RawQuery = query.Encode()

	http.Redirect(w, r, parsedURL.String(), http.StatusFound)
}
