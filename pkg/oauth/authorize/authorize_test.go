package authorize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/obot-platform/zoo-mcp-auth/pkg/grant"
	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuthorizer struct {
	got types.AuthRequest
	err error
}

func (f *fakeAuthorizer) StartAuthorization(_ context.Context, req types.AuthRequest) (*types.AuthorizationResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &types.AuthorizationResponse{
		Code:        "the-code",
		State:       req.State,
		RedirectURI: req.RedirectURI,
	}, nil
}

func TestAuthorizeJSON(t *testing.T) {
	authorizer := &fakeAuthorizer{}
	handler := NewHandler(authorizer)

	body := `{"response_type":"code","client_id":"c1","redirect_uri":"http://localhost:3000/callback","state":"s1","username":"johndoe","password":"pass"}`
	r := httptest.NewRequest(http.MethodPost, "/authorize", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "johndoe", authorizer.got.Username)
	assert.Equal(t, "pass", authorizer.got.Password)

	var resp types.AuthorizationResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "the-code", resp.Code)
	assert.Equal(t, "s1", resp.State)
}

func TestAuthorizeFormRedirects(t *testing.T) {
	authorizer := &fakeAuthorizer{}
	handler := NewHandler(authorizer)

	form := url.Values{
		"response_type":         {"code"},
		"client_id":             {"c1"},
		"redirect_uri":          {"http://localhost:3000/callback?keep=1"},
		"state":                 {"s 1"},
		"code_challenge":        {"challenge"},
		"code_challenge_method": {"S256"},
		"username":              {"johndoe"},
		"password":              {"pass"},
	}
	r := httptest.NewRequest(http.MethodPost, "/authorize", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "challenge", authorizer.got.CodeChallenge)
	assert.Equal(t, "S256", authorizer.got.CodeChallengeMethod)

	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "localhost:3000", location.Host)
	assert.Equal(t, "/callback", location.Path)
	assert.Equal(t, "the-code", location.Query().Get("code"))
	assert.Equal(t, "s 1", location.Query().Get("state"))
	assert.Equal(t, "1", location.Query().Get("keep"))
}

func TestAuthorizeErrors(t *testing.T) {
	handler := NewHandler(&fakeAuthorizer{err: grant.InvalidCredentials("invalid username or password")})

	r := httptest.NewRequest(http.MethodPost, "/authorize", strings.NewReader("client_id=c1"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, w.Header().Get("Location"))
	var resp types.OAuthError
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "invalid_credentials", resp.Error)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/authorize", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
