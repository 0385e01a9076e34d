package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		t.Setenv("MODE", "")
		t.Setenv("PORT", "")
		t.Setenv("MCP_SERVER_URL", "http://localhost:8081")
		t.Setenv("OAUTH_CLIENT_ID", "")
		t.Setenv("SCOPES_SUPPORTED", "")

		config, err := LoadConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, ModeProxy, config.Mode)
		assert.Equal(t, "3000", config.Port)
		assert.Equal(t, "zoo-animal-mcp-client", config.BootstrapClientID)
		assert.Equal(t, "read_animals,list_animals", config.ScopesSupported)
		assert.Contains(t, config.AllowedRedirectURIs, "http://localhost:3000/callback")
		assert.Equal(t, 15*time.Minute, config.RateLimitWindow)
		assert.Equal(t, 5000, config.RateLimitMax)
	})

	t.Run("CustomValues", func(t *testing.T) {
		t.Setenv("MODE", ModeMiddleware)
		t.Setenv("MCP_SERVER_URL", "")
		t.Setenv("PORT", "9090")
		t.Setenv("RATE_LIMIT_WINDOW", "1m")
		t.Setenv("RATE_LIMIT_MAX", "10")

		config, err := LoadConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, ModeMiddleware, config.Mode)
		assert.Equal(t, "9090", config.Port)
		assert.Equal(t, time.Minute, config.RateLimitWindow)
		assert.Equal(t, 10, config.RateLimitMax)
	})

	t.Run("InvalidRateLimit", func(t *testing.T) {
		t.Setenv("MODE", ModeMiddleware)
		t.Setenv("RATE_LIMIT_MAX", "many")

		config, err := LoadConfigFromEnv()
		assert.Nil(t, config)
		assert.ErrorContains(t, err, "RATE_LIMIT_MAX")
	})

	t.Run("InvalidMode", func(t *testing.T) {
		t.Setenv("MODE", "invalid_mode")

		config, err := LoadConfigFromEnv()
		assert.Nil(t, config)
		assert.ErrorContains(t, err, "invalid mode: invalid_mode")
	})

	t.Run("ProxyModeDefaultsMCPServerURL", func(t *testing.T) {
		t.Setenv("MODE", ModeProxy)
		t.Setenv("MCP_SERVER_URL", "")

		config, err := LoadConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, DefaultMCPServerURL, config.MCPServerURL)
	})

	t.Run("ProxyModeRejectsInvalidMCPServerURL", func(t *testing.T) {
		t.Setenv("MODE", ModeProxy)
		t.Setenv("MCP_SERVER_URL", "localhost")

		config, err := LoadConfigFromEnv()
		assert.Nil(t, config)
		assert.ErrorContains(t, err, "invalid MCP server URL")
	})

	t.Run("MCPServerURL", func(t *testing.T) {
		testCases := []struct {
			name  string
			url   string
			valid bool
		}{
			{"HTTP", "http://localhost:8081", true},
			{"HTTPSWithPort", "https://api.example.com:8443", true},
			{"TrailingSlash", "http://localhost:8081/", true},
			{"WithPath", "http://localhost:8081/path", false},
			{"WithQuery", "http://localhost:8081?query=value", false},
			{"WithFragment", "http://localhost:8081#fragment", false},
			{"InvalidScheme", "ftp://localhost:8081", false},
			{"NoScheme", "localhost:8081", false},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				t.Setenv("MODE", ModeProxy)
				t.Setenv("MCP_SERVER_URL", tc.url)

				config, err := LoadConfigFromEnv()
				if tc.valid {
					require.NoError(t, err)
					assert.Equal(t, tc.url, config.MCPServerURL)
				} else {
					assert.Error(t, err)
					assert.Nil(t, config)
				}
			})
		}
	})
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"read_animals", "list_animals"}, ParseList(" read_animals , list_animals,"))
	assert.Empty(t, ParseList(""))
}

func TestSetHeaders(t *testing.T) {
	t.Run("AllProperties", func(t *testing.T) {
		header := make(http.Header)
		setHeaders(header, &types.TokenInfo{
			UserID:   "johndoe",
			ClientID: "client-1",
			Scopes:   []string{"read_animals", "list_animals"},
		})

		assert.Equal(t, "johndoe", header.Get("X-Forwarded-User"))
		assert.Equal(t, "client-1", header.Get("X-Forwarded-Client-Id"))
		assert.Equal(t, "read_animals list_animals", header.Get("X-Forwarded-Scopes"))
	})

	t.Run("OverwritesClientSuppliedHeaders", func(t *testing.T) {
		header := make(http.Header)
		header.Set("X-Forwarded-User", "admin")
		header.Set("X-Forwarded-Scopes", "everything")

		setHeaders(header, &types.TokenInfo{UserID: "janedohe"})

		assert.Equal(t, "janedohe", header.Get("X-Forwarded-User"))
		assert.Empty(t, header.Get("X-Forwarded-Scopes"))
	})

	t.Run("NilTokenInfo", func(t *testing.T) {
		header := make(http.Header)
		header.Set("X-Forwarded-User", "admin")

		setHeaders(header, nil)
		assert.Empty(t, header.Get("X-Forwarded-User"))
	})
}

type flow struct {
	t       *testing.T
	handler http.Handler
}

func (f *flow) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func (f *flow) postJSON(path string, body any, out any) *httptest.ResponseRecorder {
	data, err := json.Marshal(body)
	require.NoError(f.t, err)
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(data)))
	r.Header.Set("Content-Type", "application/json")
	w := f.do(r)
	if out != nil && w.Code < 300 {
		require.NoError(f.t, json.NewDecoder(w.Body).Decode(out))
	}
	return w
}

func (f *flow) postForm(path string, form url.Values, out any) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := f.do(r)
	if out != nil && w.Code < 300 {
		require.NoError(f.t, json.NewDecoder(w.Body).Decode(out))
	}
	return w
}

func (f *flow) get(path, accessToken string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	if accessToken != "" {
		r.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return f.do(r)
}

// login registers a client and runs the authorization code grant, returning the tokens.
func (f *flow) login() (*types.ClientRegistration, *types.TokenResponse) {
	var reg types.ClientRegistration
	w := f.postJSON("/register", map[string]any{
		"redirect_uris": []string{"http://localhost:3000/callback"},
		"client_name":   "Zoo Test",
	}, &reg)
	require.Equal(f.t, http.StatusCreated, w.Code, w.Body.String())

	var auth types.AuthorizationResponse
	w = f.postJSON("/authorize", types.AuthRequest{
		ResponseType: "code",
		ClientID:     reg.ClientID,
		RedirectURI:  "http://localhost:3000/callback",
		State:        "xyz",
		Username:     "johndoe",
		Password:     "pass",
	}, &auth)
	require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(f.t, "xyz", auth.State)

	var tokens types.TokenResponse
	w = f.postForm("/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {auth.Code},
		"redirect_uri":  {"http://localhost:3000/callback"},
		"client_id":     {reg.ClientID},
		"client_secret": {reg.ClientSecret},
	}, &tokens)
	require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())

	return &reg, &tokens
}

func newTestProxy(t *testing.T, config *types.Config) *OAuthProxy {
	t.Helper()
	if config.Users == "" {
		config.Users = "johndoe:pass,janedohe:pass"
	}
	if config.BootstrapClientID == "" {
		config.BootstrapClientID = "zoo-animal-mcp-client"
		config.BootstrapClientSecret = "your-client-secret"
	}
	p, err := NewOAuthProxy(config, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, p.Close())
	})
	return p
}

func TestProxyModeFlow(t *testing.T) {
	upstreamRequests := make(chan *http.Request, 1)
	mcpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamRequests <- r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"animals":["lion"]}`))
	}))
	defer mcpServer.Close()

	p := newTestProxy(t, &types.Config{MCPServerURL: mcpServer.URL})
	f := &flow{t: t, handler: p.GetHandler()}
	reg, tokens := f.login()

	t.Run("TokenInfo", func(t *testing.T) {
		w := f.get("/tokeninfo", tokens.AccessToken)
		require.Equal(t, http.StatusOK, w.Code)

		var info types.TokenInfo
		require.NoError(t, json.NewDecoder(w.Body).Decode(&info))
		assert.Equal(t, "johndoe", info.UserID)
		assert.Equal(t, reg.ClientID, info.ClientID)
		assert.Equal(t, []string{"read_animals", "list_animals"}, info.Scopes)
	})

	t.Run("ProxiesMCPRequests", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/mcp/tools?page=2", strings.NewReader(`{}`))
		r.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
		r.Header.Set("X-Forwarded-User", "admin")
		w := f.do(r)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "lion")
		upstream := <-upstreamRequests
		assert.Equal(t, "/mcp/tools", upstream.URL.Path)
		assert.Equal(t, "2", upstream.URL.Query().Get("page"))
		assert.Equal(t, "johndoe", upstream.Header.Get("X-Forwarded-User"))
		assert.Equal(t, reg.ClientID, upstream.Header.Get("X-Forwarded-Client-Id"))
		assert.Empty(t, upstream.Header.Get("Authorization"))
	})

	t.Run("MissingToken", func(t *testing.T) {
		w := f.get("/mcp", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
		assert.Contains(t, w.Header().Get("WWW-Authenticate"), "/.well-known/oauth-protected-resource/mcp")
	})

	t.Run("InvalidToken", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, f.get("/mcp", "not-a-token").Code)
		assert.Equal(t, http.StatusForbidden, f.get("/tokeninfo", tokens.RefreshToken).Code)
	})

	t.Run("Clients", func(t *testing.T) {
		w := f.get("/clients", tokens.AccessToken)
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), reg.ClientSecret)
		assert.NotContains(t, w.Body.String(), "grant_types")

		var list types.ClientList
		require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
		assert.Equal(t, len(list.RegisteredClients), list.TotalCount)

		byID := map[string]types.ClientSummary{}
		for _, c := range list.RegisteredClients {
			byID[c.ClientID] = c
		}
		require.Contains(t, byID, reg.ClientID)
		require.Contains(t, byID, "zoo-animal-mcp-client")
		assert.Equal(t, "Zoo Test", byID[reg.ClientID].ClientName)
		assert.Equal(t, []string{"http://localhost:3000/callback"}, byID[reg.ClientID].RedirectURIs)
	})

	t.Run("FormPostRedirectsToCallback", func(t *testing.T) {
		w := f.postForm("/authorize", url.Values{
			"response_type": {"code"},
			"client_id":     {reg.ClientID},
			"redirect_uri":  {"http://localhost:3000/callback"},
			"state":         {"from-browser"},
			"username":      {"janedohe"},
			"password":      {"pass"},
		}, nil)
		require.Equal(t, http.StatusFound, w.Code, w.Body.String())

		location, err := url.Parse(w.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "/callback", location.Path)

		w = f.get(location.RequestURI(), "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var callback types.CallbackResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&callback))
		assert.Equal(t, "from-browser", callback.State)
		assert.Equal(t, location.Query().Get("code"), callback.AuthorizationCode)
		assert.Contains(t, callback.NextStep, "http://example.com/token")

		var exchanged types.TokenResponse
		w = f.postForm("/token", url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {callback.AuthorizationCode},
			"redirect_uri":  {"http://localhost:3000/callback"},
			"client_id":     {reg.ClientID},
			"client_secret": {reg.ClientSecret},
		}, &exchanged)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.NotEmpty(t, exchanged.AccessToken)
	})

	t.Run("RefreshAndRevoke", func(t *testing.T) {
		refresh := url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {tokens.RefreshToken},
			"client_id":     {reg.ClientID},
		}

		var refreshed types.TokenResponse
		w := f.postForm("/token", refresh, &refreshed)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.NotEmpty(t, refreshed.AccessToken)
		assert.Empty(t, refreshed.RefreshToken)

		w = f.postForm("/revoke", url.Values{"token": {tokens.RefreshToken}, "client_id": {reg.ClientID}}, nil)
		assert.Equal(t, http.StatusOK, w.Code)

		w = f.postForm("/token", refresh, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid_grant")
	})

	t.Run("CodeReplay", func(t *testing.T) {
		var auth types.AuthorizationResponse
		f.postJSON("/authorize", types.AuthRequest{
			ResponseType: "code",
			ClientID:     reg.ClientID,
			RedirectURI:  "http://localhost:3000/callback",
			Username:     "janedohe",
			Password:     "pass",
		}, &auth)

		exchange := url.Values{
			"grant_type":   {"authorization_code"},
			"code":         {auth.Code},
			"redirect_uri": {"http://localhost:3000/callback"},
		}
		r := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(exchange.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		r.SetBasicAuth(reg.ClientID, reg.ClientSecret)
		require.Equal(t, http.StatusOK, f.do(r).Code)

		r = httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(exchange.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		r.SetBasicAuth(reg.ClientID, reg.ClientSecret)
		w := f.do(r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid_grant")
	})

	t.Run("BadCredentials", func(t *testing.T) {
		w := f.postJSON("/authorize", types.AuthRequest{
			ResponseType: "code",
			ClientID:     reg.ClientID,
			RedirectURI:  "http://localhost:3000/callback",
			Username:     "johndoe",
			Password:     "wrong",
		}, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "invalid_credentials")
	})
}

func TestDiscovery(t *testing.T) {
	p := newTestProxy(t, &types.Config{Mode: ModeMiddleware})
	f := &flow{t: t, handler: p.GetHandler()}

	for _, path := range []string{"/.well-known/oauth-authorization-server", "/.well-known/openid-configuration"} {
		w := f.get(path, "")
		require.Equal(t, http.StatusOK, w.Code)

		var md types.OAuthMetadata
		require.NoError(t, json.NewDecoder(w.Body).Decode(&md))
		assert.Equal(t, "http://example.com", md.Issuer)
		assert.Equal(t, "http://example.com/authorize", md.AuthorizationEndpoint)
		assert.Equal(t, "http://example.com/token", md.TokenEndpoint)
		assert.Equal(t, "http://example.com/register", md.RegistrationEndpoint)
		assert.Contains(t, md.CodeChallengeMethodsSupported, "S256")
	}

	w := f.get("/.well-known/oauth-protected-resource", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resource types.OAuthProtectedResourceMetadata
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resource))
	assert.Equal(t, "http://example.com/mcp", resource.Resource)
	assert.Equal(t, []string{"http://example.com"}, resource.AuthorizationServers)

	w = f.get("/.well-known/oauth-protected-resource/mcp/tools", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resource))
	assert.Equal(t, "http://example.com/mcp/tools", resource.Resource)

	w = f.get("/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestProtectedResourceMetadataScopes(t *testing.T) {
	p := newTestProxy(t, &types.Config{Mode: ModeMiddleware})
	f := &flow{t: t, handler: p.GetHandler()}

	w := f.get("/.well-known/oauth-protected-resource/mcp", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resource types.OAuthProtectedResourceMetadata
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resource))
	assert.Equal(t, []string{"read_animals", "list_animals"}, resource.ScopesRequired)
	assert.Equal(t, "http://example.com/", resource.ResourceDocumentation)
}

func TestCallback(t *testing.T) {
	p := newTestProxy(t, &types.Config{Mode: ModeMiddleware})
	f := &flow{t: t, handler: p.GetHandler()}

	tests := []struct {
		name      string
		query     string
		wantError string
		wantDesc  string
	}{
		{name: "error", query: "?error=access_denied", wantError: "access_denied", wantDesc: "Authorization failed"},
		{name: "error with description", query: "?error=access_denied&error_description=denied+by+user", wantError: "access_denied", wantDesc: "denied by user"},
		{name: "no code", query: "", wantError: "invalid_request", wantDesc: "code is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.get("/callback"+tt.query, "")
			require.Equal(t, http.StatusBadRequest, w.Code)

			var oauthErr types.OAuthError
			require.NoError(t, json.NewDecoder(w.Body).Decode(&oauthErr))
			assert.Equal(t, tt.wantError, oauthErr.Error)
			assert.Equal(t, tt.wantDesc, oauthErr.ErrorDescription)
		})
	}
}

func TestServiceInfo(t *testing.T) {
	p := newTestProxy(t, &types.Config{Mode: ModeMiddleware, Version: "1.2.3"})
	f := &flow{t: t, handler: p.GetHandler()}

	w := f.get("/", "")
	require.Equal(t, http.StatusOK, w.Code)

	var info types.ServiceInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&info))
	assert.Equal(t, "Zoo Animal MCP Server", info.Name)
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "http://example.com/mcp", info.Endpoints["mcp"])
	assert.Equal(t, "http://example.com/callback", info.Endpoints["callback"])
	assert.Equal(t, "http://example.com/token", info.OAuth.TokenURL)
	assert.Equal(t, "zoo-animal-mcp-client", info.OAuth.ClientID)
	assert.Equal(t, []string{"read_animals", "list_animals"}, info.OAuth.Scopes)
	assert.Equal(t, 1, info.OAuth.RegisteredClients)

	assert.Equal(t, http.StatusNotFound, f.get("/unknown", "").Code)
}

func TestMiddlewareMode(t *testing.T) {
	p := newTestProxy(t, &types.Config{Mode: ModeMiddleware})

	var forwardedUser string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwardedUser = r.Header.Get("X-Forwarded-User")
		w.WriteHeader(http.StatusAccepted)
	})

	f := &flow{t: t, handler: p.GetMiddleware(next)}
	_, tokens := f.login()

	w := f.get("/mcp", tokens.AccessToken)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "johndoe", forwardedUser)

	forwardedUser = ""
	assert.Equal(t, http.StatusUnauthorized, f.get("/mcp", "").Code)
	assert.Empty(t, forwardedUser)
}

func TestRoutePrefix(t *testing.T) {
	p := newTestProxy(t, &types.Config{Mode: ModeMiddleware, RoutePrefix: "/oauth"})
	f := &flow{t: t, handler: p.GetHandler()}

	assert.Equal(t, http.StatusOK, f.get("/oauth/health", "").Code)

	w := f.get("/.well-known/oauth-authorization-server", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http://example.com/oauth/token")
}

func TestRateLimit(t *testing.T) {
	p := newTestProxy(t, &types.Config{Mode: ModeMiddleware, RateLimitWindow: time.Hour, RateLimitMax: 2})
	f := &flow{t: t, handler: p.GetHandler()}

	form := url.Values{"grant_type": {"password"}}
	assert.Equal(t, http.StatusBadRequest, f.postForm("/token", form, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.postForm("/token", form, nil).Code)

	w := f.postForm("/token", form, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "too_many_requests")

	// unlimited endpoints keep working
	assert.Equal(t, http.StatusOK, f.get("/health", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	p := newTestProxy(t, &types.Config{Mode: ModeMiddleware})

	r := httptest.NewRequest(http.MethodOptions, "/token", nil)
	r.Header.Set("Origin", "https://claude.ai")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	r.Header.Set("Access-Control-Request-Headers", "mcp-protocol-version")
	w := httptest.NewRecorder()
	p.GetHandler().ServeHTTP(w, r)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStartAndClose(t *testing.T) {
	config := &types.Config{Mode: ModeMiddleware, Users: "johndoe:pass"}
	p, err := NewOAuthProxy(config, nil)
	require.NoError(t, err)

	require.NoError(t, p.Start(t.Context()))
	p.cleanup(t.Context())
	assert.NoError(t, p.Close())
}

func TestNewOAuthProxyRejectsBadUsers(t *testing.T) {
	_, err := NewOAuthProxy(&types.Config{Mode: ModeMiddleware, Users: "nopassword"}, nil)
	assert.ErrorContains(t, err, "failed to parse users")
}
