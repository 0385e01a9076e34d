package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/obot-platform/zoo-mcp-auth/pkg/db"
	"github.com/obot-platform/zoo-mcp-auth/pkg/grant"
	"github.com/obot-platform/zoo-mcp-auth/pkg/handlerutils"
	"github.com/obot-platform/zoo-mcp-auth/pkg/instrumentation"
	"github.com/obot-platform/zoo-mcp-auth/pkg/oauth/authorize"
	"github.com/obot-platform/zoo-mcp-auth/pkg/oauth/register"
	"github.com/obot-platform/zoo-mcp-auth/pkg/oauth/revoke"
	"github.com/obot-platform/zoo-mcp-auth/pkg/oauth/token"
	"github.com/obot-platform/zoo-mcp-auth/pkg/oauth/validate"
	"github.com/obot-platform/zoo-mcp-auth/pkg/ratelimit"
	"github.com/obot-platform/zoo-mcp-auth/pkg/store"
	"github.com/obot-platform/zoo-mcp-auth/pkg/store/memory"
	redisstore "github.com/obot-platform/zoo-mcp-auth/pkg/store/redis"
	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const (
	ModeProxy      = "proxy"
	ModeMiddleware = "middleware"

	DefaultMCPServerURL = "http://localhost:8080"

	cleanupInterval = time.Minute
)

type OAuthProxy struct {
	manager        *grant.Manager
	store          store.Store
	rateLimiter    *ratelimit.RateLimiter
	tokenValidator *validate.TokenValidator
	resourceName   string
	config         *types.Config
	logger         *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewOAuthProxy(config *types.Config, logger *zap.Logger) (*OAuthProxy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := normalizeConfig(config); err != nil {
		return nil, err
	}

	users, err := grant.ParseUsers(config.Users)
	if err != nil {
		return nil, fmt.Errorf("failed to parse users: %w", err)
	}
	authenticator, err := grant.NewStaticAuthenticator(users)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize authenticator: %w", err)
	}

	inst, err := instrumentation.New(otel.GetTracerProvider(), otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}

	st, err := newStore(context.Background(), config.DatabaseDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	manager, err := grant.New(context.Background(), grant.Config{
		SigningKey:            []byte(config.JWTSecret),
		Issuer:                config.Issuer,
		AllowedRedirectURIs:   ParseList(config.AllowedRedirectURIs),
		ScopesSupported:       ParseList(config.ScopesSupported),
		BootstrapClientID:     config.BootstrapClientID,
		BootstrapClientSecret: config.BootstrapClientSecret,
	}, st, authenticator,
		grant.WithLogger(logger.Named("grant")),
		grant.WithInstrumentation(inst),
	)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize grant manager: %w", err)
	}

	return &OAuthProxy{
		manager:        manager,
		store:          st,
		rateLimiter:    ratelimit.NewRateLimiter(config.RateLimitWindow, config.RateLimitMax),
		tokenValidator: validate.NewTokenValidator(manager),
		resourceName:   "Zoo Animal MCP Server",
		config:         config,
		logger:         logger,
	}, nil
}

// normalizeConfig fills in defaults and checks the mode and upstream URL.
func normalizeConfig(config *types.Config) error {
	if config.Port == "" {
		config.Port = "3000"
	}
	if config.AllowedRedirectURIs == "" {
		config.AllowedRedirectURIs = strings.Join(grant.DefaultAllowedRedirectURIs, ",")
	}
	if config.ScopesSupported == "" {
		config.ScopesSupported = strings.Join(grant.DefaultScopes, ",")
	}
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = 15 * time.Minute
	}
	if config.RateLimitMax <= 0 {
		config.RateLimitMax = 5000
	}

	switch config.Mode {
	case "":
		config.Mode = ModeProxy
	case ModeProxy, ModeMiddleware:
	default:
		return fmt.Errorf("invalid mode: %s", config.Mode)
	}

	if config.Mode == ModeProxy {
		if u, err := url.Parse(config.MCPServerURL); err != nil || u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid MCP server URL: %q", config.MCPServerURL)
		} else if u.Path != "" && u.Path != "/" || u.RawQuery != "" || u.Fragment != "" {
			return fmt.Errorf("MCP server URL must not contain a path, query, or fragment")
		}
	}
	return nil
}

// newStore picks the storage backend from the DSN: empty is in-memory, redis:// is Redis,
// postgres:// is PostgreSQL and anything else is a SQLite file.
func newStore(ctx context.Context, dsn string, logger *zap.Logger) (store.Store, error) {
	switch {
	case dsn == "":
		logger.Info("DATABASE_DSN not set, using in-memory storage; all grants are lost on restart")
		return memory.New(), nil
	case strings.HasPrefix(dsn, "redis://") || strings.HasPrefix(dsn, "rediss://"):
		logger.Info("Using Redis storage")
		return redisstore.New(ctx, dsn)
	default:
		st, err := db.New(dsn)
		if err != nil {
			return nil, err
		}
		logger.Info("Using SQL storage", zap.String("type", st.Type()))
		return st, nil
	}
}

// Manager returns the grant manager behind the HTTP endpoints.
func (p *OAuthProxy) Manager() *grant.Manager {
	return p.manager
}

// GetMCPServerURL returns the MCP server URL from config
func (p *OAuthProxy) GetMCPServerURL() string {
	return p.config.MCPServerURL
}

func (p *OAuthProxy) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.store != nil {
		return p.store.Close()
	}
	return nil
}

// Start runs the background purge of expired grants until ctx is done or the proxy is closed.
func (p *OAuthProxy) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				p.cleanup(p.ctx)
			}
		}
	}()

	return nil
}

func (p *OAuthProxy) cleanup(ctx context.Context) {
	if _, err := p.manager.PurgeExpired(ctx); err != nil {
		p.logger.Error("Failed to purge expired grants", zap.Error(err))
	}
	p.rateLimiter.Cleanup()
}

func (p *OAuthProxy) SetupRoutes(mux *http.ServeMux, next http.Handler) {
	prefix := p.config.RoutePrefix

	mux.HandleFunc("GET "+prefix+"/{$}", p.serviceInfoHandler)
	mux.HandleFunc("GET "+prefix+"/health", p.healthHandler)
	mux.HandleFunc("GET "+prefix+"/callback", p.callbackHandler)

	// OAuth endpoints
	mux.HandleFunc("POST "+prefix+"/register", p.withRateLimit(register.NewHandler(p.manager)))
	mux.HandleFunc("POST "+prefix+"/authorize", p.withRateLimit(authorize.NewHandler(p.manager)))
	mux.HandleFunc("POST "+prefix+"/token", p.withRateLimit(token.NewHandler(p.manager)))
	mux.HandleFunc("POST "+prefix+"/revoke", p.withRateLimit(revoke.NewHandler(p.manager)))

	// Metadata endpoints
	mux.HandleFunc("GET /.well-known/oauth-authorization-server", p.oauthMetadataHandler)
	mux.HandleFunc("GET /.well-known/openid-configuration", p.oauthMetadataHandler)
	mux.HandleFunc("GET /.well-known/oauth-protected-resource", p.protectedResourceMetadataHandler)
	mux.HandleFunc("GET /.well-known/oauth-protected-resource/{path...}", p.protectedResourceMetadataHandler)

	// Protected endpoints
	mux.HandleFunc("GET "+prefix+"/tokeninfo", p.withRateLimit(p.tokenValidator.WithTokenValidation(p.tokenInfoHandler)))
	mux.HandleFunc("GET "+prefix+"/clients", p.withRateLimit(p.tokenValidator.WithTokenValidation(p.clientsHandler)))
	mcp := p.withRateLimit(p.tokenValidator.WithTokenValidation(func(w http.ResponseWriter, r *http.Request) {
		p.mcpProxyHandler(w, r, next)
	}))
	mux.HandleFunc(prefix+"/mcp", mcp)
	mux.HandleFunc(prefix+"/mcp/{path...}", mcp)
}

// GetHandler returns an http.Handler for the OAuth proxy
func (p *OAuthProxy) GetHandler() http.Handler {
	return p.wrap(p.newMux(nil))
}

// GetMiddleware returns a handler that authenticates MCP requests and hands them to next
// instead of proxying them.
func (p *OAuthProxy) GetMiddleware(next http.Handler) http.Handler {
	return p.wrap(p.newMux(next))
}

func (p *OAuthProxy) newMux(next http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	p.SetupRoutes(mux, next)
	return mux
}

func (p *OAuthProxy) wrap(h http.Handler) http.Handler {
	h = cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept", "mcp-protocol-version", "mcp-session-id"},
		ExposedHeaders:   []string{"mcp-session-id", "WWW-Authenticate"},
		MaxAge:           int((12 * time.Hour).Seconds()),
		AllowCredentials: false,
	}).Handler(h)

	return handlers.LoggingHandler(zap.NewStdLog(p.logger.Named("http")).Writer(), h)
}

// withRateLimit wraps a handler with rate limiting
func (p *OAuthProxy) withRateLimit(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p.rateLimiter != nil {
			clientIP := handlerutils.GetClientIP(r)
			if !p.rateLimiter.Allow(clientIP) {
				handlerutils.OAuthError(w, http.StatusTooManyRequests, "too_many_requests", "Rate limit exceeded")
				return
			}
		}
		next.ServeHTTP(w, r)
	}
}

func (p *OAuthProxy) healthHandler(w http.ResponseWriter, r *http.Request) {
	handlerutils.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (p *OAuthProxy) serviceInfoHandler(w http.ResponseWriter, r *http.Request) {
	clients, err := p.manager.ListClients(r.Context())
	if err != nil {
		handlerutils.WriteError(w, err)
		return
	}

	base := handlerutils.GetBaseURL(r) + p.config.RoutePrefix
	handlerutils.JSON(w, http.StatusOK, types.ServiceInfo{
		Name:        p.resourceName,
		Version:     p.config.Version,
		Description: "OAuth 2.1 protected MCP server for zoo animal tools, with dynamic client registration",
		Endpoints: map[string]string{
			"mcp":       base + "/mcp",
			"health":    base + "/health",
			"authorize": base + "/authorize",
			"token":     base + "/token",
			"register":  base + "/register",
			"revoke":    base + "/revoke",
			"callback":  base + "/callback",
			"tokeninfo": base + "/tokeninfo",
		},
		OAuth: types.ServiceOAuthInfo{
			AuthorizationURL:  base + "/authorize",
			TokenURL:          base + "/token",
			RegistrationURL:   base + "/register",
			ClientID:          p.config.BootstrapClientID,
			Scopes:            p.manager.ScopesSupported(),
			RegisteredClients: len(clients),
		},
	})
}

// callbackHandler is the redirect target for users without a client of their own. It shows
// the issued code so it can be exchanged by hand.
func (p *OAuthProxy) callbackHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if errCode := query.Get("error"); errCode != "" {
		description := query.Get("error_description")
		if description == "" {
			description = "Authorization failed"
		}
		handlerutils.OAuthError(w, http.StatusBadRequest, errCode, description)
		return
	}

	code := query.Get("code")
	if code == "" {
		handlerutils.OAuthError(w, http.StatusBadRequest, grant.ErrorCodeInvalidRequest, "code is required")
		return
	}

	handlerutils.JSON(w, http.StatusOK, types.CallbackResponse{
		Message:           "Authorization successful",
		AuthorizationCode: code,
		State:             query.Get("state"),
		NextStep:          "Exchange this code for an access token at " + handlerutils.GetBaseURL(r) + p.config.RoutePrefix + "/token",
	})
}

func (p *OAuthProxy) oauthMetadataHandler(w http.ResponseWriter, r *http.Request) {
	handlerutils.JSON(w, http.StatusOK, p.manager.ServerMetadata(handlerutils.GetBaseURL(r)+p.config.RoutePrefix))
}

func (p *OAuthProxy) protectedResourceMetadataHandler(w http.ResponseWriter, r *http.Request) {
	baseURL := handlerutils.GetBaseURL(r) + p.config.RoutePrefix

	resourceURL := baseURL + "/mcp"
	if path := r.PathValue("path"); path != "" {
		resourceURL = handlerutils.GetBaseURL(r) + "/" + path
	}

	metadata := p.manager.ProtectedResourceMetadata(resourceURL, baseURL)
	metadata.ResourceName = p.resourceName
	handlerutils.JSON(w, http.StatusOK, metadata)
}

func (p *OAuthProxy) tokenInfoHandler(w http.ResponseWriter, r *http.Request) {
	handlerutils.JSON(w, http.StatusOK, validate.GetTokenInfo(r))
}

func (p *OAuthProxy) clientsHandler(w http.ResponseWriter, r *http.Request) {
	clients, err := p.manager.ListClients(r.Context())
	if err != nil {
		handlerutils.WriteError(w, err)
		return
	}
	list := types.ClientList{
		RegisteredClients: make([]types.ClientSummary, 0, len(clients)),
		TotalCount:        len(clients),
	}
	for _, c := range clients {
		list.RegisteredClients = append(list.RegisteredClients, types.ClientSummary{
			ClientID:     c.ClientID,
			ClientName:   c.ClientName,
			RedirectURIs: c.RedirectURIs,
			Scope:        c.Scope,
			CreatedAt:    c.CreatedAt,
		})
	}
	handlerutils.JSON(w, http.StatusOK, list)
}

func (p *OAuthProxy) mcpProxyHandler(w http.ResponseWriter, r *http.Request, next http.Handler) {
	tokenInfo := validate.GetTokenInfo(r)

	switch p.config.Mode {
	case ModeMiddleware:
		setHeaders(r.Header, tokenInfo)
		if next == nil {
			handlerutils.OAuthError(w, http.StatusNotFound, "not_found", "No MCP handler configured")
			return
		}
		next.ServeHTTP(w, r)
	case ModeProxy:
		targetURL := p.GetMCPServerURL() + "/" + strings.TrimPrefix(r.URL.Path, p.config.RoutePrefix+"/")
		p.logger.Debug("Proxying request",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.String("target", targetURL))

		proxy := &httputil.ReverseProxy{
			Director: func(req *http.Request) {
				req.Header.Del("Authorization")
				req.Header.Set("X-Forwarded-Host", req.Host)

				newURL, _ := url.Parse(targetURL)
				req.URL.Scheme = newURL.Scheme
				req.URL.Host = newURL.Host
				req.URL.Path = newURL.Path
				req.Host = newURL.Host

				setHeaders(req.Header, tokenInfo)
			},
			ModifyResponse: func(resp *http.Response) error {
				// Rewrite Location header to use proxy host instead of downstream server host
				if location := resp.Header.Get("Location"); location != "" {
					if locationURL, err := url.Parse(location); err == nil {
						proxyHost := resp.Request.Header.Get("X-Forwarded-Host")
						downstreamURL, _ := url.Parse(p.GetMCPServerURL())
						if proxyHost != "" && locationURL.Host == downstreamURL.Host {
							locationURL.Host = proxyHost
							resp.Header.Set("Location", locationURL.String())
						}
					}
				}
				return nil
			},
			ErrorHandler: func(rw http.ResponseWriter, req *http.Request, err error) {
				p.logger.Warn("Proxy error", zap.String("target", targetURL), zap.Error(err))
				rw.WriteHeader(http.StatusBadGateway)
			},
		}

		proxy.ServeHTTP(w, r)
	}
}

// setHeaders passes the verified identity upstream. Any identity headers sent by the client
// are replaced.
func setHeaders(header http.Header, info *types.TokenInfo) {
	header.Del("X-Forwarded-User")
	header.Del("X-Forwarded-Client-Id")
	header.Del("X-Forwarded-Scopes")
	if info == nil {
		return
	}
	if info.UserID != "" {
		header.Set("X-Forwarded-User", info.UserID)
	}
	if info.ClientID != "" {
		header.Set("X-Forwarded-Client-Id", info.ClientID)
	}
	if len(info.Scopes) > 0 {
		header.Set("X-Forwarded-Scopes", strings.Join(info.Scopes, " "))
	}
}

// ParseList parses a comma-separated list and trims whitespace from each entry.
func ParseList(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
