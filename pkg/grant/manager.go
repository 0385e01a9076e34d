// Package grant implements the OAuth 2.0 authorization-code grant: dynamic client
// registration, authorization with resource-owner credentials, token exchange with PKCE and
// refresh tokens, and access-token verification.
package grant

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/obot-platform/zoo-mcp-auth/pkg/encryption"
	"github.com/obot-platform/zoo-mcp-auth/pkg/instrumentation"
	"github.com/obot-platform/zoo-mcp-auth/pkg/store"
	"github.com/obot-platform/zoo-mcp-auth/pkg/tokens"
	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
	"go.uber.org/zap"
)

const (
	AuthorizationCodeTTL = 10 * time.Minute
	AccessTokenTTL       = time.Hour
	RefreshTokenTTL      = 30 * 24 * time.Hour

	DefaultMaxCodeAttempts   = 5
	DefaultBootstrapClientID = "zoo-animal-mcp-client"

	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	ResponseTypeCode           = "code"

	AuthMethodClientSecretPost  = "client_secret_post"
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodNone              = "none"

	signingKeyLength = 32
)

const (
	opRegisterClient     = "register_client"
	opStartAuthorization = "start_authorization"
	opExchangeToken      = "exchange_token"
	opVerifyAccessToken  = "verify_access_token"
	opRevokeToken        = "revoke_token"
)

var (
	DefaultScopes = []string{"read_animals", "list_animals"}

	DefaultAllowedRedirectURIs = []string{
		"http://localhost:3000/callback",
		"http://localhost:6274/oauth/callback",
		"http://localhost:6274/oauth/callback/debug",
		"https://vscode.dev/redirect",
		"https://insiders.vscode.dev/redirect",
		"http://localhost",
		"http://127.0.0.1",
		"http://localhost:33418",
		"http://127.0.0.1:33418",
		"https://claude.ai/api/mcp/auth_callback",
	}

	SupportedAuthMethods = []string{AuthMethodClientSecretPost, AuthMethodClientSecretBasic, AuthMethodNone}
)

// Config is the static configuration of a Manager.
type Config struct {
	// SigningKey signs every token. When empty a random key is generated, so tokens do not
	// survive a restart.
	SigningKey []byte
	Issuer     string

	AllowedRedirectURIs []string
	ScopesSupported     []string

	// BootstrapClientID, when set, is registered at startup with BootstrapClientSecret and
	// the full redirect allow-list.
	BootstrapClientID     string
	BootstrapClientSecret string
}

type Option func(*Manager)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock replaces time.Now for every expiry decision.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.clock = now
	}
}

func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(m *Manager) {
		m.inst = inst
	}
}

// WithMaxCodeAttempts sets how many failed client-secret or PKCE checks destroy a code.
func WithMaxCodeAttempts(n int) Option {
	return func(m *Manager) {
		m.maxCodeAttempts = n
	}
}

// Manager owns all grant state through its store. It is safe for concurrent use.
type Manager struct {
	store         store.Store
	tokens        *tokens.TokenManager
	authenticator Authenticator
	logger        *zap.Logger
	inst          *instrumentation.Instrumentation
	clock         func() time.Time

	allowedRedirectURIs []string
	scopes              []string
	maxCodeAttempts     int

	attemptsLock sync.Mutex
	attempts     map[string]codeAttempts
}

type codeAttempts struct {
	failures  int
	expiresAt time.Time
}

func New(ctx context.Context, config Config, st store.Store, authenticator Authenticator, opts ...Option) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}

	m := &Manager{
		store:               st,
		authenticator:       authenticator,
		logger:              zap.NewNop(),
		inst:                instrumentation.Noop(),
		clock:               time.Now,
		allowedRedirectURIs: slices.Clone(config.AllowedRedirectURIs),
		scopes:              slices.Clone(config.ScopesSupported),
		maxCodeAttempts:     DefaultMaxCodeAttempts,
		attempts:            make(map[string]codeAttempts),
	}
	for _, opt := range opts {
		opt(m)
	}
	if len(m.scopes) == 0 {
		m.scopes = slices.Clone(DefaultScopes)
	}

	signingKey := config.SigningKey
	if len(signingKey) == 0 {
		key, err := encryption.GenerateRandomBytes(signingKeyLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		signingKey = key
		m.logger.Warn("No signing key configured, generated a random one; tokens will not survive a restart")
	}

	tm, err := tokens.NewTokenManager(signingKey, config.Issuer, m.now)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token manager: %w", err)
	}
	m.tokens = tm

	if config.BootstrapClientID != "" {
		if err := m.saveBootstrapClient(ctx, config.BootstrapClientID, config.BootstrapClientSecret); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Manager) now() time.Time {
	return m.clock().UTC()
}

func (m *Manager) saveBootstrapClient(ctx context.Context, clientID, secret string) error {
	if secret == "" {
		return fmt.Errorf("bootstrap client %s requires a client secret", clientID)
	}

	redirectURIs := make(types.StringSlice, 0, len(m.allowedRedirectURIs))
	for _, uri := range m.allowedRedirectURIs {
		redirectURIs = append(redirectURIs, NormalizeRedirectURI(uri))
	}

	client := &types.Client{
		ClientID:                clientID,
		ClientSecretHash:        encryption.HashToken(secret),
		RedirectURIs:            redirectURIs,
		ClientName:              "Bootstrap Client",
		Scope:                   joinScopes(m.scopes),
		Contacts:                types.StringSlice{},
		GrantTypes:              types.StringSlice{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
		ResponseTypes:           types.StringSlice{ResponseTypeCode},
		TokenEndpointAuthMethod: AuthMethodClientSecretPost,
		CreatedAt:               m.now(),
	}
	if err := m.store.SaveClient(ctx, client); err != nil {
		return fmt.Errorf("failed to store bootstrap client: %w", err)
	}

	m.logger.Info("Bootstrap client registered", zap.String("client_id", clientID))
	return nil
}

// ScopesSupported returns the scopes this server grants.
func (m *Manager) ScopesSupported() []string {
	return slices.Clone(m.scopes)
}

// GetClient returns a registered client, or an invalid_client error if there is none.
func (m *Manager) GetClient(ctx context.Context, clientID string) (*types.Client, error) {
	client, err := m.store.GetClient(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, InvalidClient("unknown client %q", clientID)
	} else if err != nil {
		return nil, ServerError(fmt.Errorf("failed to get client: %w", err))
	}
	return client, nil
}

func (m *Manager) ListClients(ctx context.Context) ([]*types.Client, error) {
	clients, err := m.store.ListClients(ctx)
	if err != nil {
		return nil, ServerError(fmt.Errorf("failed to list clients: %w", err))
	}
	return clients, nil
}

// PurgeExpired removes expired codes and refresh tokens from the store.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	now := m.now()

	m.attemptsLock.Lock()
	for code, a := range m.attempts {
		if now.After(a.expiresAt) {
			delete(m.attempts, code)
		}
	}
	m.attemptsLock.Unlock()

	removed, err := m.store.DeleteExpired(ctx, now)
	if err != nil {
		return removed, fmt.Errorf("failed to purge expired grants: %w", err)
	}
	if removed > 0 {
		m.logger.Debug("Purged expired grants", zap.Int64("count", removed))
	}
	return removed, nil
}

// recordFailedAttempt counts a failed redemption and destroys the code once the limit is
// reached.
func (m *Manager) recordFailedAttempt(ctx context.Context, code *types.AuthorizationCode) {
	m.attemptsLock.Lock()
	a := m.attempts[code.Code]
	a.failures++
	a.expiresAt = code.ExpiresAt
	exhausted := a.failures >= m.maxCodeAttempts
	if exhausted {
		delete(m.attempts, code.Code)
	} else {
		m.attempts[code.Code] = a
	}
	m.attemptsLock.Unlock()

	if !exhausted {
		return
	}
	if err := m.store.ConsumeAuthorizationCode(ctx, code.Code); err != nil && !errors.Is(err, store.ErrNotFound) {
		m.logger.Error("Failed to destroy authorization code", zap.Error(err))
		return
	}
	m.logger.Warn("Authorization code destroyed after repeated failed redemptions",
		zap.String("client_id", code.ClientID), zap.String("code", redact(code.Code)))
}

func (m *Manager) forgetAttempts(code string) {
	m.attemptsLock.Lock()
	delete(m.attempts, code)
	m.attemptsLock.Unlock()
}

func (m *Manager) logFailure(operation string, err error, fields ...zap.Field) {
	e := AsError(err)
	fields = append(fields, zap.String("operation", operation), zap.String("error", e.Code))
	if e.Code == ErrorCodeServerError {
		m.logger.Error(e.Description, append(fields, zap.Error(e.Unwrap()))...)
		return
	}
	m.logger.Debug(e.Description, fields...)
}

// redact keeps enough of a secret value to correlate log lines.
func redact(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:8] + "..."
}
