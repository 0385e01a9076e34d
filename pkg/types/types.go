package types

import (
	"time"
)

// Config holds all configuration values for the authorization server
type Config struct {
	Host        string
	Port        string
	DatabaseDSN string

	// Issuer is the iss claim of minted tokens. Empty disables the issuer check.
	Issuer    string
	JWTSecret string

	BootstrapClientID     string
	BootstrapClientSecret string
	AllowedRedirectURIs   string
	ScopesSupported       string
	Users                 string

	MCPServerURL string
	Mode         string
	RoutePrefix  string
	Version      string

	RateLimitWindow time.Duration
	RateLimitMax    int
}

// Client is a registered OAuth client. Clients are never updated or deleted once created.
type Client struct {
	ClientID                string      `gorm:"primaryKey" json:"client_id"`
	ClientSecretHash        string      `gorm:"not null" json:"-"`
	RedirectURIs            StringSlice `gorm:"type:text" json:"redirect_uris"`
	ClientName              string      `json:"client_name,omitempty"`
	ClientURI               string      `json:"client_uri,omitempty"`
	LogoURI                 string      `json:"logo_uri,omitempty"`
	Scope                   string      `json:"scope,omitempty"`
	Contacts                StringSlice `gorm:"type:text" json:"contacts"`
	GrantTypes              StringSlice `gorm:"type:text" json:"grant_types"`
	ResponseTypes           StringSlice `gorm:"type:text" json:"response_types"`
	TokenEndpointAuthMethod string      `json:"token_endpoint_auth_method"`
	CreatedAt               time.Time   `gorm:"not null" json:"created_at"`
}

// ClientMetadata is the caller supplied part of a dynamic client registration request.
type ClientMetadata struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	ClientURI               string   `json:"client_uri,omitempty"`
	LogoURI                 string   `json:"logo_uri,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	Contacts                []string `json:"contacts,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// ClientRegistration is returned exactly once, when a client is registered. It is the only
// place the plaintext client secret is ever exposed.
type ClientRegistration struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"`
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name"`
	ClientURI               string   `json:"client_uri,omitempty"`
	LogoURI                 string   `json:"logo_uri,omitempty"`
	Scope                   string   `json:"scope"`
	Contacts                []string `json:"contacts"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// AuthorizationCode is a single-use code bound to a client, redirect URI, user and optional
// PKCE challenge.
type AuthorizationCode struct {
	Code                string      `gorm:"primaryKey" json:"code"`
	ClientID            string      `gorm:"not null;index" json:"client_id"`
	RedirectURI         string      `gorm:"not null" json:"redirect_uri"`
	UserID              string      `gorm:"not null" json:"user_id"`
	Scopes              StringSlice `gorm:"type:text" json:"scopes"`
	CodeChallenge       string      `json:"code_challenge,omitempty"`
	CodeChallengeMethod string      `json:"code_challenge_method,omitempty"`
	IssuedAt            time.Time   `gorm:"not null" json:"issued_at"`
	ExpiresAt           time.Time   `gorm:"not null;index" json:"expires_at"`
}

// RefreshToken is the stored record of an issued refresh token, keyed by the token hash.
type RefreshToken struct {
	TokenHash string      `gorm:"primaryKey" json:"token_hash"`
	ClientID  string      `gorm:"not null;index" json:"client_id"`
	UserID    string      `gorm:"not null" json:"user_id"`
	Scopes    StringSlice `gorm:"type:text" json:"scopes"`
	IssuedAt  time.Time   `gorm:"not null" json:"issued_at"`
	ExpiresAt time.Time   `gorm:"not null;index" json:"expires_at"`
}

// AuthRequest represents the parameters of an authorization request, including the resource
// owner's credentials.
type AuthRequest struct {
	ResponseType        string `json:"response_type"`
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope,omitempty"`
	State               string `json:"state,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	Username            string `json:"username"`
	Password            string `json:"password"`
}

// AuthorizationResponse carries the issued code back to the client.
type AuthorizationResponse struct {
	Code        string `json:"code"`
	State       string `json:"state,omitempty"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

// TokenRequest represents the parameters of a token endpoint request
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// TokenResponse represents OAuth token response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenInfo is the verified content of an access token.
type TokenInfo struct {
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OAuthError represents OAuth error response
type OAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

// OAuthMetadata represents OAuth authorization server metadata
type OAuthMetadata struct {
	Issuer                                   string   `json:"issuer"`
	ServiceDocumentation                     string   `json:"service_documentation,omitempty"`
	AuthorizationEndpoint                    string   `json:"authorization_endpoint"`
	ResponseTypesSupported                   []string `json:"response_types_supported"`
	CodeChallengeMethodsSupported            []string `json:"code_challenge_methods_supported"`
	TokenEndpoint                            string   `json:"token_endpoint"`
	TokenEndpointAuthMethodsSupported        []string `json:"token_endpoint_auth_methods_supported"`
	GrantTypesSupported                      []string `json:"grant_types_supported"`
	ScopesSupported                          []string `json:"scopes_supported,omitempty"`
	RevocationEndpoint                       string   `json:"revocation_endpoint,omitempty"`
	RevocationEndpointAuthMethodsSupported   []string `json:"revocation_endpoint_auth_methods_supported,omitempty"`
	RegistrationEndpoint                     string   `json:"registration_endpoint,omitempty"`
	RegistrationEndpointAuthMethodsSupported []string `json:"registration_endpoint_auth_methods_supported,omitempty"`
}

// OAuthProtectedResourceMetadata represents protected resource metadata
type OAuthProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	ScopesRequired         []string `json:"scopes_required,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
	ResourceDocumentation  string   `json:"resource_documentation,omitempty"`
}

// CallbackResponse is what the built-in redirect target shows a user who has no client of
// their own to receive the code.
type CallbackResponse struct {
	Message           string `json:"message"`
	AuthorizationCode string `json:"authorization_code"`
	State             string `json:"state,omitempty"`
	NextStep          string `json:"next_step"`
}

// ClientSummary is the public part of a registered client.
type ClientSummary struct {
	ClientID     string    `json:"client_id"`
	ClientName   string    `json:"client_name"`
	RedirectURIs []string  `json:"redirect_uris"`
	Scope        string    `json:"scope"`
	CreatedAt    time.Time `json:"created_at"`
}

// ClientList is the response of the registered clients listing.
type ClientList struct {
	RegisteredClients []ClientSummary `json:"registered_clients"`
	TotalCount        int             `json:"total_count"`
}

// ServiceInfo is the index document served at the root of the server.
type ServiceInfo struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Endpoints   map[string]string `json:"endpoints"`
	OAuth       ServiceOAuthInfo  `json:"oauth"`
}

// ServiceOAuthInfo tells a client where to start the authorization code grant.
type ServiceOAuthInfo struct {
	AuthorizationURL  string   `json:"authorization_url"`
	TokenURL          string   `json:"token_url"`
	RegistrationURL   string   `json:"registration_url"`
	ClientID          string   `json:"client_id,omitempty"`
	Scopes            []string `json:"scopes"`
	RegisteredClients int      `json:"registered_clients"`
}
