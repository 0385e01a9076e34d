package grant

import (
	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
)

// ServerMetadata returns the authorization server metadata document for a server reachable at
// baseURL.
func (m *Manager) ServerMetadata(baseURL string) types.OAuthMetadata {
	issuer := m.tokens.Issuer()
	if issuer == "" {
		issuer = baseURL
	}

	return types.OAuthMetadata{
		Issuer:                                 issuer,
		AuthorizationEndpoint:                  baseURL + "/authorize",
		ResponseTypesSupported:                 []string{ResponseTypeCode},
		CodeChallengeMethodsSupported:          []string{PKCEMethodPlain, PKCEMethodS256},
		TokenEndpoint:                          baseURL + "/token",
		TokenEndpointAuthMethodsSupported:      SupportedAuthMethods,
		GrantTypesSupported:                    []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
		ScopesSupported:                        m.ScopesSupported(),
		RevocationEndpoint:                     baseURL + "/revoke",
		RevocationEndpointAuthMethodsSupported: []string{AuthMethodClientSecretPost, AuthMethodClientSecretBasic},
		RegistrationEndpoint:                   baseURL + "/register",
	}
}

// ProtectedResourceMetadata describes resourceURL as protected by the authorization server at
// baseURL.
func (m *Manager) ProtectedResourceMetadata(resourceURL, baseURL string) types.OAuthProtectedResourceMetadata {
	return types.OAuthProtectedResourceMetadata{
		Resource:               resourceURL,
		AuthorizationServers:   []string{baseURL},
		ScopesSupported:        m.ScopesSupported(),
		ScopesRequired:         m.ScopesSupported(),
		BearerMethodsSupported: []string{"header"},
		ResourceName:           "Zoo Animal MCP Server",
		ResourceDocumentation:  baseURL + "/",
	}
}
