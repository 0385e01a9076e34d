package grant

import (
	"context"
	"errors"
	"testing"

	"github.com/obot-platform/zoo-mcp-auth/pkg/encryption"
	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

func TestRegisterClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	reg, err := env.manager.RegisterClient(ctx, types.ClientMetadata{
		RedirectURIs: []string{"http://localhost:3000/callback/", "https://claude.ai/api/mcp/auth_callback"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, reg.ClientID)
	// 32 random bytes, base64url without padding
	assert.Len(t, reg.ClientSecret, 43)
	assert.Equal(t, []string{"http://localhost:3000/callback", "https://claude.ai/api/mcp/auth_callback"}, reg.RedirectURIs)
	assert.Equal(t, "MCP Client", reg.ClientName)
	assert.Equal(t, "read_animals list_animals", reg.Scope)
	assert.Equal(t, []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}, reg.GrantTypes)
	assert.Equal(t, []string{ResponseTypeCode}, reg.ResponseTypes)
	assert.Equal(t, AuthMethodClientSecretPost, reg.TokenEndpointAuthMethod)
	assert.Equal(t, []string{}, reg.Contacts)
	assert.Equal(t, int64(0), reg.ClientSecretExpiresAt)
	assert.Equal(t, env.clock.Now().Unix(), reg.ClientIDIssuedAt)

	client, err := env.manager.GetClient(ctx, reg.ClientID)
	require.NoError(t, err)
	assert.NotEqual(t, reg.ClientSecret, client.ClientSecretHash)
	assert.True(t, encryption.EqualHash(reg.ClientSecret, client.ClientSecretHash))
}

func TestRegisterClientKeepsMetadata(t *testing.T) {
	env := newTestEnv(t)

	reg, err := env.manager.RegisterClient(context.Background(), types.ClientMetadata{
		RedirectURIs:            []string{"https://vscode.dev/redirect"},
		ClientName:              "Visual Studio Code",
		ClientURI:               "https://code.visualstudio.com",
		Scope:                   "read_animals",
		Contacts:                []string{"dev@example.com"},
		GrantTypes:              []string{GrantTypeAuthorizationCode},
		TokenEndpointAuthMethod: AuthMethodNone,
	})
	require.NoError(t, err)

	assert.Equal(t, "Visual Studio Code", reg.ClientName)
	assert.Equal(t, "https://code.visualstudio.com", reg.ClientURI)
	assert.Equal(t, "read_animals", reg.Scope)
	assert.Equal(t, []string{"dev@example.com"}, reg.Contacts)
	assert.Equal(t, []string{GrantTypeAuthorizationCode}, reg.GrantTypes)
	assert.Equal(t, AuthMethodNone, reg.TokenEndpointAuthMethod)
}

func TestRegisterClientUniqueIDs(t *testing.T) {
	env := newTestEnv(t)

	seen := map[string]bool{}
	secrets := map[string]bool{}
	for i := 0; i < 20; i++ {
		reg := env.register(t)
		assert.False(t, seen[reg.ClientID], "duplicate client ID %s", reg.ClientID)
		assert.False(t, secrets[reg.ClientSecret], "duplicate client secret")
		seen[reg.ClientID] = true
		secrets[reg.ClientSecret] = true
	}
}

func TestRegisterClientRejects(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		metadata types.ClientMetadata
		contains []string
	}{
		{
			name:     "no redirect URIs",
			metadata: types.ClientMetadata{},
			contains: []string{"at least one redirect URI is required"},
		},
		{
			name:     "not on the allow-list",
			metadata: types.ClientMetadata{RedirectURIs: []string{"https://evil.example/cb"}},
			contains: []string{"https://evil.example/cb", "Allowed redirect URIs", "https://vscode.dev/redirect"},
		},
		{
			name: "only offenders are listed",
			metadata: types.ClientMetadata{RedirectURIs: []string{
				"http://localhost:3000/callback",
				"http://localhost:9999/callback",
			}},
			contains: []string{"invalid redirect URIs: http://localhost:9999/callback."},
		},
		{
			name:     "relative URI",
			metadata: types.ClientMetadata{RedirectURIs: []string{"/callback"}},
			contains: []string{"invalid redirect URIs: /callback"},
		},
		{
			name: "unsupported auth method",
			metadata: types.ClientMetadata{
				RedirectURIs:            []string{testRedirectURI},
				TokenEndpointAuthMethod: "private_key_jwt",
			},
			contains: []string{"private_key_jwt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.manager.RegisterClient(context.Background(), tt.metadata)
			assertCode(t, err, ErrorCodeInvalidRequest)
			for _, s := range tt.contains {
				assert.Contains(t, err.Error(), s)
			}
		})
	}
}

func TestRegisterClientEntropyFailure(t *testing.T) {
	env := newTestEnv(t)

	orig := encryption.Reader
	encryption.Reader = failingReader{}
	defer func() { encryption.Reader = orig }()

	_, err := env.manager.RegisterClient(context.Background(), types.ClientMetadata{
		RedirectURIs: []string{testRedirectURI},
	})
	assertCode(t, err, ErrorCodeServerError)

	// no half-registered client is left behind
	clients, err := env.manager.ListClients(context.Background())
	require.NoError(t, err)
	assert.Len(t, clients, 1)
}
