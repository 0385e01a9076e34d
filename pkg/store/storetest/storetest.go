// Package storetest is a contract suite shared by every store.Store implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/obot-platform/zoo-mcp-auth/pkg/store"
	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises s against the store.Store contract. Each store must start empty.
func Run(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("Clients", func(t *testing.T) {
		client := &types.Client{
			ClientID:                "client-1",
			ClientSecretHash:        "hash",
			RedirectURIs:            types.StringSlice{"http://localhost:3000/callback"},
			ClientName:              "MCP Client",
			Scope:                   "read_animals list_animals",
			Contacts:                types.StringSlice{"ops@example.com"},
			GrantTypes:              types.StringSlice{"authorization_code", "refresh_token"},
			ResponseTypes:           types.StringSlice{"code"},
			TokenEndpointAuthMethod: "client_secret_post",
			CreatedAt:               now,
		}

		require.NoError(t, s.CreateClient(ctx, client))
		assert.ErrorIs(t, s.CreateClient(ctx, client), store.ErrAlreadyExists)

		got, err := s.GetClient(ctx, "client-1")
		require.NoError(t, err)
		assert.Equal(t, client.ClientID, got.ClientID)
		assert.Equal(t, client.ClientSecretHash, got.ClientSecretHash)
		assert.Equal(t, client.RedirectURIs, got.RedirectURIs)
		assert.Equal(t, client.Contacts, got.Contacts)
		assert.Equal(t, client.GrantTypes, got.GrantTypes)
		assert.Equal(t, client.Scope, got.Scope)
		assert.True(t, client.CreatedAt.Equal(got.CreatedAt))

		// SaveClient is an upsert
		updated := *client
		updated.ClientName = "Renamed"
		require.NoError(t, s.SaveClient(ctx, &updated))
		got, err = s.GetClient(ctx, "client-1")
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.ClientName)

		require.NoError(t, s.SaveClient(ctx, &types.Client{
			ClientID:         "client-0",
			ClientSecretHash: "hash0",
			RedirectURIs:     types.StringSlice{"http://localhost"},
			CreatedAt:        now,
		}))

		clients, err := s.ListClients(ctx)
		require.NoError(t, err)
		ids := make([]string, 0, len(clients))
		for _, c := range clients {
			ids = append(ids, c.ClientID)
		}
		assert.ElementsMatch(t, []string{"client-0", "client-1"}, ids)

		_, err = s.GetClient(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("AuthorizationCodes", func(t *testing.T) {
		code := &types.AuthorizationCode{
			Code:                "code-1",
			ClientID:            "client-1",
			RedirectURI:         "http://localhost:3000/callback",
			UserID:              "johndoe",
			Scopes:              types.StringSlice{"read_animals"},
			CodeChallenge:       "challenge",
			CodeChallengeMethod: "S256",
			IssuedAt:            now,
			ExpiresAt:           now.Add(10 * time.Minute),
		}
		require.NoError(t, s.SaveAuthorizationCode(ctx, code))

		got, err := s.GetAuthorizationCode(ctx, "code-1")
		require.NoError(t, err)
		assert.Equal(t, code.ClientID, got.ClientID)
		assert.Equal(t, code.RedirectURI, got.RedirectURI)
		assert.Equal(t, code.UserID, got.UserID)
		assert.Equal(t, code.Scopes, got.Scopes)
		assert.Equal(t, code.CodeChallenge, got.CodeChallenge)
		assert.Equal(t, code.CodeChallengeMethod, got.CodeChallengeMethod)
		assert.True(t, code.ExpiresAt.Equal(got.ExpiresAt))

		require.NoError(t, s.ConsumeAuthorizationCode(ctx, "code-1"))
		assert.ErrorIs(t, s.ConsumeAuthorizationCode(ctx, "code-1"), store.ErrNotFound)

		_, err = s.GetAuthorizationCode(ctx, "code-1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ConcurrentConsume", func(t *testing.T) {
		require.NoError(t, s.SaveAuthorizationCode(ctx, &types.AuthorizationCode{
			Code:        "code-race",
			ClientID:    "client-1",
			RedirectURI: "http://localhost:3000/callback",
			UserID:      "johndoe",
			IssuedAt:    now,
			ExpiresAt:   now.Add(10 * time.Minute),
		}))

		var (
			wg        sync.WaitGroup
			successes atomic.Int32
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.ConsumeAuthorizationCode(ctx, "code-race"); err == nil {
					successes.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), successes.Load())
	})

	t.Run("RefreshTokens", func(t *testing.T) {
		token := &types.RefreshToken{
			TokenHash: "token-hash",
			ClientID:  "client-1",
			UserID:    "janedohe",
			Scopes:    types.StringSlice{"read_animals", "list_animals"},
			IssuedAt:  now,
			ExpiresAt: now.Add(30 * 24 * time.Hour),
		}
		require.NoError(t, s.SaveRefreshToken(ctx, token))

		got, err := s.GetRefreshToken(ctx, "token-hash")
		require.NoError(t, err)
		assert.Equal(t, token.ClientID, got.ClientID)
		assert.Equal(t, token.UserID, got.UserID)
		assert.Equal(t, token.Scopes, got.Scopes)
		assert.True(t, token.ExpiresAt.Equal(got.ExpiresAt))

		require.NoError(t, s.DeleteRefreshToken(ctx, "token-hash"))
		_, err = s.GetRefreshToken(ctx, "token-hash")
		assert.ErrorIs(t, err, store.ErrNotFound)

		// deleting a missing token is not an error
		assert.NoError(t, s.DeleteRefreshToken(ctx, "token-hash"))
	})

	t.Run("DeleteExpired", func(t *testing.T) {
		for i, expiresAt := range []time.Time{now.Add(-time.Minute), now.Add(time.Minute)} {
			require.NoError(t, s.SaveAuthorizationCode(ctx, &types.AuthorizationCode{
				Code:        fmt.Sprintf("expiry-code-%d", i),
				ClientID:    "client-1",
				RedirectURI: "http://localhost",
				UserID:      "johndoe",
				IssuedAt:    expiresAt.Add(-10 * time.Minute),
				ExpiresAt:   expiresAt,
			}))
			require.NoError(t, s.SaveRefreshToken(ctx, &types.RefreshToken{
				TokenHash: fmt.Sprintf("expiry-token-%d", i),
				ClientID:  "client-1",
				UserID:    "johndoe",
				IssuedAt:  expiresAt.Add(-time.Hour),
				ExpiresAt: expiresAt,
			}))
		}

		_, err := s.DeleteExpired(ctx, now)
		require.NoError(t, err)

		_, err = s.GetAuthorizationCode(ctx, "expiry-code-0")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.GetRefreshToken(ctx, "expiry-token-0")
		assert.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.GetAuthorizationCode(ctx, "expiry-code-1")
		assert.NoError(t, err)
		_, err = s.GetRefreshToken(ctx, "expiry-token-1")
		assert.NoError(t, err)
	})
}
