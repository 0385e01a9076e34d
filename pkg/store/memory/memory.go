// Package memory provides an in-memory implementation of store.Store. All state is lost when
// the process exits.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/obot-platform/zoo-mcp-auth/pkg/store"
	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
)

var _ store.Store = (*Store)(nil)

// Store keeps every record in maps guarded by a single mutex.
type Store struct {
	mu sync.Mutex

	clients       map[string]*types.Client
	codes         map[string]*types.AuthorizationCode
	refreshTokens map[string]*types.RefreshToken
}

func New() *Store {
	return &Store{
		clients:       make(map[string]*types.Client),
		codes:         make(map[string]*types.AuthorizationCode),
		refreshTokens: make(map[string]*types.RefreshToken),
	}
}

func (s *Store) CreateClient(_ context.Context, client *types.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client.ClientID]; ok {
		return store.ErrAlreadyExists
	}
	s.clients[client.ClientID] = copyClient(client)
	return nil
}

func (s *Store) SaveClient(_ context.Context, client *types.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[client.ClientID] = copyClient(client)
	return nil
}

func (s *Store) GetClient(_ context.Context, clientID string) (*types.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyClient(client), nil
}

func (s *Store) ListClients(_ context.Context) ([]*types.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*types.Client, 0, len(s.clients))
	for _, client := range s.clients {
		result = append(result, copyClient(client))
	}
	slices.SortFunc(result, func(a, b *types.Client) int {
		return strings.Compare(a.ClientID, b.ClientID)
	})
	return result, nil
}

func (s *Store) SaveAuthorizationCode(_ context.Context, code *types.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *code
	c.Scopes = slices.Clone(code.Scopes)
	s.codes[code.Code] = &c
	return nil
}

func (s *Store) GetAuthorizationCode(_ context.Context, code string) (*types.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	result := *c
	result.Scopes = slices.Clone(c.Scopes)
	return &result, nil
}

func (s *Store) ConsumeAuthorizationCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[code]; !ok {
		return store.ErrNotFound
	}
	delete(s.codes, code)
	return nil
}

func (s *Store) SaveRefreshToken(_ context.Context, token *types.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := *token
	t.Scopes = slices.Clone(token.Scopes)
	s.refreshTokens[token.TokenHash] = &t
	return nil
}

func (s *Store) GetRefreshToken(_ context.Context, tokenHash string) (*types.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.refreshTokens[tokenHash]
	if !ok {
		return nil, store.ErrNotFound
	}
	result := *t
	result.Scopes = slices.Clone(t.Scopes)
	return &result, nil
}

func (s *Store) DeleteRefreshToken(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refreshTokens, tokenHash)
	return nil
}

func (s *Store) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for k, c := range s.codes {
		if now.After(c.ExpiresAt) {
			delete(s.codes, k)
			removed++
		}
	}
	for k, t := range s.refreshTokens {
		if now.After(t.ExpiresAt) {
			delete(s.refreshTokens, k)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) Close() error {
	return nil
}

func copyClient(c *types.Client) *types.Client {
	result := *c
	result.RedirectURIs = slices.Clone(c.RedirectURIs)
	result.Contacts = slices.Clone(c.Contacts)
	result.GrantTypes = slices.Clone(c.GrantTypes)
	result.ResponseTypes = slices.Clone(c.ResponseTypes)
	return &result
}
