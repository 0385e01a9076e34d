// Package redis implements store.Store on top of Redis. Authorization codes and refresh tokens
// are written with a TTL matching their expiry, so Redis purges them on its own.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/obot-platform/zoo-mcp-auth/pkg/store"
	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
)

const defaultPrefix = "zoo-mcp-auth:"

var _ store.Store = (*Store)(nil)

type Store struct {
	client redis.UniversalClient
	prefix string
}

// clientRecord carries the secret hash, which types.Client hides from JSON.
type clientRecord struct {
	*types.Client
	SecretHash string `json:"client_secret_hash"`
}

// New connects to the Redis server described by a redis:// or rediss:// URL.
func New(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewFromClient(client, defaultPrefix), nil
}

// NewFromClient wraps an existing client. Every key is prefixed with prefix.
func NewFromClient(client redis.UniversalClient, prefix string) *Store {
	return &Store{
		client: client,
		prefix: prefix,
	}
}

func (s *Store) clientKey(id string) string { return s.prefix + "client:" + id }
func (s *Store) clientsKey() string { return s.prefix + "clients" }
func (s *Store) codeKey(code string) string { return s.prefix + "code:" + code }
func (s *Store) refreshKey(hash string) string { return s.prefix + "refresh:" + hash }

func (s *Store) CreateClient(ctx context.Context, client *types.Client) error {
	data, err := json.Marshal(clientRecord{Client: client, SecretHash: client.ClientSecretHash})
	if err != nil {
		return fmt.Errorf("failed to encode client: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.clientKey(client.ClientID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store client: %w", err)
	}
	if !ok {
		return store.ErrAlreadyExists
	}

	if err := s.client.SAdd(ctx, s.clientsKey(), client.ClientID).Err(); err != nil {
		return fmt.Errorf("failed to index client: %w", err)
	}
	return nil
}

func (s *Store) SaveClient(ctx context.Context, client *types.Client) error {
	data, err := json.Marshal(clientRecord{Client: client, SecretHash: client.ClientSecretHash})
	if err != nil {
		return fmt.Errorf("failed to encode client: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.clientKey(client.ClientID), data, 0)
		pipe.SAdd(ctx, s.clientsKey(), client.ClientID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store client: %w", err)
	}
	return nil
}

func (s *Store) GetClient(ctx context.Context, clientID string) (*types.Client, error) {
	data, err := s.client.Get(ctx, s.clientKey(clientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	record := clientRecord{Client: &types.Client{}}
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode client: %w", err)
	}
	record.Client.ClientSecretHash = record.SecretHash
	return record.Client, nil
}

func (s *Store) ListClients(ctx context.Context) ([]*types.Client, error) {
	ids, err := s.client.SMembers(ctx, s.clientsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}

	clients := make([]*types.Client, 0, len(ids))
	for _, id := range ids {
		client, err := s.GetClient(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func (s *Store) SaveAuthorizationCode(ctx context.Context, code *types.AuthorizationCode) error {
	return s.setWithExpiry(ctx, s.codeKey(code.Code), code, code.ExpiresAt)
}

func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*types.AuthorizationCode, error) {
	var result types.AuthorizationCode
	if err := s.get(ctx, s.codeKey(code), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ConsumeAuthorizationCode relies on DEL being atomic: only one caller sees a reply of 1.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) error {
	n, err := s.client.Del(ctx, s.codeKey(code)).Result()
	if err != nil {
		return fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SaveRefreshToken(ctx context.Context, token *types.RefreshToken) error {
	return s.setWithExpiry(ctx, s.refreshKey(token.TokenHash), token, token.ExpiresAt)
}

func (s *Store) GetRefreshToken(ctx context.Context, tokenHash string) (*types.RefreshToken, error) {
	var result types.RefreshToken
	if err := s.get(ctx, s.refreshKey(tokenHash), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.refreshKey(tokenHash)).Err(); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op, key TTLs already remove expired records.
func (s *Store) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) setWithExpiry(ctx context.Context, key string, value any, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		// already expired, nothing to keep
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string, out any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.ErrNotFound
	} else if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}
