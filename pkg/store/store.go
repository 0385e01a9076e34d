// Package store defines the persistence contract for clients, authorization codes and refresh
// tokens. Implementations live in the memory, redis and db packages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
)

var (
	// ErrNotFound is returned when a record does not exist, has expired, or was already consumed.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned by CreateClient when the client ID is taken.
	ErrAlreadyExists = errors.New("already exists")
)

type ClientStore interface {
	// CreateClient stores a new client and fails with ErrAlreadyExists if the ID is taken.
	CreateClient(ctx context.Context, client *types.Client) error
	// SaveClient stores a client, replacing any existing one with the same ID.
	SaveClient(ctx context.Context, client *types.Client) error
	GetClient(ctx context.Context, clientID string) (*types.Client, error)
	ListClients(ctx context.Context) ([]*types.Client, error)
}

type AuthorizationCodeStore interface {
	SaveAuthorizationCode(ctx context.Context, code *types.AuthorizationCode) error
	GetAuthorizationCode(ctx context.Context, code string) (*types.AuthorizationCode, error)
	// ConsumeAuthorizationCode removes the code. Exactly one of any number of concurrent callers
	// succeeds; the rest get ErrNotFound.
	ConsumeAuthorizationCode(ctx context.Context, code string) error
}

type RefreshTokenStore interface {
	SaveRefreshToken(ctx context.Context, token *types.RefreshToken) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*types.RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, tokenHash string) error
}

// Store is the full set of state the grant manager needs.
type Store interface {
	ClientStore
	AuthorizationCodeStore
	RefreshTokenStore

	// DeleteExpired removes codes and refresh tokens that expired before now and returns how
	// many records were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Close() error
}
