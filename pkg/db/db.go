package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/obot-platform/zoo-mcp-auth/pkg/store"
	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var _ store.Store = (*Store)(nil)

// Store represents the database connection and operations
type Store struct {
	db     *gorm.DB
	dbType string // "postgres" or "sqlite"
}

// IsPostgresDSN reports whether dsn should be opened with the PostgreSQL driver.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// New creates a new database connection and sets up the schema. PostgreSQL URLs open a
// PostgreSQL connection, anything else is treated as a SQLite file path.
func New(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	var (
		gormDB *gorm.DB
		dbType string
		err    error
	)

	// Configure GORM logger
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Change to logger.Info for debugging
	}

	if IsPostgresDSN(dsn) {
		gormDB, err = gorm.Open(postgres.Open(dsn), gormConfig)
		dbType = "postgres"
	} else {
		gormDB, err = gorm.Open(sqlite.Open(dsn), gormConfig)
		dbType = "sqlite"
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbType == "sqlite" {
		// SQLite allows a single writer; serialize access instead of surfacing SQLITE_BUSY.
		sqlDB, err := gormDB.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	database := &Store{db: gormDB, dbType: dbType}

	// Setup schema using GORM AutoMigrate
	if err := database.setupSchema(); err != nil {
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	return database, nil
}

// setupSchema creates the necessary tables and handles migrations
func (d *Store) setupSchema() error {
	err := d.db.AutoMigrate(
		&types.Client{},
		&types.AuthorizationCode{},
		&types.RefreshToken{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database schema: %w", err)
	}

	return nil
}

// Type returns "postgres" or "sqlite".
func (d *Store) Type() string {
	return d.dbType
}

// CreateClient inserts a client, leaving an existing row with the same ID untouched.
func (d *Store) CreateClient(ctx context.Context, client *types.Client) error {
	result := d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(client)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

// SaveClient stores a new client or updates an existing one
func (d *Store) SaveClient(ctx context.Context, client *types.Client) error {
	return d.db.WithContext(ctx).Save(client).Error
}

// GetClient retrieves a client by ID
func (d *Store) GetClient(ctx context.Context, clientID string) (*types.Client, error) {
	var client types.Client
	if err := d.db.WithContext(ctx).First(&client, "client_id = ?", clientID).Error; err != nil {
		return nil, translate(err)
	}
	return &client, nil
}

func (d *Store) ListClients(ctx context.Context) ([]*types.Client, error) {
	var clients []*types.Client
	if err := d.db.WithContext(ctx).Order("client_id").Find(&clients).Error; err != nil {
		return nil, err
	}
	return clients, nil
}

// SaveAuthorizationCode stores an authorization code
func (d *Store) SaveAuthorizationCode(ctx context.Context, code *types.AuthorizationCode) error {
	return d.db.WithContext(ctx).Create(code).Error
}

func (d *Store) GetAuthorizationCode(ctx context.Context, code string) (*types.AuthorizationCode, error) {
	var authCode types.AuthorizationCode
	if err := d.db.WithContext(ctx).First(&authCode, "code = ?", code).Error; err != nil {
		return nil, translate(err)
	}
	return &authCode, nil
}

// ConsumeAuthorizationCode deletes an authorization code (single-use). The affected row count
// decides the winner when several requests redeem the same code.
func (d *Store) ConsumeAuthorizationCode(ctx context.Context, code string) error {
	result := d.db.WithContext(ctx).Delete(&types.AuthorizationCode{}, "code = ?", code)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SaveRefreshToken stores a refresh token record keyed by the token hash
func (d *Store) SaveRefreshToken(ctx context.Context, token *types.RefreshToken) error {
	return d.db.WithContext(ctx).Create(token).Error
}

func (d *Store) GetRefreshToken(ctx context.Context, tokenHash string) (*types.RefreshToken, error) {
	var token types.RefreshToken
	if err := d.db.WithContext(ctx).First(&token, "token_hash = ?", tokenHash).Error; err != nil {
		return nil, translate(err)
	}
	return &token, nil
}

func (d *Store) DeleteRefreshToken(ctx context.Context, tokenHash string) error {
	return d.db.WithContext(ctx).Delete(&types.RefreshToken{}, "token_hash = ?", tokenHash).Error
}

// DeleteExpired removes expired authorization codes and refresh tokens
func (d *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	db := d.db.WithContext(ctx)

	codes := db.Where("expires_at < ?", now).Delete(&types.AuthorizationCode{})
	if codes.Error != nil {
		return 0, fmt.Errorf("failed to cleanup expired authorization codes: %w", codes.Error)
	}

	tokens := db.Where("expires_at < ?", now).Delete(&types.RefreshToken{})
	if tokens.Error != nil {
		return codes.RowsAffected, fmt.Errorf("failed to cleanup expired refresh tokens: %w", tokens.Error)
	}

	return codes.RowsAffected + tokens.RowsAffected, nil
}

// Close closes the database connection
func (d *Store) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}
