package grant

import (
	"context"
	"errors"
	"fmt"

	"github.com/obot-platform/zoo-mcp-auth/pkg/encryption"
	"github.com/obot-platform/zoo-mcp-auth/pkg/store"
	"github.com/obot-platform/zoo-mcp-auth/pkg/tokens"
	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
	"go.uber.org/zap"
)

// VerifyAccessToken checks signature, expiry and type of an access token and returns what it
// grants. It never touches the store. Every failure is ErrInvalidToken.
func (m *Manager) VerifyAccessToken(ctx context.Context, token string) (_ *types.TokenInfo, err error) {
	ctx, span := m.inst.Start(ctx, opVerifyAccessToken)
	defer func() {
		m.inst.End(ctx, span, opVerifyAccessToken, Code(err), err)
	}()

	claims, err := m.tokens.Parse(token, tokens.TypeAccessToken)
	if err != nil {
		m.logger.Debug("Access token rejected", zap.Error(err))
		return nil, ErrInvalidToken
	}

	scopes := claims.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return &types.TokenInfo{
		UserID:    claims.Subject,
		ClientID:  claims.ClientID,
		Scopes:    scopes,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// RevokeToken deletes a refresh token. Unknown tokens, and tokens held by a different client,
// are ignored so callers cannot learn which tokens are valid. Access tokens are not tracked and
// expire on their own.
func (m *Manager) RevokeToken(ctx context.Context, token, clientID string) (err error) {
	ctx, span := m.inst.Start(ctx, opRevokeToken)
	defer func() {
		if err != nil {
			m.logFailure(opRevokeToken, err, zap.String("client_id", clientID))
		}
		m.inst.End(ctx, span, opRevokeToken, Code(err), err)
	}()

	if token == "" {
		return InvalidRequest("token is required")
	}

	tokenHash := encryption.HashToken(token)
	record, err := m.store.GetRefreshToken(ctx, tokenHash)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	} else if err != nil {
		return ServerError(fmt.Errorf("failed to get refresh token: %w", err))
	}

	if clientID != "" && record.ClientID != clientID {
		m.logger.Warn("Revocation attempt by wrong client",
			zap.String("owner", record.ClientID), zap.String("client_id", clientID))
		return nil
	}

	if err := m.store.DeleteRefreshToken(ctx, tokenHash); err != nil {
		return ServerError(fmt.Errorf("failed to revoke refresh token: %w", err))
	}
	m.logger.Info("Refresh token revoked", zap.String("client_id", record.ClientID))
	return nil
}
