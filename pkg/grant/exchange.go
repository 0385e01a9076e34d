package grant

import (
	"context"
	"errors"
	"fmt"

	"github.com/obot-platform/zoo-mcp-auth/pkg/encryption"
	"github.com/obot-platform/zoo-mcp-auth/pkg/instrumentation"
	"github.com/obot-platform/zoo-mcp-auth/pkg/store"
	"github.com/obot-platform/zoo-mcp-auth/pkg/tokens"
	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
	"go.uber.org/zap"
)

// ExchangeToken redeems an authorization code or a refresh token for an access token.
func (m *Manager) ExchangeToken(ctx context.Context, req types.TokenRequest) (_ *types.TokenResponse, err error) {
	ctx, span := m.inst.Start(ctx, opExchangeToken,
		instrumentation.AttrGrantType.String(req.GrantType),
		instrumentation.AttrClientID.String(req.ClientID))
	defer func() {
		if err != nil {
			m.logFailure(opExchangeToken, err,
				zap.String("grant_type", req.GrantType), zap.String("client_id", req.ClientID))
		}
		m.inst.End(ctx, span, opExchangeToken, Code(err), err)
	}()

	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		return m.exchangeAuthorizationCode(ctx, req)
	case GrantTypeRefreshToken:
		return m.exchangeRefreshToken(ctx, req)
	default:
		return nil, UnsupportedGrantType("grant type %q is not supported", req.GrantType)
	}
}

func (m *Manager) exchangeAuthorizationCode(ctx context.Context, req types.TokenRequest) (*types.TokenResponse, error) {
	if req.Code == "" || req.RedirectURI == "" || req.ClientID == "" {
		return nil, InvalidRequest("code, redirect_uri and client_id are required")
	}

	client, err := m.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	code, err := m.store.GetAuthorizationCode(ctx, req.Code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, InvalidGrant("invalid authorization code")
	} else if err != nil {
		return nil, ServerError(fmt.Errorf("failed to get authorization code: %w", err))
	}

	if m.now().After(code.ExpiresAt) {
		if err := m.store.ConsumeAuthorizationCode(ctx, code.Code); err != nil && !errors.Is(err, store.ErrNotFound) {
			m.logger.Error("Failed to purge expired authorization code", zap.Error(err))
		}
		m.forgetAttempts(code.Code)
		return nil, InvalidGrant("authorization code has expired")
	}

	if code.ClientID != client.ClientID {
		return nil, InvalidGrant("authorization code was issued to another client")
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, InvalidGrant("redirect_uri does not match the authorization request")
	}

	if err := authenticateClient(client, code, req.ClientSecret); err != nil {
		m.recordFailedAttempt(ctx, code)
		return nil, err
	}

	if code.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, InvalidRequest("code_verifier is required")
		}
		if !verifyCodeChallenge(code.CodeChallenge, code.CodeChallengeMethod, req.CodeVerifier) {
			m.recordFailedAttempt(ctx, code)
			return nil, InvalidGrant("invalid code_verifier")
		}
	}

	// Every check passed. Consuming is the single point where concurrent redemptions of the
	// same code are decided.
	if err := m.store.ConsumeAuthorizationCode(ctx, code.Code); errors.Is(err, store.ErrNotFound) {
		return nil, InvalidGrant("authorization code has already been used")
	} else if err != nil {
		return nil, ServerError(fmt.Errorf("failed to consume authorization code: %w", err))
	}
	m.forgetAttempts(code.Code)

	resp, err := m.issueTokens(ctx, code.UserID, client.ClientID, code.Scopes, true)
	if err != nil {
		return nil, err
	}

	m.inst.TokensIssued(ctx, GrantTypeAuthorizationCode)
	m.logger.Info("Authorization code exchanged",
		zap.String("client_id", client.ClientID), zap.String("user_id", code.UserID))
	return resp, nil
}

// authenticateClient applies the client secret rule: without PKCE the secret is required,
// with PKCE it is optional but must match when supplied.
func authenticateClient(client *types.Client, code *types.AuthorizationCode, secret string) error {
	if secret == "" {
		if code.CodeChallenge == "" {
			return InvalidClient("client_secret is required when PKCE is not used")
		}
		return nil
	}
	if !encryption.EqualHash(secret, client.ClientSecretHash) {
		return InvalidClient("invalid client credentials")
	}
	return nil
}

func (m *Manager) exchangeRefreshToken(ctx context.Context, req types.TokenRequest) (*types.TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, InvalidRequest("refresh_token is required")
	}

	if _, err := m.tokens.Parse(req.RefreshToken, tokens.TypeRefreshToken); err != nil {
		return nil, InvalidGrant("invalid refresh token")
	}

	tokenHash := encryption.HashToken(req.RefreshToken)
	record, err := m.store.GetRefreshToken(ctx, tokenHash)
	if errors.Is(err, store.ErrNotFound) {
		return nil, InvalidGrant("invalid refresh token")
	} else if err != nil {
		return nil, ServerError(fmt.Errorf("failed to get refresh token: %w", err))
	}

	if m.now().After(record.ExpiresAt) {
		if err := m.store.DeleteRefreshToken(ctx, tokenHash); err != nil {
			m.logger.Error("Failed to purge expired refresh token", zap.Error(err))
		}
		return nil, InvalidGrant("refresh token has expired")
	}

	if req.ClientID != "" && req.ClientID != record.ClientID {
		return nil, InvalidGrant("refresh token was issued to another client")
	}
	if req.ClientSecret != "" {
		client, err := m.GetClient(ctx, record.ClientID)
		if err != nil {
			return nil, err
		}
		if !encryption.EqualHash(req.ClientSecret, client.ClientSecretHash) {
			return nil, InvalidClient("invalid client credentials")
		}
	}

	// Refresh tokens are not rotated and the new access token carries the full scope set.
	resp, err := m.issueTokens(ctx, record.UserID, record.ClientID, m.scopes, false)
	if err != nil {
		return nil, err
	}

	m.inst.TokensIssued(ctx, GrantTypeRefreshToken)
	m.logger.Info("Access token refreshed",
		zap.String("client_id", record.ClientID), zap.String("user_id", record.UserID))
	return resp, nil
}

func (m *Manager) issueTokens(ctx context.Context, userID, clientID string, scopes []string, withRefreshToken bool) (*types.TokenResponse, error) {
	accessToken, _, err := m.tokens.Issue(tokens.TypeAccessToken, userID, clientID, scopes, AccessTokenTTL)
	if err != nil {
		return nil, ServerError(err)
	}

	resp := &types.TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(AccessTokenTTL.Seconds()),
		Scope:       joinScopes(scopes),
	}

	if withRefreshToken {
		refreshToken, expiresAt, err := m.tokens.Issue(tokens.TypeRefreshToken, userID, clientID, scopes, RefreshTokenTTL)
		if err != nil {
			return nil, ServerError(err)
		}

		record := &types.RefreshToken{
			TokenHash: encryption.HashToken(refreshToken),
			ClientID:  clientID,
			UserID:    userID,
			Scopes:    scopes,
			IssuedAt:  m.now(),
			ExpiresAt: expiresAt,
		}
		if err := m.store.SaveRefreshToken(ctx, record); err != nil {
			return nil, ServerError(fmt.Errorf("failed to store refresh token: %w", err))
		}
		resp.RefreshToken = refreshToken
	}

	return resp, nil
}
