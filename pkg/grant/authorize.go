package grant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/obot-platform/zoo-mcp-auth/pkg/encryption"
	"github.com/obot-platform/zoo-mcp-auth/pkg/instrumentation"
	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
	"go.uber.org/zap"
)

const authorizationCodeLength = 32

// StartAuthorization authenticates the resource owner and issues a single-use authorization
// code bound to the client, redirect URI, user and optional PKCE challenge.
func (m *Manager) StartAuthorization(ctx context.Context, req types.AuthRequest) (_ *types.AuthorizationResponse, err error) {
	ctx, span := m.inst.Start(ctx, opStartAuthorization, instrumentation.AttrClientID.String(req.ClientID))
	defer func() {
		if err != nil {
			m.logFailure(opStartAuthorization, err, zap.String("client_id", req.ClientID))
		}
		m.inst.End(ctx, span, opStartAuthorization, Code(err), err)
	}()

	if req.ClientID == "" || req.RedirectURI == "" {
		return nil, InvalidRequest("client_id and redirect_uri are required")
	}
	if req.ResponseType != ResponseTypeCode {
		return nil, UnsupportedResponseType("response_type must be %q", ResponseTypeCode)
	}

	client, err := m.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	if !redirectURIAllowed(req.RedirectURI, client.RedirectURIs) {
		return nil, InvalidRequest("redirect_uri %s is not registered for this client. Allowed redirect URIs: %s",
			req.RedirectURI, strings.Join(client.RedirectURIs, ", "))
	}

	method := req.CodeChallengeMethod
	if req.CodeChallenge == "" {
		if method != "" {
			return nil, InvalidRequest("code_challenge_method requires code_challenge")
		}
	} else {
		if method == "" {
			method = PKCEMethodPlain
		}
		if !supportedChallengeMethod(method) {
			return nil, InvalidRequest("unsupported code_challenge_method %q, supported: %s, %s",
				method, PKCEMethodPlain, PKCEMethodS256)
		}
	}

	userID, err := m.authenticator.Authenticate(ctx, req.Username, req.Password)
	if errors.Is(err, ErrBadCredentials) {
		return nil, InvalidCredentials("invalid username or password")
	} else if err != nil {
		return nil, ServerError(fmt.Errorf("failed to authenticate user: %w", err))
	}

	scopes := strings.Fields(req.Scope)
	if len(scopes) == 0 {
		scopes = strings.Fields(client.Scope)
	}
	if len(scopes) == 0 {
		scopes = m.ScopesSupported()
	}

	code, err := encryption.GenerateRandomString(authorizationCodeLength)
	if err != nil {
		return nil, ServerError(fmt.Errorf("failed to generate authorization code: %w", err))
	}

	now := m.now()
	authCode := &types.AuthorizationCode{
		Code:                code,
		ClientID:            client.ClientID,
		RedirectURI:         req.RedirectURI,
		UserID:              userID,
		Scopes:              scopes,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		IssuedAt:            now,
		ExpiresAt:           now.Add(AuthorizationCodeTTL),
	}
	if err := m.store.SaveAuthorizationCode(ctx, authCode); err != nil {
		return nil, ServerError(fmt.Errorf("failed to store authorization code: %w", err))
	}

	m.inst.CodeIssued(ctx, client.ClientID)
	m.logger.Info("Authorization code issued",
		zap.String("client_id", client.ClientID),
		zap.String("user_id", userID),
		zap.Bool("pkce", req.CodeChallenge != ""))

	return &types.AuthorizationResponse{
		Code:        code,
		State:       req.State,
		RedirectURI: req.RedirectURI,
	}, nil
}
