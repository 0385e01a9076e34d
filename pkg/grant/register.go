package grant

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/obot-platform/zoo-mcp-auth/pkg/encryption"
	"github.com/obot-platform/zoo-mcp-auth/pkg/store"
	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
	"go.uber.org/zap"
)

const (
	defaultClientName  = "MCP Client"
	clientSecretLength = 32
	// attempts at drawing an unused client ID before giving up
	clientIDAttempts = 3
)

// RegisterClient creates a client whose redirect URIs are all on the allow-list and returns
// its credentials. The client secret is never retrievable again.
func (m *Manager) RegisterClient(ctx context.Context, metadata types.ClientMetadata) (_ *types.ClientRegistration, err error) {
	ctx, span := m.inst.Start(ctx, opRegisterClient)
	defer func() {
		if err != nil {
			m.logFailure(opRegisterClient, err)
		}
		m.inst.End(ctx, span, opRegisterClient, Code(err), err)
	}()

	redirectURIs, err := m.validateRedirectURIs(metadata.RedirectURIs)
	if err != nil {
		return nil, err
	}

	authMethod := metadata.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = AuthMethodClientSecretPost
	} else if !slices.Contains(SupportedAuthMethods, authMethod) {
		return nil, InvalidRequest("unsupported token_endpoint_auth_method %q, supported: %s",
			authMethod, strings.Join(SupportedAuthMethods, ", "))
	}

	client := &types.Client{
		RedirectURIs:            redirectURIs,
		ClientName:              valueOr(metadata.ClientName, defaultClientName),
		ClientURI:               metadata.ClientURI,
		LogoURI:                 metadata.LogoURI,
		Scope:                   valueOr(metadata.Scope, joinScopes(m.scopes)),
		Contacts:                orEmpty(metadata.Contacts),
		GrantTypes:              orDefault(metadata.GrantTypes, GrantTypeAuthorizationCode, GrantTypeRefreshToken),
		ResponseTypes:           orDefault(metadata.ResponseTypes, ResponseTypeCode),
		TokenEndpointAuthMethod: authMethod,
		CreatedAt:               m.now(),
	}

	secret, err := encryption.GenerateRandomString(clientSecretLength)
	if err != nil {
		return nil, ServerError(fmt.Errorf("failed to generate client secret: %w", err))
	}
	client.ClientSecretHash = encryption.HashToken(secret)

	if err := m.createClient(ctx, client); err != nil {
		return nil, err
	}

	m.inst.ClientRegistered(ctx)
	m.logger.Info("Client registered",
		zap.String("client_id", client.ClientID),
		zap.String("client_name", client.ClientName),
		zap.Strings("redirect_uris", client.RedirectURIs))

	return &types.ClientRegistration{
		ClientID:                client.ClientID,
		ClientSecret:            secret,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		ClientSecretExpiresAt:   0,
		RedirectURIs:            client.RedirectURIs,
		ClientName:              client.ClientName,
		ClientURI:               client.ClientURI,
		LogoURI:                 client.LogoURI,
		Scope:                   client.Scope,
		Contacts:                client.Contacts,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
	}, nil
}

// validateRedirectURIs normalizes every URI and rejects the request if any is not absolute or
// not on the allow-list. The error names every offender and the allow-list.
func (m *Manager) validateRedirectURIs(uris []string) (types.StringSlice, error) {
	if len(uris) == 0 {
		return nil, InvalidRequest("at least one redirect URI is required")
	}

	var (
		normalized = make(types.StringSlice, 0, len(uris))
		invalid    []string
	)
	for _, uri := range uris {
		if !isAbsoluteURI(uri) || !redirectURIAllowed(uri, m.allowedRedirectURIs) {
			invalid = append(invalid, uri)
			continue
		}
		normalized = append(normalized, NormalizeRedirectURI(uri))
	}

	if len(invalid) > 0 {
		return nil, InvalidRequest("invalid redirect URIs: %s. Allowed redirect URIs: %s",
			strings.Join(invalid, ", "), strings.Join(m.allowedRedirectURIs, ", "))
	}
	return normalized, nil
}

func (m *Manager) createClient(ctx context.Context, client *types.Client) error {
	for range clientIDAttempts {
		id, err := uuid.NewRandom()
		if err != nil {
			return ServerError(fmt.Errorf("failed to generate client ID: %w", err))
		}
		client.ClientID = id.String()

		err = m.store.CreateClient(ctx, client)
		if errors.Is(err, store.ErrAlreadyExists) {
			continue
		} else if err != nil {
			return ServerError(fmt.Errorf("failed to store client: %w", err))
		}
		return nil
	}
	return ServerError(fmt.Errorf("no unused client ID after %d attempts", clientIDAttempts))
}

func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orEmpty(values []string) types.StringSlice {
	if values == nil {
		return types.StringSlice{}
	}
	return slices.Clone(values)
}

func orDefault(values []string, def ...string) types.StringSlice {
	if len(values) == 0 {
		return def
	}
	return slices.Clone(values)
}
