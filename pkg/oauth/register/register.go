package register

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/obot-platform/zoo-mcp-auth/pkg/grant"
	"github.com/obot-platform/zoo-mcp-auth/pkg/handlerutils"
	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
)

const maxRequestSize = 1024 * 1024

type Registrar interface {
	RegisterClient(ctx context.Context, metadata types.ClientMetadata) (*types.ClientRegistration, error)
}

func NewHandler(registrar Registrar) http.Handler {
	return &Handler{
		registrar: registrar,
	}
}

type Handler struct {
	registrar Registrar
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		handlerutils.OAuthError(w, http.StatusMethodNotAllowed, grant.ErrorCodeInvalidRequest, "Method not allowed")
		return
	}

	if r.ContentLength > maxRequestSize {
		handlerutils.OAuthError(w, http.StatusRequestEntityTooLarge, grant.ErrorCodeInvalidRequest,
			"Request payload too large, must be under 1 MiB")
		return
	}

	var raw map[string]interface{}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestSize)).Decode(&raw); err != nil {
		handlerutils.OAuthError(w, http.StatusBadRequest, grant.ErrorCodeInvalidRequest, "Invalid JSON payload")
		return
	}

	metadata, err := validateClientMetadata(raw)
	if err != nil {
		handlerutils.OAuthError(w, http.StatusBadRequest, grant.ErrorCodeInvalidRequest, err.Error())
		return
	}

	registration, err := p.registrar.RegisterClient(r.Context(), *metadata)
	if err != nil {
		handlerutils.WriteError(w, err)
		return
	}

	handlerutils.JSON(w, http.StatusCreated, registration)
}

// validateClientMetadata checks the JSON types of the registration request. Semantic checks
// such as the redirect allow-list are left to the grant manager.
func validateClientMetadata(metadata map[string]interface{}) (*types.ClientMetadata, error) {
	validateStringField := func(field interface{}, name string) (string, error) {
		if field == nil {
			return "", nil
		}
		if str, ok := field.(string); ok {
			return str, nil
		}
		return "", fmt.Errorf("field %s must be a string", name)
	}

	validateStringArray := func(arr interface{}, name string) ([]string, error) {
		if arr == nil {
			return nil, nil
		}
		if array, ok := arr.([]interface{}); ok {
			result := make([]string, len(array))
			for i, item := range array {
				if str, ok := item.(string); ok {
					result[i] = str
				} else {
					return nil, fmt.Errorf("all elements in %s must be strings", name)
				}
			}
			return result, nil
		}
		return nil, fmt.Errorf("field %s must be an array", name)
	}

	var (
		result types.ClientMetadata
		err    error
	)

	if result.RedirectURIs, err = validateStringArray(metadata["redirect_uris"], "redirect_uris"); err != nil {
		return nil, err
	}
	for field, dst := range map[string]*string{
		"client_name":                &result.ClientName,
		"client_uri":                 &result.ClientURI,
		"logo_uri":                   &result.LogoURI,
		"scope":                      &result.Scope,
		"token_endpoint_auth_method": &result.TokenEndpointAuthMethod,
	} {
		if *dst, err = validateStringField(metadata[field], field); err != nil {
			return nil, err
		}
	}
	for field, dst := range map[string]*[]string{
		"contacts":       &result.Contacts,
		"grant_types":    &result.GrantTypes,
		"response_types": &result.ResponseTypes,
	} {
		if *dst, err = validateStringArray(metadata[field], field); err != nil {
			return nil, err
		}
	}

	return &result, nil
}
