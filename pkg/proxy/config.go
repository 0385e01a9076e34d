package proxy

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/obot-platform/zoo-mcp-auth/pkg/grant"
	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
)

// LoadConfigFromEnv builds a validated configuration from the same environment variables the
// command line reads.
func LoadConfigFromEnv() (*types.Config, error) {
	config := &types.Config{
		Host:                  os.Getenv("HOST"),
		Port:                  os.Getenv("PORT"),
		DatabaseDSN:           os.Getenv("DATABASE_DSN"),
		Issuer:                os.Getenv("ISSUER"),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		BootstrapClientID:     getEnvOr("OAUTH_CLIENT_ID", grant.DefaultBootstrapClientID),
		BootstrapClientSecret: getEnvOr("OAUTH_CLIENT_SECRET", "your-client-secret"),
		AllowedRedirectURIs:   os.Getenv("ALLOWED_REDIRECT_URIS"),
		ScopesSupported:       os.Getenv("SCOPES_SUPPORTED"),
		Users:                 getEnvOr("USERS", "johndoe:pass,janedohe:pass"),
		MCPServerURL:          getEnvOr("MCP_SERVER_URL", DefaultMCPServerURL),
		Mode:                  os.Getenv("MODE"),
		RoutePrefix:           os.Getenv("ROUTE_PREFIX"),
	}

	if v := os.Getenv("RATE_LIMIT_WINDOW"); v != "" {
		window, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
		}
		config.RateLimitWindow = window
	}
	if v := os.Getenv("RATE_LIMIT_MAX"); v != "" {
		max, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_MAX: %w", err)
		}
		config.RateLimitMax = max
	}

	if err := normalizeConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

func getEnvOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
