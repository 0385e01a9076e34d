package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/obot-platform/zoo-mcp-auth/pkg/types"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

// Demo walks through the whole grant against a running server: register, log in with PKCE,
// exchange the code and call a protected endpoint.
type Demo struct {
	Server      string `name:"server" env:"DEMO_SERVER" usage:"Base URL of the authorization server" default:"http://localhost:3000"`
	Username    string `name:"username" env:"DEMO_USERNAME" usage:"User to log in as" default:"johndoe"`
	Password    string `name:"password" env:"DEMO_PASSWORD" usage:"Password of the user" default:"pass"`
	RedirectURI string `name:"redirect-uri" usage:"Redirect URI to register the client with" default:"http://localhost:3000/callback"`
	Scope       string `name:"scope" usage:"Space-separated scopes to request"`
}

func (d *Demo) Customize(cobraCmd *cobra.Command) {
	cobraCmd.Use = "demo"
	cobraCmd.Short = "Run the authorization code flow against a running server"
}

func (d *Demo) Run(cobraCmd *cobra.Command, args []string) error {
	info, err := d.RunFlow(cobraCmd.Context(), cobraCmd.OutOrStdout())
	if err != nil {
		return err
	}
	fmt.Fprintf(cobraCmd.OutOrStdout(), "Authorized as %s with scopes %s\n", info.UserID, strings.Join(info.Scopes, " "))
	return nil
}

// RunFlow performs the flow and returns what the server reports about the issued access token.
func (d *Demo) RunFlow(ctx context.Context, out io.Writer) (*types.TokenInfo, error) {
	server := strings.TrimSuffix(d.Server, "/")
	httpClient := http.DefaultClient

	var registration types.ClientRegistration
	if err := postJSON(ctx, httpClient, server+"/register", types.ClientMetadata{
		RedirectURIs: []string{d.RedirectURI},
		ClientName:   "Zoo Demo Client",
	}, &registration); err != nil {
		return nil, fmt.Errorf("failed to register client: %w", err)
	}
	fmt.Fprintf(out, "Registered client %s\n", registration.ClientID)

	verifier := oauth2.GenerateVerifier()
	var authorization types.AuthorizationResponse
	if err := postJSON(ctx, httpClient, server+"/authorize", types.AuthRequest{
		ResponseType:        "code",
		ClientID:            registration.ClientID,
		RedirectURI:         d.RedirectURI,
		Scope:               d.Scope,
		State:               oauth2.GenerateVerifier(),
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: "S256",
		Username:            d.Username,
		Password:            d.Password,
	}, &authorization); err != nil {
		return nil, fmt.Errorf("failed to authorize: %w", err)
	}
	fmt.Fprintln(out, "Received authorization code")

	conf := &oauth2.Config{
		ClientID:     registration.ClientID,
		ClientSecret: registration.ClientSecret,
		RedirectURL:  d.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   server + "/authorize",
			TokenURL:  server + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	token, err := conf.Exchange(ctx, authorization.Code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	fmt.Fprintf(out, "Access token expires at %s\n", token.Expiry.Format("15:04:05"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/tokeninfo", nil)
	if err != nil {
		return nil, err
	}
	resp, err := conf.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call tokeninfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tokeninfo returned %s", resp.Status)
	}

	var info types.TokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode tokeninfo: %w", err)
	}
	return &info, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var oauthErr types.OAuthError
		_ = json.NewDecoder(resp.Body).Decode(&oauthErr)
		return fmt.Errorf("%s: %s %s", resp.Status, oauthErr.Error, oauthErr.ErrorDescription)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
