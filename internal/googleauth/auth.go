package googleauth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// ClientOption builds an authenticated API client option from an OAuth
// client file and a previously saved token. Run the oauth-init command
// first to obtain the token.
func ClientOption(ctx context.Context, clientFile, tokenFile string, scopes ...string) (option.ClientOption, error) {
	cfg, err := ConfigFromFile(clientFile, scopes...)
	if err != nil {
		return nil, err
	}

	tok, err := LoadToken(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("load token (run oauth-init first): %w", err)
	}

	return option.WithHTTPClient(cfg.Client(ctx, tok)), nil
}

// ConfigFromFile reads the OAuth client credentials JSON.
func ConfigFromFile(clientFile string, scopes ...string) (*oauth2.Config, error) {
	b, err := os.ReadFile(clientFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth client file: %w", err)
	}

	cfg, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse oauth client file: %w", err)
	}
	return cfg, nil
}

// LoadToken reads a saved oauth2 token from disk.
func LoadToken(tokenFile string) (*oauth2.Token, error) {
	b, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return &tok, nil
}

// SaveToken writes an oauth2 token to disk with owner-only permissions.
func SaveToken(tokenFile string, tok *oauth2.Token) error {
	f, err := os.OpenFile(tokenFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(tok); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}
