package token

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CloudPlatformScope covers the Speech and Text-to-Speech APIs.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// NewServiceAccountTokenSource mints Google access tokens from service-account
// JSON. Tokens are reused until they expire.
func NewServiceAccountTokenSource(ctx context.Context, credentialsJSON []byte) (oauth2.TokenSource, error) {
	if len(credentialsJSON) == 0 {
		return nil, errors.New("service account JSON is required")
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, CloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("invalid service account JSON: %w", err)
	}
	if config.Email == "" || len(config.PrivateKey) == 0 {
		return nil, errors.New("service account JSON missing client_email or private_key")
	}
	// Keys pasted into env vars often arrive with escaped newlines.
	config.PrivateKey = []byte(strings.ReplaceAll(string(config.PrivateKey), `\n`, "\n"))

	return oauth2.ReuseTokenSource(nil, config.TokenSource(ctx)), nil
}
