package transport

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"

	"github.com/quotedesk/ai-orchestrator/pkg/credential"
)

// OAuthCredentialConfig holds the refresh-token grant settings for a
// credential that is not a static API key
type OAuthCredentialConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	RefreshToken string
	Scopes       []string
}

// NewOAuthTokenFunc returns a credential token source backed by an OAuth
// refresh-token flow. Access tokens are cached and refreshed transparently
// by the underlying token source, so most calls return without a network
// round trip.
func NewOAuthTokenFunc(cfg OAuthCredentialConfig) credential.TokenFunc {
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
	}

	var mu sync.Mutex
	var source oauth2.TokenSource

	return func(_ context.Context) (string, error) {
		mu.Lock()
		if source == nil {
			// The source outlives any single request, so it is bound to the
			// background context rather than a caller's deadline.
			source = conf.TokenSource(context.Background(), &oauth2.Token{RefreshToken: cfg.RefreshToken})
		}
		src := source
		mu.Unlock()

		tok, err := src.Token()
		if err != nil {
			return "", fmt.Errorf("oauth token refresh failed: %w", err)
		}
		return tok.AccessToken, nil
	}
}
