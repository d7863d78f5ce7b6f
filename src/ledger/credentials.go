// src/ledger/credentials.go
package ledger

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Credential is the ledger connection's session state: the realm it is
// scoped to plus the current bearer token. Credentials are value types;
// calls return an updated copy which the caller persists if it changed.
type Credential struct {
	RealmID string
	Token   oauth2.Token
}

// Valid reports whether the token can still be sent as-is.
func (c Credential) Valid() bool {
	return c.Token.AccessToken != "" && (c.Token.Expiry.IsZero() || time.Now().Before(c.Token.Expiry))
}

// Changed reports whether the credential differs from prev in a way that
// requires persisting.
func (c Credential) Changed(prev Credential) bool {
	return c.Token.AccessToken != prev.Token.AccessToken ||
		c.Token.RefreshToken != prev.Token.RefreshToken ||
		!c.Token.Expiry.Equal(prev.Token.Expiry)
}

// TokenSource mints fresh tokens via the OAuth2 client-credentials grant.
type TokenSource struct {
	conf *clientcredentials.Config
}

func NewTokenSource(tokenURL, clientID, clientSecret string) *TokenSource {
	return &TokenSource{
		conf: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
		},
	}
}

// Refresh returns a credential with a newly minted token for the realm.
func (s *TokenSource) Refresh(ctx context.Context, realmID string) (Credential, error) {
	token, err := s.conf.Token(ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return Credential{RealmID: realmID, Token: *token}, nil
}
