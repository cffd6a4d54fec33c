package restapi

import (
	"context"
	"net/http"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
)

// Authenticator adds credentials to an outgoing request.
type Authenticator interface {
	Authorize(ctx context.Context, req *resty.Request) error
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, req *resty.Request) error

// Authorize calls f.
func (f AuthenticatorFunc) Authorize(ctx context.Context, req *resty.Request) error {
	return f(ctx, req)
}

// Bearer authorizes with access tokens from ts, refreshing them as needed.
func Bearer(ts oauth2.TokenSource) Authenticator {
	return AuthenticatorFunc(func(_ context.Context, req *resty.Request) error {
		tok, err := ts.Token()
		if err != nil {
			return err
		}
		req.SetAuthToken(tok.AccessToken)
		return nil
	})
}

// APIKey sends key in header.
func APIKey(header, key string) Authenticator {
	return AuthenticatorFunc(func(_ context.Context, req *resty.Request) error {
		req.SetHeader(header, key)
		return nil
	})
}

// Basic sends HTTP basic credentials.
func Basic(username, password string) Authenticator {
	return AuthenticatorFunc(func(_ context.Context, req *resty.Request) error {
		req.SetBasicAuth(username, password)
		return nil
	})
}

// OAuth2TokenSource returns a caching token source that refreshes creds
// against tokenURL with hc (nil for the default client).
func OAuth2TokenSource(creds *bookkeeping.OAuth2Credentials, tokenURL string, hc *http.Client) oauth2.TokenSource {
	conf := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	ctx := context.Background()
	if hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	}
	tok := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.Expiry,
		TokenType:    "Bearer",
	}
	return conf.TokenSource(ctx, tok)
}
