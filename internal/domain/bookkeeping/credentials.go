package bookkeeping

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain"
)

// OAuth2Credentials is the secret bundle of an OAuth2 provider.
type OAuth2Credentials struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry,omitzero"`
	RealmID      string    `json:"realm_id,omitempty"` // company id for providers that scope by realm
}

// APIKeyCredentials is the secret bundle of an API-key provider.
type APIKeyCredentials struct {
	APIKey    string `json:"api_key"`
	AccountID string `json:"account_id,omitempty"`
}

// BasicCredentials is the secret bundle of a username/password provider.
type BasicCredentials struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	BusinessID string `json:"business_id,omitempty"`
}

// Credentials holds exactly one secret bundle, selected by AuthType.
type Credentials struct {
	AuthType AuthType           `json:"auth_type"`
	OAuth2   *OAuth2Credentials `json:"oauth2,omitempty"`
	APIKey   *APIKeyCredentials `json:"api_key,omitempty"`
	Basic    *BasicCredentials  `json:"basic,omitempty"`
}

// Validate checks that the bundle matches want and carries its required fields.
func (c *Credentials) Validate(want AuthType) error {
	if c.AuthType != want {
		return fmt.Errorf("%w: provider expects %s credentials, got %q", domain.ErrValidation, want, c.AuthType)
	}

	set := 0
	for _, present := range []bool{c.OAuth2 != nil, c.APIKey != nil, c.Basic != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: credentials must carry exactly one bundle", domain.ErrValidation)
	}

	var missing []string
	switch want {
	case AuthOAuth2:
		if c.OAuth2 == nil {
			return fmt.Errorf("%w: oauth2 bundle is required", domain.ErrValidation)
		}
		if c.OAuth2.ClientID == "" {
			missing = append(missing, "client_id")
		}
		if c.OAuth2.ClientSecret == "" {
			missing = append(missing, "client_secret")
		}
		if c.OAuth2.RefreshToken == "" && c.OAuth2.AccessToken == "" {
			missing = append(missing, "refresh_token")
		}
	case AuthAPIKey:
		if c.APIKey == nil {
			return fmt.Errorf("%w: api_key bundle is required", domain.ErrValidation)
		}
		if c.APIKey.APIKey == "" {
			missing = append(missing, "api_key")
		}
	case AuthUsernamePassword:
		if c.Basic == nil {
			return fmt.Errorf("%w: basic bundle is required", domain.ErrValidation)
		}
		if c.Basic.Username == "" {
			missing = append(missing, "username")
		}
		if c.Basic.Password == "" {
			missing = append(missing, "password")
		}
	default:
		return fmt.Errorf("%w: unknown auth type %q", domain.ErrValidation, want)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing credential fields: %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// Redacted returns a copy safe to log or return to clients.
func (c Credentials) Redacted() Credentials {
	out := Credentials{AuthType: c.AuthType}
	switch {
	case c.OAuth2 != nil:
		out.OAuth2 = &OAuth2Credentials{ClientID: c.OAuth2.ClientID, RealmID: c.OAuth2.RealmID, Expiry: c.OAuth2.Expiry}
	case c.APIKey != nil:
		out.APIKey = &APIKeyCredentials{AccountID: c.APIKey.AccountID, APIKey: mask(c.APIKey.APIKey)}
	case c.Basic != nil:
		out.Basic = &BasicCredentials{Username: c.Basic.Username, BusinessID: c.Basic.BusinessID}
	}
	return out
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// Seal serializes and encrypts the credentials with key.
func (c *Credentials) Seal(key []byte) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal credentials: %w", err)
	}
	return Encrypt(raw, key)
}

// OpenCredentials reverses Seal.
func OpenCredentials(sealed, key []byte) (Credentials, error) {
	raw, err := Decrypt(sealed, key)
	if err != nil {
		return Credentials{}, fmt.Errorf("decrypt credentials: %w", err)
	}
	var c Credentials
	if err := json.Unmarshal(raw, &c); err != nil {
		return Credentials{}, fmt.Errorf("unmarshal credentials: %w", err)
	}
	return c, nil
}
