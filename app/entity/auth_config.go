package entity

import "time"

// AuthType discriminates the closed set of credential configurations.
type AuthType string

const (
	AuthNone         AuthType = "none"
	AuthBasic        AuthType = "basic"
	AuthAPIKeyHeader AuthType = "api-key-header"
	AuthCustomHeader AuthType = "custom-header"
	AuthOAuth2       AuthType = "oauth2-client-credentials"
)

// AuthConfig is a stored credential configuration. Sensitive columns
// (password, header value, client secret) are encrypted at rest and
// only decrypted by the auth resolver through the Encryptor.
type AuthConfig struct {
	ID             string
	OrganizationID string
	Name           string
	Type           AuthType

	Username          string
	PasswordEnc       string
	HeaderName        string
	HeaderValueEnc    string
	TokenURL          string
	ClientID          string
	ClientSecretEnc   string
	TokenExtraScopes  string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type RequestLog struct {
	ID             string
	APIKeyID       string
	OrganizationID string
	ServiceID      string
	Method         string
	Path           string
	Status         int
	DurationMS     int64
	RequestID      string
	CreatedAt      time.Time
}
