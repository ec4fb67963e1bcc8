package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/michal-majer/s4kit-gateway/app/apperr"
	"github.com/michal-majer/s4kit-gateway/app/backend"
	"github.com/michal-majer/s4kit-gateway/app/entity"
	"github.com/michal-majer/s4kit-gateway/app/secret"
	"github.com/michal-majer/s4kit-gateway/app/store"
)

const (
	csrfCachePrefix  = "csrf:"
	oauthCachePrefix = "oauth:"

	// Cached tokens are dropped this long before their expiry so an
	// outbound call never carries a token about to lapse in flight.
	tokenExpirySkew = 30 * time.Second
)

type AuthConfigRepository interface {
	FindByID(ctx context.Context, id string) (*entity.AuthConfig, error)
}

type BasicAuth struct {
	Username string
	Password string
}

type HeaderAuth struct {
	Name  string
	Value string
}

type OAuthClientCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       string
}

// ResolvedAuth is the materialized output of credential inheritance:
// a closed tagged union validated at construction, never persisted.
type ResolvedAuth struct {
	Type   entity.AuthType
	Basic  *BasicAuth
	Header *HeaderAuth
	OAuth  *OAuthClientCredentials
}

type AuthResolver struct {
	configs   AuthConfigRepository
	encryptor secret.Encryptor
	cache     store.Cache
	csrfTTL   time.Duration

	// Dedicated client for the CSRF pre-flight and token fetches.
	httpClient *backend.Client
}

func NewAuthResolver(configs AuthConfigRepository, encryptor secret.Encryptor, cache store.Cache, httpClient *backend.Client, csrfTTL time.Duration) *AuthResolver {
	return &AuthResolver{
		configs:    configs,
		encryptor:  encryptor,
		cache:      cache,
		csrfTTL:    csrfTTL,
		httpClient: httpClient,
	}
}

// Resolve walks the credential references left to right and
// materializes the first defined one. Callers pass the chain as
// (instance-service, service, instance) so overrides win.
func (r *AuthResolver) Resolve(ctx context.Context, refs ...*string) (*ResolvedAuth, error) {
	for _, ref := range refs {
		if ref == nil || *ref == "" {
			continue
		}
		cfg, err := r.configs.FindByID(ctx, *ref)
		if err != nil {
			return nil, err
		}
		if cfg == nil {
			return nil, apperr.AuthConfig("credential configuration %s does not exist", *ref)
		}
		return r.materialize(cfg)
	}
	return &ResolvedAuth{Type: entity.AuthNone}, nil
}

// materialize decrypts the sensitive fields and checks the variant's
// required fields up front, so a broken configuration fails here with
// an operator-fixable error instead of at dispatch time.
func (r *AuthResolver) materialize(cfg *entity.AuthConfig) (*ResolvedAuth, error) {
	switch cfg.Type {
	case entity.AuthNone:
		return &ResolvedAuth{Type: entity.AuthNone}, nil

	case entity.AuthBasic:
		password, err := r.decrypt(cfg, cfg.PasswordEnc)
		if err != nil {
			return nil, err
		}
		if cfg.Username == "" || password == "" {
			return nil, apperr.AuthConfig("basic credential %s is missing username or password", cfg.ID)
		}
		return &ResolvedAuth{Type: entity.AuthBasic, Basic: &BasicAuth{Username: cfg.Username, Password: password}}, nil

	case entity.AuthAPIKeyHeader, entity.AuthCustomHeader:
		value, err := r.decrypt(cfg, cfg.HeaderValueEnc)
		if err != nil {
			return nil, err
		}
		if cfg.HeaderName == "" || value == "" {
			return nil, apperr.AuthConfig("header credential %s is missing header name or value", cfg.ID)
		}
		return &ResolvedAuth{Type: cfg.Type, Header: &HeaderAuth{Name: cfg.HeaderName, Value: value}}, nil

	case entity.AuthOAuth2:
		clientSecret, err := r.decrypt(cfg, cfg.ClientSecretEnc)
		if err != nil {
			return nil, err
		}
		if cfg.TokenURL == "" || cfg.ClientID == "" || clientSecret == "" {
			return nil, apperr.AuthConfig("oauth2 credential %s is missing token url, client id or secret", cfg.ID)
		}
		return &ResolvedAuth{Type: entity.AuthOAuth2, OAuth: &OAuthClientCredentials{
			TokenURL:     cfg.TokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: clientSecret,
			Scopes:       cfg.TokenExtraScopes,
		}}, nil

	default:
		return nil, apperr.AuthConfig("credential configuration %s has unknown type %q", cfg.ID, cfg.Type)
	}
}

func (r *AuthResolver) decrypt(cfg *entity.AuthConfig, ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	plaintext, err := r.encryptor.Decrypt(ciphertext)
	if err != nil {
		return "", apperr.AuthConfig("credential configuration %s cannot be decrypted", cfg.ID)
	}
	return plaintext, nil
}

// BuildHeaders turns resolved credentials into outbound request
// headers against the given service root.
func (r *AuthResolver) BuildHeaders(ctx context.Context, auth *ResolvedAuth, serviceRoot string) (http.Header, error) {
	headers := http.Header{}

	switch auth.Type {
	case entity.AuthNone:

	case entity.AuthBasic:
		credentials := base64.StdEncoding.EncodeToString([]byte(auth.Basic.Username + ":" + auth.Basic.Password))
		headers.Set("Authorization", "Basic "+credentials)

		token, cookies, err := r.csrfToken(ctx, auth.Basic, serviceRoot)
		if err != nil {
			return nil, err
		}
		headers.Set("x-csrf-token", token)
		for _, cookie := range cookies {
			headers.Add("Cookie", cookie)
		}

	case entity.AuthAPIKeyHeader, entity.AuthCustomHeader:
		headers.Set(auth.Header.Name, auth.Header.Value)

	case entity.AuthOAuth2:
		token, err := r.fetchOAuthToken(ctx, auth.OAuth)
		if err != nil {
			return nil, err
		}
		headers.Set("Authorization", "Bearer "+token)
	}

	return headers, nil
}

type csrfSession struct {
	Token   string   `json:"token"`
	Cookies []string `json:"cookies"`
}

// csrfToken performs the session-token pre-flight for basic auth,
// cached per (service root, user) so most calls skip the round trip.
func (r *AuthResolver) csrfToken(ctx context.Context, basic *BasicAuth, serviceRoot string) (string, []string, error) {
	cacheKey := csrfCachePrefix + serviceRoot + ":" + basic.Username
	if cached, err := r.cache.Get(ctx, cacheKey); err == nil {
		session := csrfSession{}
		if err := json.Unmarshal(cached, &session); err == nil && session.Token != "" {
			return session.Token, session.Cookies, nil
		}
	}

	credentials := base64.StdEncoding.EncodeToString([]byte(basic.Username + ":" + basic.Password))
	fetchHeaders := http.Header{}
	fetchHeaders.Set("Authorization", "Basic "+credentials)
	fetchHeaders.Set("x-csrf-token", "Fetch")

	resp, err := r.httpClient.Do(ctx, http.MethodGet, serviceRoot, fetchHeaders, nil)
	if err != nil {
		return "", nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", nil, apperr.AuthConfig("backend rejected basic credentials during session pre-flight (%d)", resp.StatusCode)
	}

	token := resp.Header.Get("x-csrf-token")
	if token == "" {
		return "", nil, apperr.AuthConfig("backend did not issue a session token")
	}
	cookies := resp.Header.Values("Set-Cookie")

	session := csrfSession{Token: token, Cookies: cookies}
	if encoded, err := json.Marshal(session); err == nil {
		if err := r.cache.Set(ctx, cacheKey, encoded, r.csrfTTL); err != nil {
			logrus.WithError(err).Warn("Failed to cache session token")
		}
	}
	return token, cookies, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// fetchOAuthToken runs the client-credentials flow. Tokens are cached
// per (token URL, client id) until shortly before they expire; the
// lifetime comes from expires_in, or from the exp claim when the
// identity provider omits it and the token is a JWT.
func (r *AuthResolver) fetchOAuthToken(ctx context.Context, oauth *OAuthClientCredentials) (string, error) {
	cacheKey := oauthCachePrefix + oauth.TokenURL + ":" + oauth.ClientID
	if cached, err := r.cache.Get(ctx, cacheKey); err == nil && len(cached) > 0 {
		return string(cached), nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if oauth.Scopes != "" {
		form.Set("scope", oauth.Scopes)
	}

	credentials := base64.StdEncoding.EncodeToString([]byte(oauth.ClientID + ":" + oauth.ClientSecret))
	headers := http.Header{}
	headers.Set("Authorization", "Basic "+credentials)
	headers.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.httpClient.Do(ctx, http.MethodPost, oauth.TokenURL, headers, []byte(form.Encode()))
	if err != nil {
		appErr := apperr.FromError(err)
		if appErr.Category == apperr.CategoryTimeout {
			return "", err
		}
		return "", apperr.AuthConfig("token endpoint unreachable: %s", appErr.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperr.AuthConfig("token endpoint rejected client credentials (%d)", resp.StatusCode)
	}

	token := tokenResponse{}
	if err := json.Unmarshal(resp.Body, &token); err != nil || token.AccessToken == "" {
		return "", apperr.AuthConfig("token endpoint returned no usable access token")
	}

	var expiresAt time.Time
	if token.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	} else if claimed := jwtExpiry(token.AccessToken); claimed != nil {
		// Some identity providers omit expires_in; JWT access tokens
		// still carry the lifetime in the exp claim.
		expiresAt = *claimed
	}

	if !expiresAt.IsZero() {
		remaining := time.Until(expiresAt)
		if remaining <= 0 {
			return "", apperr.AuthConfig("token endpoint issued an already expired token")
		}
		if ttl := remaining - tokenExpirySkew; ttl > 0 {
			if err := r.cache.Set(ctx, cacheKey, []byte(token.AccessToken), ttl); err != nil {
				logrus.WithError(err).Warn("Failed to cache access token")
			}
		}
	}
	return token.AccessToken, nil
}

func jwtExpiry(accessToken string) *time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return nil
	}
	expiresAt, err := claims.GetExpirationTime()
	if err != nil || expiresAt == nil {
		return nil
	}
	return &expiresAt.Time
}

// Chain assembles the override chain for a resolved access in priority
// order: instance-service override, service override, instance default.
func Chain(access *ResolvedAccess) []*string {
	return []*string{
		access.InstanceService.AuthConfigID,
		access.SystemService.AuthConfigID,
		access.Instance.AuthConfigID,
	}
}
