package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/michal-majer/s4kit-gateway/app/entity"
	"github.com/michal-majer/s4kit-gateway/app/store"
)

var (
	ErrInvalidKeyFormat = errors.New("invalid key format")
	ErrKeyNotFound      = errors.New("api key not found")
	ErrKeyRevoked       = errors.New("api key revoked")
	ErrKeyExpired       = errors.New("api key expired")
)

// Keys look like s4k_live_ab12cd34_<high-entropy suffix>. The first
// three segments form the public prefix used for lookup; the suffix is
// the secret and is only ever stored as a SHA-256 hash.
var apiKeyPattern = regexp.MustCompile(`^(s4k_(live|test)_[a-z0-9]{8})_([A-Za-z0-9]{32,64})$`)

const keyCachePrefix = "apikey:prefix:"

type APIKeyRepository interface {
	FindByPrefix(ctx context.Context, prefix string) (*entity.APIKey, error)
	RecordUsage(ctx context.Context, keyID, clientIP string, usedAt time.Time) error
}

type KeyValidator struct {
	repo     APIKeyRepository
	cache    store.Cache
	cacheTTL time.Duration

	nowFunc func() time.Time
}

func NewKeyValidator(repo APIKeyRepository, cache store.Cache, cacheTTL time.Duration) *KeyValidator {
	return &KeyValidator{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		nowFunc:  time.Now,
	}
}

// Validate authenticates a presented bearer key. Malformed keys are
// rejected before any store access; secret comparison is constant-time
// over the full hash.
func (v *KeyValidator) Validate(ctx context.Context, rawKey, clientIP string) (*entity.APIKey, error) {
	m := apiKeyPattern.FindStringSubmatch(rawKey)
	if m == nil {
		return nil, ErrInvalidKeyFormat
	}
	prefix := m[1]

	key, err := v.lookupByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrKeyNotFound
	}

	presented := HashAPIKey(rawKey)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(key.KeyHash)) != 1 {
		return nil, ErrKeyNotFound
	}

	if key.Revoked {
		return nil, ErrKeyRevoked
	}
	if key.Expired(v.nowFunc()) {
		return nil, ErrKeyExpired
	}

	v.recordUsageAsync(ctx, key.ID, clientIP)
	return key, nil
}

// InvalidateCache drops the cached record for a prefix. Called on
// mutation events from the management surface.
func (v *KeyValidator) InvalidateCache(ctx context.Context, prefix string) {
	if err := v.cache.Delete(ctx, keyCachePrefix+prefix); err != nil {
		logrus.WithError(err).Warn("Failed to invalidate api key cache")
	}
}

func (v *KeyValidator) lookupByPrefix(ctx context.Context, prefix string) (*entity.APIKey, error) {
	cacheKey := keyCachePrefix + prefix
	if cached, err := v.cache.Get(ctx, cacheKey); err == nil {
		key := &entity.APIKey{}
		if err := json.Unmarshal(cached, key); err == nil {
			return key, nil
		}
	}

	key, err := v.repo.FindByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, nil
	}

	if encoded, err := json.Marshal(key); err == nil {
		if err := v.cache.Set(ctx, cacheKey, encoded, v.cacheTTL); err != nil {
			logrus.WithError(err).Warn("Failed to populate api key cache")
		}
	}
	return key, nil
}

// recordUsageAsync bumps the usage counter without blocking or failing
// the request.
func (v *KeyValidator) recordUsageAsync(ctx context.Context, keyID, clientIP string) {
	usedAt := v.nowFunc()
	detached := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(detached, 5*time.Second)
		defer cancel()
		if err := v.repo.RecordUsage(ctx, keyID, clientIP, usedAt); err != nil {
			logrus.WithError(err).WithField("api_key_id", keyID).Warn("Failed to record api key usage")
		}
	}()
}

// GenerateAPIKey mints a new raw key for the environment tag and
// returns the raw key, its public prefix and the hash to persist.
func GenerateAPIKey(environment string) (rawKey, prefix, hash string, err error) {
	if environment != "live" && environment != "test" {
		return "", "", "", fmt.Errorf("environment must be live or test")
	}

	id := make([]byte, 4)
	if _, err := rand.Read(id); err != nil {
		return "", "", "", err
	}
	secret := make([]byte, 24)
	if _, err := rand.Read(secret); err != nil {
		return "", "", "", err
	}

	prefix = fmt.Sprintf("s4k_%s_%s", environment, hex.EncodeToString(id))
	rawKey = prefix + "_" + hex.EncodeToString(secret)
	return rawKey, prefix, HashAPIKey(rawKey), nil
}

func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}
