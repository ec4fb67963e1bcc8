package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/michal-majer/s4kit-gateway/app/entity"
)

type APIKeyRepository struct {
	db DBTX
}

func NewAPIKeyRepository(db DBTX) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

const apiKeyColumns = `id, organization_id, name, key_prefix, key_hash, rate_per_minute, rate_per_day, revoked, expires_at, usage_count, last_used_at, last_used_ip, created_at, updated_at`

func (r *APIKeyRepository) FindByPrefix(ctx context.Context, prefix string) (*entity.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE key_prefix = ?
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, query, prefix)
	key, err := scanAPIKey(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return key, nil
}

func (r *APIKeyRepository) Create(ctx context.Context, key *entity.APIKey) error {
	query := `
		INSERT INTO api_keys (
			id, organization_id, name, key_prefix, key_hash, rate_per_minute, rate_per_day,
			revoked, expires_at, usage_count, last_used_at, last_used_ip, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		key.ID,
		key.OrganizationID,
		key.Name,
		key.KeyPrefix,
		key.KeyHash,
		key.RatePerMinute,
		key.RatePerDay,
		key.Revoked,
		key.ExpiresAt,
		key.UsageCount,
		key.LastUsedAt,
		key.LastUsedIP,
		key.CreatedAt,
		key.UpdatedAt,
	)
	return err
}

// RecordUsage bumps the usage counter and stamps last use in one
// statement so concurrent validations never lose an increment.
func (r *APIKeyRepository) RecordUsage(ctx context.Context, keyID, clientIP string, usedAt time.Time) error {
	query := `
		UPDATE api_keys SET
			usage_count = usage_count + 1,
			last_used_at = ?,
			last_used_ip = ?,
			updated_at = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query, usedAt, clientIP, usedAt, keyID)
	return err
}

func (r *APIKeyRepository) Revoke(ctx context.Context, prefix string, revokedAt time.Time) (int64, error) {
	query := `
		UPDATE api_keys SET revoked = 1, updated_at = ?
		WHERE key_prefix = ? AND revoked = 0
	`
	result, err := r.db.ExecContext(ctx, query, revokedAt, prefix)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func scanAPIKey(scan rowScanner) (*entity.APIKey, error) {
	key := &entity.APIKey{}
	var expiresAt, lastUsedAt sql.NullTime
	var lastUsedIP sql.NullString
	if err := scan(
		&key.ID,
		&key.OrganizationID,
		&key.Name,
		&key.KeyPrefix,
		&key.KeyHash,
		&key.RatePerMinute,
		&key.RatePerDay,
		&key.Revoked,
		&expiresAt,
		&key.UsageCount,
		&lastUsedAt,
		&lastUsedIP,
		&key.CreatedAt,
		&key.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		key.LastUsedAt = &lastUsedAt.Time
	}
	key.LastUsedIP = lastUsedIP.String
	return key, nil
}
