package repository

import (
	"context"
	"database/sql"

	"github.com/michal-majer/s4kit-gateway/app/entity"
)

type AuthConfigRepository struct {
	db DBTX
}

func NewAuthConfigRepository(db DBTX) *AuthConfigRepository {
	return &AuthConfigRepository{db: db}
}

func (r *AuthConfigRepository) FindByID(ctx context.Context, id string) (*entity.AuthConfig, error) {
	query := `
		SELECT id, organization_id, name, auth_type, username, password_enc,
			header_name, header_value_enc, token_url, client_id, client_secret_enc,
			token_scopes, created_at, updated_at
		FROM auth_configs
		WHERE id = ?
		LIMIT 1
	`
	row := r.db.QueryRowContext(ctx, query, id)

	cfg := &entity.AuthConfig{}
	var username, passwordEnc, headerName, headerValueEnc sql.NullString
	var tokenURL, clientID, clientSecretEnc, tokenScopes sql.NullString
	err := row.Scan(
		&cfg.ID,
		&cfg.OrganizationID,
		&cfg.Name,
		&cfg.Type,
		&username,
		&passwordEnc,
		&headerName,
		&headerValueEnc,
		&tokenURL,
		&clientID,
		&clientSecretEnc,
		&tokenScopes,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	cfg.Username = username.String
	cfg.PasswordEnc = passwordEnc.String
	cfg.HeaderName = headerName.String
	cfg.HeaderValueEnc = headerValueEnc.String
	cfg.TokenURL = tokenURL.String
	cfg.ClientID = clientID.String
	cfg.ClientSecretEnc = clientSecretEnc.String
	cfg.TokenExtraScopes = tokenScopes.String
	return cfg, nil
}
