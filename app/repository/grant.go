package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/michal-majer/s4kit-gateway/app/entity"
)

type GrantRepository struct {
	db DBTX
}

func NewGrantRepository(db DBTX) *GrantRepository {
	return &GrantRepository{db: db}
}

// FindBindingsByKey returns every grant of a key joined with its
// instance-service, instance, service definition and owning system.
// Tenant filtering happens in the access resolver, on top of the join.
func (r *GrantRepository) FindBindingsByKey(ctx context.Context, apiKeyID string) ([]*entity.GrantBinding, error) {
	query := `
		SELECT
			g.id, g.api_key_id, g.instance_service_id, g.permissions_json, g.created_at,
			isv.id, isv.instance_id, isv.system_service_id, isv.path_override, isv.entity_list_json, isv.auth_config_id, isv.created_at,
			i.id, i.system_id, i.environment, i.base_url, i.auth_config_id, i.created_at,
			ss.id, ss.system_id, ss.name, ss.alias, ss.path, ss.odata_version, ss.entity_list_json, ss.auth_config_id, ss.created_at,
			s.id, s.organization_id, s.name, s.created_at
		FROM access_grants g
		JOIN instance_services isv ON isv.id = g.instance_service_id
		JOIN instances i ON i.id = isv.instance_id
		JOIN system_services ss ON ss.id = isv.system_service_id
		JOIN systems s ON s.id = ss.system_id
		WHERE g.api_key_id = ?
		ORDER BY g.created_at
	`
	rows, err := r.db.QueryContext(ctx, query, apiKeyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bindings := make([]*entity.GrantBinding, 0)
	for rows.Next() {
		binding, err := scanGrantBinding(rows.Scan)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, binding)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return bindings, nil
}

func scanGrantBinding(scan rowScanner) (*entity.GrantBinding, error) {
	b := &entity.GrantBinding{}
	var permissionsJSON string
	var isPathOverride, isAuthConfigID sql.NullString
	var isEntityListJSON, ssEntityListJSON sql.NullString
	var instAuthConfigID, ssAuthConfigID sql.NullString

	if err := scan(
		&b.Grant.ID,
		&b.Grant.APIKeyID,
		&b.Grant.InstanceServiceID,
		&permissionsJSON,
		&b.Grant.CreatedAt,
		&b.InstanceService.ID,
		&b.InstanceService.InstanceID,
		&b.InstanceService.SystemServiceID,
		&isPathOverride,
		&isEntityListJSON,
		&isAuthConfigID,
		&b.InstanceService.CreatedAt,
		&b.Instance.ID,
		&b.Instance.SystemID,
		&b.Instance.Environment,
		&b.Instance.BaseURL,
		&instAuthConfigID,
		&b.Instance.CreatedAt,
		&b.SystemService.ID,
		&b.SystemService.SystemID,
		&b.SystemService.Name,
		&b.SystemService.Alias,
		&b.SystemService.Path,
		&b.SystemService.ODataVersion,
		&ssEntityListJSON,
		&ssAuthConfigID,
		&b.SystemService.CreatedAt,
		&b.System.ID,
		&b.System.OrganizationID,
		&b.System.Name,
		&b.System.CreatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(permissionsJSON), &b.Grant.Permissions); err != nil {
		return nil, err
	}
	if isEntityListJSON.Valid && isEntityListJSON.String != "" {
		if err := json.Unmarshal([]byte(isEntityListJSON.String), &b.InstanceService.EntityList); err != nil {
			return nil, err
		}
	}
	if ssEntityListJSON.Valid && ssEntityListJSON.String != "" {
		if err := json.Unmarshal([]byte(ssEntityListJSON.String), &b.SystemService.EntityList); err != nil {
			return nil, err
		}
	}
	if isPathOverride.Valid {
		b.InstanceService.PathOverride = &isPathOverride.String
	}
	if isAuthConfigID.Valid {
		b.InstanceService.AuthConfigID = &isAuthConfigID.String
	}
	if instAuthConfigID.Valid {
		b.Instance.AuthConfigID = &instAuthConfigID.String
	}
	if ssAuthConfigID.Valid {
		b.SystemService.AuthConfigID = &ssAuthConfigID.String
	}
	return b, nil
}
