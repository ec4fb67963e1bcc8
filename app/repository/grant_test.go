package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/michal-majer/s4kit-gateway/app/repository"
)

var grantBindingColumns = []string{
	"g_id", "g_api_key_id", "g_instance_service_id", "g_permissions_json", "g_created_at",
	"is_id", "is_instance_id", "is_system_service_id", "is_path_override", "is_entity_list_json", "is_auth_config_id", "is_created_at",
	"i_id", "i_system_id", "i_environment", "i_base_url", "i_auth_config_id", "i_created_at",
	"ss_id", "ss_system_id", "ss_name", "ss_alias", "ss_path", "ss_odata_version", "ss_entity_list_json", "ss_auth_config_id", "ss_created_at",
	"s_id", "s_organization_id", "s_name", "s_created_at",
}

const findBindingsQuery = `(?s)SELECT\s+g\.id,.+FROM access_grants g\s+JOIN instance_services isv.+WHERE g\.api_key_id = \?`

func TestGrantRepository_FindBindingsByKey(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(findBindingsQuery).
		WithArgs("key-1").
		WillReturnRows(sqlmock.NewRows(grantBindingColumns).AddRow(
			"grant-1", "key-1", "is-1", `{"A_BusinessPartner":["read","create"]}`, now,
			"is-1", "inst-1", "ss-1", nil, `["A_BusinessPartner"]`, nil, now,
			"inst-1", "sys-1", "production", "https://s4.example.com", "auth-1", now,
			"ss-1", "sys-1", "Business Partner", "business-partner", "/sap/opu/odata/sap/API_BUSINESS_PARTNER", "v2", nil, nil, now,
			"sys-1", "org-1", "S4 Landscape", now,
		))

	repo := repository.NewGrantRepository(db)
	bindings, err := repo.FindBindingsByKey(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("find bindings failed: %v", err)
	}
	if len(bindings) != 1 {
		t.Fatalf("expected 1 binding, got %d", len(bindings))
	}

	b := bindings[0]
	if !b.Grant.Permissions.Allows("A_BusinessPartner", "read") {
		t.Fatal("expected read permission")
	}
	if b.Grant.Permissions.Allows("A_BusinessPartner", "delete") {
		t.Fatal("did not expect delete permission")
	}
	if b.Instance.Environment != "production" {
		t.Fatalf("unexpected environment: %s", b.Instance.Environment)
	}
	if b.Instance.AuthConfigID == nil || *b.Instance.AuthConfigID != "auth-1" {
		t.Fatalf("unexpected instance auth config: %#v", b.Instance.AuthConfigID)
	}
	if b.SystemService.AuthConfigID != nil || b.InstanceService.PathOverride != nil {
		t.Fatalf("expected nil overrides: %#v", b)
	}
	if got := b.InstanceService.Entities(&b.SystemService); len(got) != 1 || got[0] != "A_BusinessPartner" {
		t.Fatalf("unexpected entity list: %#v", got)
	}
	if b.System.OrganizationID != "org-1" {
		t.Fatalf("unexpected organization: %s", b.System.OrganizationID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
