package repository_test

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/michal-majer/s4kit-gateway/app/entity"
	"github.com/michal-majer/s4kit-gateway/app/repository"
)

// nonZeroTime rejects the zero time.Time, which MySQL DATETIME cannot
// store under strict mode.
type nonZeroTime struct{}

func (nonZeroTime) Match(v driver.Value) bool {
	ts, ok := v.(time.Time)
	return ok && !ts.IsZero()
}

func TestRequestLogRepository_Insert(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`(?s)INSERT INTO request_logs \(.+\) VALUES \(\?, \?, \?, \?, \?, \?, \?, \?, \?, \?\)`).
		WithArgs("log-1", "key-1", "org-1", "svc-1", "GET", "/api/bp/A_BusinessPartner", 200, int64(42), "req-1", nonZeroTime{}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := repository.NewRequestLogRepository(db)
	err = repo.Insert(context.Background(), &entity.RequestLog{
		ID:             "log-1",
		APIKeyID:       "key-1",
		OrganizationID: "org-1",
		ServiceID:      "svc-1",
		Method:         "GET",
		Path:           "/api/bp/A_BusinessPartner",
		Status:         200,
		DurationMS:     42,
		RequestID:      "req-1",
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
