package repository

import (
	"context"

	"github.com/michal-majer/s4kit-gateway/app/entity"
)

// RequestLogRepository is the write-only sink for structured request
// logs. Failures are logged by the caller, never surfaced to clients.
type RequestLogRepository struct {
	db DBTX
}

func NewRequestLogRepository(db DBTX) *RequestLogRepository {
	return &RequestLogRepository{db: db}
}

func (r *RequestLogRepository) Insert(ctx context.Context, log *entity.RequestLog) error {
	query := `
		INSERT INTO request_logs (
			id, api_key_id, organization_id, service_id, method, path,
			status, duration_ms, request_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.APIKeyID,
		log.OrganizationID,
		log.ServiceID,
		log.Method,
		log.Path,
		log.Status,
		log.DurationMS,
		log.RequestID,
		log.CreatedAt,
	)
	return err
}
