package entity

import "time"

// Operation names accepted in permission maps and batch requests.
const (
	OpRead   = "read"
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	Wildcard = "*"
)

// EntityPermissions maps an entity set name to the operations a key may
// perform on it. Both the entity name and the operation accept "*".
type EntityPermissions map[string][]string

// Allows reports whether the given operation is granted for the entity,
// honoring entity and operation wildcards.
func (p EntityPermissions) Allows(entityName, operation string) bool {
	if ops, ok := p[entityName]; ok && containsOp(ops, operation) {
		return true
	}
	if ops, ok := p[Wildcard]; ok && containsOp(ops, operation) {
		return true
	}
	return false
}

func containsOp(ops []string, operation string) bool {
	for _, op := range ops {
		if op == operation || op == Wildcard {
			return true
		}
	}
	return false
}

type APIKey struct {
	ID             string
	OrganizationID string
	Name           string
	KeyPrefix      string
	KeyHash        string
	RatePerMinute  int
	RatePerDay     int
	Revoked        bool
	ExpiresAt      *time.Time
	UsageCount     int64
	LastUsedAt     *time.Time
	LastUsedIP     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Expired reports whether the key is past its expiry. Keys without an
// expiry never expire.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
