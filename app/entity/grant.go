package entity

import "time"

// AccessGrant links an API key to one instance-service binding with a
// permission map. At most one grant exists per (key, instance-service).
type AccessGrant struct {
	ID                string
	APIKeyID          string
	InstanceServiceID string
	Permissions       EntityPermissions
	CreatedAt         time.Time
}

// GrantBinding is a grant joined with the configuration records it
// reaches: the binding, its instance, the service definition and the
// owning system. Produced by the configuration store in one lookup so
// the resolver never walks references itself.
type GrantBinding struct {
	Grant           AccessGrant
	InstanceService InstanceService
	Instance        Instance
	SystemService   SystemService
	System          System
}
