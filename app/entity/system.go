package entity

import "time"

// Environment names in default-selection priority order. When a caller
// omits the environment header and a key has grants to several
// instances of the same service, the highest-priority environment wins.
// SDK callers depend on this ordering; do not reorder.
const (
	EnvProduction    = "production"
	EnvPreProduction = "pre-production"
	EnvQuality       = "quality"
	EnvDevelopment   = "development"
	EnvSandbox       = "sandbox"
)

var environmentRank = map[string]int{
	EnvProduction:    0,
	EnvPreProduction: 1,
	EnvQuality:       2,
	EnvDevelopment:   3,
	EnvSandbox:       4,
}

// EnvironmentRank returns the selection rank of an environment name.
// Unknown environments sort after all known ones.
func EnvironmentRank(env string) int {
	if r, ok := environmentRank[env]; ok {
		return r
	}
	return len(environmentRank)
}

// System is a logical backend (one S/4 landscape) owned by one tenant.
type System struct {
	ID             string
	OrganizationID string
	Name           string
	CreatedAt      time.Time
}

// Instance is one deployed environment of a System.
type Instance struct {
	ID           string
	SystemID     string
	Environment  string
	BaseURL      string
	AuthConfigID *string
	CreatedAt    time.Time
}

// SystemService is a logical OData service definition on a System.
type SystemService struct {
	ID           string
	SystemID     string
	Name         string
	Alias        string
	Path         string
	ODataVersion string
	EntityList   []string
	AuthConfigID *string
	CreatedAt    time.Time
}

// InstanceService binds a SystemService to one Instance, optionally
// overriding the path, entity list and credentials.
type InstanceService struct {
	ID              string
	InstanceID      string
	SystemServiceID string
	PathOverride    *string
	EntityList      []string
	AuthConfigID    *string
	CreatedAt       time.Time
}

// ServicePath returns the effective service root path of the binding.
func (is *InstanceService) ServicePath(svc *SystemService) string {
	if is.PathOverride != nil && *is.PathOverride != "" {
		return *is.PathOverride
	}
	return svc.Path
}

// Entities returns the effective entity list of the binding.
func (is *InstanceService) Entities(svc *SystemService) []string {
	if len(is.EntityList) > 0 {
		return is.EntityList
	}
	return svc.EntityList
}
