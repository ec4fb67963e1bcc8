package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/michal-majer/s4kit-gateway/app/entity"
	"github.com/michal-majer/s4kit-gateway/app/store"
)

var ErrNoAccess = errors.New("no matching access grant")

const accessCachePrefix = "access:"

type GrantRepository interface {
	FindBindingsByKey(ctx context.Context, apiKeyID string) ([]*entity.GrantBinding, error)
}

// ResolvedAccess is the request-scoped outcome of access resolution:
// exactly one backend binding plus the caller's permission map.
type ResolvedAccess struct {
	Instance        entity.Instance          `json:"instance"`
	InstanceService entity.InstanceService   `json:"instanceService"`
	SystemService   entity.SystemService     `json:"systemService"`
	Permissions     entity.EntityPermissions `json:"permissions"`
	OrganizationID  string                   `json:"organizationId"`
}

// ServiceRoot is the absolute URL of the service on the instance.
func (a *ResolvedAccess) ServiceRoot() string {
	return a.Instance.BaseURL + a.InstanceService.ServicePath(&a.SystemService)
}

type AccessResolver struct {
	grants   GrantRepository
	cache    store.Cache
	cacheTTL time.Duration
}

func NewAccessResolver(grants GrantRepository, cache store.Cache, cacheTTL time.Duration) *AccessResolver {
	return &AccessResolver{grants: grants, cache: cache, cacheTTL: cacheTTL}
}

// ResolveByService picks the single binding for a service identifier
// (id or alias) among the key's grants. With no environment hint, a
// lone binding wins outright; several bindings fall back to the fixed
// environment priority order.
func (r *AccessResolver) ResolveByService(ctx context.Context, keyID, tenantID, serviceIdentifier, environmentHint string) (*ResolvedAccess, error) {
	cacheKey := fmt.Sprintf("%s%s:%s:%s", accessCachePrefix, keyID, serviceIdentifier, environmentHint)
	if cached, err := r.cache.Get(ctx, cacheKey); err == nil {
		access := &ResolvedAccess{}
		if err := json.Unmarshal(cached, access); err == nil {
			return access, nil
		}
	}

	bindings, err := r.tenantBindings(ctx, keyID, tenantID)
	if err != nil {
		return nil, err
	}

	var candidates []*entity.GrantBinding
	for _, b := range bindings {
		if b.SystemService.ID == serviceIdentifier || b.SystemService.Alias == serviceIdentifier {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoAccess
	}

	var selected *entity.GrantBinding
	if environmentHint != "" {
		for _, c := range candidates {
			if c.Instance.Environment == environmentHint {
				selected = c
				break
			}
		}
		if selected == nil {
			return nil, ErrNoAccess
		}
	} else {
		sortByEnvironmentPriority(candidates)
		selected = candidates[0]
	}

	access := toResolvedAccess(selected)
	if encoded, err := json.Marshal(access); err == nil {
		if err := r.cache.Set(ctx, cacheKey, encoded, r.cacheTTL); err != nil {
			logrus.WithError(err).Warn("Failed to populate access cache")
		}
	}
	return access, nil
}

// ResolveServiceByEntity finds the binding whose entity list contains
// the entity, scanning only the key's own grants. A miss is a
// not-found, never a forbidden, so entity existence outside the key's
// grants does not leak.
func (r *AccessResolver) ResolveServiceByEntity(ctx context.Context, keyID, tenantID, entityName string) (*ResolvedAccess, error) {
	bindings, err := r.tenantBindings(ctx, keyID, tenantID)
	if err != nil {
		return nil, err
	}

	sortByEnvironmentPriority(bindings)
	for _, b := range bindings {
		for _, name := range b.InstanceService.Entities(&b.SystemService) {
			if name == entityName {
				return toResolvedAccess(b), nil
			}
		}
	}
	return nil, ErrNoAccess
}

// InvalidateCache drops cached resolutions for one (key, service,
// hint) tuple on grant changes.
func (r *AccessResolver) InvalidateCache(ctx context.Context, keyID, serviceIdentifier, environmentHint string) {
	cacheKey := fmt.Sprintf("%s%s:%s:%s", accessCachePrefix, keyID, serviceIdentifier, environmentHint)
	if err := r.cache.Delete(ctx, cacheKey); err != nil {
		logrus.WithError(err).Warn("Failed to invalidate access cache")
	}
}

// tenantBindings filters the key's grants to the caller's tenant, a
// second line of defense against cross-tenant leakage through a
// misconfigured grant.
func (r *AccessResolver) tenantBindings(ctx context.Context, keyID, tenantID string) ([]*entity.GrantBinding, error) {
	bindings, err := r.grants.FindBindingsByKey(ctx, keyID)
	if err != nil {
		return nil, err
	}

	filtered := bindings[:0]
	for _, b := range bindings {
		if b.System.OrganizationID == tenantID {
			filtered = append(filtered, b)
		}
	}
	return filtered, nil
}

func sortByEnvironmentPriority(bindings []*entity.GrantBinding) {
	sort.SliceStable(bindings, func(i, j int) bool {
		return entity.EnvironmentRank(bindings[i].Instance.Environment) < entity.EnvironmentRank(bindings[j].Instance.Environment)
	})
}

func toResolvedAccess(b *entity.GrantBinding) *ResolvedAccess {
	return &ResolvedAccess{
		Instance:        b.Instance,
		InstanceService: b.InstanceService,
		SystemService:   b.SystemService,
		Permissions:     b.Grant.Permissions,
		OrganizationID:  b.System.OrganizationID,
	}
}
