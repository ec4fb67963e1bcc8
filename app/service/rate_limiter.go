package service

import (
	"context"
	"fmt"
	"time"

	"github.com/michal-majer/s4kit-gateway/app/entity"
	"github.com/michal-majer/s4kit-gateway/app/store"
)

const (
	minuteWindow = time.Minute
	dayWindow    = 24 * time.Hour
)

// RateDecision is the outcome of a rate-limit check. Scope names the
// exhausted limit when denied.
type RateDecision struct {
	Allowed           bool
	Scope             string
	RetryAfterSeconds int
}

// TenantLimits are the blast-radius quotas applied on top of each
// key's own configured limits.
type TenantLimits struct {
	PerMinute int
	PerDay    int
}

type RateLimiter struct {
	counters     store.CounterStore
	tenantLimits TenantLimits
}

func NewRateLimiter(counters store.CounterStore, tenantLimits TenantLimits) *RateLimiter {
	return &RateLimiter{counters: counters, tenantLimits: tenantLimits}
}

// Check evaluates both sliding windows at key and tenant granularity.
// All four counters move in one atomic store batch per call; key-level
// limits are judged before tenant-level ones.
func (l *RateLimiter) Check(ctx context.Context, key *entity.APIKey) (RateDecision, error) {
	increments := []store.WindowIncrement{
		{Key: fmt.Sprintf("rl:key:%s:minute", key.ID), Window: minuteWindow},
		{Key: fmt.Sprintf("rl:key:%s:day", key.ID), Window: dayWindow},
		{Key: fmt.Sprintf("rl:org:%s:minute", key.OrganizationID), Window: minuteWindow},
		{Key: fmt.Sprintf("rl:org:%s:day", key.OrganizationID), Window: dayWindow},
	}

	counts, err := l.counters.AtomicWindowIncrement(ctx, increments)
	if err != nil {
		return RateDecision{}, err
	}

	checks := []struct {
		scope  string
		count  int64
		limit  int
		window time.Duration
	}{
		{"key-minute", counts[0], key.RatePerMinute, minuteWindow},
		{"key-day", counts[1], key.RatePerDay, dayWindow},
		{"tenant-minute", counts[2], l.tenantLimits.PerMinute, minuteWindow},
		{"tenant-day", counts[3], l.tenantLimits.PerDay, dayWindow},
	}
	for _, c := range checks {
		if c.limit > 0 && c.count > int64(c.limit) {
			return RateDecision{
				Allowed:           false,
				Scope:             c.scope,
				RetryAfterSeconds: int(c.window / time.Second),
			}, nil
		}
	}
	return RateDecision{Allowed: true}, nil
}
