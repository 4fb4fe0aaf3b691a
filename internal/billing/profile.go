package billing

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/social-scheduler/internal/store"
)

// NewProfile returns a profile on the free plan, as created the first time a
// user touches anything credit-bearing.
func NewProfile(userID string, now time.Time) *store.Profile {
	p := &store.Profile{UserID: userID}
	ApplyPlan(p, plans[PlanFree], CycleMonthly, now)
	return p
}

// ApplyPlan resets p to plan's allowances and starts a new billing period at now.
func ApplyPlan(p *store.Profile, plan Plan, cycle string, now time.Time) {
	start := now.UTC()
	end := SubscriptionEndDate(start, cycle)
	next := end

	p.Plan = plan.ID
	p.PostCredits = plan.PostCredits
	p.EnhancementCredits = plan.EnhancementCredits
	p.StorageLimitMB = plan.StorageLimitMB
	p.SubscriptionStatus = StatusActive
	p.BillingCycle = cycle
	p.SubscriptionStartDate = &start
	p.SubscriptionEndDate = &end
	p.NextBillingDate = &next
}

// StorageLimitBytes converts the profile's limit; -1 means unlimited.
func StorageLimitBytes(p *store.Profile) int64 {
	if p == nil {
		return int64(plans[PlanFree].StorageLimitMB) << 20
	}
	if p.StorageLimitMB == UnlimitedStorage {
		return UnlimitedStorage
	}
	return int64(p.StorageLimitMB) << 20
}

// ProfileStore reads and writes profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*store.Profile, error)
	PutProfile(ctx context.Context, profile *store.Profile) error
}

// EnsureProfile returns the user's profile, creating a free one on first use.
func EnsureProfile(ctx context.Context, st ProfileStore, userID string, now time.Time) (*store.Profile, error) {
	p, err := st.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	p = NewProfile(userID, now)
	if err := st.PutProfile(ctx, p); err != nil {
		return nil, err
	}
	log.Info().Str("userId", userID).Msg("Created free profile")
	return p, nil
}
