package cache

import (
	"fmt"
	"time"
)

// Tier is an expiry tier chosen by the reader. The same stored entry can be
// fresh under one tier and expired under another at the same instant.
type Tier string

const (
	// Short accepts entries younger than 30 seconds.
	Short Tier = "short"

	// Medium accepts entries younger than 5 minutes. It is the default tier.
	Medium Tier = "medium"

	// Long accepts entries younger than 1 hour and also returns
	// expired durable entries instead of reporting a miss.
	Long Tier = "long"
)

// TTL returns the maximum age accepted by the tier.
func (t Tier) TTL() time.Duration {
	switch t {
	case Short:
		return 30 * time.Second
	case Long:
		return time.Hour
	default:
		return 5 * time.Minute
	}
}

// ParseTier converts a tier name. An empty name selects Medium.
func ParseTier(name string) (Tier, error) {
	switch Tier(name) {
	case "":
		return Medium, nil
	case Short, Medium, Long:
		return Tier(name), nil
	default:
		return "", fmt.Errorf("unknown cache tier: %s", name)
	}
}

// fresh reports whether an entry written at storedAt is still valid at now.
func fresh(now, storedAt time.Time, tier Tier) bool {
	if storedAt.IsZero() {
		return false
	}
	return now.Sub(storedAt) < tier.TTL()
}
