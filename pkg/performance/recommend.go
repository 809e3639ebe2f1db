package performance

import (
	"fmt"

	"github.com/cachepulse/cachepulse/pkg/types"
)

// Recommendation is one human-readable tuning suggestion.
type Recommendation struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Rule thresholds for the advisor. Exported so embedding applications
// can read what the advice is based on.
const (
	// MinRequestsForAdvice guards against advising on cold counters.
	MinRequestsForAdvice = 100

	// LowHitRate marks a local tier that misses more than it hits.
	LowHitRate = 0.5

	// HighEvictionRatio marks eviction churn relative to requests.
	HighEvictionRatio = 0.5
)

// Recommend evaluates the tuning rules against a report. It is a pure
// function of its input: same report, same advice.
func Recommend(report Report) []Recommendation {
	var recs []Recommendation

	if local, ok := report.Tiers["tier_0"]; ok && local.Requests >= MinRequestsForAdvice {
		if local.HitRate < LowHitRate {
			recs = append(recs, Recommendation{
				Subject: "local_capacity",
				Message: fmt.Sprintf(
					"local hit rate is %.0f%%; the working set likely exceeds the local capacity, consider raising it",
					local.HitRate*100),
			})
		}
		if ratio := float64(local.Evictions) / float64(local.Requests); ratio > HighEvictionRatio {
			recs = append(recs, Recommendation{
				Subject: "eviction_churn",
				Message: fmt.Sprintf(
					"local tier evicted %d entries over %d requests; raise capacity or lower the default TTL so entries expire before they are pushed out",
					local.Evictions, local.Requests),
			})
		}
	}

	for i, name := range report.TierNames {
		if i == 0 {
			continue
		}
		tier, ok := report.Tiers[fmt.Sprintf("tier_%d", i)]
		if !ok || tier.Requests < MinRequestsForAdvice {
			continue
		}
		if tier.HitRate == 0 {
			recs = append(recs, Recommendation{
				Subject: "remote_tier",
				Message: fmt.Sprintf(
					"remote tier %d (%s) served no hits over %d requests; verify the backend holds data and is reachable",
					i, name, tier.Requests),
			})
		}
	}

	for _, alert := range report.Alerts {
		switch alert.Kind {
		case types.AlertCPUHigh:
			recs = append(recs, Recommendation{
				Subject: "host_cpu",
				Message: "host CPU is above threshold; cache serialization and promotion work may be contributing, consider reducing tier fan-out or value sizes",
			})
		case types.AlertMemoryHigh:
			recs = append(recs, Recommendation{
				Subject: "host_memory",
				Message: "host memory is critically high; lower the local tier capacity or default TTL to shrink resident cache size",
			})
		case types.AlertDiskIOHigh:
			recs = append(recs, Recommendation{
				Subject: "host_disk",
				Message: "disk reads are above threshold; a larger local tier could absorb more reads before they reach disk-backed services",
			})
		}
	}

	return recs
}
