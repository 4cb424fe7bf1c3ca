package executor

import (
	"time"
)

// defaultBlockedTTL is how long a blocked task may sit before auto-failing.
const defaultBlockedTTL = 2 * time.Minute

// ttlExempt lists blocked reasons that never auto-fail: they wait on an
// external condition rather than a stuck execution.
var ttlExempt = map[string]bool{
	"waiting_on_prereq":    true,
	"infra_error_tripped":  true,
	"max_retries_exceeded": true,
	"advisory_action":      true,
	// Shadow blocks lift when the executor goes live; expiring them would
	// fail tasks that were only ever observed.
	"shadow_mode": true,
}

// blockedTTLs overrides the default TTL for specific reasons.
var blockedTTLs = map[string]time.Duration{
	"rate_limited": 5 * time.Minute,
}

// blockedTTL returns the auto-fail TTL for a blocked reason, or exempt=true
// when the reason never expires.
func blockedTTL(reason string) (ttl time.Duration, exempt bool) {
	if ttlExempt[reason] {
		return 0, true
	}
	if d, ok := blockedTTLs[reason]; ok {
		return d, false
	}
	return defaultBlockedTTL, false
}
