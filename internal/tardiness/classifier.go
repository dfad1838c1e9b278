// Package tardiness classifies lateness and runs the per-student
// evaluation checks that raise deduplicated notifications.
package tardiness

// Tier is a lateness severity.
type Tier int

// Severity tiers. The 1800s (30 minute) breakpoint is the line between a
// minor and a major citation and is relied on by dedupe keys.
const (
	TierNone  Tier = 0
	TierMinor Tier = 1
	TierMajor Tier = 2
)

// Classify maps elapsed lateness in seconds to a tier. This is the only
// place tier arithmetic lives; dedupe keys and notice severities all take
// their tier from here.
func Classify(deltaSeconds int) Tier {
	switch {
	case deltaSeconds >= 1800:
		return TierMajor
	case deltaSeconds >= 1:
		return TierMinor
	default:
		return TierNone
	}
}
