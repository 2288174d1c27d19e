package loyalty

import (
	"fmt"
	"strings"
)

// Tier is the reward classification derived from accumulated points.
type Tier uint8

const (
	TierCommon Tier = iota
	TierRare
	TierEpic
	TierLegendary
)

// Tiers lists every tier in ascending order.
var Tiers = []Tier{TierCommon, TierRare, TierEpic, TierLegendary}

var tierNames = [...]string{"Common", "Rare", "Epic", "Legendary"}

func (t Tier) String() string {
	if int(t) < len(tierNames) {
		return tierNames[t]
	}
	return fmt.Sprintf("Tier(%d)", uint8(t))
}

// Valid reports whether t is one of the four known tiers.
func (t Tier) Valid() bool { return t <= TierLegendary }

// ParseTier is the inverse of String and ignores case.
func ParseTier(s string) (Tier, error) {
	trimmed := strings.TrimSpace(s)
	for i, name := range tierNames {
		if strings.EqualFold(trimmed, name) {
			return Tier(i), nil
		}
	}
	return 0, fmt.Errorf("loyalty: unknown tier %q", s)
}

// MarshalText renders the tier name.
func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText parses a tier name.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Classify maps points to a tier for the given threshold. The boundaries are
// threshold/3, 2*threshold/3 and threshold using integer division.
func Classify(points, threshold uint64) Tier {
	// 2*threshold may not fit in 64 bits, so derive the second boundary from
	// the quotient and remainder of threshold/3 instead.
	third := threshold / 3
	twoThirds := 2*third + (2*(threshold%3))/3
	switch {
	case points >= threshold:
		return TierLegendary
	case points >= twoThirds:
		return TierEpic
	case points >= third:
		return TierRare
	default:
		return TierCommon
	}
}
