// Package lod classifies entities into detail tiers from dynamic signals
// and gates which properties are resolved at each tier.
//
// Classification is deliberately sticky: a tier change requires crossing a
// distance threshold beyond a hysteresis margin, holding the candidate for
// a dwell period, and moves at most one tier step per pass. An entity
// sitting on a boundary with a jittering distance signal keeps its tier.
package lod

import (
	"fmt"
	"time"
)

// Tier is a detail bucket. Lower values carry more detail.
type Tier uint8

const (
	TierNear Tier = iota
	TierMid
	TierFar
	TierCulled

	tierCount = 4
)

var tierNames = [tierCount]string{"near", "mid", "far", "culled"}

func (t Tier) String() string {
	if int(t) < len(tierNames) {
		return tierNames[t]
	}
	return fmt.Sprintf("tier(%d)", uint8(t))
}

// ParseTier maps a config token to a Tier.
func ParseTier(s string) (Tier, error) {
	for i, name := range tierNames {
		if s == name {
			return Tier(i), nil
		}
	}
	return TierNear, &InvalidConfigError{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", s)}
}

// Signals are the per-entity inputs to one classification step.
type Signals struct {
	// Distance is the world-space distance to the viewer.
	Distance float64

	// Importance is a designer-assigned weight. Larger values hold an
	// entity at nearer tiers for longer. Zero or negative means neutral.
	Importance float64

	// BudgetPressure is the current frame-budget load in [0, 1]. Under
	// pressure the distance thresholds contract, biasing every entity
	// toward cheaper tiers.
	BudgetPressure float64
}

// DefaultImportanceFloor is the lower clamp for the importance weight when
// the config leaves it unset.
const DefaultImportanceFloor = 1e-3

// Config holds the classification policy and the per-tier property gates.
type Config struct {
	// Thresholds are the near/mid, mid/far and far/culled distance cuts,
	// strictly increasing.
	Thresholds [3]float64

	// Hysteresis is the symmetric margin around each cut. A crossing
	// registers only beyond threshold±margin in the direction of travel.
	Hysteresis float64

	// Dwell is the minimum time a candidate tier must persist before a
	// switch commits. Zero commits on the first pass past hysteresis.
	Dwell time.Duration

	// Tiers maps each tier to its enabled property set. A missing
	// TierNear entry enables everything; any other missing tier inherits
	// the next nearer tier's filter. Tier sets are monotonic: anything
	// enabled at a farther tier must be enabled at every nearer tier.
	Tiers map[Tier]PropertyFilter

	// ImportanceFloor is the lower clamp for the importance weight.
	// Zero or negative selects DefaultImportanceFloor.
	ImportanceFloor float64
}

// DefaultConfig is the policy used when a scene declares none: every
// property enabled at every tier, no hysteresis or dwell.
func DefaultConfig() Config {
	return Config{Thresholds: [3]float64{50, 200, 1000}}
}

// compiled is a validated Config with the tier filters filled in.
type compiled struct {
	thresholds      [3]float64
	hysteresis      float64
	dwell           time.Duration
	filters         [tierCount]PropertyFilter
	importanceFloor float64
}

func compileConfig(cfg Config) (compiled, error) {
	var c compiled
	for i, t := range cfg.Thresholds {
		if t <= 0 {
			return c, &InvalidConfigError{
				Field:  "thresholds",
				Reason: fmt.Sprintf("threshold %d is %v, want > 0", i, t),
			}
		}
		if i > 0 && t <= cfg.Thresholds[i-1] {
			return c, &InvalidConfigError{
				Field:  "thresholds",
				Reason: fmt.Sprintf("threshold %d (%v) does not exceed threshold %d (%v)", i, t, i-1, cfg.Thresholds[i-1]),
			}
		}
	}
	if cfg.Hysteresis < 0 {
		return c, &InvalidConfigError{Field: "hysteresis", Reason: "negative margin"}
	}
	for i := 1; i < len(cfg.Thresholds); i++ {
		if gap := cfg.Thresholds[i] - cfg.Thresholds[i-1]; 2*cfg.Hysteresis >= gap {
			return c, &InvalidConfigError{
				Field:  "hysteresis",
				Reason: fmt.Sprintf("margin %v overlaps the %v..%v threshold gap", cfg.Hysteresis, cfg.Thresholds[i-1], cfg.Thresholds[i]),
			}
		}
	}
	if cfg.Dwell < 0 {
		return c, &InvalidConfigError{Field: "dwell", Reason: "negative dwell"}
	}

	c.thresholds = cfg.Thresholds
	c.hysteresis = cfg.Hysteresis
	c.dwell = cfg.Dwell
	c.importanceFloor = cfg.ImportanceFloor
	if c.importanceFloor <= 0 {
		c.importanceFloor = DefaultImportanceFloor
	}

	// Fill the tier filters nearest-first so a missing farther tier
	// inherits the nearer one, then check monotonic narrowing.
	for tier := TierNear; tier < tierCount; tier++ {
		f, ok := cfg.Tiers[tier]
		if !ok {
			if tier == TierNear {
				f = MatchAll()
			} else {
				f = c.filters[tier-1]
			}
		}
		c.filters[tier] = f
	}
	for tier := TierMid; tier < tierCount; tier++ {
		if !c.filters[tier-1].covers(c.filters[tier]) {
			return c, &InvalidConfigError{
				Field:  "tiers",
				Reason: fmt.Sprintf("%s enables properties that %s does not", Tier(tier), Tier(tier-1)),
			}
		}
	}
	return c, nil
}

// effectiveDistance folds the importance weight into the raw distance.
func (c compiled) effectiveDistance(s Signals) float64 {
	imp := s.Importance
	if imp <= 0 {
		imp = 1
	}
	if imp < c.importanceFloor {
		imp = c.importanceFloor
	}
	return s.Distance / imp
}

// pressureScale contracts thresholds under budget pressure, clamped so a
// saturated budget still leaves a quarter of the configured range.
func pressureScale(pressure float64) float64 {
	scale := 1 - pressure
	if scale > 1 {
		return 1
	}
	if scale < 0.25 {
		return 0.25
	}
	return scale
}

// boundary returns the scaled cut between tier t and tier t+1.
func (c compiled) boundary(t Tier, scale float64) float64 {
	return c.thresholds[t] * scale
}

// rawTier is the unhysteretic classification of an effective distance.
func (c compiled) rawTier(eff, scale float64) Tier {
	for t := TierNear; t < TierCulled; t++ {
		if eff < c.boundary(t, scale) {
			return t
		}
	}
	return TierCulled
}
