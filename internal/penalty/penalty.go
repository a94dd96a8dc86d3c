// Package penalty implements strike escalation for invalid claims.
package penalty

import "time"

// Type classifies a recorded penalty.
type Type string

const (
	TypeFalseClaim Type = "FALSE_CLAIM"
	TypeRateLimit  Type = "RATE_LIMIT"
	TypeSuspicious Type = "SUSPICIOUS"
	TypeManual     Type = "MANUAL"
	TypeAutoStrike Type = "AUTO_STRIKE"
)

// Valid reports whether t is a known penalty type.
func (t Type) Valid() bool {
	switch t {
	case TypeFalseClaim, TypeRateLimit, TypeSuspicious, TypeManual, TypeAutoStrike:
		return true
	}
	return false
}

// Policy configures escalation.
type Policy struct {
	StrikesAllowed int
	Cooldown       time.Duration
}

// DefaultPolicy is three strikes then a thirty second cooldown.
func DefaultPolicy() Policy {
	return Policy{StrikesAllowed: 3, Cooldown: 30 * time.Second}
}

// State is the penalty-relevant part of a player.
type State struct {
	Strikes       int
	InCooldown    bool
	CooldownUntil time.Time
	Disqualified  bool
}

// Outcome is the result of applying one strike.
type Outcome struct {
	State
	// Type is AUTO_STRIKE when the strike triggered cooldown, otherwise the
	// type passed to Strike.
	Type Type
	// Cooldown is the cooldown applied by this strike, zero when none.
	Cooldown time.Duration
}

// Strike records one more strike. Strikes saturate at StrikesAllowed; reaching
// the limit starts a cooldown and disqualifies the player.
func (p Policy) Strike(s State, kind Type, now time.Time) Outcome {
	next := s
	next.Strikes = min(s.Strikes+1, p.StrikesAllowed)

	if next.Strikes >= p.StrikesAllowed {
		next.InCooldown = true
		next.CooldownUntil = now.Add(p.Cooldown)
		next.Disqualified = true
		return Outcome{State: next, Type: TypeAutoStrike, Cooldown: p.Cooldown}
	}

	next.InCooldown = false
	next.CooldownUntil = time.Time{}
	return Outcome{State: next, Type: kind}
}

// Remaining returns how long the player must still wait, zero when the
// cooldown has elapsed or was never set.
func (s State) Remaining(now time.Time) time.Duration {
	if !s.InCooldown || !now.Before(s.CooldownUntil) {
		return 0
	}
	return s.CooldownUntil.Sub(now)
}
