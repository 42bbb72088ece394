package models

// Persona is a closed set of operator personalities. Each persona steers
// default strategy selection, pricing, and ad spend appetite. The set is
// enumerable so dispatch can be checked exhaustively instead of going
// through free-form string keys.
type Persona string

const (
	PersonaCoach   Persona = "coach"   // steady, low-risk, education products
	PersonaHustler Persona = "hustler" // aggressive volume, cheap offers
	PersonaLuxury  Persona = "luxury"  // few products, premium pricing
	PersonaAnalyst Persona = "analyst" // data-led, mid-risk, tools
	PersonaRebel   Persona = "rebel"   // contrarian niches, creative assets
)

// AllPersonas returns every persona.
func AllPersonas() []Persona {
	return []Persona{PersonaCoach, PersonaHustler, PersonaLuxury, PersonaAnalyst, PersonaRebel}
}

// Valid reports whether the persona is a known variant.
func (p Persona) Valid() bool {
	switch p {
	case PersonaCoach, PersonaHustler, PersonaLuxury, PersonaAnalyst, PersonaRebel:
		return true
	}
	return false
}

// PersonaProfile is the immutable behavioral profile for one persona.
type PersonaProfile struct {
	Tone           string         `json:"tone"`
	RiskTolerance  float64        `json:"risk_tolerance"` // 0..1, scales exploration and ad budget
	PriceFloor     float64        `json:"price_floor"`
	PriceCeiling   float64        `json:"price_ceiling"`
	PreferredKinds []StrategyKind `json:"preferred_kinds"`
}

// Profile returns the profile for a persona. The switch is exhaustive over
// the closed set; unknown values fall back to the coach profile.
func (p Persona) Profile() PersonaProfile {
	switch p {
	case PersonaHustler:
		return PersonaProfile{
			Tone:           "high-energy",
			RiskTolerance:  0.8,
			PriceFloor:     5,
			PriceCeiling:   29,
			PreferredKinds: []StrategyKind{KindEbook, KindTemplate, KindBundle},
		}
	case PersonaLuxury:
		return PersonaProfile{
			Tone:           "exclusive",
			RiskTolerance:  0.3,
			PriceFloor:     99,
			PriceCeiling:   499,
			PreferredKinds: []StrategyKind{KindCourse, KindBundle},
		}
	case PersonaAnalyst:
		return PersonaProfile{
			Tone:           "precise",
			RiskTolerance:  0.5,
			PriceFloor:     19,
			PriceCeiling:   149,
			PreferredKinds: []StrategyKind{KindTool, KindTemplate, KindCourse},
		}
	case PersonaRebel:
		return PersonaProfile{
			Tone:           "irreverent",
			RiskTolerance:  0.7,
			PriceFloor:     9,
			PriceCeiling:   79,
			PreferredKinds: []StrategyKind{KindEbook, KindTool, KindBundle},
		}
	case PersonaCoach:
		fallthrough
	default:
		return PersonaProfile{
			Tone:           "supportive",
			RiskTolerance:  0.4,
			PriceFloor:     15,
			PriceCeiling:   99,
			PreferredKinds: []StrategyKind{KindCourse, KindEbook, KindTemplate},
		}
	}
}
