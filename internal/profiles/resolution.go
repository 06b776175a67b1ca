package profiles

import "github.com/iahome/backend/internal/accounts"

// ResolutionKind enumerates how an auth identity maps onto stored profiles.
type ResolutionKind int

const (
	// AlreadyCanonical means a profile keyed by the auth id exists.
	AlreadyCanonical ResolutionKind = iota
	// NeedsMerge means the email belongs to a legacy profile with a different id.
	NeedsMerge
	// NeedsCreate means neither lookup found a profile.
	NeedsCreate
	// RaceDetected means the canonical profile appeared after the initial lookups,
	// typically created by the signup trigger.
	RaceDetected
)

func (k ResolutionKind) String() string {
	switch k {
	case AlreadyCanonical:
		return "already_canonical"
	case NeedsMerge:
		return "needs_merge"
	case NeedsCreate:
		return "needs_create"
	case RaceDetected:
		return "race_detected"
	default:
		return "unknown"
	}
}

type resolution struct {
	kind      ResolutionKind
	canonical *accounts.Profile
	legacy    *accounts.Profile
}

// classify decides the resolution from the email lookup and the id lookup.
// A profile keyed by the auth id always wins; a legacy row already carrying the
// auth id is treated as canonical.
func classify(legacy, canonical *accounts.Profile, authUserID string) resolution {
	switch {
	case canonical != nil:
		return resolution{kind: AlreadyCanonical, canonical: canonical}
	case legacy != nil && legacy.ID == authUserID:
		return resolution{kind: AlreadyCanonical, canonical: legacy}
	case legacy != nil:
		return resolution{kind: NeedsMerge, legacy: legacy}
	default:
		return resolution{kind: NeedsCreate}
	}
}

func raceDetected(canonical accounts.Profile) resolution {
	return resolution{kind: RaceDetected, canonical: &canonical}
}
