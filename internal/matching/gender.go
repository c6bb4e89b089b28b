package matching

// Gender is a user's directory gender. Anonymous users may never have set
// one, in which case it stays GenderUnknown.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = ""
)

// Preference is a user's matching target.
type Preference string

const (
	PrefAny    Preference = "any"
	PrefMale   Preference = "male"
	PrefFemale Preference = "female"
	// prefAbsent marks a queued user whose preference entry is missing;
	// their target set is derived from their own gender instead.
	prefAbsent Preference = ""
)

// NormalizePreference maps arbitrary client input onto a valid Preference.
// Anything that is not exactly "male" or "female" becomes PrefAny.
func NormalizePreference(raw string) Preference {
	switch raw {
	case string(PrefMale):
		return PrefMale
	case string(PrefFemale):
		return PrefFemale
	default:
		return PrefAny
	}
}

// targetSet is the set of genders a user is willing to be matched with.
type targetSet uint8

const (
	targetMale targetSet = 1 << iota
	targetFemale
	// targetWildcard accepts every partner, including one whose gender is
	// unknown. An explicit "any" preference maps here, which is the only way
	// an unknown-gender user can be on the receiving side of a match.
	targetWildcard
)

// accepts reports whether a partner with gender g satisfies the target set.
// GenderUnknown is not a member of any specific-gender set, so unknown-gender
// users only pass a wildcard check.
func (t targetSet) accepts(g Gender) bool {
	if t&targetWildcard != 0 {
		return true
	}
	switch g {
	case GenderMale:
		return t&targetMale != 0
	case GenderFemale:
		return t&targetFemale != 0
	}
	return false
}

// targetsFor derives a user's target set from their stored preference and
// their own gender:
//
//   - explicit "any" accepts everyone
//   - explicit "male"/"female" accepts exactly that gender
//   - no preference and a known gender defaults to the opposite gender
//   - no preference and no gender accepts everyone
func targetsFor(pref Preference, own Gender) targetSet {
	switch pref {
	case PrefAny:
		return targetWildcard
	case PrefMale:
		return targetMale
	case PrefFemale:
		return targetFemale
	}

	switch own {
	case GenderMale:
		return targetFemale
	case GenderFemale:
		return targetMale
	}
	return targetWildcard
}

// IsGenderMatch evaluates bidirectional compatibility: each side's gender
// must be accepted by the other side's target set. The relation is symmetric.
func IsGenderMatch(aGender Gender, aPref Preference, bGender Gender, bPref Preference) bool {
	aTargets := targetsFor(aPref, aGender)
	bTargets := targetsFor(bPref, bGender)
	return aTargets.accepts(bGender) && bTargets.accepts(aGender)
}
