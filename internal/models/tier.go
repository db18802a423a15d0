package models

// Tier is the account tier that decides which store is authoritative
type Tier string

const (
	TierUnknown Tier = ""
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

func (t Tier) String() string {
	if t == TierUnknown {
		return "unknown"
	}
	return string(t)
}

// Identity is an authenticated remote user
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// IsZero reports whether no user is present.
func (i Identity) IsZero() bool {
	return i.UserID == ""
}

// Transition describes a tier change observed by the identity provider.
// Epoch increases by one for every transition and survives restarts.
type Transition struct {
	From     Tier
	To       Tier
	Identity Identity
	Epoch    int64
}
