package domain

import (
	"time"
)

// ProviderGoogle is the provider name of Google Sign-In identities.
const ProviderGoogle = "google"

// User is an internal user record. Providers maps an external provider name
// to the subject id that provider asserts for this user.
type User struct {
	ID        string            `json:"id"`
	Email     string            `json:"email"`
	FirstName string            `json:"firstName"`
	LastName  string            `json:"lastName"`
	Providers map[string]string `json:"providers,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
	IsDeleted bool              `json:"-"`
}

// NewUserFromClaim builds an unsaved user for a first-seen identity.
func NewUserFromClaim(id string, claim *IdentityClaim, now time.Time) *User {
	return &User{
		ID:        id,
		Email:     claim.Email,
		FirstName: claim.GivenName,
		LastName:  claim.FamilyName,
		Providers: map[string]string{claim.Provider(): claim.Subject},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IdentityClaim is a verified assertion from an external identity provider.
type IdentityClaim struct {
	Subject       string
	Email         string
	EmailVerified bool
	HostedDomain  string
	GivenName     string
	FamilyName    string
}

// Provider returns the provider that issued the claim.
func (c *IdentityClaim) Provider() string { return ProviderGoogle }
