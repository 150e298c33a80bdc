// Package registry holds the registered client applications together with
// the issuer, audiences and hosted domains every token is checked against.
// A Registry is immutable after New and safe for concurrent use.
package registry

import (
	"crypto/subtle"
	"fmt"
	"slices"
	"strings"

	apperrors "github.com/utafrali/authgate/pkg/errors"
)

// Options are the inputs to New.
type Options struct {
	Clients         map[string]string
	Issuer          string
	Audiences       []string
	VerifiedDomains []string
}

// Registry resolves client ids to their shared secrets.
type Registry struct {
	secrets   map[string][]byte
	issuer    string
	audiences []string
	domains   map[string]struct{}
}

// New validates opts and builds a Registry. Any missing value is a
// configuration error.
func New(opts Options) (*Registry, error) {
	if strings.TrimSpace(opts.Issuer) == "" {
		return nil, apperrors.Configuration("issuer is required")
	}
	if len(opts.Audiences) == 0 {
		return nil, apperrors.Configuration("at least one audience is required")
	}
	if len(opts.VerifiedDomains) == 0 {
		return nil, apperrors.Configuration("at least one verified domain is required")
	}
	if len(opts.Clients) == 0 {
		return nil, apperrors.Configuration("at least one client is required")
	}

	r := &Registry{
		secrets:   make(map[string][]byte, len(opts.Clients)),
		issuer:    opts.Issuer,
		audiences: slices.Clone(opts.Audiences),
		domains:   make(map[string]struct{}, len(opts.VerifiedDomains)),
	}
	for id, secret := range opts.Clients {
		if id == "" || secret == "" {
			return nil, apperrors.Configuration("Invalid client pair.")
		}
		r.secrets[id] = []byte(secret)
	}
	for _, aud := range r.audiences {
		if aud == "" {
			return nil, apperrors.Configuration("audience must not be empty")
		}
	}
	for _, d := range opts.VerifiedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			return nil, apperrors.Configuration("verified domain must not be empty")
		}
		r.domains[d] = struct{}{}
	}
	return r, nil
}

// Secret returns the signing secret of clientID. An unknown client is a
// server-side error; callers translating it for the outside world must not
// reveal which clients exist.
func (r *Registry) Secret(clientID string) ([]byte, error) {
	if clientID == "" {
		return nil, apperrors.Configuration("clientId is required")
	}
	secret, ok := r.secrets[clientID]
	if !ok {
		return nil, apperrors.Internal(fmt.Errorf("Client secret not found for client id: %s", clientID))
	}
	return secret, nil
}

// Has reports whether clientID is registered.
func (r *Registry) Has(clientID string) bool {
	_, ok := r.secrets[clientID]
	return ok
}

// Authenticate reports whether secret is the registered secret of clientID.
func (r *Registry) Authenticate(clientID, secret string) bool {
	expected, ok := r.secrets[clientID]
	if !ok {
		// unknown ids still run a comparison
		expected = []byte{}
	}
	return subtle.ConstantTimeCompare(expected, []byte(secret)) == 1 && ok
}

// Issuer returns the iss claim written into and required of every token.
func (r *Registry) Issuer() string { return r.issuer }

// Audiences returns a copy of the accepted audiences.
func (r *Registry) Audiences() []string { return slices.Clone(r.audiences) }

// HasAudience reports whether any of aud is an accepted audience.
func (r *Registry) HasAudience(aud []string) bool {
	for _, a := range aud {
		if slices.Contains(r.audiences, a) {
			return true
		}
	}
	return false
}

// VerifiedDomains returns the accepted hosted domains, sorted.
func (r *Registry) VerifiedDomains() []string {
	out := make([]string, 0, len(r.domains))
	for d := range r.domains {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}

// IsVerifiedDomain reports whether hd is an accepted hosted domain.
func (r *Registry) IsVerifiedDomain(hd string) bool {
	if hd == "" {
		return false
	}
	_, ok := r.domains[strings.ToLower(hd)]
	return ok
}
