// Package identity verifies Google Sign-In ID tokens.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/utafrali/authgate/internal/domain"
	apperrors "github.com/utafrali/authgate/pkg/errors"
	"github.com/utafrali/authgate/pkg/httpclient"
)

const (
	msgInvalidCredential = "Invalid credential."
	msgUnverifiedEmail   = "Must verify email."
	msgInvalidDomain     = "Invalid email address."
	msgUnavailable       = "Identity provider unavailable."
)

// DomainChecker decides whether a hosted domain may sign in.
type DomainChecker interface {
	IsVerifiedDomain(hd string) bool
}

// Config configures a GoogleVerifier.
type Config struct {
	// ClientID is the OAuth client id ID tokens must be issued for.
	ClientID string
	Issuer   string
	JWKSURL  string
	Timeout  time.Duration
}

// GoogleVerifier validates Google ID tokens against Google's published keys.
type GoogleVerifier struct {
	verifier *oidc.IDTokenVerifier
	issuers  []string
	domains  DomainChecker
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGoogleVerifier builds a verifier whose key set is fetched with client.
// ctx bounds background key refreshes and should live as long as the process.
func NewGoogleVerifier(ctx context.Context, cfg Config, client *http.Client, domains DomainChecker, logger *slog.Logger) *GoogleVerifier {
	remote := oidc.NewRemoteKeySet(oidc.ClientContext(ctx, client), cfg.JWKSURL)
	return newGoogleVerifier(cfg, remote, domains, logger)
}

func newGoogleVerifier(cfg Config, keys oidc.KeySet, domains DomainChecker, logger *slog.Logger) *GoogleVerifier {
	v := oidc.NewVerifier(cfg.Issuer, &probingKeySet{inner: keys}, &oidc.Config{
		ClientID: cfg.ClientID,
		// Google uses both the bare host and the URL as issuer; checked below.
		SkipIssuerCheck: true,
	})
	return &GoogleVerifier{
		verifier: v,
		issuers:  []string{cfg.Issuer, strings.TrimPrefix(cfg.Issuer, "https://")},
		domains:  domains,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

// Verify checks credential and returns the identity it asserts. Failures of
// the token itself are Unauthorized; failure to obtain Google's keys is
// Unavailable.
func (g *GoogleVerifier) Verify(ctx context.Context, credential string) (*domain.IdentityClaim, error) {
	if credential == "" {
		return nil, apperrors.Unauthorized(msgInvalidCredential)
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	p := &probe{}
	token, err := g.verifier.Verify(withProbe(ctx, p), credential)
	if err != nil {
		if p.err != nil {
			g.logger.ErrorContext(ctx, "google key set unavailable", slog.String("error", p.err.Error()))
			return nil, apperrors.Unavailable(msgUnavailable, p.err)
		}
		return nil, apperrors.New(apperrors.KindUnauthorized, msgInvalidCredential, err)
	}
	if !g.trustedIssuer(token.Issuer) {
		return nil, apperrors.New(apperrors.KindUnauthorized, msgInvalidCredential,
			fmt.Errorf("untrusted issuer %q", token.Issuer))
	}

	var claims googleClaims
	if err := token.Claims(&claims); err != nil {
		return nil, apperrors.New(apperrors.KindUnauthorized, msgInvalidCredential, err)
	}
	if !claims.EmailVerified {
		return nil, apperrors.Unauthorized(msgUnverifiedEmail)
	}
	if claims.HostedDomain == "" || !g.domains.IsVerifiedDomain(claims.HostedDomain) {
		return nil, apperrors.Unauthorized(msgInvalidDomain)
	}

	return &domain.IdentityClaim{
		Subject:       token.Subject,
		Email:         claims.Email,
		EmailVerified: bool(claims.EmailVerified),
		HostedDomain:  claims.HostedDomain,
		GivenName:     claims.GivenName,
		FamilyName:    claims.FamilyName,
	}, nil
}

func (g *GoogleVerifier) trustedIssuer(iss string) bool {
	for _, trusted := range g.issuers {
		if iss == trusted {
			return true
		}
	}
	return false
}

type googleClaims struct {
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	HostedDomain  string   `json:"hd"`
	GivenName     string   `json:"given_name"`
	FamilyName    string   `json:"family_name"`
}

// flexBool accepts both true and "true"; Google has sent either.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("email_verified: %w", err)
	}
	*b = flexBool(strings.EqualFold(s, "true"))
	return nil
}

// probe records key set transport failures for one Verify call. go-oidc
// flattens key set errors into strings, so the cause is captured below it.
type probe struct {
	err error
}

type probeKey struct{}

func withProbe(ctx context.Context, p *probe) context.Context {
	return context.WithValue(ctx, probeKey{}, p)
}

type probingKeySet struct {
	inner oidc.KeySet
}

func (k *probingKeySet) VerifySignature(ctx context.Context, jwt string) ([]byte, error) {
	payload, err := k.inner.VerifySignature(ctx, jwt)
	if err != nil && isKeyFetchFailure(err) {
		if p, ok := ctx.Value(probeKey{}).(*probe); ok {
			p.err = err
		}
	}
	return payload, err
}

func isKeyFetchFailure(err error) bool {
	return httpclient.IsUnavailable(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		strings.HasPrefix(err.Error(), "fetching keys")
}
