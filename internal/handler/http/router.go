package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/authgate/internal/service"
	"github.com/utafrali/authgate/pkg/health"
	"github.com/utafrali/authgate/pkg/middleware"
)

const serviceName = "authgate"

// RouterConfig holds everything NewRouter wires together.
type RouterConfig struct {
	Auth   *service.AuthService
	Tokens *service.TokenService
	// Clients authenticates Basic credentials on the introspection endpoint.
	Clients middleware.ClientAuthenticator
	Health  *health.Handler
	Logger  *slog.Logger

	CORS      middleware.CORSConfig
	RateLimit middleware.RateLimitConfig
	// CSRF protects the sign-in endpoint when set.
	CSRF *middleware.CSRFConfig
	// ExposeErrors returns unclassified error messages to callers.
	ExposeErrors bool
}

// NewRouter creates a chi router with all routes registered. ctx bounds the
// rate limiter's background cleanup.
func NewRouter(ctx context.Context, cfg RouterConfig) http.Handler {
	errs := newErrorWriter(cfg.Logger, cfg.ExposeErrors)
	onError := errs.Write

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(cfg.Logger, onError))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	authHandler := NewAuthHandler(cfg.Auth, cfg.RateLimit.TrustForwarded, errs)
	tokenHandler := NewTokenHandler(cfg.Tokens, cfg.RateLimit.TrustForwarded, errs)
	bearer := middleware.BearerAuth(bearerValidator(cfg.Tokens), "clientId", onError)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(ctx, cfg.RateLimit, cfg.Logger, onError))

		r.Group(func(r chi.Router) {
			r.Use(ContentTypeJSON)
			if cfg.CSRF != nil {
				r.Use(middleware.CSRF(*cfg.CSRF, onError))
			}
			r.Post("/authenticate/google", authHandler.AuthenticateGoogle)
		})

		r.Route("/token", func(r chi.Router) {
			r.Use(ContentTypeJSON)

			r.Post("/", tokenHandler.Token)
			r.Post("/revoke", tokenHandler.Revoke)
			r.With(middleware.ClientBasicAuth(cfg.Clients, onError)).Post("/introspect", tokenHandler.Introspect)
			r.With(bearer).Post("/revokeAll", tokenHandler.RevokeAll)
		})

		r.With(bearer).Get("/userinfo", tokenHandler.UserInfo)
	})

	return r
}

// bearerValidator adapts the token service to middleware.BearerAuth. The
// optional clientId query parameter pins the expected client.
func bearerValidator(tokens *service.TokenService) middleware.TokenValidator {
	return func(ctx context.Context, token, clientID string) (*middleware.Principal, error) {
		claims, err := tokens.ValidateAccessToken(ctx, token, false, clientID)
		if err != nil {
			return nil, err
		}
		return &middleware.Principal{
			UserID:    claims.Subject,
			ClientID:  claims.ClientID,
			Email:     claims.Email,
			FirstName: claims.FirstName,
			LastName:  claims.LastName,
		}, nil
	}
}
