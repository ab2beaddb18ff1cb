package auth

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/clinops/clinops/internal/platform/apperr"
)

// Verifier exchanges a bearer credential for an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, token string) (Identity, error)

func (f VerifierFunc) Verify(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}

var verificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "clinops_identity_verifications_total",
		Help: "Bearer credential verifications by outcome",
	},
	[]string{"result"},
)

// Gateway authenticates every request against a Verifier. It keeps no
// state between requests: each call re-verifies the credential.
type Gateway struct {
	verifier Verifier
	logger   zerolog.Logger
}

func NewGateway(verifier Verifier, logger zerolog.Logger) *Gateway {
	return &Gateway{verifier: verifier, logger: logger}
}

// Authenticate rejects requests without a verifiable bearer credential and
// attaches the resulting Identity to the request context.
func (g *Gateway) Authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				verificationsTotal.WithLabelValues("missing").Inc()
				return apperr.Unauthenticated("missing or malformed bearer token")
			}

			ctx := c.Request().Context()
			id, err := g.verifier.Verify(ctx, token)
			if err != nil {
				verificationsTotal.WithLabelValues("rejected").Inc()
				g.logger.Warn().Err(err).
					Str("path", c.Request().URL.Path).
					Msg("identity verification failed")
				return apperr.Unauthenticated("invalid or expired token")
			}
			verificationsTotal.WithLabelValues("ok").Inc()

			c.Set("user_id", id.UserID)
			c.SetRequest(c.Request().WithContext(WithIdentity(ctx, id)))
			return next(c)
		}
	}
}

// RequirePermission returns middleware that rejects callers whose
// permission set does not satisfy key.
func RequirePermission(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFromContext(c.Request().Context())
			if !ok {
				return apperr.Unauthenticated("authentication required")
			}
			if !id.Can(key) {
				return apperr.Forbidden("missing permission %s", key)
			}
			return next(c)
		}
	}
}

// RequireAdmin returns middleware that only admits the admin role.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFromContext(c.Request().Context())
			if !ok {
				return apperr.Unauthenticated("authentication required")
			}
			if !id.IsAdmin() {
				return apperr.Forbidden("admin role required")
			}
			return next(c)
		}
	}
}

// Authenticated is the guard chain for routes that only need a caller.
func (g *Gateway) Authenticated() []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{g.Authenticate()}
}

// Permitted is the guard chain for routes gated by a permission key.
func (g *Gateway) Permitted(key string) []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{g.Authenticate(), RequirePermission(key)}
}

// Admin is the guard chain for admin-only routes.
func (g *Gateway) Admin() []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{g.Authenticate(), RequireAdmin()}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
