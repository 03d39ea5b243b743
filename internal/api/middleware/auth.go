package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/gigmarket/identity/internal/api/handler"
	"github.com/gigmarket/identity/internal/api/metrics"
	"github.com/gigmarket/identity/internal/core/domain"
	"github.com/gigmarket/identity/internal/core/ports"
)

// Auth validates the bearer token and injects its claims into context.
// Every failure is reported as the same domain.ErrUnauthorized.
func Auth(verifier ports.TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				metrics.UnauthorizedTotal.Inc()
				return domain.ErrUnauthorized
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
				metrics.UnauthorizedTotal.Inc()
				return domain.ErrUnauthorized
			}

			claims, err := verifier.Verify(parts[1])
			if err != nil {
				metrics.UnauthorizedTotal.Inc()
				return domain.ErrUnauthorized
			}

			c.Set(handler.CtxUserID, claims.UserID)
			c.Set(handler.CtxRole, claims.Role)

			return next(c)
		}
	}
}
