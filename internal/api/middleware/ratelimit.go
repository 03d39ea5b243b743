package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/gigmarket/identity/internal/api/metrics"
	"github.com/gigmarket/identity/internal/core/domain"
	"github.com/gigmarket/identity/internal/core/ports"
)

// RateLimit charges one attempt against class for the client address before
// calling next. A limiter backend failure lets the request through.
func RateLimit(limiter ports.RateLimiter, class domain.EndpointClass, log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			decision, err := limiter.Allow(c.Request().Context(), ip, class)
			if err != nil {
				metrics.RateLimiterErrorsTotal.WithLabelValues(string(class)).Inc()
				log.Warn().Err(err).
					Str("class", string(class)).
					Str("ip", ip).
					Msg("rate limiter unavailable, processing anyway")
				return next(c)
			}

			if err := decision.Err(class); err != nil {
				metrics.RateLimitedTotal.WithLabelValues(string(class)).Inc()
				return err
			}
			return next(c)
		}
	}
}
