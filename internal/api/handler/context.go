package handler

import (
	"github.com/labstack/echo/v4"

	"github.com/gigmarket/identity/internal/core/domain"
)

// Context keys written by the Auth middleware.
const (
	CtxUserID = "user_id"
	CtxRole   = "role"
)

// ctxClaims extracts the auth claims injected by the Auth middleware. A
// missing or zero user id means the middleware did not run for this route.
func ctxClaims(c echo.Context) (domain.Claims, error) {
	id, _ := c.Get(CtxUserID).(int64)
	role, _ := c.Get(CtxRole).(domain.Role)
	if id <= 0 || !role.Valid() {
		return domain.Claims{}, domain.ErrUnauthorized
	}
	return domain.Claims{UserID: id, Role: role}, nil
}
