package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// OverviewHandler serves the identity part of the role dashboards.
type OverviewHandler struct{}

func NewOverviewHandler() *OverviewHandler {
	return &OverviewHandler{}
}

// Client returns the caller's identity for the client dashboard.
//
// @Summary      Client overview
// @Tags         dashboards
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  overviewResponse
// @Failure      401  {object}  map[string]string
// @Failure      403  {object}  map[string]string
// @Router       /api/client/overview [get]
func (h *OverviewHandler) Client(c echo.Context) error {
	return h.render(c, "client")
}

// Freelancer returns the caller's identity for the freelancer dashboard.
//
// @Summary      Freelancer overview
// @Tags         dashboards
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  overviewResponse
// @Failure      401  {object}  map[string]string
// @Failure      403  {object}  map[string]string
// @Router       /api/freelancer/overview [get]
func (h *OverviewHandler) Freelancer(c echo.Context) error {
	return h.render(c, "freelancer")
}

func (h *OverviewHandler) render(c echo.Context, dashboard string) error {
	claims, err := ctxClaims(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, overviewResponse{
		Dashboard: dashboard,
		UserID:    claims.UserID,
		Role:      claims.Role,
	})
}
