package api

import (
	"net"

	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/gigmarket/identity/docs"
	"github.com/gigmarket/identity/internal/api/handler"
	"github.com/gigmarket/identity/internal/api/middleware"
	"github.com/gigmarket/identity/internal/core/domain"
	"github.com/gigmarket/identity/internal/core/ports"
	"github.com/gigmarket/identity/internal/infrastructure/http/handlers"
)

// Dependencies are the collaborators NewRouter wires into handlers.
type Dependencies struct {
	Auth     ports.AuthService
	Reset    ports.ResetService
	Verifier ports.TokenVerifier
	Limiter  ports.RateLimiter
	Checks   []handlers.Check
	Log      zerolog.Logger

	// TrustedProxies are the peers allowed to name the client in
	// X-Forwarded-For. When empty the socket address is the client.
	TrustedProxies []*net.IPNet

	// Registerer receives the HTTP request metrics. Defaults to the
	// global Prometheus registerer.
	Registerer prometheus.Registerer
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Log)
	e.IPExtractor = clientIPExtractor(deps.TrustedProxies)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestIDWithConfig(echomiddleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(deps.Log))
	reg := deps.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  "identity",
		Subsystem:  "http",
		Registerer: reg,
	}))

	// --- Dependencies ---
	authHandler := handler.NewAuthHandler(deps.Auth)
	resetHandler := handler.NewResetHandler(deps.Reset)
	overviewHandler := handler.NewOverviewHandler()
	authMiddleware := middleware.Auth(deps.Verifier)
	limit := func(class domain.EndpointClass) echo.MiddlewareFunc {
		return middleware.RateLimit(deps.Limiter, class, deps.Log)
	}

	// --- Auth routes ---
	auth := e.Group("/auth")
	auth.POST("/signup", authHandler.Signup)
	auth.POST("/login", authHandler.Login, limit(domain.ClassLogin))
	auth.POST("/forgot-password", resetHandler.ForgotPassword, limit(domain.ClassForgotPassword))
	auth.POST("/verify-otp", resetHandler.VerifyOTP, limit(domain.ClassVerifyOTP))
	auth.POST("/resend-otp", resetHandler.ResendOTP, limit(domain.ClassResendOTP))
	auth.POST("/reset-password", resetHandler.ResetPassword)
	auth.GET("/me", authHandler.Me, authMiddleware)
	auth.POST("/change-password", authHandler.ChangePassword, authMiddleware)

	// --- Role dashboards ---
	dash := e.Group("/api", authMiddleware)
	dash.GET("/client/overview", overviewHandler.Client, middleware.RBAC(domain.RoleClient))
	dash.GET("/freelancer/overview", overviewHandler.Freelancer, middleware.RBAC(domain.RoleFreelancer))

	// --- Health probes (no auth required) ---
	healthHandler := handlers.NewHealthHandler()
	healthDepsHandler := handlers.NewHealthDependenciesHandler(deps.Checks...)

	e.GET("/health", healthHandler.Liveness)            // liveness  – is the process alive?
	e.GET("/health/ready", healthDepsHandler.Readiness) // readiness – are dependencies up?

	// --- Ops ---
	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	return e
}

// clientIPExtractor decides what RealIP returns, and with it the rate limit
// key. Forwarding headers are only honoured when they arrive from a listed proxy.
func clientIPExtractor(trusted []*net.IPNet) echo.IPExtractor {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, n := range trusted {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}
