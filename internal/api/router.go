package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	_ "github.com/pcportal/portal-auth/docs"
	"github.com/pcportal/portal-auth/internal/api/handler"
	"github.com/pcportal/portal-auth/internal/api/middleware"
	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
	"github.com/pcportal/portal-auth/internal/core/service"
)

// Dependencies are the services the HTTP surface is built on.
type Dependencies struct {
	Auth     ports.AuthService
	Profiles *service.ProfileStore
	Workflow *service.ApprovalWorkflow
	Guard    *service.AccessGuard
	// Checks are pinged by the readiness probe, keyed by dependency name.
	Checks       map[string]handler.DependencyCheck
	SignInPath   string
	CookieSecure bool
	Log          zerolog.Logger
	// Registry collects the HTTP metrics. Nil means the default registry.
	Registry *prometheus.Registry
}

var (
	requireMember = domain.Requirement{RequireAuth: true}
	requirePortal = domain.Requirement{
		RequireAuth:     true,
		RequireApproved: true,
		Permissions:     []domain.Permission{domain.PermViewMembersArea},
	}
	requireAgent = domain.Requirement{RequireAuth: true, RequireAgent: true, RequireApproved: true}
	requireAdmin = domain.Requirement{
		RequireAuth:   true,
		RequireAdmin:  true,
		AnyPermission: []domain.Permission{domain.PermApproveUsers, domain.PermManageUsers},
	}
)

// ViewRequirements names the access rule of every protected view.
var ViewRequirements = map[string]domain.Requirement{
	"me":     requireMember,
	"portal": requirePortal,
	"agent":  requireAgent,
	"admin":  requireAdmin,
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Log)

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(echomiddleware.Logger())
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if deps.Registry != nil {
		registerer, gatherer = deps.Registry, deps.Registry
	}
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "portal",
		Registerer: registerer,
	}))

	authn := middleware.Authenticate(deps.Auth, deps.Profiles, deps.Log)
	guard := func(req domain.Requirement) echo.MiddlewareFunc {
		return middleware.Guard(deps.Guard, req, deps.SignInPath)
	}

	authHandler := handler.NewAuthHandler(deps.Auth, deps.CookieSecure)
	profileHandler := handler.NewProfileHandler(deps.Profiles)
	approvalHandler := handler.NewApprovalHandler(deps.Workflow)
	portalHandler := handler.NewPortalHandler()

	auth := e.Group("/auth")
	auth.POST("/signup", authHandler.SignUp)
	auth.POST("/signin", authHandler.SignIn)
	auth.POST("/signout", authHandler.SignOut, authn)
	auth.GET("/session", authHandler.Session, authn)

	me := e.Group("/me", authn, guard(requireMember))
	me.GET("", profileHandler.Get)
	me.PATCH("", profileHandler.Update)

	e.GET("/portal", portalHandler.Members, authn, guard(requirePortal))
	e.GET("/agent", portalHandler.Agents, authn, guard(requireAgent))

	admin := e.Group("/admin", authn, guard(requireAdmin))
	admin.GET("/users", approvalHandler.ListAll)
	admin.GET("/users/pending", approvalHandler.ListPending)
	admin.POST("/users/:user_id/approve", approvalHandler.Approve)
	admin.POST("/users/:user_id/reject", approvalHandler.Reject)

	// --- Health probes and tooling (no auth required) ---
	e.GET("/health", handler.NewHealthHandler().Liveness)
	e.GET("/health/ready", handler.NewReadinessHandler(deps.Checks).Readiness)
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: gatherer}))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	return e
}
