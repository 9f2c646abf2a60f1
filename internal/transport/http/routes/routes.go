package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/septivank/attendance-admission/internal/service"
	"github.com/septivank/attendance-admission/internal/transport/http/handlers"
	"github.com/septivank/attendance-admission/internal/transport/http/middleware"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Logger        *zap.Logger
	Attendance    *service.AttendanceService
	Authenticator *middleware.Authenticator
	Readiness     map[string]handlers.Pinger
	ReleaseMode   bool
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))

	health := handlers.NewHealthHandler(deps.Readiness)
	r.GET("/health", health.Status)
	r.GET("/ready", health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.Attendance != nil && deps.Authenticator != nil {
		api := r.Group("/api/v1")
		api.Use(middleware.RequireAuth(deps.Authenticator))
		handlers.NewAttendanceHandler(deps.Attendance).RegisterRoutes(api)
	}

	return r
}
