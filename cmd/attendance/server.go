package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/septivank/attendance-admission/internal/config"
	"github.com/septivank/attendance-admission/internal/db"
	"github.com/septivank/attendance-admission/internal/service"
	"github.com/septivank/attendance-admission/internal/transport/http/handlers"
	"github.com/septivank/attendance-admission/internal/transport/http/middleware"
	"github.com/septivank/attendance-admission/internal/transport/http/routes"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ProvideAuthenticator creates the bearer token verifier
func ProvideAuthenticator(cfg *config.Config) *middleware.Authenticator {
	return middleware.NewAuthenticator(cfg.JWT.Secret, cfg.JWT.Issuer)
}

// ProvideHTTPServer builds the HTTP server; it starts listening in startHTTPServer
func ProvideHTTPServer(
	cfg *config.Config,
	svc *service.AttendanceService,
	auth *middleware.Authenticator,
	pool *db.Pool,
	logger *zap.Logger,
) *http.Server {
	engine := routes.Register(routes.Dependencies{
		Logger:        logger,
		Attendance:    svc,
		Authenticator: auth,
		Readiness:     map[string]handlers.Pinger{"database": pool},
		ReleaseMode:   true,
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServicePort),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func startHTTPServer(lc fx.Lifecycle, srv *http.Server, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("[HTTP] failed to listen on %s: %w", srv.Addr, err)
			}
			logger.Info("http server listening", zap.String("addr", srv.Addr))

			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped unexpectedly", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("shutdown server: %w", err)
			}
			logger.Info("http server stopped")
			return nil
		},
	})
}
