package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"flowline/backend/internal/api"
	"flowline/backend/internal/auth"
	"flowline/backend/internal/config"
	"flowline/backend/internal/executor"
	"flowline/backend/internal/logging"
	"flowline/backend/internal/mcp"
	"flowline/backend/internal/repository"
	"flowline/backend/internal/services"
	"flowline/backend/internal/tls"
)

func main() {
	ctx := context.Background()

	logger := logging.New(logging.FromEnv())

	configFile := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("configuration loaded",
		"environment", cfg.Environment,
		"issuer", cfg.Auth.Issuer,
		"executor_interpreter", cfg.Executor.Interpreter,
		"executor_script", cfg.Executor.Script,
	)

	logger.Info("starting Flowline workflow service")

	dbPool, err := initDatabase(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := repository.Migrate(ctx, dbPool); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	repo := repository.NewPostgresStore(dbPool)

	runner := &executor.ProcessRunner{
		Interpreter:  cfg.Executor.Interpreter,
		Script:       cfg.Executor.Script,
		OpenAIAPIKey: cfg.Executor.OpenAIAPIKey,
	}
	executionService := services.NewExecutionService(repo, runner, logger, services.ExecutionServiceConfig{
		StoreDSN: cfg.DSN(),
		Timeout:  cfg.Executor.Timeout,
	})

	logger.Info("service layer initialized")

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("flowline"))
	if len(cfg.CORS.Origins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowCredentials: true,
		}))
	}

	authz, err := auth.New(ctx, cfg, repo, logger)
	if err != nil {
		logger.Error("failed to initialize auth", "error", err)
		os.Exit(1)
	}

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	apiServer := api.NewServer(repo, executionService, logger)
	e.GET("/healthz", apiServer.HandleHealth)

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	apiServer.RegisterRoutes(apiGroup)

	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(executionService)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(authz.RequireAuth(mcpHandlers)))
	e.Any("/mcp", echo.WrapHandler(authz.RequireAuth(mcpHandlers)))

	logger.Info("MCP protocol handlers mounted")

	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler(cfg.Auth.Issuer)))
	e.GET("/docs", echo.WrapHandler(api.SwaggerHandler(cfg.Auth.ClientID)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(http.HandlerFunc(api.OAuth2RedirectHandler)))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server starting", "address", cfg.Server.Addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				logger.Error("TLS enabled but cert/key file not provided")
				serverErrors <- server.ListenAndServe()
				return
			}
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
				if len(cfg.TLS.Hostnames) > 0 {
					if err := tls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
						logger.Error("failed to generate self-signed cert", "error", err)
					}
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("server close error", "error", err)
			}
		}

		// Let in-flight executions reach their terminal write before the
		// process exits.
		if err := executionService.Drain(shutdownCtx); err != nil {
			logger.Warn("drain interrupted; some executions may stay pending", "error", err)
		}

		logger.Info("server stopped gracefully")
	}
}

func initDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}
