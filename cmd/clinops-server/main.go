package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinops/clinops/internal/config"
	"github.com/clinops/clinops/internal/domain/clinical"
	"github.com/clinops/clinops/internal/domain/visit"
	"github.com/clinops/clinops/internal/platform/apperr"
	"github.com/clinops/clinops/internal/platform/auth"
	"github.com/clinops/clinops/internal/platform/db"
	"github.com/clinops/clinops/internal/platform/logging"
	"github.com/clinops/clinops/internal/platform/middleware"
	"github.com/clinops/clinops/internal/platform/openapi"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinops-server",
		Short: "Clinical records and visit scheduling API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			target, _ := cmd.Flags().GetInt("to")
			return withMigrator(cmd, dir, func(ctx context.Context, m *db.Migrator) error {
				var (
					count int
					err   error
				)
				if target > 0 {
					count, err = m.UpTo(ctx, target)
				} else {
					count, err = m.Up(ctx)
				}
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	upCmd.Flags().Int("to", 0, "Apply migrations up to and including this version")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(cmd, dir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd, statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(cmd *cobra.Command, dir string, fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	schema, _ := cmd.Flags().GetString("schema")
	if schema == "" {
		schema = cfg.DBSchema
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, schema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Schema: %s\n", schema)
	return fn(ctx, db.NewMigrator(pool, dir, schema))
}

func printStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for AUTH_MODE=local",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetInt64("user")
			username, _ := cmd.Flags().GetString("username")
			role, _ := cmd.Flags().GetString("role")
			perms, _ := cmd.Flags().GetString("permissions")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if userID <= 0 {
				return fmt.Errorf("--user is required")
			}

			key, err := config.SigningKey()
			if err != nil {
				return err
			}
			tok, err := auth.IssueToken([]byte(key), auth.Identity{
				UserID:      userID,
				Username:    username,
				RoleName:    role,
				Permissions: parsePermissionFlag(perms),
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().Int64("user", 0, "User id carried in the token subject")
	cmd.Flags().String("username", "", "Username claim")
	cmd.Flags().String("role", "", "Role name (admin grants admin-only routes)")
	cmd.Flags().String("permissions", "", `Comma separated permission keys, "*" or "all"`)
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

// parsePermissionFlag turns the --permissions flag into a permission set.
// "all" yields the all flag; anything else is a key list.
func parsePermissionFlag(s string) auth.PermissionSet {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return auth.PermissionAll{}
	}
	list := auth.PermissionList{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			list = append(list, p)
		}
	}
	return list
}

// newVerifier picks the credential verifier for the configured auth mode.
func newVerifier(cfg *config.Config) (auth.Verifier, error) {
	switch cfg.ResolvedAuthMode() {
	case config.AuthModeRemote:
		return auth.NewRemoteVerifier(cfg.IdentityServiceURL, cfg.IdentityTimeout), nil
	case config.AuthModeLocal:
		return auth.NewTokenVerifier([]byte(cfg.AuthSigningKey)), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

// store is the database surface the router needs. *pgxpool.Pool satisfies it.
type store interface {
	db.Querier
	db.TxBeginner
	db.Pinger
}

// newRouter builds the echo instance with the global middleware chain,
// infrastructure endpoints and the domain routes under cfg.BasePath.
func newRouter(cfg *config.Config, logger zerolog.Logger, pool store, verifier auth.Verifier) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger, cfg.IsDev())

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logger(logger, auth.PublicSkipper))
	if cfg.MetricsEnabled {
		e.Use(middleware.Metrics(auth.PublicSkipper))
	}
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	var auditRecorders []middleware.AuditRecorder
	if cfg.MetricsEnabled {
		auditRecorders = append(auditRecorders, middleware.AuditMetrics())
	}
	e.Use(middleware.Audit(logger, auditRecorders...))

	// Infrastructure endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	if cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	gw := auth.NewGateway(verifier, logger)
	api := e.Group(cfg.BasePath)

	clinicalSvc := clinical.NewService(clinical.NewRepoPG(pool))
	clinical.NewHandler(clinicalSvc).RegisterRoutes(api, gw)

	visitSvc := visit.NewService(visit.NewRepoPG(pool), clinicalSvc).WithTransactions(pool)
	visit.NewHandler(visitSvc).RegisterRoutes(api, gw)

	openapi.NewGenerator("clinops API", version).RegisterRoutes(e)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.LogFormat, cfg.LogLevel, cfg.Env)
	if err != nil {
		return err
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	verifier, err := newVerifier(cfg)
	if err != nil {
		return err
	}
	logger.Info().Str("auth_mode", cfg.ResolvedAuthMode()).Msg("identity verifier configured")

	e := newRouter(cfg, logger, pool, verifier)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("base_path", cfg.BasePath).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
