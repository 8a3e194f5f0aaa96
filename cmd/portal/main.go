// Command portal runs the admin portal: ArcGIS-federated sign-in and
// signup, tenant provisioning, and the session endpoints the dashboard
// consumes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/geonotify/portal/internal/auth"
	"github.com/geonotify/portal/internal/config"
	"github.com/geonotify/portal/internal/directory"
	"github.com/geonotify/portal/internal/httpserver"
	"github.com/geonotify/portal/internal/idp"
	"github.com/geonotify/portal/internal/migrations"
	"github.com/geonotify/portal/internal/provision"
	"github.com/geonotify/portal/pkg/arcgis"
	"github.com/geonotify/portal/pkg/cookie"
	"github.com/geonotify/portal/pkg/db"
	"github.com/geonotify/portal/pkg/health"
	"github.com/geonotify/portal/pkg/logger"
	"github.com/geonotify/portal/pkg/redis"
	"github.com/geonotify/portal/pkg/secrets"
)

func main() {
	if err := run(); err != nil {
		slog.Error("portal exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(
		logger.WithLevel(parseLevel(cfg.LogLevel)),
		logger.WithSentry(cfg.Sentry),
	)

	pool, err := db.Connect(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, migrations.FS, cfg.DB.MigrationsTable, log); err != nil {
		return err
	}

	checks := health.Checks{
		"postgres": pool.Ping,
	}

	var signals provision.SignalStore
	if cfg.RedisURL != "" {
		client, err := redis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		signals = provision.NewRedisSignals(client)
		checks["redis"] = redis.Healthcheck(client)
	} else {
		// Without a shared store the provisioning signal is invisible to
		// other instances; fine for a single replica.
		log.Warn("REDIS_URL not set, provisioning signals are process-local")
		signals = provision.NewMemorySignals()
	}

	provider, err := arcgis.NewProvider(cfg.ArcGIS)
	if err != nil {
		return err
	}
	cookies, err := cookie.New(cfg.CookieSecret)
	if err != nil {
		return err
	}
	deriver, err := secrets.NewDeriver(cfg.BridgePepper)
	if err != nil {
		return err
	}

	backend := idp.NewPostgres(pool)
	dir := directory.NewPostgres(pool, log)
	board := provision.NewBoard(signals)
	provisioner := provision.New(backend, dir, deriver, board, log)
	flow := auth.NewFlow(provider, cookies, provisioner, backend, deriver, log)
	resolver := auth.NewResolver(dir, board, log)

	if cfg.SuperAdminSeed != "" {
		admins, err := config.LoadSuperAdmins(cfg.SuperAdminSeed)
		if err != nil {
			return err
		}
		if err := seedSuperAdmins(ctx, backend, dir, admins, log); err != nil {
			return err
		}
	}

	handler := httpserver.NewHandler(flow, resolver, backend, board, cookies,
		cfg.JWTSecret, cfg.ArcGIS.SignupClientID, log)
	server := httpserver.New(cfg.HTTP, handler, checks, log)

	return server.Run(ctx)
}

// seedSuperAdmins registers the configured super-admin credentials and
// grants them the role. Re-runs are no-ops for unchanged entries; a seeded
// password change requires dropping the principal row first.
func seedSuperAdmins(ctx context.Context, backend idp.Backend, dir directory.Store, admins []config.SuperAdmin, log *slog.Logger) error {
	for _, admin := range admins {
		principal, err := backend.CreatePrincipal(ctx, admin.Email, admin.Password)
		if errors.Is(err, idp.ErrEmailTaken) {
			principal, err = backend.SignIn(ctx, admin.Email, admin.Password)
			if errors.Is(err, idp.ErrInvalidCredentials) {
				return fmt.Errorf("seed super admin %q: principal exists with a different password", admin.Email)
			}
		}
		if err != nil {
			return fmt.Errorf("seed super admin %q: %w", admin.Email, err)
		}

		if err := dir.PutAdmin(ctx, directory.AdminRecord{
			UID:   principal.UID,
			Email: principal.Email,
			Role:  directory.RoleSuperAdmin,
		}); err != nil {
			return fmt.Errorf("seed super admin %q: %w", admin.Email, err)
		}
		log.Info("super admin seeded", slog.String("email", admin.Email))
	}
	return nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
