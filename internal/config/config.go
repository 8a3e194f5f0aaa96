// Package config loads the portal's process configuration from environment
// variables and its super-admin seed from a YAML file.
package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/geonotify/portal/pkg/arcgis"
	"github.com/geonotify/portal/pkg/db"
	"github.com/geonotify/portal/pkg/logger"
)

// ErrParseEnv is returned when environment parsing fails.
var ErrParseEnv = errors.New("config: failed to parse environment")

// Config is the portal's full process configuration.
type Config struct {
	HTTP   HTTP
	ArcGIS arcgis.Config
	DB     db.Config
	Sentry logger.SentryConfig

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	RedisURL string `env:"REDIS_URL" envDefault:""`

	// CookieSecret encrypts the pending-flow and session cookies.
	CookieSecret string `env:"COOKIE_SECRET,required"`

	// BridgePepper is the root secret of credential derivation. Rotating
	// it invalidates every bridged credential; see the deriver docs.
	BridgePepper string `env:"BRIDGE_PEPPER,required"`

	// JWTSecret signs session tokens.
	JWTSecret string `env:"JWT_SECRET,required"`

	// SuperAdminSeed is the path of the super-admin YAML seed file.
	// Empty disables seeding.
	SuperAdminSeed string `env:"SUPER_ADMIN_SEED" envDefault:""`
}

// HTTP holds the listener configuration.
type HTTP struct {
	Addr            string `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout int    `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10"` // seconds
}

// Load parses the full configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Join(ErrParseEnv, fmt.Errorf("parse environment: %w", err))
	}
	return &cfg, nil
}
