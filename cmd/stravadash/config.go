package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/stravadash/internal/logger"
	"github.com/nkiryanov/stravadash/internal/strava"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Environment
	Environment string

	// Strava application credentials and the long-lived refresh token
	// Not required at startup: auth-url and exchange-token flow works without refresh token
	StravaClientID     string
	StravaClientSecret string
	StravaRefreshToken string

	// Strava endpoints, overridden in tests
	StravaAPIURL   string
	StravaOAuthURL string

	// Database for sync run journal, journal is disabled if empty
	DatabaseDSN string

	// Secret key to sign OAuth state, state signing is disabled if empty
	SecretKey string

	// Bcrypt hash of operator key protecting refetch endpoint
	OperatorKeyHash string

	// How often cache is synced in background, disabled if zero
	SyncInterval time.Duration
}

func NewConfig() *Config {
	return &Config{
		LogLevel:       defaultLoggingLevel,
		ListenAddr:     defaultListenAddr,
		Environment:    defaultEnvironment,
		StravaAPIURL:   strava.DefaultAPIURL,
		StravaOAuthURL: strava.DefaultOAuthURL,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}

	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":          setString(&c.ListenAddr),
		"LOG_LEVEL":            setString(&c.LogLevel),
		"ENVIRONMENT":          setString(&c.Environment),
		"STRAVA_CLIENT_ID":     setString(&c.StravaClientID),
		"STRAVA_CLIENT_SECRET": setString(&c.StravaClientSecret),
		"STRAVA_REFRESH_TOKEN": setString(&c.StravaRefreshToken),
		"STRAVA_API_URL":       setString(&c.StravaAPIURL),
		"STRAVA_OAUTH_URL":     setString(&c.StravaOAuthURL),
		"DATABASE_URI":         setString(&c.DatabaseDSN),
		"SECRET_KEY":           setString(&c.SecretKey),
		"OPERATOR_KEY_HASH":    setString(&c.OperatorKeyHash),
		"SYNC_INTERVAL":        setDuration(&c.SyncInterval),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("stravadash", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string for sync run journal")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key to sign OAuth state")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.DurationVarP(&c.SyncInterval, "sync-interval", "i", c.SyncInterval, "Background sync interval, 0 disables")

	return fs.Parse(args)
}
