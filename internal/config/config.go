package config // package config loads application configuration from environment variables

import (
	"os" // os provides access to environment variables

	"github.com/joho/godotenv" // godotenv loads an optional .env file before env vars are read

	"github.com/iliyamo/seat-admission/internal/logging" // fatal start-up errors go through the global logger
)

// Config holds the process-wide runtime configuration.  Each field
// corresponds to an environment variable.  Engine tuning (hold TTL, sweep
// cadence) lives in EngineConfig so that it can be validated separately.
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	DBUser    string // database username
	DBPass    string // database password (optional)
	DBHost    string // database host address
	DBPort    string // database port number
	DBName    string // database name
	JWTSecret string // secret used to verify member access tokens
	LogLevel  string // zerolog level (debug, info, warn, error)
	LogFormat string // json or console
}

// Load reads configuration values from environment variables and returns a
// Config.  A .env file in the working directory is loaded first when
// present; variables already set in the environment win.  Required
// variables are enforced by must() and missing values cause the program to
// exit with a fatal log message.
func Load() Config {
	_ = godotenv.Load() // a missing .env file is not an error
	return Config{
		Env:       must("APP_ENV"),              // environment (dev/test/prod)
		Port:      must("APP_PORT"),             // port to bind the HTTP server
		DBUser:    must("DB_USER"),              // database user
		DBPass:    os.Getenv("DB_PASS"),         // database password (empty allowed)
		DBHost:    must("DB_HOST"),              // database host
		DBPort:    must("DB_PORT"),              // database port
		DBName:    must("DB_NAME"),              // database name
		JWTSecret: must("JWT_SECRET"),           // secret used for verifying JWTs
		LogLevel:  envStr("LOG_LEVEL", "info"),  // minimum log level
		LogFormat: envStr("LOG_FORMAT", "json"), // log encoding
	}
}

// JWTSecret returns JWT_SECRET (after loading .env) without requiring the
// rest of the server configuration.
func JWTSecret() string {
	_ = godotenv.Load()
	return must("JWT_SECRET")
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
// The global logger is usable with defaults before logging.Init runs.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logging.Fatal().Str("key", key).Msg("missing required env var")
	}
	return v
}
