// config.go - Environment configuration for gatehouse.
//
// All options are read and validated once at startup so a bad deployment
// fails fast with every problem listed, not one at a time at runtime.
// Unknown GH_* variables are treated as errors: a typoed option must not
// be silently ignored.
package server

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string // debug|info|warn|error
	Format string // json|text
	Sink   string // "stdout" or a file path
}

// RateConfig controls the store-backed rate limiter.
type RateConfig struct {
	Ceiling  int           // allowed requests per window per identity
	Window   time.Duration // fixed window length
	FailOpen bool          // store unreachable: true = allow, false = deny
}

// Config is the full configuration surface of the service.
type Config struct {
	Addr        string
	DatabaseURL string
	Rate        RateConfig
	Log         LogConfig
	CORSOrigins []string
	AdminUser   string
	AdminHash   string // bcrypt hash; admin endpoint disabled when empty
	Version     string
	Commit      string
}

// recognizedVars is the complete set of GH_-prefixed options. Anything
// else under the prefix is a deployment mistake.
var recognizedVars = map[string]string{
	"GH_ADDR":            "listen address, overrides PORT",
	"GH_RATE_CEILING":    "requests allowed per window per identity",
	"GH_RATE_WINDOW":     "rate limit window duration, e.g. 60s",
	"GH_RATE_FAIL_OPEN":  "required: allow (true) or deny (false) when the store is unreachable",
	"GH_LOG_LEVEL":       "debug|info|warn|error",
	"GH_LOG_FORMAT":      "json|text",
	"GH_LOG_SINK":        "stdout or a file path",
	"GH_CORS_ORIGINS":    "comma-separated allowed origins",
	"GH_ADMIN_USER":      "basic auth user for /api/v1/admin/stats",
	"GH_ADMIN_PASS_HASH": "bcrypt hash of the admin password",
	"GH_VERSION":         "build version string",
	"GH_COMMIT":          "build commit string",
}

// ConfigValidationError represents a single configuration problem.
type ConfigValidationError struct {
	Field   string
	Message string
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// ConfigValidator accumulates validation errors so startup can report
// all of them at once.
type ConfigValidator struct {
	errors []ConfigValidationError
}

// AddError adds a validation error.
func (v *ConfigValidator) AddError(field, message string) {
	v.errors = append(v.errors, ConfigValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are validation errors.
func (v *ConfigValidator) HasErrors() bool {
	return len(v.errors) > 0
}

// ErrorString returns a formatted string of all errors.
func (v *ConfigValidator) ErrorString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d error(s):\n", len(v.errors)))
	for i, err := range v.errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// LoadConfig reads and validates the environment. On any problem it
// returns a single error describing all of them; the caller treats that
// as fatal.
func LoadConfig() (Config, error) {
	v := &ConfigValidator{}

	// Reject unknown GH_* variables before reading anything.
	for _, kv := range os.Environ() {
		key := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			key = kv[:i]
		}
		if strings.HasPrefix(key, "GH_") {
			if _, ok := recognizedVars[key]; !ok {
				v.AddError(key, "unknown configuration variable")
			}
		}
	}

	cfg := Config{
		Addr: ":8080",
		Rate: RateConfig{Ceiling: 60, Window: time.Minute},
		Log: LogConfig{
			Level:  getenvDefault("GH_LOG_LEVEL", "info"),
			Format: getenvDefault("GH_LOG_FORMAT", "json"),
			Sink:   getenvDefault("GH_LOG_SINK", "stdout"),
		},
		AdminUser: getenvDefault("GH_ADMIN_USER", "admin"),
		AdminHash: os.Getenv("GH_ADMIN_PASS_HASH"),
		Version:   getenvDefault("GH_VERSION", "dev"),
		Commit:    getenvDefault("GH_COMMIT", "unknown"),
	}

	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			v.AddError("PORT", "must be a number")
		} else {
			cfg.Addr = ":" + port
		}
	}
	if addr := os.Getenv("GH_ADDR"); addr != "" {
		cfg.Addr = addr
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		v.AddError("DATABASE_URL", "required environment variable not set")
	} else if u, err := url.Parse(cfg.DatabaseURL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		v.AddError("DATABASE_URL", "must be a postgres:// URL")
	}

	if raw := os.Getenv("GH_RATE_CEILING"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			v.AddError("GH_RATE_CEILING", "must be a positive integer")
		} else {
			cfg.Rate.Ceiling = n
		}
	}
	if raw := os.Getenv("GH_RATE_WINDOW"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			v.AddError("GH_RATE_WINDOW", "must be a positive duration, e.g. 60s")
		} else {
			cfg.Rate.Window = d
		}
	}

	// The fail policy must be chosen explicitly. Defaulting either way
	// would hide a significant operational decision.
	switch raw := os.Getenv("GH_RATE_FAIL_OPEN"); raw {
	case "true":
		cfg.Rate.FailOpen = true
	case "false":
		cfg.Rate.FailOpen = false
	case "":
		v.AddError("GH_RATE_FAIL_OPEN", "required: set to true (fail open) or false (fail closed)")
	default:
		v.AddError("GH_RATE_FAIL_OPEN", "must be exactly true or false")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		v.AddError("GH_LOG_LEVEL", "must be one of debug, info, warn, error")
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		v.AddError("GH_LOG_FORMAT", "must be json or text")
	}

	if raw := os.Getenv("GH_CORS_ORIGINS"); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			o = strings.TrimSpace(o)
			if o == "" {
				continue
			}
			if o != "*" {
				if u, err := url.Parse(o); err != nil || u.Scheme == "" || u.Host == "" {
					v.AddError("GH_CORS_ORIGINS", fmt.Sprintf("invalid origin %q", o))
					continue
				}
			}
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	if cfg.AdminHash != "" && !strings.HasPrefix(cfg.AdminHash, "$2") {
		v.AddError("GH_ADMIN_PASS_HASH", "must be a bcrypt hash")
	}

	if v.HasErrors() {
		return Config{}, fmt.Errorf("%s", v.ErrorString())
	}
	return cfg, nil
}

// LogOptions writes one line per recognized option with its effective
// value, so a deployment can be audited from the boot log. Secrets are
// redacted.
func (c Config) LogOptions() {
	Log().Info("configuration loaded", map[string]interface{}{
		"addr":           c.Addr,
		"database_url":   redactURL(c.DatabaseURL),
		"rate_ceiling":   c.Rate.Ceiling,
		"rate_window":    c.Rate.Window.String(),
		"rate_fail_open": c.Rate.FailOpen,
		"log_level":      c.Log.Level,
		"log_format":     c.Log.Format,
		"log_sink":       c.Log.Sink,
		"cors_origins":   strings.Join(c.CORSOrigins, ","),
		"admin_enabled":  c.AdminHash != "",
		"version":        c.Version,
		"commit":         c.Commit,
	})
}

// redactURL strips credentials from a connection URL for logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(unparseable)"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}

// getenvDefault reads an environment variable and returns a default
// value if not set.
func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
