// Package config resolves the database connection profile for the running
// environment.
//
// Configuration comes from three layers, lowest precedence first: literal
// per-environment defaults (never secrets), an optional YAML file, and
// environment variables. Secrets are only ever taken from the environment
// (SUITE_DB_PASSWORD, PGPASSWORD) or from a password command.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Environment string                   `mapstructure:"environment"`
	LogLevel    string                   `mapstructure:"log_level"`
	LogFile     string                   `mapstructure:"log_file"`
	Profiles    map[string]ProfileConfig `mapstructure:"profiles"`
	DB          ProfileConfig            `mapstructure:"db"`
	Pool        PoolConfig               `mapstructure:"pool"`
	Health      HealthConfig             `mapstructure:"health"`

	// passwordSet records whether a password was injected through the
	// environment, even an empty one.
	passwordSet bool
}

// ProfileConfig holds the raw connection fields of one profile as read from
// the config file, or the SUITE_DB_* overrides when used as Config.DB.
type ProfileConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	PasswordCommand string        `mapstructure:"password_command"`
	Charset         string        `mapstructure:"charset"`
	Timezone        string        `mapstructure:"timezone"`
	SSLMode         string        `mapstructure:"sslmode"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	ApplicationName string        `mapstructure:"application_name"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxConnections int           `mapstructure:"max_connections"`
	QueueBehavior  string        `mapstructure:"queue_behavior"`
	QueueTimeout   time.Duration `mapstructure:"queue_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
}

// HealthConfig holds the HTTP health endpoint settings.
type HealthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bind    string `mapstructure:"bind"`
	Port    int    `mapstructure:"port"`
}

var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// Queue behaviors accepted by pool.queue_behavior.
const (
	QueueBehaviorWait = "wait"
	QueueBehaviorFail = "fail"
)

// envBindings maps override keys to the environment variables that feed them.
var envBindings = map[string][]string{
	"environment":         {"SUITE_ENV", "NODE_ENV"},
	"db.host":             {"SUITE_DB_HOST"},
	"db.port":             {"SUITE_DB_PORT"},
	"db.database":         {"SUITE_DB_NAME"},
	"db.user":             {"SUITE_DB_USER"},
	"db.password":         {"SUITE_DB_PASSWORD", "PGPASSWORD"},
	"db.password_command": {"SUITE_DB_PASSWORD_COMMAND"},
	"db.sslmode":          {"SUITE_DB_SSLMODE"},
}

// Load reads configuration from configPath, or from the default locations
// when configPath is empty, and overlays environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("SUITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	for key, names := range envBindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("error binding %s: %w", key, err)
		}
	}

	applyDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if configDir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(configDir, "suite224"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "suite224"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, &ConfigurationError{Field: "config_file", Reason: "cannot read config file", Err: err}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigurationError{Field: "config", Reason: "malformed configuration value", Err: err}
	}
	cfg.passwordSet = v.IsSet("db.password")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveConfig loads configuration from the default locations and resolves
// the profile for the environment named by tag. The tag takes precedence over
// SUITE_ENV and NODE_ENV.
func ResolveConfig(tag string) (ConnectionProfile, error) {
	env, err := ParseEnvironment(tag)
	if err != nil {
		return ConnectionProfile{}, err
	}
	cfg, err := Load("")
	if err != nil {
		return ConnectionProfile{}, err
	}
	cfg.SetEnvironment(env)
	return cfg.Resolve(env)
}

// SetEnvironment selects env explicitly, replacing SUITE_ENV, NODE_ENV and
// the config file value.
func (c *Config) SetEnvironment(env Environment) {
	c.Environment = string(env)
}

// Env returns the environment selected by SetEnvironment, SUITE_ENV, NODE_ENV
// or the config file. An unset environment selects DefaultEnvironment; an
// unknown one is a ConfigurationError.
func (c *Config) Env() (Environment, error) {
	if strings.TrimSpace(c.Environment) == "" {
		return DefaultEnvironment, nil
	}
	return ParseEnvironment(c.Environment)
}

// ActiveProfile resolves the profile of the selected environment.
func (c *Config) ActiveProfile() (ConnectionProfile, error) {
	env, err := c.Env()
	if err != nil {
		return ConnectionProfile{}, err
	}
	return c.Resolve(env)
}

// Resolve returns the connection profile for env. It performs no I/O and
// returns the same profile for the same Config every time.
//
// The SUITE_DB_HOST, SUITE_DB_PORT, SUITE_DB_NAME, SUITE_DB_USER and
// SUITE_DB_SSLMODE overrides only apply when env is the active environment.
// Secrets apply to every environment. Development and production never
// resolve to the same database.
func (c *Config) Resolve(env Environment) (ConnectionProfile, error) {
	switch env {
	case Development, Test, Production:
	default:
		return ConnectionProfile{}, invalid("environment", "unknown environment %q", string(env))
	}

	base, ok := c.Profiles[string(env)]
	if !ok {
		return ConnectionProfile{}, invalid("profiles."+string(env), "no profile defined")
	}

	p := ConnectionProfile{
		Environment:     env,
		Host:            base.Host,
		Port:            base.Port,
		Database:        base.Database,
		User:            base.User,
		PasswordCommand: pick(c.DB.PasswordCommand, base.PasswordCommand),
		Charset:         base.Charset,
		Timezone:        base.Timezone,
		SSLMode:         base.SSLMode,
		ConnectTimeout:  base.ConnectTimeout,
		ApplicationName: base.ApplicationName,
	}
	if active, err := c.Env(); err == nil && active == env {
		p.Host = pick(c.DB.Host, p.Host)
		p.Database = pick(c.DB.Database, p.Database)
		p.User = pick(c.DB.User, p.User)
		p.SSLMode = pick(c.DB.SSLMode, p.SSLMode)
		if c.DB.Port != 0 {
			p.Port = c.DB.Port
		}
	}
	if c.passwordSet && c.DB.PasswordCommand == "" {
		p = p.WithPassword(c.DB.Password)
	}

	if err := validateProfile(p); err != nil {
		return ConnectionProfile{}, err
	}
	if other, ok := counterpart(env); ok {
		if otherDB := c.Profiles[string(other)].Database; p.Database == otherDB {
			return ConnectionProfile{}, invalid("database",
				"%s resolves to %q, which is the %s database", env, p.Database, other)
		}
	}
	return p, nil
}

// counterpart pairs development with production.
func counterpart(env Environment) (Environment, bool) {
	switch env {
	case Development:
		return Production, true
	case Production:
		return Development, true
	default:
		return "", false
	}
}

// SetPassword injects a password obtained outside the environment, such as
// from an interactive prompt. It replaces any environment-supplied secret.
func (c *Config) SetPassword(password string) {
	c.DB.Password = password
	c.DB.PasswordCommand = ""
	c.passwordSet = true
}

// Validate checks settings that do not depend on the selected environment.
// The environment tag itself is checked by Env.
func (c *Config) Validate() error {
	for name, profile := range c.Profiles {
		if _, err := ParseEnvironment(name); err != nil {
			return invalid("profiles."+name, "profile does not match a known environment")
		}
		if profile.Password != "" {
			return invalid("profiles."+name+".password",
				"literal passwords are not accepted in config files; use password_command or SUITE_DB_PASSWORD")
		}
	}

	dev := c.Profiles[string(Development)].Database
	prod := c.Profiles[string(Production)].Database
	if dev != "" && dev == prod {
		return invalid("profiles", "development and production must use different databases, both use %q", dev)
	}

	if c.Pool.MaxConnections < 1 {
		return invalid("pool.max_connections", "must be >= 1, got %d", c.Pool.MaxConnections)
	}
	if _, err := NormalizeQueueBehavior(c.Pool.QueueBehavior); err != nil {
		return err
	}
	if c.Pool.QueueTimeout < 0 {
		return invalid("pool.queue_timeout", "must not be negative, got %v", c.Pool.QueueTimeout)
	}
	if c.Pool.IdleTimeout < 0 {
		return invalid("pool.idle_timeout", "must not be negative, got %v", c.Pool.IdleTimeout)
	}

	if c.Health.Enabled && (c.Health.Port < 1 || c.Health.Port > 65535) {
		return invalid("health.port", "must be between 1 and 65535, got %d", c.Health.Port)
	}
	return nil
}

// NormalizeQueueBehavior returns QueueBehaviorWait or QueueBehaviorFail for s,
// ignoring case and surrounding space. An empty value means wait.
func NormalizeQueueBehavior(s string) (string, error) {
	switch name := strings.ToLower(strings.TrimSpace(s)); name {
	case "", QueueBehaviorWait:
		return QueueBehaviorWait, nil
	case QueueBehaviorFail:
		return QueueBehaviorFail, nil
	default:
		return "", invalid("pool.queue_behavior", "must be one of [wait fail], got %q", s)
	}
}

func validateProfile(p ConnectionProfile) error {
	if p.Host == "" {
		return missing("host")
	}
	if p.Port < 1 || p.Port > 65535 {
		return invalid("port", "must be between 1 and 65535, got %d", p.Port)
	}
	if p.Database == "" {
		return missing("database")
	}
	if p.User == "" {
		return missing("user")
	}
	if !p.HasSecret() {
		return &ConfigurationError{
			Field:  "password",
			Reason: "no secret injected; set SUITE_DB_PASSWORD or SUITE_DB_PASSWORD_COMMAND",
		}
	}

	validMode := false
	for _, mode := range validSSLModes {
		if p.SSLMode == mode {
			validMode = true
			break
		}
	}
	if !validMode {
		return invalid("sslmode", "must be one of: %v, got %s", validSSLModes, p.SSLMode)
	}

	if p.Charset == "" {
		return missing("charset")
	}
	if !strings.EqualFold(p.Charset, "UTF8") {
		return invalid("charset", "only UTF8 is supported by the postgres driver, got %q", p.Charset)
	}
	if p.Timezone == "" {
		return missing("timezone")
	}
	if p.ConnectTimeout <= 0 {
		return invalid("connect_timeout", "must be positive, got %v", p.ConnectTimeout)
	}
	return nil
}

// applyDefaults sets default configuration values. Production deliberately
// has no default host; it must be supplied by the deployment.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")

	for _, env := range Environments() {
		prefix := "profiles." + string(env) + "."
		v.SetDefault(prefix+"port", 5432)
		v.SetDefault(prefix+"user", "suite224")
		v.SetDefault(prefix+"database", "suite224_"+string(env))
		v.SetDefault(prefix+"charset", "UTF8")
		v.SetDefault(prefix+"timezone", "UTC")
		v.SetDefault(prefix+"connect_timeout", "10s")
		v.SetDefault(prefix+"application_name", "suite224")

		switch env {
		case Development, Test:
			v.SetDefault(prefix+"host", "localhost")
			v.SetDefault(prefix+"sslmode", "disable")
		case Production:
			v.SetDefault(prefix+"sslmode", "require")
		}
	}

	v.SetDefault("pool.max_connections", 10)
	v.SetDefault("pool.queue_behavior", QueueBehaviorWait)
	v.SetDefault("pool.queue_timeout", "30s")
	v.SetDefault("pool.idle_timeout", "10m")

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.bind", "127.0.0.1")
	v.SetDefault("health.port", 8089)
}

func pick(override, base string) string {
	if override != "" {
		return override
	}
	return base
}
