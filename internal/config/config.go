// Package config loads and validates the process-wide configuration (§6.5):
// the host inventory, proxy admin endpoint, static-route file location, and
// the timers and concurrency limits the rest of the system runs under.
package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/snadboy/revpd/internal/domain"
)

// allowlist is the character class the Remote Executor's contract (§4.1)
// requires for anything that reaches command construction: host aliases,
// hostnames, and usernames.
var allowlist = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// HostConfig is one entry of the host inventory.
type HostConfig struct {
	Alias    string `mapstructure:"alias"`
	Hostname string `mapstructure:"hostname"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Identity string `mapstructure:"identity"`
	Enabled  bool   `mapstructure:"enabled"`
}

// Config is the fully loaded, validated process configuration.
type Config struct {
	Hosts []HostConfig `mapstructure:"hosts"`

	ProxyAdminURL   string `mapstructure:"proxy_admin_url"`
	StaticRouteFile string `mapstructure:"static_route_file"`

	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	HeartbeatDeadline time.Duration `mapstructure:"heartbeat_deadline"`
	ShutdownGrace     time.Duration `mapstructure:"shutdown_grace"`

	MaxConcurrentReconciles int `mapstructure:"max_concurrent_reconciles"`
	MaxRetries              int `mapstructure:"max_retries"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// defaults mirrors the timer/concurrency defaults named throughout §4.
func setDefaults(v *viper.Viper) {
	v.SetDefault("proxy_admin_url", "http://127.0.0.1:2019")
	v.SetDefault("static_route_file", "/etc/revpd/static-routes.yaml")
	v.SetDefault("reconcile_interval", 300*time.Second)
	v.SetDefault("heartbeat_deadline", 90*time.Second)
	v.SetDefault("shutdown_grace", 10*time.Second)
	v.SetDefault("max_concurrent_reconciles", 16)
	v.SetDefault("max_retries", 8)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
}

// Load reads configuration from path (if non-empty; otherwise from a
// revpd.yaml found in the working directory or /etc/revpd, if any),
// environment variables prefixed REVPD_, and the defaults above, then
// validates the result.
func Load(v *viper.Viper, path string) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("revpd")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
		}
	} else {
		v.SetConfigName("revpd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/revpd")
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return Config{}, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	if err := validate(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// validate enforces §4.1's allowlist and §6.5's required-field rules. Every
// violation is collected so a single config error report lists everything
// wrong at once, per the Fatal error kind's "abort startup" policy (§7).
func validate(cfg *Config) error {
	var errs *multierror.Error

	if cfg.ProxyAdminURL == "" {
		errs = multierror.Append(errs, fmt.Errorf("%w: proxy_admin_url is required", domain.ErrInvalidConfig))
	}
	if cfg.StaticRouteFile == "" {
		errs = multierror.Append(errs, fmt.Errorf("%w: static_route_file is required", domain.ErrInvalidConfig))
	}
	if cfg.MaxConcurrentReconciles <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("%w: max_concurrent_reconciles must be positive", domain.ErrInvalidConfig))
	}
	if cfg.MaxRetries <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("%w: max_retries must be positive", domain.ErrInvalidConfig))
	}

	seenAlias := make(map[string]bool, len(cfg.Hosts))
	for i, h := range cfg.Hosts {
		if h.Alias == "" || !allowlist.MatchString(h.Alias) {
			errs = multierror.Append(errs, fmt.Errorf("%w: hosts[%d].alias %q fails character allowlist", domain.ErrInvalidConfig, i, h.Alias))
		}
		if seenAlias[h.Alias] {
			errs = multierror.Append(errs, fmt.Errorf("%w: hosts[%d].alias %q duplicated", domain.ErrInvalidConfig, i, h.Alias))
		}
		seenAlias[h.Alias] = true

		if h.Hostname == "" || !allowlist.MatchString(h.Hostname) {
			errs = multierror.Append(errs, fmt.Errorf("%w: hosts[%d].hostname %q fails character allowlist", domain.ErrInvalidConfig, i, h.Hostname))
		}
		if h.User == "" || !allowlist.MatchString(h.User) {
			errs = multierror.Append(errs, fmt.Errorf("%w: hosts[%d].user %q fails character allowlist", domain.ErrInvalidConfig, i, h.User))
		}
		if h.Port < 1 || h.Port > 65535 {
			errs = multierror.Append(errs, fmt.Errorf("%w: hosts[%d].port %d out of range", domain.ErrInvalidConfig, i, h.Port))
		}
	}

	return errs.ErrorOrNil()
}

// ToDomainHosts converts the loaded inventory into domain.Host values in
// the Unknown connection state, ready for the Host Observer to pick up.
func (c Config) ToDomainHosts() []domain.Host {
	hosts := make([]domain.Host, 0, len(c.Hosts))
	for _, h := range c.Hosts {
		port := h.Port
		if port == 0 {
			port = 22
		}
		hosts = append(hosts, domain.NewHost(h.Alias, h.Hostname, port, h.User, h.Identity, h.Enabled))
	}
	return hosts
}
