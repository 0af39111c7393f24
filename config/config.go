// Package config loads client configuration from YAML with environment
// variable overrides.
//
//	addresses:
//	  - host: 127.0.0.1
//	    port: 8086
//	timeout: 30s
//	connect_timeout: 30s
//	concurrency_hint: 0
//	tls:
//	  enabled: false
//	health_check:
//	  period: 10s
//	logging:
//	  level: info
//
// Environment overrides (OPENGEMINI_ADDRESSES, OPENGEMINI_USERNAME,
// OPENGEMINI_PASSWORD, OPENGEMINI_LOG_LEVEL, OPENGEMINI_ETCD_ENDPOINTS)
// win over the file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"opengemini-client/endpoint"
	"opengemini-client/errs"
)

// Config is the complete client configuration.
type Config struct {
	Addresses          []endpoint.Endpoint `yaml:"addresses"`
	Timeout            time.Duration       `yaml:"timeout"`         // read/write timeout per request step
	ConnectTimeout     time.Duration       `yaml:"connect_timeout"` // resolve + connect + handshake
	ConcurrencyHint    int                 `yaml:"concurrency_hint"`
	MaxIdlePerEndpoint int                 `yaml:"max_idle_per_endpoint"`
	MaxInFlight        int64               `yaml:"max_in_flight"`   // 0 = unbounded
	RequestTimeout     time.Duration       `yaml:"request_timeout"` // whole request incl. stale retry; 0 = none

	Auth        AuthConfig        `yaml:"auth"`
	TLS         TLSConfig         `yaml:"tls"`
	HealthCheck HealthCheckConfig `yaml:"health_check"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// AuthConfig holds basic auth credentials; empty username disables auth.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TLSConfig holds TLS settings. PEM content may be given inline or as file
// paths; files are read by Load.
type TLSConfig struct {
	Enabled          bool   `yaml:"enabled"`
	SkipVerifyPeer   bool   `yaml:"skip_verify_peer"`
	Certificates     string `yaml:"certificates"`
	CertificatesFile string `yaml:"certificates_file"`
	PrivateKey       string `yaml:"private_key"`
	PrivateKeyFile   string `yaml:"private_key_file"`
	RootCAs          string `yaml:"root_cas"`
	RootCAsFile      string `yaml:"root_cas_file"`
	Version          string `yaml:"version"` // tls1.0 .. tls1.3
}

type HealthCheckConfig struct {
	Period time.Duration `yaml:"period"`
	Path   string        `yaml:"path"`
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// DiscoveryConfig adds members registered in etcd to Addresses.
type DiscoveryConfig struct {
	EtcdEndpoints []string      `yaml:"etcd_endpoints"`
	Cluster       string        `yaml:"cluster"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr
}

type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. ":9100"; empty disables the endpoint in cmd/geminiping
}

// Load reads path, applies env overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}
	if err := cfg.TLS.readFiles(); err != nil {
		return nil, fmt.Errorf("reading tls files: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration with every default applied and no
// addresses.
func Default() *Config {
	return &Config{
		Timeout:            30 * time.Second,
		ConnectTimeout:     30 * time.Second,
		MaxIdlePerEndpoint: 3,
		TLS: TLSConfig{
			Version: "tls1.2",
		},
		HealthCheck: HealthCheckConfig{
			Period: 10 * time.Second,
			Path:   "/ping",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 1000,
			Burst:             100,
		},
		Discovery: DiscoveryConfig{
			Cluster:     "default",
			DialTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("OPENGEMINI_ADDRESSES"); v != "" {
		addrs := make([]endpoint.Endpoint, 0)
		for _, s := range strings.Split(v, ",") {
			ep, err := endpoint.Parse(strings.TrimSpace(s))
			if err != nil {
				return err
			}
			addrs = append(addrs, ep)
		}
		cfg.Addresses = addrs
	}
	if v := os.Getenv("OPENGEMINI_USERNAME"); v != "" {
		cfg.Auth.Username = v
	}
	if v := os.Getenv("OPENGEMINI_PASSWORD"); v != "" {
		cfg.Auth.Password = v
	}
	if v := os.Getenv("OPENGEMINI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OPENGEMINI_ETCD_ENDPOINTS"); v != "" {
		cfg.Discovery.EtcdEndpoints = strings.Split(v, ",")
	}
	return nil
}

func (t *TLSConfig) readFiles() error {
	for _, f := range []struct {
		path string
		dst  *string
	}{
		{t.CertificatesFile, &t.Certificates},
		{t.PrivateKeyFile, &t.PrivateKey},
		{t.RootCAsFile, &t.RootCAs},
	} {
		if f.path == "" {
			continue
		}
		data, err := os.ReadFile(f.path)
		if err != nil {
			return err
		}
		*f.dst = string(data)
	}
	return nil
}

// Validate reports every problem at once as an invalid argument.
func (c *Config) Validate() error {
	var problems []string

	if len(c.Addresses) == 0 && len(c.Discovery.EtcdEndpoints) == 0 {
		problems = append(problems, "addresses is required unless discovery.etcd_endpoints is set")
	}
	for i, ep := range c.Addresses {
		if ep.Host == "" {
			problems = append(problems, fmt.Sprintf("addresses[%d].host is required", i))
		}
		if ep.Port == 0 {
			problems = append(problems, fmt.Sprintf("addresses[%d].port is required", i))
		}
	}

	if c.Timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	if c.ConnectTimeout <= 0 {
		problems = append(problems, "connect_timeout must be positive")
	}
	if c.ConcurrencyHint < 0 {
		problems = append(problems, "concurrency_hint must not be negative")
	}
	if c.MaxIdlePerEndpoint < 1 {
		problems = append(problems, "max_idle_per_endpoint must be at least 1")
	}
	if c.RequestTimeout < 0 {
		problems = append(problems, "request_timeout must not be negative")
	}
	if c.HealthCheck.Period <= 0 {
		problems = append(problems, "health_check.period must be positive")
	}
	if c.Auth.Username == "" && c.Auth.Password != "" {
		problems = append(problems, "auth.username is required when auth.password is set")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1) {
		problems = append(problems, "rate_limit needs positive requests_per_second and burst")
	}
	if len(c.Discovery.EtcdEndpoints) > 0 && c.Discovery.Cluster == "" {
		problems = append(problems, "discovery.cluster is required with etcd_endpoints")
	}

	if len(problems) > 0 {
		return errs.InvalidArgument("configuration errors: " + strings.Join(problems, "; "))
	}
	return nil
}
