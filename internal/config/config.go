// Package config loads settings for the controller and the site agent from
// an optional YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// Controller
	DatabaseURL       string
	HTTPPort          int
	BlobRoot          string
	LivenessThreshold time.Duration
	SweepInterval     time.Duration
	AdminSecret       string
	RateLimit         float64
	RateBurst         int

	// Shared
	OTELEndpoint string
	LogLevel     string

	// Site agent
	ControllerURL         string
	SiteAPIKey            string
	SiteUID               string
	SiteProjectID         string
	SiteHeartbeatInterval time.Duration
	SitePollInterval      time.Duration
	SiteCommand           []string
	SiteWorkDir           string
	SiteRunTimeout        time.Duration
	SiteRuntime           string
	SiteImage             string
}

// Site agent runtimes.
const (
	RuntimeExec   = "exec"
	RuntimeDocker = "docker"
)

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"database_url":            "DATABASE_URL",
	"http_port":               "PORT",
	"blob_root":               "BLOB_ROOT",
	"liveness_threshold":      "LIVENESS_THRESHOLD",
	"sweep_interval":          "SWEEP_INTERVAL",
	"admin_secret":            "ADMIN_SECRET",
	"rate_limit":              "RATE_LIMIT",
	"rate_burst":              "RATE_BURST",
	"otel_endpoint":           "OTEL_EXPORTER_OTLP_ENDPOINT",
	"log_level":               "LOG_LEVEL",
	"controller_url":          "CONTROLLER_URL",
	"site_api_key":            "SITE_API_KEY",
	"site_uid":                "SITE_UID",
	"site_project_id":         "SITE_PROJECT_ID",
	"site_heartbeat_interval": "SITE_HEARTBEAT_INTERVAL",
	"site_poll_interval":      "SITE_POLL_INTERVAL",
	"site_command":            "SITE_COMMAND",
	"site_workdir":            "SITE_WORKDIR",
	"site_run_timeout":        "SITE_RUN_TIMEOUT",
	"site_runtime":            "SITE_RUNTIME",
	"site_image":              "SITE_IMAGE",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 6161)
	v.SetDefault("blob_root", "./data/blobs")
	v.SetDefault("liveness_threshold", 60*time.Second)
	v.SetDefault("sweep_interval", 60*time.Second)
	v.SetDefault("rate_limit", 20.0)
	v.SetDefault("rate_burst", 40)
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("log_level", "info")
	v.SetDefault("controller_url", "http://localhost:6161")
	v.SetDefault("site_heartbeat_interval", 20*time.Second)
	v.SetDefault("site_poll_interval", 5*time.Second)
	v.SetDefault("site_run_timeout", 2*time.Hour)
	v.SetDefault("site_runtime", RuntimeExec)
}

// Load reads configuration. When path is empty, fedplane.yaml in the working
// directory is used if present. Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("fedplane")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	cfg := &Config{
		DatabaseURL:           v.GetString("database_url"),
		HTTPPort:              v.GetInt("http_port"),
		BlobRoot:              v.GetString("blob_root"),
		LivenessThreshold:     v.GetDuration("liveness_threshold"),
		SweepInterval:         v.GetDuration("sweep_interval"),
		AdminSecret:           v.GetString("admin_secret"),
		RateLimit:             v.GetFloat64("rate_limit"),
		RateBurst:             v.GetInt("rate_burst"),
		OTELEndpoint:          v.GetString("otel_endpoint"),
		LogLevel:              v.GetString("log_level"),
		ControllerURL:         v.GetString("controller_url"),
		SiteAPIKey:            v.GetString("site_api_key"),
		SiteUID:               v.GetString("site_uid"),
		SiteProjectID:         v.GetString("site_project_id"),
		SiteHeartbeatInterval: v.GetDuration("site_heartbeat_interval"),
		SitePollInterval:      v.GetDuration("site_poll_interval"),
		SiteCommand:           commandArgs(v.Get("site_command")),
		SiteWorkDir:           v.GetString("site_workdir"),
		SiteRunTimeout:        v.GetDuration("site_run_timeout"),
		SiteRuntime:           v.GetString("site_runtime"),
		SiteImage:             v.GetString("site_image"),
	}
	return cfg, nil
}

// commandArgs accepts either a YAML list or a whitespace-separated string.
func commandArgs(raw any) []string {
	switch c := raw.(type) {
	case []any:
		out := make([]string, 0, len(c))
		for _, part := range c {
			out = append(out, fmt.Sprint(part))
		}
		return out
	case []string:
		return c
	case string:
		return strings.Fields(c)
	default:
		return nil
	}
}

func required(key, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required (env: %s)", key, envBindings[key])
	}
	return nil
}

func positive(key string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be a positive duration (env: %s)", key, envBindings[key])
	}
	return nil
}

// ValidateController checks the settings the controller cannot run without.
func (c *Config) ValidateController() error {
	if err := required("database_url", c.DatabaseURL); err != nil {
		return err
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port %d out of range (env: PORT)", c.HTTPPort)
	}
	if err := required("blob_root", c.BlobRoot); err != nil {
		return err
	}
	if err := positive("liveness_threshold", c.LivenessThreshold); err != nil {
		return err
	}
	if err := positive("sweep_interval", c.SweepInterval); err != nil {
		return err
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("rate_limit and rate_burst must not be negative")
	}
	return nil
}

// ValidateAgent checks the settings the site agent cannot run without.
func (c *Config) ValidateAgent() error {
	for _, kv := range [][2]string{
		{"controller_url", c.ControllerURL},
		{"site_api_key", c.SiteAPIKey},
		{"site_uid", c.SiteUID},
		{"site_project_id", c.SiteProjectID},
	} {
		if err := required(kv[0], kv[1]); err != nil {
			return err
		}
	}
	if len(c.SiteCommand) == 0 {
		return fmt.Errorf("site_command is required (env: SITE_COMMAND)")
	}
	switch c.SiteRuntime {
	case RuntimeExec:
	case RuntimeDocker:
		if err := required("site_image", c.SiteImage); err != nil {
			return err
		}
	default:
		return fmt.Errorf("site_runtime %q must be %s or %s (env: SITE_RUNTIME)", c.SiteRuntime, RuntimeExec, RuntimeDocker)
	}
	if err := positive("site_heartbeat_interval", c.SiteHeartbeatInterval); err != nil {
		return err
	}
	return positive("site_poll_interval", c.SitePollInterval)
}
