package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backend names accepted by STORE_BACKEND.
const (
	BackendAuto     = "auto"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	Env             string        `mapstructure:"ENV"`
	APIBaseURL      string        `mapstructure:"API_BASE_URL"`
	StreamURL       string        `mapstructure:"STREAM_URL"`
	AccessToken     string        `mapstructure:"ACCESS_TOKEN"`
	StoreBackend    string        `mapstructure:"STORE_BACKEND"`
	StorePath       string        `mapstructure:"STORE_PATH"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	CacheLimit      int           `mapstructure:"CACHE_LIMIT"`
	ViewCap         int           `mapstructure:"VIEW_CAP"`
	FetchLimit      int           `mapstructure:"FETCH_LIMIT"`
	MetricType      string        `mapstructure:"METRIC_TYPE"`
	RefreshInterval time.Duration `mapstructure:"REFRESH_INTERVAL"`
	HTTPTimeout     time.Duration `mapstructure:"HTTP_TIMEOUT"`
	PingInterval    time.Duration `mapstructure:"PING_INTERVAL"`
	CameraGrace     time.Duration `mapstructure:"CAMERA_GRACE"`
	DevPort         string        `mapstructure:"DEV_PORT"`
	DevSigningKey   string        `mapstructure:"DEV_SIGNING_KEY"`
	DevRTCURL       string        `mapstructure:"DEV_RTC_URL"`
	DevRTCKey       string        `mapstructure:"DEV_RTC_KEY"`
	DevEHRClientID  string        `mapstructure:"DEV_EHR_CLIENT_ID"`
	DevFHIRBaseURL  string        `mapstructure:"DEV_FHIR_BASE_URL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("API_BASE_URL", "http://localhost:8000")
	v.SetDefault("STORE_BACKEND", BackendAuto)
	v.SetDefault("STORE_PATH", "vitalsync.db")
	v.SetDefault("DB_MAX_CONNS", 4)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("CACHE_LIMIT", 20)
	v.SetDefault("VIEW_CAP", 50)
	v.SetDefault("FETCH_LIMIT", 20)
	v.SetDefault("REFRESH_INTERVAL", "60s")
	v.SetDefault("HTTP_TIMEOUT", "10s")
	v.SetDefault("PING_INTERVAL", "25s")
	v.SetDefault("CAMERA_GRACE", "2s")
	v.SetDefault("DEV_PORT", "8000")
	v.SetDefault("DEV_SIGNING_KEY", "vitalsync-dev-signing-key")
	v.SetDefault("DEV_RTC_URL", "ws://localhost:7880")
	v.SetDefault("DEV_RTC_KEY", "devkey")
	v.SetDefault("DEV_EHR_CLIENT_ID", "vitalsync-dev")
	v.SetDefault("DEV_FHIR_BASE_URL", "https://launch.smarthealthit.org/v/r4/fhir")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"ENV", "API_BASE_URL", "STREAM_URL", "ACCESS_TOKEN",
		"STORE_BACKEND", "STORE_PATH", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"CACHE_LIMIT", "VIEW_CAP", "FETCH_LIMIT", "METRIC_TYPE",
		"REFRESH_INTERVAL", "HTTP_TIMEOUT", "PING_INTERVAL", "CAMERA_GRACE",
		"DEV_PORT", "DEV_SIGNING_KEY", "DEV_RTC_URL", "DEV_RTC_KEY",
		"DEV_EHR_CLIENT_ID", "DEV_FHIR_BASE_URL",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))

	if cfg.StreamURL == "" {
		derived, err := DeriveStreamURL(cfg.APIBaseURL)
		if err != nil {
			return nil, err
		}
		cfg.StreamURL = derived
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration can drive a sync session.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendAuto, BackendSQLite, BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is %q", BackendPostgres)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of auto, sqlite, postgres, memory; got %q", c.StoreBackend)
	}
	if c.CacheLimit <= 0 {
		return fmt.Errorf("CACHE_LIMIT must be positive, got %d", c.CacheLimit)
	}
	if c.ViewCap <= 0 {
		return fmt.Errorf("VIEW_CAP must be positive, got %d", c.ViewCap)
	}
	if c.FetchLimit <= 0 {
		return fmt.Errorf("FETCH_LIMIT must be positive, got %d", c.FetchLimit)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be positive, got %s", c.RefreshInterval)
	}
	if _, err := url.ParseRequestURI(c.APIBaseURL); err != nil {
		return fmt.Errorf("API_BASE_URL is not a valid URL: %w", err)
	}
	return nil
}

// DeriveStreamURL maps an http(s) API base to the websocket stream endpoint.
func DeriveStreamURL(apiBase string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(apiBase))
	if err != nil {
		return "", fmt.Errorf("parse API_BASE_URL %q: %w", apiBase, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/metrics/stream"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
