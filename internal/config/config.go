package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Facebook  FacebookConfig  `yaml:"facebook"`
	Cache     CacheConfig     `yaml:"cache"`
	Export    ExportConfig    `yaml:"export"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Normalize NormalizeConfig `yaml:"normalize"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	Env             string        `yaml:"env"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WarehouseConfig selects the backend that holds ad spend and user progress tables.
// Driver "bigquery" uses Project; every other driver opens DSN through database/sql.
type WarehouseConfig struct {
	Driver       string        `yaml:"driver"`
	Project      string        `yaml:"project"`
	DSN          string        `yaml:"dsn"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	Since        string        `yaml:"since"`
	Tables       TableConfig   `yaml:"tables"`
}

type TableConfig struct {
	GoogleStats    string `yaml:"google_stats"`
	GoogleCampaign string `yaml:"google_campaign"`
	Progress       string `yaml:"progress"`
	AppLaunch      string `yaml:"app_launch"`
	Languages      string `yaml:"languages"`
}

type FacebookConfig struct {
	Enabled     bool          `yaml:"enabled"`
	GraphURL    string        `yaml:"graph_url"`
	APIVersion  string        `yaml:"api_version"`
	AccountID   string        `yaml:"account_id"`
	AccessToken string        `yaml:"access_token"`
	RatePerSec  float64       `yaml:"rate_per_sec"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	LRUSize       int           `yaml:"lru_size"`
	RedisEnabled  bool          `yaml:"redis_enabled"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
}

type ExportConfig struct {
	SinkURL    string `yaml:"sink_url"`
	SinkSecret string `yaml:"sink_secret"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	S3Prefix   string `yaml:"s3_prefix"`
}

type RefreshConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

type NormalizeConfig struct {
	LanguageFixes map[string]string `yaml:"language_fixes"`
}

var drivers = map[string]bool{
	"bigquery":   true,
	"snowflake":  true,
	"pgx":        true,
	"sqlite":     true,
	"clickhouse": true,
}

// Default returns a configuration usable for local development.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Env:             "development",
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Warehouse: WarehouseConfig{
			Driver:       "bigquery",
			QueryTimeout: 2 * time.Minute,
			Since:        "2021-01-01",
			Tables: TableConfig{
				GoogleStats:    "marketing_data.p_ads_CampaignStats_8779787641",
				GoogleCampaign: "marketing_data.ads_Campaign_8779787641",
				Progress:       "user_data.cr_user_progress",
				AppLaunch:      "user_data.cr_app_launch",
				Languages:      "user_data.language_max_level",
			},
		},
		Facebook: FacebookConfig{
			GraphURL:    "https://graph.facebook.com",
			APIVersion:  "v19.0",
			RatePerSec:  2,
			HTTPTimeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			TTL:       24 * time.Hour,
			LRUSize:   512,
			RedisAddr: "localhost:6379",
		},
		Export:  ExportConfig{S3Prefix: "exports/"},
		Refresh: RefreshConfig{Enabled: true, Cron: "0 6 * * *"},
	}
}

// Load reads a YAML file on top of Default. A missing path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = 24 * time.Hour
	}
	if cfg.Cache.LRUSize <= 0 {
		cfg.Cache.LRUSize = 512
	}
	if cfg.Facebook.RatePerSec <= 0 {
		cfg.Facebook.RatePerSec = 2
	}
	return &cfg, nil
}

// LoadFromEnv loads .env (if present), the YAML file, then environment overrides.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = envOr("DASH_HTTP_ADDR", c.Server.Addr)
	c.Server.Env = envOr("DASH_ENV", c.Server.Env)
	c.Log.Level = envOr("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOr("LOG_FORMAT", c.Log.Format)

	c.Warehouse.Driver = envOr("WAREHOUSE_DRIVER", c.Warehouse.Driver)
	c.Warehouse.Project = envOr("GCP_PROJECT_ID", c.Warehouse.Project)
	c.Warehouse.DSN = envOr("WAREHOUSE_DSN", c.Warehouse.DSN)
	if v := os.Getenv("QUERY_TIMEOUT_SECONDS"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			c.Warehouse.QueryTimeout = d
		}
	}

	c.Facebook.AccountID = envOr("FB_ACCOUNT_ID", c.Facebook.AccountID)
	c.Facebook.AccessToken = envOr("FB_ACCESS_TOKEN", c.Facebook.AccessToken)
	if c.Facebook.AccessToken != "" && c.Facebook.AccountID != "" {
		c.Facebook.Enabled = true
	}

	c.Cache.RedisAddr = envOr("REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.RedisPassword = envOr("REDIS_PASSWORD", c.Cache.RedisPassword)
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cache.RedisEnabled = b
		}
	}

	c.Export.SinkURL = envOr("SINK_URL", c.Export.SinkURL)
	c.Export.SinkSecret = envOr("SINK_SECRET", c.Export.SinkSecret)
	c.Export.S3Bucket = envOr("EXPORT_S3_BUCKET", c.Export.S3Bucket)
	c.Export.S3Region = envOr("EXPORT_S3_REGION", c.Export.S3Region)
}

// Validate checks the fields the server cannot start without.
func (c *Config) Validate() error {
	d := strings.ToLower(c.Warehouse.Driver)
	if !drivers[d] {
		return fmt.Errorf("unknown warehouse driver %q", c.Warehouse.Driver)
	}
	c.Warehouse.Driver = d
	if d == "bigquery" && c.Warehouse.Project == "" {
		return errors.New("warehouse.project is required for bigquery")
	}
	if d != "bigquery" && c.Warehouse.DSN == "" {
		return fmt.Errorf("warehouse.dsn is required for %s", d)
	}
	if _, err := time.Parse("2006-01-02", c.Warehouse.Since); err != nil {
		return fmt.Errorf("warehouse.since: %w", err)
	}
	if c.Refresh.Enabled {
		if _, err := cron.ParseStandard(c.Refresh.Cron); err != nil {
			return fmt.Errorf("refresh.cron: %w", err)
		}
	}
	return nil
}

// SinceDate is the earliest first-open/campaign day loaded from the warehouse.
func (c *Config) SinceDate() time.Time {
	t, err := time.Parse("2006-01-02", c.Warehouse.Since)
	if err != nil {
		return time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

func (c *Config) IsDevelopment() bool { return c.Server.Env == "development" }

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
