package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Scheduling struct {
	Timezone       string
	ConflictWindow time.Duration
	PeakHours      []int
}

type Orchestrator struct {
	Tick           time.Duration
	BatchLimit     int
	LeaseTTL       time.Duration
	PublishTimeout time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	Concurrency    int
	RatePerSecond  float64
	RateBurst      int
}

type Config struct {
	Port          string
	PostgresURI   string
	RedisURI      string
	SecretKey     string
	CookieName    string
	LogLevel      string
	Development   bool
	StatsCacheTTL time.Duration
	Connectors    map[string]string
	CORSOrigins   []string
	Scheduling    Scheduling
	Orchestrator  Orchestrator
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "3000")
	v.SetDefault("postgres_uri", "")
	v.SetDefault("redis_uri", "")
	v.SetDefault("secret_key", "")
	v.SetDefault("cookie_name", "postflow_session")
	v.SetDefault("log_level", "info")
	v.SetDefault("development", false)
	v.SetDefault("stats_cache_ttl", "30s")
	v.SetDefault("connectors", "")
	v.SetDefault("cors_allowed_origins", "")

	v.SetDefault("scheduling_timezone", "America/Sao_Paulo")
	v.SetDefault("conflict_window", "60m")
	v.SetDefault("peak_hours", "9,12,18,20")

	v.SetDefault("orchestrator_tick", "30s")
	v.SetDefault("orchestrator_batch_limit", 50)
	v.SetDefault("orchestrator_lease_ttl", "5m")
	v.SetDefault("orchestrator_publish_timeout", "30s")
	v.SetDefault("orchestrator_max_retries", 5)
	v.SetDefault("orchestrator_backoff_base", "5m")
	v.SetDefault("orchestrator_backoff_cap", "2h")
	v.SetDefault("orchestrator_concurrency", 10)
	v.SetDefault("orchestrator_rate_per_second", 5.0)
	v.SetDefault("orchestrator_rate_burst", 10)
}

// LoadConfig reads config.yaml (optional) and the environment. Environment keys are the
// upper-cased setting names, e.g. POSTGRES_URI or ORCHESTRATOR_MAX_RETRIES.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	peakHours, err := parsePeakHours(v.GetString("peak_hours"))
	if err != nil {
		return nil, err
	}

	connectors, err := parseConnectors(v.GetString("connectors"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:          v.GetString("port"),
		PostgresURI:   v.GetString("postgres_uri"),
		RedisURI:      v.GetString("redis_uri"),
		SecretKey:     v.GetString("secret_key"),
		CookieName:    v.GetString("cookie_name"),
		LogLevel:      v.GetString("log_level"),
		Development:   v.GetBool("development"),
		StatsCacheTTL: v.GetDuration("stats_cache_ttl"),
		Connectors:    connectors,
		CORSOrigins:   parseList(v.GetString("cors_allowed_origins")),
		Scheduling: Scheduling{
			Timezone:       v.GetString("scheduling_timezone"),
			ConflictWindow: v.GetDuration("conflict_window"),
			PeakHours:      peakHours,
		},
		Orchestrator: Orchestrator{
			Tick:           v.GetDuration("orchestrator_tick"),
			BatchLimit:     v.GetInt("orchestrator_batch_limit"),
			LeaseTTL:       v.GetDuration("orchestrator_lease_ttl"),
			PublishTimeout: v.GetDuration("orchestrator_publish_timeout"),
			MaxRetries:     v.GetInt("orchestrator_max_retries"),
			BackoffBase:    v.GetDuration("orchestrator_backoff_base"),
			BackoffCap:     v.GetDuration("orchestrator_backoff_cap"),
			Concurrency:    v.GetInt("orchestrator_concurrency"),
			RatePerSecond:  v.GetFloat64("orchestrator_rate_per_second"),
			RateBurst:      v.GetInt("orchestrator_rate_burst"),
		},
	}

	if cfg.Orchestrator.BatchLimit <= 0 {
		return nil, fmt.Errorf("orchestrator batch limit must be positive, got %d", cfg.Orchestrator.BatchLimit)
	}
	if cfg.Orchestrator.PublishTimeout >= cfg.Orchestrator.LeaseTTL {
		return nil, fmt.Errorf("publish timeout %s must be shorter than lease ttl %s",
			cfg.Orchestrator.PublishTimeout, cfg.Orchestrator.LeaseTTL)
	}

	return cfg, nil
}

func parsePeakHours(raw string) ([]int, error) {
	var hours []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		h, err := strconv.Atoi(part)
		if err != nil || h < 0 || h > 23 {
			return nil, fmt.Errorf("invalid peak hour %q", part)
		}
		hours = append(hours, h)
	}
	return hours, nil
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseConnectors reads "instagram=http://...,tiktok=http://..." into a platform map.
func parseConnectors(raw string) (map[string]string, error) {
	connectors := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		platform, url, ok := strings.Cut(part, "=")
		if !ok || platform == "" || url == "" {
			return nil, fmt.Errorf("invalid connector entry %q", part)
		}
		connectors[strings.ToLower(platform)] = url
	}
	return connectors, nil
}
