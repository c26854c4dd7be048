package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Credential acquisition modes for the aggregator.
const (
	KeyModeStatic    = "static"
	KeyModeProvision = "provision"
)

var (
	ErrMissingDatabaseDSN   = errors.New("DB_DSN is required")
	ErrMissingSessionSecret = errors.New("SESSION_SECRET is required")
	ErrMissingCredential    = errors.New("OPENROUTER_API_KEY or OPENROUTER_PROVISIONING_KEY is required")
	ErrInvalidKeyMode       = errors.New("OPENROUTER_KEY_MODE must be 'static' or 'provision'")
)

// ModelEntry maps an internal alias to the aggregator's fully qualified
// model identifier. Order in the Models slice is the fan-out order.
type ModelEntry struct {
	Alias string `json:"alias"`
	Model string `json:"model"`
}

type Config struct {
	ServerAddr    string
	SiteURL       string
	AppTitle      string
	SessionSecret string

	DB     DBConfig
	Redis  RedisConfig
	Rate   RateConfig
	Router RouterConfig
	Log    LogConfig
}

type DBConfig struct {
	Driver string
	DSN    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateConfig struct {
	Window      time.Duration
	MaxRequests int64
}

// RouterConfig describes the aggregator endpoint, the credential strategy,
// and the model table.
type RouterConfig struct {
	BaseURL         string
	APIKey          string
	ProvisioningKey string
	KeyMode         string
	Models          []ModelEntry
	ComparisonModel string
	Timeout         time.Duration
}

type LogConfig struct {
	Level string
}

// Default fan-out table, mirroring the original deployment.
var defaultModels = []ModelEntry{
	{Alias: "gemini", Model: "google/gemini-2.0-flash-exp:free"},
	{Alias: "llama", Model: "meta-llama/llama-4-maverick:free"},
	{Alias: "deepseek", Model: "deepseek/deepseek-chat-v3-0324:free"},
}

const defaultComparisonModel = "google/gemma-3-27b-it:free"

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr:    env("SERVER_ADDR", ":8080"),
		SiteURL:       env("SITE_URL", "http://localhost:8080"),
		AppTitle:      env("APP_TITLE", "AI Comparison Platform"),
		SessionSecret: env("SESSION_SECRET", ""),
		DB: DBConfig{
			Driver: strings.ToLower(env("DB_DRIVER", "sqlite3")),
			DSN:    env("DB_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     env("REDIS_ADDR", "127.0.0.1:6379"),
			Password: env("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
		},
		Rate: RateConfig{
			Window:      envDuration("RATE_LIMIT_WINDOW", 30*time.Second),
			MaxRequests: int64(envInt("RATE_LIMIT_MAX", 1)),
		},
		Router: RouterConfig{
			BaseURL:         strings.TrimRight(env("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"), "/"),
			APIKey:          env("OPENROUTER_API_KEY", ""),
			ProvisioningKey: env("OPENROUTER_PROVISIONING_KEY", ""),
			KeyMode:         strings.ToLower(env("OPENROUTER_KEY_MODE", "")),
			ComparisonModel: env("COMPARISON_MODEL", defaultComparisonModel),
			Timeout:         envDuration("HTTP_TIMEOUT", 30*time.Second),
		},
		Log: LogConfig{
			Level: strings.ToLower(env("LOG_LEVEL", "info")),
		},
	}

	if cfg.DB.DSN == "" {
		return nil, ErrMissingDatabaseDSN
	}
	if cfg.SessionSecret == "" {
		return nil, ErrMissingSessionSecret
	}

	models, err := loadModels()
	if err != nil {
		return nil, err
	}
	cfg.Router.Models = models

	if cfg.Router.KeyMode == "" {
		if cfg.Router.ProvisioningKey != "" {
			cfg.Router.KeyMode = KeyModeProvision
		} else {
			cfg.Router.KeyMode = KeyModeStatic
		}
	}
	switch cfg.Router.KeyMode {
	case KeyModeStatic:
		if cfg.Router.APIKey == "" {
			return nil, ErrMissingCredential
		}
	case KeyModeProvision:
		if cfg.Router.ProvisioningKey == "" {
			return nil, ErrMissingCredential
		}
	default:
		return nil, ErrInvalidKeyMode
	}

	if cfg.Rate.Window <= 0 {
		cfg.Rate.Window = 30 * time.Second
	}
	if cfg.Rate.MaxRequests <= 0 {
		cfg.Rate.MaxRequests = 1
	}

	return cfg, nil
}

func loadModels() ([]ModelEntry, error) {
	raw := env("MODELS_JSON", "")
	if raw == "" {
		return defaultModels, nil
	}
	var models []ModelEntry
	if err := json.Unmarshal([]byte(raw), &models); err != nil {
		return nil, fmt.Errorf("parse MODELS_JSON: %w", err)
	}
	if len(models) == 0 {
		return nil, errors.New("MODELS_JSON must list at least one model")
	}
	seen := make(map[string]struct{}, len(models))
	for _, m := range models {
		if m.Alias == "" || m.Model == "" {
			return nil, errors.New("MODELS_JSON entries need both alias and model")
		}
		if !validAlias(m.Alias) {
			return nil, fmt.Errorf("model alias %q must match [a-z][a-z0-9_]*", m.Alias)
		}
		if _, dup := seen[m.Alias]; dup {
			return nil, fmt.Errorf("duplicate model alias %q", m.Alias)
		}
		seen[m.Alias] = struct{}{}
	}
	return models, nil
}

// Aliases returns the fan-out aliases in configured order.
func (r RouterConfig) Aliases() []string {
	out := make([]string, len(r.Models))
	for i, m := range r.Models {
		out[i] = m.Alias
	}
	return out
}

// Resolve maps an alias to the aggregator model identifier.
func (r RouterConfig) Resolve(alias string) (string, bool) {
	for _, m := range r.Models {
		if m.Alias == alias {
			return m.Model, true
		}
	}
	return "", false
}

// Aliases end up as column names in the queries table, so keep them tame.
func validAlias(alias string) bool {
	for i, c := range alias {
		switch {
		case c >= 'a' && c <= 'z':
		case i > 0 && (c == '_' || (c >= '0' && c <= '9')):
		default:
			return false
		}
	}
	return alias != ""
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return d
}
