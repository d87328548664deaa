// Package config loads settings from an optional YAML file layered over
// defaults, then applies environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"content-pilot/internal/policy"
	"content-pilot/internal/topics"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "UTC"

	configPathEnv   = "CONTENT_PILOT_CONFIG"
	redisAddrEnv    = "REDIS_ADDR"
	badgerPathEnv   = "BADGER_PATH"
	databaseDSNEnv  = "DATABASE_DSN"
	openAIKeyEnv    = "OPENAI_API_KEY"
	wpBaseURLEnv    = "WORDPRESS_BASE_URL"
	wpUserEnv       = "WORDPRESS_USER"
	wpPasswordEnv   = "WORDPRESS_APP_PASSWORD"
	natsURLEnv      = "NATS_URL"
	logLevelEnv     = "LOG_LEVEL"
	storeBackendEnv = "STORE_BACKEND"
)

// Store backends.
const (
	BackendHybrid   = "hybrid"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Policy    PolicyConfig    `yaml:"policy"`
	Batches   BatchConfig     `yaml:"batches"`
	Generator GeneratorConfig `yaml:"generator"`
	Trends    TrendsConfig    `yaml:"trends"`
	Publisher PublisherConfig `yaml:"publisher"`
	Events    EventsConfig    `yaml:"events"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StoreConfig picks the persistence backend.
type StoreConfig struct {
	Backend    string `yaml:"backend"`
	RedisAddr  string `yaml:"redis_addr"`
	BadgerPath string `yaml:"badger_path"`
	DSN        string `yaml:"dsn"`
}

// ScheduleConfig holds cron specs for the three jobs. An empty spec disables
// the trigger; the job can still be run by hand.
type ScheduleConfig struct {
	Timezone          string        `yaml:"timezone"`
	AutoPublish       string        `yaml:"auto_publish"`
	CTROptimize       string        `yaml:"ctr_optimize"`
	ContentRefresh    string        `yaml:"content_refresh"`
	JobBudget         time.Duration `yaml:"job_budget"`
	GenerateWhenEmpty bool          `yaml:"generate_when_empty"`
	PublishLease      time.Duration `yaml:"publish_lease"`

	location *time.Location
}

// Location resolves Timezone; Load has already validated it.
func (s ScheduleConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	return time.UTC
}

type PolicyConfig struct {
	policy.Thresholds `yaml:",inline"`
	TopicMaxUsage     int           `yaml:"topic_max_usage"`
	TopicCooldown     time.Duration `yaml:"topic_cooldown"`
}

func (p PolicyConfig) Topics() topics.Policy {
	return topics.Policy{MaxUsage: p.TopicMaxUsage, Cooldown: p.TopicCooldown}
}

type BatchConfig struct {
	CTRLimit     int `yaml:"ctr_limit"`
	RefreshLimit int `yaml:"refresh_limit"`
}

// GeneratorConfig defines how to reach the OpenAI-compatible chat API.
type GeneratorConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"api_key"`
	SystemPrompt string        `yaml:"system_prompt"`
	Timeout      time.Duration `yaml:"timeout"`
}

// TrendsConfig lists RSS feeds used as the topic source. With no feeds the
// generator is asked for topics instead.
type TrendsConfig struct {
	Region string   `yaml:"region"`
	Feeds  []string `yaml:"feeds"`
	Limit  int      `yaml:"limit"`
}

type PublisherConfig struct {
	Platform    string        `yaml:"platform"`
	BaseURL     string        `yaml:"base_url"`
	User        string        `yaml:"user"`
	AppPassword string        `yaml:"app_password"`
	Status      string        `yaml:"status"`
	Timeout     time.Duration `yaml:"timeout"`
}

// EventsConfig enables NATS lifecycle events when URL is set.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads path (or $CONTENT_PILOT_CONFIG when path is empty) over the
// defaults and applies environment overrides. A missing path is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	set := func(dst *string, env string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	set(&c.Store.Backend, storeBackendEnv)
	set(&c.Store.RedisAddr, redisAddrEnv)
	set(&c.Store.BadgerPath, badgerPathEnv)
	set(&c.Store.DSN, databaseDSNEnv)
	set(&c.Generator.APIKey, openAIKeyEnv)
	set(&c.Publisher.BaseURL, wpBaseURLEnv)
	set(&c.Publisher.User, wpUserEnv)
	set(&c.Publisher.AppPassword, wpPasswordEnv)
	set(&c.Events.NATSURL, natsURLEnv)
	set(&c.Logging.Level, logLevelEnv)
}

func (c *Config) validate() error {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	switch c.Store.Backend {
	case BackendHybrid, BackendSQLite, BackendPostgres:
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend != BackendHybrid && c.Store.DSN == "" {
		return fmt.Errorf("config: store.dsn is required for %s", c.Store.Backend)
	}

	tz := c.Schedule.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("config: unknown timezone %q: %w", tz, err)
	}
	c.Schedule.location = loc

	if c.Policy.MaxRewriteLimit < 0 || c.Policy.TopicMaxUsage <= 0 {
		return fmt.Errorf("config: policy limits must be positive")
	}
	return nil
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	th := policy.DefaultThresholds()
	return Config{
		Store: StoreConfig{
			Backend:    BackendHybrid,
			RedisAddr:  "localhost:6379",
			BadgerPath: "./badger-data",
		},
		Schedule: ScheduleConfig{
			Timezone:       defaultTimezone,
			AutoPublish:    "0 9 * * *",
			CTROptimize:    "0 3 * * *",
			ContentRefresh: "0 4 * * 0",
			JobBudget:      30 * time.Minute,
			PublishLease:   5 * time.Minute,
			location:       time.UTC,
		},
		Policy: PolicyConfig{
			Thresholds:    th,
			TopicMaxUsage: topics.DefaultMaxUsage,
			TopicCooldown: topics.DefaultCooldown,
		},
		Batches: BatchConfig{CTRLimit: 5, RefreshLimit: 3},
		Generator: GeneratorConfig{
			Endpoint:     "https://api.openai.com/v1/chat/completions",
			Model:        "gpt-4o-mini",
			SystemPrompt: "You are a professional senior tech blog writer.",
			Timeout:      90 * time.Second,
		},
		Trends: TrendsConfig{Region: "global", Limit: 5},
		Publisher: PublisherConfig{
			Platform: "wordpress",
			Status:   "publish",
			Timeout:  30 * time.Second,
		},
		Events:  EventsConfig{SubjectPrefix: "content"},
		Server:  ServerConfig{Addr: ":8080"},
		Logging: LoggingConfig{Level: "info"},
	}
}
