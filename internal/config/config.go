package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Competition Orchestration Core - Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Market     MarketConfig     `yaml:"market"`
	Rating     RatingConfig     `yaml:"rating"`
	Vault      VaultConfig      `yaml:"vault"`
	PubSub     PubSubConfig     `yaml:"pubsub"`
}

type ServerConfig struct {
	Port            string `yaml:"port"`
	Env             string `yaml:"env"`
	Interface       string `yaml:"interface"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int    `yaml:"idle_timeout_sec"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig for the Supabase-backed durable store plus its Redis cache.
type DatabaseConfig struct {
	Supabase SupabaseConfig `yaml:"supabase"`
	Redis    RedisConfig    `yaml:"redis"`
}

type SupabaseConfig struct {
	URL        string `yaml:"url"`
	ServiceKey string `yaml:"service_key"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SchedulerConfig configures CompetitionManager admission control.
type SchedulerConfig struct {
	MaxConcurrentCompetitions int `yaml:"max_concurrent_competitions"`
}

// DispatchConfig configures AgentDispatcher turn deadlines and body limits.
type DispatchConfig struct {
	PerTurnTimeoutMS  int   `yaml:"per_turn_timeout_ms"`
	MaxResponseBytes  int64 `yaml:"max_response_bytes"`
}

// WebSocketConfig configures WsGateway admission control and rate limits.
type WebSocketConfig struct {
	MaxConnPerIP    int `yaml:"max_conn_per_ip"`
	ConnRatePerMin  int `yaml:"conn_rate_per_min"`
	VoteRatePer10s  int `yaml:"vote_rate_per_10s"`
	EventHistoryMax int `yaml:"event_history_max"`
	HistoryMaxAgeSec int `yaml:"history_max_age_sec"`
}

// MarketConfig configures the virtual portfolio / meta-market engine.
type MarketConfig struct {
	StaleMarketHours       int     `yaml:"stale_market_hours"`
	AutoResolverIntervalMin int    `yaml:"auto_resolver_interval_min"`
	SandboxStartingBalance float64 `yaml:"sandbox_starting_balance"`
	MaxBetSize             float64 `yaml:"max_bet_size"`
}

// RatingConfig configures Glicko-2 tuning knobs and the optional Spanner
// cross-domain rating sink.
type RatingConfig struct {
	SystemConstant float64 `yaml:"system_constant"` // tau
	Spanner        SpannerConfig `yaml:"spanner"`
}

// SpannerConfig points at the optional Cloud Spanner database used to
// upsert per-domain agent ratings. Leave ProjectID empty to disable it.
type SpannerConfig struct {
	ProjectID  string `yaml:"project_id"`
	InstanceID string `yaml:"instance_id"`
	Database   string `yaml:"database"`
}

// VaultConfig configures CryptoVault's process secret.
type VaultConfig struct {
	ProcessSecret string `yaml:"process_secret"`
}

// PubSubConfig for the optional Google Cloud Pub/Sub event-bus transport.
type PubSubConfig struct {
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
	Enabled   bool   `yaml:"enabled"`
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		cfg.applyDefaults()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment-variable overrides on top of the
// parsed YAML, matching the prior config package's layering.
func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("OCX_ENV", c.Server.Env)
	c.Server.Interface = getEnv("OCX_INTERFACE", c.Server.Interface)

	c.Database.Supabase.URL = getEnv("SUPABASE_URL", c.Database.Supabase.URL)
	c.Database.Supabase.ServiceKey = getEnv("SUPABASE_SERVICE_KEY", c.Database.Supabase.ServiceKey)
	c.Database.Redis.Addr = getEnv("REDIS_ADDR", c.Database.Redis.Addr)
	c.Database.Redis.Password = getEnv("REDIS_PASSWORD", c.Database.Redis.Password)
	if v := getEnvInt("REDIS_DB", -1); v >= 0 {
		c.Database.Redis.DB = v
	}

	if v := getEnvInt("MAX_CONCURRENT_COMPETITIONS", 0); v > 0 {
		c.Scheduler.MaxConcurrentCompetitions = v
	}

	if v := getEnvInt("PER_TURN_TIMEOUT_MS", 0); v > 0 {
		c.Dispatch.PerTurnTimeoutMS = v
	}

	if v := getEnvInt("WS_MAX_CONN_PER_IP", 0); v > 0 {
		c.WebSocket.MaxConnPerIP = v
	}
	if v := getEnvInt("WS_CONN_RATE_PER_MIN", 0); v > 0 {
		c.WebSocket.ConnRatePerMin = v
	}
	if v := getEnvInt("WS_VOTE_RATE", 0); v > 0 {
		c.WebSocket.VoteRatePer10s = v
	}
	if v := getEnvInt("EVENT_HISTORY_MAX", 0); v > 0 {
		c.WebSocket.EventHistoryMax = v
	}

	if v := getEnvInt("STALE_MARKET_HOURS", 0); v > 0 {
		c.Market.StaleMarketHours = v
	}
	if v := getEnvInt("AUTO_RESOLVER_INTERVAL_MIN", 0); v > 0 {
		c.Market.AutoResolverIntervalMin = v
	}
	if v := getEnvFloat("SANDBOX_STARTING_BALANCE", 0); v > 0 {
		c.Market.SandboxStartingBalance = v
	}
	if v := getEnvFloat("MAX_BET_SIZE", 0); v > 0 {
		c.Market.MaxBetSize = v
	}

	c.Vault.ProcessSecret = getEnv("VAULT_PROCESS_SECRET", c.Vault.ProcessSecret)

	c.Rating.Spanner.ProjectID = getEnv("RATING_SPANNER_PROJECT_ID", c.Rating.Spanner.ProjectID)
	c.Rating.Spanner.InstanceID = getEnv("RATING_SPANNER_INSTANCE_ID", c.Rating.Spanner.InstanceID)
	c.Rating.Spanner.Database = getEnv("RATING_SPANNER_DATABASE", c.Rating.Spanner.Database)

	if projectID := getEnv("GCP_PROJECT_ID", ""); projectID != "" {
		c.PubSub.ProjectID = projectID
	}
	c.PubSub.TopicID = getEnv("PUBSUB_TOPIC_ID", c.PubSub.TopicID)
	c.PubSub.Enabled = getEnvBool("PUBSUB_ENABLED", c.PubSub.Enabled)
}

// applyDefaults fills the zero-value server port and scheduler, dispatch,
// websocket, market, rating and vault fields with their defaults. The other
// server settings and the Supabase, Redis, Pub/Sub and Spanner settings are
// left as given.
func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Scheduler.MaxConcurrentCompetitions == 0 {
		c.Scheduler.MaxConcurrentCompetitions = 10
	}
	if c.Dispatch.PerTurnTimeoutMS == 0 {
		c.Dispatch.PerTurnTimeoutMS = 15000
	}
	if c.Dispatch.MaxResponseBytes == 0 {
		c.Dispatch.MaxResponseBytes = 1 << 20 // 1 MB
	}
	if c.WebSocket.MaxConnPerIP == 0 {
		c.WebSocket.MaxConnPerIP = 10
	}
	if c.WebSocket.ConnRatePerMin == 0 {
		c.WebSocket.ConnRatePerMin = 20
	}
	if c.WebSocket.VoteRatePer10s == 0 {
		c.WebSocket.VoteRatePer10s = 5
	}
	if c.WebSocket.EventHistoryMax == 0 {
		c.WebSocket.EventHistoryMax = 1000
	}
	if c.WebSocket.HistoryMaxAgeSec == 0 {
		c.WebSocket.HistoryMaxAgeSec = 600
	}
	if c.Market.StaleMarketHours == 0 {
		c.Market.StaleMarketHours = 25
	}
	if c.Market.AutoResolverIntervalMin == 0 {
		c.Market.AutoResolverIntervalMin = 30
	}
	if c.Market.SandboxStartingBalance == 0 {
		c.Market.SandboxStartingBalance = 10000
	}
	if c.Market.MaxBetSize == 0 {
		c.Market.MaxBetSize = 1000
	}
	if c.Rating.SystemConstant == 0 {
		c.Rating.SystemConstant = 0.5
	}
	if c.Vault.ProcessSecret == "" {
		c.Vault.ProcessSecret = "dev-only-insecure-secret"
		slog.Warn("config: VAULT_PROCESS_SECRET not set — using dev-only default, do not use in production")
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// =============================================================================
// Convenience Methods
// =============================================================================

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) GetPort() string {
	if c.Server.Port == "" {
		return "8080"
	}
	return c.Server.Port
}
