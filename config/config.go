package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Platform names accepted in watch.platforms.
const (
	PlatformAll        = "all"
	PlatformPolymarket = "polymarket"
	PlatformKalshi     = "kalshi"
)

// Store drivers.
const (
	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
	StoreDriverRedis    = "redis"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd   bool   `json:"is_prod" yaml:"is_prod"`
	LogLevel string `json:"log_level" yaml:"log_level"`

	// Ingestion loop
	Watch WatchConfig `json:"watch" yaml:"watch"`

	// Rolling actor windows
	Activity ActivityConfig `json:"activity" yaml:"activity"`

	// Returning whale detection
	WhaleMemory WhaleMemoryConfig `json:"whale_memory" yaml:"whale_memory"`

	// Whale profile cache
	ProfileCache ProfileCacheConfig `json:"profile_cache" yaml:"profile_cache"`

	// Market context, order book and holder lookups for qualifying trades
	Enrichment EnrichmentConfig `json:"enrichment" yaml:"enrichment"`

	// Durable activity store
	Store StoreConfig `json:"store" yaml:"store"`

	// Platform APIs
	Polymarket PolymarketConfig `json:"polymarket" yaml:"polymarket"`
	Kalshi     KalshiConfig     `json:"kalshi" yaml:"kalshi"`

	// Alert sinks
	Discord  DiscordConfig  `json:"discord" yaml:"discord"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Webhook  WebhookConfig  `json:"webhook" yaml:"webhook"`
	Kafka    KafkaConfig    `json:"kafka" yaml:"kafka"`

	// Health server
	HealthServer HealthServerConfig `json:"health_server" yaml:"health_server"`
}

// WatchConfig controls the ingestion coordinator.
type WatchConfig struct {
	Threshold        float64       `json:"threshold" yaml:"threshold"`                   // Minimum trade value in USD to alert on
	TickInterval     time.Duration `json:"tick_interval" yaml:"tick_interval"`           // Coordinator tick period
	QuietMultiplier  int           `json:"quiet_multiplier" yaml:"quiet_multiplier"`     // Stream silence (in ticks) before polling resumes
	PruneEveryTicks  int           `json:"prune_every_ticks" yaml:"prune_every_ticks"`   // Run retention pruning every N ticks
	Platforms        []string      `json:"platforms" yaml:"platforms"`                   // polymarket, kalshi or all
	StreamQueueSize  int           `json:"stream_queue_size" yaml:"stream_queue_size"`   // Bounded stream buffer
	RecentIDCapacity int           `json:"recent_id_capacity" yaml:"recent_id_capacity"` // Per-platform recently seen ids
	PollLimit        int           `json:"poll_limit" yaml:"poll_limit"`                 // Trades requested per poll
	MaxOdds          float64       `json:"max_odds" yaml:"max_odds"`                     // Skip markets where either side trades above this
	MinSpread        float64       `json:"min_spread" yaml:"min_spread"`                 // Skip markets with a tighter spread, 0 disables
}

// QuietPeriod is how long the stream may stay silent before the poll path takes over.
func (w WatchConfig) QuietPeriod() time.Duration {
	return time.Duration(w.QuietMultiplier) * w.TickInterval
}

// WatchesPlatform reports whether the given platform is enabled.
func (w WatchConfig) WatchesPlatform(name string) bool {
	for _, p := range w.Platforms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == PlatformAll || p == name {
			return true
		}
	}
	return false
}

// ActivityConfig holds rolling window settings for actor classification.
type ActivityConfig struct {
	RepeatWindow   time.Duration `json:"repeat_window" yaml:"repeat_window"`
	RepeatMinCount int           `json:"repeat_min_count" yaml:"repeat_min_count"`
	HeavyWindow    time.Duration `json:"heavy_window" yaml:"heavy_window"`
	HeavyMinCount  int           `json:"heavy_min_count" yaml:"heavy_min_count"`
	MaxEntries     int           `json:"max_entries" yaml:"max_entries"` // Per-actor log cap
}

// WhaleMemoryConfig holds the position memory horizon.
type WhaleMemoryConfig struct {
	Horizon time.Duration `json:"horizon" yaml:"horizon"`
}

// ProfileCacheConfig holds whale profile cache settings.
type ProfileCacheConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	TTL     time.Duration `json:"ttl" yaml:"ttl"`
}

// EnrichmentConfig toggles the per-alert market lookups.
type EnrichmentConfig struct {
	MarketContext bool          `json:"market_context" yaml:"market_context"`
	OrderBook     bool          `json:"order_book" yaml:"order_book"`
	TopHolders    int           `json:"top_holders" yaml:"top_holders"` // Holders listed per alert, 0 disables
	HolderTTL     time.Duration `json:"holder_ttl" yaml:"holder_ttl"`   // How long a market's holder list is reused
}

// StoreConfig selects and configures the durable store.
type StoreConfig struct {
	Driver        string `json:"driver" yaml:"driver"`
	DSN           string `json:"-" yaml:"dsn"` // Excluded from JSON - may contain credentials
	MaxConns      int32  `json:"max_conns" yaml:"max_conns"`
	MinConns      int32  `json:"min_conns" yaml:"min_conns"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"-" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
	RetentionDays int    `json:"retention_days" yaml:"retention_days"` // Alert history retention, 0 keeps forever
}

// PolymarketConfig holds Polymarket API settings.
type PolymarketConfig struct {
	DataAPIURL  string `json:"data_api_url" yaml:"data_api_url"`
	GammaAPIURL string `json:"gamma_api_url" yaml:"gamma_api_url"`
	ClobAPIURL  string `json:"clob_api_url" yaml:"clob_api_url"`
}

// KalshiConfig holds Kalshi API settings.
type KalshiConfig struct {
	RestURL        string `json:"rest_url" yaml:"rest_url"`
	WSURL          string `json:"ws_url" yaml:"ws_url"`
	APIKeyID       string `json:"-" yaml:"api_key_id"`
	PrivateKeyPath string `json:"-" yaml:"private_key_path"`
	UseWebSocket   bool   `json:"use_websocket" yaml:"use_websocket"`
}

// StreamConfigured reports whether the Kalshi trade stream can be opened.
func (k KalshiConfig) StreamConfigured() bool {
	return k.UseWebSocket && k.APIKeyID != "" && k.PrivateKeyPath != ""
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken      string `json:"-" yaml:"bot_token"`
	ProdChannelID string `json:"prod_channel_id" yaml:"prod_channel_id"`
	BetaChannelID string `json:"beta_channel_id" yaml:"beta_channel_id"`
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken   string `json:"-" yaml:"bot_token"`
	ProdChatID string `json:"prod_chat_id" yaml:"prod_chat_id"`
	BetaChatID string `json:"beta_chat_id" yaml:"beta_chat_id"`
	APIURL     string `json:"api_url,omitempty" yaml:"api_url"`
}

// WebhookConfig holds the generic JSON webhook sink.
type WebhookConfig struct {
	URL     string        `json:"-" yaml:"url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// KafkaConfig holds the alert topic sink.
type KafkaConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

// Enabled reports whether alerts should be published to Kafka.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

// HealthServerConfig holds health check server configuration.
type HealthServerConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Port    int  `json:"port" yaml:"port"`
}

// Clone creates a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Watch.Platforms != nil {
		clone.Watch.Platforms = make([]string, len(c.Watch.Platforms))
		copy(clone.Watch.Platforms, c.Watch.Platforms)
	}
	if c.Kafka.Brokers != nil {
		clone.Kafka.Brokers = make([]string, len(c.Kafka.Brokers))
		copy(clone.Kafka.Brokers, c.Kafka.Brokers)
	}
	return &clone
}

// ToJSON serializes the config to JSON. Secrets are excluded.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ConfigFromYAML decodes YAML over a copy of base. Environment references
// such as ${KALSHI_KEY} are expanded before decoding.
func ConfigFromYAML(data []byte, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	cfg := base.Clone()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads a YAML config file and applies it over base.
func LoadFile(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ConfigFromYAML(data, base)
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		IsProd:   false,
		LogLevel: "info",

		Watch: WatchConfig{
			Threshold:        25000,
			TickInterval:     5 * time.Second,
			QuietMultiplier:  12,
			PruneEveryTicks:  60,
			Platforms:        []string{PlatformAll},
			StreamQueueSize:  1024,
			RecentIDCapacity: 2048,
			PollLimit:        100,
			MaxOdds:          0.95,
		},

		Activity: ActivityConfig{
			RepeatWindow:   time.Hour,
			RepeatMinCount: 2,
			HeavyWindow:    24 * time.Hour,
			HeavyMinCount:  5,
			MaxEntries:     1000,
		},

		WhaleMemory: WhaleMemoryConfig{
			Horizon: 12 * time.Hour,
		},

		ProfileCache: ProfileCacheConfig{
			Enabled: true,
			TTL:     time.Hour,
		},

		Enrichment: EnrichmentConfig{
			MarketContext: true,
			OrderBook:     true,
			TopHolders:    5,
			HolderTTL:     5 * time.Minute,
		},

		Store: StoreConfig{
			Driver:        StoreDriverMemory,
			MaxConns:      4,
			MinConns:      1,
			RedisAddr:     "localhost:6379",
			RetentionDays: 30,
		},

		Polymarket: PolymarketConfig{
			DataAPIURL:  "https://data-api.polymarket.com",
			GammaAPIURL: "https://gamma-api.polymarket.com",
			ClobAPIURL:  "https://clob.polymarket.com",
		},

		Kalshi: KalshiConfig{
			RestURL:      "https://api.elections.kalshi.com/trade-api/v2",
			WSURL:        "wss://api.elections.kalshi.com/trade-api/ws/v2",
			UseWebSocket: true,
		},

		Webhook: WebhookConfig{
			Timeout: 5 * time.Second,
		},

		HealthServer: HealthServerConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// Load builds the config from environment variables (and a .env file when
// present). If WHALEWATCH_CONFIG points at a YAML file it is applied last.
func Load() (*Config, error) {
	_ = godotenv.Load()

	d := Defaults()
	cfg := &Config{
		IsProd:   envBool("STAGE", "PROD"),
		LogLevel: envString("LOG_LEVEL", d.LogLevel),

		Watch: WatchConfig{
			Threshold:        envFloat("WATCH_THRESHOLD", d.Watch.Threshold),
			TickInterval:     envDuration("WATCH_TICK_INTERVAL", d.Watch.TickInterval),
			QuietMultiplier:  envInt("WATCH_QUIET_MULTIPLIER", d.Watch.QuietMultiplier),
			PruneEveryTicks:  envInt("WATCH_PRUNE_EVERY_TICKS", d.Watch.PruneEveryTicks),
			Platforms:        envStringSliceDefault("WATCH_PLATFORMS", d.Watch.Platforms),
			StreamQueueSize:  envInt("WATCH_STREAM_QUEUE_SIZE", d.Watch.StreamQueueSize),
			RecentIDCapacity: envInt("WATCH_RECENT_ID_CAPACITY", d.Watch.RecentIDCapacity),
			PollLimit:        envInt("WATCH_POLL_LIMIT", d.Watch.PollLimit),
			MaxOdds:          envFloat("WATCH_MAX_ODDS", d.Watch.MaxOdds),
			MinSpread:        envFloat("WATCH_MIN_SPREAD", d.Watch.MinSpread),
		},

		Activity: ActivityConfig{
			RepeatWindow:   envDuration("ACTIVITY_REPEAT_WINDOW", d.Activity.RepeatWindow),
			RepeatMinCount: envInt("ACTIVITY_REPEAT_MIN_COUNT", d.Activity.RepeatMinCount),
			HeavyWindow:    envDuration("ACTIVITY_HEAVY_WINDOW", d.Activity.HeavyWindow),
			HeavyMinCount:  envInt("ACTIVITY_HEAVY_MIN_COUNT", d.Activity.HeavyMinCount),
			MaxEntries:     envInt("ACTIVITY_MAX_ENTRIES", d.Activity.MaxEntries),
		},

		WhaleMemory: WhaleMemoryConfig{
			Horizon: envDuration("WHALE_MEMORY_HORIZON", d.WhaleMemory.Horizon),
		},

		ProfileCache: ProfileCacheConfig{
			Enabled: envBoolDefault("PROFILE_CACHE_ENABLED", d.ProfileCache.Enabled),
			TTL:     envDuration("PROFILE_CACHE_TTL", d.ProfileCache.TTL),
		},

		Enrichment: EnrichmentConfig{
			MarketContext: envBoolDefault("ENRICH_MARKET_CONTEXT", d.Enrichment.MarketContext),
			OrderBook:     envBoolDefault("ENRICH_ORDER_BOOK", d.Enrichment.OrderBook),
			TopHolders:    envInt("ENRICH_TOP_HOLDERS", d.Enrichment.TopHolders),
			HolderTTL:     envDuration("ENRICH_HOLDER_TTL", d.Enrichment.HolderTTL),
		},

		Store: StoreConfig{
			Driver:        strings.ToLower(envString("STORE_DRIVER", d.Store.Driver)),
			DSN:           envString("DATABASE_URL", ""),
			MaxConns:      int32(envInt("STORE_MAX_CONNS", int(d.Store.MaxConns))),
			MinConns:      int32(envInt("STORE_MIN_CONNS", int(d.Store.MinConns))),
			RedisAddr:     envString("REDIS_ADDR", d.Store.RedisAddr),
			RedisPassword: envString("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			RetentionDays: envInt("HISTORY_RETENTION_DAYS", d.Store.RetentionDays),
		},

		Polymarket: PolymarketConfig{
			DataAPIURL:  envString("POLYMARKET_DATA_API_URL", d.Polymarket.DataAPIURL),
			GammaAPIURL: envString("POLYMARKET_GAMMA_API_URL", d.Polymarket.GammaAPIURL),
			ClobAPIURL:  envString("POLYMARKET_CLOB_API_URL", d.Polymarket.ClobAPIURL),
		},

		Kalshi: KalshiConfig{
			RestURL:        envString("KALSHI_REST_URL", d.Kalshi.RestURL),
			WSURL:          envString("KALSHI_WS_URL", d.Kalshi.WSURL),
			APIKeyID:       envString("KALSHI_API_KEY_ID", ""),
			PrivateKeyPath: envString("KALSHI_PRIVATE_KEY_PATH", ""),
			UseWebSocket:   envBoolDefault("KALSHI_USE_WEBSOCKET", d.Kalshi.UseWebSocket),
		},

		Discord: DiscordConfig{
			BotToken:      envString("DISCORD_BOT_TOKEN", ""),
			ProdChannelID: envString("DISCORD_PROD_CHANNEL_ID", ""),
			BetaChannelID: envString("DISCORD_BETA_CHANNEL_ID", ""),
		},

		Telegram: TelegramConfig{
			BotToken:   envString("TELEGRAM_BOT_KEY", ""),
			ProdChatID: envString("TELEGRAM_PROD_CHAT_ID", ""),
			BetaChatID: envString("TELEGRAM_BETA_CHAT_ID", ""),
		},

		Webhook: WebhookConfig{
			URL:     envString("WEBHOOK_URL", ""),
			Timeout: envDuration("WEBHOOK_TIMEOUT", d.Webhook.Timeout),
		},

		Kafka: KafkaConfig{
			Brokers: envStringSlice("KAFKA_BROKERS"),
			Topic:   envString("KAFKA_TOPIC", ""),
		},

		HealthServer: HealthServerConfig{
			Enabled: envBoolDefault("HEALTH_SERVER_ENABLED", d.HealthServer.Enabled),
			Port:    envInt("HEALTH_SERVER_PORT", d.HealthServer.Port),
		},
	}

	if path := envString("WHALEWATCH_CONFIG", ""); path != "" {
		fileCfg, err := LoadFile(path, cfg)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	return cfg, nil
}

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}

func envStringSlice(key string) []string {
	return envStringSliceDefault(key, nil)
}

func envStringSliceDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
