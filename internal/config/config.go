// Package config loads and holds the application configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Conf is the global configuration loaded from the YAML config file.
var Conf Config

// Config mirrors the structure of config.yaml.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Feeds         FeedsConfig         `mapstructure:"feeds"`
	Admin         AdminConfig         `mapstructure:"admin"`
	JWT           JWTConfig           `mapstructure:"jwt"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig groups every database connection setting.
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig holds the MySQL connection settings.
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig holds the ingestion queue settings.
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig holds the vector index backend settings.
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig holds the object storage settings for raw article snapshots.
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig holds the embedding provider settings. An empty APIKey
// switches the client to its deterministic local fallback.
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig holds the generation provider settings. Models are listed in
// preference order; the client fails over down the list.
type LLMConfig struct {
	APIKey      string              `mapstructure:"api_key"`
	BaseURL     string              `mapstructure:"base_url"`
	Models      []string            `mapstructure:"models"`
	MaxRetries  int                 `mapstructure:"max_retries"`
	BaseDelayMS int                 `mapstructure:"base_delay_ms"`
	Generation  LLMGenerationConfig `mapstructure:"generation"`
	Prompt      LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig holds optional sampling parameters.
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig overrides the built-in instruction framing.
type LLMPromptConfig struct {
	Rules string `mapstructure:"rules"`
}

// ChatConfig holds query-pipeline settings.
type ChatConfig struct {
	TopK            int `mapstructure:"top_k"`
	HistoryLimit    int `mapstructure:"history_limit"`
	SessionTTLHours int `mapstructure:"session_ttl_hours"`
	MaxMessageLen   int `mapstructure:"max_message_len"`
}

// SessionTTL returns the session TTL as a duration, defaulting to 24h.
func (c ChatConfig) SessionTTL() time.Duration {
	if c.SessionTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// FeedsConfig lists the RSS sources to ingest.
type FeedsConfig struct {
	Sources         []FeedSource `mapstructure:"sources"`
	RefreshOnStart  bool         `mapstructure:"refresh_on_start"`
	ArticlesPerFeed int          `mapstructure:"articles_per_feed"`
}

// FeedSource is a single RSS feed.
type FeedSource struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// AdminConfig holds the admin surface settings. APIKeyHash is a bcrypt hash
// of the key expected in the X-API-Key header.
type AdminConfig struct {
	APIKeyHash string `mapstructure:"api_key_hash"`
}

// JWTConfig holds the settings for signed websocket session tokens.
type JWTConfig struct {
	Secret           string `mapstructure:"secret"`
	TokenExpireHours int    `mapstructure:"token_expire_hours"`
}

// Init reads the YAML file at configPath and unmarshals it into Conf.
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("failed to read config file: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("failed to unmarshal config: %w", err))
	}
}
