package config

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"market-stream/internal/models"
)

// Config holds all configuration for the server
type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Market MarketConfig `mapstructure:"market"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Chat   ChatConfig   `mapstructure:"chat"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type MarketConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval"`
	VolumeInterval time.Duration `mapstructure:"volume_interval"`
	SessionLength  time.Duration `mapstructure:"session_length"`
	SessionBreak   time.Duration `mapstructure:"session_break"`
	QueueSize      int           `mapstructure:"queue_size"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	ReapInterval   time.Duration `mapstructure:"reap_interval"`
}

type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
	Users    string        `mapstructure:"users"` // JSON array of {email,password,name}
}

type ChatConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	RateLimit int           `mapstructure:"rate_limit"`
	RateWin   time.Duration `mapstructure:"rate_window"`
	Enabled   bool          `mapstructure:"enabled"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	Enabled bool     `mapstructure:"enabled"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the system environment first (if it exists) so the
	// variables below are visible to AutomaticEnv.
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("market.tick_interval", 2*time.Second)
	v.SetDefault("market.volume_interval", 15*time.Second)
	v.SetDefault("market.session_length", 6*time.Hour+30*time.Minute)
	v.SetDefault("market.session_break", 30*time.Minute)
	v.SetDefault("market.queue_size", 64)
	v.SetDefault("market.idle_timeout", 5*time.Minute)
	v.SetDefault("market.reap_interval", time.Minute)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("auth.users", "[]")

	v.SetDefault("chat.data_dir", "chats")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.rate_limit", 30)
	v.SetDefault("redis.rate_window", time.Minute)
	v.SetDefault("redis.enabled", false)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market_updates")
	v.SetDefault("kafka.enabled", false)

	// Map dot-notation keys to underscored env vars (e.g. "app.port" -> APP_PORT).
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Viper needs explicit binds to map flat env vars onto nested structs.
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "market.tick_interval", "market.volume_interval", "market.session_length",
		"market.session_break", "market.queue_size", "market.idle_timeout", "market.reap_interval")
	bindEnv(v, "auth.secret", "auth.token_ttl", "auth.users")
	bindEnv(v, "chat.data_dir")
	bindEnv(v, "redis.addr", "redis.password", "redis.db", "redis.rate_limit", "redis.rate_window", "redis.enabled")
	bindEnv(v, "kafka.brokers", "kafka.topic", "kafka.enabled")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Market.TickInterval <= 0 {
		return fmt.Errorf("market tick interval must be positive")
	}
	if c.Market.QueueSize <= 0 {
		return fmt.Errorf("market queue size must be positive")
	}
	if c.Market.SessionLength <= 0 {
		return fmt.Errorf("market session length must be positive")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth secret cannot be empty")
	}
	if c.Redis.Enabled {
		if c.Redis.RateLimit <= 0 {
			return fmt.Errorf("redis rate limit must be positive")
		}
		if c.Redis.RateWin <= 0 {
			return fmt.Errorf("redis rate window must be positive")
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty when kafka is enabled")
	}
	return nil
}

// UsersList parses the configured login roster.
func (c *Config) UsersList() ([]models.User, error) {
	var users []models.User
	if err := json.Unmarshal([]byte(c.Auth.Users), &users); err != nil {
		return nil, fmt.Errorf("invalid auth.users JSON: %v", err)
	}
	return users, nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
