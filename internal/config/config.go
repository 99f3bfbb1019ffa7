package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	AutoMigrate           bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	StockCacheTTLSeconds  int
	UnitLockTTLSeconds    int
	KafkaBrokers          []string
	KafkaStockTopic       string
	AuthSecret            string
	AccessTokenTTLMinutes int
	BootstrapAdminUser    string
	BootstrapAdminPass    string
	LogLevel              string
	LogFormat             string
}

// Load reads configuration from the environment. When CONFIG_FILE points at
// a yaml/json/toml file its values are used as a base and environment
// variables still win.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("AUTO_MIGRATE", false)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("STOCK_CACHE_TTL_SECONDS", 30)
	v.SetDefault("UNIT_LOCK_TTL_SECONDS", 30)
	v.SetDefault("KAFKA_STOCK_TOPIC", "kitchenops.stock-movements")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("BOOTSTRAP_ADMIN_USER", "admin")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := Config{
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		AutoMigrate:           v.GetBool("AUTO_MIGRATE"),
		RedisAddr:             strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		StockCacheTTLSeconds:  positiveOr(v.GetInt("STOCK_CACHE_TTL_SECONDS"), 30),
		UnitLockTTLSeconds:    positiveOr(v.GetInt("UNIT_LOCK_TTL_SECONDS"), 30),
		KafkaBrokers:          splitList(v.GetString("KAFKA_BROKERS")),
		KafkaStockTopic:       strings.TrimSpace(v.GetString("KAFKA_STOCK_TOPIC")),
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: positiveOr(v.GetInt("ACCESS_TOKEN_TTL_MINUTES"), 480),
		BootstrapAdminUser:    strings.TrimSpace(v.GetString("BOOTSTRAP_ADMIN_USER")),
		BootstrapAdminPass:    v.GetString("BOOTSTRAP_ADMIN_PASSWORD"),
		LogLevel:              strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
		LogFormat:             strings.ToLower(strings.TrimSpace(v.GetString("LOG_FORMAT"))),
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) StockCacheTTL() time.Duration {
	return time.Duration(c.StockCacheTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) UnitLockTTL() time.Duration {
	return time.Duration(c.UnitLockTTLSeconds) * time.Second
}

func positiveOr(v int, fallback int) int {
	if v < 1 {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
