// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	SchedulerSecret string `mapstructure:"scheduler_secret"`
	PostgresURL     string `mapstructure:"postgres_url"`
	RedisAddr       string `mapstructure:"redis_addr"`
	ExecutorURL     string `mapstructure:"executor_url"`
	ExecutorToken   string `mapstructure:"executor_token"`
	PriceURL        string `mapstructure:"price_url"`
	DefaultCadence  int    `mapstructure:"default_cadence"`
	TickBatchSize   int    `mapstructure:"tick_batch_size"`
	BatchPauseMs    int    `mapstructure:"batch_pause_ms"`
	TickTimeoutSec  int    `mapstructure:"tick_timeout_sec"`
	PriceTTLMs      int    `mapstructure:"price_ttl_ms"`
	BoardLimit      int    `mapstructure:"board_limit"`
	DebugLogging    bool   `mapstructure:"debug_logging"`
	LogFile         string `mapstructure:"log_file"`
}

const (
	DefaultListenAddr     = ":8080"
	DefaultCadenceSec     = 60
	DefaultTickBatchSize  = 50
	DefaultBatchPauseMs   = 500
	DefaultTickTimeoutSec = 30
	DefaultPriceTTLMs     = 5000
	DefaultBoardLimit     = 100
	DefaultLogFile        = "logs/arena.log"
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"listen_addr":      DefaultListenAddr,
		"default_cadence":  DefaultCadenceSec,
		"tick_batch_size":  DefaultTickBatchSize,
		"batch_pause_ms":   DefaultBatchPauseMs,
		"tick_timeout_sec": DefaultTickTimeoutSec,
		"price_ttl_ms":     DefaultPriceTTLMs,
		"board_limit":      DefaultBoardLimit,
		"log_file":         DefaultLogFile,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if cfg.ListenAddr == "" {
		return errors.New("missing listen_addr in configuration")
	}
	if cfg.PostgresURL == "" {
		return errors.New("missing postgres_url in configuration")
	}
	if cfg.ExecutorURL != "" {
		if err := validateURL(cfg.ExecutorURL, "http"); err != nil {
			return errors.New("invalid executor URL protocol")
		}
	}
	if cfg.PriceURL != "" {
		if err := validateURL(cfg.PriceURL, "http"); err != nil {
			return errors.New("invalid price URL protocol")
		}
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.DefaultCadence <= 0 {
		return errors.New("invalid default_cadence")
	}
	if cfg.TickBatchSize <= 0 {
		return errors.New("invalid tick_batch_size")
	}
	if cfg.BatchPauseMs < 0 {
		return errors.New("invalid batch_pause_ms")
	}
	if cfg.TickTimeoutSec <= 0 {
		return errors.New("invalid tick_timeout_sec")
	}
	if cfg.PriceTTLMs <= 0 {
		return errors.New("invalid price_ttl_ms")
	}
	if cfg.BoardLimit <= 0 {
		return errors.New("invalid board_limit")
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("ARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// secrets should come from the environment, never the config file
	if s := v.GetString("SCHEDULER_SECRET"); s != "" {
		cfg.SchedulerSecret = s
	}
	if s := v.GetString("EXECUTOR_TOKEN"); s != "" {
		cfg.ExecutorToken = s
	}
	if s := v.GetString("POSTGRES_URL"); s != "" {
		cfg.PostgresURL = s
	}
	if s := v.GetString("REDIS_ADDR"); s != "" {
		cfg.RedisAddr = s
	}
	return nil
}
