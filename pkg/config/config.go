package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	API     APIConfig     `mapstructure:"api"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Channel ChannelConfig `mapstructure:"channel"`
	Reveal  RevealConfig  `mapstructure:"reveal"`
	Notice  NoticeConfig  `mapstructure:"notice"`
	Session SessionConfig `mapstructure:"session"`
	Link    string        `mapstructure:"link"` // Shareable app link, may carry ?p=<project>
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	LogFile string `mapstructure:"log_file"`
	Persist bool   `mapstructure:"persist"`
	Level   string `mapstructure:"level"`
}

// APIConfig holds the backend endpoints
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	WSURL   string        `mapstructure:"ws_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AuthConfig holds the identity used against the backend
type AuthConfig struct {
	Token  string `mapstructure:"token"`
	UserID string `mapstructure:"user_id"`
}

// ChannelConfig holds push channel configuration
type ChannelConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	DialAttempts int           `mapstructure:"dial_attempts"`
	ReplyTimeout time.Duration `mapstructure:"reply_timeout"`
}

// RevealConfig controls the word-by-word reveal of assistant replies
type RevealConfig struct {
	Budget      time.Duration `mapstructure:"budget"`
	MinInterval time.Duration `mapstructure:"min_interval"`
}

// NoticeConfig controls transient user-visible notices
type NoticeConfig struct {
	DismissAfter time.Duration `mapstructure:"dismiss_after"`
}

// SessionConfig selects where the active project is remembered
type SessionConfig struct {
	Store string      `mapstructure:"store"` // file, redis or memory
	File  string      `mapstructure:"file"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings for the session record
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

var cfg *Config

// Get returns the global config instance
func Get() *Config {
	if cfg == nil {
		panic("config not initialized")
	}
	return cfg
}

// Load loads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome == "" {
			xdgConfigHome = filepath.Join(home, ".config")
		}

		viper.AddConfigPath("./.atelier")
		viper.AddConfigPath(filepath.Join(xdgConfigHome, "atelier"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings")
	}

	viper.SetEnvPrefix("atelier")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	bindEnvironmentVariables()

	// A missing settings file is fine, defaults and env cover everything.
	if err := viper.ReadInConfig(); err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(loaded); err != nil {
		return nil, err
	}

	cfg = loaded
	return cfg, nil
}

// Set replaces the global config. Intended for tests and embedding.
func Set(c *Config) {
	cfg = c
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

// setDefaults sets all default configuration values
func setDefaults() {
	viper.SetDefault("api.base_url", "http://localhost:8000/api")
	viper.SetDefault("api.ws_url", "ws://localhost:8000/ws/chat")
	viper.SetDefault("api.timeout", "60s")

	viper.SetDefault("auth.token", "")
	viper.SetDefault("auth.user_id", "")

	viper.SetDefault("channel.enabled", true)
	viper.SetDefault("channel.dial_timeout", "8s")
	viper.SetDefault("channel.dial_attempts", 2)
	viper.SetDefault("channel.reply_timeout", "90s")

	viper.SetDefault("reveal.budget", "2s")
	viper.SetDefault("reveal.min_interval", "30ms")

	viper.SetDefault("notice.dismiss_after", "4s")

	viper.SetDefault("session.store", "file")
	viper.SetDefault("session.file", "./.atelier/session.json")
	viper.SetDefault("session.redis.addr", "localhost:6379")
	viper.SetDefault("session.redis.password", "")
	viper.SetDefault("session.redis.db", 0)

	viper.SetDefault("logging.log_file", "./.atelier/system.log")
	viper.SetDefault("logging.persist", false)
	viper.SetDefault("logging.level", "info")

	viper.SetDefault("link", "")
}

// bindEnvironmentVariables binds specific environment variables to Viper keys
func bindEnvironmentVariables() {
	viper.BindEnv("auth.token", "ATELIER_TOKEN")
	viper.BindEnv("auth.user_id", "ATELIER_USER_ID")
	viper.BindEnv("api.base_url", "ATELIER_API_URL")
	viper.BindEnv("api.ws_url", "ATELIER_WS_URL")
	viper.BindEnv("session.redis.addr", "ATELIER_REDIS_ADDR")
	viper.BindEnv("session.redis.password", "ATELIER_REDIS_PASSWORD")
}

func validate(c *Config) error {
	switch c.Session.Store {
	case "file", "redis", "memory":
	default:
		return fmt.Errorf("invalid session.store %q: want file, redis or memory", c.Session.Store)
	}
	if c.Reveal.MinInterval <= 0 {
		return fmt.Errorf("invalid reveal.min_interval: must be positive")
	}
	if c.Channel.DialAttempts < 1 {
		c.Channel.DialAttempts = 1
	}
	return nil
}

// GetConfigFileUsed returns the path to the config file being used
func GetConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
