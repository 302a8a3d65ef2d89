// Package config loads retrouci settings with Viper.
//
// Sources, highest priority first:
//  1. Command-line flags
//  2. Environment variables (REDIS_URL, DATABASE_URL, RETROUCI_*, LOG_FILE)
//  3. Config file (--config, or ~/.config/retrouci/config.yaml)
//  4. Built-in defaults
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultProfile         = "grandmaster"
	DefaultListenAddr      = "127.0.0.1:7400"
	DefaultShutdownTimeout = 5 * time.Second
	DefaultInfoInterval    = time.Second
)

type AppConfig struct {
	Profile      string
	ProfilesFile string

	RedisURL    string
	DatabaseURL string

	ListenAddr   string
	PoolCapacity int
	AgentToken   string

	WatchInterval   time.Duration
	InfoInterval    time.Duration
	ShutdownTimeout time.Duration

	LogFile string
}

// setting ties a viper key to its environment variable and flag.
type setting struct {
	key  string
	env  string
	flag string
}

var settings = []setting{
	{key: "profile", env: "RETROUCI_PROFILE", flag: "profile"},
	{key: "profiles_file", env: "RETROUCI_PROFILES", flag: "profiles"},
	{key: "redis_url", env: "REDIS_URL", flag: "redis-url"},
	{key: "database_url", env: "DATABASE_URL", flag: "database-url"},
	{key: "listen", env: "RETROUCI_LISTEN", flag: "listen"},
	{key: "pool_capacity", env: "RETROUCI_POOL_CAPACITY", flag: "pool-capacity"},
	{key: "agent_token", env: "RETROUCI_AGENT_TOKEN"},
	{key: "watch_interval", env: "RETROUCI_WATCH_INTERVAL", flag: "watch-interval"},
	{key: "info_interval", env: "RETROUCI_INFO_INTERVAL"},
	{key: "shutdown_timeout", env: "RETROUCI_SHUTDOWN_TIMEOUT"},
	{key: "log_file", env: "LOG_FILE", flag: "log"},
}

// RegisterFlags declares the flags Load understands. --game is an alias of --profile.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("profile", "g", "", "target profile (see `retrouci targets`)")
	fs.String("game", "", "alias of --profile")
	fs.String("profiles", "", "profile override file (YAML)")
	fs.String("config", "", "config file (default ~/.config/retrouci/config.yaml)")
	fs.String("redis-url", "", "Redis URL for the session journal; empty disables it")
	fs.String("database-url", "", "Postgres URL for the game archive; empty disables it")
	fs.String("listen", "", "websocket listen address for serve")
	fs.Int("pool-capacity", 0, "targets per profile when the profile does not fix it")
	fs.Duration("watch-interval", 0, "poll for unrequested program moves while observing; 0 disables")
	fs.StringP("log", "l", "", "log file")
}

// Load merges defaults, the config file, the environment and fs. fs may be nil.
func Load(fs *pflag.FlagSet) (*AppConfig, error) {
	v := viper.New()
	v.SetDefault("profile", DefaultProfile)
	v.SetDefault("listen", DefaultListenAddr)
	v.SetDefault("info_interval", DefaultInfoInterval)
	v.SetDefault("shutdown_timeout", DefaultShutdownTimeout)

	for _, s := range settings {
		if err := v.BindEnv(s.key, s.env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", s.env, err)
		}
		if fs == nil || s.flag == "" {
			continue
		}
		if f := fs.Lookup(s.flag); f != nil {
			if err := v.BindPFlag(s.key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", s.flag, err)
			}
		}
	}
	if fs != nil {
		if f := fs.Lookup("game"); f != nil && f.Changed && !flagChanged(fs, "profile") {
			v.Set("profile", f.Value.String())
		}
	}

	if err := readConfigFile(v, fs); err != nil {
		return nil, err
	}

	cfg := &AppConfig{
		Profile:         strings.TrimSpace(v.GetString("profile")),
		ProfilesFile:    strings.TrimSpace(v.GetString("profiles_file")),
		RedisURL:        strings.TrimSpace(v.GetString("redis_url")),
		DatabaseURL:     strings.TrimSpace(v.GetString("database_url")),
		ListenAddr:      strings.TrimSpace(v.GetString("listen")),
		PoolCapacity:    v.GetInt("pool_capacity"),
		AgentToken:      strings.TrimSpace(v.GetString("agent_token")),
		WatchInterval:   v.GetDuration("watch_interval"),
		InfoInterval:    v.GetDuration("info_interval"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		LogFile:         strings.TrimSpace(v.GetString("log_file")),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet) error {
	explicit := strings.TrimSpace(os.Getenv("RETROUCI_CONFIG"))
	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Changed {
			explicit = strings.TrimSpace(f.Value.String())
		}
	}
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", explicit, err)
		}
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	v.AddConfigPath(filepath.Join(home, ".config", "retrouci"))
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func flagChanged(fs *pflag.FlagSet, name string) bool {
	f := fs.Lookup(name)
	return f != nil && f.Changed
}

func (c *AppConfig) Validate() error {
	if c.Profile == "" {
		return errors.New("profile is required")
	}
	if c.PoolCapacity < 0 {
		return fmt.Errorf("pool capacity must be >= 0: %d", c.PoolCapacity)
	}
	if c.WatchInterval < 0 || c.InfoInterval < 0 || c.ShutdownTimeout < 0 {
		return errors.New("intervals must not be negative")
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return nil
}
