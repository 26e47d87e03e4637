package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "FILEFLOW"

var ErrInvalidCapacity = errors.New("room_capacity must be at least 1")

type Config struct {
	APIListenAddr string        `mapstructure:"api_listen_addr"`
	WSListenAddr  string        `mapstructure:"ws_listen_addr"`
	LogLevel      string        `mapstructure:"log_level"`
	StaticDir     string        `mapstructure:"static_dir"`
	RoomCapacity  int           `mapstructure:"room_capacity"`
	PendingTTL    time.Duration `mapstructure:"pending_ttl"`
}

// Load reads the config file at path (optional, defaults apply without it)
// with FILEFLOW_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	v.SetDefault("api_listen_addr", ":8080")
	v.SetDefault("ws_listen_addr", ":8888")
	v.SetDefault("log_level", "debug")
	v.SetDefault("static_dir", "")
	v.SetDefault("room_capacity", 3)
	v.SetDefault("pending_ttl", "2m")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.RoomCapacity < 1 {
		return nil, ErrInvalidCapacity
	}
	return &cfg, nil
}
