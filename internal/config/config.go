package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is built once at startup and passed explicitly to every
// component. Nothing reads viper after Load returns.
type Config struct {
	ListenAddr     string `mapstructure:"listen_addr"`
	ProxyProtocol  bool   `mapstructure:"proxy_protocol"`
	ConnBufferSize int    `mapstructure:"conn_buffer_size"`
	MaxConns       int    `mapstructure:"max_conns"`

	MaxUploadBytes  uint32 `mapstructure:"max_upload_bytes"`
	ReadTimeoutSec  int    `mapstructure:"read_timeout_sec"`
	WriteTimeoutSec int    `mapstructure:"write_timeout_sec"`

	UsernameMinLen  int  `mapstructure:"username_min_len"`
	UsernameMaxLen  int  `mapstructure:"username_max_len"`
	IDLength        int  `mapstructure:"id_length"`
	MaxQueryRows    int  `mapstructure:"max_query_rows"`
	QueryAllEnabled bool `mapstructure:"query_all_enabled"`
	UpdateNeedsID   bool `mapstructure:"update_requires_id"`

	DBPath       string `mapstructure:"db_path"`
	TableName    string `mapstructure:"table_name"`
	ResetOnStart bool   `mapstructure:"reset_on_start"`

	ReaperIntervalSec  int `mapstructure:"reaper_interval_sec"`
	StalenessWindowSec int `mapstructure:"staleness_window_sec"`

	DirectoryPath string `mapstructure:"directory_path"`
	UnknownTitle  string `mapstructure:"unknown_title"`

	MonitorAddr string `mapstructure:"monitor_addr"`
	LogLevel    string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":7777")
	v.SetDefault("proxy_protocol", false)
	v.SetDefault("conn_buffer_size", 4096)
	v.SetDefault("max_conns", 128)
	v.SetDefault("max_upload_bytes", 8192)
	v.SetDefault("read_timeout_sec", 30)
	v.SetDefault("write_timeout_sec", 10)
	v.SetDefault("username_min_len", 8)
	v.SetDefault("username_max_len", 32)
	v.SetDefault("id_length", 8)
	v.SetDefault("max_query_rows", 50)
	v.SetDefault("query_all_enabled", false)
	v.SetDefault("update_requires_id", true)
	v.SetDefault("db_path", "data/whereabouts.db")
	v.SetDefault("table_name", "tracked")
	v.SetDefault("reset_on_start", false)
	v.SetDefault("reaper_interval_sec", 60)
	v.SetDefault("staleness_window_sec", 3600)
	v.SetDefault("directory_path", "data/places.json")
	v.SetDefault("unknown_title", "unknown")
	v.SetDefault("monitor_addr", "")
	v.SetDefault("log_level", "info")
}

// Load reads an optional config file and the WHEREABOUTS_* environment
// into a Config. An empty path means defaults plus environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("whereabouts")
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.IDLength <= 0 {
		return fmt.Errorf("id_length must be positive, got %d", c.IDLength)
	}
	if c.UsernameMinLen <= 0 || c.UsernameMaxLen < c.UsernameMinLen {
		return fmt.Errorf("bad username length bounds [%d,%d]", c.UsernameMinLen, c.UsernameMaxLen)
	}
	if c.MaxQueryRows <= 0 {
		return fmt.Errorf("max_query_rows must be positive, got %d", c.MaxQueryRows)
	}
	if c.MaxUploadBytes == 0 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}
	if c.TableName == "" {
		return fmt.Errorf("table_name must not be empty")
	}
	return nil
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSec) * time.Second
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSec) * time.Second
}

func (c *Config) ReaperInterval() time.Duration {
	return time.Duration(c.ReaperIntervalSec) * time.Second
}

func (c *Config) StalenessWindow() time.Duration {
	return time.Duration(c.StalenessWindowSec) * time.Second
}
