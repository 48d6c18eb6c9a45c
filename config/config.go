// Package config loads process configuration from an optional YAML file with
// CHAT_* environment overrides, e.g. CHAT_REDIS_ADDR for redis.addr.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Etcd struct {
		Endpoints []string `mapstructure:"endpoints"`
		BasePath  string   `mapstructure:"base_path"`
		// LeaseTTL is the registration lease, in seconds, of backend
		// processes announcing through registry.NewRegistrar.
		LeaseTTL  int64    `mapstructure:"lease_ttl"`
	} `mapstructure:"etcd"`

	Services struct {
		Speech  string `mapstructure:"speech"`
		File    string `mapstructure:"file"`
		User    string `mapstructure:"user"`
		Forward string `mapstructure:"forward"`
		Message string `mapstructure:"message"`
		Friend  string `mapstructure:"friend"`
	} `mapstructure:"services"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Gateway struct {
		HTTPPort      int    `mapstructure:"http_port"`
		WebsocketPort int    `mapstructure:"websocket_port"`
		SendQueue     int    `mapstructure:"send_queue"`
		Codec         string `mapstructure:"codec"`
	} `mapstructure:"gateway"`

	// Server configures a backend RPC process.
	Server struct {
		Service         string        `mapstructure:"service"`
		Instance        string        `mapstructure:"instance"`
		Listen          string        `mapstructure:"listen"`
		Advertise       string        `mapstructure:"advertise"`
		Workers         int           `mapstructure:"workers"`
		Timeout         time.Duration `mapstructure:"timeout"`
		RateLimit       float64       `mapstructure:"rate_limit"`
		Burst           int           `mapstructure:"burst"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("etcd.endpoints", []string{"http://127.0.0.1:2379"})
	v.SetDefault("etcd.base_path", "/service")
	v.SetDefault("etcd.lease_ttl", 3)

	v.SetDefault("services.speech", "speech_service")
	v.SetDefault("services.file", "file_service")
	v.SetDefault("services.user", "user_service")
	v.SetDefault("services.forward", "forward_service")
	v.SetDefault("services.message", "message_service")
	v.SetDefault("services.friend", "friend_service")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("gateway.http_port", 9000)
	v.SetDefault("gateway.websocket_port", 9001)
	v.SetDefault("gateway.send_queue", 64)
	v.SetDefault("gateway.codec", "json")

	v.SetDefault("server.service", "health_service")
	v.SetDefault("server.instance", "")
	v.SetDefault("server.listen", "127.0.0.1:0")
	v.SetDefault("server.advertise", "")
	v.SetDefault("server.workers", 0)
	v.SetDefault("server.timeout", 10*time.Second)
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.burst", 0)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// LoadConfig reads path when it is not empty. Defaults cover every key, so an
// empty path yields a runnable local configuration.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if len(c.Etcd.Endpoints) == 0 {
		return fmt.Errorf("config: etcd.endpoints is empty")
	}
	if c.Etcd.LeaseTTL <= 0 {
		return fmt.Errorf("config: etcd.lease_ttl must be positive")
	}
	if c.Server.Service == "" {
		return fmt.Errorf("config: server.service is empty")
	}
	if c.Gateway.HTTPPort == c.Gateway.WebsocketPort {
		return fmt.Errorf("config: http and websocket ports collide on %d", c.Gateway.HTTPPort)
	}
	return nil
}

// ServiceNames lists every backend service the gateway calls.
func (c *Config) ServiceNames() []string {
	s := c.Services
	return []string{s.Speech, s.File, s.User, s.Forward, s.Message, s.Friend}
}
