package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	EngineURL   string `env:"ENGINE_URL,required"`

	MediaRoot    string `env:"MEDIA_ROOT" envDefault:"media"`
	MediaBaseURL string `env:"MEDIA_BASE_URL" envDefault:"/media"`

	ReconnectBaseDelaySeconds int `env:"RECONNECT_BASE_DELAY_SECONDS" envDefault:"3"`
	ReconnectMaxDelaySeconds  int `env:"RECONNECT_MAX_DELAY_SECONDS" envDefault:"300"`
	ReconnectMaxAttempts      int `env:"RECONNECT_MAX_ATTEMPTS" envDefault:"20"`

	PairingTTLSeconds int `env:"PAIRING_TTL_SECONDS" envDefault:"300"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.ReconnectBaseDelaySeconds) * time.Second
}

func (c *Config) ReconnectMaxDelay() time.Duration {
	return time.Duration(c.ReconnectMaxDelaySeconds) * time.Second
}

func (c *Config) PairingTTL() time.Duration {
	return time.Duration(c.PairingTTLSeconds) * time.Second
}

func (c *Config) Validate() error {
	if c.ReconnectBaseDelaySeconds <= 0 {
		return fmt.Errorf("RECONNECT_BASE_DELAY_SECONDS must be positive")
	}
	if c.ReconnectMaxDelaySeconds < c.ReconnectBaseDelaySeconds {
		return fmt.Errorf("RECONNECT_MAX_DELAY_SECONDS must be >= RECONNECT_BASE_DELAY_SECONDS")
	}
	if c.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must not be negative")
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
