package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ExchangeConfig struct {
	Name         string `yaml:"name"`
	Testnet      bool   `yaml:"testnet"`
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	APIKeyEnv    string `yaml:"api_key_env"`
	APISecretEnv string `yaml:"api_secret_env"`
	RESTEndpoint string `yaml:"rest_endpoint"`
	WSEndpoint   string `yaml:"ws_endpoint"`
}

type EngineConfig struct {
	FillPollIntervalMs  int  `yaml:"fill_poll_interval_ms"`
	FillPollMaxAttempts int  `yaml:"fill_poll_max_attempts"`
	ReconnectDelayMs    int  `yaml:"reconnect_delay_ms"`
	StaleTickMs         int  `yaml:"stale_tick_ms"`
	RestoreStrategies   bool `yaml:"restore_strategies"`
}

func (e EngineConfig) FillPollInterval() time.Duration {
	return time.Duration(e.FillPollIntervalMs) * time.Millisecond
}

func (e EngineConfig) ReconnectDelay() time.Duration {
	return time.Duration(e.ReconnectDelayMs) * time.Millisecond
}

func (e EngineConfig) StaleTick() time.Duration {
	return time.Duration(e.StaleTickMs) * time.Millisecond
}

type Config struct {
	Exchanges []ExchangeConfig `yaml:"exchanges"`
	Logging   struct {
		Level     string `yaml:"level"`
		QueueSize int    `yaml:"queue_size"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Engine EngineConfig `yaml:"engine"`
}

// Load reads the YAML file at path. A .env file next to the working directory,
// when present, is loaded first so *_env credential references resolve.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	cfg.resolveCredentials()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolveCredentials() {
	for i := range c.Exchanges {
		ex := &c.Exchanges[i]
		if ex.APIKeyEnv != "" {
			if v := os.Getenv(ex.APIKeyEnv); v != "" {
				ex.APIKey = v
			}
		}
		if ex.APISecretEnv != "" {
			if v := os.Getenv(ex.APISecretEnv); v != "" {
				ex.APISecret = v
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.QueueSize <= 0 {
		c.Logging.QueueSize = 1000
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "workspace.db"
	}
	if c.Engine.FillPollIntervalMs <= 0 {
		c.Engine.FillPollIntervalMs = 2000
	}
	if c.Engine.ReconnectDelayMs <= 0 {
		c.Engine.ReconnectDelayMs = 2000
	}
	if c.Engine.StaleTickMs <= 0 {
		c.Engine.StaleTickMs = 2000
	}
}

var knownExchanges = map[string]bool{"binance": true, "bitmex": true, "bybit": true}

func (c *Config) validate() error {
	seen := make(map[string]bool)
	for _, ex := range c.Exchanges {
		if !knownExchanges[ex.Name] {
			return fmt.Errorf("unknown exchange %q", ex.Name)
		}
		if seen[ex.Name] {
			return fmt.Errorf("exchange %q configured twice", ex.Name)
		}
		seen[ex.Name] = true
	}
	if c.Engine.FillPollMaxAttempts < 0 {
		return fmt.Errorf("fill_poll_max_attempts must not be negative")
	}
	return nil
}
