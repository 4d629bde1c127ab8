// Package config configuración del daemon en YAML.
package config

import (
	"encoding/hex"
	"os"
	"time"

	"github.com/go-faster/errors"
	"gopkg.in/yaml.v2"

	"github.com/facturacr/go-facturador/facturador"
)

type Config struct {
	Environment facturador.Environment `yaml:"environment"`
	Database    DatabaseConfig         `yaml:"database"`
	Webhook     WebhookConfig          `yaml:"webhook"`
	Contingency ContingencyConfig      `yaml:"contingency"`

	// llave maestra AES-256 para secretos en reposo, en hex
	MasterKey string `yaml:"master_key"`

	// endpoint de métricas Prometheus; vacío lo deshabilita
	MetricsAddr string `yaml:"metrics_addr"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type WebhookConfig struct {
	URL string `yaml:"url"`
}

type ContingencyConfig struct {
	Interval  string `yaml:"interval"`
	BatchSize int    `yaml:"batch_size"`
}

// IntervalDuration intervalo de drenado; por defecto un minuto.
func (c ContingencyConfig) IntervalDuration() (time.Duration, error) {
	if c.Interval == "" {
		return time.Minute, nil
	}
	d, err := time.ParseDuration(c.Interval)
	if err != nil {
		return 0, errors.Wrap(err, "parse contingency.interval")
	}
	return d, nil
}

// Load lee y valida la configuración.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	cfg := &Config{
		Contingency: ContingencyConfig{BatchSize: 50},
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if _, err := cfg.MasterKeyBytes(); err != nil {
		return nil, err
	}
	if _, err := cfg.Contingency.IntervalDuration(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MasterKeyBytes decodifica la llave maestra.
func (c *Config) MasterKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(c.MasterKey)
	if err != nil {
		return nil, errors.Wrap(err, "decode master_key")
	}
	if len(key) != 32 {
		return nil, errors.Errorf("master_key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}
