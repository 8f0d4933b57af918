package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ztkent/lux-meter/internal/i2c"
)

const (
	DefaultConfigFile = "luxmeter.toml"
)

// Config holds every runtime setting of the lux meter.
type Config struct {
	LogLevel string      `toml:"log_level"`
	LogFile  string      `toml:"log_file"`
	DBPath   string      `toml:"db_path"`
	I2C      i2c.Options `toml:"i2c"`
	HTTP     struct {
		Port     int    `toml:"port"`
		SSL      bool   `toml:"ssl"`
		CertFile string `toml:"cert_file"`
		KeyFile  string `toml:"key_file"`
	} `toml:"http"`
	Meter struct {
		Autostart      bool   `toml:"autostart"`
		RecordInterval string `toml:"record_interval"` // e.g. "30s", "0" records every reading
	} `toml:"meter"`
}

func NewConfig() *Config {
	cfg := &Config{
		LogLevel: "info",
		LogFile:  "luxmeter.log",
		DBPath:   "luxmeter.db",
	}
	cfg.I2C.Backend = i2c.BACKEND_DEVFS
	cfg.I2C.Dev = "/dev/i2c-1"
	cfg.I2C.BusNumber = 1
	cfg.HTTP.Port = 80
	cfg.HTTP.CertFile = "cert.pem"
	cfg.HTTP.KeyFile = "key.pem"
	cfg.Meter.Autostart = true
	cfg.Meter.RecordInterval = "30s"
	return cfg
}

// LoadConfig loads, in order of precedence:
// 1. environment overrides (SSL, LOG_LEVEL, I2C_BACKEND, PORT)
// 2. the file at configPath, or DefaultConfigFile if it exists
// 3. defaults
func LoadConfig(configPath string) (*Config, error) {
	cfg := NewConfig()

	filePath := configPath
	if filePath == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			filePath = DefaultConfigFile
		}
	}
	if filePath != "" {
		if _, err := toml.DecodeFile(filePath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", filePath, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if _, err := cfg.RecordInterval(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SSL"); v != "" {
		c.HTTP.SSL = v == "true"
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("I2C_BACKEND"); v != "" {
		c.I2C.Backend = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.HTTP.Port = port
	}
	return nil
}

// RecordInterval parses Meter.RecordInterval. Zero means every reading is recorded.
func (c *Config) RecordInterval() (time.Duration, error) {
	if c.Meter.RecordInterval == "" || c.Meter.RecordInterval == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Meter.RecordInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid record_interval %q: %w", c.Meter.RecordInterval, err)
	}
	return d, nil
}

func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.HTTP.Port)
}
