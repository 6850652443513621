package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/showops/cueline/go/internal/changelog"
	"github.com/showops/cueline/go/internal/gateway"
	"github.com/showops/cueline/go/internal/timer"
)

// Config carries the tunables that vary per deployment. Anything zero falls
// back to the package defaults, so an empty or missing file is fine.
type Config struct {
	Gateway struct {
		ServerTimeIntervalSeconds int `yaml:"server_time_interval_seconds"`
		PingIntervalSeconds       int `yaml:"ping_interval_seconds"`
	} `yaml:"gateway"`
	Timer struct {
		ClearHoldSeconds int `yaml:"clear_hold_seconds"`
	} `yaml:"timer"`
	Changelog struct {
		QuietPeriodSeconds    int `yaml:"quiet_period_seconds"`
		StaleThresholdSeconds int `yaml:"stale_threshold_seconds"`
	} `yaml:"changelog"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

func (c *Config) gatewayConfig() gateway.Config {
	cfg := gateway.DefaultConfig()
	if v := c.Gateway.ServerTimeIntervalSeconds; v > 0 {
		cfg.ConnectionConfig.ServerTimeInterval = time.Duration(v) * time.Second
	}
	if v := c.Gateway.PingIntervalSeconds; v > 0 {
		cfg.ConnectionConfig.PingInterval = time.Duration(v) * time.Second
	}
	cfg.JetStreamConfig.URL = getEnv("NATS_URL", cfg.JetStreamConfig.URL)
	return cfg
}

func (c *Config) clearHold() time.Duration {
	if v := c.Timer.ClearHoldSeconds; v > 0 {
		return time.Duration(v) * time.Second
	}
	return timer.DefaultClearHold
}

func (c *Config) bufferConfig() changelog.BufferConfig {
	cfg := changelog.DefaultBufferConfig()
	if v := c.Changelog.QuietPeriodSeconds; v > 0 {
		cfg.QuietPeriod = time.Duration(v) * time.Second
	}
	if v := c.Changelog.StaleThresholdSeconds; v > 0 {
		cfg.StaleThreshold = time.Duration(v) * time.Second
	}
	return cfg
}
