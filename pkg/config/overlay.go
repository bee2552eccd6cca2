package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// overlay mirrors the subset of Config an operator may want to override
// from a file rather than the environment. Zero-value fields leave the
// env-derived default untouched.
type overlay struct {
	Port               string  `yaml:"port"`
	StorageDriver      string  `yaml:"storage_driver"`
	PostgresDSN        string  `yaml:"postgres_dsn"`
	RedisAddr          string  `yaml:"redis_addr"`
	DecisionPolicyPath string  `yaml:"decision_policy_path"`
	LogLevel           string  `yaml:"log_level"`
	AuthEnabled        *bool   `yaml:"auth_enabled"`
	RateLimitEnabled   *bool   `yaml:"rate_limit_enabled"`
	RateLimitRPS       float64 `yaml:"rate_limit_rps"`
}

// LoadWithOverlay reads Config from the environment, then applies a YAML
// overlay file if cfg.ConfigFilePath is set. This is an optional layer on
// top of the purely env-var-driven Load for operators who want a
// checked-in config file instead of a pile of env vars.
func LoadWithOverlay() (*Config, error) {
	cfg := Load()
	if cfg.ConfigFilePath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(cfg.ConfigFilePath)
	if err != nil {
		return nil, fmt.Errorf("config: read overlay file: %w", err)
	}

	var o overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("config: parse overlay file: %w", err)
	}

	if o.Port != "" {
		cfg.Port = o.Port
	}
	if o.StorageDriver != "" {
		cfg.StorageDriver = o.StorageDriver
	}
	if o.PostgresDSN != "" {
		cfg.PostgresDSN = o.PostgresDSN
	}
	if o.RedisAddr != "" {
		cfg.RedisAddr = o.RedisAddr
	}
	if o.DecisionPolicyPath != "" {
		cfg.DecisionPolicyPath = o.DecisionPolicyPath
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.AuthEnabled != nil {
		cfg.AuthEnabled = *o.AuthEnabled
	}
	if o.RateLimitEnabled != nil {
		cfg.RateLimitEnabled = *o.RateLimitEnabled
	}
	if o.RateLimitRPS != 0 {
		cfg.RateLimitRPS = o.RateLimitRPS
	}

	return cfg, nil
}
