package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sahelpay-go/internal/config"
	"sahelpay-go/pkg/operation"
)

// Config drives how the mock Gateway settles operations.
type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Auth struct {
		SecretKey string `yaml:"secret_key"`
	} `yaml:"auth"`

	Webhook struct {
		URL     string `yaml:"url"`
		Secret  string `yaml:"secret"`
		Timeout string `yaml:"timeout"`
	} `yaml:"webhook"`

	Settlement struct {
		AfterQueries  int    `yaml:"after_queries"`
		PaymentResult string `yaml:"payment_result"`
		PayoutResult  string `yaml:"payout_result"`
	} `yaml:"settlement"`
}

type ParsedConfig struct {
	Config
	WebhookTimeout time.Duration
	PaymentResult  operation.Status
	PayoutResult   operation.Status
}

func LoadConfig(path string) (*ParsedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}
	applyEnvOverrides(&cfg)
	return parseConfig(cfg)
}

// applyEnvOverrides lets a run change the port and settlement pace without
// editing the file.
func applyEnvOverrides(cfg *Config) {
	cfg.Server.Port = config.GetInt("GATEWAY_MOCK_PORT", cfg.Server.Port)
	cfg.Settlement.AfterQueries = config.GetInt("GATEWAY_MOCK_AFTER_QUERIES", cfg.Settlement.AfterQueries)
}

func parseConfig(cfg Config) (*ParsedConfig, error) {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}
	if cfg.Auth.SecretKey == "" {
		return nil, fmt.Errorf("auth.secret_key is required")
	}
	if cfg.Settlement.AfterQueries < 0 {
		return nil, fmt.Errorf("settlement.after_queries must not be negative")
	}

	timeout := 10 * time.Second
	if cfg.Webhook.Timeout != "" {
		d, err := time.ParseDuration(cfg.Webhook.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid webhook timeout: %v", err)
		}
		timeout = d
	}

	paymentResult, err := terminalOrDefault(cfg.Settlement.PaymentResult, operation.StatusSuccess)
	if err != nil {
		return nil, fmt.Errorf("invalid settlement.payment_result: %v", err)
	}
	payoutResult, err := terminalOrDefault(cfg.Settlement.PayoutResult, operation.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("invalid settlement.payout_result: %v", err)
	}

	return &ParsedConfig{
		Config:         cfg,
		WebhookTimeout: timeout,
		PaymentResult:  paymentResult,
		PayoutResult:   payoutResult,
	}, nil
}

func terminalOrDefault(s string, fallback operation.Status) (operation.Status, error) {
	if s == "" {
		return fallback, nil
	}
	status, err := operation.ParseStatus(s)
	if err != nil {
		return "", err
	}
	if !status.IsTerminal() {
		return "", fmt.Errorf("%s is not terminal", status)
	}
	return status, nil
}
