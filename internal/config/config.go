// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment
// variables. Loaded once at process start; immutable for the run.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MailboxConfig holds credentials for the service mailbox.
type MailboxConfig struct {
	BaseURL      string `yaml:"base_url"`
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	MailboxID    string `yaml:"mailbox_id"`
}

// ExtractorConfig holds the text-understanding service settings.
type ExtractorConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// Config holds all configuration for the invoicing service.
type Config struct {
	Mailbox         MailboxConfig
	ApprovedSenders []string
	Extractor       ExtractorConfig
	RendererURL     string
	SellerName      string
	DefaultCurrency string

	RedisURL    string
	DatabaseURL string
	ArchivePath string

	PollInterval time.Duration
	PollLookback time.Duration
	StageTimeout time.Duration

	// Server (health + ops endpoints)
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Mailbox         MailboxConfig   `yaml:"mailbox"`
	ApprovedSenders []string        `yaml:"approved_senders"`
	Extractor       ExtractorConfig `yaml:"extractor"`
	Renderer        struct {
		URL string `yaml:"url"`
	} `yaml:"renderer"`
	Invoice struct {
		SellerName      string `yaml:"seller_name"`
		DefaultCurrency string `yaml:"default_currency"`
	} `yaml:"invoice"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Archive struct {
		Path string `yaml:"path"`
	} `yaml:"archive"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Mailbox:         raw.Mailbox,
		Extractor:       raw.Extractor,
		RendererURL:     raw.Renderer.URL,
		SellerName:      firstNonEmpty(raw.Invoice.SellerName, envOrDefault("SELLER_NAME", "")),
		DefaultCurrency: firstNonEmpty(raw.Invoice.DefaultCurrency, "USD"),
		RedisURL:        firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		DatabaseURL:     firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "")),
		ArchivePath:     firstNonEmpty(raw.Archive.Path, envOrDefault("ARCHIVE_PATH", "/var/lib/invoicer/archive.db")),
		PollInterval:    envOrDefaultDuration("POLL_INTERVAL", 60*time.Second),
		PollLookback:    envOrDefaultDuration("POLL_LOOKBACK", 24*time.Hour),
		StageTimeout:    envOrDefaultDuration("STAGE_TIMEOUT", 30*time.Second),
		Port:            envOrDefaultInt("PORT", 8080),
	}

	if cfg.Mailbox.BaseURL == "" {
		cfg.Mailbox.BaseURL = "https://graph.microsoft.com/v1.0"
	}
	if cfg.Extractor.Model == "" {
		cfg.Extractor.Model = "gpt-4o-mini"
	}

	// Approved senders: allow-list is mandatory — an empty list would make
	// the service process nothing or, worse, a misconfigured one process
	// everything.
	for _, addr := range raw.ApprovedSenders {
		if strings.TrimSpace(addr) != "" {
			cfg.ApprovedSenders = append(cfg.ApprovedSenders, strings.TrimSpace(addr))
		}
	}
	if len(cfg.ApprovedSenders) == 0 {
		return nil, fmt.Errorf("no approved senders configured — check config.yaml")
	}

	if cfg.Mailbox.TenantID == "" || cfg.Mailbox.ClientID == "" || cfg.Mailbox.ClientSecret == "" {
		return nil, fmt.Errorf("mailbox credentials incomplete — check config.yaml and environment variables")
	}
	if cfg.Mailbox.MailboxID == "" {
		return nil, fmt.Errorf("mailbox.mailbox_id is required")
	}
	if cfg.Extractor.APIKey == "" {
		return nil, fmt.Errorf("extractor.api_key is required")
	}
	if cfg.RendererURL == "" {
		return nil, fmt.Errorf("renderer.url is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database.url is required")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
