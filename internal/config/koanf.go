// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first existing file is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/openaurae/config.yaml",
	"/etc/openaurae/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Enabled:              true,
			Protocol:             "mqtt",
			Host:                 "localhost",
			Port:                 1883,
			ClientID:             "openaurae-ingest",
			Topics:               []string{"zigbee/#", "air-quality/#"},
			QoS:                  1,
			KeepAlive:            30 * time.Second,
			ConnectTimeout:       10 * time.Second,
			MaxReconnectInterval: time.Minute,
		},
		Bus: BusConfig{
			Mode:           "memory",
			Topic:          "telemetry.raw",
			NATSURL:        "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/nats",
			DurableName:    "openaurae-ingest",
			AckWaitTimeout: 30 * time.Second,
			CloseTimeout:   10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:    "duckdb",
			Path:      "/data/openaurae.duckdb",
			MaxMemory: "1GB",
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "postgres",
				Database: "openaurae",
				SSLMode:  "disable",
			},
			MaxOpenConns: 10,
		},
		Redis: RedisConfig{
			LockTTL: 2 * time.Hour,
		},
		Nemo: NemoConfig{
			Accounts:                map[string]NemoAccount{},
			Interval:                time.Hour,
			RequestTimeout:          120 * time.Second,
			RequestsPerSecond:       5,
			Burst:                   5,
			MaxConcurrentDevices:    4,
			MaxMeasureSetsPerDevice: 2,
		},
		Quarantine: QuarantineConfig{
			Enabled:    true,
			Path:       "/data/quarantine",
			TTL:        7 * 24 * time.Hour,
			GCInterval: 10 * time.Minute,
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			Timeout:            30 * time.Second,
			ShutdownTimeout:    10 * time.Second,
			CORSOrigins:        []string{"*"},
			OperatorRateLimit:  10,
			OperatorRateWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf loads defaults, then the optional YAML file, then the
// environment, and validates the result.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths are split on commas when they arrive as a single string.
var sliceConfigPaths = []string{
	"mqtt.topics",
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			continue
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings lists every recognised environment variable (lowercased).
var envMappings = map[string]string{
	"mqtt_enabled":                "mqtt.enabled",
	"mqtt_protocol":               "mqtt.protocol",
	"mqtt_host":                   "mqtt.host",
	"mqtt_port":                   "mqtt.port",
	"mqtt_username":               "mqtt.username",
	"mqtt_password":               "mqtt.password",
	"mqtt_client_id":              "mqtt.client_id",
	"mqtt_topics":                 "mqtt.topics",
	"mqtt_qos":                    "mqtt.qos",
	"mqtt_keep_alive":             "mqtt.keep_alive",
	"mqtt_connect_timeout":        "mqtt.connect_timeout",
	"mqtt_max_reconnect_interval": "mqtt.max_reconnect_interval",

	"bus_mode":           "bus.mode",
	"bus_topic":          "bus.topic",
	"nats_url":           "bus.nats_url",
	"nats_embedded":      "bus.embedded_server",
	"nats_store_dir":     "bus.store_dir",
	"nats_durable_name":  "bus.durable_name",
	"nats_ack_wait":      "bus.ack_wait_timeout",
	"nats_close_timeout": "bus.close_timeout",

	"database_driver":    "database.driver",
	"duckdb_path":        "database.path",
	"duckdb_max_memory":  "database.max_memory",
	"duckdb_threads":     "database.threads",
	"database_max_conns": "database.max_open_conns",
	"database_url":       "database.postgres.dsn",
	"db_host":            "database.postgres.host",
	"db_port":            "database.postgres.port",
	"db_user":            "database.postgres.user",
	"db_password":        "database.postgres.password",
	"db_database":        "database.postgres.database",
	"db_sslmode":         "database.postgres.sslmode",

	"redis_url":      "redis.url",
	"redis_lock_ttl": "redis.lock_ttl",

	"nemo_s5_url":         "nemo.accounts.s5.url",
	"nemo_s5_operator":    "nemo.accounts.s5.operator",
	"nemo_s5_password":    "nemo.accounts.s5.password",
	"nemo_s5_company":     "nemo.accounts.s5.company",
	"nemo_cloud_url":      "nemo.accounts.cloud.url",
	"nemo_cloud_operator": "nemo.accounts.cloud.operator",
	"nemo_cloud_password": "nemo.accounts.cloud.password",
	"nemo_cloud_company":  "nemo.accounts.cloud.company",

	"nemo_sync_interval":          "nemo.interval",
	"nemo_sync_on_start":          "nemo.run_on_start",
	"nemo_request_timeout":        "nemo.request_timeout",
	"nemo_requests_per_second":    "nemo.requests_per_second",
	"nemo_burst":                  "nemo.burst",
	"nemo_max_concurrent_devices": "nemo.max_concurrent_devices",
	"nemo_max_measure_sets":       "nemo.max_measure_sets_per_device",

	"quarantine_enabled":     "quarantine.enabled",
	"quarantine_path":        "quarantine.path",
	"quarantine_ttl":         "quarantine.ttl",
	"quarantine_gc_interval": "quarantine.gc_interval",

	"http_host":            "server.host",
	"http_port":            "server.port",
	"http_timeout":         "server.timeout",
	"cors_origins":         "server.cors_origins",
	"operator_rate_limit":  "server.operator_rate_limit",
	"operator_rate_window": "server.operator_rate_window",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an environment variable to its koanf path. Unmapped
// variables return "" and are skipped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
