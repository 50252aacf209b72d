// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// isolate points CONFIG_PATH at a missing file and moves into an empty
// directory so no stray config.yaml is picked up.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Chdir(t.TempDir())
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Nemo.MaxMeasureSetsPerDevice != 2 {
		t.Errorf("MaxMeasureSetsPerDevice = %d, want 2", cfg.Nemo.MaxMeasureSetsPerDevice)
	}
	if cfg.Nemo.RequestTimeout != 120*time.Second {
		t.Errorf("RequestTimeout = %v, want 120s", cfg.Nemo.RequestTimeout)
	}
	if got := cfg.MQTT.BrokerURL(); got != "mqtt://localhost:1883" {
		t.Errorf("BrokerURL = %q", got)
	}
}

func TestLoadWithKoanfDefaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf: %v", err)
	}
	if cfg.Bus.Mode != "memory" || cfg.Database.Driver != "duckdb" {
		t.Errorf("unexpected defaults: bus=%s db=%s", cfg.Bus.Mode, cfg.Database.Driver)
	}
	if len(cfg.Nemo.ActiveAccounts()) != 0 {
		t.Errorf("expected no active accounts, got %v", cfg.Nemo.ActiveAccounts())
	}
}

func TestLoadWithKoanfEnv(t *testing.T) {
	isolate(t)
	t.Setenv("MQTT_HOST", "broker.local")
	t.Setenv("MQTT_PORT", "8883")
	t.Setenv("MQTT_PROTOCOL", "mqtts")
	t.Setenv("MQTT_TOPICS", "zigbee/#, air-quality/#,extra/#")
	t.Setenv("NEMO_S5_URL", "https://s5.example.com")
	t.Setenv("NEMO_S5_OPERATOR", "op")
	t.Setenv("NEMO_S5_PASSWORD", "secret")
	t.Setenv("NEMO_S5_COMPANY", "acme")
	t.Setenv("NEMO_SYNC_INTERVAL", "30m")
	t.Setenv("NEMO_MAX_MEASURE_SETS", "5")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf: %v", err)
	}

	if got := cfg.MQTT.BrokerURL(); got != "mqtts://broker.local:8883" {
		t.Errorf("BrokerURL = %q", got)
	}
	wantTopics := []string{"zigbee/#", "air-quality/#", "extra/#"}
	if !reflect.DeepEqual(cfg.MQTT.Topics, wantTopics) {
		t.Errorf("Topics = %v, want %v", cfg.MQTT.Topics, wantTopics)
	}
	if got := cfg.Nemo.ActiveAccounts(); !reflect.DeepEqual(got, []string{"s5"}) {
		t.Errorf("ActiveAccounts = %v", got)
	}
	if acct := cfg.Nemo.Accounts["s5"]; acct.Company != "acme" || acct.Operator != "op" {
		t.Errorf("unexpected account %+v", acct)
	}
	if cfg.Nemo.Interval != 30*time.Minute {
		t.Errorf("Interval = %v", cfg.Nemo.Interval)
	}
	if cfg.Nemo.MaxMeasureSetsPerDevice != 5 {
		t.Errorf("MaxMeasureSetsPerDevice = %d", cfg.Nemo.MaxMeasureSetsPerDevice)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestLoadWithKoanfFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
database:
  driver: postgres
  postgres:
    dsn: postgres://u:p@db:5432/aurae
nemo:
  accounts:
    cloud:
      url: https://cloud.example.com
      operator: op
      password: pw
      company: co
server:
  port: 9090
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HTTP_PORT", "9191")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf: %v", err)
	}
	if cfg.Database.Postgres.ConnString() != "postgres://u:p@db:5432/aurae" {
		t.Errorf("ConnString = %q", cfg.Database.Postgres.ConnString())
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("env must override file: port = %d", cfg.Server.Port)
	}
	if got := cfg.Nemo.ActiveAccounts(); !reflect.DeepEqual(got, []string{"cloud"}) {
		t.Errorf("ActiveAccounts = %v", got)
	}
}

func TestLoadWithKoanfRejectsIncompleteAccount(t *testing.T) {
	isolate(t)
	t.Setenv("NEMO_CLOUD_URL", "https://cloud.example.com")

	_, err := LoadWithKoanf()
	if err == nil {
		t.Fatal("expected validation error for account without credentials")
	}
	if !strings.Contains(err.Error(), "nemo account cloud") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"NEMO_CLOUD_COMPANY": "nemo.accounts.cloud.company",
		"DB_HOST":            "database.postgres.host",
		"DUCKDB_PATH":        "database.path",
		"log_format":         "logging.format",
		"HOME":               "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}
