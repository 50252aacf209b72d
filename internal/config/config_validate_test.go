// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package config

import "testing"

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad bus mode", func(c *Config) { c.Bus.Mode = "kafka" }, true},
		{"nats external without url", func(c *Config) {
			c.Bus.Mode = "nats"
			c.Bus.EmbeddedServer = false
			c.Bus.NATSURL = ""
		}, true},
		{"nats embedded", func(c *Config) { c.Bus.Mode = "nats" }, false},
		{"duckdb without path", func(c *Config) { c.Database.Path = "" }, true},
		{"postgres from fields", func(c *Config) { c.Database.Driver = "postgres" }, false},
		{"postgres without host", func(c *Config) {
			c.Database.Driver = "postgres"
			c.Database.Postgres.Host = ""
		}, true},
		{"qos out of range", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"no topics", func(c *Config) { c.MQTT.Topics = nil }, true},
		{"mqtt enabled without host", func(c *Config) { c.MQTT.Host = "" }, true},
		{"mqtt disabled without host", func(c *Config) {
			c.MQTT.Enabled = false
			c.MQTT.Host = ""
		}, false},
		{"bad account name", func(c *Config) {
			c.Nemo.Accounts["Bad-Name"] = NemoAccount{URL: "https://x", Operator: "o", Password: "p", Company: "c"}
		}, true},
		{"inactive account ignored", func(c *Config) {
			c.Nemo.Accounts["spare"] = NemoAccount{Operator: "o"}
		}, false},
		{"quarantine without path", func(c *Config) { c.Quarantine.Path = "" }, true},
		{"quarantine in memory", func(c *Config) {
			c.Quarantine.Path = ""
			c.Quarantine.InMemory = true
		}, false},
		{"zero concurrency", func(c *Config) { c.Nemo.MaxConcurrentDevices = 0 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPostgresConnString(t *testing.T) {
	t.Parallel()

	pg := PostgresConfig{Host: "db", Port: 5432, User: "aurae", Password: "p@ss", Database: "aurae", SSLMode: "disable"}
	want := "postgres://aurae:p%40ss@db:5432/aurae?sslmode=disable"
	if got := pg.ConnString(); got != want {
		t.Errorf("ConnString = %q, want %q", got, want)
	}
}
