// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

// Package config loads the service configuration from struct defaults, an
// optional YAML file and environment variables, in that order of precedence
// (environment wins).
package config

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"time"
)

// Config is the root configuration.
type Config struct {
	MQTT       MQTTConfig       `koanf:"mqtt"`
	Bus        BusConfig        `koanf:"bus"`
	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	Nemo       NemoConfig       `koanf:"nemo"`
	Quarantine QuarantineConfig `koanf:"quarantine"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// MQTTConfig holds the broker connection used for device telemetry.
type MQTTConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Protocol string `koanf:"protocol" validate:"oneof=mqtt mqtts tcp ssl ws wss"`
	Host     string `koanf:"host" validate:"required_if=Enabled true"`
	Port     int    `koanf:"port" validate:"gte=1,lte=65535"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	ClientID string `koanf:"client_id" validate:"required"`

	// Topics are subscribed on every (re)connect.
	Topics []string `koanf:"topics" validate:"min=1"`
	QoS    int      `koanf:"qos" validate:"gte=0,lte=2"`

	KeepAlive            time.Duration `koanf:"keep_alive"`
	ConnectTimeout       time.Duration `koanf:"connect_timeout"`
	MaxReconnectInterval time.Duration `koanf:"max_reconnect_interval"`
}

// BrokerURL returns protocol://host:port.
func (c *MQTTConfig) BrokerURL() string {
	return c.Protocol + "://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// BusConfig selects the transport between the MQTT callback and the
// ingestion dispatcher.
type BusConfig struct {
	// Mode is "memory" (in-process, strictly sequential) or "nats" (JetStream).
	Mode  string `koanf:"mode" validate:"oneof=memory nats"`
	Topic string `koanf:"topic" validate:"required"`

	NATSURL        string        `koanf:"nats_url"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	DurableName    string        `koanf:"durable_name"`
	AckWaitTimeout time.Duration `koanf:"ack_wait_timeout"`
	CloseTimeout   time.Duration `koanf:"close_timeout"`
}

// DatabaseConfig selects the ReadingStore backend.
type DatabaseConfig struct {
	Driver string `koanf:"driver" validate:"oneof=duckdb postgres"`

	// Path is the DuckDB file; ":memory:" keeps everything in RAM.
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads" validate:"gte=0"`

	Postgres PostgresConfig `koanf:"postgres"`

	MaxOpenConns int `koanf:"max_open_conns" validate:"gte=1"`
}

// PostgresConfig is used when Driver is "postgres". DSN wins over the
// individual fields.
type PostgresConfig struct {
	DSN      string `koanf:"dsn"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
	SSLMode  string `koanf:"sslmode"`
}

// ConnString returns the pgx connection string.
func (c *PostgresConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	if c.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(c.SSLMode)
	}
	return u.String()
}

// RedisConfig enables cross-instance sync locking when URL is set.
type RedisConfig struct {
	URL     string        `koanf:"url"`
	LockTTL time.Duration `koanf:"lock_ttl"`
}

// NemoAccount is one vendor deployment.
type NemoAccount struct {
	URL      string `koanf:"url" validate:"required,url"`
	Operator string `koanf:"operator" validate:"required"`
	Password string `koanf:"password" validate:"required"`
	Company  string `koanf:"company" validate:"required"`
}

// NemoConfig drives the cloud sync. An account is active when its URL is set.
type NemoConfig struct {
	Accounts map[string]NemoAccount `koanf:"accounts"`

	Interval   time.Duration `koanf:"interval"`
	RunOnStart bool          `koanf:"run_on_start"`

	RequestTimeout    time.Duration `koanf:"request_timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gt=0"`
	Burst             int           `koanf:"burst" validate:"gte=1"`

	MaxConcurrentDevices    int `koanf:"max_concurrent_devices" validate:"gte=1"`
	MaxMeasureSetsPerDevice int `koanf:"max_measure_sets_per_device" validate:"gte=1"`
}

// ActiveAccounts returns the names of accounts with a URL, sorted.
func (c *NemoConfig) ActiveAccounts() []string {
	names := make([]string, 0, len(c.Accounts))
	for name, acct := range c.Accounts {
		if acct.URL != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// QuarantineConfig controls retention of rejected messages.
type QuarantineConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Path       string        `koanf:"path"`
	InMemory   bool          `koanf:"in_memory"`
	TTL        time.Duration `koanf:"ttl"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

// ServerConfig is the operator HTTP surface.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`

	// OperatorRateLimit bounds requests per OperatorRateWindow on operator routes.
	OperatorRateLimit  int           `koanf:"operator_rate_limit" validate:"gte=1"`
	OperatorRateWindow time.Duration `koanf:"operator_rate_window"`
}

// Addr returns host:port.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

func (c *Config) String() string {
	return fmt.Sprintf("mqtt=%s bus=%s db=%s accounts=%v", c.MQTT.BrokerURL(), c.Bus.Mode, c.Database.Driver, c.Nemo.ActiveAccounts())
}
