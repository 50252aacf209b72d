// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package config

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/openaurae/openaurae/internal/validation"
)

var accountNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Validate runs struct tag validation followed by cross-field checks.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}
	return errors.Join(
		c.validateBus(),
		c.validateDatabase(),
		c.validateNemo(),
		c.validateQuarantine(),
		c.validateTimeouts(),
	)
}

func (c *Config) validateBus() error {
	if c.Bus.Mode != "nats" {
		return nil
	}
	if c.Bus.EmbeddedServer && c.Bus.StoreDir == "" {
		return fmt.Errorf("bus.store_dir is required for the embedded NATS server")
	}
	if !c.Bus.EmbeddedServer && c.Bus.NATSURL == "" {
		return fmt.Errorf("bus.nats_url is required when bus.mode=nats")
	}
	if c.Bus.DurableName == "" {
		return fmt.Errorf("bus.durable_name is required when bus.mode=nats")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "duckdb":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for duckdb")
		}
	case "postgres":
		pg := c.Database.Postgres
		if pg.DSN == "" && (pg.Host == "" || pg.Database == "") {
			return fmt.Errorf("database.postgres.dsn or host and database are required for postgres")
		}
	}
	return nil
}

func (c *Config) validateNemo() error {
	var errs []error
	for _, name := range c.Nemo.ActiveAccounts() {
		if !accountNamePattern.MatchString(name) {
			errs = append(errs, fmt.Errorf("nemo account name %q must match [a-z0-9_]+", name))
			continue
		}
		acct := c.Nemo.Accounts[name]
		if err := validation.ValidateStruct(&acct); err != nil {
			errs = append(errs, fmt.Errorf("nemo account %s: %w", name, err))
		}
	}
	if c.Nemo.Interval <= 0 {
		errs = append(errs, fmt.Errorf("nemo.interval must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) validateQuarantine() error {
	if !c.Quarantine.Enabled {
		return nil
	}
	if !c.Quarantine.InMemory && c.Quarantine.Path == "" {
		return fmt.Errorf("quarantine.path is required unless quarantine.in_memory is set")
	}
	if c.Quarantine.TTL <= 0 {
		return fmt.Errorf("quarantine.ttl must be positive")
	}
	return nil
}

func (c *Config) validateTimeouts() error {
	if c.Nemo.RequestTimeout <= 0 {
		return fmt.Errorf("nemo.request_timeout must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}
	return nil
}
