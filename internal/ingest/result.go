// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package ingest

import "github.com/openaurae/openaurae/internal/models"

// Domain is the topic family a message arrived on.
type Domain string

const (
	DomainZigbee     Domain = "zigbee"
	DomainAirQuality Domain = "air_quality"
	DomainUnknown    Domain = "unknown"
)

// RejectReason explains why a message produced no reading.
type RejectReason string

const (
	ReasonMalformedTopic    RejectReason = "malformed_topic"
	ReasonMalformedPayload  RejectReason = "malformed_payload"
	ReasonUnsupportedTopic  RejectReason = "unsupported_topic"
	ReasonUnsupportedSensor RejectReason = "unsupported_sensor"
	ReasonIndeterminateType RejectReason = "indeterminate_type"
	ReasonSchemaMismatch    RejectReason = "schema_mismatch"
)

// Outcome is the final disposition of one message.
type Outcome string

const (
	OutcomeAccepted    Outcome = "accepted"
	OutcomeIgnored     Outcome = "ignored"
	OutcomeRejected    Outcome = "rejected"
	OutcomeReferential Outcome = "referential"
	OutcomeStoreError  Outcome = "store_error"
)

// Result is what Normalize produces: exactly one of Accepted, Ignored or
// Rejected.
type Result interface {
	Outcome() Outcome
	Domain() Domain
}

// Accepted carries a schema-valid reading.
type Accepted struct {
	In      Domain
	Reading models.Reading
}

// Ignored is a control topic that carries no reading.
type Ignored struct {
	In     Domain
	Detail string
}

// Rejected is a message that must not be persisted.
type Rejected struct {
	In     Domain
	Reason RejectReason
	Detail string
}

func (Accepted) Outcome() Outcome { return OutcomeAccepted }
func (Ignored) Outcome() Outcome  { return OutcomeIgnored }
func (Rejected) Outcome() Outcome { return OutcomeRejected }

func (a Accepted) Domain() Domain { return a.In }
func (i Ignored) Domain() Domain  { return i.In }
func (r Rejected) Domain() Domain { return r.In }

func (r Rejected) Error() string {
	return string(r.Reason) + ": " + r.Detail
}
