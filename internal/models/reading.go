// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/openaurae/openaurae/internal/schema"
)

// Value is one typed metric value. The zero Value is invalid.
type Value struct {
	kind schema.Kind
	num  float64
	str  string
	b    bool
}

// Number returns a numeric Value.
func Number(v float64) Value { return Value{kind: schema.KindNumber, num: v} }

// String returns a string Value.
func String(v string) Value { return Value{kind: schema.KindString, str: v} }

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{kind: schema.KindBool, b: v} }

// Kind returns the value type.
func (v Value) Kind() schema.Kind { return v.kind }

// Float returns the numeric payload.
func (v Value) Float() (float64, bool) { return v.num, v.kind == schema.KindNumber }

// Text returns the string payload.
func (v Value) Text() (string, bool) { return v.str, v.kind == schema.KindString }

// Flag returns the boolean payload.
func (v Value) Flag() (bool, bool) { return v.b, v.kind == schema.KindBool }

// Interface returns the payload as float64, string or bool, suitable as a
// database/sql argument.
func (v Value) Interface() interface{} {
	switch v.kind {
	case schema.KindNumber:
		return v.num
	case schema.KindString:
		return v.str
	case schema.KindBool:
		return v.b
	default:
		return nil
	}
}

// MarshalJSON encodes the bare payload.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// Reading is a sparse record for one sensor at one instant. Metrics holds
// only fields declared for Type.
type Reading struct {
	DeviceID string            `json:"device_id"`
	SensorID string            `json:"sensor_id"`
	Type     schema.SensorType `json:"type"`
	Time     time.Time         `json:"time"`
	Metrics  map[string]Value  `json:"metrics"`
}

// Validate checks that every metric is declared for the sensor type with a
// matching kind and that at least one metric is set.
func (r *Reading) Validate() error {
	if !r.Type.IsValid() {
		return fmt.Errorf("unknown sensor type %q", string(r.Type))
	}
	if len(r.Metrics) == 0 {
		return fmt.Errorf("reading for %s/%s has no metrics", r.DeviceID, r.SensorID)
	}
	for name, v := range r.Metrics {
		f, ok := schema.FieldOf(r.Type, name)
		if !ok {
			return fmt.Errorf("field %q is not declared for %s", name, r.Type)
		}
		if f.Kind != v.Kind() {
			return fmt.Errorf("field %q of %s must be %s, got %s", name, r.Type, f.Kind, v.Kind())
		}
	}
	return nil
}

// MetricNames returns the populated metric names sorted.
func (r *Reading) MetricNames() []string {
	names := make([]string, 0, len(r.Metrics))
	for name := range r.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
