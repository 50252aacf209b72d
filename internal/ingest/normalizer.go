// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

// Package ingest turns raw broker messages into readings and persists them.
//
// Normalizer is pure: topic and payload in, a Result out. Dispatcher owns the
// bus subscription and drives every message through Normalizer, the
// ReadingStore and the live fan-out, one message at a time.
package ingest

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/openaurae/openaurae/internal/models"
	"github.com/openaurae/openaurae/internal/schema"
	"github.com/openaurae/openaurae/internal/validation"
)

// Topic prefixes.
const (
	TopicZigbee     = "zigbee"
	TopicAirQuality = "air-quality"
)

// UnpairTopic is where zigbee2mqtt listens for sensor removal requests.
func UnpairTopic(deviceID string) string {
	return TopicZigbee + "/" + deviceID + "/bridge/config/remove"
}

// fields is a decoded flat payload: lowercase keys, values are float64,
// string or bool. Nulls are dropped while decoding.
type fields map[string]interface{}

func (f fields) has(name string) bool {
	_, ok := f[name]
	return ok
}

// inferenceRule maps the presence of a field to a zigbee sensor type.
type inferenceRule struct {
	field      string
	sensorType schema.SensorType
}

// inferenceRules is evaluated in order; the first match wins.
var inferenceRules = []inferenceRule{
	{field: "power", sensorType: schema.ZigbeePower},
	{field: "temperature", sensorType: schema.ZigbeeTemp},
	{field: "contact", sensorType: schema.ZigbeeContact},
	{field: "occupancy", sensorType: schema.ZigbeeOccupancy},
	{field: "angle_x", sensorType: schema.ZigbeeVibration},
}

func inferZigbeeType(f fields) (schema.SensorType, bool) {
	for _, rule := range inferenceRules {
		if f.has(rule.field) {
			return rule.sensorType, true
		}
	}
	return "", false
}

// Key aliases, applied after lowercasing. The canonical key wins when both
// are present.
var (
	commonAliases = map[string]string{
		"tmp": "temperature",
		"rh":  "humidity",
	}
	airQualityAliases = map[string]string{
		"device_id": "device",
	}
	pmsAliases = map[string]string{
		"pmvtotal": "pmv_total",
	}
)

// Normalizer converts broker messages to readings.
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer returns a Normalizer stamping undated readings with the
// current UTC time.
func NewNormalizer() *Normalizer {
	return &Normalizer{now: func() time.Time { return time.Now().UTC() }}
}

// Normalize parses one message. It never panics on input and never returns
// a partially populated reading.
func (n *Normalizer) Normalize(topic string, payload []byte) Result {
	segments := splitTopic(topic)
	if len(segments) == 0 {
		return Rejected{In: DomainUnknown, Reason: ReasonUnsupportedTopic, Detail: "empty topic"}
	}

	switch segments[0] {
	case TopicZigbee:
		return n.normalizeZigbee(topic, segments, payload)
	case TopicAirQuality:
		return n.normalizeAirQuality(payload)
	default:
		return Rejected{In: DomainUnknown, Reason: ReasonUnsupportedTopic, Detail: topic}
	}
}

// splitTopic splits on "/" and drops empty segments.
func splitTopic(topic string) []string {
	raw := strings.Split(topic, "/")
	out := raw[:0]
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// normalizeZigbee handles zigbee/<device>/<sensor>[/<ignored>]. The bridge
// check runs before payload decoding because bridge payloads are nested.
func (n *Normalizer) normalizeZigbee(topic string, segments []string, payload []byte) Result {
	if len(segments) < 3 {
		return Rejected{In: DomainZigbee, Reason: ReasonMalformedTopic, Detail: topic}
	}
	if segments[1] == "bridge" || segments[2] == "bridge" {
		return Ignored{In: DomainZigbee, Detail: topic}
	}
	if len(segments) > 4 {
		return Rejected{In: DomainZigbee, Reason: ReasonMalformedTopic, Detail: topic}
	}

	deviceID, sensorID := segments[1], segments[2]
	if !validation.IsEntityID(deviceID) || !validation.IsEntityID(sensorID) {
		return Rejected{In: DomainZigbee, Reason: ReasonMalformedTopic, Detail: "invalid device or sensor id in " + topic}
	}

	f, err := decodePayload(payload)
	if err != nil {
		return Rejected{In: DomainZigbee, Reason: ReasonMalformedPayload, Detail: err.Error()}
	}
	applyAliases(f, commonAliases)

	sensorType, ok := inferZigbeeType(f)
	if !ok {
		return Rejected{In: DomainZigbee, Reason: ReasonIndeterminateType, Detail: "no power, temperature, contact, occupancy or angle_x field"}
	}

	return n.assemble(DomainZigbee, deviceID, sensorID, sensorType, f)
}

// normalizeAirQuality handles air-quality/#; identity comes from the payload.
func (n *Normalizer) normalizeAirQuality(payload []byte) Result {
	f, err := decodePayload(payload)
	if err != nil {
		return Rejected{In: DomainAirQuality, Reason: ReasonMalformedPayload, Detail: err.Error()}
	}
	applyAliases(f, commonAliases)
	applyAliases(f, airQualityAliases)

	raw, _ := f["sensor"].(string)
	sensorType := schema.SensorType(strings.ToLower(raw))
	switch sensorType {
	case schema.PMS5003ST:
		applyAliases(f, pmsAliases)
	case schema.PTQS1005:
	default:
		return Rejected{In: DomainAirQuality, Reason: ReasonUnsupportedSensor, Detail: fmt.Sprintf("sensor %v", f["sensor"])}
	}

	deviceID, _ := f["device"].(string)
	if !validation.IsEntityID(deviceID) {
		return Rejected{In: DomainAirQuality, Reason: ReasonMalformedPayload, Detail: fmt.Sprintf("invalid device %v", f["device"])}
	}

	return n.assemble(DomainAirQuality, deviceID, string(sensorType), sensorType, f)
}

// assemble validates f against the declared fields of sensorType and
// builds the reading. Undeclared keys are dropped.
func (n *Normalizer) assemble(domain Domain, deviceID, sensorID string, sensorType schema.SensorType, f fields) Result {
	ts, err := n.readingTime(f)
	if err != nil {
		return Rejected{In: domain, Reason: ReasonMalformedPayload, Detail: err.Error()}
	}

	metrics := make(map[string]models.Value)
	for _, field := range schema.FieldsFor(sensorType) {
		raw, ok := f[field.Name]
		if !ok {
			continue
		}
		v, ok := toValue(field.Kind, raw)
		if !ok {
			return Rejected{
				In:     domain,
				Reason: ReasonSchemaMismatch,
				Detail: fmt.Sprintf("%s.%s must be %s, got %T", sensorType, field.Name, field.Kind, raw),
			}
		}
		metrics[field.Name] = v
	}
	if len(metrics) == 0 {
		return Rejected{In: domain, Reason: ReasonSchemaMismatch, Detail: fmt.Sprintf("no %s metrics in payload", sensorType)}
	}

	return Accepted{In: domain, Reading: models.Reading{
		DeviceID: deviceID,
		SensorID: sensorID,
		Type:     sensorType,
		Time:     ts,
		Metrics:  metrics,
	}}
}

// Bounds for a numeric "time" in epoch milliseconds: 2000-01-01 to 2100-01-01.
const (
	minEpochMillis = 946684800000
	maxEpochMillis = 4102444800000
)

// zonelessLayouts are ISO 8601 forms without an offset, read as UTC.
var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// readingTime reads the optional "time" key: RFC 3339 text, zoneless ISO
// text taken as UTC, or epoch milliseconds.
func (n *Normalizer) readingTime(f fields) (time.Time, error) {
	raw, ok := f["time"]
	if !ok {
		return n.now(), nil
	}
	switch v := raw.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC(), nil
		}
		for _, layout := range zonelessLayouts {
			if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid time %q", v)
	case float64:
		if math.IsInf(v, 0) || math.IsNaN(v) || v < minEpochMillis || v >= maxEpochMillis {
			return time.Time{}, fmt.Errorf("time %v is not epoch milliseconds", v)
		}
		return time.UnixMilli(int64(v)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("invalid time of type %T", raw)
	}
}

func toValue(kind schema.Kind, raw interface{}) (models.Value, bool) {
	switch kind {
	case schema.KindNumber:
		if v, ok := raw.(float64); ok {
			return models.Number(v), true
		}
	case schema.KindString:
		if v, ok := raw.(string); ok {
			return models.String(v), true
		}
	case schema.KindBool:
		if v, ok := raw.(bool); ok {
			return models.Bool(v), true
		}
	}
	return models.Value{}, false
}

// decodePayload accepts only a flat JSON object. Keys are lowercased; when
// two keys collide the one already in lowercase wins.
func decodePayload(payload []byte) (fields, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("payload is not a JSON object")
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(fields, len(raw))
	for _, k := range keys {
		v := raw[k]
		switch v.(type) {
		case nil:
			continue
		case string, float64, bool:
		default:
			return nil, fmt.Errorf("field %q holds a nested %T", k, v)
		}
		lower := strings.ToLower(k)
		if _, taken := out[lower]; taken && k != lower {
			continue
		}
		out[lower] = v
	}
	return out, nil
}

func applyAliases(f fields, aliases map[string]string) {
	for alias, canonical := range aliases {
		v, ok := f[alias]
		if !ok {
			continue
		}
		delete(f, alias)
		if !f.has(canonical) {
			f[canonical] = v
		}
	}
}
