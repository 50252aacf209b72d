// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package ingest

import (
	"testing"
	"time"

	"github.com/openaurae/openaurae/internal/schema"
)

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return &Normalizer{now: func() time.Time { return fixedNow }}
}

func mustAccept(t *testing.T, res Result) Accepted {
	t.Helper()
	acc, ok := res.(Accepted)
	if !ok {
		t.Fatalf("expected Accepted, got %#v", res)
	}
	return acc
}

func mustReject(t *testing.T, res Result, reason RejectReason) {
	t.Helper()
	rej, ok := res.(Rejected)
	if !ok {
		t.Fatalf("expected Rejected(%s), got %#v", reason, res)
	}
	if rej.Reason != reason {
		t.Fatalf("reason = %s, want %s (%s)", rej.Reason, reason, rej.Detail)
	}
}

func TestZigbeeTopicParsing(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer()
	payload := []byte(`{"temperature": 21.5, "humidity": 40}`)

	acc := mustAccept(t, n.Normalize("zigbee/dev1/sensor1", payload))
	if acc.Reading.DeviceID != "dev1" || acc.Reading.SensorID != "sensor1" {
		t.Errorf("ids = %s/%s", acc.Reading.DeviceID, acc.Reading.SensorID)
	}

	acc = mustAccept(t, n.Normalize("/zigbee//dev1/sensor1/availability", payload))
	if acc.Reading.SensorID != "sensor1" {
		t.Errorf("trailing segment must be ignored, got sensor %s", acc.Reading.SensorID)
	}

	if _, ok := n.Normalize("zigbee/dev1/bridge/config", []byte(`{"nested":{"a":1}}`)).(Ignored); !ok {
		t.Error("bridge topic must be ignored")
	}
	if _, ok := n.Normalize("zigbee/bridge/state", []byte(`"online"`)).(Ignored); !ok {
		t.Error("root bridge topic must be ignored")
	}

	mustReject(t, n.Normalize("zigbee/dev1", payload), ReasonMalformedTopic)
	mustReject(t, n.Normalize("zigbee", payload), ReasonMalformedTopic)
	mustReject(t, n.Normalize("zigbee/dev1/s1/a/b", payload), ReasonMalformedTopic)
	mustReject(t, n.Normalize("zigbee/dev 1/s1", payload), ReasonMalformedTopic)
	mustReject(t, n.Normalize("homeassistant/x/y", payload), ReasonUnsupportedTopic)
	mustReject(t, n.Normalize("", payload), ReasonUnsupportedTopic)
}

func TestInferenceOrder(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer()

	tests := []struct {
		payload string
		want    schema.SensorType
	}{
		{`{"power": 10, "temperature": 30, "state": "ON"}`, schema.ZigbeePower},
		{`{"temperature": 21, "contact": true}`, schema.ZigbeeTemp},
		{`{"contact": false, "occupancy": true, "battery": 3}`, schema.ZigbeeContact},
		{`{"occupancy": true, "illuminance": 30}`, schema.ZigbeeOccupancy},
		{`{"angle_x": 1, "angle_y": 2, "action": "tilt"}`, schema.ZigbeeVibration},
		{`{"TMP": 19.5}`, schema.ZigbeeTemp},
		{`{"power": null, "temperature": 20}`, schema.ZigbeeTemp},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			acc := mustAccept(t, n.Normalize("zigbee/d/s", []byte(tt.payload)))
			if acc.Reading.Type != tt.want {
				t.Errorf("type = %s, want %s", acc.Reading.Type, tt.want)
			}
		})
	}

	mustReject(t, n.Normalize("zigbee/d/s", []byte(`{"battery": 3, "linkquality": 90}`)), ReasonIndeterminateType)
}

func TestInferenceRulesTable(t *testing.T) {
	t.Parallel()

	want := []string{"power", "temperature", "contact", "occupancy", "angle_x"}
	if len(inferenceRules) != len(want) {
		t.Fatalf("expected %d rules, got %d", len(want), len(inferenceRules))
	}
	for i, rule := range inferenceRules {
		if rule.field != want[i] {
			t.Errorf("rule %d = %s, want %s", i, rule.field, want[i])
		}
		if schema.DeviceTypeOf(rule.sensorType) != schema.DeviceZigbee {
			t.Errorf("rule %d maps to non-zigbee type %s", i, rule.sensorType)
		}
	}
}

func TestOccupancyIsAccepted(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer()

	acc := mustAccept(t, n.Normalize("zigbee/d/s", []byte(`{"occupancy": true, "illuminance": 12, "linkquality": 80}`)))
	if v, ok := acc.Reading.Metrics["occupancy"].Flag(); !ok || !v {
		t.Errorf("occupancy = %v", acc.Reading.Metrics["occupancy"])
	}
}

func TestSchemaContainment(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer()

	payloads := map[string]string{
		"zigbee/d/s":     `{"power": 5, "consumption": 1.2, "linkquality": 99, "update": "idle", "Voltage": 230}`,
		"air-quality/x":  `{"sensor": "pms5003st", "device": "box1", "PM25": 12, "PMVtotal": 3, "extra": 1}`,
		"air-quality/y":  `{"sensor": "ptqs1005", "device_id": "box2", "tmp": 22, "rh": 45, "co2": 410}`,
		"zigbee/d/angle": `{"angle_x": 3, "angle_x_absolute": 87, "battery": 100, "device_temperature": 30}`,
	}

	for topic, payload := range payloads {
		acc := mustAccept(t, n.Normalize(topic, []byte(payload)))
		r := acc.Reading
		if err := r.Validate(); err != nil {
			t.Errorf("%s: %v", topic, err)
		}
		for name := range r.Metrics {
			if _, ok := schema.FieldOf(r.Type, name); !ok {
				t.Errorf("%s: undeclared field %s stored", topic, name)
			}
		}
	}
}

func TestAirQuality(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer()

	acc := mustAccept(t, n.Normalize("air-quality/lab",
		[]byte(`{"sensor": "pms5003st", "device": "aq-01", "PMVtotal": 7, "pm25": 11, "tmp": 20.5, "time": "2026-05-04T09:00:00Z"}`)))
	r := acc.Reading
	if r.Type != schema.PMS5003ST || r.DeviceID != "aq-01" || r.SensorID != "pms5003st" {
		t.Errorf("unexpected identity %s %s/%s", r.Type, r.DeviceID, r.SensorID)
	}
	if v, _ := r.Metrics["pmv_total"].Float(); v != 7 {
		t.Errorf("pmv_total = %v", v)
	}
	if v, _ := r.Metrics["temperature"].Float(); v != 20.5 {
		t.Errorf("temperature = %v", v)
	}
	if !r.Time.Equal(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("time = %v", r.Time)
	}

	acc = mustAccept(t, n.Normalize("air-quality/lab",
		[]byte(`{"sensor": "ptqs1005", "device": "aq-01", "temperature": 21, "tmp": 99, "time": 1746349200000}`)))
	if v, _ := acc.Reading.Metrics["temperature"].Float(); v != 21 {
		t.Errorf("canonical key must win over alias, got %v", v)
	}
	if acc.Reading.Time.UnixMilli() != 1746349200000 {
		t.Errorf("epoch time = %v", acc.Reading.Time)
	}

	mustReject(t, n.Normalize("air-quality/lab", []byte(`{"sensor": "sds011", "device": "aq-01", "pm25": 1}`)), ReasonUnsupportedSensor)
	mustReject(t, n.Normalize("air-quality/lab", []byte(`{"device": "aq-01", "pm25": 1}`)), ReasonUnsupportedSensor)
	mustReject(t, n.Normalize("air-quality/lab", []byte(`{"sensor": "ptqs1005", "co2": 400}`)), ReasonMalformedPayload)
}

func TestMalformedPayloads(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer()

	for _, payload := range []string{
		`not json`,
		`[1, 2]`,
		`"text"`,
		`null`,
		`{"temperature": {"value": 20}}`,
		`{"temperature": [20]}`,
		`{"temperature": 20, "time": "yesterday"}`,
		`{"temperature": 20, "time": true}`,
	} {
		mustReject(t, n.Normalize("zigbee/d/s", []byte(payload)), ReasonMalformedPayload)
	}
}

func TestSchemaMismatch(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer()

	mustReject(t, n.Normalize("zigbee/d/s", []byte(`{"contact": "open"}`)), ReasonSchemaMismatch)
	mustReject(t, n.Normalize("zigbee/d/s", []byte(`{"temperature": "21"}`)), ReasonSchemaMismatch)
	mustReject(t, n.Normalize("air-quality/x", []byte(`{"sensor": "ptqs1005", "device": "b", "linkquality": 3}`)), ReasonSchemaMismatch)
}

func TestDefaultTimestamp(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer()

	acc := mustAccept(t, n.Normalize("zigbee/d/s", []byte(`{"contact": true}`)))
	if !acc.Reading.Time.Equal(fixedNow) {
		t.Errorf("time = %v, want %v", acc.Reading.Time, fixedNow)
	}
}

func TestPayloadTime(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer()

	tests := []struct {
		name string
		time string
		want time.Time
	}{
		{"rfc3339", `"2024-05-01T10:00:00Z"`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"rfc3339 offset", `"2024-05-01T12:00:00+02:00"`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"zoneless", `"2024-05-01T10:00:00"`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"zoneless fraction", `"2024-05-01T10:00:00.250"`, time.Date(2024, 5, 1, 10, 0, 0, 250e6, time.UTC)},
		{"zoneless space", `"2024-05-01 10:00:00"`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"epoch millis", `1700000000000`, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)},
		{"epoch millis fraction", `1700000000123.9`, time.Date(2023, 11, 14, 22, 13, 20, 123e6, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := mustAccept(t, n.Normalize("zigbee/d/s", []byte(`{"contact": true, "time": `+tt.time+`}`)))
			if !acc.Reading.Time.Equal(tt.want) || acc.Reading.Time.Location() != time.UTC {
				t.Errorf("time = %v, want %v", acc.Reading.Time, tt.want)
			}
		})
	}
}

func TestPayloadTimeOutOfRange(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer()

	for _, raw := range []string{
		`1700000000`,
		`0`,
		`-5`,
		`4102444800000`,
		`"2024-05-01"`,
	} {
		mustReject(t, n.Normalize("zigbee/d/s", []byte(`{"contact": true, "time": `+raw+`}`)), ReasonMalformedPayload)
	}
}

func TestDecodePayloadCaseCollision(t *testing.T) {
	t.Parallel()

	f, err := decodePayload([]byte(`{"Temperature": 1, "temperature": 2}`))
	if err != nil {
		t.Fatal(err)
	}
	if f["temperature"] != float64(2) {
		t.Errorf("lowercase key must win, got %v", f["temperature"])
	}
}

func TestUnpairTopic(t *testing.T) {
	t.Parallel()

	if got := UnpairTopic("dev1"); got != "zigbee/dev1/bridge/config/remove" {
		t.Errorf("UnpairTopic = %q", got)
	}
	if _, ok := newTestNormalizer().Normalize(UnpairTopic("dev1"), []byte(`"s1"`)).(Ignored); !ok {
		t.Error("unpair requests echoed back by the broker must be ignored")
	}
}
