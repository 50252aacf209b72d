// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

// Package schema declares the closed sensor taxonomy and the metric fields
// each sensor type may populate.
//
// The taxonomy is fixed at build time. Asking for the fields of a sensor type
// that is not part of it is a programmer error and panics; untrusted strings
// must go through ParseSensorType first.
//
//	fields := schema.FieldsFor(schema.ZigbeeTemp)
//	for _, f := range fields {
//	    fmt.Println(f.Name, f.Kind, f.Unit)
//	}
package schema

import (
	"fmt"
	"sort"
)

// SensorType identifies one member of the sensor taxonomy.
type SensorType string

// Zigbee family, fixed air-quality boxes and the cloud catch-all.
const (
	ZigbeeContact   SensorType = "zigbee_contact"
	ZigbeeTemp      SensorType = "zigbee_temp"
	ZigbeePower     SensorType = "zigbee_power"
	ZigbeeOccupancy SensorType = "zigbee_occupancy"
	ZigbeeVibration SensorType = "zigbee_vibration"
	PTQS1005        SensorType = "ptqs1005"
	PMS5003ST       SensorType = "pms5003st"
	NemoCloud       SensorType = "nemo_cloud"
)

// DeviceType is the kind of device a sensor is mounted on.
type DeviceType string

const (
	DeviceZigbee     DeviceType = "zigbee"
	DeviceAirQuality DeviceType = "air_quality"
	DeviceNemoCloud  DeviceType = "nemo_cloud"
)

// Kind is the value type of a metric field.
type Kind uint8

const (
	KindNumber Kind = iota + 1
	KindString
	KindBool
)

// String returns the lowercase name used in logs and JSON.
func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "boolean"
	default:
		return "unknown"
	}
}

// Field describes one metric a sensor type may report.
type Field struct {
	Name string
	Kind Kind
	Unit string
}

// Units shared by several fields.
const (
	unitCelsius  = "°C"
	unitHumidity = "Rh%"
	unitVolt     = "V"
	unitDegree   = "°"
	unitMicrog   = "µg/m3"
	unitMilligr  = "mg/m3"
	unitPPM      = "ppm"
)

func num(name, unit string) Field { return Field{Name: name, Kind: KindNumber, Unit: unit} }

var registry = map[SensorType][]Field{
	ZigbeeContact: {
		{Name: "contact", Kind: KindBool},
		num("voltage", unitVolt),
		num("battery", unitVolt),
	},
	ZigbeeTemp: {
		num("humidity", unitHumidity),
		num("temperature", unitCelsius),
		num("voltage", unitVolt),
		num("battery", unitVolt),
	},
	ZigbeePower: {
		num("consumption", ""),
		num("power", "W"),
		{Name: "state", Kind: KindString},
		num("temperature", unitCelsius),
		num("voltage", unitVolt),
		num("battery", unitVolt),
	},
	ZigbeeOccupancy: {
		num("illuminance", ""),
		{Name: "occupancy", Kind: KindBool},
		num("voltage", unitVolt),
		num("battery", unitVolt),
	},
	ZigbeeVibration: {
		{Name: "action", Kind: KindString},
		num("angle", unitDegree),
		num("angle_x", unitDegree),
		num("angle_x_absolute", unitDegree),
		num("angle_y", unitDegree),
		num("angle_y_absolute", unitDegree),
		num("angle_z", unitDegree),
		num("battery", unitVolt),
		num("voltage", unitVolt),
	},
	PTQS1005: {
		num("ch2o", unitMilligr),
		num("co2", unitPPM),
		num("humidity", unitHumidity),
		num("pm25", unitMicrog),
		num("temperature", unitCelsius),
		num("tvoc", unitPPM),
	},
	PMS5003ST: {
		num("cf_pm1", ""),
		num("cf_pm10", ""),
		num("cf_pm25", ""),
		num("ch2o", unitMilligr),
		num("humidity", unitHumidity),
		num("pd05", ""),
		num("pd10", ""),
		num("pd100", ""),
		num("pd100g", ""),
		num("pd25", ""),
		num("pd50", ""),
		num("pm1", unitMicrog),
		num("pm10", unitMicrog),
		num("pm25", unitMicrog),
		num("pm4", unitMicrog),
		num("pmv10", unitMicrog),
		num("pmv100", unitMicrog),
		num("pmv25", unitMicrog),
		num("pmv_total", unitMicrog),
		num("temperature", unitCelsius),
	},
	NemoCloud: {
		num("battery", unitVolt),
		num("ch2o", unitMilligr),
		num("co2", unitPPM),
		num("humidity", unitHumidity),
		num("lvocs", "ppb"),
		num("pm1", unitMicrog),
		num("pm10", unitMicrog),
		num("pm25", unitMicrog),
		num("pm4", unitMicrog),
		num("pressure", "mb"),
		num("temperature", unitCelsius),
	},
}

var deviceTypes = map[SensorType]DeviceType{
	ZigbeeContact:   DeviceZigbee,
	ZigbeeTemp:      DeviceZigbee,
	ZigbeePower:     DeviceZigbee,
	ZigbeeOccupancy: DeviceZigbee,
	ZigbeeVibration: DeviceZigbee,
	PTQS1005:        DeviceAirQuality,
	PMS5003ST:       DeviceAirQuality,
	NemoCloud:       DeviceNemoCloud,
}

// index caches field lookups by sensor type and name.
var index = func() map[SensorType]map[string]Field {
	idx := make(map[SensorType]map[string]Field, len(registry))
	for t, fields := range registry {
		byName := make(map[string]Field, len(fields))
		for _, f := range fields {
			byName[f.Name] = f
		}
		idx[t] = byName
	}
	return idx
}()

// FieldsFor returns the metric fields declared for a sensor type.
// It panics if t is not part of the taxonomy.
func FieldsFor(t SensorType) []Field {
	fields, ok := registry[t]
	if !ok {
		panic(fmt.Sprintf("schema: unknown sensor type %q", string(t)))
	}
	out := make([]Field, len(fields))
	copy(out, fields)
	return out
}

// FieldOf returns the named field of a sensor type, if declared.
// It panics if t is not part of the taxonomy.
func FieldOf(t SensorType, name string) (Field, bool) {
	byName, ok := index[t]
	if !ok {
		panic(fmt.Sprintf("schema: unknown sensor type %q", string(t)))
	}
	f, ok := byName[name]
	return f, ok
}

// DeviceTypeOf returns the device type a sensor type belongs to.
// It panics if t is not part of the taxonomy.
func DeviceTypeOf(t SensorType) DeviceType {
	dt, ok := deviceTypes[t]
	if !ok {
		panic(fmt.Sprintf("schema: unknown sensor type %q", string(t)))
	}
	return dt
}

// IsValid reports whether t is part of the taxonomy.
func (t SensorType) IsValid() bool {
	_, ok := registry[t]
	return ok
}

// ParseSensorType converts an untrusted string into a SensorType.
func ParseSensorType(s string) (SensorType, error) {
	t := SensorType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown sensor type %q", s)
	}
	return t, nil
}

// AllSensorTypes returns every sensor type in lexical order.
func AllSensorTypes() []SensorType {
	types := make([]SensorType, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
