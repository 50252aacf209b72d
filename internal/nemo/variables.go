// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package nemo

// variableMetrics maps vendor variable names to nemo_cloud metric names.
var variableMetrics = map[string]string{
	"Battery":                          "battery",
	"Formaldehyde":                     "ch2o",
	"Temperature":                      "temperature",
	"Humidity":                         "humidity",
	"Pressure":                         "pressure",
	"Carbon dioxide":                   "co2",
	"Light Volatile Organic Compounds": "lvocs",
	"Particulate matter 1":             "pm1",
	"Particulate matter 2.5":           "pm25",
	"Particulate matter 4":             "pm4",
	"Particulate matter 10":            "pm10",
}

// MetricFor returns the canonical metric recorded by a measure. ok is false
// for measures without a variable or with an unrecognized name.
func MetricFor(m *Measure) (metric string, ok bool) {
	if m == nil || m.Variable == nil {
		return "", false
	}
	metric, ok = variableMetrics[m.Variable.Name]
	return metric, ok
}
