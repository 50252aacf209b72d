// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package nemo

import "time"

// Device is an entry of GET /devices/.
type Device struct {
	Bid    int64  `json:"bid"`
	Serial string `json:"serial"`
	Name   string `json:"name"`
}

// DeviceDetails is GET /devices/{serial}. Timestamps are epoch seconds.
type DeviceDetails struct {
	Device
	RoomBid          *int64   `json:"roomBid,omitempty"`
	CampaignBid      int64    `json:"campaignBid"`
	FirstMeasureSet  int64    `json:"firstMeasureSet"`
	LastMeasureSet   int64    `json:"lastMeasureSet"`
	NumberMeasureSet int64    `json:"numberMeasureSet"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
}

// Room is GET /rooms/{bid}. Name is the free-text building_room label.
type Room struct {
	Bid         int64  `json:"bid"`
	Name        string `json:"name"`
	BuildingBid int64  `json:"buildingBid"`
}

// MeasureSet is a contiguous window of values recorded by one sensor.
type MeasureSet struct {
	Bid             int64  `json:"bid"`
	Start           int64  `json:"start"`
	End             int64  `json:"end"`
	VariablesNumber int64  `json:"variablesNumber"`
	ValuesNumber    int64  `json:"valuesNumber"`
	Campaign        string `json:"campaign"`
	City            string `json:"city"`
	Building        string `json:"building"`
	Room            string `json:"room"`
	Operator        string `json:"operator"`
}

// StartTime is Start in UTC.
func (m *MeasureSet) StartTime() time.Time { return time.Unix(m.Start, 0).UTC() }

// EndTime is End in UTC.
func (m *MeasureSet) EndTime() time.Time { return time.Unix(m.End, 0).UTC() }

// DeviceMeasureSets groups the measure-sets of one device.
type DeviceMeasureSets struct {
	DeviceSerialNumber string       `json:"deviceSerialNumber"`
	MeasureSets        []MeasureSet `json:"measureSets"`
}

// MeasureSetFilter narrows GET /measureSets/. Zero fields are omitted.
type MeasureSetFilter struct {
	DeviceSerial string
	Start        time.Time
	End          time.Time
}

// Sensor is the probe that recorded a measure-set.
type Sensor struct {
	Bid             int64  `json:"bid"`
	Serial          string `json:"serial"`
	ManufactureDate int64  `json:"manufactureDate"`
	FirstUsedDate   int64  `json:"firstUsedDate"`
	SensorTypeBID   int64  `json:"sensorTypeBID"`
	RefExposition   string `json:"refExposition"`
	ExposedNumber   int64  `json:"exposedNumber"`
}

// Measure is one variable within a measure-set.
type Measure struct {
	MeasureBid int64     `json:"measureBid"`
	Variable   *Variable `json:"variable"`
}

// Variable describes what a measure records.
type Variable struct {
	Structure int64  `json:"structure"`
	Source    int64  `json:"source"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Unit      string `json:"unit,omitempty"`
}

// MeasureValue is one sample. Value is nil when the device could not
// measure at that instant.
type MeasureValue struct {
	Time      int64    `json:"time"`
	Value     *float64 `json:"value,omitempty"`
	ErrorCode *int     `json:"errorCode,omitempty"`
}

// At is Time in UTC.
func (v *MeasureValue) At() time.Time { return time.Unix(v.Time, 0).UTC() }

type loginRequest struct {
	Operator string `json:"operator"`
	Password string `json:"password"`
	Company  string `json:"company"`
}

type loginResponse struct {
	SessionID string `json:"sessionId"`
}
