// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package nemo

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/openaurae/openaurae/internal/logging"
	"github.com/openaurae/openaurae/internal/metrics"
)

// CircuitBreakerClient wraps a Session with a per-account circuit breaker.
// Once open, calls fail fast with gobreaker.ErrOpenState and the sync skips
// the affected devices until the breaker half-opens.
//
// Absent objects and canceled contexts count as successes.
type CircuitBreakerClient struct {
	session Session
	cb      *gobreaker.CircuitBreaker[interface{}]
	name    string
}

var _ Session = (*CircuitBreakerClient)(nil)

// BreakerSettings tunes the breaker; zero values use the defaults.
type BreakerSettings struct {
	MinRequests  uint32
	FailureRatio float64
	Interval     time.Duration
	Timeout      time.Duration
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.MinRequests == 0 {
		s.MinRequests = 10
	}
	if s.FailureRatio <= 0 {
		s.FailureRatio = 0.6
	}
	if s.Interval <= 0 {
		s.Interval = time.Minute
	}
	if s.Timeout <= 0 {
		s.Timeout = 2 * time.Minute
	}
	return s
}

// NewCircuitBreakerClient wraps session. Opens after FailureRatio failures
// over at least MinRequests requests.
func NewCircuitBreakerClient(account string, session Session, settings BreakerSettings) *CircuitBreakerClient {
	settings = settings.withDefaults()
	cbName := "nemo-" + account

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= settings.FailureRatio
			if shouldTrip {
				logging.Warn().Str("breaker", cbName).Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})

	return &CircuitBreakerClient{
		session: session,
		cb:      cb,
		name:    cbName,
	}
}

// State exposes the breaker state.
func (cbc *CircuitBreakerClient) State() gobreaker.State {
	return cbc.cb.State()
}

func (cbc *CircuitBreakerClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := cbc.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "rejected").Inc()
			logging.Warn().Err(err).Str("breaker", cbc.name).Msg("[CIRCUIT BREAKER] Request rejected")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "failure").Inc()
			counts := cbc.cb.Counts()
			metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbc.name).Set(float64(counts.ConsecutiveFailures))
		}
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "success").Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cbc.name).Set(0)
	return result, nil
}

// castResult type-asserts a breaker result. A nil result yields the zero T.
func castResult[T any](result interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Login opens a session with circuit breaker protection.
func (cbc *CircuitBreakerClient) Login(ctx context.Context) error {
	_, err := cbc.execute(func() (interface{}, error) {
		return nil, cbc.session.Login(ctx)
	})
	return err
}

// ListDevices lists devices with circuit breaker protection.
func (cbc *CircuitBreakerClient) ListDevices(ctx context.Context) ([]Device, error) {
	return castResult[[]Device](cbc.execute(func() (interface{}, error) {
		return cbc.session.ListDevices(ctx)
	}))
}

// DeviceDetails fetches device details with circuit breaker protection.
func (cbc *CircuitBreakerClient) DeviceDetails(ctx context.Context, serial string) (*DeviceDetails, error) {
	return castResult[*DeviceDetails](cbc.execute(func() (interface{}, error) {
		return cbc.session.DeviceDetails(ctx, serial)
	}))
}

// RoomInfo fetches a room with circuit breaker protection.
func (cbc *CircuitBreakerClient) RoomInfo(ctx context.Context, roomBid int64) (*Room, error) {
	return castResult[*Room](cbc.execute(func() (interface{}, error) {
		return cbc.session.RoomInfo(ctx, roomBid)
	}))
}

// MeasureSets queries measure-sets with circuit breaker protection.
func (cbc *CircuitBreakerClient) MeasureSets(ctx context.Context, filter MeasureSetFilter) ([]DeviceMeasureSets, error) {
	return castResult[[]DeviceMeasureSets](cbc.execute(func() (interface{}, error) {
		return cbc.session.MeasureSets(ctx, filter)
	}))
}

// DeviceMeasureSets goes through MeasureSets, so it is protected once.
func (cbc *CircuitBreakerClient) DeviceMeasureSets(ctx context.Context, serial string) ([]MeasureSet, error) {
	return deviceMeasureSets(ctx, cbc, serial)
}

// MeasureSetSensor fetches a measure-set sensor with circuit breaker protection.
func (cbc *CircuitBreakerClient) MeasureSetSensor(ctx context.Context, measureSetBid int64) (*Sensor, error) {
	return castResult[*Sensor](cbc.execute(func() (interface{}, error) {
		return cbc.session.MeasureSetSensor(ctx, measureSetBid)
	}))
}

// Measures lists measures with circuit breaker protection.
func (cbc *CircuitBreakerClient) Measures(ctx context.Context, measureSetBid int64) ([]Measure, error) {
	return castResult[[]Measure](cbc.execute(func() (interface{}, error) {
		return cbc.session.Measures(ctx, measureSetBid)
	}))
}

// MeasureValues lists values with circuit breaker protection.
func (cbc *CircuitBreakerClient) MeasureValues(ctx context.Context, measureBid int64) ([]MeasureValue, error) {
	return castResult[[]MeasureValue](cbc.execute(func() (interface{}, error) {
		return cbc.session.MeasureValues(ctx, measureBid)
	}))
}
