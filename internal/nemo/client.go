// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

/*
client.go - Nemo Cloud AirQualityAPI client

A session is opened with POST /session/login and its id is sent with every
later request together with Accept-version: v4. The vendor server drops
sessions when it restarts, so a 401 triggers one re-login and a single retry
of the failed call.

Login always sends the same digest Authorization header. It is the example
value from the vendor documentation; a correctly computed digest is refused
by the server.
*/

package nemo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/openaurae/openaurae/internal/config"
	"github.com/openaurae/openaurae/internal/logging"
	"github.com/openaurae/openaurae/internal/metrics"
)

const (
	apiPrefix  = "/AirQualityAPI"
	apiVersion = "v4"

	loginAuthorization = "Digest username=Test,realm=Authorized users of etheraApi," +
		"nonce=33e4dbaf2b2fd2c78769b436ffbe9d05,uri=/AirQualityAPI/session/login," +
		"response=b9e580f4f3b9d8ffd9205f58f5e18ee8,opaque=f8333b33f212bae4ba905cea2b4819e6"

	defaultRequestTimeout = 120 * time.Second
	maxErrorBody          = 512
)

var (
	// ErrUnauthorized is returned when the server rejects a fresh session.
	ErrUnauthorized = errors.New("nemo: unauthorized")
)

// StatusError is an unexpected HTTP status.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("nemo %s returned status %d", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("nemo %s returned status %d: %s", e.Endpoint, e.Code, e.Body)
}

// IsNotFound reports whether err is a 404 from the vendor API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Session is the vendor API surface used by the sync. Single-object lookups
// return nil without error when the vendor reports the object absent.
type Session interface {
	Login(ctx context.Context) error
	ListDevices(ctx context.Context) ([]Device, error)
	DeviceDetails(ctx context.Context, serial string) (*DeviceDetails, error)
	RoomInfo(ctx context.Context, roomBid int64) (*Room, error)
	MeasureSets(ctx context.Context, filter MeasureSetFilter) ([]DeviceMeasureSets, error)
	DeviceMeasureSets(ctx context.Context, serial string) ([]MeasureSet, error)
	MeasureSetSensor(ctx context.Context, measureSetBid int64) (*Sensor, error)
	Measures(ctx context.Context, measureSetBid int64) ([]Measure, error)
	MeasureValues(ctx context.Context, measureBid int64) ([]MeasureValue, error)
}

var _ Session = (*Client)(nil)

// ClientOptions tunes transport behavior.
type ClientOptions struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// OptionsFromConfig extracts ClientOptions from the sync configuration.
func OptionsFromConfig(cfg *config.NemoConfig) ClientOptions {
	return ClientOptions{
		Timeout:           cfg.RequestTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}
}

// Client talks to one vendor account. It is safe for concurrent use; all
// goroutines share one session.
type Client struct {
	account    string
	baseURL    string
	creds      loginRequest
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger

	mu        sync.RWMutex
	sessionID string

	// logins collapses concurrent logins that replace the same session.
	logins singleflight.Group
}

// NewClient creates a client for the named account. No request is made.
func NewClient(name string, acct config.NemoAccount, opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		account: name,
		baseURL: strings.TrimSuffix(acct.URL, "/") + apiPrefix,
		creds: loginRequest{
			Operator: acct.Operator,
			Password: acct.Password,
			Company:  acct.Company,
		},
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logging.WithComponent("nemo").With().Str("account", name).Logger(),
	}
}

// Account is the configured account name.
func (c *Client) Account() string {
	return c.account
}

// Login opens a new session, replacing any previous one.
func (c *Client) Login(ctx context.Context) error {
	_, err := c.login(ctx)
	return err
}

func (c *Client) login(ctx context.Context) (string, error) {
	body, err := json.Marshal(c.creds)
	if err != nil {
		return "", fmt.Errorf("encode login request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", loginAuthorization)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordNemoRequest(c.account, "login", "error", time.Since(start))
		return "", fmt.Errorf("nemo login request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.RecordNemoRequest(c.account, "login", strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return "", statusError("login", resp)
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("nemo login returned no session id")
	}

	c.mu.Lock()
	c.sessionID = out.SessionID
	c.mu.Unlock()

	c.logger.Debug().Msg("nemo session opened")
	return out.SessionID, nil
}

func (c *Client) session(ctx context.Context) (string, error) {
	c.mu.RLock()
	id := c.sessionID
	c.mu.RUnlock()
	if id != "" {
		return id, nil
	}
	return c.relogin(ctx, "")
}

// relogin replaces stale unless another goroutine already did. Callers
// holding the same stale id share one login, bounded by the request timeout
// rather than by the first caller's context.
func (c *Client) relogin(ctx context.Context, stale string) (string, error) {
	v, err, _ := c.logins.Do(stale, func() (interface{}, error) {
		c.mu.RLock()
		current := c.sessionID
		c.mu.RUnlock()
		if current != "" && current != stale {
			return current, nil
		}
		if stale != "" {
			metrics.NemoRelogins.WithLabelValues(c.account).Inc()
			c.logger.Info().Msg("nemo session expired, logging in again")
		}
		loginCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.httpClient.Timeout)
		defer cancel()
		return c.login(loginCtx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// get issues a GET and decodes a 200 body into out. It returns false for 204.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out interface{}) (bool, error) {
	sessionID, err := c.session(ctx)
	if err != nil {
		return false, err
	}

	resp, err := c.do(ctx, endpoint, path, query, sessionID)
	if err != nil {
		return false, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		_ = resp.Body.Close()
		if sessionID, err = c.relogin(ctx, sessionID); err != nil {
			return false, err
		}
		if resp, err = c.do(ctx, endpoint, path, query, sessionID); err != nil {
			return false, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			_ = resp.Body.Close()
			return false, fmt.Errorf("%s: %w", endpoint, ErrUnauthorized)
		}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			return false, fmt.Errorf("failed to decode nemo %s: %w", endpoint, err)
		}
		return true, nil
	case http.StatusNoContent:
		return false, nil
	default:
		return false, statusError(endpoint, resp)
	}
}

func (c *Client) do(ctx context.Context, endpoint, path string, query url.Values, sessionID string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-version", apiVersion)
	req.Header.Set("sessionId", sessionID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordNemoRequest(c.account, endpoint, "error", time.Since(start))
		return nil, fmt.Errorf("nemo %s request failed: %w", endpoint, err)
	}
	metrics.RecordNemoRequest(c.account, endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))
	return resp, nil
}

func statusError(endpoint string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// ListDevices returns every device visible to the operator.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var devices []Device
	if _, err := c.get(ctx, "devices", "/devices/", nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// DeviceDetails returns nil when the device is unknown upstream.
func (c *Client) DeviceDetails(ctx context.Context, serial string) (*DeviceDetails, error) {
	var d DeviceDetails
	found, err := c.get(ctx, "device", "/devices/"+url.PathEscape(serial), nil, &d)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil || !found {
		return nil, err
	}
	return &d, nil
}

// RoomInfo returns nil when the room is absent.
func (c *Client) RoomInfo(ctx context.Context, roomBid int64) (*Room, error) {
	var r Room
	found, err := c.get(ctx, "room", "/rooms/"+strconv.FormatInt(roomBid, 10), nil, &r)
	if err != nil || !found {
		return nil, err
	}
	return &r, nil
}

// MeasureSets queries measure-sets grouped by device.
func (c *Client) MeasureSets(ctx context.Context, filter MeasureSetFilter) ([]DeviceMeasureSets, error) {
	query := url.Values{}
	if filter.DeviceSerial != "" {
		query.Set("deviceSerialNumber", filter.DeviceSerial)
	}
	if !filter.Start.IsZero() {
		query.Set("start", strconv.FormatInt(filter.Start.Unix(), 10))
	}
	if !filter.End.IsZero() {
		query.Set("end", strconv.FormatInt(filter.End.Unix(), 10))
	}

	var sets []DeviceMeasureSets
	if _, err := c.get(ctx, "measure_sets", "/measureSets/", query, &sets); err != nil {
		return nil, err
	}
	return sets, nil
}

// DeviceMeasureSets returns every measure-set of one device.
func (c *Client) DeviceMeasureSets(ctx context.Context, serial string) ([]MeasureSet, error) {
	return deviceMeasureSets(ctx, c, serial)
}

func deviceMeasureSets(ctx context.Context, s Session, serial string) ([]MeasureSet, error) {
	lists, err := s.MeasureSets(ctx, MeasureSetFilter{DeviceSerial: serial})
	if err != nil {
		return nil, err
	}
	for _, l := range lists {
		if l.DeviceSerialNumber == serial {
			return l.MeasureSets, nil
		}
	}
	if len(lists) == 1 && lists[0].DeviceSerialNumber == "" {
		return lists[0].MeasureSets, nil
	}
	if len(lists) > 0 {
		logging.Warn().Str("device_serial", serial).Int("lists", len(lists)).
			Msg("measure-sets returned for other devices only, ignoring them")
	}
	return nil, nil
}

// MeasureSetSensor returns the sensor of a measure-set, nil when absent.
func (c *Client) MeasureSetSensor(ctx context.Context, measureSetBid int64) (*Sensor, error) {
	var s Sensor
	path := "/measureSets/" + strconv.FormatInt(measureSetBid, 10) + "/sensors"
	found, err := c.get(ctx, "measure_set_sensor", path, nil, &s)
	if err != nil || !found {
		return nil, err
	}
	return &s, nil
}

// Measures lists the variables recorded in a measure-set.
func (c *Client) Measures(ctx context.Context, measureSetBid int64) ([]Measure, error) {
	var measures []Measure
	path := "/measureSets/" + strconv.FormatInt(measureSetBid, 10) + "/measures"
	if _, err := c.get(ctx, "measures", path, nil, &measures); err != nil {
		return nil, err
	}
	return measures, nil
}

// MeasureValues lists the samples of one measure.
func (c *Client) MeasureValues(ctx context.Context, measureBid int64) ([]MeasureValue, error) {
	var values []MeasureValue
	path := "/measures/" + strconv.FormatInt(measureBid, 10) + "/values"
	if _, err := c.get(ctx, "measure_values", path, nil, &values); err != nil {
		return nil, err
	}
	return values, nil
}
