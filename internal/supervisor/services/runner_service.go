// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package services

import (
	"context"
	"errors"
)

// RunFunc blocks until ctx is done or the component fails.
type RunFunc func(ctx context.Context) error

// RunnerService supervises a component whose run loop already honors its
// context, such as websocket.Hub.RunWithContext or ingest.Dispatcher.Run.
type RunnerService struct {
	run  RunFunc
	name string
}

// NewRunnerService wraps run under name.
func NewRunnerService(name string, run RunFunc) *RunnerService {
	return &RunnerService{run: run, name: name}
}

// Serve implements suture.Service. Returning while ctx is still live counts
// as a failure, so a nil return is turned into an error to get a restart.
func (r *RunnerService) Serve(ctx context.Context) error {
	err := r.run(ctx)
	if err == nil && ctx.Err() == nil {
		return errors.New(r.name + " returned unexpectedly")
	}
	return err
}

// String implements fmt.Stringer.
func (r *RunnerService) String() string {
	return r.name
}
