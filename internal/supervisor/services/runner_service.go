// ToyGuard - Access Control and Security Audit for Connected Toys
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/toyguard

package services

import "context"

// Runner is a component with a context-bound background loop.
//
// Satisfied by *audit.Trail and *detection.Detector.
type Runner interface {
	// RunWithContext blocks until ctx is canceled and returns ctx.Err().
	RunWithContext(ctx context.Context) error
}

// RunnerService adapts a Runner to suture.Service.
type RunnerService struct {
	runner Runner
	name   string
}

// NewRunnerService wraps runner under name.
func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{runner: runner, name: name}
}

// NewAuditTrailService wraps the audit trail's flush and retention loop.
func NewAuditTrailService(trail Runner) *RunnerService {
	return NewRunnerService("audit-trail", trail)
}

// NewDetectorService wraps the threat detector.
func NewDetectorService(detector Runner) *RunnerService {
	return NewRunnerService("threat-detector", detector)
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.RunWithContext(ctx)
}

// String implements fmt.Stringer.
func (s *RunnerService) String() string {
	return s.name
}
