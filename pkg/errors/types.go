// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid options, malformed requests, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType implements ErrorClassifier.
func (e *ValidationError) ErrorType() string { return "validation" }

// IsRetryable implements ErrorClassifier.
func (e *ValidationError) IsRetryable() bool { return false }

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "node", "repo")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrorType implements ErrorClassifier.
func (e *NotFoundError) ErrorType() string { return "not_found" }

// IsRetryable implements ErrorClassifier.
func (e *NotFoundError) IsRetryable() bool { return false }

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "server.port")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts.
// Use this when an operation exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "start", "api probe")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *TimeoutError) ErrorType() string { return "timeout" }

// IsRetryable implements ErrorClassifier.
func (e *TimeoutError) IsRetryable() bool { return true }

// InitError is returned when a node repo could not be initialized.
// Stdout and Stderr hold whatever the init command printed before failing.
type InitError struct {
	Repo   string
	Stdout string
	Stderr string
	Cause  error
}

// Error implements the error interface.
func (e *InitError) Error() string {
	return processFailure("init failed", e.Repo, e.Stdout, e.Stderr, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *InitError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *InitError) ErrorType() string { return "init" }

// IsRetryable implements ErrorClassifier.
func (e *InitError) IsRetryable() bool { return false }

// StartError is returned when a node exits, or its API stays unreachable,
// before it reported readiness.
type StartError struct {
	Repo   string
	Stdout string
	Stderr string
	Cause  error
}

// Error implements the error interface.
func (e *StartError) Error() string {
	return processFailure("start failed", e.Repo, e.Stdout, e.Stderr, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StartError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *StartError) ErrorType() string { return "start" }

// IsRetryable implements ErrorClassifier.
func (e *StartError) IsRetryable() bool { return true }

// StopTimeoutError reports that a node ignored the graceful stop request
// for longer than the configured timeout.
type StopTimeoutError struct {
	PID     int
	Timeout time.Duration
}

// Error implements the error interface.
func (e *StopTimeoutError) Error() string {
	return fmt.Sprintf("process %d did not exit within %v of graceful stop", e.PID, e.Timeout)
}

// ErrorType implements ErrorClassifier.
func (e *StopTimeoutError) ErrorType() string { return "stop_timeout" }

// IsRetryable implements ErrorClassifier.
func (e *StopTimeoutError) IsRetryable() bool { return false }

// NotSupportedError is returned when an operation has no meaning for a backend,
// such as asking an in-process node for its pid.
type NotSupportedError struct {
	Operation string
	Backend   string
}

// Error implements the error interface.
func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("%s is not supported by %s nodes", e.Operation, e.Backend)
}

// ErrorType implements ErrorClassifier.
func (e *NotSupportedError) ErrorType() string { return "not_supported" }

// IsRetryable implements ErrorClassifier.
func (e *NotSupportedError) IsRetryable() bool { return false }

// NotStartedError is returned when something that only exists on a started
// node (its API handle, peer identity, process) is requested too early.
type NotStartedError struct {
	What string
}

// Error implements the error interface.
func (e *NotStartedError) Error() string {
	if e.What == "" {
		return "node is not started"
	}
	return fmt.Sprintf("%s unavailable: node is not started", e.What)
}

// ErrorType implements ErrorClassifier.
func (e *NotStartedError) ErrorType() string { return "not_started" }

// IsRetryable implements ErrorClassifier.
func (e *NotStartedError) IsRetryable() bool { return false }

// RemoteProtocolError wraps a non-2xx answer from a control-plane server.
type RemoteProtocolError struct {
	// Route is the request path, without query string
	Route string

	// StatusCode is the HTTP status returned by the server
	StatusCode int

	// Message is the server-supplied message field
	Message string
}

// Error implements the error interface.
func (e *RemoteProtocolError) Error() string {
	return fmt.Sprintf("control plane %s returned %d: %s", e.Route, e.StatusCode, e.Message)
}

// ErrorType implements ErrorClassifier.
func (e *RemoteProtocolError) ErrorType() string { return "remote" }

// IsRetryable implements ErrorClassifier.
func (e *RemoteProtocolError) IsRetryable() bool { return e.StatusCode >= 500 }

func processFailure(prefix, repo, stdout, stderr string, cause error) string {
	var sb strings.Builder
	sb.WriteString(prefix)
	if repo != "" {
		sb.WriteString(" for ")
		sb.WriteString(repo)
	}
	if cause != nil {
		sb.WriteString(": ")
		sb.WriteString(cause.Error())
	}
	if out := strings.TrimSpace(stdout); out != "" {
		sb.WriteString("\nstdout: ")
		sb.WriteString(out)
	}
	if out := strings.TrimSpace(stderr); out != "" {
		sb.WriteString("\nstderr: ")
		sb.WriteString(out)
	}
	return sb.String()
}
