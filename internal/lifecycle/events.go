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

package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event names written by EventLogger.
const (
	EventSpawn        = "spawn"
	EventInit         = "init"
	EventStart        = "start"
	EventStartFailure = "start_failure"
	EventAttach       = "attach"
	EventStop         = "stop"
	EventForcedKill   = "forced_kill"
	EventCleanup      = "cleanup"
	EventServe        = "serve"
	EventStalePID     = "stale_pid_detected"
)

// Event is one line of the lifecycle event log.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	NodeType  string    `json:"node_type,omitempty"`
	Repo      string    `json:"repo,omitempty"`
	PID       int       `json:"pid,omitempty"`
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Duration  string    `json:"duration,omitempty"`
}

// EventLogger appends lifecycle events as JSON lines to a file.
// A nil *EventLogger is valid and discards everything.
type EventLogger struct {
	mu      sync.Mutex
	logPath string
}

// NewEventLogger creates an event logger writing to logPath.
// An empty path yields nil, which records nothing.
func NewEventLogger(logPath string) *EventLogger {
	if logPath == "" {
		return nil
	}
	return &EventLogger{logPath: logPath}
}

// Path returns the file events are appended to.
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.logPath
}

// Record writes a successful event.
func (l *EventLogger) Record(event, nodeType, repo string, pid int, message string) error {
	return l.Write(Event{
		Event:    event,
		NodeType: nodeType,
		Repo:     repo,
		PID:      pid,
		Success:  true,
		Message:  message,
	})
}

// RecordDuration writes a successful event that took d.
func (l *EventLogger) RecordDuration(event, nodeType, repo string, pid int, d time.Duration) error {
	return l.Write(Event{
		Event:    event,
		NodeType: nodeType,
		Repo:     repo,
		PID:      pid,
		Success:  true,
		Duration: d.String(),
	})
}

// RecordFailure writes a failed event.
func (l *EventLogger) RecordFailure(event, nodeType, repo string, err error) error {
	e := Event{
		Event:    event,
		NodeType: nodeType,
		Repo:     repo,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return l.Write(e)
}

// Write appends a single event, stamping it if Timestamp is zero.
func (l *EventLogger) Write(event Event) error {
	if l == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.logPath), 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}
