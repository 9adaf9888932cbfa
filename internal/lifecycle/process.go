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
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrProcessNotRunning is returned when the process does not exist.
	ErrProcessNotRunning = errors.New("process not running")

	// ErrShutdownTimeout is returned when the process doesn't exit within the timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// DefaultKillWait bounds how long StopProcess waits for a process to
// disappear after SIGKILL.
const DefaultKillWait = 5 * time.Second

// ProcessInfo contains information about a running process.
type ProcessInfo struct {
	PID     int
	Running bool
	Command string
}

// IsProcessRunning checks if a process with the given PID exists.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 performs the existence and permission checks only.
	return unix.Kill(pid, 0) == nil
}

// IsProcessNamed reports whether the command line of pid contains name.
// It guards against signalling an unrelated process that reused a stale pid.
func IsProcessNamed(pid int, name string) bool {
	cmd, err := getProcessCommand(pid)
	if err != nil {
		return false
	}
	return containsWord(cmd, name)
}

// SendSignal sends a signal to the given process.
func SendSignal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("failed to send signal %v to process %d: %w", sig, pid, err)
	}

	return nil
}

// SignalGroup signals the process group led by pid, falling back to the
// process itself when pid does not lead a group.
func SignalGroup(pid int, sig syscall.Signal) error {
	if err := unix.Kill(-pid, sig); err == nil {
		return nil
	}
	return SendSignal(pid, sig)
}

// WaitForExit waits for the process to exit, checking every interval.
// Returns ErrShutdownTimeout if the process is still running after timeout.
func WaitForExit(pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	interval := 50 * time.Millisecond

	for time.Now().Before(deadline) {
		if !IsProcessRunning(pid) {
			return nil
		}
		time.Sleep(interval)
	}

	return ErrShutdownTimeout
}

// GracefulShutdown sends SIGTERM to a process it does not own (no exit
// channel, e.g. a pid read from a PID file) and polls until it exits.
// If force is true and the timeout is exceeded, sends SIGKILL.
func GracefulShutdown(pid int, timeout time.Duration, force bool) error {
	if !IsProcessRunning(pid) {
		return ErrProcessNotRunning
	}

	if err := SendSignal(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	err := WaitForExit(pid, timeout)
	if err == nil || !force {
		return err
	}

	if err := SendSignal(pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}

	if err := WaitForExit(pid, DefaultKillWait); err != nil {
		return fmt.Errorf("process did not die after SIGKILL: %w", err)
	}

	return nil
}

// ShutdownPolicy describes how StopProcess escalates.
type ShutdownPolicy struct {
	// Immediate skips the graceful phase and sends SIGKILL right away.
	Immediate bool

	// ForceKill enables SIGKILL once Timeout has elapsed.
	ForceKill bool

	// Timeout is the grace period after SIGTERM.
	Timeout time.Duration

	// KillWait bounds the wait after SIGKILL (default DefaultKillWait).
	KillWait time.Duration
}

// StopResult reports what StopProcess had to do.
type StopResult struct {
	// Forced is true when SIGKILL was sent.
	Forced bool

	// Elapsed is the time from the first signal until exit was observed.
	Elapsed time.Duration
}

// StopProcess stops a child process the caller owns. exited must be closed
// once the caller's cmd.Wait has returned; StopProcess never reports
// success before that happens.
func StopProcess(pid int, exited <-chan struct{}, policy ShutdownPolicy) (StopResult, error) {
	start := time.Now()
	killWait := policy.KillWait
	if killWait <= 0 {
		killWait = DefaultKillWait
	}

	select {
	case <-exited:
		return StopResult{}, nil
	default:
	}

	kill := func() (StopResult, error) {
		// ESRCH here just means the process beat us to it.
		_ = SignalGroup(pid, syscall.SIGKILL)
		select {
		case <-exited:
			return StopResult{Forced: true, Elapsed: time.Since(start)}, nil
		case <-time.After(killWait):
			return StopResult{Forced: true, Elapsed: time.Since(start)},
				fmt.Errorf("process %d did not die after SIGKILL: %w", pid, ErrShutdownTimeout)
		}
	}

	if policy.Immediate {
		return kill()
	}

	if err := SignalGroup(pid, syscall.SIGTERM); err != nil {
		select {
		case <-exited:
			return StopResult{Elapsed: time.Since(start)}, nil
		default:
		}
		return kill()
	}

	grace := time.NewTimer(policy.Timeout)
	defer grace.Stop()

	select {
	case <-exited:
		return StopResult{Elapsed: time.Since(start)}, nil
	case <-grace.C:
	}

	if !policy.ForceKill {
		return StopResult{Elapsed: time.Since(start)}, ErrShutdownTimeout
	}
	return kill()
}

// GetProcessInfo returns information about the process with the given PID.
func GetProcessInfo(pid int) (*ProcessInfo, error) {
	info := &ProcessInfo{
		PID:     pid,
		Running: IsProcessRunning(pid),
	}

	if info.Running {
		cmd, err := getProcessCommand(pid)
		if err != nil {
			info.Command = "<unknown>"
		} else {
			info.Command = cmd
		}
	}

	return info, nil
}
