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

/*
Package lifecycle holds the OS-level process plumbing behind node
controllers and the nodectl control-plane server.

# Spawning

Node processes are started in their own process group so that a forced
kill also reaches anything the daemon forked:

	cmd := lifecycle.NewSpawner().WithEnv(env).Command(binary, "daemon")

# Shutdown Escalation

StopProcess sends SIGTERM, waits for the exit channel, and escalates to
SIGKILL when the grace period runs out:

	result, err := lifecycle.StopProcess(pid, exited, lifecycle.ShutdownPolicy{
	    ForceKill: true,
	    Timeout:   5 * time.Second,
	})

# Health Checking

HealthChecker probes an HTTP endpoint, once or with exponential backoff:

	checker := lifecycle.NewHealthChecker("http://127.0.0.1:43134/health")
	if err := checker.WaitUntilHealthy(10 * time.Second); err != nil {
	    // server never came up
	}

# PID Files and Event Logs

PIDFile guards a single running control-plane server, and EventLogger
appends JSON lifecycle events for later inspection.
*/
package lifecycle
