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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// skipOnSpawnError checks if an error is a spawn permission error and skips if so.
// Some environments (sandboxed test runners, containers) block fork/exec.
func skipOnSpawnError(t *testing.T, err error) {
	t.Helper()
	if err != nil && strings.Contains(err.Error(), "operation not permitted") {
		t.Skipf("Skipping: spawn not permitted in this environment: %v", err)
	}
}

func TestSpawner_Command(t *testing.T) {
	t.Run("child leads its own process group", func(t *testing.T) {
		cmd := NewSpawner().Command("sleep", "60")
		err := cmd.Start()
		skipOnSpawnError(t, err)
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		defer func() {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}()

		pgid, err := unix.Getpgid(cmd.Process.Pid)
		if err != nil {
			t.Fatalf("Getpgid() error = %v", err)
		}
		if pgid != cmd.Process.Pid {
			t.Errorf("pgid = %d, want %d", pgid, cmd.Process.Pid)
		}
	})

	t.Run("extra env layered over base env", func(t *testing.T) {
		var out bytes.Buffer
		cmd := NewSpawner().
			WithEnv([]string{"PATH=" + os.Getenv("PATH"), "A=base"}).
			WithExtraEnv(map[string]string{"A": "override", "B": "added"}).
			Command("sh", "-c", "echo $A $B")
		cmd.Stdout = &out
		err := cmd.Run()
		skipOnSpawnError(t, err)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if got := strings.TrimSpace(out.String()); got != "override added" {
			t.Errorf("output = %q, want %q", got, "override added")
		}
	})

	t.Run("working directory", func(t *testing.T) {
		dir := t.TempDir()
		var out bytes.Buffer
		cmd := NewSpawner().WithDir(dir).Command("pwd")
		cmd.Stdout = &out
		err := cmd.Run()
		skipOnSpawnError(t, err)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		got, _ := filepath.EvalSymlinks(strings.TrimSpace(out.String()))
		want, _ := filepath.EvalSymlinks(dir)
		if got != want {
			t.Errorf("pwd = %q, want %q", got, want)
		}
	})
}

func TestSpawner_CommandContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	// The shell's child would survive a leader-only kill and keep Wait blocked.
	cmd := NewSpawner().CommandContext(ctx, "sh", "-c", "sleep 60; true")
	err := cmd.Start()
	skipOnSpawnError(t, err)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Wait() error = nil, want killed")
		}
	case <-time.After(5 * time.Second):
		_ = SignalGroup(cmd.Process.Pid, syscall.SIGKILL)
		t.Fatal("process group survived context cancellation")
	}
}

func TestSpawner_SpawnDetached(t *testing.T) {
	if os.Getenv("SKIP_SPAWN_TESTS") != "" {
		t.Skip("Skipping spawn tests (SKIP_SPAWN_TESTS is set)")
	}

	tmpDir := t.TempDir()

	t.Run("spawns detached process", func(t *testing.T) {
		logPath := filepath.Join(tmpDir, "serve.log")

		pid, err := NewSpawner().SpawnDetached("sh", []string{"-c", "echo 'listening'; sleep 1"}, logPath)
		skipOnSpawnError(t, err)
		if err != nil {
			t.Fatalf("SpawnDetached() error = %v", err)
		}
		defer syscall.Kill(pid, syscall.SIGKILL)

		if !IsProcessRunning(pid) {
			t.Error("Spawned process is not running")
		}

		deadline := time.Now().Add(3 * time.Second)
		for {
			content, _ := os.ReadFile(logPath)
			if strings.Contains(string(content), "listening") {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("log file does not contain expected output: %s", content)
			}
			time.Sleep(50 * time.Millisecond)
		}
	})

	t.Run("creates log directory if missing", func(t *testing.T) {
		logPath := filepath.Join(tmpDir, "nested", "dir", "serve.log")

		pid, err := NewSpawner().SpawnDetached("sh", []string{"-c", "true"}, logPath)
		skipOnSpawnError(t, err)
		if err != nil {
			t.Fatalf("SpawnDetached() error = %v", err)
		}
		defer syscall.Kill(pid, syscall.SIGKILL)

		info, err := os.Stat(filepath.Dir(logPath))
		if err != nil {
			t.Fatalf("Log directory not created: %v", err)
		}
		if mode := info.Mode() & os.ModePerm; mode != 0700 {
			t.Errorf("Log directory mode = %04o, want 0700", mode)
		}
	})

	t.Run("runs in a new session", func(t *testing.T) {
		logPath := filepath.Join(tmpDir, "session.log")

		pid, err := NewSpawner().SpawnDetached("sleep", []string{"5"}, logPath)
		skipOnSpawnError(t, err)
		if err != nil {
			t.Fatalf("SpawnDetached() error = %v", err)
		}
		defer syscall.Kill(pid, syscall.SIGKILL)

		sid, err := unix.Getsid(pid)
		if err != nil {
			t.Fatalf("Getsid() error = %v", err)
		}
		if sid != pid {
			t.Errorf("sid = %d, want %d", sid, pid)
		}
	})
}
