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
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestPIDFile_Acquire(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("writes pid with restrictive mode", func(t *testing.T) {
		p := NewPIDFile(filepath.Join(tmpDir, "serve.pid"))
		defer p.Release()

		stale, err := p.Acquire(os.Getpid())
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		if stale != 0 {
			t.Errorf("stale = %d, want 0", stale)
		}

		pid, err := p.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if pid != os.Getpid() {
			t.Errorf("Read() = %d, want %d", pid, os.Getpid())
		}

		info, err := os.Stat(p.Path())
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if mode := info.Mode() & os.ModePerm; mode != 0600 {
			t.Errorf("PID file mode = %04o, want 0600", mode)
		}
	})

	t.Run("creates parent directory", func(t *testing.T) {
		p := NewPIDFile(filepath.Join(tmpDir, "a", "b", "serve.pid"))
		defer p.Release()

		if _, err := p.Acquire(os.Getpid()); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		if !p.Exists() {
			t.Error("PID file does not exist after Acquire()")
		}
	})

	t.Run("refuses when owner is alive", func(t *testing.T) {
		path := filepath.Join(tmpDir, "live.pid")
		if err := os.WriteFile(path, []byte("1\n"), 0600); err != nil {
			t.Fatal(err)
		}
		if !IsProcessRunning(1) {
			t.Skip("cannot signal pid 1 in this environment")
		}

		p := NewPIDFile(path)
		_, err := p.Acquire(os.Getpid())
		if !errors.Is(err, ErrAlreadyRunning) {
			t.Errorf("Acquire() error = %v, want ErrAlreadyRunning", err)
		}
	})

	t.Run("replaces stale file", func(t *testing.T) {
		path := filepath.Join(tmpDir, "stale.pid")
		if err := os.WriteFile(path, []byte("999999\n"), 0600); err != nil {
			t.Fatal(err)
		}
		p := NewPIDFile(path)
		defer p.Release()

		stale, err := p.Acquire(os.Getpid())
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		if stale != 999999 {
			t.Errorf("stale = %d, want 999999", stale)
		}
		if pid, _ := p.Read(); pid != os.Getpid() {
			t.Errorf("Read() = %d, want %d", pid, os.Getpid())
		}
	})

	t.Run("replaces garbage file", func(t *testing.T) {
		path := filepath.Join(tmpDir, "garbage.pid")
		if err := os.WriteFile(path, []byte("not-a-pid"), 0600); err != nil {
			t.Fatal(err)
		}

		p := NewPIDFile(path)
		defer p.Release()

		if _, err := p.Acquire(42); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	})
}

func TestPIDFile_Read(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    int
		wantErr error
	}{
		{"valid", "1234\n", 1234, nil},
		{"surrounding whitespace", "  77  \n", 77, nil},
		{"non numeric", "abc", 0, ErrInvalidPID},
		{"zero", "0", 0, ErrInvalidPID},
		{"negative", "-5", 0, ErrInvalidPID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.name+".pid")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			got, err := NewPIDFile(path).Read()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Read() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Read() = %d, want %d", got, tt.want)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := NewPIDFile(filepath.Join(tmpDir, "missing.pid")).Read()
		if !os.IsNotExist(err) {
			t.Errorf("Read() error = %v, want not-exist", err)
		}
	})
}

func TestPIDFile_Locking(t *testing.T) {
	tmpDir := t.TempDir()
	pidPath := filepath.Join(tmpDir, "flock.pid")

	p := NewPIDFile(pidPath)
	if _, err := p.Acquire(1234); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	f, err := os.OpenFile(pidPath, os.O_RDWR, 0600)
	if err != nil {
		t.Fatalf("Failed to open PID file: %v", err)
	}
	defer f.Close()

	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		t.Fatal("Acquired lock on already-locked file")
	}
	if !errors.Is(err, unix.EWOULDBLOCK) {
		t.Errorf("Flock error = %v, want EWOULDBLOCK", err)
	}

	if err := p.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if p.Exists() {
		t.Error("PID file still exists after Release()")
	}
	// Release is idempotent
	if err := p.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}

	p2 := NewPIDFile(pidPath)
	defer p2.Release()
	if _, err := p2.Acquire(5678); err != nil {
		t.Errorf("Acquire() after Release() error = %v", err)
	}
}
