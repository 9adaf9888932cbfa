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
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad event line %q: %v", sc.Text(), err)
		}
		events = append(events, e)
	}
	return events
}

func TestEventLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.jsonl")
	l := NewEventLogger(path)

	if err := l.Record(EventSpawn, "go", "/tmp/repo", 0, "spawned"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := l.RecordDuration(EventStart, "go", "/tmp/repo", 4242, 150*time.Millisecond); err != nil {
		t.Fatalf("RecordDuration() error = %v", err)
	}
	if err := l.RecordFailure(EventStartFailure, "js", "/tmp/other", errors.New("exit status 1")); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}

	events := readEvents(t, path)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Event != EventSpawn || !events[0].Success || events[0].Timestamp.IsZero() {
		t.Errorf("events[0] = %+v", events[0])
	}
	if events[1].PID != 4242 || events[1].Duration != "150ms" {
		t.Errorf("events[1] = %+v", events[1])
	}
	if events[2].Success || events[2].Error != "exit status 1" || events[2].NodeType != "js" {
		t.Errorf("events[2] = %+v", events[2])
	}
}

func TestEventLogger_Nil(t *testing.T) {
	l := NewEventLogger("")
	if l != nil {
		t.Fatal("NewEventLogger(\"\") should return nil")
	}
	if err := l.Record(EventStop, "go", "/tmp/repo", 1, ""); err != nil {
		t.Errorf("nil logger Record() error = %v", err)
	}
	if l.Path() != "" {
		t.Errorf("nil logger Path() = %q", l.Path())
	}
}

func TestEventLogger_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	l := NewEventLogger(path)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = l.Record(EventCleanup, "proc", "/tmp/repo", i, "")
		}(i)
	}
	wg.Wait()

	if got := len(readEvents(t, path)); got != 20 {
		t.Errorf("got %d events, want 20", got)
	}
}
