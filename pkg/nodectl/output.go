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

package nodectl

import (
	"bytes"
	"io"
	"log/slog"
	"regexp"
	"sync"
)

var (
	apiPattern     = regexp.MustCompile(`API .*listening on:? (\S+)`)
	gatewayPattern = regexp.MustCompile(`Gateway .*listening on:? (\S+)`)
	grpcPattern    = regexp.MustCompile(`gRPC .*listening on:? (\S+)`)

	readyMarkers = [][]byte{[]byte("Daemon is ready"), []byte("daemon is running")}
)

const (
	maxScanBuffer = 1 << 20
	maxTail       = 64 << 10
)

// announced holds the addresses a daemon printed on stdout.
type announced struct {
	API     string
	Gateway string
	GRPC    string
}

// readinessScanner is the daemon's stdout. Until the ready marker appears
// it accumulates output and re-scans every complete line for the listener
// announcements; afterwards output goes to next.
type readinessScanner struct {
	next io.Writer

	mu     sync.Mutex
	buf    []byte
	output bytes.Buffer
	addrs  announced
	ready  chan struct{}
	isDone bool
}

func newReadinessScanner(next io.Writer) *readinessScanner {
	return &readinessScanner{next: next, ready: make(chan struct{})}
}

func (s *readinessScanner) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.isDone {
		s.mu.Unlock()
		if s.next != nil {
			_, _ = s.next.Write(p)
		}
		return len(p), nil
	}
	defer s.mu.Unlock()

	s.buf = append(s.buf, p...)
	if s.output.Len() < maxTail {
		s.output.Write(p)
	}

	end := bytes.LastIndexByte(s.buf, '\n')
	if end < 0 {
		return len(p), nil
	}
	lines := s.buf[:end+1]

	if m := apiPattern.FindSubmatch(lines); m != nil {
		s.addrs.API = string(m[1])
	}
	if m := gatewayPattern.FindSubmatch(lines); m != nil {
		s.addrs.Gateway = string(m[1])
	}
	if m := grpcPattern.FindSubmatch(lines); m != nil {
		s.addrs.GRPC = string(m[1])
	}
	for _, marker := range readyMarkers {
		if bytes.Contains(lines, marker) {
			s.isDone = true
			s.buf = nil
			close(s.ready)
			return len(p), nil
		}
	}

	// Matches are already recorded, so scanned lines can go.
	if len(s.buf) > maxScanBuffer {
		s.buf = append([]byte(nil), s.buf[end+1:]...)
	}
	return len(p), nil
}

// Ready is closed once the ready marker has been seen.
func (s *readinessScanner) Ready() <-chan struct{} {
	return s.ready
}

// Addrs returns the announced addresses seen so far.
func (s *readinessScanner) Addrs() announced {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addrs
}

// String returns the stdout captured before readiness.
func (s *readinessScanner) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output.String()
}

// lineLogger logs each complete line at debug level and keeps the last
// maxTail bytes for error messages.
type lineLogger struct {
	logger *slog.Logger
	stream string

	mu      sync.Mutex
	partial []byte
	tail    []byte
}

func newLineLogger(logger *slog.Logger, stream string) *lineLogger {
	return &lineLogger{logger: logger, stream: stream}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tail = append(l.tail, p...)
	if over := len(l.tail) - maxTail; over > 0 {
		l.tail = append([]byte(nil), l.tail[over:]...)
	}

	l.partial = append(l.partial, p...)
	for {
		i := bytes.IndexByte(l.partial, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(l.partial[:i], "\r")
		if len(line) > 0 {
			l.logger.Debug(string(line), slog.String("stream", l.stream))
		}
		l.partial = l.partial[i+1:]
	}
	if len(l.partial) > maxTail {
		l.partial = nil
	}
	return len(p), nil
}

func (l *lineLogger) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return string(l.tail)
}
