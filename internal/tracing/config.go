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

// Package tracing wires OpenTelemetry for nodectl. Controllers and the
// control-plane server open spans through Start/End; when no provider has
// been installed with Setup the global no-op provider makes them free.
package tracing

import (
	"io"
)

// ScopeName is the instrumentation scope of every nodectl span.
const ScopeName = "github.com/tombee/nodectl"

// Config controls span export.
type Config struct {
	// Enabled turns tracing on.
	Enabled bool `yaml:"enabled"`

	// ServiceName identifies this process in traces (default "nodectl").
	ServiceName string `yaml:"service_name"`

	// ServiceVersion is the application version.
	ServiceVersion string `yaml:"-"`

	// Exporter is one of "console", "otlp", "otlp-http" or "none".
	Exporter string `yaml:"exporter"`

	// Endpoint is the collector address for the otlp exporters.
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure"`

	// SampleRate is the fraction of root traces recorded (0 means 1.0).
	SampleRate float64 `yaml:"sample_rate"`

	// Output receives console spans (default stdout).
	Output io.Writer `yaml:"-"`
}
