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

// Package metrics exposes Prometheus counters for node supervision and
// the control-plane server. Everything registers with the default
// registry through promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// nodesSpawned tracks controllers created by factories
	nodesSpawned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodectl_nodes_spawned_total",
			Help: "Total nodes spawned by type and location",
		},
		[]string{"type", "location"},
	)

	// nodeStarts tracks start attempts
	nodeStarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodectl_node_starts_total",
			Help: "Total node starts by type and result (started, attached, failed)",
		},
		[]string{"type", "result"},
	)

	// nodeStops tracks completed stops
	nodeStops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodectl_node_stops_total",
			Help: "Total node stops by type and mode (graceful, forced, immediate, api)",
		},
		[]string{"type", "mode"},
	)

	// nodesRunning tracks nodes currently started
	nodesRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nodectl_nodes_running",
			Help: "Number of nodes currently started by type",
		},
		[]string{"type"},
	)

	// startDuration tracks time from launch to readiness
	startDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nodectl_node_start_duration_seconds",
			Help:    "Time from launch until the node reported readiness",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"type"},
	)

	// requests tracks control-plane requests
	requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nodectl_controlplane_requests_total",
			Help: "Total control-plane requests by route and status code",
		},
		[]string{"route", "code"},
	)

	// registrySize tracks the number of ids held by the server
	registrySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nodectl_controlplane_registry_size",
			Help: "Number of controllers held by the control-plane registry",
		},
	)

	// rateLimited tracks rejected spawn requests
	rateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nodectl_controlplane_rate_limited_total",
			Help: "Total spawn requests rejected by the rate limiter",
		},
	)
)

// RecordSpawn counts a spawned controller. location is "local" or "remote".
func RecordSpawn(nodeType, location string) {
	nodesSpawned.WithLabelValues(nodeType, location).Inc()
}

// RecordStart counts a start attempt and, on success, marks the node running.
func RecordStart(nodeType, result string, seconds float64) {
	nodeStarts.WithLabelValues(nodeType, result).Inc()
	if result == "failed" {
		return
	}
	nodesRunning.WithLabelValues(nodeType).Inc()
	if seconds > 0 {
		startDuration.WithLabelValues(nodeType).Observe(seconds)
	}
}

// RecordStop counts a completed stop and marks the node no longer running.
func RecordStop(nodeType, mode string) {
	nodeStops.WithLabelValues(nodeType, mode).Inc()
	nodesRunning.WithLabelValues(nodeType).Dec()
}

// RecordRequest counts a control-plane request.
func RecordRequest(route string, code string) {
	requests.WithLabelValues(route, code).Inc()
}

// SetRegistrySize records the control-plane registry size.
func SetRegistrySize(n int) {
	registrySize.Set(float64(n))
}

// RecordRateLimited counts a rejected spawn.
func RecordRateLimited() {
	rateLimited.Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
