// Copyright 2024 Google LLC
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

// Package metrics exposes librariand's Prometheus instrumentation: one
// handle wrapping the command engine, the allocation policies and the
// descriptor manager's aperture table.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// the default latency buckets, in milliseconds, for command round trips.
var defaultLatencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// Handle wraps the librarian's Prometheus collectors behind typed
// accessor methods, mirroring the teacher's MetricHandle wrapper shape
// without the OpenTelemetry attribute-set plumbing it doesn't need.
type Handle struct {
	commandLatency   *prometheus.HistogramVec
	commandCount     *prometheus.CounterVec
	enospcCount      *prometheus.CounterVec
	policyInvocation *prometheus.CounterVec
	apertureOccupied prometheus.Gauge
	apertureCapacity prometheus.Gauge
	evictionCount    prometheus.Counter
}

// NewHandle registers every collector on reg and returns the handle used
// to record measurements. Passing prometheus.NewRegistry() keeps tests
// isolated from the process-global default registry.
func NewHandle(reg *prometheus.Registry) *Handle {
	h := &Handle{
		commandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "librarian",
			Name:      "command_latency_milliseconds",
			Help:      "Latency of librarian command execution by command tag.",
			Buckets:   defaultLatencyBuckets,
		}, []string{"command"}),
		commandCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "librarian",
			Name:      "commands_total",
			Help:      "Count of librarian commands processed by command tag and outcome.",
		}, []string{"command", "errno"}),
		enospcCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "librarian",
			Name:      "enospc_total",
			Help:      "Count of ENOSPC returns by allocation policy.",
		}, []string{"policy"}),
		policyInvocation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "librarian",
			Name:      "allocation_policy_invocations_total",
			Help:      "Count of allocation policy invocations by name.",
		}, []string{"policy"}),
		apertureOccupied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "librarian",
			Name:      "aperture_occupied",
			Help:      "Number of aperture table slots currently holding a descriptor.",
		}),
		apertureCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "librarian",
			Name:      "aperture_capacity",
			Help:      "Total number of aperture table slots.",
		}),
		evictionCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "librarian",
			Name:      "aperture_evictions_total",
			Help:      "Count of aperture descriptor evictions.",
		}),
	}

	reg.MustRegister(
		h.commandLatency,
		h.commandCount,
		h.enospcCount,
		h.policyInvocation,
		h.apertureOccupied,
		h.apertureCapacity,
		h.evictionCount,
	)
	return h
}

// RecordCommand records the latency and outcome of a single engine
// command. errno is the textual syscall.Errno name, or "" on success.
func (h *Handle) RecordCommand(command string, latency time.Duration, errno string) {
	h.commandLatency.WithLabelValues(command).Observe(float64(latency.Microseconds()) / 1000.0)
	h.commandCount.WithLabelValues(command, errno).Inc()
}

// RecordENOSPC records an allocation failure due to exhaustion under the
// named policy.
func (h *Handle) RecordENOSPC(policy string) {
	h.enospcCount.WithLabelValues(policy).Inc()
}

// RecordPolicyInvocation records a single allocation attempt under the
// named policy, regardless of outcome.
func (h *Handle) RecordPolicyInvocation(policy string) {
	h.policyInvocation.WithLabelValues(policy).Inc()
}

// SetApertureOccupancy reports the aperture table's current fill level.
func (h *Handle) SetApertureOccupancy(occupied, capacity int) {
	h.apertureOccupied.Set(float64(occupied))
	h.apertureCapacity.Set(float64(capacity))
}

// RecordEviction records one aperture descriptor eviction.
func (h *Handle) RecordEviction() {
	h.evictionCount.Inc()
}
