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

package mcp

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the manager. A nil *Metrics
// is valid and records nothing, so tests can leave it out.
type Metrics struct {
	connectAttempts  *prometheus.CounterVec
	reconnectSkipped prometheus.Counter
	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	discoveredTools  *prometheus.GaugeVec
	connectedServers prometheus.Gauge
	failedServers    prometheus.Gauge
}

// NewMetrics creates the manager's metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "mcp",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts to tool servers by outcome.",
		}, []string{"server", "outcome"}),
		reconnectSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "mcp",
			Name:      "reconnect_skipped_total",
			Help:      "Reconnection attempts skipped because backoff had not elapsed.",
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parley",
			Subsystem: "mcp",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by server and outcome.",
		}, []string{"server", "outcome"}),
		toolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "parley",
			Subsystem: "mcp",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server"}),
		discoveredTools: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "parley",
			Subsystem: "mcp",
			Name:      "discovered_tools",
			Help:      "Number of tools in the catalog per server.",
		}, []string{"server"}),
		connectedServers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "parley",
			Subsystem: "mcp",
			Name:      "connected_servers",
			Help:      "Number of tool servers with a live connection.",
		}),
		failedServers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "parley",
			Subsystem: "mcp",
			Name:      "failed_servers",
			Help:      "Number of tool servers in the failure tracker.",
		}),
	}

	reg.MustRegister(
		m.connectAttempts,
		m.reconnectSkipped,
		m.toolCalls,
		m.toolCallDuration,
		m.discoveredTools,
		m.connectedServers,
		m.failedServers,
	)
	return m
}

func (m *Metrics) observeConnect(server string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.connectAttempts.WithLabelValues(server, outcome).Inc()
}

func (m *Metrics) observeReconnectSkipped() {
	if m == nil {
		return
	}
	m.reconnectSkipped.Inc()
}

func (m *Metrics) observeToolCall(server string, seconds float64, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.toolCalls.WithLabelValues(server, outcome).Inc()
	m.toolCallDuration.WithLabelValues(server).Observe(seconds)
}

func (m *Metrics) setDiscoveredTools(server string, count int) {
	if m == nil {
		return
	}
	m.discoveredTools.WithLabelValues(server).Set(float64(count))
}

func (m *Metrics) dropServer(server string) {
	if m == nil {
		return
	}
	m.discoveredTools.DeleteLabelValues(server)
}

func (m *Metrics) setGauges(connected, failed int) {
	if m == nil {
		return
	}
	m.connectedServers.Set(float64(connected))
	m.failedServers.Set(float64(failed))
}
