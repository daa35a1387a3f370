// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the relay.
//
// # Description
//
// This package implements Prometheus metrics for monitoring chat turns
// and the state engine behind them. Metrics include:
//   - Turn counters and latency histograms (by status)
//   - Inference latency histograms (by backend)
//   - State store fallback counters (by operation)
//   - Background archival failure counters
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "journey"

// Subsystem for relay metrics
const relaySubsystem = "relay"

// RelayMetrics holds all Prometheus metrics for chat relay operations.
//
// # Description
//
// Provides counters and histograms for monitoring turn throughput, GPU
// backend latency, and state-store health. Initialize once at startup
// via InitMetrics().
//
// # Fields
//
//   - TurnsTotal: Counter of chat turns by status
//   - TurnDurationSeconds: Histogram of end-to-end turn duration
//   - InferenceDurationSeconds: Histogram of LLM call duration by backend
//   - StoreFallbacksTotal: Counter of state store degradations by operation
//   - ArchiveFailuresTotal: Counter of failed background archival writes
//
// # Thread Safety
//
// All operations are thread-safe.
type RelayMetrics struct {
	// TurnsTotal counts completed chat turns.
	// Labels: status (success, validation_error, llm_error)
	TurnsTotal *prometheus.CounterVec

	// TurnDurationSeconds measures end-to-end turn duration.
	// Labels: status (success, validation_error, llm_error)
	TurnDurationSeconds *prometheus.HistogramVec

	// InferenceDurationSeconds measures LLM call duration.
	// Labels: backend (runpod, openai)
	InferenceDurationSeconds *prometheus.HistogramVec

	// StoreFallbacksTotal counts state store operations that degraded to
	// stateless behavior. Labels: op (get, put, delete)
	StoreFallbacksTotal *prometheus.CounterVec

	// ArchiveFailuresTotal counts failed background archival writes.
	ArchiveFailuresTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of RelayMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *RelayMetrics

// InitMetrics initializes the default metrics instance against the
// global Prometheus registry. Call once at application startup; a
// second call panics on duplicate registration.
func InitMetrics() *RelayMetrics {
	DefaultMetrics = NewRelayMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewRelayMetrics creates and registers the relay metrics against reg.
// Tests pass their own registry to avoid duplicate registration.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	factory := promauto.With(reg)

	return &RelayMetrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "turns_total",
				Help:      "Total number of chat turns by status",
			},
			[]string{"status"},
		),

		TurnDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "turn_duration_seconds",
				Help:      "End-to-end chat turn duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"status"},
		),

		InferenceDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "inference_duration_seconds",
				Help:      "LLM backend call duration in seconds",
				Buckets:   []float64{0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"backend"},
		),

		StoreFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "store_fallbacks_total",
				Help:      "State store operations degraded to stateless behavior, by operation",
			},
			[]string{"op"},
		),

		ArchiveFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "archive_failures_total",
				Help:      "Failed background archival writes",
			},
		),
	}
}

// =============================================================================
// Turn Status
// =============================================================================

// TurnStatus categorizes how a chat turn ended for metrics labeling.
type TurnStatus string

const (
	// TurnStatusSuccess indicates the turn produced a response.
	TurnStatusSuccess TurnStatus = "success"

	// TurnStatusValidationError indicates request validation failure.
	TurnStatusValidationError TurnStatus = "validation_error"

	// TurnStatusLLMError indicates the GPU backend call failed.
	TurnStatusLLMError TurnStatus = "llm_error"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordTurn records a completed chat turn and its duration.
func (m *RelayMetrics) RecordTurn(status TurnStatus, seconds float64) {
	m.TurnsTotal.WithLabelValues(string(status)).Inc()
	m.TurnDurationSeconds.WithLabelValues(string(status)).Observe(seconds)
}

// RecordInference records one LLM backend call.
func (m *RelayMetrics) RecordInference(backend string, seconds float64) {
	m.InferenceDurationSeconds.WithLabelValues(backend).Observe(seconds)
}

// RecordArchiveFailure increments the archival failure counter.
func (m *RelayMetrics) RecordArchiveFailure() {
	m.ArchiveFailuresTotal.Inc()
}

// =============================================================================
// State Store Reporter
// =============================================================================

// StoreFallbackReporter surfaces state store degradations as metrics.
// It satisfies the store's fallback reporter contract.
type StoreFallbackReporter struct {
	metrics *RelayMetrics
}

// NewStoreFallbackReporter wires store fallbacks into metrics. A nil
// metrics instance yields a reporter that only logs.
func NewStoreFallbackReporter(metrics *RelayMetrics) *StoreFallbackReporter {
	return &StoreFallbackReporter{metrics: metrics}
}

// ReportFallback records one degraded state store operation.
func (r *StoreFallbackReporter) ReportFallback(op string, err error) {
	if r.metrics != nil {
		r.metrics.StoreFallbacksTotal.WithLabelValues(op).Inc()
	}
	slog.Debug("State store fallback recorded", "op", op, "error", err)
}
