// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of passkey-gateway.
//
// passkey-gateway is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for the gateway.
// It exposes ceremony outcome counters, challenge lifecycle counters,
// admission-limiter denial counters, and HTTP request metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all gateway metrics
	Namespace = "gateway"

	// Label names
	LabelCeremony   = "ceremony"
	LabelStatus     = "status"
	LabelKind       = "kind"
	LabelPurpose    = "purpose"
	LabelCategory   = "category"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Ceremony names
	CeremonyRegistration   = "registration"
	CeremonyAuthentication = "authentication"
)

var (
	// CeremoniesTotal tracks completed ceremony attempts by ceremony and status.
	CeremoniesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_total",
			Help:      "Total number of ceremony completion attempts by ceremony and status",
		},
		[]string{LabelCeremony, LabelStatus},
	)

	// CeremonyFailuresTotal tracks ceremony failures by error kind. Kinds are
	// the internal taxonomy (challenge_invalid, credential_conflict, ...);
	// clients only ever see the collapsed generic message.
	CeremonyFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremony_failures_total",
			Help:      "Total number of ceremony failures by ceremony and error kind",
		},
		[]string{LabelCeremony, LabelKind},
	)

	// ChallengesIssuedTotal tracks issued challenges by purpose.
	ChallengesIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "challenges_issued_total",
			Help:      "Total number of challenges issued by purpose",
		},
		[]string{LabelPurpose},
	)

	// LimiterDenialsTotal tracks admission limiter denials by route category.
	LimiterDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "limiter_denials_total",
			Help:      "Total number of admission limiter denials by route category",
		},
		[]string{LabelCategory},
	)

	// CounterRegressionsTotal tracks detected signature counter regressions.
	// A non-zero value is a potential credential-cloning signal.
	CounterRegressionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "counter_regressions_total",
			Help:      "Total number of signature counter regressions detected",
		},
	)

	// HTTPRequestsTotal tracks HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks HTTP request durations in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{LabelMethod},
	)
)

// RecordCeremony increments the ceremony counter with the given outcome.
func RecordCeremony(ceremony string, err error) {
	if err != nil {
		CeremoniesTotal.WithLabelValues(ceremony, StatusError).Inc()
		return
	}
	CeremoniesTotal.WithLabelValues(ceremony, StatusSuccess).Inc()
}

// RecordCeremonyFailure records a ceremony failure by error kind.
func RecordCeremonyFailure(ceremony, kind string) {
	CeremonyFailuresTotal.WithLabelValues(ceremony, kind).Inc()
}

// RecordChallengeIssued records an issued challenge by purpose.
func RecordChallengeIssued(purpose string) {
	ChallengesIssuedTotal.WithLabelValues(purpose).Inc()
}

// RecordLimiterDenial records an admission denial for a route category.
func RecordLimiterDenial(category string) {
	LimiterDenialsTotal.WithLabelValues(category).Inc()
}
