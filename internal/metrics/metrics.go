// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsCreated counts freshly persisted notifications.
	NotificationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studyflow_notifications_created_total",
		Help: "Notifications persisted (dedup hits excluded).",
	})

	// NoticesCreated counts freshly persisted notices.
	NoticesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studyflow_notices_created_total",
		Help: "Notices persisted (dedup hits excluded).",
	})

	// DedupeHits counts idempotent re-emissions, by record kind.
	DedupeHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studyflow_dedupe_hits_total",
		Help: "Emission attempts answered by an existing record.",
	}, []string{"kind"})

	// Evaluations counts evaluateAll runs.
	Evaluations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studyflow_evaluations_total",
		Help: "Per-student tardiness evaluation runs.",
	})

	// SMSSends counts gateway sends by outcome.
	SMSSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studyflow_sms_sends_total",
		Help: "SMS escalation attempts by outcome.",
	}, []string{"outcome"})
)
