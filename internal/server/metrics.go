package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdmkit_sessions_opened_total",
		Help: "Sessions created or resumed, by key system.",
	}, []string{"key_system"})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cdmkit_sessions_active",
		Help: "Sessions currently held in the registry.",
	})

	licensesParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdmkit_licenses_parsed_total",
		Help: "Updates that yielded keys, by key system.",
	}, []string{"key_system"})

	failures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdmkit_failures_total",
		Help: "Failed requests, by error kind.",
	}, []string{"kind"})
)
