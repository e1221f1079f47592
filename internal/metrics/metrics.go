// SPDX-License-Identifier: MIT

// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pitwall_messages_total",
		Help: "Timing messages processed, by message type",
	}, []string{"type"})

	ParseErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pitwall_parse_errors_total",
		Help: "Malformed result-monitor commands skipped",
	})

	LapsLoggedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pitwall_laps_logged_total",
		Help: "Lap log records committed to the persistent stream",
	})

	PatchFlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pitwall_patch_flushes_total",
		Help: "Consolidated patch flushes dispatched to the hub",
	})

	CarPatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pitwall_car_patches_total",
		Help: "Car patches dispatched after consolidation",
	})

	ResyncRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pitwall_resync_requests_total",
		Help: "Upstream resync requests published by the consistency checker",
	}, []string{"forced"})

	HubDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pitwall_hub_drops_total",
		Help: "Hub updates dropped because a subscriber could not keep up",
	}, []string{"channel"})

	SessionsFinalizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pitwall_sessions_finalized_total",
		Help: "Sessions finalized by the session monitor",
	})
)

// IncMessage records one processed timing message.
func IncMessage(msgType string) {
	if msgType == "" {
		msgType = "unknown"
	}
	MessagesTotal.WithLabelValues(msgType).Inc()
}

// IncResync records one published relay reset request.
func IncResync(forced bool) {
	ResyncRequestsTotal.WithLabelValues(strconv.FormatBool(forced)).Inc()
}
