// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes the authorization server's Prometheus
// instrumentation. Collectors register on the default registry so the host
// can serve them with promhttp alongside its own.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthorizationRequests counts authorization endpoint outcomes by
	// pipeline decision.
	AuthorizationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openauthd",
		Name:      "authorization_requests_total",
		Help:      "Authorization endpoint requests by terminal decision.",
	}, []string{"decision"})

	// TokenRequests counts token endpoint outcomes by grant type and result
	// ("ok" or the protocol error code).
	TokenRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openauthd",
		Name:      "token_requests_total",
		Help:      "Token endpoint requests by grant type and result.",
	}, []string{"grant_type", "result"})

	// TokensIssued counts minted tokens by kind (access, id, refresh).
	TokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openauthd",
		Name:      "tokens_issued_total",
		Help:      "Tokens minted by kind.",
	}, []string{"kind"})

	// BackchannelNotifications counts CIBA ping/push and back-channel
	// logout deliveries by kind and result.
	BackchannelNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openauthd",
		Name:      "backchannel_notifications_total",
		Help:      "Outbound back-channel deliveries by kind and result.",
	}, []string{"kind", "result"})

	// RateLimitedAttempts counts user-code verification attempts blocked by
	// the device-flow rate limiter.
	RateLimitedAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openauthd",
		Name:      "rate_limited_attempts_total",
		Help:      "Device-flow verification attempts rejected by the rate limiter.",
	}, []string{"scope"})
)
