// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Endpoints collects the protocol handlers the router mounts. Nil entries
// are skipped, so hosts can disable whole surfaces.
type Endpoints struct {
	Authorize           *AuthorizeHandler
	Token               *TokenHandler
	Introspection       *IntrospectionHandler
	DeviceAuthorization *DeviceAuthorizationHandler
	DeviceVerify        *DeviceVerifyHandler
	CIBA                *CIBAHandler
	PAR                 *PARHandler
	Logout              *LogoutHandler
	Discovery           *DiscoveryHandler
}

// NewRouter mounts the endpoints on a chi router with the standard
// middleware stack.
func NewRouter(e Endpoints) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if e.Discovery != nil {
		r.Get("/.well-known/oauth-authorization-server", e.Discovery.Metadata)
		r.Get("/.well-known/openid-configuration", e.Discovery.OIDCConfiguration)
		r.Get("/jwks", e.Discovery.JWKS)
	}
	if e.Authorize != nil {
		r.Get("/authorize", e.Authorize.ServeHTTP)
		r.Post("/authorize", e.Authorize.ServeHTTP)
	}
	if e.Token != nil {
		r.Post("/token", e.Token.ServeHTTP)
	}
	if e.Introspection != nil {
		r.Post("/introspect", e.Introspection.Introspect)
		r.Post("/revoke", e.Introspection.Revoke)
	}
	if e.DeviceAuthorization != nil {
		r.Post("/device_authorization", e.DeviceAuthorization.ServeHTTP)
	}
	if e.DeviceVerify != nil {
		r.Post("/device/verify", e.DeviceVerify.ServeHTTP)
	}
	if e.CIBA != nil {
		r.Post("/bc-authorize", e.CIBA.ServeHTTP)
	}
	if e.PAR != nil {
		r.Post("/par", e.PAR.ServeHTTP)
	}
	if e.Logout != nil {
		r.Get("/logout", e.Logout.ServeHTTP)
		r.Post("/logout", e.Logout.ServeHTTP)
	}

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}
