// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/authserver/introspection"
	"github.com/openauthd/openauthd/pkg/logger"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// IntrospectionHandler serves token introspection (RFC 7662) and token
// revocation (RFC 7009); the two endpoints share parsing and client
// authentication.
type IntrospectionHandler struct {
	clients client.Provider
	service *introspection.Service
}

// NewIntrospectionHandler creates the introspection/revocation handler.
func NewIntrospectionHandler(clients client.Provider, service *introspection.Service) *IntrospectionHandler {
	return &IntrospectionHandler{clients: clients, service: service}
}

// Introspect is the RFC 7662 endpoint.
func (h *IntrospectionHandler) Introspect(w http.ResponseWriter, r *http.Request) {
	rawToken, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.service.Introspect(r.Context(), rawToken))
}

// Revoke is the RFC 7009 endpoint. It answers 200 whether or not the token
// existed; only infrastructure trouble surfaces.
func (h *IntrospectionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	rawToken, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if err := h.service.Revoke(r.Context(), rawToken); err != nil {
		logger.Errorw("token revocation failed", "error", err)
		writeError(w, oauth.ErrServerError.WithDescription("Revocation storage failed"))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *IntrospectionHandler) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	if err := r.ParseForm(); err != nil {
		writeError(w, oauth.ErrInvalidRequest.WithDescription("Malformed form body"))
		return "", false
	}
	if _, err := authenticateClient(r, h.clients); err != nil {
		writeError(w, err)
		return "", false
	}
	return r.PostFormValue("token"), true
}
