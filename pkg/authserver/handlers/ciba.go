// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/openauthd/openauthd/pkg/authserver/ciba"
	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// CIBAHandler serves the backchannel authentication endpoint (CIBA Core
// Section 7).
type CIBAHandler struct {
	clients client.Provider
	engine  *ciba.Engine
}

// NewCIBAHandler creates the backchannel authentication endpoint handler.
func NewCIBAHandler(clients client.Provider, engine *ciba.Engine) *CIBAHandler {
	return &CIBAHandler{clients: clients, engine: engine}
}

func (h *CIBAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, oauth.ErrInvalidRequest.WithDescription("Malformed form body"))
		return
	}

	c, err := authenticateClient(r, h.clients)
	if err != nil {
		writeError(w, err)
		return
	}

	// The login_hint tells the host which user to put the authentication
	// request in front of; the engine does not interpret it.
	if r.PostFormValue("login_hint") == "" && r.PostFormValue("login_hint_token") == "" &&
		r.PostFormValue("id_token_hint") == "" {
		writeError(w, oauth.ErrInvalidRequest.WithDescription(
			"One of login_hint, login_hint_token or id_token_hint is required"))
		return
	}

	resp, err := h.engine.Initiate(r.Context(), c, ciba.InitiateRequest{
		Scopes:                  oauth.SplitSpaceDelimited(r.PostFormValue("scope")),
		Resources:               r.PostForm["resource"],
		BindingMessage:          r.PostFormValue("binding_message"),
		ClientNotificationToken: r.PostFormValue("client_notification_token"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
