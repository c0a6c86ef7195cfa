// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/authserver/grants"
	"github.com/openauthd/openauthd/pkg/authserver/metrics"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// TokenHandler serves the token endpoint (RFC 6749 Section 3.2).
type TokenHandler struct {
	clients  client.Provider
	pipeline *grants.Pipeline
}

// NewTokenHandler creates the token endpoint handler.
func NewTokenHandler(clients client.Provider, pipeline *grants.Pipeline) *TokenHandler {
	return &TokenHandler{clients: clients, pipeline: pipeline}
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, oauth.ErrInvalidRequest.WithDescription("Malformed form body"))
		return
	}

	c, err := authenticateClient(r, h.clients)
	if err != nil {
		metrics.TokenRequests.WithLabelValues("", oauth.AsError(err).Code).Inc()
		writeError(w, err)
		return
	}

	req, err := parseTokenRequest(r)
	if err != nil {
		metrics.TokenRequests.WithLabelValues("", oauth.AsError(err).Code).Inc()
		writeError(w, err)
		return
	}

	resp, err := h.pipeline.Exchange(r.Context(), c, req)
	if err != nil {
		metrics.TokenRequests.WithLabelValues(string(req.GrantType), oauth.AsError(err).Code).Inc()
		writeError(w, err)
		return
	}

	metrics.TokenRequests.WithLabelValues(string(req.GrantType), "ok").Inc()
	writeJSON(w, http.StatusOK, resp)
}

// parseTokenRequest decodes the form into the pipeline's request type. The
// grant type decides which fields matter; stray fields are ignored.
func parseTokenRequest(r *http.Request) (*grants.TokenRequest, error) {
	grantType, oe := oauth.ParseGrantType(r.PostFormValue("grant_type"))
	if oe != nil {
		return nil, oe
	}

	return &grants.TokenRequest{
		GrantType:    grantType,
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RefreshToken: r.PostFormValue("refresh_token"),
		Scopes:       oauth.SplitSpaceDelimited(r.PostFormValue("scope")),
		Resources:    r.PostForm["resource"],
		Username:     r.PostFormValue("username"),
		Password:     r.PostFormValue("password"),
		AuthReqID:    r.PostFormValue("auth_req_id"),
		DeviceCode:   r.PostFormValue("device_code"),
	}, nil
}
