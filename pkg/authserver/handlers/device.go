// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/authserver/device"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// DeviceAuthorizationHandler serves the device authorization endpoint
// (RFC 8628 Section 3.1).
type DeviceAuthorizationHandler struct {
	clients client.Provider
	engine  *device.Engine
}

// NewDeviceAuthorizationHandler creates the device authorization endpoint
// handler.
func NewDeviceAuthorizationHandler(clients client.Provider, engine *device.Engine) *DeviceAuthorizationHandler {
	return &DeviceAuthorizationHandler{clients: clients, engine: engine}
}

func (h *DeviceAuthorizationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, oauth.ErrInvalidRequest.WithDescription("Malformed form body"))
		return
	}

	c, err := authenticateClient(r, h.clients)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.engine.Authorize(r.Context(), c,
		oauth.SplitSpaceDelimited(r.PostFormValue("scope")), r.PostForm["resource"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeviceVerifyHandler accepts the user-typed code from the host's
// verification UI and reports whether it matched. The host drives the
// login/consent UI around it and calls the engine's Approve or Deny with
// the returned device code.
type DeviceVerifyHandler struct {
	engine *device.Engine
}

// NewDeviceVerifyHandler creates the user-code verification handler.
func NewDeviceVerifyHandler(engine *device.Engine) *DeviceVerifyHandler {
	return &DeviceVerifyHandler{engine: engine}
}

func (h *DeviceVerifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, oauth.ErrInvalidRequest.WithDescription("Malformed form body"))
		return
	}

	deviceCode, err := h.engine.VerifyUserCode(r.Context(), r.PostFormValue("user_code"), remoteIP(r))

	var limited *device.RateLimitedError
	switch {
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.FormatInt(int64(math.Ceil(limited.RetryAfter.Seconds())), 10))
		writeJSON(w, http.StatusTooManyRequests, oauth.ErrSlowDown.WithDescription(
			"Too many attempts; retry later"))
	case errors.Is(err, device.ErrUnknownUserCode):
		writeJSON(w, http.StatusNotFound, oauth.ErrInvalidGrant.WithDescription(
			"The code did not match a pending request"))
	case err != nil:
		writeError(w, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"device_code": deviceCode})
	}
}

// remoteIP extracts the peer address without the port. Proxy headers are
// deliberately ignored; the deployment terminates TLS itself.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
