// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/authserver/logout"
	"github.com/openauthd/openauthd/pkg/authserver/session"
	"github.com/openauthd/openauthd/pkg/logger"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// LogoutHandler serves the end-session endpoint: it tears the session down
// through the orchestrator and renders the front-channel logout page.
type LogoutHandler struct {
	clients      client.Provider
	sessions     *session.Store
	orchestrator *logout.Orchestrator
	cookieName   string
}

// NewLogoutHandler creates the end-session endpoint handler.
func NewLogoutHandler(clients client.Provider, sessions *session.Store,
	orchestrator *logout.Orchestrator, cookieName string) *LogoutHandler {
	if cookieName == "" {
		cookieName = "openauthd_session"
	}
	return &LogoutHandler{
		clients:      clients,
		sessions:     sessions,
		orchestrator: orchestrator,
		cookieName:   cookieName,
	}
}

func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, oauth.ErrInvalidRequest.WithDescription("Malformed request"))
		return
	}

	sess, ok := h.currentSession(r)
	if !ok {
		// Nothing to log out of; honor the redirect if we can validate it.
		h.finish(w, r, nil)
		return
	}

	res, err := h.orchestrator.Logout(r.Context(), sess)
	if err != nil {
		logger.Errorw("logout orchestration failed", "session_id", sess.SessionID, "error", err)
		writeError(w, oauth.ErrServerError.WithDescription("Logout failed"))
		return
	}
	for _, derr := range res.BackChannelErrors {
		logger.Warnw("back-channel logout incomplete", "error", derr)
	}

	h.finish(w, r, res.FrameSources)
}

// currentSession resolves the SSO cookie to a live session.
func (h *LogoutHandler) currentSession(r *http.Request) (*session.AuthSession, bool) {
	cookie, err := r.Cookie(h.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, false
	}
	sess, err := h.sessions.Get(r.Context(), cookie.Value)
	if errors.Is(err, session.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		logger.Errorw("session lookup failed", "error", err)
		return nil, false
	}
	return sess, true
}

// finish clears the cookie and either renders the front-channel page or,
// when there are no frames to deliver, follows a registered post-logout
// redirect.
func (h *LogoutHandler) finish(w http.ResponseWriter, r *http.Request, frameSources []string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
	})

	if len(frameSources) == 0 {
		if target := h.postLogoutRedirect(r); target != "" {
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
	}

	page, err := logout.BuildPage(frameSources, h.cookieName)
	if err != nil {
		logger.Errorw("logout page rendering failed", "error", err)
		writeError(w, oauth.ErrServerError.WithDescription("Logout page rendering failed"))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", page.CSP)
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(page.HTML); err != nil {
		logger.Errorw("logout page write failed", "error", err)
	}
}

// postLogoutRedirect validates post_logout_redirect_uri against the
// client named by client_id. An unregistered target is ignored rather than
// followed.
func (h *LogoutHandler) postLogoutRedirect(r *http.Request) string {
	target := r.FormValue("post_logout_redirect_uri")
	clientID := r.FormValue("client_id")
	if target == "" || clientID == "" {
		return ""
	}

	c, err := h.clients.GetClient(r.Context(), clientID)
	if err != nil {
		return ""
	}
	if !c.HasPostLogoutRedirectURI(target) {
		logger.Warnw("unregistered post-logout redirect rejected", "client_id", clientID, "uri", target)
		return ""
	}
	return target
}
