// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

// Package logout terminates single-sign-on sessions and notifies the
// relying parties: signed logout tokens over the back channel, an iframe
// page for the front channel.
package logout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/authserver/metrics"
	"github.com/openauthd/openauthd/pkg/authserver/session"
	"github.com/openauthd/openauthd/pkg/authserver/token"
	"github.com/openauthd/openauthd/pkg/logger"
)

// Orchestrator fans a session termination out to every client that signed
// in through the session.
type Orchestrator struct {
	clients  client.Provider
	sessions *session.Store
	minter   *token.Minter
	issuer   string
	http     *http.Client
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithHTTPClient overrides the back-channel HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Orchestrator) { o.http = c }
}

// NewOrchestrator creates a logout orchestrator. issuer must match the
// iss claim the token minter emits.
func NewOrchestrator(clients client.Provider, sessions *session.Store, minter *token.Minter,
	issuer string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		clients:  clients,
		sessions: sessions,
		minter:   minter,
		issuer:   issuer,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Result is the outcome of a session logout. BackChannelErrors carries the
// per-client delivery failures; the orchestrator never stops at the first
// one.
type Result struct {
	// FrameSources lists the front-channel logout URIs to embed in the
	// logout page, in client sign-in order.
	FrameSources []string

	// BackChannelErrors aggregates per-client back-channel failures.
	BackChannelErrors []error
}

// Logout destroys the session and notifies every affected client. The
// session is gone from storage before the first notification leaves the
// server, so a crash mid-fan-out cannot resurrect it.
func (o *Orchestrator) Logout(ctx context.Context, sess *session.AuthSession) (*Result, error) {
	if err := o.sessions.Delete(ctx, sess.SessionID); err != nil {
		return nil, fmt.Errorf("logout: delete session %s: %w", sess.SessionID, err)
	}

	res := &Result{}
	for _, clientID := range sess.AffectedClientIDs {
		c, err := o.clients.GetClient(ctx, clientID)
		if errors.Is(err, client.ErrNotFound) {
			// Deregistered since sign-in; nothing to notify.
			logger.Debugw("skipping logout for unknown client", "client_id", clientID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("logout: resolve client %s: %w", clientID, err)
		}

		if c.BackChannelLogoutURI != "" {
			if err := o.notifyBackChannel(ctx, c, sess); err != nil {
				logger.Errorw("back-channel logout failed", "client_id", c.ID, "error", err)
				res.BackChannelErrors = append(res.BackChannelErrors, err)
			}
		}

		if c.FrontChannelLogoutURI != "" {
			uri, err := o.frontChannelURI(c, sess.SessionID)
			if err != nil {
				return nil, err
			}
			res.FrameSources = append(res.FrameSources, uri)
		}
	}

	logger.Infow("session logged out", "session_id", sess.SessionID,
		"subject", sess.Subject, "clients", len(sess.AffectedClientIDs))
	return res, nil
}

// notifyBackChannel mints the logout token for one client and POSTs it as
// logout_token=<jwt>, form encoded. Non-2xx answers are warned; transport
// errors surface to the caller.
func (o *Orchestrator) notifyBackChannel(ctx context.Context, c *client.Client, sess *session.AuthSession) error {
	if c.BackChannelLogoutSessionRequired && sess.SessionID == "" {
		return fmt.Errorf("logout: client %s requires a session id for back-channel logout", c.ID)
	}

	logoutToken, err := o.minter.MintLogoutToken(ctx, c, sess.Subject, sess.SessionID)
	if err != nil {
		return fmt.Errorf("logout: mint logout token for client %s: %w", c.ID, err)
	}

	form := url.Values{"logout_token": {logoutToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BackChannelLogoutURI,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("logout: build back-channel request for client %s: %w", c.ID, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.http.Do(req)
	if err != nil {
		metrics.BackchannelNotifications.WithLabelValues("logout", "error").Inc()
		return fmt.Errorf("logout: back-channel delivery to client %s: %w", c.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Warnw("back-channel logout rejected", "client_id", c.ID,
			"endpoint", c.BackChannelLogoutURI, "status", resp.StatusCode)
		metrics.BackchannelNotifications.WithLabelValues("logout", "rejected").Inc()
		return nil
	}
	metrics.BackchannelNotifications.WithLabelValues("logout", "ok").Inc()
	return nil
}

// frontChannelURI shapes the iframe target for one client, appending iss
// and sid when the client asked for them.
func (o *Orchestrator) frontChannelURI(c *client.Client, sid string) (string, error) {
	if !c.FrontChannelLogoutSessionRequired {
		return c.FrontChannelLogoutURI, nil
	}
	if sid == "" {
		return "", fmt.Errorf("logout: client %s requires a session id for front-channel logout", c.ID)
	}

	u, err := url.Parse(c.FrontChannelLogoutURI)
	if err != nil {
		return "", fmt.Errorf("logout: client %s: invalid front-channel logout URI: %w", c.ID, err)
	}
	q := u.Query()
	q.Set("iss", o.issuer)
	q.Set("sid", sid)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
