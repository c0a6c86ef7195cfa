// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

// Package ciba implements Client-Initiated Backchannel Authentication: the
// backchannel authentication endpoint, the pending-request state machine,
// and poll/ping/push result delivery.
package ciba

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/authserver/metrics"
	"github.com/openauthd/openauthd/pkg/authserver/session"
	"github.com/openauthd/openauthd/pkg/authserver/storage"
	"github.com/openauthd/openauthd/pkg/authserver/token"
	"github.com/openauthd/openauthd/pkg/logger"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// Status is the lifecycle state of a backchannel authentication request.
type Status string

// Request states. Expiry is enforced by the record TTL plus an explicit
// check, so there is no stored Expired state.
const (
	StatusPending       Status = "pending"
	StatusAuthenticated Status = "authenticated"
	StatusDenied        Status = "denied"
)

// Default transaction parameters, used when the engine is constructed with
// zero values.
const (
	DefaultLifetime     = 5 * time.Minute
	DefaultPollInterval = 5 * time.Second
)

// ErrUnknownRequest indicates the auth_req_id has no live record.
var ErrUnknownRequest = errors.New("ciba: unknown authentication request")

// TokenIssuer mints a full token bundle for push delivery.
type TokenIssuer interface {
	IssueForGrant(ctx context.Context, c *client.Client, grant *token.AuthorizedGrant) (*oauth.TokenResponse, error)
}

type record struct {
	AuthReqID         string                 `json:"auth_req_id"`
	ClientID          string                 `json:"client_id"`
	Scopes            []string               `json:"scopes,omitempty"`
	Resources         []string               `json:"resources,omitempty"`
	BindingMessage    string                 `json:"binding_message,omitempty"`
	Status            Status                 `json:"status"`
	Grant             *token.AuthorizedGrant `json:"grant,omitempty"`
	NotificationToken string                 `json:"notification_token,omitempty"`
	ExpiresAt         time.Time              `json:"expires_at"`
	LastPolledAt      time.Time              `json:"last_polled_at,omitempty"`
}

// Engine owns the CIBA request lifecycle.
type Engine struct {
	kv       storage.Store
	keys     storage.KeyFactory
	clients  client.Provider
	issuer   TokenIssuer
	http     *http.Client
	clock    clockwork.Clock
	lifetime time.Duration
	interval time.Duration
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithLifetime overrides the transaction lifetime.
func WithLifetime(d time.Duration) EngineOption {
	return func(e *Engine) { e.lifetime = d }
}

// WithPollInterval overrides the minimum client poll interval.
func WithPollInterval(d time.Duration) EngineOption {
	return func(e *Engine) { e.interval = d }
}

// WithHTTPClient overrides the notification HTTP client.
func WithHTTPClient(c *http.Client) EngineOption {
	return func(e *Engine) { e.http = c }
}

// NewEngine creates a CIBA engine. issuer is required for push-mode clients
// and may be nil otherwise.
func NewEngine(kv storage.Store, keys storage.KeyFactory, clients client.Provider,
	issuer TokenIssuer, clock clockwork.Clock, opts ...EngineOption) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	e := &Engine{
		kv:       kv,
		keys:     keys,
		clients:  clients,
		issuer:   issuer,
		http:     &http.Client{Timeout: 10 * time.Second},
		clock:    clock,
		lifetime: DefaultLifetime,
		interval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetTokenIssuer installs the push-delivery token issuer after
// construction. The engine and the token pipeline reference each other, so
// one side has to be wired late; call this before serving traffic.
func (e *Engine) SetTokenIssuer(issuer TokenIssuer) {
	e.issuer = issuer
}

// InitiateRequest is the parsed backchannel authentication request.
type InitiateRequest struct {
	Scopes                  []string
	Resources               []string
	BindingMessage          string
	ClientNotificationToken string
}

// Initiate opens a new backchannel authentication transaction.
func (e *Engine) Initiate(ctx context.Context, c *client.Client, req InitiateRequest) (*oauth.BackchannelAuthenticationResponse, error) {
	if !c.AllowsGrantType(oauth.GrantTypeCIBA) {
		return nil, oauth.ErrUnauthorizedClient.WithDescription("The client is not authorized for CIBA")
	}
	for _, s := range req.Scopes {
		if !c.AllowsScope(s) {
			return nil, oauth.ErrInvalidScope.WithDescription("The scope %q is not allowed for this client", s)
		}
	}
	if c.CIBADeliveryMode != oauth.CIBADeliveryPoll && req.ClientNotificationToken == "" {
		return nil, oauth.ErrInvalidRequest.WithDescription(
			"The client_notification_token parameter is required for %s delivery", c.CIBADeliveryMode)
	}

	authReqID, err := token.NewOpaqueToken()
	if err != nil {
		return nil, oauth.ErrServerError.WithDescription("Request id generation failed")
	}

	rec := &record{
		AuthReqID:         authReqID,
		ClientID:          c.ID,
		Scopes:            req.Scopes,
		Resources:         req.Resources,
		BindingMessage:    req.BindingMessage,
		Status:            StatusPending,
		NotificationToken: req.ClientNotificationToken,
		ExpiresAt:         e.clock.Now().Add(e.lifetime).UTC(),
	}
	if err := e.save(ctx, rec); err != nil {
		logger.Errorw("CIBA request storage failed", "client_id", c.ID, "error", err)
		return nil, oauth.ErrServerError.WithDescription("Request storage failed")
	}

	resp := &oauth.BackchannelAuthenticationResponse{
		AuthReqID: authReqID,
		ExpiresIn: int64(e.lifetime.Seconds()),
	}
	if c.CIBADeliveryMode == oauth.CIBADeliveryPoll || c.CIBADeliveryMode == oauth.CIBADeliveryPing {
		resp.Interval = int64(e.interval.Seconds())
	}
	return resp, nil
}

// Approve records the out-of-band user approval and delivers the result per
// the client's delivery mode. The storage transition is durable before any
// notification leaves the server.
func (e *Engine) Approve(ctx context.Context, authReqID string, sess *session.AuthSession) error {
	rec, err := e.load(ctx, authReqID)
	if err != nil {
		return err
	}

	c, err := e.clients.GetClient(ctx, rec.ClientID)
	if err != nil {
		return fmt.Errorf("ciba: resolve client %s: %w", rec.ClientID, err)
	}

	rec.Status = StatusAuthenticated
	rec.Grant = &token.AuthorizedGrant{
		Session: sess,
		Context: &token.AuthorizationContext{
			ClientID:  rec.ClientID,
			Scopes:    rec.Scopes,
			Resources: rec.Resources,
		},
	}

	switch c.CIBADeliveryMode {
	case oauth.CIBADeliveryPoll:
		return e.save(ctx, rec)
	case oauth.CIBADeliveryPing:
		if err := e.save(ctx, rec); err != nil {
			return err
		}
		e.ping(ctx, c, rec)
		return nil
	case oauth.CIBADeliveryPush:
		return e.push(ctx, c, rec)
	default:
		return fmt.Errorf("ciba: client %s: unsupported delivery mode %q", c.ID, c.CIBADeliveryMode)
	}
}

// Deny records the user's refusal. Ping clients are still notified so they
// stop waiting; push clients get nothing to push and just keep the denied
// record for their next poll-style error.
func (e *Engine) Deny(ctx context.Context, authReqID string) error {
	rec, err := e.load(ctx, authReqID)
	if err != nil {
		return err
	}

	rec.Status = StatusDenied
	rec.Grant = nil
	if err := e.save(ctx, rec); err != nil {
		return err
	}

	c, err := e.clients.GetClient(ctx, rec.ClientID)
	if err != nil {
		return fmt.Errorf("ciba: resolve client %s: %w", rec.ClientID, err)
	}
	if c.CIBADeliveryMode == oauth.CIBADeliveryPing {
		e.ping(ctx, c, rec)
	}
	return nil
}

// Redeem resolves a token endpoint poll for the transaction. Terminal
// outcomes consume the record; pending outcomes write it back with the poll
// throttle state updated.
func (e *Engine) Redeem(ctx context.Context, c *client.Client, authReqID string) (*token.AuthorizedGrant, error) {
	data, err := e.kv.GetDel(ctx, e.keys.CIBARequest(authReqID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, oauth.ErrInvalidGrant.WithDescription("The auth_req_id is unknown or has expired")
	}
	if err != nil {
		logger.Errorw("CIBA request load failed", "error", err)
		return nil, oauth.ErrServerError.WithDescription("Request lookup failed")
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, oauth.ErrServerError.WithDescription("Request decoding failed")
	}

	now := e.clock.Now()
	if now.After(rec.ExpiresAt) {
		return nil, oauth.ErrExpiredToken.WithDescription("The authentication request has expired")
	}

	if rec.ClientID != c.ID {
		// Not this client's transaction; put it back untouched.
		if err := e.save(ctx, &rec); err != nil {
			logger.Errorw("CIBA request restore failed", "error", err)
		}
		logger.Warnw("CIBA redemption by wrong client", "client_id", c.ID, "owner", rec.ClientID)
		return nil, oauth.ErrInvalidGrant.WithDescription("The auth_req_id was issued to another client")
	}

	switch rec.Status {
	case StatusAuthenticated:
		return rec.Grant, nil
	case StatusDenied:
		return nil, oauth.ErrAccessDenied.WithDescription("The end-user denied the authentication request")
	default:
		throttled := !rec.LastPolledAt.IsZero() && now.Sub(rec.LastPolledAt) < e.interval
		if !throttled {
			rec.LastPolledAt = now.UTC()
		}
		if err := e.save(ctx, &rec); err != nil {
			logger.Errorw("CIBA request restore failed", "error", err)
			return nil, oauth.ErrServerError.WithDescription("Request storage failed")
		}
		if throttled {
			return nil, oauth.ErrSlowDown.WithDescription("Polling faster than the advertised interval")
		}
		return nil, oauth.ErrAuthorizationPending.WithDescription("The end-user has not yet been authenticated")
	}
}

// ping POSTs {"authenticationRequestId": ...} to the client notification
// endpoint. One attempt, best effort: failures are logged and swallowed.
func (e *Engine) ping(ctx context.Context, c *client.Client, rec *record) {
	body, err := json.Marshal(map[string]string{"authenticationRequestId": rec.AuthReqID})
	if err != nil {
		logger.Errorw("CIBA ping payload encoding failed", "client_id", c.ID, "error", err)
		return
	}

	resp, err := e.notify(ctx, c.CIBANotificationEndpoint, rec.NotificationToken, "application/json", body)
	if err != nil {
		logger.Errorw("CIBA ping notification failed", "client_id", c.ID,
			"endpoint", c.CIBANotificationEndpoint, "error", err)
		metrics.BackchannelNotifications.WithLabelValues("ciba_ping", "error").Inc()
		return
	}
	if resp < 200 || resp > 299 {
		logger.Warnw("CIBA ping notification rejected", "client_id", c.ID,
			"endpoint", c.CIBANotificationEndpoint, "status", resp)
		metrics.BackchannelNotifications.WithLabelValues("ciba_ping", "rejected").Inc()
		return
	}
	metrics.BackchannelNotifications.WithLabelValues("ciba_ping", "ok").Inc()
}

// push mints the token bundle and delivers it to the notification endpoint.
// Minting failures flip the record to denied so the client's next poll gets
// a terminal answer instead of waiting out the TTL.
func (e *Engine) push(ctx context.Context, c *client.Client, rec *record) error {
	deny := func(reason string) error {
		rec.Status = StatusDenied
		rec.Grant = nil
		logger.Warnw("CIBA push delivery abandoned", "client_id", c.ID, "reason", reason)
		return e.save(ctx, rec)
	}

	if c.CIBANotificationEndpoint == "" {
		return deny("no client notification endpoint registered")
	}
	if e.issuer == nil {
		return deny("no token issuer configured")
	}

	bundle, err := e.issuer.IssueForGrant(ctx, c, rec.Grant)
	if err != nil {
		return deny(fmt.Sprintf("token minting failed: %v", err))
	}

	// Persist the authenticated state before delivery so a crash between
	// the two steps cannot lose the approval.
	if err := e.save(ctx, rec); err != nil {
		return err
	}

	payload := struct {
		AuthReqID string `json:"auth_req_id"`
		*oauth.TokenResponse
	}{AuthReqID: rec.AuthReqID, TokenResponse: bundle}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ciba: encode push payload: %w", err)
	}

	status, err := e.notify(ctx, c.CIBANotificationEndpoint, rec.NotificationToken, "application/json", body)
	switch {
	case err != nil:
		logger.Errorw("CIBA push delivery failed", "client_id", c.ID,
			"endpoint", c.CIBANotificationEndpoint, "error", err)
		metrics.BackchannelNotifications.WithLabelValues("ciba_push", "error").Inc()
	case status < 200 || status > 299:
		logger.Warnw("CIBA push delivery rejected", "client_id", c.ID,
			"endpoint", c.CIBANotificationEndpoint, "status", status)
		metrics.BackchannelNotifications.WithLabelValues("ciba_push", "rejected").Inc()
	default:
		metrics.BackchannelNotifications.WithLabelValues("ciba_push", "ok").Inc()
	}

	// Push is terminal: the tokens left the building, the record goes.
	return e.remove(ctx, rec.AuthReqID)
}

func (e *Engine) notify(ctx context.Context, endpoint, bearer, contentType string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := e.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (e *Engine) load(ctx context.Context, authReqID string) (*record, error) {
	data, err := e.kv.Get(ctx, e.keys.CIBARequest(authReqID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, authReqID)
	}
	if err != nil {
		return nil, fmt.Errorf("ciba: load request: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("ciba: unmarshal request: %w", err)
	}
	if e.clock.Now().After(rec.ExpiresAt) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, authReqID)
	}
	return &rec, nil
}

func (e *Engine) save(ctx context.Context, rec *record) error {
	ttl := rec.ExpiresAt.Sub(e.clock.Now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ciba: marshal request: %w", err)
	}
	if err := e.kv.Set(ctx, e.keys.CIBARequest(rec.AuthReqID), data, ttl); err != nil {
		return fmt.Errorf("ciba: store request: %w", err)
	}
	return nil
}

func (e *Engine) remove(ctx context.Context, authReqID string) error {
	if err := e.kv.Remove(ctx, e.keys.CIBARequest(authReqID)); err != nil {
		return fmt.Errorf("ciba: remove request: %w", err)
	}
	return nil
}
