// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

// Package device implements the OAuth 2.0 device authorization grant
// (RFC 8628): code issuance, the user-code verification surface with its
// rate limiter, and token-endpoint polling.
package device

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/authserver/session"
	"github.com/openauthd/openauthd/pkg/authserver/storage"
	"github.com/openauthd/openauthd/pkg/authserver/token"
	"github.com/openauthd/openauthd/pkg/logger"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// Status is the lifecycle state of a device authorization request. Expiry
// is enforced by the record TTL plus an explicit check, so there is no
// stored Expired state.
type Status string

// Request states.
const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusDenied     Status = "denied"
)

// Default transaction parameters, used when the engine is constructed with
// zero values.
const (
	DefaultCodeLifetime = 10 * time.Minute
	DefaultPollInterval = 5 * time.Second
)

// userCodeCharset deliberately omits vowels and easily-confused letters so
// codes are unambiguous to read aloud.
const userCodeCharset = "BCDFGHJKLMNPQRSTVWXZ"

// Sentinel errors for the verification surface.
var (
	// ErrUnknownRequest indicates the device code has no live record.
	ErrUnknownRequest = errors.New("device: unknown authorization request")

	// ErrUnknownUserCode indicates the user code matched no pending request.
	ErrUnknownUserCode = errors.New("device: unknown user code")
)

// RateLimitedError reports a blocked verification attempt and how long the
// caller must wait before retrying.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("device: verification rate limited, retry after %s", e.RetryAfter)
}

type record struct {
	DeviceCode   string                 `json:"device_code"`
	UserCode     string                 `json:"user_code"`
	ClientID     string                 `json:"client_id"`
	Scopes       []string               `json:"scopes,omitempty"`
	Resources    []string               `json:"resources,omitempty"`
	Status       Status                 `json:"status"`
	Grant        *token.AuthorizedGrant `json:"grant,omitempty"`
	ExpiresAt    time.Time              `json:"expires_at"`
	LastPolledAt time.Time              `json:"last_polled_at,omitempty"`
}

// Engine owns the device authorization lifecycle.
type Engine struct {
	kv              storage.Store
	keys            storage.KeyFactory
	limiter         *Limiter
	clock           clockwork.Clock
	lifetime        time.Duration
	interval        time.Duration
	verificationURI string
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithCodeLifetime overrides the device/user code lifetime.
func WithCodeLifetime(d time.Duration) EngineOption {
	return func(e *Engine) { e.lifetime = d }
}

// WithPollInterval overrides the minimum client poll interval.
func WithPollInterval(d time.Duration) EngineOption {
	return func(e *Engine) { e.interval = d }
}

// NewEngine creates a device-flow engine. verificationURI is the page the
// end user is told to visit.
func NewEngine(kv storage.Store, keys storage.KeyFactory, limiter *Limiter,
	verificationURI string, clock clockwork.Clock, opts ...EngineOption) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	e := &Engine{
		kv:              kv,
		keys:            keys,
		limiter:         limiter,
		clock:           clock,
		lifetime:        DefaultCodeLifetime,
		interval:        DefaultPollInterval,
		verificationURI: verificationURI,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Authorize opens a new device authorization transaction: a long opaque
// device code for the polling client and a short human-typeable user code,
// indexed separately but sharing one TTL.
func (e *Engine) Authorize(ctx context.Context, c *client.Client, scopes, resources []string) (*oauth.DeviceAuthorizationResponse, error) {
	if !c.AllowsGrantType(oauth.GrantTypeDeviceCode) {
		return nil, oauth.ErrUnauthorizedClient.WithDescription("The client is not authorized for the device grant")
	}
	for _, s := range scopes {
		if !c.AllowsScope(s) {
			return nil, oauth.ErrInvalidScope.WithDescription("The scope %q is not allowed for this client", s)
		}
	}

	deviceCode, err := token.NewOpaqueToken()
	if err != nil {
		return nil, oauth.ErrServerError.WithDescription("Device code generation failed")
	}
	userCode, err := newUserCode()
	if err != nil {
		return nil, oauth.ErrServerError.WithDescription("User code generation failed")
	}

	rec := &record{
		DeviceCode: deviceCode,
		UserCode:   userCode,
		ClientID:   c.ID,
		Scopes:     scopes,
		Resources:  resources,
		Status:     StatusPending,
		ExpiresAt:  e.clock.Now().Add(e.lifetime).UTC(),
	}
	if err := e.save(ctx, rec); err != nil {
		logger.Errorw("device request storage failed", "client_id", c.ID, "error", err)
		return nil, oauth.ErrServerError.WithDescription("Request storage failed")
	}

	return &oauth.DeviceAuthorizationResponse{
		DeviceCode:              deviceCode,
		UserCode:                userCode,
		VerificationURI:         e.verificationURI,
		VerificationURIComplete: e.verificationURI + "?user_code=" + url.QueryEscape(userCode),
		ExpiresIn:               int64(e.lifetime.Seconds()),
		Interval:                int64(e.interval.Seconds()),
	}, nil
}

// VerifyUserCode resolves a user-typed code to its device code, enforcing
// the rate limiter. Mismatches are counted against both the code and the
// caller's IP; a match clears the per-code counter.
func (e *Engine) VerifyUserCode(ctx context.Context, userCode, remoteIP string) (string, error) {
	normalized, ok := NormalizeUserCode(userCode)
	if !ok {
		// Malformed input still burns a rate-limit token, or attackers
		// would probe for free.
		if err := e.limiter.Failure(ctx, normalized, remoteIP); err != nil {
			return "", err
		}
		return "", ErrUnknownUserCode
	}

	retry, err := e.limiter.Check(ctx, normalized, remoteIP)
	if err != nil {
		return "", err
	}
	if retry > 0 {
		return "", &RateLimitedError{RetryAfter: retry}
	}

	data, err := e.kv.Get(ctx, e.keys.UserCode(normalized))
	if errors.Is(err, storage.ErrNotFound) {
		if err := e.limiter.Failure(ctx, normalized, remoteIP); err != nil {
			return "", err
		}
		logger.Warnw("user code verification failed", "ip", remoteIP)
		return "", ErrUnknownUserCode
	}
	if err != nil {
		return "", fmt.Errorf("device: resolve user code: %w", err)
	}

	if err := e.limiter.Reset(ctx, normalized); err != nil {
		logger.Warnw("rate limit reset failed", "error", err)
	}
	return string(data), nil
}

// Approve records the end user's approval for the device code. The user
// code index is dropped immediately: the code has served its purpose and
// must not resolve twice.
func (e *Engine) Approve(ctx context.Context, deviceCode string, sess *session.AuthSession) error {
	rec, err := e.load(ctx, deviceCode)
	if err != nil {
		return err
	}

	rec.Status = StatusAuthorized
	rec.Grant = &token.AuthorizedGrant{
		Session: sess,
		Context: &token.AuthorizationContext{
			ClientID:  rec.ClientID,
			Scopes:    rec.Scopes,
			Resources: rec.Resources,
		},
	}
	if err := e.save(ctx, rec); err != nil {
		return err
	}
	return e.removeUserCode(ctx, rec.UserCode)
}

// Deny records the end user's refusal. The device keeps polling until it
// collects the access_denied answer.
func (e *Engine) Deny(ctx context.Context, deviceCode string) error {
	rec, err := e.load(ctx, deviceCode)
	if err != nil {
		return err
	}

	rec.Status = StatusDenied
	rec.Grant = nil
	if err := e.save(ctx, rec); err != nil {
		return err
	}
	return e.removeUserCode(ctx, rec.UserCode)
}

// Redeem resolves a token endpoint poll for the device code. Terminal
// outcomes consume both records; pending outcomes write the primary back
// with the poll throttle state updated.
func (e *Engine) Redeem(ctx context.Context, c *client.Client, deviceCode string) (*token.AuthorizedGrant, error) {
	data, err := e.kv.GetDel(ctx, e.keys.DeviceCode(deviceCode))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, oauth.ErrInvalidGrant.WithDescription("The device_code is unknown or has expired")
	}
	if err != nil {
		logger.Errorw("device request load failed", "error", err)
		return nil, oauth.ErrServerError.WithDescription("Request lookup failed")
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, oauth.ErrServerError.WithDescription("Request decoding failed")
	}

	now := e.clock.Now()
	if now.After(rec.ExpiresAt) {
		if err := e.removeUserCode(ctx, rec.UserCode); err != nil {
			logger.Warnw("user code cleanup failed", "error", err)
		}
		return nil, oauth.ErrExpiredToken.WithDescription("The device_code has expired")
	}

	if rec.ClientID != c.ID {
		// Not this client's transaction; put it back untouched.
		if err := e.save(ctx, &rec); err != nil {
			logger.Errorw("device request restore failed", "error", err)
		}
		logger.Warnw("device code redemption by wrong client", "client_id", c.ID, "owner", rec.ClientID)
		return nil, oauth.ErrInvalidGrant.WithDescription("The device_code was issued to another client")
	}

	switch rec.Status {
	case StatusAuthorized:
		if err := e.removeUserCode(ctx, rec.UserCode); err != nil {
			logger.Warnw("user code cleanup failed", "error", err)
		}
		return rec.Grant, nil
	case StatusDenied:
		if err := e.removeUserCode(ctx, rec.UserCode); err != nil {
			logger.Warnw("user code cleanup failed", "error", err)
		}
		return nil, oauth.ErrAccessDenied.WithDescription("The end-user denied the authorization request")
	default:
		throttled := !rec.LastPolledAt.IsZero() && now.Sub(rec.LastPolledAt) < e.interval
		if !throttled {
			rec.LastPolledAt = now.UTC()
		}
		if err := e.save(ctx, &rec); err != nil {
			logger.Errorw("device request restore failed", "error", err)
			return nil, oauth.ErrServerError.WithDescription("Request storage failed")
		}
		if throttled {
			return nil, oauth.ErrSlowDown.WithDescription("Polling faster than the advertised interval")
		}
		return nil, oauth.ErrAuthorizationPending.WithDescription("The end-user has not yet approved the request")
	}
}

// NormalizeUserCode canonicalizes user input to the stored XXXX-XXXX form,
// tolerating case, spaces, and a missing or misplaced dash. The boolean
// reports whether the input could possibly be a valid code.
func NormalizeUserCode(input string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.ToUpper(input) {
		switch {
		case r == ' ' || r == '-':
			continue
		case strings.ContainsRune(userCodeCharset, r):
			b.WriteRune(r)
		default:
			return "", false
		}
	}
	raw := b.String()
	if len(raw) != 8 {
		return raw, false
	}
	return raw[:4] + "-" + raw[4:], true
}

// newUserCode draws eight characters from the restricted charset, grouped
// for readability. 20^8 codes is enough entropy given the rate limiter.
func newUserCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	chars := make([]byte, 0, 9)
	for i, b := range buf {
		if i == 4 {
			chars = append(chars, '-')
		}
		chars = append(chars, userCodeCharset[int(b)%len(userCodeCharset)])
	}
	return string(chars), nil
}

func (e *Engine) load(ctx context.Context, deviceCode string) (*record, error) {
	data, err := e.kv.Get(ctx, e.keys.DeviceCode(deviceCode))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, deviceCode)
	}
	if err != nil {
		return nil, fmt.Errorf("device: load request: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("device: unmarshal request: %w", err)
	}
	if e.clock.Now().After(rec.ExpiresAt) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, deviceCode)
	}
	return &rec, nil
}

// save writes the primary record and, while the request is pending, the
// user-code index, both under the remaining TTL.
func (e *Engine) save(ctx context.Context, rec *record) error {
	ttl := rec.ExpiresAt.Sub(e.clock.Now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("device: marshal request: %w", err)
	}
	if err := e.kv.Set(ctx, e.keys.DeviceCode(rec.DeviceCode), data, ttl); err != nil {
		return fmt.Errorf("device: store request: %w", err)
	}
	if rec.Status == StatusPending {
		if err := e.kv.Set(ctx, e.keys.UserCode(rec.UserCode), []byte(rec.DeviceCode), ttl); err != nil {
			return fmt.Errorf("device: store user code index: %w", err)
		}
	}
	return nil
}

func (e *Engine) removeUserCode(ctx context.Context, userCode string) error {
	if userCode == "" {
		return nil
	}
	if err := e.kv.Remove(ctx, e.keys.UserCode(userCode)); err != nil {
		return fmt.Errorf("device: remove user code index: %w", err)
	}
	return nil
}
