// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"

	"github.com/openauthd/openauthd/pkg/authserver/metrics"
	"github.com/openauthd/openauthd/pkg/authserver/storage"
	"github.com/openauthd/openauthd/pkg/logger"
)

// Rate-limit scopes in the KV namespace.
const (
	limitScopeUserCode = "user_code"
	limitScopeIP       = "ip"
)

// LimiterConfig tunes the user-code verification rate limiter.
type LimiterConfig struct {
	// MaxFailuresBeforeBackoff is how many mismatched attempts a single
	// user code absorbs before exponential blocking starts.
	MaxFailuresBeforeBackoff int

	// MaxBackoffDuration caps the per-code block.
	MaxBackoffDuration time.Duration

	// Window is the per-IP sliding window.
	Window time.Duration

	// MaxIPFailuresPerWindow is the failure budget per IP inside the
	// window.
	MaxIPFailuresPerWindow int
}

// DefaultLimiterConfig returns the production defaults.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		MaxFailuresBeforeBackoff: 3,
		MaxBackoffDuration:       5 * time.Minute,
		Window:                   time.Minute,
		MaxIPFailuresPerWindow:   10,
	}
}

// limitState is the persisted counter per user code or IP.
type limitState struct {
	FirstFailureAt time.Time `json:"first_failure_at"`
	LastFailureAt  time.Time `json:"last_failure_at"`
	FailureCount   int       `json:"failure_count"`
	BlockedUntil   time.Time `json:"blocked_until,omitempty"`
}

// Limiter throttles user-code verification: exponential backoff per user
// code, a sliding failure window per IP. Blocked attempts are security
// events and are logged as such.
type Limiter struct {
	kv    storage.Store
	keys  storage.KeyFactory
	cfg   LimiterConfig
	clock clockwork.Clock
}

// NewLimiter creates a rate limiter.
func NewLimiter(kv storage.Store, keys storage.KeyFactory, cfg LimiterConfig, clock clockwork.Clock) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.MaxFailuresBeforeBackoff <= 0 {
		cfg.MaxFailuresBeforeBackoff = DefaultLimiterConfig().MaxFailuresBeforeBackoff
	}
	if cfg.MaxBackoffDuration <= 0 {
		cfg.MaxBackoffDuration = DefaultLimiterConfig().MaxBackoffDuration
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultLimiterConfig().Window
	}
	if cfg.MaxIPFailuresPerWindow <= 0 {
		cfg.MaxIPFailuresPerWindow = DefaultLimiterConfig().MaxIPFailuresPerWindow
	}
	return &Limiter{kv: kv, keys: keys, cfg: cfg, clock: clock}
}

// Check reports whether a verification attempt may proceed. A non-zero
// retry-after means the attempt is blocked for that long.
func (l *Limiter) Check(ctx context.Context, userCode, ip string) (time.Duration, error) {
	now := l.clock.Now()

	codeState, err := l.load(ctx, limitScopeUserCode, userCode)
	if err != nil {
		return 0, err
	}
	if codeState.BlockedUntil.After(now) {
		retry := codeState.BlockedUntil.Sub(now)
		logger.Warnw("user code verification blocked by backoff",
			"retry_after", retry, "failures", codeState.FailureCount)
		metrics.RateLimitedAttempts.WithLabelValues(limitScopeUserCode).Inc()
		return retry, nil
	}

	ipState, err := l.load(ctx, limitScopeIP, ip)
	if err != nil {
		return 0, err
	}
	if ipState.FailureCount >= l.cfg.MaxIPFailuresPerWindow {
		elapsed := now.Sub(ipState.FirstFailureAt)
		if elapsed < l.cfg.Window {
			retry := l.cfg.Window - elapsed
			logger.Warnw("user code verification blocked by ip rate limit",
				"ip", ip, "retry_after", retry)
			metrics.RateLimitedAttempts.WithLabelValues(limitScopeIP).Inc()
			return retry, nil
		}
	}

	return 0, nil
}

// Failure records a mismatched user-code attempt against both counters.
func (l *Limiter) Failure(ctx context.Context, userCode, ip string) error {
	now := l.clock.Now().UTC()

	codeState, err := l.load(ctx, limitScopeUserCode, userCode)
	if err != nil {
		return err
	}
	if codeState.FailureCount == 0 {
		codeState.FirstFailureAt = now
	}
	codeState.FailureCount++
	codeState.LastFailureAt = now
	if over := codeState.FailureCount - l.cfg.MaxFailuresBeforeBackoff; over >= 0 {
		codeState.BlockedUntil = now.Add(l.backoffDuration(over))
	}
	if err := l.save(ctx, limitScopeUserCode, userCode, codeState); err != nil {
		return err
	}

	ipState, err := l.load(ctx, limitScopeIP, ip)
	if err != nil {
		return err
	}
	if ipState.FailureCount == 0 || now.Sub(ipState.FirstFailureAt) >= l.cfg.Window {
		// The window rolled over; start counting afresh.
		ipState.FirstFailureAt = now
		ipState.FailureCount = 0
	}
	ipState.FailureCount++
	ipState.LastFailureAt = now
	return l.save(ctx, limitScopeIP, ip, ipState)
}

// Reset clears the per-code counter after a successful verification.
func (l *Limiter) Reset(ctx context.Context, userCode string) error {
	return l.kv.Remove(ctx, l.keys.RateLimit(limitScopeUserCode, userCode))
}

// backoffDuration computes the block applied after the counter crossed the
// threshold: 1s doubling per further failure, capped at the configured max.
func (l *Limiter) backoffDuration(over int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = l.cfg.MaxBackoffDuration

	d := bo.NextBackOff()
	for range over {
		d = bo.NextBackOff()
	}
	return min(d, l.cfg.MaxBackoffDuration)
}

func (l *Limiter) load(ctx context.Context, scope, id string) (*limitState, error) {
	data, err := l.kv.Get(ctx, l.keys.RateLimit(scope, id))
	if errors.Is(err, storage.ErrNotFound) {
		return &limitState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("device: load rate limit state: %w", err)
	}

	var st limitState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("device: unmarshal rate limit state: %w", err)
	}
	return &st, nil
}

func (l *Limiter) save(ctx context.Context, scope, id string, st *limitState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("device: marshal rate limit state: %w", err)
	}

	// Keep the state around long enough for the longest block it can
	// encode.
	ttl := l.cfg.Window
	if l.cfg.MaxBackoffDuration > ttl {
		ttl = l.cfg.MaxBackoffDuration
	}
	if err := l.kv.Set(ctx, l.keys.RateLimit(scope, id), data, 2*ttl); err != nil {
		return fmt.Errorf("device: store rate limit state: %w", err)
	}
	return nil
}
