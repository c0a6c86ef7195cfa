// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/authserver/session"
	"github.com/openauthd/openauthd/pkg/authserver/storage"
	"github.com/openauthd/openauthd/pkg/oauth"
)

const verificationURI = "https://op.example.com/device"

type deviceFixture struct {
	engine  *Engine
	limiter *Limiter
	clock   *clockwork.FakeClock
}

func newDeviceFixture(t *testing.T, limits LimiterConfig, opts ...EngineOption) *deviceFixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Unix(1756000000, 0))
	kv := storage.NewMemoryStore(storage.WithClock(clock))
	t.Cleanup(func() {
		require.NoError(t, kv.Close())
	})

	keys := storage.NewKeyFactory("test:")
	limiter := NewLimiter(kv, keys, limits, clock)
	engine := NewEngine(kv, keys, limiter, verificationURI, clock, opts...)
	return &deviceFixture{engine: engine, limiter: limiter, clock: clock}
}

func deviceClient() *client.Client {
	return &client.Client{
		ID:         "c1",
		GrantTypes: []oauth.GrantType{oauth.GrantTypeDeviceCode},
		Scopes:     []string{"openid", "api:read"},
	}
}

func deviceSession() *session.AuthSession {
	return &session.AuthSession{
		Subject:         "u1",
		SessionID:       "s1",
		AuthenticatedAt: time.Unix(1756000000, 0).UTC(),
	}
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDeviceFixture(t, LimiterConfig{})
	c := deviceClient()

	t.Run("grant type not registered", func(t *testing.T) {
		bare := &client.Client{ID: "c2", GrantTypes: []oauth.GrantType{oauth.GrantTypeAuthorizationCode}}
		_, err := f.engine.Authorize(ctx, bare, nil, nil)
		assert.ErrorIs(t, err, oauth.ErrUnauthorizedClient)
	})

	t.Run("scope not allowed", func(t *testing.T) {
		_, err := f.engine.Authorize(ctx, c, []string{"admin"}, nil)
		assert.ErrorIs(t, err, oauth.ErrInvalidScope)
	})

	t.Run("success", func(t *testing.T) {
		resp, err := f.engine.Authorize(ctx, c, []string{"openid"}, nil)
		require.NoError(t, err)

		assert.NotEmpty(t, resp.DeviceCode)
		assert.Regexp(t, `^[BCDFGHJKLMNPQRSTVWXZ]{4}-[BCDFGHJKLMNPQRSTVWXZ]{4}$`, resp.UserCode)
		assert.Equal(t, verificationURI, resp.VerificationURI)
		assert.Equal(t, verificationURI+"?user_code="+resp.UserCode, resp.VerificationURIComplete)
		assert.Equal(t, int64(DefaultCodeLifetime.Seconds()), resp.ExpiresIn)
		assert.Equal(t, int64(DefaultPollInterval.Seconds()), resp.Interval)
	})
}

func TestVerifyUserCode(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDeviceFixture(t, LimiterConfig{})
	c := deviceClient()

	resp, err := f.engine.Authorize(ctx, c, []string{"openid"}, nil)
	require.NoError(t, err)

	t.Run("unknown code counts as failure", func(t *testing.T) {
		_, err := f.engine.VerifyUserCode(ctx, "ZZZZ-ZZZZ", "198.51.100.7")
		assert.ErrorIs(t, err, ErrUnknownUserCode)
	})

	t.Run("resolves with sloppy input", func(t *testing.T) {
		sloppy := strings.ToLower(strings.ReplaceAll(resp.UserCode, "-", " "))
		deviceCode, err := f.engine.VerifyUserCode(ctx, sloppy, "198.51.100.7")
		require.NoError(t, err)
		assert.Equal(t, resp.DeviceCode, deviceCode)
	})
}

func TestVerifyUserCode_BackoffAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDeviceFixture(t, LimiterConfig{
		MaxFailuresBeforeBackoff: 3,
		MaxBackoffDuration:       time.Minute,
	})

	// Three misses on the same code cross the threshold; the third arms a
	// one second block (2^0).
	for range 3 {
		_, err := f.engine.VerifyUserCode(ctx, "ZZZZ-ZZZZ", "198.51.100.7")
		require.ErrorIs(t, err, ErrUnknownUserCode)
	}

	_, err := f.engine.VerifyUserCode(ctx, "ZZZZ-ZZZZ", "198.51.100.7")
	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, time.Second, limited.RetryAfter)

	// Once the block elapses the attempt is admitted again, and the next
	// failure doubles the block.
	f.clock.Advance(time.Second)
	_, err = f.engine.VerifyUserCode(ctx, "ZZZZ-ZZZZ", "198.51.100.7")
	require.ErrorIs(t, err, ErrUnknownUserCode)

	_, err = f.engine.VerifyUserCode(ctx, "ZZZZ-ZZZZ", "198.51.100.7")
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 2*time.Second, limited.RetryAfter)
}

func TestVerifyUserCode_BackoffIsCapped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDeviceFixture(t, LimiterConfig{
		MaxFailuresBeforeBackoff: 1,
		MaxBackoffDuration:       4 * time.Second,
	})

	blocks := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}
	for _, want := range blocks {
		_, err := f.engine.VerifyUserCode(ctx, "ZZZZ-ZZZZ", "198.51.100.7")
		require.ErrorIs(t, err, ErrUnknownUserCode)

		_, err = f.engine.VerifyUserCode(ctx, "ZZZZ-ZZZZ", "198.51.100.7")
		var limited *RateLimitedError
		require.ErrorAs(t, err, &limited)
		assert.Equal(t, want, limited.RetryAfter)

		f.clock.Advance(want)
	}
}

func TestVerifyUserCode_PerIPWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDeviceFixture(t, LimiterConfig{
		MaxFailuresBeforeBackoff: 100, // keep the per-code policy out of the way
		Window:                   time.Minute,
		MaxIPFailuresPerWindow:   3,
	})
	c := deviceClient()

	resp, err := f.engine.Authorize(ctx, c, []string{"openid"}, nil)
	require.NoError(t, err)

	// Spread the misses over distinct codes so only the IP counter trips.
	for _, code := range []string{"ZZZZ-ZZZB", "ZZZZ-ZZZC", "ZZZZ-ZZZD"} {
		_, err := f.engine.VerifyUserCode(ctx, code, "198.51.100.7")
		require.ErrorIs(t, err, ErrUnknownUserCode)
		f.clock.Advance(10 * time.Second)
	}

	// 30s into the window: even a correct code from this IP is rejected
	// with the remaining window as retry_after.
	_, err = f.engine.VerifyUserCode(ctx, resp.UserCode, "198.51.100.7")
	var limited *RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 30*time.Second, limited.RetryAfter)

	// A different IP is unaffected.
	deviceCode, err := f.engine.VerifyUserCode(ctx, resp.UserCode, "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, resp.DeviceCode, deviceCode)

	// The window rolls over and the blocked IP recovers. The user code
	// index is still live because verification does not consume it.
	f.clock.Advance(30 * time.Second)
	_, err = f.engine.VerifyUserCode(ctx, resp.UserCode, "198.51.100.7")
	require.NoError(t, err)
}

func TestRedeem_PollLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDeviceFixture(t, LimiterConfig{})
	c := deviceClient()

	resp, err := f.engine.Authorize(ctx, c, []string{"openid", "api:read"}, nil)
	require.NoError(t, err)

	// First poll: pending. Immediate second poll: slow_down.
	_, err = f.engine.Redeem(ctx, c, resp.DeviceCode)
	assert.ErrorIs(t, err, oauth.ErrAuthorizationPending)

	f.clock.Advance(time.Second)
	_, err = f.engine.Redeem(ctx, c, resp.DeviceCode)
	assert.ErrorIs(t, err, oauth.ErrSlowDown)

	// 6s after the accepted poll the throttle has cleared.
	f.clock.Advance(5 * time.Second)
	_, err = f.engine.Redeem(ctx, c, resp.DeviceCode)
	assert.ErrorIs(t, err, oauth.ErrAuthorizationPending)

	// User approves out of band; the next poll collects the grant.
	deviceCode, err := f.engine.VerifyUserCode(ctx, resp.UserCode, "198.51.100.7")
	require.NoError(t, err)
	require.NoError(t, f.engine.Approve(ctx, deviceCode, deviceSession()))

	f.clock.Advance(6 * time.Second)
	grant, err := f.engine.Redeem(ctx, c, resp.DeviceCode)
	require.NoError(t, err)
	assert.Equal(t, "u1", grant.Session.Subject)
	assert.Equal(t, "c1", grant.Context.ClientID)
	assert.Equal(t, []string{"openid", "api:read"}, grant.Context.Scopes)

	// Redemption is terminal for both indexes.
	_, err = f.engine.Redeem(ctx, c, resp.DeviceCode)
	assert.ErrorIs(t, err, oauth.ErrInvalidGrant)
	_, err = f.engine.VerifyUserCode(ctx, resp.UserCode, "198.51.100.7")
	assert.ErrorIs(t, err, ErrUnknownUserCode)
}

func TestRedeem_Denied(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDeviceFixture(t, LimiterConfig{})
	c := deviceClient()

	resp, err := f.engine.Authorize(ctx, c, []string{"openid"}, nil)
	require.NoError(t, err)
	require.NoError(t, f.engine.Deny(ctx, resp.DeviceCode))

	// The user code stops resolving as soon as the user answered.
	_, err = f.engine.VerifyUserCode(ctx, resp.UserCode, "198.51.100.7")
	assert.ErrorIs(t, err, ErrUnknownUserCode)

	_, err = f.engine.Redeem(ctx, c, resp.DeviceCode)
	assert.ErrorIs(t, err, oauth.ErrAccessDenied)

	_, err = f.engine.Redeem(ctx, c, resp.DeviceCode)
	assert.ErrorIs(t, err, oauth.ErrInvalidGrant)
}

func TestRedeem_WrongClientKeepsRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDeviceFixture(t, LimiterConfig{})
	c := deviceClient()

	resp, err := f.engine.Authorize(ctx, c, []string{"openid"}, nil)
	require.NoError(t, err)

	other := &client.Client{ID: "c2", GrantTypes: []oauth.GrantType{oauth.GrantTypeDeviceCode}}
	_, err = f.engine.Redeem(ctx, other, resp.DeviceCode)
	assert.ErrorIs(t, err, oauth.ErrInvalidGrant)

	// The rightful owner can still poll.
	_, err = f.engine.Redeem(ctx, c, resp.DeviceCode)
	assert.ErrorIs(t, err, oauth.ErrAuthorizationPending)
}

func TestRedeem_Expired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDeviceFixture(t, LimiterConfig{}, WithCodeLifetime(time.Minute))
	c := deviceClient()

	resp, err := f.engine.Authorize(ctx, c, []string{"openid"}, nil)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	_, err = f.engine.Redeem(ctx, c, resp.DeviceCode)
	assert.ErrorIs(t, err, oauth.ErrInvalidGrant)
}

func TestApprove_UnknownDeviceCode(t *testing.T) {
	t.Parallel()

	f := newDeviceFixture(t, LimiterConfig{})
	err := f.engine.Approve(context.Background(), "missing", deviceSession())
	assert.True(t, errors.Is(err, ErrUnknownRequest))
}

func TestNormalizeUserCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{name: "canonical", input: "BCDF-GHJK", want: "BCDF-GHJK", ok: true},
		{name: "lowercase no dash", input: "bcdfghjk", want: "BCDF-GHJK", ok: true},
		{name: "spaces", input: " BCDF GHJK ", want: "BCDF-GHJK", ok: true},
		{name: "too short", input: "BCDF", ok: false},
		{name: "vowel", input: "BCDF-GHJA", ok: false},
		{name: "digits", input: "1234-5678", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := NormalizeUserCode(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
