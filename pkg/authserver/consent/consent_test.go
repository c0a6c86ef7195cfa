// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package consent

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openauthd/openauthd/pkg/authserver/session"
	"github.com/openauthd/openauthd/pkg/authserver/storage"
)

func newTestProvider(t *testing.T) (*StoreProvider, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Unix(1756000000, 0))
	kv := storage.NewMemoryStore(storage.WithClock(clock))
	t.Cleanup(func() {
		require.NoError(t, kv.Close())
	})
	return NewStoreProvider(kv, storage.NewKeyFactory("test:"), 0, clock), clock
}

func TestStoreProvider_DecideAndGrant(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, _ := newTestProvider(t)
	sess := &session.AuthSession{Subject: "u1", SessionID: "s1"}

	req := Request{
		ClientID:  "c1",
		Scopes:    []string{"openid", "profile"},
		Resources: []string{"https://api.example.com"},
	}

	// Nothing granted yet: everything is pending.
	d, err := p.Decide(ctx, req, sess)
	require.NoError(t, err)
	assert.True(t, d.NeedsConsent())
	assert.Empty(t, d.GrantedScopes)
	assert.Equal(t, []string{"openid", "profile"}, d.PendingScopes)
	assert.Equal(t, []string{"https://api.example.com"}, d.PendingResources)

	// Partial grant leaves the remainder pending.
	require.NoError(t, p.Grant(ctx, "u1", "c1", []string{"openid"}, nil))
	d, err = p.Decide(ctx, req, sess)
	require.NoError(t, err)
	assert.True(t, d.NeedsConsent())
	assert.Equal(t, []string{"openid"}, d.GrantedScopes)
	assert.Equal(t, []string{"profile"}, d.PendingScopes)

	// Full grant clears pending.
	require.NoError(t, p.Grant(ctx, "u1", "c1", []string{"profile"}, []string{"https://api.example.com"}))
	d, err = p.Decide(ctx, req, sess)
	require.NoError(t, err)
	assert.False(t, d.NeedsConsent())
	assert.Equal(t, []string{"openid", "profile"}, d.GrantedScopes)
	assert.Equal(t, []string{"https://api.example.com"}, d.GrantedResources)
}

func TestStoreProvider_GrantsAreScopedPerClientAndSubject(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, _ := newTestProvider(t)

	require.NoError(t, p.Grant(ctx, "u1", "c1", []string{"openid"}, nil))

	req := Request{ClientID: "c1", Scopes: []string{"openid"}}

	d, err := p.Decide(ctx, req, &session.AuthSession{Subject: "u2"})
	require.NoError(t, err)
	assert.True(t, d.NeedsConsent())

	other := Request{ClientID: "c2", Scopes: []string{"openid"}}
	d, err = p.Decide(ctx, other, &session.AuthSession{Subject: "u1"})
	require.NoError(t, err)
	assert.True(t, d.NeedsConsent())
}

func TestStoreProvider_Revoke(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, _ := newTestProvider(t)
	sess := &session.AuthSession{Subject: "u1"}

	require.NoError(t, p.Grant(ctx, "u1", "c1", []string{"openid"}, nil))
	require.NoError(t, p.Revoke(ctx, "u1", "c1"))

	d, err := p.Decide(ctx, Request{ClientID: "c1", Scopes: []string{"openid"}}, sess)
	require.NoError(t, err)
	assert.True(t, d.NeedsConsent())
}

func TestStoreProvider_GrantStampsInjectedClock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, clock := newTestProvider(t)

	require.NoError(t, p.Grant(ctx, "u1", "c1", []string{"openid"}, nil))
	grant, err := p.load(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().UTC(), grant.UpdatedAt)

	clock.Advance(time.Hour)
	require.NoError(t, p.Grant(ctx, "u1", "c1", []string{"profile"}, nil))
	grant, err = p.load(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().UTC(), grant.UpdatedAt, "re-grant moves the stamp with the clock")
}

func TestAutoGrantProvider(t *testing.T) {
	t.Parallel()

	d, err := AutoGrantProvider{}.Decide(context.Background(),
		Request{ClientID: "c1", Scopes: []string{"openid"}}, &session.AuthSession{Subject: "u1"})
	require.NoError(t, err)
	assert.False(t, d.NeedsConsent())
	assert.Equal(t, []string{"openid"}, d.GrantedScopes)
}
