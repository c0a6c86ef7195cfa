// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package token

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

func testGrant() *AuthorizedGrant {
	return &AuthorizedGrant{
		Session: &session.AuthSession{
			Subject:         "u1",
			SessionID:       "s1",
			AuthenticatedAt: time.Unix(1756000000, 0).UTC(),
		},
		Context: &AuthorizationContext{
			ClientID:    "c1",
			Scopes:      []string{"openid", "profile"},
			RedirectURI: "https://rp.example.com/cb",
			Nonce:       "n-0S6_WzA2Mj",
		},
	}
}

func newTestCodeStore(t *testing.T, clock clockwork.Clock) *CodeStore {
	t.Helper()

	kv := storage.NewMemoryStore(storage.WithClock(clock))
	t.Cleanup(func() {
		require.NoError(t, kv.Close())
	})
	return NewCodeStore(kv, storage.NewKeyFactory("test:"), clock)
}

func TestCodeStore_IssueAndRedeem(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestCodeStore(t, clockwork.NewFakeClock())

	code, err := s.Issue(ctx, testGrant(), time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, code)

	grant, err := s.Redeem(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "u1", grant.Session.Subject)
	assert.Equal(t, "c1", grant.Context.ClientID)
	assert.Equal(t, "n-0S6_WzA2Mj", grant.Context.Nonce)
}

func TestCodeStore_RedeemIsSingleUse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestCodeStore(t, clockwork.NewFakeClock())

	code, err := s.Issue(ctx, testGrant(), time.Minute)
	require.NoError(t, err)

	_, err = s.Redeem(ctx, code)
	require.NoError(t, err)

	_, err = s.Redeem(ctx, code)
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestCodeStore_ExpiredCode(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	s := newTestCodeStore(t, clock)

	code, err := s.Issue(ctx, testGrant(), time.Minute)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	_, err = s.Redeem(ctx, code)
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestCodeStore_UnknownCode(t *testing.T) {
	t.Parallel()

	s := newTestCodeStore(t, clockwork.NewFakeClock())

	_, err := s.Redeem(context.Background(), "made-up")
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestNewOpaqueToken_Uniqueness(t *testing.T) {
	t.Parallel()

	a, err := NewOpaqueToken()
	require.NoError(t, err)
	b, err := NewOpaqueToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43) // 32 bytes, base64url without padding
}
