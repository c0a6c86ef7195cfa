// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openauthd/openauthd/pkg/authserver/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	kv := storage.NewMemoryStore()
	t.Cleanup(func() {
		require.NoError(t, kv.Close())
	})
	return NewStore(kv, storage.NewKeyFactory("test:"), time.Hour)
}

func TestStore_SaveGetDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	sess := &AuthSession{
		Subject:         "u1",
		SessionID:       "s1",
		AuthenticatedAt: time.Now().UTC().Truncate(time.Second),
		ACR:             "urn:mace:incommon:iap:silver",
	}
	require.NoError(t, s.Save(ctx, sess))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sess, got)

	require.NoError(t, s.Delete(ctx, "s1"))
	_, err = s.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListSkipsMissing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Save(ctx, &AuthSession{Subject: "u1", SessionID: "s1", AuthenticatedAt: time.Now()}))
	require.NoError(t, s.Save(ctx, &AuthSession{Subject: "u2", SessionID: "s2", AuthenticatedAt: time.Now()}))

	sessions, err := s.List(ctx, []string{"s1", "gone", "s2"})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "u1", sessions[0].Subject)
	assert.Equal(t, "u2", sessions[1].Subject)
}

func TestAuthSession_TouchClient(t *testing.T) {
	t.Parallel()

	sess := &AuthSession{Subject: "u1", SessionID: "s1"}

	assert.True(t, sess.TouchClient("c1"))
	assert.True(t, sess.TouchClient("c2"))
	assert.False(t, sess.TouchClient("c1"))
	assert.Equal(t, []string{"c1", "c2"}, sess.AffectedClientIDs)
}

func TestFilterByMaxAge(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	fresh := &AuthSession{SessionID: "fresh", AuthenticatedAt: now.Add(-30 * time.Second)}
	stale := &AuthSession{SessionID: "stale", AuthenticatedAt: now.Add(-10 * time.Minute)}
	sessions := []*AuthSession{fresh, stale}

	maxAge := int64(60)
	got := FilterByMaxAge(sessions, &maxAge, now)
	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].SessionID)

	// nil disables the filter.
	assert.Len(t, FilterByMaxAge(sessions, nil, now), 2)

	// Boundary: exactly max_age old survives.
	boundary := int64(600)
	assert.Len(t, FilterByMaxAge(sessions, &boundary, now), 2)
}

func TestFilterByACR(t *testing.T) {
	t.Parallel()

	silver := &AuthSession{SessionID: "a", ACR: "silver"}
	gold := &AuthSession{SessionID: "b", ACR: "gold"}
	unset := &AuthSession{SessionID: "c"}
	sessions := []*AuthSession{silver, gold, unset}

	got := FilterByACR(sessions, []string{"gold"})
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].SessionID)

	got = FilterByACR(sessions, []string{"silver", "gold"})
	assert.Len(t, got, 2)

	// Empty request set disables the filter.
	assert.Len(t, FilterByACR(sessions, nil), 3)
}
