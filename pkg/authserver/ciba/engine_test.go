// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package ciba

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/authserver/session"
	"github.com/openauthd/openauthd/pkg/authserver/storage"
	"github.com/openauthd/openauthd/pkg/authserver/token"
	"github.com/openauthd/openauthd/pkg/oauth"
)

type stubClients map[string]*client.Client

func (s stubClients) GetClient(_ context.Context, id string) (*client.Client, error) {
	c, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("client %s: %w", id, storage.ErrNotFound)
	}
	return c, nil
}

type stubIssuer struct {
	resp *oauth.TokenResponse
	err  error
}

func (s *stubIssuer) IssueForGrant(context.Context, *client.Client, *token.AuthorizedGrant) (*oauth.TokenResponse, error) {
	return s.resp, s.err
}

type cibaFixture struct {
	engine  *Engine
	clients stubClients
	clock   *clockwork.FakeClock
}

func newCIBAFixture(t *testing.T, clients stubClients, issuer TokenIssuer, opts ...EngineOption) *cibaFixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Unix(1756000000, 0))
	kv := storage.NewMemoryStore(storage.WithClock(clock))
	t.Cleanup(func() {
		require.NoError(t, kv.Close())
	})

	engine := NewEngine(kv, storage.NewKeyFactory("test:"), clients, issuer, clock, opts...)
	return &cibaFixture{engine: engine, clients: clients, clock: clock}
}

func cibaClient(mode oauth.CIBADeliveryMode, endpoint string) *client.Client {
	return &client.Client{
		ID:                       "c1",
		GrantTypes:               []oauth.GrantType{oauth.GrantTypeCIBA},
		Scopes:                   []string{"openid"},
		CIBADeliveryMode:         mode,
		CIBANotificationEndpoint: endpoint,
	}
}

func userSession() *session.AuthSession {
	return &session.AuthSession{
		Subject:         "u1",
		SessionID:       "s1",
		AuthenticatedAt: time.Unix(1756000000, 0).UTC(),
	}
}

func TestInitiate_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := cibaClient(oauth.CIBADeliveryPing, "https://c/ciba")
	f := newCIBAFixture(t, stubClients{"c1": c}, nil)

	t.Run("grant type not registered", func(t *testing.T) {
		bare := &client.Client{ID: "c2"}
		_, err := f.engine.Initiate(ctx, bare, InitiateRequest{})
		assert.ErrorIs(t, err, oauth.ErrUnauthorizedClient)
	})

	t.Run("scope not allowed", func(t *testing.T) {
		_, err := f.engine.Initiate(ctx, c, InitiateRequest{
			Scopes:                  []string{"admin"},
			ClientNotificationToken: "nt",
		})
		assert.ErrorIs(t, err, oauth.ErrInvalidScope)
	})

	t.Run("ping requires notification token", func(t *testing.T) {
		_, err := f.engine.Initiate(ctx, c, InitiateRequest{Scopes: []string{"openid"}})
		assert.ErrorIs(t, err, oauth.ErrInvalidRequest)
	})

	t.Run("success", func(t *testing.T) {
		resp, err := f.engine.Initiate(ctx, c, InitiateRequest{
			Scopes:                  []string{"openid"},
			ClientNotificationToken: "nt",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.AuthReqID)
		assert.Equal(t, int64(DefaultLifetime.Seconds()), resp.ExpiresIn)
		assert.Equal(t, int64(DefaultPollInterval.Seconds()), resp.Interval)
	})
}

func TestPollLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := cibaClient(oauth.CIBADeliveryPoll, "")
	f := newCIBAFixture(t, stubClients{"c1": c}, nil)

	resp, err := f.engine.Initiate(ctx, c, InitiateRequest{Scopes: []string{"openid"}})
	require.NoError(t, err)
	id := resp.AuthReqID

	// First poll: pending. Immediate second poll: slow_down. After the
	// interval from the first accepted poll: pending again.
	_, err = f.engine.Redeem(ctx, c, id)
	assert.ErrorIs(t, err, oauth.ErrAuthorizationPending)

	_, err = f.engine.Redeem(ctx, c, id)
	assert.ErrorIs(t, err, oauth.ErrSlowDown)

	f.clock.Advance(6 * time.Second)
	_, err = f.engine.Redeem(ctx, c, id)
	assert.ErrorIs(t, err, oauth.ErrAuthorizationPending)

	require.NoError(t, f.engine.Approve(ctx, id, userSession()))

	f.clock.Advance(6 * time.Second)
	grant, err := f.engine.Redeem(ctx, c, id)
	require.NoError(t, err)
	assert.Equal(t, "u1", grant.Session.Subject)
	assert.Equal(t, []string{"openid"}, grant.Context.Scopes)

	// The successful redemption consumed the record.
	_, err = f.engine.Redeem(ctx, c, id)
	assert.ErrorIs(t, err, oauth.ErrInvalidGrant)
}

func TestDeny(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := cibaClient(oauth.CIBADeliveryPoll, "")
	f := newCIBAFixture(t, stubClients{"c1": c}, nil)

	resp, err := f.engine.Initiate(ctx, c, InitiateRequest{Scopes: []string{"openid"}})
	require.NoError(t, err)

	require.NoError(t, f.engine.Deny(ctx, resp.AuthReqID))

	_, err = f.engine.Redeem(ctx, c, resp.AuthReqID)
	assert.ErrorIs(t, err, oauth.ErrAccessDenied)
}

func TestRedeem_ExpiredRecordIsGone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := cibaClient(oauth.CIBADeliveryPoll, "")
	f := newCIBAFixture(t, stubClients{"c1": c}, nil, WithLifetime(time.Minute))

	resp, err := f.engine.Initiate(ctx, c, InitiateRequest{Scopes: []string{"openid"}})
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)

	_, err = f.engine.Redeem(ctx, c, resp.AuthReqID)
	assert.ErrorIs(t, err, oauth.ErrInvalidGrant)
}

func TestRedeem_WrongClientKeepsRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := cibaClient(oauth.CIBADeliveryPoll, "")
	f := newCIBAFixture(t, stubClients{"c1": c}, nil)

	resp, err := f.engine.Initiate(ctx, c, InitiateRequest{Scopes: []string{"openid"}})
	require.NoError(t, err)

	other := cibaClient(oauth.CIBADeliveryPoll, "")
	other.ID = "c2"
	_, err = f.engine.Redeem(ctx, other, resp.AuthReqID)
	assert.ErrorIs(t, err, oauth.ErrInvalidGrant)

	// The rightful owner can still poll.
	_, err = f.engine.Redeem(ctx, c, resp.AuthReqID)
	assert.ErrorIs(t, err, oauth.ErrAuthorizationPending)
}

func TestApprove_PingNotifiesAfterStorage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	var (
		f      *cibaFixture
		id     string
		pings  atomic.Int32
		gotErr error
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pings.Add(1)

		assert.Equal(t, "Bearer nt-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		var payload map[string]string
		assert.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, id, payload["authenticationRequestId"])

		// The storage transition must be visible before the ping.
		rec, err := f.engine.load(r.Context(), id)
		if err != nil {
			gotErr = err
			return
		}
		assert.Equal(t, StatusAuthenticated, rec.Status)

		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	c := cibaClient(oauth.CIBADeliveryPing, srv.URL)
	f = newCIBAFixture(t, stubClients{"c1": c}, nil)

	resp, err := f.engine.Initiate(ctx, c, InitiateRequest{
		Scopes:                  []string{"openid"},
		ClientNotificationToken: "nt-1",
	})
	require.NoError(t, err)
	id = resp.AuthReqID

	require.NoError(t, f.engine.Approve(ctx, id, userSession()))
	require.NoError(t, gotErr)
	assert.Equal(t, int32(1), pings.Load())

	// The record survives the ping for the client's follow-up poll.
	grant, err := f.engine.Redeem(ctx, c, id)
	require.NoError(t, err)
	assert.Equal(t, "u1", grant.Session.Subject)
}

func TestApprove_PingFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := cibaClient(oauth.CIBADeliveryPing, srv.URL)
	f := newCIBAFixture(t, stubClients{"c1": c}, nil)

	resp, err := f.engine.Initiate(ctx, c, InitiateRequest{
		Scopes:                  []string{"openid"},
		ClientNotificationToken: "nt-1",
	})
	require.NoError(t, err)

	// A 500 from the notification endpoint must not fail the approval.
	require.NoError(t, f.engine.Approve(ctx, resp.AuthReqID, userSession()))

	grant, err := f.engine.Redeem(ctx, c, resp.AuthReqID)
	require.NoError(t, err)
	assert.NotNil(t, grant)
}

func TestApprove_PushDeliversBundleAndConsumesRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	var received atomic.Pointer[map[string]any]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer nt-1", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		assert.NoError(t, json.Unmarshal(body, &payload))
		received.Store(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := cibaClient(oauth.CIBADeliveryPush, srv.URL)
	issuer := &stubIssuer{resp: &oauth.TokenResponse{
		AccessToken: "AT-1",
		TokenType:   oauth.TokenTypeBearer,
		ExpiresIn:   3600,
	}}
	f := newCIBAFixture(t, stubClients{"c1": c}, issuer)

	resp, err := f.engine.Initiate(ctx, c, InitiateRequest{
		Scopes:                  []string{"openid"},
		ClientNotificationToken: "nt-1",
	})
	require.NoError(t, err)

	require.NoError(t, f.engine.Approve(ctx, resp.AuthReqID, userSession()))

	payload := received.Load()
	require.NotNil(t, payload)
	assert.Equal(t, resp.AuthReqID, (*payload)["auth_req_id"])
	assert.Equal(t, "AT-1", (*payload)["access_token"])

	// Push is terminal; there is nothing left to poll.
	_, err = f.engine.Redeem(ctx, c, resp.AuthReqID)
	assert.ErrorIs(t, err, oauth.ErrInvalidGrant)
}

func TestApprove_PushWithoutEndpointDenies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := cibaClient(oauth.CIBADeliveryPush, "")
	f := newCIBAFixture(t, stubClients{"c1": c}, &stubIssuer{resp: &oauth.TokenResponse{}})

	resp, err := f.engine.Initiate(ctx, c, InitiateRequest{
		Scopes:                  []string{"openid"},
		ClientNotificationToken: "nt-1",
	})
	require.NoError(t, err)

	require.NoError(t, f.engine.Approve(ctx, resp.AuthReqID, userSession()))

	_, err = f.engine.Redeem(ctx, c, resp.AuthReqID)
	assert.ErrorIs(t, err, oauth.ErrAccessDenied)
}

func TestApprove_PushMintFailureDenies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no delivery expected when minting fails")
	}))
	t.Cleanup(srv.Close)

	c := cibaClient(oauth.CIBADeliveryPush, srv.URL)
	f := newCIBAFixture(t, stubClients{"c1": c}, &stubIssuer{err: oauth.ErrServerError})

	resp, err := f.engine.Initiate(ctx, c, InitiateRequest{
		Scopes:                  []string{"openid"},
		ClientNotificationToken: "nt-1",
	})
	require.NoError(t, err)

	require.NoError(t, f.engine.Approve(ctx, resp.AuthReqID, userSession()))

	_, err = f.engine.Redeem(ctx, c, resp.AuthReqID)
	assert.ErrorIs(t, err, oauth.ErrAccessDenied)
}
