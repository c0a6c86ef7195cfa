// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package logout

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/authserver/keys"
	"github.com/openauthd/openauthd/pkg/authserver/session"
	"github.com/openauthd/openauthd/pkg/authserver/storage"
	"github.com/openauthd/openauthd/pkg/authserver/token"
	"github.com/openauthd/openauthd/pkg/oauth"
)

const testIssuer = "https://op.example.com"

func webGrantTypes() []oauth.GrantType {
	return []oauth.GrantType{oauth.GrantTypeAuthorizationCode}
}

type stubClients map[string]*client.Client

func (s stubClients) GetClient(_ context.Context, id string) (*client.Client, error) {
	c, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("client %s: %w", id, client.ErrNotFound)
	}
	return c, nil
}

type logoutFixture struct {
	orch     *Orchestrator
	sessions *session.Store
	clock    *clockwork.FakeClock
}

func newLogoutFixture(t *testing.T, clients stubClients) *logoutFixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Unix(1756000000, 0))
	kv := storage.NewMemoryStore(storage.WithClock(clock))
	t.Cleanup(func() {
		require.NoError(t, kv.Close())
	})

	kf := storage.NewKeyFactory("test:")
	key, err := keys.Generate("ES256")
	require.NoError(t, err)

	minter := token.NewMinter(token.MinterConfig{Issuer: testIssuer, PairwiseSalt: "salt"},
		keys.NewJoseSigner(key), token.NewRegistry(kv, kf, clock), nil, clock)
	sessions := session.NewStore(kv, kf, time.Hour)
	orch := NewOrchestrator(clients, sessions, minter, testIssuer)
	return &logoutFixture{orch: orch, sessions: sessions, clock: clock}
}

func loggedInSession(t *testing.T, f *logoutFixture, clientIDs ...string) *session.AuthSession {
	t.Helper()

	sess := &session.AuthSession{
		Subject:           "u1",
		SessionID:         "s1",
		AuthenticatedAt:   f.clock.Now().UTC(),
		AffectedClientIDs: clientIDs,
	}
	require.NoError(t, f.sessions.Save(context.Background(), sess))
	return sess
}

// decodeJWTPayload extracts the claims of a compact JWT without verifying
// the signature; the minter's own tests cover signing.
func decodeJWTPayload(t *testing.T, jwt string) map[string]any {
	t.Helper()

	parts := strings.Split(jwt, ".")
	require.Len(t, parts, 3)
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	var claims map[string]any
	require.NoError(t, json.Unmarshal(payload, &claims))
	return claims
}

func TestLogout_BackChannel(t *testing.T) {
	t.Parallel()

	var gotBody, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = string(body)
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	clients := stubClients{"c1": {
		ID:                               "c1",
		GrantTypes:                       webGrantTypes(),
		BackChannelLogoutURI:             srv.URL,
		BackChannelLogoutSessionRequired: true,
	}}
	f := newLogoutFixture(t, clients)
	sess := loggedInSession(t, f, "c1")

	res, err := f.orch.Logout(context.Background(), sess)
	require.NoError(t, err)
	assert.Empty(t, res.BackChannelErrors)
	assert.Empty(t, res.FrameSources)

	// The session is gone before any notification went out.
	_, err = f.sessions.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, session.ErrNotFound)

	assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)
	form, err := url.ParseQuery(gotBody)
	require.NoError(t, err)
	logoutToken := form.Get("logout_token")
	require.NotEmpty(t, logoutToken)

	claims := decodeJWTPayload(t, logoutToken)
	assert.Equal(t, testIssuer, claims["iss"])
	assert.Equal(t, "c1", claims["aud"])
	assert.Equal(t, "u1", claims["sub"])
	assert.Equal(t, "s1", claims["sid"])
	assert.NotEmpty(t, claims["jti"])
	events, ok := claims["events"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, events, token.BackchannelLogoutEvent)
}

func TestLogout_BackChannelTransportErrorDoesNotStopFanOut(t *testing.T) {
	t.Parallel()

	var notified bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		notified = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	clients := stubClients{
		"dead": {ID: "dead", GrantTypes: webGrantTypes(), BackChannelLogoutURI: "http://127.0.0.1:1"},
		"live": {ID: "live", GrantTypes: webGrantTypes(), BackChannelLogoutURI: srv.URL},
	}
	f := newLogoutFixture(t, clients)
	sess := loggedInSession(t, f, "dead", "live")

	res, err := f.orch.Logout(context.Background(), sess)
	require.NoError(t, err)
	assert.Len(t, res.BackChannelErrors, 1)
	assert.True(t, notified, "healthy client must still be notified")
}

func TestLogout_BackChannelNon2xxIsWarnedNotFailed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	clients := stubClients{"c1": {ID: "c1", GrantTypes: webGrantTypes(), BackChannelLogoutURI: srv.URL}}
	f := newLogoutFixture(t, clients)
	sess := loggedInSession(t, f, "c1")

	res, err := f.orch.Logout(context.Background(), sess)
	require.NoError(t, err)
	assert.Empty(t, res.BackChannelErrors)
}

func TestLogout_FrontChannel(t *testing.T) {
	t.Parallel()

	clients := stubClients{
		"plain": {
			ID:                    "plain",
			GrantTypes:            webGrantTypes(),
			FrontChannelLogoutURI: "https://plain.example.com/fcl",
		},
		"sid": {
			ID:                                "sid",
			GrantTypes:                        webGrantTypes(),
			FrontChannelLogoutURI:             "https://sid.example.com/fcl",
			FrontChannelLogoutSessionRequired: true,
		},
	}
	f := newLogoutFixture(t, clients)
	sess := loggedInSession(t, f, "plain", "sid")

	res, err := f.orch.Logout(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, res.FrameSources, 2)
	assert.Equal(t, "https://plain.example.com/fcl", res.FrameSources[0])

	u, err := url.Parse(res.FrameSources[1])
	require.NoError(t, err)
	assert.Equal(t, testIssuer, u.Query().Get("iss"))
	assert.Equal(t, "s1", u.Query().Get("sid"))
}

func TestLogout_FrontChannelSessionRequiredWithoutSID(t *testing.T) {
	t.Parallel()

	clients := stubClients{"sid": {
		ID:                                "sid",
		GrantTypes:                        webGrantTypes(),
		FrontChannelLogoutURI:             "https://sid.example.com/fcl",
		FrontChannelLogoutSessionRequired: true,
	}}
	f := newLogoutFixture(t, clients)
	sess := &session.AuthSession{Subject: "u1", AffectedClientIDs: []string{"sid"}}

	_, err := f.orch.Logout(context.Background(), sess)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sid")
}

func TestLogout_SkipsDeregisteredClients(t *testing.T) {
	t.Parallel()

	f := newLogoutFixture(t, stubClients{})
	sess := loggedInSession(t, f, "gone")

	res, err := f.orch.Logout(context.Background(), sess)
	require.NoError(t, err)
	assert.Empty(t, res.FrameSources)
	assert.Empty(t, res.BackChannelErrors)
}
