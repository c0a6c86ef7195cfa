// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/oauth"
)

func clientRegistration(id string) client.Client {
	return client.Client{
		ID:            id,
		GrantTypes:    []oauth.GrantType{oauth.GrantTypeAuthorizationCode},
		ResponseTypes: []oauth.ResponseType{oauth.ResponseTypeCode},
		RedirectURIs:  []string{"https://web.example.com/cb"},
		Scopes:        []string{"openid"},
	}
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "openauthd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	t.Run("defaults applied", func(t *testing.T) {
		t.Parallel()
		path := writeConfigFile(t, `
issuer: https://op.example.com
pairwise_salt: salty
`)
		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, ":8080", cfg.ListenAddr)
		assert.Equal(t, "RS256", cfg.SigningAlgorithm)
		assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
		assert.Equal(t, "openauthd_session", cfg.SessionCookieName)
		assert.Equal(t, "https://op.example.com/device", cfg.DeviceVerificationURI)
		assert.Contains(t, cfg.ScopesSupported, "openid")
	})

	t.Run("clients and rate limit", func(t *testing.T) {
		t.Parallel()
		path := writeConfigFile(t, `
issuer: https://op.example.com
pairwise_salt: salty
rate_limit:
  max_failures_before_backoff: 5
  window: 2m
clients:
  - client_id: web
    secret: hunter2
    grant_types: [authorization_code]
    redirect_uris: [https://web.example.com/cb]
`)
		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		require.Len(t, cfg.Clients, 1)
		assert.Equal(t, "web", cfg.Clients[0].ID)
		assert.Equal(t, "hunter2", cfg.Clients[0].Secret)
		assert.Equal(t, []oauth.GrantType{oauth.GrantTypeAuthorizationCode}, cfg.Clients[0].GrantTypes)

		lc := cfg.limiterConfig()
		assert.Equal(t, 5, lc.MaxFailuresBeforeBackoff)
		assert.Equal(t, 2*time.Minute, lc.Window)
	})

	t.Run("missing issuer", func(t *testing.T) {
		t.Parallel()
		path := writeConfigFile(t, `pairwise_salt: salty`)
		_, err := LoadConfig(path)
		assert.ErrorContains(t, err, "issuer")
	})

	t.Run("missing pairwise salt", func(t *testing.T) {
		t.Parallel()
		path := writeConfigFile(t, `issuer: https://op.example.com`)
		_, err := LoadConfig(path)
		assert.ErrorContains(t, err, "pairwise_salt")
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestNew_ComposesWorkingServer(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Issuer:           "https://op.example.com",
		SigningAlgorithm: "ES256",
		PairwiseSalt:     "salty",
		Clients: []ClientConfig{{
			Client: clientRegistration("web"),
			Secret: "hunter2",
		}},
	}
	require.NoError(t, cfg.validate())

	srv, err := New(context.Background(), cfg,
		WithClock(clockwork.NewFakeClockAt(time.Unix(1756000000, 0))))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, srv.Close())
	})

	require.NotNil(t, srv.Sessions)
	require.NotNil(t, srv.CIBA)
	require.NotNil(t, srv.Device)
	require.NotNil(t, srv.Logout)

	// The composed handler serves discovery out of the box.
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var doc oauth.OIDCDiscoveryDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "https://op.example.com", doc.Issuer)
	assert.Equal(t, []string{"ES256"}, doc.IDTokenSigningAlgValuesSupported)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestNew_RejectsInvalidClientRegistration(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Issuer:           "https://op.example.com",
		SigningAlgorithm: "ES256",
		PairwiseSalt:     "salty",
		Clients:          []ClientConfig{{Client: clientRegistration("")}},
	}

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
