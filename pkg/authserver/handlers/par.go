// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/authserver/storage"
	"github.com/openauthd/openauthd/pkg/authserver/token"
	"github.com/openauthd/openauthd/pkg/logger"
	"github.com/openauthd/openauthd/pkg/oauth"
)

// RequestURIPrefix is the urn scheme for pushed authorization requests
// (RFC 9126 Section 2.2).
const RequestURIPrefix = "urn:ietf:params:oauth:request_uri:"

// DefaultPARLifetime bounds how long a pushed request stays redeemable.
const DefaultPARLifetime = 90 * time.Second

type parRecord struct {
	ClientID string `json:"client_id"`
	Form     string `json:"form"`
}

// PARStore persists pushed authorization requests until the client comes
// back through the front channel with the request_uri.
type PARStore struct {
	kv       storage.Store
	keys     storage.KeyFactory
	clock    clockwork.Clock
	lifetime time.Duration
}

// NewPARStore creates the pushed-request store.
func NewPARStore(kv storage.Store, keys storage.KeyFactory, clock clockwork.Clock) *PARStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PARStore{kv: kv, keys: keys, clock: clock, lifetime: DefaultPARLifetime}
}

// Push stores the authorization parameters and returns the one-time
// request_uri referencing them.
func (s *PARStore) Push(ctx context.Context, clientID string, form url.Values) (*oauth.PushedAuthorizationResponse, error) {
	id, err := token.NewOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("par: generate request id: %w", err)
	}

	data, err := json.Marshal(parRecord{ClientID: clientID, Form: form.Encode()})
	if err != nil {
		return nil, fmt.Errorf("par: marshal request: %w", err)
	}
	if err := s.kv.Set(ctx, s.keys.PushedRequest(id), data, s.lifetime); err != nil {
		return nil, fmt.Errorf("par: store request: %w", err)
	}

	return &oauth.PushedAuthorizationResponse{
		RequestURI: RequestURIPrefix + id,
		ExpiresIn:  int64(s.lifetime.Seconds()),
	}, nil
}

// Resolve redeems a request_uri. Redemption is single-use and bound to the
// client that pushed the request.
func (s *PARStore) Resolve(ctx context.Context, clientID, requestURI string) (url.Values, error) {
	id, ok := strings.CutPrefix(requestURI, RequestURIPrefix)
	if !ok {
		return nil, oauth.ErrInvalidRequest.WithDescription("The request_uri is not a pushed authorization request")
	}

	data, err := s.kv.GetDel(ctx, s.keys.PushedRequest(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, oauth.ErrInvalidRequest.WithDescription("The request_uri is unknown or has expired")
	}
	if err != nil {
		return nil, fmt.Errorf("par: load request: %w", err)
	}

	var rec parRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("par: unmarshal request: %w", err)
	}
	if rec.ClientID != clientID {
		return nil, oauth.ErrInvalidRequest.WithDescription("The request_uri was pushed by another client")
	}
	return url.ParseQuery(rec.Form)
}

// PARHandler serves the pushed authorization request endpoint (RFC 9126).
type PARHandler struct {
	clients client.Provider
	store   *PARStore
}

// NewPARHandler creates the PAR endpoint handler.
func NewPARHandler(clients client.Provider, store *PARStore) *PARHandler {
	return &PARHandler{clients: clients, store: store}
}

func (h *PARHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, oauth.ErrInvalidRequest.WithDescription("Malformed form body"))
		return
	}

	c, err := authenticateClient(r, h.clients)
	if err != nil {
		writeError(w, err)
		return
	}

	// A pushed request cannot itself be by reference.
	if r.PostFormValue("request_uri") != "" {
		writeError(w, oauth.ErrInvalidRequest.WithDescription("The request_uri parameter is not allowed here"))
		return
	}
	if got := r.PostFormValue("client_id"); got != "" && got != c.ID {
		writeError(w, oauth.ErrInvalidRequest.WithDescription("The client_id does not match the authenticated client"))
		return
	}

	form := url.Values{}
	for name, values := range r.PostForm {
		if name == "client_secret" {
			continue
		}
		form[name] = values
	}
	form.Set("client_id", c.ID)

	resp, err := h.store.Push(r.Context(), c.ID, form)
	if err != nil {
		logger.Errorw("pushed authorization request storage failed", "client_id", c.ID, "error", err)
		writeError(w, oauth.ErrServerError.WithDescription("Request storage failed"))
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}
