// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

// Package consent decides which requested scopes and resources still need
// user approval before an authorization can complete.
package consent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/openauthd/openauthd/pkg/authserver/session"
	"github.com/openauthd/openauthd/pkg/authserver/storage"
)

// Request describes what the client is asking for.
type Request struct {
	ClientID  string
	Scopes    []string
	Resources []string
}

// Decision partitions the request into what the user already granted and
// what still needs approval.
type Decision struct {
	GrantedScopes    []string
	GrantedResources []string
	PendingScopes    []string
	PendingResources []string
}

// NeedsConsent reports whether anything is still pending.
func (d *Decision) NeedsConsent() bool {
	return len(d.PendingScopes) > 0 || len(d.PendingResources) > 0
}

// Provider decides consent for an authorization request against a session.
type Provider interface {
	Decide(ctx context.Context, req Request, sess *session.AuthSession) (*Decision, error)
}

// storedGrant is the persisted consent record per (subject, client).
type storedGrant struct {
	Scopes    []string  `json:"scopes,omitempty"`
	Resources []string  `json:"resources,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StoreProvider persists user consent in the key-value backend. Anything the
// user approved once stays granted until revoked or the record expires.
type StoreProvider struct {
	kv    storage.Store
	keys  storage.KeyFactory
	ttl   time.Duration
	clock clockwork.Clock
}

// NewStoreProvider creates a store-backed consent provider. A zero ttl keeps
// grants until explicitly revoked.
func NewStoreProvider(kv storage.Store, keys storage.KeyFactory, ttl time.Duration, clock clockwork.Clock) *StoreProvider {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &StoreProvider{kv: kv, keys: keys, ttl: ttl, clock: clock}
}

// Decide splits the request into granted and pending sets.
func (p *StoreProvider) Decide(ctx context.Context, req Request, sess *session.AuthSession) (*Decision, error) {
	grant, err := p.load(ctx, sess.Subject, req.ClientID)
	if err != nil {
		return nil, err
	}

	d := &Decision{}
	for _, s := range req.Scopes {
		if slices.Contains(grant.Scopes, s) {
			d.GrantedScopes = append(d.GrantedScopes, s)
		} else {
			d.PendingScopes = append(d.PendingScopes, s)
		}
	}
	for _, r := range req.Resources {
		if slices.Contains(grant.Resources, r) {
			d.GrantedResources = append(d.GrantedResources, r)
		} else {
			d.PendingResources = append(d.PendingResources, r)
		}
	}
	return d, nil
}

// Grant records user approval for the given scopes and resources, merging
// with any previous grant.
func (p *StoreProvider) Grant(ctx context.Context, subject, clientID string, scopes, resources []string) error {
	grant, err := p.load(ctx, subject, clientID)
	if err != nil {
		return err
	}

	for _, s := range scopes {
		if !slices.Contains(grant.Scopes, s) {
			grant.Scopes = append(grant.Scopes, s)
		}
	}
	for _, r := range resources {
		if !slices.Contains(grant.Resources, r) {
			grant.Resources = append(grant.Resources, r)
		}
	}
	grant.UpdatedAt = p.clock.Now().UTC()

	data, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("consent: marshal: %w", err)
	}
	if err := p.kv.Set(ctx, p.keys.Consent(subject, clientID), data, p.ttl); err != nil {
		return fmt.Errorf("consent: store: %w", err)
	}
	return nil
}

// Revoke removes all consent the subject gave the client.
func (p *StoreProvider) Revoke(ctx context.Context, subject, clientID string) error {
	if err := p.kv.Remove(ctx, p.keys.Consent(subject, clientID)); err != nil {
		return fmt.Errorf("consent: revoke: %w", err)
	}
	return nil
}

func (p *StoreProvider) load(ctx context.Context, subject, clientID string) (*storedGrant, error) {
	data, err := p.kv.Get(ctx, p.keys.Consent(subject, clientID))
	if errors.Is(err, storage.ErrNotFound) {
		return &storedGrant{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consent: load: %w", err)
	}

	var grant storedGrant
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, fmt.Errorf("consent: unmarshal: %w", err)
	}
	return &grant, nil
}

// AutoGrantProvider approves everything. For first-party deployments where
// consent screens are not wanted, and for tests.
type AutoGrantProvider struct{}

// Decide grants the full request.
func (AutoGrantProvider) Decide(_ context.Context, req Request, _ *session.AuthSession) (*Decision, error) {
	return &Decision{
		GrantedScopes:    req.Scopes,
		GrantedResources: req.Resources,
	}, nil
}

// Compile-time interface compliance checks.
var (
	_ Provider = (*StoreProvider)(nil)
	_ Provider = AutoGrantProvider{}
)
